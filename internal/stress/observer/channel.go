package observer

import (
	"sync"
	"sync/atomic"

	"stressjudge/internal/stress/sandbox/result"
)

// EventType names a progress event.
type EventType string

const (
	EventTestStarted       EventType = "test_started"
	EventTestCompleted     EventType = "test_completed"
	EventAllTestsCompleted EventType = "all_tests_completed"
	EventWorkerBusy        EventType = "worker_busy"
	EventWorkerIdle        EventType = "worker_idle"
)

// Event is the serializable form of one observer callback.
type Event struct {
	Type      EventType              `json:"type"`
	RunID     string                 `json:"runId,omitempty"`
	Current   int                    `json:"current,omitempty"`
	Total     int                    `json:"total,omitempty"`
	Result    *result.TestCaseResult `json:"result,omitempty"`
	AllPassed *bool                  `json:"allPassed,omitempty"`
	WorkerID  int                    `json:"workerId,omitempty"`
	Index     int                    `json:"index,omitempty"`
}

// Channel turns callbacks into a buffered event stream. When the buffer is
// full the event is dropped and counted so a slow reader never blocks a run.
type Channel struct {
	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped atomic.Uint64
}

// NewChannel creates a channel observer with the given buffer size.
func NewChannel(buffer int) *Channel {
	if buffer < 0 {
		buffer = 0
	}
	return &Channel{ch: make(chan Event, buffer)}
}

// Events returns the receive side.
func (c *Channel) Events() <-chan Event {
	return c.ch
}

// Dropped returns how many events were discarded.
func (c *Channel) Dropped() uint64 {
	return c.dropped.Load()
}

// Close closes the event stream; later events are dropped.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

func (c *Channel) send(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.dropped.Add(1)
		return
	}
	select {
	case c.ch <- ev:
	default:
		c.dropped.Add(1)
	}
}

func (c *Channel) TestStarted(current, total int) {
	c.send(Event{Type: EventTestStarted, Current: current, Total: total})
}

func (c *Channel) TestCompleted(r result.TestCaseResult) {
	c.send(Event{Type: EventTestCompleted, Result: &r, Index: r.Index})
}

func (c *Channel) AllTestsCompleted(allPassed bool) {
	c.send(Event{Type: EventAllTestsCompleted, AllPassed: &allPassed})
}

func (c *Channel) WorkerBusy(workerID, index int) {
	c.send(Event{Type: EventWorkerBusy, WorkerID: workerID, Index: index})
}

func (c *Channel) WorkerIdle(workerID int) {
	c.send(Event{Type: EventWorkerIdle, WorkerID: workerID})
}
