package observer

import (
	"sync"

	"stressjudge/internal/stress/sandbox/result"
)

// Broadcaster fans events out to any number of Channel subscribers.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*Channel]struct{}
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*Channel]struct{})}
}

// Subscribe registers a new subscriber. After Close it returns an already closed channel.
func (b *Broadcaster) Subscribe(buffer int) *Channel {
	ch := NewChannel(buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch.Close()
		return ch
	}
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes ch.
func (b *Broadcaster) Unsubscribe(ch *Channel) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	ch.Close()
}

// Close closes every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		ch.Close()
	}
	b.subs = nil
}

func (b *Broadcaster) each(fn func(*Channel)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		fn(ch)
	}
}

func (b *Broadcaster) TestStarted(current, total int) {
	b.each(func(c *Channel) { c.TestStarted(current, total) })
}

func (b *Broadcaster) TestCompleted(r result.TestCaseResult) {
	b.each(func(c *Channel) { c.TestCompleted(r) })
}

func (b *Broadcaster) AllTestsCompleted(allPassed bool) {
	b.each(func(c *Channel) { c.AllTestsCompleted(allPassed) })
}

func (b *Broadcaster) WorkerBusy(workerID, index int) {
	b.each(func(c *Channel) { c.WorkerBusy(workerID, index) })
}

func (b *Broadcaster) WorkerIdle(workerID int) {
	b.each(func(c *Channel) { c.WorkerIdle(workerID) })
}
