package repository

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"stressjudge/internal/common/mq"
	"stressjudge/internal/stress/observer"
	"stressjudge/internal/stress/sandbox/result"
	appErr "stressjudge/pkg/errors"
	"stressjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultEventBuffer    = 1024
	defaultPublishTimeout = 5 * time.Second
)

// EventPublisher is an observer that forwards run events to a message queue.
// Callbacks only enqueue; a background goroutine publishes, so a slow broker
// never blocks workers. Events beyond the buffer are dropped and counted.
type EventPublisher struct {
	producer mq.Producer
	topic    string
	runID    string
	mode     string
	timeout  time.Duration

	events *observer.Channel
	done   chan struct{}
	once   sync.Once
}

// NewEventPublisher starts publishing events of runID to topic.
func NewEventPublisher(ctx context.Context, producer mq.Producer, topic, runID, mode string) (*EventPublisher, error) {
	if producer == nil {
		return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("event producer is not configured")
	}
	if topic == "" {
		return nil, appErr.ValidationError("topic", "required")
	}
	if runID == "" {
		return nil, appErr.ValidationError("run_id", "required")
	}
	p := &EventPublisher{
		producer: producer,
		topic:    topic,
		runID:    runID,
		mode:     mode,
		timeout:  defaultPublishTimeout,
		events:   observer.NewChannel(defaultEventBuffer),
		done:     make(chan struct{}),
	}
	go p.loop(context.WithoutCancel(ctx))
	return p, nil
}

func (p *EventPublisher) loop(ctx context.Context) {
	defer close(p.done)
	for ev := range p.events.Events() {
		ev.RunID = p.runID
		if err := p.publish(ctx, ev); err != nil {
			logger.Warn(ctx, "publish run event failed",
				zap.String("event", string(ev.Type)), zap.Error(err))
		}
	}
}

func (p *EventPublisher) publish(ctx context.Context, ev observer.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "marshal run event")
	}
	msg := mq.NewMessage(p.runID, payload)
	msg.SetHeader("event", string(ev.Type))
	if p.mode != "" {
		msg.SetHeader("mode", p.mode)
	}
	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.producer.Publish(pubCtx, p.topic, msg); err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "publish run event")
	}
	return nil
}

// Close stops accepting events and waits until queued ones are published.
func (p *EventPublisher) Close() {
	p.once.Do(func() {
		p.events.Close()
	})
	<-p.done
}

// Dropped returns how many events did not fit in the buffer.
func (p *EventPublisher) Dropped() uint64 {
	return p.events.Dropped()
}

func (p *EventPublisher) TestStarted(current, total int) {
	p.events.TestStarted(current, total)
}

func (p *EventPublisher) TestCompleted(r result.TestCaseResult) {
	p.events.TestCompleted(r)
}

func (p *EventPublisher) AllTestsCompleted(allPassed bool) {
	p.events.AllTestsCompleted(allPassed)
}
