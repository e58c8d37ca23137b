// Package observer defines progress hooks for a test run.
package observer

import (
	"context"
	"fmt"

	"stressjudge/internal/stress/sandbox/result"
	"stressjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// Observer receives run progress. Calls may come from any goroutine.
type Observer interface {
	// TestStarted reports that the current-th result of total has been accepted.
	TestStarted(current, total int)
	TestCompleted(r result.TestCaseResult)
	AllTestsCompleted(allPassed bool)
}

// ActivityObserver additionally receives worker activity.
type ActivityObserver interface {
	WorkerBusy(workerID, index int)
	WorkerIdle(workerID int)
}

// Noop ignores everything.
type Noop struct{}

func (Noop) TestStarted(int, int) {}
func (Noop) TestCompleted(result.TestCaseResult) {}
func (Noop) AllTestsCompleted(bool) {}

// Funcs adapts optional callbacks to Observer and ActivityObserver.
type Funcs struct {
	OnTestStarted       func(current, total int)
	OnTestCompleted     func(r result.TestCaseResult)
	OnAllTestsCompleted func(allPassed bool)
	OnWorkerBusy        func(workerID, index int)
	OnWorkerIdle        func(workerID int)
}

func (f Funcs) TestStarted(current, total int) {
	if f.OnTestStarted != nil {
		f.OnTestStarted(current, total)
	}
}

func (f Funcs) TestCompleted(r result.TestCaseResult) {
	if f.OnTestCompleted != nil {
		f.OnTestCompleted(r)
	}
}

func (f Funcs) AllTestsCompleted(allPassed bool) {
	if f.OnAllTestsCompleted != nil {
		f.OnAllTestsCompleted(allPassed)
	}
}

func (f Funcs) WorkerBusy(workerID, index int) {
	if f.OnWorkerBusy != nil {
		f.OnWorkerBusy(workerID, index)
	}
}

func (f Funcs) WorkerIdle(workerID int) {
	if f.OnWorkerIdle != nil {
		f.OnWorkerIdle(workerID)
	}
}

// Multi fans out to several observers. A panicking observer is logged and skipped.
type Multi []Observer

func (m Multi) TestStarted(current, total int) {
	for _, o := range m {
		guard("TestStarted", func() { o.TestStarted(current, total) })
	}
}

func (m Multi) TestCompleted(r result.TestCaseResult) {
	for _, o := range m {
		guard("TestCompleted", func() { o.TestCompleted(r) })
	}
}

func (m Multi) AllTestsCompleted(allPassed bool) {
	for _, o := range m {
		guard("AllTestsCompleted", func() { o.AllTestsCompleted(allPassed) })
	}
}

func (m Multi) WorkerBusy(workerID, index int) {
	for _, o := range m {
		if a, ok := o.(ActivityObserver); ok {
			guard("WorkerBusy", func() { a.WorkerBusy(workerID, index) })
		}
	}
}

func (m Multi) WorkerIdle(workerID int) {
	for _, o := range m {
		if a, ok := o.(ActivityObserver); ok {
			guard("WorkerIdle", func() { a.WorkerIdle(workerID) })
		}
	}
}

func guard(hook string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error(context.Background(), "observer panicked",
				zap.String("hook", hook), zap.String("panic", fmt.Sprint(rec)))
		}
	}()
	fn()
}

// Log writes progress through the structured logger.
type Log struct {
	ctx context.Context
}

// NewLog creates a logging observer whose lines carry the fields of ctx.
func NewLog(ctx context.Context) *Log {
	return &Log{ctx: ctx}
}

func (l *Log) TestStarted(current, total int) {
	logger.Debug(l.ctx, "test progress", zap.Int("current", current), zap.Int("total", total))
}

func (l *Log) TestCompleted(r result.TestCaseResult) {
	fields := []zap.Field{
		zap.Int("index", r.Index),
		zap.String("outcome", string(r.Outcome.Kind)),
		zap.Duration("time", r.TotalTime),
	}
	if r.Outcome.Stage != "" {
		fields = append(fields, zap.String("stage", string(r.Outcome.Stage)))
	}
	if r.Passed() {
		logger.Debug(l.ctx, "test completed", fields...)
		return
	}
	if r.Outcome.Message != "" {
		fields = append(fields, zap.String("message", r.Outcome.Message))
	}
	logger.Info(l.ctx, "test failed", fields...)
}

func (l *Log) AllTestsCompleted(allPassed bool) {
	logger.Info(l.ctx, "all tests completed", zap.Bool("all_passed", allPassed))
}
