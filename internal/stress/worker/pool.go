// Package worker runs test units concurrently over a fixed set of goroutines.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"stressjudge/internal/stress/aggregate"
	"stressjudge/internal/stress/observer"
	"stressjudge/internal/stress/sandbox/result"
	appErr "stressjudge/pkg/errors"
	"stressjudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultWorkersCap = 8

// Executor runs one test unit. *pipeline.Pipeline implements it.
type Executor interface {
	Execute(ctx context.Context, index int) result.TestCaseResult
}

// Options configures a Pool.
type Options struct {
	// MaxWorkers overrides the default worker count when positive.
	MaxWorkers int
	// WorkersCap bounds the default worker count; zero means 8.
	WorkersCap    int
	StopOnFailure bool
	Observer      observer.Observer
	Mode          string
}

// Report is the outcome of one RunAll call.
type Report struct {
	RunID      string                  `json:"runId"`
	Mode       string                  `json:"mode"`
	Requested  int                     `json:"requested"`
	Workers    int                     `json:"workers"`
	Results    []result.TestCaseResult `json:"results"`
	Stats      result.RunAggregate     `json:"stats"`
	Stopped    bool                    `json:"stopped"`
	AllPassed  bool                    `json:"allPassed"`
	StartedAt  time.Time               `json:"startedAt"`
	FinishedAt time.Time               `json:"finishedAt"`
}

// Pool dispatches indices 1..N to its workers. A pool may be reused for
// consecutive runs but never runs two at once.
type Pool struct {
	exec          Executor
	workers       int
	stopOnFailure bool
	observer      observer.Observer
	mode          string

	running atomic.Bool
	stopped atomic.Bool

	// mu orders the stop flag against result acceptance.
	mu        sync.Mutex
	cancel    context.CancelFunc
	agg       *aggregate.Aggregator
	completed int
	runID     string
}

// DefaultWorkers returns clamp(NumCPU-1, 1, limit); limit <= 0 means 8.
func DefaultWorkers(limit int) int {
	if limit <= 0 {
		limit = defaultWorkersCap
	}
	n := runtime.NumCPU() - 1
	if n > limit {
		n = limit
	}
	if n < 1 {
		n = 1
	}
	return n
}

// New creates a pool over exec.
func New(exec Executor, opts Options) (*Pool, error) {
	if exec == nil {
		return nil, appErr.ValidationError("executor", "required")
	}
	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = DefaultWorkers(opts.WorkersCap)
	}
	obs := opts.Observer
	if obs == nil {
		obs = observer.Noop{}
	}
	return &Pool{
		exec:          exec,
		workers:       workers,
		stopOnFailure: opts.StopOnFailure,
		observer:      obs,
		mode:          opts.Mode,
		agg:           aggregate.New(0),
	}, nil
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int {
	return p.workers
}

// Running reports whether a run is in progress.
func (p *Pool) Running() bool {
	return p.running.Load()
}

// Stopped reports whether the current or last run was stopped.
func (p *Pool) Stopped() bool {
	return p.stopped.Load()
}

// RunID returns the id of the current or last run.
func (p *Pool) RunID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runID
}

// Results returns a copy of the results accepted so far.
func (p *Pool) Results() []result.TestCaseResult {
	p.mu.Lock()
	agg := p.agg
	p.mu.Unlock()
	return agg.Snapshot()
}

// Stop ends the active run. No index is dispatched, no unit started and no
// result accepted after Stop returns; in-flight processes are killed.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped.Store(true)
	cancel := p.cancel
	agg := p.agg
	p.mu.Unlock()
	agg.Freeze()
	if cancel != nil {
		cancel()
	}
}

// RunAll executes units 1..testCount and blocks until they finish or the run is stopped.
func (p *Pool) RunAll(ctx context.Context, testCount int) (*Report, error) {
	return p.RunAllWithID(ctx, uuid.NewString(), testCount)
}

// RunAllWithID is RunAll with a caller-chosen run id.
func (p *Pool) RunAllWithID(ctx context.Context, runID string, testCount int) (*Report, error) {
	if testCount < 0 {
		return nil, appErr.ValidationError("test_count", "must not be negative")
	}
	if !p.running.CompareAndSwap(false, true) {
		return nil, appErr.New(appErr.RunAlreadyActive).WithMessagef("pool is already running %s", p.RunID())
	}
	defer p.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runCtx = logger.WithRun(runCtx, runID)

	p.mu.Lock()
	p.stopped.Store(false)
	p.cancel = cancel
	p.agg = aggregate.New(testCount)
	p.completed = 0
	p.runID = runID
	agg := p.agg
	p.mu.Unlock()

	detach := context.AfterFunc(ctx, p.Stop)
	defer detach()

	workers := p.workers
	if testCount > 0 && workers > testCount {
		workers = testCount
	}
	startedAt := time.Now()
	logger.Info(runCtx, "run started",
		zap.String("mode", p.mode), zap.Int("tests", testCount), zap.Int("workers", workers))

	indices := make(chan int)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer close(indices)
		for i := 1; i <= testCount; i++ {
			if p.stopped.Load() {
				return nil
			}
			select {
			case indices <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for w := 1; w <= workers; w++ {
		workerID := w
		g.Go(func() error {
			for index := range indices {
				if p.stopped.Load() || gctx.Err() != nil {
					return nil
				}
				p.runUnit(gctx, workerID, index, testCount)
			}
			return nil
		})
	}
	_ = g.Wait()

	p.mu.Lock()
	agg.Freeze()
	stopped := p.stopped.Load() || ctx.Err() != nil
	p.stopped.Store(stopped)
	p.cancel = nil
	p.mu.Unlock()

	results := agg.Snapshot()
	stats := aggregate.Summarize(results)
	allPassed := !stopped && stats.Failed == 0 && len(results) == testCount
	p.observer.AllTestsCompleted(allPassed)

	report := &Report{
		RunID:      runID,
		Mode:       p.mode,
		Requested:  testCount,
		Workers:    workers,
		Results:    results,
		Stats:      stats,
		Stopped:    stopped,
		AllPassed:  allPassed,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	logger.Info(runCtx, "run finished",
		zap.Int("completed", stats.Total),
		zap.Int("passed", stats.Passed),
		zap.Int("failed", stats.Failed),
		zap.Bool("stopped", stopped),
		zap.Duration("elapsed", report.FinishedAt.Sub(startedAt)))
	return report, nil
}

func (p *Pool) runUnit(ctx context.Context, workerID, index, total int) {
	activity, _ := p.observer.(observer.ActivityObserver)
	if activity != nil {
		activity.WorkerBusy(workerID, index)
	}
	res := p.safeExecute(ctx, index)
	if activity != nil {
		activity.WorkerIdle(workerID)
	}
	p.accept(ctx, res, total)
}

func (p *Pool) safeExecute(ctx context.Context, index int) (res result.TestCaseResult) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error(ctx, "test unit panicked",
				zap.Int("index", index), zap.String("panic", fmt.Sprint(rec)), zap.Stack("stack"))
			res = result.TestCaseResult{
				Index:         index,
				Outcome:       result.Outcome{Kind: result.InternalError, Message: fmt.Sprintf("panic: %v", rec)},
				JudgeExitCode: result.IntPtr(-1),
			}
		}
	}()
	res = p.exec.Execute(ctx, index)
	res.Index = index
	return res
}

func (p *Pool) accept(ctx context.Context, res result.TestCaseResult, total int) {
	p.mu.Lock()
	if p.stopped.Load() || ctx.Err() != nil || !p.agg.Append(res) {
		p.mu.Unlock()
		return
	}
	p.completed++
	current := p.completed
	p.mu.Unlock()

	p.observer.TestStarted(current, total)
	p.observer.TestCompleted(res)

	if p.stopOnFailure && !res.Passed() {
		p.Stop()
	}
}
