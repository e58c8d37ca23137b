package service

import (
	"context"
	"sync"
	"time"

	"stressjudge/internal/stress/aggregate"
	"stressjudge/internal/stress/observer"
	"stressjudge/internal/stress/worker"
)

// Run is a handle to a started run.
type Run struct {
	id          string
	mode        string
	requested   int
	startedAt   time.Time
	cancel      context.CancelFunc
	pool        *worker.Pool
	broadcaster *observer.Broadcaster
	done        chan struct{}

	mu     sync.Mutex
	report *worker.Report
	err    error
}

// ID returns the run id.
func (r *Run) ID() string {
	return r.id
}

// Mode returns the mode name.
func (r *Run) Mode() string {
	return r.mode
}

// Done is closed once the run has finished and been persisted.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Stop requests the run to stop; it returns immediately.
func (r *Run) Stop() {
	if r.pool != nil {
		r.pool.Stop()
	}
	r.cancel()
}

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (*worker.Report, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report, r.err
}

// Status returns the current progress; withResults includes the per-test results.
func (r *Run) Status(withResults bool) RunStatus {
	st := RunStatus{
		RunID:     r.id,
		Mode:      r.mode,
		State:     RunStateRunning,
		Requested: r.requested,
		StartedAt: r.startedAt,
	}
	select {
	case <-r.done:
		r.mu.Lock()
		report := r.report
		r.mu.Unlock()
		if report != nil {
			st.State = RunStateFinished
			if report.Stopped {
				st.State = RunStateStopped
			}
			st.Workers = report.Workers
			st.Stats = report.Stats
			if withResults {
				st.Results = report.Results
			}
		}
		return st
	default:
	}
	if r.pool == nil {
		return st
	}
	results := r.pool.Results()
	st.Workers = r.pool.Workers()
	st.Stats = aggregate.Summarize(results)
	if withResults {
		st.Results = results
	}
	if r.pool.Stopped() {
		st.State = RunStateStopped
	}
	return st
}
