// Package aggregate collects per-test results of one run.
package aggregate

import (
	"sort"
	"sync"
	"time"

	"stressjudge/internal/stress/sandbox/result"
)

// Aggregator is a mutex-guarded, append-only result set.
type Aggregator struct {
	mu      sync.Mutex
	results []result.TestCaseResult
	frozen  bool
}

// New creates an empty aggregator with room for capacity results.
func New(capacity int) *Aggregator {
	if capacity < 0 {
		capacity = 0
	}
	return &Aggregator{results: make([]result.TestCaseResult, 0, capacity)}
}

// Append records r. It returns false once the aggregator is frozen.
func (a *Aggregator) Append(r result.TestCaseResult) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.frozen {
		return false
	}
	a.results = append(a.results, r)
	return true
}

// Len returns the number of recorded results.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

// Freeze rejects all further appends.
func (a *Aggregator) Freeze() {
	a.mu.Lock()
	a.frozen = true
	a.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (a *Aggregator) Frozen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frozen
}

// Snapshot returns a copy of the results ordered by index.
func (a *Aggregator) Snapshot() []result.TestCaseResult {
	a.mu.Lock()
	out := make([]result.TestCaseResult, len(a.results))
	copy(out, a.results)
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Index < out[j].Index
	})
	return out
}

// Statistics summarizes the current snapshot.
func (a *Aggregator) Statistics() result.RunAggregate {
	return Summarize(a.Snapshot())
}

// Summarize computes run statistics over results.
func Summarize(results []result.TestCaseResult) result.RunAggregate {
	agg := result.RunAggregate{Total: len(results)}
	if len(results) == 0 {
		return agg
	}
	agg.MinTime = results[0].TotalTime
	for _, r := range results {
		if r.Passed() {
			agg.Passed++
		} else {
			agg.Failed++
		}
		agg.SumTime += r.TotalTime
		if r.TotalTime < agg.MinTime {
			agg.MinTime = r.TotalTime
		}
		if r.TotalTime > agg.MaxTime {
			agg.MaxTime = r.TotalTime
		}
		if r.PeakMemoryBytes != nil && (agg.PeakMemoryBytes == nil || *r.PeakMemoryBytes > *agg.PeakMemoryBytes) {
			agg.PeakMemoryBytes = result.Int64Ptr(*r.PeakMemoryBytes)
		}
	}
	agg.AvgTime = agg.SumTime / time.Duration(agg.Total)
	agg.PassRate = float64(agg.Passed) / float64(agg.Total)
	return agg
}
