package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"stressjudge/internal/stress/sandbox/result"
	"stressjudge/internal/stress/worker"
)

// progressPrinter writes one line per finished test to a terminal.
type progressPrinter struct {
	mu    sync.Mutex
	out   io.Writer
	total int
	done  int
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out}
}

func (p *progressPrinter) TestStarted(current, total int) {
	p.mu.Lock()
	p.total = total
	p.mu.Unlock()
}

func (p *progressPrinter) TestCompleted(r result.TestCaseResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++

	verdict := string(r.Outcome.Kind)
	if r.Outcome.Stage != "" && !r.Passed() {
		verdict += " (" + string(r.Outcome.Stage) + ")"
	}
	fmt.Fprintf(p.out, "[%d/%d] test %d: %s %s\n", p.done, p.total, r.Index, verdict, formatDuration(r.TotalTime))
	if r.Passed() {
		return
	}
	if detail := r.Diagnostic; detail != "" {
		fmt.Fprintf(p.out, "    %s\n", detail)
	} else if r.Outcome.Message != "" {
		fmt.Fprintf(p.out, "    %s\n", r.Outcome.Message)
	}
}

func (p *progressPrinter) AllTestsCompleted(allPassed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if allPassed {
		fmt.Fprintln(p.out, "all tests passed")
		return
	}
	fmt.Fprintln(p.out, "some tests failed")
}

func printSummary(out io.Writer, report *worker.Report) {
	st := report.Stats
	fmt.Fprintf(out, "mode %s run %s: %d/%d passed (%.1f%%), %d workers\n",
		report.Mode, report.RunID, st.Passed, report.Requested, st.PassRate*100, report.Workers)
	if st.Total > 0 {
		fmt.Fprintf(out, "time min %s avg %s max %s\n",
			formatDuration(st.MinTime), formatDuration(st.AvgTime), formatDuration(st.MaxTime))
	}
	if st.PeakMemoryBytes != nil {
		fmt.Fprintf(out, "peak memory %.1f MiB\n", float64(*st.PeakMemoryBytes)/(1<<20))
	}
	if report.Stopped {
		fmt.Fprintf(out, "stopped after %d of %d tests\n", st.Total, report.Requested)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
