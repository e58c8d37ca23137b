//go:build unix

package engine

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"stressjudge/internal/stress/sandbox/result"
	appErr "stressjudge/pkg/errors"
	"stressjudge/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type localEngine struct {
	cfg Config
}

// NewEngine creates an engine that runs stages as local process groups.
func NewEngine(cfg Config) (Engine, error) {
	return &localEngine{cfg: cfg.withDefaults()}, nil
}

func (e *localEngine) Run(ctx context.Context, req StageRequest) (result.StageOutcome, error) {
	outcome := result.StageOutcome{Role: req.Role, ExitCode: -1}
	if len(req.Command) == 0 || req.Command[0] == "" {
		outcome.Status = result.StageStartFailed
		return outcome, appErr.Newf(appErr.StageStartFailed, "stage %s has no command", req.Role)
	}
	if ctx.Err() != nil {
		outcome.Status = result.StageCanceled
		return outcome, nil
	}

	stdout := newLimitedBuffer(e.cfg.MaxOutputBytes)
	stderr := newLimitedBuffer(e.cfg.MaxStderrBytes)
	stdio, err := openStageIO()
	if err != nil {
		outcome.Status = result.StageStartFailed
		return outcome, appErr.Wrapf(err, appErr.StageStartFailed, "open pipes for %s", req.Role)
	}

	cmd := exec.Command(req.Command[0], req.Command[1:]...)
	cmd.SysProcAttr = buildSysProcAttr()
	cmd.Dir = req.Dir
	cmd.Stdin = stdio.stdinR
	cmd.Stdout = stdio.stdoutW
	cmd.Stderr = stdio.stderrW
	if len(e.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), e.cfg.Env...)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		stdio.closeAll()
		outcome.Status = result.StageStartFailed
		outcome.Elapsed = time.Since(start)
		outcome.Stderr = []byte(err.Error())
		return outcome, appErr.Wrapf(err, appErr.StageStartFailed, "start %s", req.Role)
	}
	pid := cmd.Process.Pid
	stdio.pump(req.Stdin, stdout, stderr)
	logger.Debug(ctx, "stage started", zap.String("role", string(req.Role)), zap.Int("pid", pid))

	var timedOut, canceled atomic.Bool
	var peakRSS atomic.Int64
	done := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		var wallTimer <-chan time.Time
		if req.Timeout > 0 {
			timer := time.NewTimer(req.Timeout)
			defer timer.Stop()
			wallTimer = timer.C
		}
		ticker := time.NewTicker(e.cfg.SampleInterval)
		defer ticker.Stop()
		observeRSS(pid, &peakRSS)
		for {
			select {
			case <-ctx.Done():
				canceled.Store(true)
				killProcessGroup(pid)
				return
			case <-wallTimer:
				timedOut.Store(true)
				killProcessGroup(pid)
				return
			case <-ticker.C:
				observeRSS(pid, &peakRSS)
			case <-done:
				return
			}
		}
	}()

	// The watcher is stopped before the group kill, so a stage that already
	// exited can no longer be reported as timed out.
	waitErr := waitStage(cmd, func() {
		outcome.Elapsed = time.Since(start)
		close(done)
		<-watcherDone
	})
	pipesClosed := stdio.drain(e.cfg.WaitDelay)

	outcome.Stdout = stdout.Bytes()
	outcome.Stderr = stderr.Bytes()
	outcome.Truncated = stdout.Truncated() || stderr.Truncated()
	outcome.ExitCode = exitCodeFromErr(waitErr, cmd.ProcessState)
	outcome.PeakMemoryBytes = peakMemory(peakRSS.Load(), cmd.ProcessState)

	switch {
	case timedOut.Load():
		outcome.Status = result.StageTimedOut
		logger.Warn(ctx, "stage timed out",
			zap.String("role", string(req.Role)), zap.Duration("timeout", req.Timeout))
	case canceled.Load():
		outcome.Status = result.StageCanceled
	default:
		outcome.Status = result.StageExited
	}
	if !pipesClosed {
		logger.Warn(ctx, "stage left output pipes open", zap.String("role", string(req.Role)))
	}
	return outcome, nil
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = unix.Kill(-pid, unix.SIGKILL)
}

func peakMemory(sampled int64, state *os.ProcessState) *int64 {
	peak := sampled
	if fromUsage, ok := rusagePeakBytes(state); ok && fromUsage > peak {
		peak = fromUsage
	}
	if peak <= 0 {
		return nil
	}
	return &peak
}

func observeRSS(pid int, peak *atomic.Int64) {
	rss, ok := sampleRSSBytes(pid)
	if !ok {
		return
	}
	for {
		cur := peak.Load()
		if rss <= cur || peak.CompareAndSwap(cur, rss) {
			return
		}
	}
}
