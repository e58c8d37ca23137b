// Package result defines stage outcomes, per-test results and run statistics.
package result

import (
	"time"

	"stressjudge/internal/stress/sandbox/spec"
)

// StageStatus describes how a stage process ended.
type StageStatus string

const (
	StageExited      StageStatus = "Exited"
	StageTimedOut    StageStatus = "TimedOut"
	StageCanceled    StageStatus = "Canceled"
	StageStartFailed StageStatus = "StartFailed"
)

// StageOutcome captures one external program invocation.
type StageOutcome struct {
	Role     spec.Role
	Status   StageStatus
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Elapsed  time.Duration
	// PeakMemoryBytes is nil when the platform cannot sample it.
	PeakMemoryBytes *int64
	Truncated       bool
}

// OutcomeKind is the verdict of one test case.
type OutcomeKind string

const (
	Accepted            OutcomeKind = "Accepted"
	WrongAnswer         OutcomeKind = "WrongAnswer"
	PresentationError   OutcomeKind = "PresentationError"
	JudgeError          OutcomeKind = "JudgeError"
	StageFailed         OutcomeKind = "StageFailed"
	Timeout             OutcomeKind = "Timeout"
	MemoryLimitExceeded OutcomeKind = "MemoryLimitExceeded"
	Canceled            OutcomeKind = "Canceled"
	InternalError       OutcomeKind = "InternalError"
)

// Outcome describes a test verdict and, for failures, the offending stage.
type Outcome struct {
	Kind     OutcomeKind `json:"kind"`
	Stage    spec.Role   `json:"stage,omitempty"`
	ExitCode *int        `json:"exitCode,omitempty"`
	Message  string      `json:"message,omitempty"`
}

// Passed reports whether the outcome counts as a pass.
func (o Outcome) Passed() bool {
	return o.Kind == Accepted
}

// StageTiming records the wall time of one stage.
type StageTiming struct {
	Role    spec.Role     `json:"role"`
	Elapsed time.Duration `json:"elapsed"`
}

// TestCaseResult is the outcome of one test unit.
type TestCaseResult struct {
	Index            int           `json:"index"`
	Outcome          Outcome       `json:"outcome"`
	StageTimings     []StageTiming `json:"stageTimings"`
	TotalTime        time.Duration `json:"totalTime"`
	PeakMemoryBytes  *int64        `json:"peakMemoryBytes,omitempty"`
	CapturedInput    string        `json:"capturedInput,omitempty"`
	CapturedOutput   string        `json:"capturedOutput,omitempty"`
	CapturedExpected string        `json:"capturedExpected,omitempty"`
	Diagnostic       string        `json:"diagnostic,omitempty"`
	JudgeExitCode    *int          `json:"judgeExitCode,omitempty"`
}

// Passed reports whether the test was accepted.
func (r TestCaseResult) Passed() bool {
	return r.Outcome.Passed()
}

// RunAggregate summarizes a set of results.
type RunAggregate struct {
	Total           int           `json:"total"`
	Passed          int           `json:"passed"`
	Failed          int           `json:"failed"`
	PassRate        float64       `json:"passRate"`
	MinTime         time.Duration `json:"minTime"`
	MaxTime         time.Duration `json:"maxTime"`
	AvgTime         time.Duration `json:"avgTime"`
	SumTime         time.Duration `json:"sumTime"`
	PeakMemoryBytes *int64        `json:"peakMemoryBytes,omitempty"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}
