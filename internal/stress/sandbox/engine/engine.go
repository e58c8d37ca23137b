// Package engine runs one external program with piped input, captured output and a wall-clock limit.
package engine

import (
	"context"
	"time"

	"stressjudge/internal/stress/sandbox/result"
	"stressjudge/internal/stress/sandbox/spec"
)

// StageRequest describes one program invocation.
type StageRequest struct {
	Role    spec.Role
	Command []string
	Stdin   []byte
	// Timeout is the wall-clock limit; zero disables it.
	Timeout time.Duration
	// Dir is the working directory; empty inherits the caller's.
	Dir string
}

// Engine executes a StageRequest. Run always returns a populated outcome;
// a non-nil error accompanies StageStartFailed only.
type Engine interface {
	Run(ctx context.Context, req StageRequest) (result.StageOutcome, error)
}
