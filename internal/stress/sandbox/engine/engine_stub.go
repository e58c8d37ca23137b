//go:build !unix

package engine

import (
	"context"

	"stressjudge/internal/stress/sandbox/result"
	appErr "stressjudge/pkg/errors"
)

type stubEngine struct{}

func NewEngine(cfg Config) (Engine, error) {
	return &stubEngine{}, nil
}

func (s *stubEngine) Run(ctx context.Context, req StageRequest) (result.StageOutcome, error) {
	return result.StageOutcome{Role: req.Role, Status: result.StageStartFailed, ExitCode: -1},
		appErr.New(appErr.StageStartFailed).WithMessage("stage engine is only supported on unix")
}
