// Package spec defines the immutable pipeline configuration of one judging mode.
package spec

import (
	"time"

	appErr "stressjudge/pkg/errors"
)

// Role names one stage of a pipeline.
type Role string

const (
	RoleGenerator Role = "generator"
	RoleCandidate Role = "candidate"
	RoleJudge     Role = "judge"
	RoleReference Role = "reference"
)

// PolicyKind selects how the final stage is turned into an outcome.
type PolicyKind string

const (
	// PolicyJudge maps the final stage exit code: 0 AC, 1 WA, 2 PE, other judge error.
	PolicyJudge PolicyKind = "judge"
	// PolicyDiff compares candidate output against a reference stage output.
	PolicyDiff PolicyKind = "diff"
	// PolicyBenchmark accepts a clean candidate run within time and memory limits.
	PolicyBenchmark PolicyKind = "benchmark"
)

// CompareMode controls output comparison for PolicyDiff.
type CompareMode string

const (
	CompareExact   CompareMode = "exact"
	CompareTrimmed CompareMode = "trimmed"
	CompareLines   CompareMode = "lines"
)

const (
	DefaultStageTimeout = 30 * time.Second
	DefaultWorkersCap   = 8
)

// StageSpec describes one external program invocation.
type StageSpec struct {
	Role    Role
	Command []string
	Timeout time.Duration
	// Stdin names an earlier role whose stdout is fed to this stage.
	Stdin Role
	// ArgFiles names earlier roles whose stdout is written to private files;
	// the file paths are appended to Command in order.
	ArgFiles []Role
}

// PipelineSpec is the configuration of one judging mode.
type PipelineSpec struct {
	Mode   string
	Stages []StageSpec
	Policy PolicyKind

	Compare       CompareMode
	CandidateRole Role
	ReferenceRole Role

	// MemoryLimitBytes is only enforced by PolicyBenchmark; zero disables it.
	MemoryLimitBytes int64

	// MaxWorkersCap bounds the default worker count for this mode.
	MaxWorkersCap int
	// StopOnFailure stops the run after the first non-accepted result.
	StopOnFailure bool
}

// Final returns the last stage.
func (p PipelineSpec) Final() StageSpec {
	if len(p.Stages) == 0 {
		return StageSpec{}
	}
	return p.Stages[len(p.Stages)-1]
}

// Stage looks up a stage by role.
func (p PipelineSpec) Stage(role Role) (StageSpec, bool) {
	for _, st := range p.Stages {
		if st.Role == role {
			return st, true
		}
	}
	return StageSpec{}, false
}

// Normalize returns a deep copy with defaults filled in.
func (p PipelineSpec) Normalize() PipelineSpec {
	out := p
	out.Stages = make([]StageSpec, len(p.Stages))
	for i, st := range p.Stages {
		cp := st
		cp.Command = append([]string(nil), st.Command...)
		cp.ArgFiles = append([]Role(nil), st.ArgFiles...)
		if cp.Timeout <= 0 {
			cp.Timeout = DefaultStageTimeout
		}
		out.Stages[i] = cp
	}
	if out.Policy == "" {
		out.Policy = PolicyJudge
	}
	if out.Compare == "" {
		out.Compare = CompareTrimmed
	}
	if out.CandidateRole == "" {
		out.CandidateRole = RoleCandidate
	}
	if out.ReferenceRole == "" {
		out.ReferenceRole = RoleReference
	}
	if out.MaxWorkersCap <= 0 {
		out.MaxWorkersCap = DefaultWorkersCap
	}
	return out
}

// Validate checks structural consistency. Call it on a normalized spec.
func (p PipelineSpec) Validate() error {
	if len(p.Stages) == 0 {
		return appErr.New(appErr.PipelineInvalid).WithMessage("pipeline has no stages")
	}
	seen := make(map[Role]bool, len(p.Stages))
	for i, st := range p.Stages {
		if st.Role == "" {
			return appErr.Newf(appErr.PipelineInvalid, "stage %d has no role", i+1)
		}
		if seen[st.Role] {
			return appErr.Newf(appErr.PipelineInvalid, "duplicate stage role %q", st.Role)
		}
		if len(st.Command) == 0 || st.Command[0] == "" {
			return appErr.Newf(appErr.PipelineInvalid, "stage %q has no command", st.Role)
		}
		if st.Stdin != "" && !seen[st.Stdin] {
			return appErr.Newf(appErr.PipelineInvalid, "stage %q reads stdin from unknown or later role %q", st.Role, st.Stdin)
		}
		for _, ref := range st.ArgFiles {
			if !seen[ref] {
				return appErr.Newf(appErr.PipelineInvalid, "stage %q takes file of unknown or later role %q", st.Role, ref)
			}
		}
		seen[st.Role] = true
	}

	switch p.Policy {
	case PolicyJudge:
		if len(p.Stages) < 2 {
			return appErr.New(appErr.PipelineInvalid).WithMessage("judge policy needs a judge stage after the candidate")
		}
	case PolicyDiff:
		if !seen[p.CandidateRole] || !seen[p.ReferenceRole] {
			return appErr.Newf(appErr.PipelineInvalid, "diff policy needs %q and %q stages", p.CandidateRole, p.ReferenceRole)
		}
		switch p.Compare {
		case CompareExact, CompareTrimmed, CompareLines:
		default:
			return appErr.Newf(appErr.PipelineInvalid, "unsupported compare mode %q", p.Compare)
		}
	case PolicyBenchmark:
		if p.MemoryLimitBytes < 0 {
			return appErr.New(appErr.PipelineInvalid).WithMessage("memory limit must not be negative")
		}
	default:
		return appErr.Newf(appErr.PipelineInvalid, "unsupported policy %q", p.Policy)
	}
	return nil
}
