package pipeline

import (
	"fmt"
	"strings"

	"stressjudge/internal/stress/sandbox/result"
	"stressjudge/internal/stress/sandbox/spec"
)

// Judge exit codes.
const (
	JudgeExitAccepted          = 0
	JudgeExitWrongAnswer       = 1
	JudgeExitPresentationError = 2
)

// Verdict is what a policy decides for a unit whose stages all ran.
type Verdict struct {
	Outcome    result.Outcome
	Diagnostic string
}

// OutcomePolicy classifies the final stage of a completed unit. Every stage
// in outputs exited normally and every non-final stage exited with zero.
type OutcomePolicy interface {
	Classify(ps spec.PipelineSpec, outputs map[spec.Role]result.StageOutcome) Verdict
}

// PolicyFor returns the built-in policy for kind.
func PolicyFor(kind spec.PolicyKind) (OutcomePolicy, bool) {
	switch kind {
	case spec.PolicyJudge:
		return JudgePolicy{}, true
	case spec.PolicyDiff:
		return DiffPolicy{}, true
	case spec.PolicyBenchmark:
		return BenchmarkPolicy{}, true
	default:
		return nil, false
	}
}

// JudgePolicy maps the final stage exit code onto a verdict.
type JudgePolicy struct{}

func (JudgePolicy) Classify(ps spec.PipelineSpec, outputs map[spec.Role]result.StageOutcome) Verdict {
	final := ps.Final()
	out := outputs[final.Role]
	code := out.ExitCode

	switch code {
	case JudgeExitAccepted:
		return Verdict{Outcome: result.Outcome{Kind: result.Accepted}}
	case JudgeExitWrongAnswer:
		return Verdict{
			Outcome:    result.Outcome{Kind: result.WrongAnswer, Stage: final.Role, ExitCode: result.IntPtr(code)},
			Diagnostic: judgeMessage(out, "wrong answer"),
		}
	case JudgeExitPresentationError:
		return Verdict{
			Outcome:    result.Outcome{Kind: result.PresentationError, Stage: final.Role, ExitCode: result.IntPtr(code)},
			Diagnostic: judgeMessage(out, "presentation error"),
		}
	default:
		return Verdict{
			Outcome: result.Outcome{
				Kind:     result.JudgeError,
				Stage:    final.Role,
				ExitCode: result.IntPtr(code),
				Message:  fmt.Sprintf("judge exited with code %d", code),
			},
			Diagnostic: judgeErrorMessage(out),
		}
	}
}

func judgeMessage(out result.StageOutcome, fallback string) string {
	if msg := strings.TrimSpace(string(out.Stdout)); msg != "" {
		return result.Capture([]byte(msg))
	}
	if msg := strings.TrimSpace(string(out.Stderr)); msg != "" {
		return result.Capture([]byte(msg))
	}
	return fallback
}

func judgeErrorMessage(out result.StageOutcome) string {
	var parts []string
	if msg := strings.TrimSpace(string(out.Stderr)); msg != "" {
		parts = append(parts, "stderr: "+msg)
	}
	if msg := strings.TrimSpace(string(out.Stdout)); msg != "" {
		parts = append(parts, "stdout: "+msg)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("judge exited with code %d", out.ExitCode)
	}
	return result.Capture([]byte(strings.Join(parts, "\n")))
}

// DiffPolicy compares candidate output with reference output.
type DiffPolicy struct{}

func (DiffPolicy) Classify(ps spec.PipelineSpec, outputs map[spec.Role]result.StageOutcome) Verdict {
	final := ps.Final()
	if out := outputs[final.Role]; out.ExitCode != 0 {
		return stageFailed(final.Role, out)
	}
	candidate := outputs[ps.CandidateRole].Stdout
	reference := outputs[ps.ReferenceRole].Stdout
	if diag, ok := Compare(ps.Compare, candidate, reference); !ok {
		return Verdict{
			Outcome:    result.Outcome{Kind: result.WrongAnswer, Stage: ps.CandidateRole, Message: "output differs from reference"},
			Diagnostic: diag,
		}
	}
	return Verdict{Outcome: result.Outcome{Kind: result.Accepted}}
}

// BenchmarkPolicy accepts a clean candidate run within the memory limit.
// The time limit is the candidate stage timeout.
type BenchmarkPolicy struct{}

func (BenchmarkPolicy) Classify(ps spec.PipelineSpec, outputs map[spec.Role]result.StageOutcome) Verdict {
	final := ps.Final()
	out := outputs[final.Role]
	if out.ExitCode != 0 {
		v := stageFailed(final.Role, out)
		v.Outcome.Message = "runtime error"
		return v
	}
	if ps.MemoryLimitBytes > 0 && out.PeakMemoryBytes != nil && *out.PeakMemoryBytes > ps.MemoryLimitBytes {
		return Verdict{
			Outcome: result.Outcome{Kind: result.MemoryLimitExceeded, Stage: final.Role, Message: "memory limit exceeded"},
			Diagnostic: fmt.Sprintf("peak memory %.2f MB exceeds limit %.2f MB",
				bytesToMB(*out.PeakMemoryBytes), bytesToMB(ps.MemoryLimitBytes)),
		}
	}
	return Verdict{Outcome: result.Outcome{Kind: result.Accepted}}
}

func stageFailed(role spec.Role, out result.StageOutcome) Verdict {
	diag := strings.TrimSpace(string(out.Stderr))
	if diag == "" {
		diag = fmt.Sprintf("%s exited with code %d", role, out.ExitCode)
	}
	return Verdict{
		Outcome: result.Outcome{
			Kind:     result.StageFailed,
			Stage:    role,
			ExitCode: result.IntPtr(out.ExitCode),
			Message:  fmt.Sprintf("%s exited with code %d", role, out.ExitCode),
		},
		Diagnostic: result.Capture([]byte(diag)),
	}
}

func bytesToMB(b int64) float64 {
	return float64(b) / (1024 * 1024)
}
