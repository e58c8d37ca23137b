// Package pipeline runs the ordered stages of one test unit and classifies the outcome.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stressjudge/internal/stress/sandbox/engine"
	"stressjudge/internal/stress/sandbox/result"
	"stressjudge/internal/stress/sandbox/spec"
	"stressjudge/internal/stress/workspace"
	appErr "stressjudge/pkg/errors"
	"stressjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// ArtifactSaver persists the input and outputs of completed units.
type ArtifactSaver interface {
	Save(ctx context.Context, mode string, index int, a workspace.Artifacts) error
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithTempRoot sets the parent directory of per-unit temp directories.
func WithTempRoot(dir string) Option {
	return func(p *Pipeline) {
		p.tempRoot = dir
	}
}

// WithArtifactSaver enables per-unit artifact persistence.
func WithArtifactSaver(s ArtifactSaver) Option {
	return func(p *Pipeline) {
		p.saver = s
	}
}

// WithPolicy overrides the policy named by the pipeline spec.
func WithPolicy(policy OutcomePolicy) Option {
	return func(p *Pipeline) {
		p.policy = policy
	}
}

// Pipeline executes one unit: every stage in order, then the outcome policy.
// It is safe for concurrent use; each Execute call owns its own temp directory.
type Pipeline struct {
	spec     spec.PipelineSpec
	engine   engine.Engine
	policy   OutcomePolicy
	tempRoot string
	saver    ArtifactSaver
}

// New validates ps and builds a pipeline over eng.
func New(ps spec.PipelineSpec, eng engine.Engine, opts ...Option) (*Pipeline, error) {
	if eng == nil {
		return nil, appErr.New(appErr.PipelineInvalid).WithMessage("engine is required")
	}
	ps = ps.Normalize()
	if err := ps.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{spec: ps, engine: eng}
	for _, opt := range opts {
		opt(p)
	}
	if p.policy == nil {
		policy, ok := PolicyFor(ps.Policy)
		if !ok {
			return nil, appErr.Newf(appErr.PipelineInvalid, "unsupported policy %q", ps.Policy)
		}
		p.policy = policy
	}
	return p, nil
}

// Spec returns the normalized spec.
func (p *Pipeline) Spec() spec.PipelineSpec {
	return p.spec
}

// unit carries the state of one Execute call.
type unit struct {
	index   int
	dir     string
	outputs map[spec.Role]result.StageOutcome
	res     result.TestCaseResult
}

// Execute runs test unit index. It never returns an error: every failure is
// expressed as the result outcome.
func (p *Pipeline) Execute(ctx context.Context, index int) result.TestCaseResult {
	ctx = logger.WithTestIndex(ctx, index)
	u := &unit{
		index:   index,
		outputs: make(map[spec.Role]result.StageOutcome, len(p.spec.Stages)),
		res: result.TestCaseResult{
			Index:         index,
			JudgeExitCode: result.IntPtr(-1),
		},
	}

	dir, err := os.MkdirTemp(p.tempRoot, fmt.Sprintf("unit-%d-*", index))
	if err != nil {
		u.res.Outcome = result.Outcome{Kind: result.InternalError, Message: "create unit directory: " + err.Error()}
		return u.res
	}
	u.dir = dir
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn(ctx, "remove unit directory failed", zap.String("dir", dir), zap.Error(err))
		}
	}()

	if done := p.runStages(ctx, u); !done {
		p.finish(ctx, u, false)
		return u.res
	}

	verdict := p.policy.Classify(p.spec, u.outputs)
	u.res.Outcome = verdict.Outcome
	u.res.Diagnostic = verdict.Diagnostic
	if final, ok := u.outputs[p.spec.Final().Role]; ok {
		u.res.JudgeExitCode = result.IntPtr(final.ExitCode)
	}
	p.finish(ctx, u, true)
	return u.res
}

// runStages returns false when the unit ended before the policy could run;
// the outcome is then already set on u.res.
func (p *Pipeline) runStages(ctx context.Context, u *unit) bool {
	last := len(p.spec.Stages) - 1
	for i, st := range p.spec.Stages {
		if ctx.Err() != nil {
			u.res.Outcome = result.Outcome{Kind: result.Canceled, Stage: st.Role, Message: "run stopped"}
			return false
		}

		argv, err := p.buildArgv(st, u)
		if err != nil {
			u.res.Outcome = result.Outcome{Kind: result.InternalError, Stage: st.Role, Message: err.Error()}
			return false
		}
		var stdin []byte
		if st.Stdin != "" {
			stdin = u.outputs[st.Stdin].Stdout
		}

		out, runErr := p.engine.Run(ctx, engine.StageRequest{
			Role:    st.Role,
			Command: argv,
			Stdin:   stdin,
			Timeout: st.Timeout,
		})
		out.Role = st.Role
		u.outputs[st.Role] = out
		u.res.StageTimings = append(u.res.StageTimings, result.StageTiming{Role: st.Role, Elapsed: out.Elapsed})
		if out.PeakMemoryBytes != nil {
			if u.res.PeakMemoryBytes == nil || *out.PeakMemoryBytes > *u.res.PeakMemoryBytes {
				u.res.PeakMemoryBytes = result.Int64Ptr(*out.PeakMemoryBytes)
			}
		}

		if runErr != nil || out.Status == result.StageStartFailed {
			msg := fmt.Sprintf("failed to start %s", st.Role)
			if runErr != nil {
				msg = runErr.Error()
			}
			u.res.Outcome = result.Outcome{Kind: result.InternalError, Stage: st.Role, Message: msg}
			logger.Warn(ctx, "stage start failed", zap.String("role", string(st.Role)), zap.Error(runErr))
			return false
		}

		switch out.Status {
		case result.StageTimedOut:
			u.res.Outcome = result.Outcome{
				Kind:    result.Timeout,
				Stage:   st.Role,
				Message: fmt.Sprintf("%s exceeded time limit of %s", st.Role, st.Timeout),
			}
			return false
		case result.StageCanceled:
			u.res.Outcome = result.Outcome{Kind: result.Canceled, Stage: st.Role, Message: "run stopped"}
			return false
		}

		if i < last && out.ExitCode != 0 {
			v := stageFailed(st.Role, out)
			u.res.Outcome = v.Outcome
			u.res.Diagnostic = v.Diagnostic
			return false
		}
	}
	return true
}

// buildArgv appends the private file path of every ArgFiles role to the stage command.
func (p *Pipeline) buildArgv(st spec.StageSpec, u *unit) ([]string, error) {
	argv := make([]string, 0, len(st.Command)+len(st.ArgFiles))
	argv = append(argv, st.Command...)
	for _, role := range st.ArgFiles {
		path := filepath.Join(u.dir, string(role)+".txt")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, u.outputs[role].Stdout, 0600); err != nil {
				return nil, appErr.Wrapf(err, appErr.StageIOFailed, "write %s output for %s", role, st.Role)
			}
		}
		argv = append(argv, path)
	}
	return argv, nil
}

func (p *Pipeline) finish(ctx context.Context, u *unit, completed bool) {
	var total time.Duration
	for _, t := range u.res.StageTimings {
		total += t.Elapsed
	}
	u.res.TotalTime = total

	input := p.inputBytes(u)
	output := u.outputs[p.spec.CandidateRole].Stdout
	var expected []byte
	if p.spec.Policy == spec.PolicyDiff {
		if ref, ok := u.outputs[p.spec.ReferenceRole]; ok {
			expected = ref.Stdout
			if expected == nil {
				expected = []byte{}
			}
		}
	}
	u.res.CapturedInput = result.Capture(input)
	u.res.CapturedOutput = result.Capture(output)
	if expected != nil {
		u.res.CapturedExpected = result.Capture(expected)
	}

	if !completed || p.saver == nil {
		return
	}
	err := p.saver.Save(ctx, p.spec.Mode, u.index, workspace.Artifacts{
		Input:    input,
		Output:   output,
		Expected: expected,
	})
	if err != nil {
		logger.Warn(ctx, "save test artifacts failed", zap.Error(err))
	}
}

// inputBytes is what the candidate read on stdin, or the first stage output.
func (p *Pipeline) inputBytes(u *unit) []byte {
	if cand, ok := p.spec.Stage(p.spec.CandidateRole); ok && cand.Stdin != "" {
		return u.outputs[cand.Stdin].Stdout
	}
	if len(p.spec.Stages) == 0 {
		return nil
	}
	return u.outputs[p.spec.Stages[0].Role].Stdout
}

// Describe renders the stage chain, e.g. "generator -> candidate -> judge".
func (p *Pipeline) Describe() string {
	roles := make([]string, 0, len(p.spec.Stages))
	for _, st := range p.spec.Stages {
		roles = append(roles, string(st.Role))
	}
	return strings.Join(roles, " -> ")
}
