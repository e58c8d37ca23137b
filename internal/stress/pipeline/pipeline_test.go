package pipeline

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"stressjudge/internal/stress/sandbox/engine"
	"stressjudge/internal/stress/sandbox/result"
	"stressjudge/internal/stress/sandbox/spec"
	"stressjudge/internal/stress/workspace"
	appErr "stressjudge/pkg/errors"
)

type stageFunc func(req engine.StageRequest) (result.StageOutcome, error)

type fakeEngine struct {
	mu     sync.Mutex
	stages map[spec.Role]stageFunc
	calls  []spec.Role
}

func (f *fakeEngine) Run(ctx context.Context, req engine.StageRequest) (result.StageOutcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Role)
	fn := f.stages[req.Role]
	f.mu.Unlock()
	if fn == nil {
		return exited(0, ""), nil
	}
	return fn(req)
}

func (f *fakeEngine) called(role spec.Role) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.calls {
		if r == role {
			return true
		}
	}
	return false
}

func exited(code int, stdout string) result.StageOutcome {
	return result.StageOutcome{Status: result.StageExited, ExitCode: code, Stdout: []byte(stdout), Elapsed: time.Millisecond}
}

func validatorSpec() spec.PipelineSpec {
	return spec.ValidatorSpec([]string{"gen"}, []string{"sol"}, []string{"judge"})
}

func newTestPipeline(t *testing.T, ps spec.PipelineSpec, eng engine.Engine, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithTempRoot(t.TempDir())}, opts...)
	p, err := New(ps, eng, opts...)
	if err != nil {
		t.Fatalf("new pipeline failed: %v", err)
	}
	return p
}

func TestJudgeExitCodes(t *testing.T) {
	cases := []struct {
		code       int
		stdout     string
		want       result.OutcomeKind
		diagnostic string
	}{
		{code: 0, want: result.Accepted},
		{code: 1, stdout: "expected 10 got 9", want: result.WrongAnswer, diagnostic: "expected 10 got 9"},
		{code: 1, want: result.WrongAnswer, diagnostic: "wrong answer"},
		{code: 2, want: result.PresentationError, diagnostic: "presentation error"},
		{code: 3, want: result.JudgeError},
	}
	for _, tc := range cases {
		eng := &fakeEngine{stages: map[spec.Role]stageFunc{
			spec.RoleGenerator: func(engine.StageRequest) (result.StageOutcome, error) { return exited(0, "5\n"), nil },
			spec.RoleCandidate: func(engine.StageRequest) (result.StageOutcome, error) { return exited(0, "10\n"), nil },
			spec.RoleJudge: func(engine.StageRequest) (result.StageOutcome, error) {
				return exited(tc.code, tc.stdout), nil
			},
		}}
		p := newTestPipeline(t, validatorSpec(), eng)
		res := p.Execute(context.Background(), 1)
		if res.Outcome.Kind != tc.want {
			t.Fatalf("exit %d: expected %s, got %s", tc.code, tc.want, res.Outcome.Kind)
		}
		if tc.diagnostic != "" && res.Diagnostic != tc.diagnostic {
			t.Fatalf("exit %d: unexpected diagnostic %q", tc.code, res.Diagnostic)
		}
		if res.JudgeExitCode == nil || *res.JudgeExitCode != tc.code {
			t.Fatalf("exit %d: unexpected judge exit code %v", tc.code, res.JudgeExitCode)
		}
		if res.CapturedInput != "5\n" || res.CapturedOutput != "10\n" {
			t.Fatalf("unexpected captures: %q %q", res.CapturedInput, res.CapturedOutput)
		}
		if len(res.StageTimings) != 3 || res.TotalTime != 3*time.Millisecond {
			t.Fatalf("unexpected timings: %+v total=%v", res.StageTimings, res.TotalTime)
		}
	}
}

func TestNonFinalStageFailureStopsUnit(t *testing.T) {
	eng := &fakeEngine{stages: map[spec.Role]stageFunc{
		spec.RoleCandidate: func(engine.StageRequest) (result.StageOutcome, error) {
			out := exited(139, "")
			out.Stderr = []byte("segfault")
			return out, nil
		},
	}}
	p := newTestPipeline(t, validatorSpec(), eng)
	res := p.Execute(context.Background(), 2)
	if res.Outcome.Kind != result.StageFailed || res.Outcome.Stage != spec.RoleCandidate {
		t.Fatalf("unexpected outcome: %+v", res.Outcome)
	}
	if res.Outcome.ExitCode == nil || *res.Outcome.ExitCode != 139 {
		t.Fatalf("unexpected exit code: %v", res.Outcome.ExitCode)
	}
	if res.Diagnostic != "segfault" {
		t.Fatalf("unexpected diagnostic: %q", res.Diagnostic)
	}
	if eng.called(spec.RoleJudge) {
		t.Fatalf("judge must not run after a failed stage")
	}
	if *res.JudgeExitCode != -1 {
		t.Fatalf("judge exit code should be -1, got %d", *res.JudgeExitCode)
	}
}

func TestStageTimeout(t *testing.T) {
	eng := &fakeEngine{stages: map[spec.Role]stageFunc{
		spec.RoleCandidate: func(engine.StageRequest) (result.StageOutcome, error) {
			return result.StageOutcome{Status: result.StageTimedOut, ExitCode: -1, Elapsed: 30 * time.Second}, nil
		},
	}}
	p := newTestPipeline(t, validatorSpec(), eng)
	res := p.Execute(context.Background(), 3)
	if res.Outcome.Kind != result.Timeout || res.Outcome.Stage != spec.RoleCandidate {
		t.Fatalf("unexpected outcome: %+v", res.Outcome)
	}
	if eng.called(spec.RoleJudge) {
		t.Fatalf("judge must not run after a timeout")
	}
	if res.TotalTime < 30*time.Second {
		t.Fatalf("timings should include the timed out stage, got %v", res.TotalTime)
	}
}

func TestStartFailureIsInternalError(t *testing.T) {
	eng := &fakeEngine{stages: map[spec.Role]stageFunc{
		spec.RoleGenerator: func(engine.StageRequest) (result.StageOutcome, error) {
			return result.StageOutcome{Status: result.StageStartFailed, ExitCode: -1},
				appErr.Wrapf(errors.New("no such file"), appErr.StageStartFailed, "start generator")
		},
	}}
	p := newTestPipeline(t, validatorSpec(), eng)
	res := p.Execute(context.Background(), 1)
	if res.Outcome.Kind != result.InternalError || res.Outcome.Stage != spec.RoleGenerator {
		t.Fatalf("unexpected outcome: %+v", res.Outcome)
	}
	if !strings.Contains(res.Outcome.Message, "no such file") {
		t.Fatalf("expected cause in message, got %q", res.Outcome.Message)
	}
}

func TestCanceledContext(t *testing.T) {
	eng := &fakeEngine{}
	p := newTestPipeline(t, validatorSpec(), eng)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := p.Execute(ctx, 1)
	if res.Outcome.Kind != result.Canceled {
		t.Fatalf("expected canceled, got %+v", res.Outcome)
	}
	if eng.called(spec.RoleGenerator) {
		t.Fatalf("no stage should run on a canceled context")
	}
}

func TestJudgeReceivesArgFiles(t *testing.T) {
	var gotArgs []string
	var gotInput, gotOutput string
	eng := &fakeEngine{stages: map[spec.Role]stageFunc{
		spec.RoleGenerator: func(engine.StageRequest) (result.StageOutcome, error) { return exited(0, "1 2\n"), nil },
		spec.RoleCandidate: func(req engine.StageRequest) (result.StageOutcome, error) {
			if string(req.Stdin) != "1 2\n" {
				return exited(1, ""), nil
			}
			return exited(0, "3\n"), nil
		},
		spec.RoleJudge: func(req engine.StageRequest) (result.StageOutcome, error) {
			gotArgs = req.Command
			if len(req.Command) == 3 {
				in, _ := os.ReadFile(req.Command[1])
				out, _ := os.ReadFile(req.Command[2])
				gotInput, gotOutput = string(in), string(out)
			}
			return exited(0, ""), nil
		},
	}}
	root := t.TempDir()
	p, err := New(validatorSpec(), eng, WithTempRoot(root))
	if err != nil {
		t.Fatalf("new pipeline failed: %v", err)
	}
	res := p.Execute(context.Background(), 1)
	if res.Outcome.Kind != result.Accepted {
		t.Fatalf("unexpected outcome: %+v", res.Outcome)
	}
	if len(gotArgs) != 3 || gotArgs[0] != "judge" {
		t.Fatalf("unexpected judge argv: %v", gotArgs)
	}
	if gotInput != "1 2\n" || gotOutput != "3\n" {
		t.Fatalf("unexpected arg file contents: %q %q", gotInput, gotOutput)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read temp root failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("unit directory was not removed: %v", entries)
	}
}

func TestDiffPolicy(t *testing.T) {
	cases := []struct {
		name      string
		candidate string
		reference string
		refExit   int
		want      result.OutcomeKind
	}{
		{name: "match", candidate: "3\n", reference: "3", want: result.Accepted},
		{name: "mismatch", candidate: "4\n", reference: "3\n", want: result.WrongAnswer},
		{name: "reference crashed", candidate: "3\n", reference: "", refExit: 1, want: result.StageFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := &fakeEngine{stages: map[spec.Role]stageFunc{
				spec.RoleCandidate: func(engine.StageRequest) (result.StageOutcome, error) { return exited(0, tc.candidate), nil },
				spec.RoleReference: func(engine.StageRequest) (result.StageOutcome, error) {
					return exited(tc.refExit, tc.reference), nil
				},
			}}
			ps := spec.ComparatorSpec([]string{"gen"}, []string{"sol"}, []string{"ref"})
			p := newTestPipeline(t, ps, eng)
			res := p.Execute(context.Background(), 1)
			if res.Outcome.Kind != tc.want {
				t.Fatalf("expected %s, got %+v", tc.want, res.Outcome)
			}
			if tc.refExit == 0 && res.CapturedExpected != tc.reference {
				t.Fatalf("unexpected expected capture: %q", res.CapturedExpected)
			}
		})
	}
}

func TestBenchmarkPolicy(t *testing.T) {
	limit := int64(64 << 20)
	cases := []struct {
		name   string
		exit   int
		memory *int64
		want   result.OutcomeKind
	}{
		{name: "ok", memory: result.Int64Ptr(1 << 20), want: result.Accepted},
		{name: "no memory sample", want: result.Accepted},
		{name: "runtime error", exit: 1, want: result.StageFailed},
		{name: "memory exceeded", memory: result.Int64Ptr(limit + 1), want: result.MemoryLimitExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := &fakeEngine{stages: map[spec.Role]stageFunc{
				spec.RoleCandidate: func(engine.StageRequest) (result.StageOutcome, error) {
					out := exited(tc.exit, "ok")
					out.PeakMemoryBytes = tc.memory
					return out, nil
				},
			}}
			ps := spec.BenchmarkSpec([]string{"gen"}, []string{"sol"}, time.Second, limit)
			p := newTestPipeline(t, ps, eng)
			res := p.Execute(context.Background(), 1)
			if res.Outcome.Kind != tc.want {
				t.Fatalf("expected %s, got %+v", tc.want, res.Outcome)
			}
			if tc.memory != nil && (res.PeakMemoryBytes == nil || *res.PeakMemoryBytes != *tc.memory) {
				t.Fatalf("unexpected peak memory: %v", res.PeakMemoryBytes)
			}
		})
	}
}

type recordingSaver struct {
	mu    sync.Mutex
	saved map[int]workspace.Artifacts
}

func (r *recordingSaver) Save(ctx context.Context, mode string, index int, a workspace.Artifacts) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saved == nil {
		r.saved = make(map[int]workspace.Artifacts)
	}
	r.saved[index] = a
	return nil
}

func TestArtifactsSavedForCompletedUnits(t *testing.T) {
	saver := &recordingSaver{}
	eng := &fakeEngine{stages: map[spec.Role]stageFunc{
		spec.RoleGenerator: func(engine.StageRequest) (result.StageOutcome, error) { return exited(0, "in"), nil },
		spec.RoleCandidate: func(engine.StageRequest) (result.StageOutcome, error) { return exited(0, "out"), nil },
		spec.RoleJudge:     func(engine.StageRequest) (result.StageOutcome, error) { return exited(1, ""), nil },
	}}
	p := newTestPipeline(t, validatorSpec(), eng, WithArtifactSaver(saver))
	p.Execute(context.Background(), 4)
	a, ok := saver.saved[4]
	if !ok {
		t.Fatalf("expected artifacts for index 4")
	}
	if string(a.Input) != "in" || string(a.Output) != "out" || a.Expected != nil {
		t.Fatalf("unexpected artifacts: %+v", a)
	}
}

func TestNewRejectsInvalidSpec(t *testing.T) {
	ps := spec.PipelineSpec{Stages: []spec.StageSpec{{Role: "a", Command: []string{"x"}, Stdin: "b"}}, Policy: spec.PolicyBenchmark}
	if _, err := New(ps, &fakeEngine{}); !appErr.Is(err, appErr.PipelineInvalid) {
		t.Fatalf("expected pipeline invalid error, got %v", err)
	}
	if _, err := New(validatorSpec(), nil); err == nil {
		t.Fatalf("expected error for nil engine")
	}
}

type fixedPolicy struct {
	verdict Verdict
	calls   int
}

func (f *fixedPolicy) Classify(ps spec.PipelineSpec, outputs map[spec.Role]result.StageOutcome) Verdict {
	f.calls++
	return f.verdict
}

func TestWithPolicyOverridesSpecPolicy(t *testing.T) {
	policy := &fixedPolicy{verdict: Verdict{
		Outcome:    result.Outcome{Kind: result.WrongAnswer, Stage: spec.RoleJudge},
		Diagnostic: "rejected by custom policy",
	}}
	p := newTestPipeline(t, validatorSpec(), &fakeEngine{}, WithPolicy(policy))
	res := p.Execute(context.Background(), 1)
	if policy.calls != 1 {
		t.Fatalf("expected custom policy to run once, got %d", policy.calls)
	}
	if res.Outcome.Kind != result.WrongAnswer || res.Diagnostic != "rejected by custom policy" {
		t.Fatalf("unexpected result: %+v", res)
	}
}
