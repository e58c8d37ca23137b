//go:build unix

package pipeline

import (
	"context"
	"os"
	"testing"
	"time"

	"stressjudge/internal/stress/sandbox/engine"
	"stressjudge/internal/stress/sandbox/result"
	"stressjudge/internal/stress/sandbox/spec"
	"stressjudge/internal/stress/workspace"
)

func newProcessEngine(t *testing.T) engine.Engine {
	t.Helper()
	eng, err := engine.NewEngine(engine.Config{})
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	return eng
}

// The judge accepts when the candidate output equals the generated input.
const echoJudge = `test "$(cat "$1")" = "$(cat "$2")"`

func TestEchoScenarioAccepted(t *testing.T) {
	root := t.TempDir()
	writer := workspace.NewWriter(root)
	ps := spec.ValidatorSpec(
		[]string{"sh", "-c", "echo 5"},
		[]string{"cat"},
		[]string{"sh", "-c", echoJudge, "judge"},
	)
	p := newTestPipeline(t, ps, newProcessEngine(t), WithArtifactSaver(writer))
	for i := 1; i <= 3; i++ {
		res := p.Execute(context.Background(), i)
		if res.Outcome.Kind != result.Accepted {
			t.Fatalf("test %d: unexpected outcome %+v diag=%q", i, res.Outcome, res.Diagnostic)
		}
		data, err := os.ReadFile(workspace.OutputPath(root, spec.ModeValidator, i))
		if err != nil || string(data) != "5\n" {
			t.Fatalf("test %d: unexpected saved output %q err=%v", i, data, err)
		}
	}
}

func TestWrongCandidateRejected(t *testing.T) {
	ps := spec.ValidatorSpec(
		[]string{"sh", "-c", "echo 5"},
		[]string{"sh", "-c", "echo 6"},
		[]string{"sh", "-c", echoJudge + ` || exit 1`, "judge"},
	)
	p := newTestPipeline(t, ps, newProcessEngine(t))
	res := p.Execute(context.Background(), 1)
	if res.Outcome.Kind != result.WrongAnswer {
		t.Fatalf("unexpected outcome %+v", res.Outcome)
	}
}

func TestSleepingCandidateTimesOut(t *testing.T) {
	ps := spec.ValidatorSpec(
		[]string{"sh", "-c", "echo 5"},
		[]string{"sleep", "5"},
		[]string{"sh", "-c", "exit 0"},
	)
	ps.Stages[1].Timeout = 200 * time.Millisecond
	p := newTestPipeline(t, ps, newProcessEngine(t))
	res := p.Execute(context.Background(), 1)
	if res.Outcome.Kind != result.Timeout || res.Outcome.Stage != spec.RoleCandidate {
		t.Fatalf("unexpected outcome %+v", res.Outcome)
	}
}

func TestMissingCandidateIsInternalError(t *testing.T) {
	ps := spec.ValidatorSpec(
		[]string{"sh", "-c", "echo 5"},
		[]string{"/nonexistent/candidate"},
		[]string{"sh", "-c", "exit 0"},
	)
	p := newTestPipeline(t, ps, newProcessEngine(t))
	res := p.Execute(context.Background(), 1)
	if res.Outcome.Kind != result.InternalError {
		t.Fatalf("unexpected outcome %+v", res.Outcome)
	}
}
