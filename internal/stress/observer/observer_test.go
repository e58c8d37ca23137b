package observer

import (
	"testing"

	"stressjudge/internal/stress/sandbox/result"
)

func TestMultiSurvivesPanickingObserver(t *testing.T) {
	var completed []int
	var allPassed *bool
	m := Multi{
		Funcs{OnTestCompleted: func(result.TestCaseResult) { panic("boom") }},
		Funcs{
			OnTestCompleted:     func(r result.TestCaseResult) { completed = append(completed, r.Index) },
			OnAllTestsCompleted: func(ok bool) { allPassed = &ok },
		},
	}
	m.TestCompleted(result.TestCaseResult{Index: 7})
	m.AllTestsCompleted(true)
	if len(completed) != 1 || completed[0] != 7 {
		t.Fatalf("second observer not notified: %v", completed)
	}
	if allPassed == nil || !*allPassed {
		t.Fatalf("expected allPassed=true")
	}
}

func TestMultiForwardsActivityOnlyToActivityObservers(t *testing.T) {
	busy := 0
	m := Multi{
		Noop{},
		Funcs{OnWorkerBusy: func(workerID, index int) { busy += index }},
	}
	m.WorkerBusy(1, 5)
	m.WorkerIdle(1)
	if busy != 5 {
		t.Fatalf("expected busy notification, got %d", busy)
	}
}

func TestChannelDropsWhenFull(t *testing.T) {
	c := NewChannel(2)
	c.TestStarted(1, 3)
	c.TestStarted(2, 3)
	c.TestStarted(3, 3)
	if c.Dropped() != 1 {
		t.Fatalf("expected one dropped event, got %d", c.Dropped())
	}
	ev := <-c.Events()
	if ev.Type != EventTestStarted || ev.Current != 1 || ev.Total != 3 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	c.Close()
	c.Close()
	c.AllTestsCompleted(true)
	if c.Dropped() != 2 {
		t.Fatalf("events after close should be dropped, got %d", c.Dropped())
	}
	count := 0
	for range c.Events() {
		count++
	}
	if count != 1 {
		t.Fatalf("expected one remaining event, got %d", count)
	}
}

func TestChannelCompletedEvent(t *testing.T) {
	c := NewChannel(1)
	c.TestCompleted(result.TestCaseResult{Index: 4, Outcome: result.Outcome{Kind: result.WrongAnswer}})
	ev := <-c.Events()
	if ev.Result == nil || ev.Result.Index != 4 || ev.Index != 4 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
