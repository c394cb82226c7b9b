package api

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingObserver struct {
	NoopObserver
	starts int
}

func (o *countingObserver) OnWorkflowStart(ctx context.Context, state *WorkflowState) {
	o.starts++
}

func TestCompositeObserver_FansOut(t *testing.T) {
	a := &countingObserver{}
	b := &countingObserver{}

	obs := NewCompositeObserver(a, nil, b)
	obs.OnWorkflowStart(context.Background(), NewWorkflowState("wf", "def", nil))

	if a.starts != 1 || b.starts != 1 {
		t.Fatalf("expected both observers called once, got %d and %d", a.starts, b.starts)
	}
}

func TestNewCompositeObserver_Degenerate(t *testing.T) {
	if _, ok := NewCompositeObserver().(NoopObserver); !ok {
		t.Fatalf("expected NoopObserver for empty composite")
	}

	single := &countingObserver{}
	if NewCompositeObserver(single, nil) != Observer(single) {
		t.Fatalf("expected single observer to be returned unwrapped")
	}
}

func TestBasicMetrics_Snapshot(t *testing.T) {
	ctx := context.Background()
	st := NewWorkflowState("wf", "def", nil)
	m := &BasicMetrics{}

	m.OnWorkflowStart(ctx, st)
	m.OnWorkflowStart(ctx, st)
	m.OnWorkflowCompleted(ctx, st)
	m.OnWorkflowFailed(ctx, st, errors.New("boom"))

	m.OnStepStart(ctx, st, "a", 1)
	m.OnStepStart(ctx, st, "a", 2)
	m.OnStepCompleted(ctx, st, "a", 2, nil, 10*time.Millisecond)
	m.OnStepCompleted(ctx, st, "b", 1, nil, 30*time.Millisecond)
	m.OnStepCompleted(ctx, st, "c", 1, errors.New("fail"), time.Millisecond)

	snap := m.Snapshot()
	if snap.WorkflowsStarted != 2 || snap.WorkflowsCompleted != 1 || snap.WorkflowsFailed != 1 {
		t.Fatalf("unexpected workflow counters: %+v", snap)
	}
	if snap.ActiveWorkflows != 0 {
		t.Fatalf("expected 0 active, got %d", snap.ActiveWorkflows)
	}
	if snap.StepsCompleted != 2 {
		t.Fatalf("expected 2 completed steps, got %d", snap.StepsCompleted)
	}
	if snap.StepsRetried != 1 {
		t.Fatalf("expected 1 retried step, got %d", snap.StepsRetried)
	}
	if snap.AvgStepDuration != 20*time.Millisecond {
		t.Fatalf("expected avg 20ms, got %v", snap.AvgStepDuration)
	}
}
