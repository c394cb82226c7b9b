package engine

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/petrijr/cascade/internal/persistence"
	"github.com/petrijr/cascade/pkg/api"
)

type runnerFactory func(t *testing.T, cfg Config) *Runner

func inMemoryRunner(t *testing.T, cfg Config) *Runner {
	t.Helper()
	cfg.Store = persistence.NewInMemoryStore()
	r, err := NewRunner(cfg)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return r
}

func sqliteRunner(t *testing.T, cfg Config) *Runner {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	cfg.Store = store

	r, err := NewRunner(cfg)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return r
}

func runnerFactories() map[string]runnerFactory {
	return map[string]runnerFactory{
		"in-memory": inMemoryRunner,
		"sqlite":    sqliteRunner,
	}
}

func mustRegister(t *testing.T, r *Runner, def api.WorkflowDefinition) {
	t.Helper()
	if err := r.RegisterDefinition(def); err != nil {
		t.Fatalf("RegisterDefinition failed: %v", err)
	}
}

func TestExecute_LinearWorkflowPropagatesOutputs(t *testing.T) {
	for name, factory := range runnerFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			reg := api.NewRegistry()

			_ = reg.RegisterFunc("fetch", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
				return ec.Input.(int) * 2, nil
			})
			_ = reg.RegisterFunc("transform", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
				v, ok := ec.Output("fetch")
				if !ok {
					return nil, errors.New("missing fetch output")
				}
				return v.(int) + 1, nil
			})

			r := factory(t, Config{Actions: reg})
			mustRegister(t, r, api.WorkflowDefinition{
				ID: "linear",
				Steps: []api.WorkflowStep{
					{ID: "fetch", Action: "fetch"},
					{ID: "transform", Action: "transform", Dependencies: []string{"fetch"}},
				},
			})

			result, err := r.Execute(ctx, "linear", 20)
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if !result.Success {
				t.Fatalf("expected success, got %q (%v)", result.State.Status, result.Err())
			}
			if got := result.State.Context.Outputs["transform"]; got != 41 {
				t.Fatalf("expected transform output 41, got %v", got)
			}
			if len(result.State.History) != 2 {
				t.Fatalf("expected 2 history entries, got %d", len(result.State.History))
			}
			if result.State.History[0].StepID != "fetch" || result.State.History[1].StepID != "transform" {
				t.Fatalf("unexpected history order: %+v", result.State.History)
			}

			// The terminal state is persisted.
			loaded, err := r.Load(ctx, result.State.WorkflowID)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.Status != api.StatusSuccess {
				t.Fatalf("persisted status %q", loaded.Status)
			}
		})
	}
}

func TestExecute_IndependentStepsRunInOneBatch(t *testing.T) {
	ctx := context.Background()
	reg := api.NewRegistry()

	// Each step only finishes once the other has started; a sequential
	// scheduler would deadlock here, so the timeouts double as the assertion.
	leftStarted := make(chan struct{})
	rightStarted := make(chan struct{})
	handshake := func(started chan<- struct{}, other <-chan struct{}) (any, error) {
		close(started)
		select {
		case <-other:
			return "ok", nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("sibling never started")
		}
	}
	_ = reg.RegisterFunc("left", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
		return handshake(leftStarted, rightStarted)
	})
	_ = reg.RegisterFunc("right", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
		return handshake(rightStarted, leftStarted)
	})

	r := inMemoryRunner(t, Config{Actions: reg})
	mustRegister(t, r, api.WorkflowDefinition{
		ID: "parallel",
		Steps: []api.WorkflowStep{
			{ID: "left", Action: "left"},
			{ID: "right", Action: "right"},
		},
	})

	result, err := r.Execute(ctx, "parallel", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %q (%v)", result.State.Status, result.Err())
	}
}

func TestExecute_RetriesUntilSuccess(t *testing.T) {
	for name, factory := range runnerFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			reg := api.NewRegistry()

			var mu sync.Mutex
			calls := 0
			_ = reg.RegisterFunc("flaky", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
				mu.Lock()
				defer mu.Unlock()
				calls++
				if calls < 3 {
					return nil, errors.New("temporary failure")
				}
				return "ok", nil
			})

			r := factory(t, Config{Actions: reg})
			mustRegister(t, r, api.WorkflowDefinition{
				ID: "retrying",
				Steps: []api.WorkflowStep{
					{ID: "flaky", Action: "flaky", MaxRetries: 3, RetryBaseDelay: 10 * time.Millisecond},
				},
			})

			start := time.Now()
			result, err := r.Execute(ctx, "retrying", nil)
			elapsed := time.Since(start)

			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if !result.Success {
				t.Fatalf("expected success, got %q (%v)", result.State.Status, result.Err())
			}
			if calls != 3 {
				t.Fatalf("expected 3 invocations, got %d", calls)
			}
			// Two backoff waits: 10ms + 20ms.
			if elapsed < 30*time.Millisecond {
				t.Fatalf("expected at least 30ms of backoff, elapsed %v", elapsed)
			}
			if ctr := result.State.Retries["flaky"]; ctr == nil || ctr.Attempt != 2 {
				t.Fatalf("expected 2 retries recorded, got %+v", ctr)
			}
		})
	}
}

func TestExecute_FallbackAbsorbsExhaustedFailure(t *testing.T) {
	for name, factory := range runnerFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			reg := api.NewRegistry()

			_ = reg.RegisterFunc("broken", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
				return nil, errors.New("service down")
			})
			_ = reg.RegisterFunc("cached", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
				return "cached-value", nil
			})
			_ = reg.RegisterFunc("consume", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
				v, ok := ec.Output("score-cached")
				if !ok {
					return nil, errors.New("missing fallback output")
				}
				return v, nil
			})

			r := factory(t, Config{Actions: reg})
			mustRegister(t, r, api.WorkflowDefinition{
				ID: "with-fallback",
				Steps: []api.WorkflowStep{
					{ID: "score", Action: "broken", MaxRetries: 1, RetryBaseDelay: 5 * time.Millisecond},
					{ID: "score-cached", Action: "cached"},
					{ID: "consume", Action: "consume", Dependencies: []string{"score"}},
				},
				Fallbacks: map[string]string{"score": "score-cached"},
			})

			result, err := r.Execute(ctx, "with-fallback", nil)
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if !result.Success {
				t.Fatalf("expected fallback to rescue workflow, got %q (%v)", result.State.Status, result.Err())
			}
			if got := result.State.Context.Outputs["consume"]; got != "cached-value" {
				t.Fatalf("expected downstream to consume fallback output, got %v", got)
			}
			if !result.State.Succeeded("score-cached") {
				t.Fatalf("expected fallback step in history")
			}
		})
	}
}

func TestExecute_ErrorHandlerRunsOnceThenWorkflowFails(t *testing.T) {
	ctx := context.Background()
	reg := api.NewRegistry()

	var mu sync.Mutex
	rollbacks := 0
	_ = reg.RegisterFunc("explode", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
		se := api.NewStepError(api.ErrorKindExecution, "unrecoverable")
		se.Retryable = false
		return nil, se
	})
	_ = reg.RegisterFunc("rollback", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		rollbacks++
		return nil, nil
	})

	r := inMemoryRunner(t, Config{Actions: reg})
	mustRegister(t, r, api.WorkflowDefinition{
		ID: "with-handler",
		Steps: []api.WorkflowStep{
			{ID: "explode", Action: "explode", MaxRetries: 2},
			{ID: "rollback", Action: "rollback"},
		},
		ErrorHandler: "rollback",
	})

	result, err := r.Execute(ctx, "with-handler", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Success {
		t.Fatalf("handler success must not turn the workflow successful")
	}
	if result.State.Status != api.StatusFailed {
		t.Fatalf("expected FAILED, got %q", result.State.Status)
	}
	if rollbacks != 1 {
		t.Fatalf("expected handler to run once, ran %d times", rollbacks)
	}
	var se *api.StepError
	if !errors.As(result.Err(), &se) || se.StepID != "explode" {
		t.Fatalf("expected original step error, got %v", result.Err())
	}
}

func TestExecute_PartialBatchFailureKeepsSiblingOutputs(t *testing.T) {
	ctx := context.Background()
	reg := api.NewRegistry()

	_ = reg.RegisterFunc("good", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
		return "good-output", nil
	})
	_ = reg.RegisterFunc("bad", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
		se := api.NewStepError(api.ErrorKindExecution, "broken sibling")
		se.Retryable = false
		return nil, se
	})

	r := inMemoryRunner(t, Config{Actions: reg})
	mustRegister(t, r, api.WorkflowDefinition{
		ID: "partial",
		Steps: []api.WorkflowStep{
			{ID: "good", Action: "good"},
			{ID: "bad", Action: "bad"},
		},
	})

	result, err := r.Execute(ctx, "partial", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure")
	}
	if got := result.State.Context.Outputs["good"]; got != "good-output" {
		t.Fatalf("expected sibling output preserved, got %v", got)
	}
	if !result.State.Succeeded("good") {
		t.Fatalf("expected good step recorded as SUCCESS")
	}
}

func TestExecute_SiblingFailureRoutesThroughFallback(t *testing.T) {
	ctx := context.Background()
	reg := api.NewRegistry()

	var mu sync.Mutex
	flakyCalls := 0
	_ = reg.RegisterFunc("flaky", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		flakyCalls++
		if flakyCalls == 1 {
			return nil, errors.New("transient")
		}
		return "recovered", nil
	})
	_ = reg.RegisterFunc("broken", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
		return nil, errors.New("permanently down")
	})
	_ = reg.RegisterFunc("cached", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
		return "cached-value", nil
	})

	r := inMemoryRunner(t, Config{Actions: reg})
	mustRegister(t, r, api.WorkflowDefinition{
		ID: "sibling-fallback",
		Steps: []api.WorkflowStep{
			{ID: "a", Action: "flaky", MaxRetries: 1, RetryBaseDelay: 5 * time.Millisecond},
			{ID: "b", Action: "broken"},
			{ID: "b-cached", Action: "cached"},
		},
		Fallbacks: map[string]string{"b": "b-cached"},
	})

	result, err := r.Execute(ctx, "sibling-fallback", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	// Both first-batch failures get routed: a is retried, b's fallback fires
	// even though b itself has no retries left.
	if !result.Success {
		t.Fatalf("expected success, got %q (%v)", result.State.Status, result.Err())
	}
	if !result.State.Succeeded("b-cached") {
		t.Fatalf("fallback for b never ran: %+v", result.State.History)
	}
	if result.State.LastError != nil {
		t.Fatalf("expected LastError cleared, got %v", result.State.LastError)
	}
	if len(result.State.PendingErrors) != 0 {
		t.Fatalf("expected no queued failures left, got %v", result.State.PendingErrors)
	}
}

func TestExecute_ParallelFailuresRetryIndependently(t *testing.T) {
	ctx := context.Background()
	reg := api.NewRegistry()

	var mu sync.Mutex
	calls := map[string]int{}
	flaky := func(name string, failures int) api.ActionFunc {
		return func(ctx context.Context, ec api.ExecutionContext) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			calls[name]++
			if calls[name] <= failures {
				return nil, errors.New("transient")
			}
			return name + "-ok", nil
		}
	}
	_ = reg.RegisterFunc("left", flaky("left", 1))
	_ = reg.RegisterFunc("right", flaky("right", 2))

	r := inMemoryRunner(t, Config{Actions: reg})
	mustRegister(t, r, api.WorkflowDefinition{
		ID: "parallel-retries",
		Steps: []api.WorkflowStep{
			{ID: "left", Action: "left", MaxRetries: 2, RetryBaseDelay: 5 * time.Millisecond},
			{ID: "right", Action: "right", MaxRetries: 2, RetryBaseDelay: 5 * time.Millisecond},
		},
	})

	result, err := r.Execute(ctx, "parallel-retries", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %q (%v)", result.State.Status, result.Err())
	}
	if calls["left"] != 2 || calls["right"] != 3 {
		t.Fatalf("unexpected invocation counts: %v", calls)
	}
	// Each step keeps its own counter.
	if ctr := result.State.Retries["left"]; ctr == nil || ctr.Attempt != 1 {
		t.Fatalf("expected 1 retry for left, got %+v", ctr)
	}
	if ctr := result.State.Retries["right"]; ctr == nil || ctr.Attempt != 2 {
		t.Fatalf("expected 2 retries for right, got %+v", ctr)
	}
}

func TestExecute_ReturnedStepErrorNotMutated(t *testing.T) {
	ctx := context.Background()
	reg := api.NewRegistry()

	sentinel := api.NewStepError(api.ErrorKindExecution, "shared failure")
	sentinel.Retryable = false
	_ = reg.RegisterFunc("fail", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
		return nil, sentinel
	})

	r := inMemoryRunner(t, Config{Actions: reg})
	mustRegister(t, r, api.WorkflowDefinition{
		ID:    "sentinel",
		Steps: []api.WorkflowStep{{ID: "a", Action: "fail"}},
	})

	result, err := r.Execute(ctx, "sentinel", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.State.LastError == nil || result.State.LastError.StepID != "a" {
		t.Fatalf("expected recorded error stamped with step id, got %+v", result.State.LastError)
	}
	if sentinel.StepID != "" {
		t.Fatalf("engine mutated the action's error value: %+v", sentinel)
	}
}

func TestExecute_HumanReviewParkAndResume(t *testing.T) {
	for name, factory := range runnerFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			reg := api.NewRegistry()

			applied := false
			_ = reg.RegisterFunc("prepare", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
				return "prepared", nil
			})
			_ = reg.RegisterFunc("apply", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
				applied = true
				return "applied", nil
			})

			r := factory(t, Config{Actions: reg})
			mustRegister(t, r, api.WorkflowDefinition{
				ID: "gated",
				Steps: []api.WorkflowStep{
					{ID: "prepare", Action: "prepare"},
					{ID: "apply", Action: "apply", Dependencies: []string{"prepare"}, RequiresHumanReview: true},
				},
			})

			result, err := r.Execute(ctx, "gated", nil)
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if result.State.Status != api.StatusPendingHumanReview {
				t.Fatalf("expected PENDING_HUMAN_REVIEW, got %q", result.State.Status)
			}
			if applied {
				t.Fatalf("gated step ran before approval")
			}

			resumed, err := r.Resume(ctx, result.State.WorkflowID, api.ResumeUpdates{
				ApproveSteps: []string{"apply"},
			})
			if err != nil {
				t.Fatalf("Resume failed: %v", err)
			}
			if !resumed.Success {
				t.Fatalf("expected success after approval, got %q (%v)", resumed.State.Status, resumed.Err())
			}
			if !applied {
				t.Fatalf("gated step did not run after approval")
			}
		})
	}
}

func TestResume_WithoutApprovalParksAgain(t *testing.T) {
	ctx := context.Background()
	reg := api.NewRegistry()
	_ = reg.RegisterFunc("apply", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
		return nil, nil
	})

	r := inMemoryRunner(t, Config{Actions: reg})
	mustRegister(t, r, api.WorkflowDefinition{
		ID:    "gated",
		Steps: []api.WorkflowStep{{ID: "apply", Action: "apply", RequiresHumanReview: true}},
	})

	result, err := r.Execute(ctx, "gated", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	resumed, err := r.Resume(ctx, result.State.WorkflowID, api.ResumeUpdates{})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.State.Status != api.StatusPendingHumanReview {
		t.Fatalf("expected to park again, got %q", resumed.State.Status)
	}
}

type repairableAction struct {
	mu            sync.Mutex
	validateCalls int
	instructions  []string
}

func (a *repairableAction) Validate(ec api.ExecutionContext) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.validateCalls++
	if a.validateCalls == 1 {
		return errors.New("amount must be positive")
	}
	return nil
}

func (a *repairableAction) Execute(ctx context.Context, ec api.ExecutionContext) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.instructions = append(a.instructions, ec.Instructions)
	return "ok", nil
}

func TestExecute_ValidationFailureTriggersRepairRun(t *testing.T) {
	ctx := context.Background()
	reg := api.NewRegistry()
	action := &repairableAction{}
	if err := reg.Register("charge", action); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	r := inMemoryRunner(t, Config{Actions: reg})
	mustRegister(t, r, api.WorkflowDefinition{
		ID:    "validated",
		Steps: []api.WorkflowStep{{ID: "charge", Action: "charge"}},
	})

	result, err := r.Execute(ctx, "validated", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success after repair, got %q (%v)", result.State.Status, result.Err())
	}
	if action.validateCalls != 2 {
		t.Fatalf("expected 2 validations, got %d", action.validateCalls)
	}
	if len(action.instructions) != 1 || action.instructions[0] != "amount must be positive" {
		t.Fatalf("expected repair instructions on re-run, got %v", action.instructions)
	}
	// Repair runs do not consume the retry budget.
	if ctr, ok := result.State.Retries["charge"]; ok && ctr.Attempt != 0 {
		t.Fatalf("repair consumed a retry: %+v", ctr)
	}
}

type cleanupAction struct {
	mu       sync.Mutex
	cleanups int
}

func (a *cleanupAction) Execute(ctx context.Context, ec api.ExecutionContext) (any, error) {
	return "ok", nil
}

func (a *cleanupAction) Cleanup() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleanups++
	return nil
}

func TestExecute_CleanupRunsAfterEachInvocation(t *testing.T) {
	ctx := context.Background()
	reg := api.NewRegistry()
	action := &cleanupAction{}
	if err := reg.Register("with-cleanup", action); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	r := inMemoryRunner(t, Config{Actions: reg})
	mustRegister(t, r, api.WorkflowDefinition{
		ID:    "cleanup",
		Steps: []api.WorkflowStep{{ID: "a", Action: "with-cleanup"}},
	})

	if _, err := r.Execute(ctx, "cleanup", nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if action.cleanups != 1 {
		t.Fatalf("expected 1 cleanup, got %d", action.cleanups)
	}
}

func TestExecute_WorkflowTimeoutBoundsRetryLoop(t *testing.T) {
	ctx := context.Background()
	reg := api.NewRegistry()
	_ = reg.RegisterFunc("always-fail", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
		return nil, errors.New("fail")
	})

	r := inMemoryRunner(t, Config{
		Actions:          reg,
		MaxExecutionTime: 60 * time.Millisecond,
	})
	mustRegister(t, r, api.WorkflowDefinition{
		ID: "bounded",
		Steps: []api.WorkflowStep{
			{ID: "a", Action: "always-fail", MaxRetries: 100, RetryBaseDelay: 20 * time.Millisecond},
		},
	})

	result, err := r.Execute(ctx, "bounded", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.State.Status != api.StatusTimedOut {
		t.Fatalf("expected TIMED_OUT, got %q", result.State.Status)
	}
	if result.State.LastError == nil || result.State.LastError.Kind != api.ErrorKindTimeout {
		t.Fatalf("expected TIMEOUT error, got %+v", result.State.LastError)
	}
	if result.State.LastError.Retryable {
		t.Fatalf("workflow timeout must not be retryable")
	}
}

func TestExecute_StepTimeout(t *testing.T) {
	ctx := context.Background()
	reg := api.NewRegistry()
	_ = reg.RegisterFunc("slow", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
		select {
		case <-time.After(500 * time.Millisecond):
			return "too late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	r := inMemoryRunner(t, Config{Actions: reg})
	mustRegister(t, r, api.WorkflowDefinition{
		ID:    "slow",
		Steps: []api.WorkflowStep{{ID: "slow", Action: "slow", Timeout: 20 * time.Millisecond}},
	})

	start := time.Now()
	result, err := r.Execute(ctx, "slow", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.State.Status != api.StatusTimedOut {
		t.Fatalf("expected TIMED_OUT, got %q", result.State.Status)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("timeout did not short-circuit the step; elapsed %v", elapsed)
	}
}

func TestExecute_CancellationDuringBackoff(t *testing.T) {
	reg := api.NewRegistry()
	_ = reg.RegisterFunc("always-fail", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
		return nil, errors.New("fail")
	})

	r := inMemoryRunner(t, Config{Actions: reg})
	mustRegister(t, r, api.WorkflowDefinition{
		ID: "cancelable",
		Steps: []api.WorkflowStep{
			{ID: "a", Action: "always-fail", MaxRetries: 5, RetryBaseDelay: 200 * time.Millisecond},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := r.Execute(ctx, "cancelable", nil)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.State.Status != api.StatusCanceled {
		t.Fatalf("expected CANCELED, got %q", result.State.Status)
	}
	if elapsed > 150*time.Millisecond {
		t.Fatalf("cancellation did not short-circuit backoff; elapsed %v", elapsed)
	}
}

func TestExecute_UnknownDefinition(t *testing.T) {
	reg := api.NewRegistry()
	r := inMemoryRunner(t, Config{Actions: reg})

	if _, err := r.Execute(context.Background(), "nope", nil); err == nil {
		t.Fatalf("expected error for unknown definition")
	}
}

func TestExecute_ActionNotFoundFailsStep(t *testing.T) {
	reg := api.NewRegistry()
	r := inMemoryRunner(t, Config{Actions: reg})
	mustRegister(t, r, api.WorkflowDefinition{
		ID:    "missing-action",
		Steps: []api.WorkflowStep{{ID: "a", Action: "not-registered", MaxRetries: 3}},
	})

	result, err := r.Execute(context.Background(), "missing-action", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.State.Status != api.StatusFailed {
		t.Fatalf("expected FAILED, got %q", result.State.Status)
	}
	if result.State.LastError.Kind != api.ErrorKindActionNotFound {
		t.Fatalf("expected ACTION_NOT_FOUND, got %q", result.State.LastError.Kind)
	}
	// Missing actions are configuration problems; no retries happen.
	if ctr, ok := result.State.Retries["a"]; ok && ctr.Attempt != 0 {
		t.Fatalf("unexpected retries of missing action: %+v", ctr)
	}
}

type failingStore struct {
	api.StateStore
}

func (failingStore) Save(ctx context.Context, st *api.WorkflowState) error {
	return errors.New("disk full")
}

func TestExecute_PersistenceFailureDoesNotFailWorkflow(t *testing.T) {
	reg := api.NewRegistry()
	_ = reg.RegisterFunc("ok", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
		return "done", nil
	})

	r, err := NewRunner(Config{
		Actions: reg,
		Store:   failingStore{persistence.NewInMemoryStore()},
	})
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	mustRegister(t, r, api.WorkflowDefinition{
		ID:    "unpersisted",
		Steps: []api.WorkflowStep{{ID: "a", Action: "ok"}},
	})

	result, err := r.Execute(context.Background(), "unpersisted", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success despite store failures, got %q", result.State.Status)
	}
}

func TestRunner_PauseAndCancelLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := api.NewRegistry()
	_ = reg.RegisterFunc("apply", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
		return nil, nil
	})

	r := inMemoryRunner(t, Config{Actions: reg})
	mustRegister(t, r, api.WorkflowDefinition{
		ID:    "gated",
		Steps: []api.WorkflowStep{{ID: "apply", Action: "apply", RequiresHumanReview: true}},
	})

	result, err := r.Execute(ctx, "gated", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	id := result.State.WorkflowID

	paused, err := r.Pause(ctx, id)
	if err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if paused.Status != api.StatusPaused {
		t.Fatalf("expected PAUSED, got %q", paused.Status)
	}

	resumed, err := r.Resume(ctx, id, api.ResumeUpdates{ApproveAll: true})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if !resumed.Success {
		t.Fatalf("expected success after resume, got %q", resumed.State.Status)
	}

	// Terminal instances cannot be paused or canceled.
	if _, err := r.Pause(ctx, id); err == nil {
		t.Fatalf("expected Pause on terminal instance to fail")
	}
	if _, err := r.Cancel(ctx, id); err == nil {
		t.Fatalf("expected Cancel on terminal instance to fail")
	}
}

func TestRunner_CancelParkedInstance(t *testing.T) {
	ctx := context.Background()
	reg := api.NewRegistry()
	_ = reg.RegisterFunc("apply", func(ctx context.Context, ec api.ExecutionContext) (any, error) {
		return nil, nil
	})

	r := inMemoryRunner(t, Config{Actions: reg})
	mustRegister(t, r, api.WorkflowDefinition{
		ID:    "gated",
		Steps: []api.WorkflowStep{{ID: "apply", Action: "apply", RequiresHumanReview: true}},
	})

	result, err := r.Execute(ctx, "gated", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	canceled, err := r.Cancel(ctx, result.State.WorkflowID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if canceled.Status != api.StatusCanceled {
		t.Fatalf("expected CANCELED, got %q", canceled.Status)
	}
	if _, err := r.Resume(ctx, result.State.WorkflowID, api.ResumeUpdates{}); err == nil {
		t.Fatalf("expected Resume of canceled instance to fail")
	}
}
