package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/cascade/pkg/api"
)

// Config configures a Runner. Actions is required; everything else has a
// working default.
type Config struct {
	// Actions resolves the action names referenced by workflow steps.
	Actions api.ActionRegistry

	// Definitions is the definition registry to execute from. A fresh one is
	// created when nil.
	Definitions *DefinitionRegistry

	// Store persists state between scheduling iterations. When nil the runner
	// is purely in-memory and instances cannot be resumed after the result is
	// discarded.
	Store api.StateStore

	// Observer receives lifecycle callbacks. Defaults to api.NoopObserver.
	Observer api.Observer

	// Logger is used for engine diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// MaxExecutionTime bounds one Execute or Resume call end to end,
	// including retry backoff waits. Zero means unbounded.
	MaxExecutionTime time.Duration
}

// Runner drives workflow instances: it loops the orchestrator, dispatches
// step batches, folds results back into the state and persists it after
// every transition.
type Runner struct {
	orchestrator Orchestrator
	actions      api.ActionRegistry
	defs         *DefinitionRegistry
	store        api.StateStore
	observer     api.Observer
	logger       *slog.Logger
	maxExecTime  time.Duration
}

// NewRunner creates a Runner from cfg.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Actions == nil {
		return nil, fmt.Errorf("action registry is required")
	}
	defs := cfg.Definitions
	if defs == nil {
		defs = NewDefinitionRegistry()
	}
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		actions:     cfg.Actions,
		defs:        defs,
		store:       cfg.Store,
		observer:    obs,
		logger:      logger,
		maxExecTime: cfg.MaxExecutionTime,
	}, nil
}

// RegisterDefinition validates and registers a workflow definition.
func (r *Runner) RegisterDefinition(def api.WorkflowDefinition) error {
	return r.defs.Register(def)
}

// Definitions exposes the definition registry.
func (r *Runner) Definitions() *DefinitionRegistry { return r.defs }

// Store exposes the configured state store (nil when in-memory only).
func (r *Runner) Store() api.StateStore { return r.store }

// Execute starts a new instance of the named definition and drives it until
// it terminates or parks. The returned result is never nil when err is nil.
func (r *Runner) Execute(ctx context.Context, definitionID string, input any) (*api.ExecutionResult, error) {
	def, ok := r.defs.Get(definitionID)
	if !ok {
		return nil, fmt.Errorf("unknown workflow definition: %s", definitionID)
	}

	st := api.NewWorkflowState(uuid.NewString(), definitionID, input)
	r.observer.OnWorkflowStart(ctx, st)
	return r.run(ctx, def, st)
}

// Resume continues a parked instance (PAUSED or PENDING_HUMAN_REVIEW) after
// applying the caller's updates. A store is required.
func (r *Runner) Resume(ctx context.Context, workflowID string, updates api.ResumeUpdates) (*api.ExecutionResult, error) {
	st, err := r.loadState(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	def, ok := r.defs.Get(st.DefinitionID)
	if !ok {
		return nil, fmt.Errorf("unknown workflow definition: %s", st.DefinitionID)
	}

	switch st.Status {
	case api.StatusPaused, api.StatusPendingHumanReview:
	default:
		return nil, fmt.Errorf("workflow %s is %s, not resumable", workflowID, st.Status)
	}

	st = st.Clone()
	applyUpdates(def, st, updates)
	// Re-enter wavefront evaluation; the orchestrator re-applies any gate
	// that is still unapproved.
	st.Status = api.StatusSuccess
	return r.run(ctx, def, st)
}

// Pause parks a non-terminal instance. It takes effect between scheduling
// iterations; a batch already in flight is not interrupted.
func (r *Runner) Pause(ctx context.Context, workflowID string) (*api.WorkflowState, error) {
	st, err := r.loadState(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if st.Status.Terminal() {
		return nil, fmt.Errorf("workflow %s is %s, cannot pause", workflowID, st.Status)
	}
	st = st.Clone()
	st.Status = api.StatusPaused
	if err := r.store.Save(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Cancel terminally cancels an instance.
func (r *Runner) Cancel(ctx context.Context, workflowID string) (*api.WorkflowState, error) {
	st, err := r.loadState(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if st.Status.Terminal() {
		return nil, fmt.Errorf("workflow %s is %s, cannot cancel", workflowID, st.Status)
	}
	st = st.Clone()
	st.Status = api.StatusCanceled
	st.CompletedAt = time.Now()
	st.RunningStepIDs = nil
	if err := r.store.Save(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Load returns the persisted state of an instance.
func (r *Runner) Load(ctx context.Context, workflowID string) (*api.WorkflowState, error) {
	return r.loadState(ctx, workflowID)
}

func (r *Runner) loadState(ctx context.Context, workflowID string) (*api.WorkflowState, error) {
	if r.store == nil {
		return nil, fmt.Errorf("no state store configured")
	}
	return r.store.Load(ctx, workflowID)
}

// run is the scheduling loop: decide, persist, act, repeat.
func (r *Runner) run(ctx context.Context, def api.WorkflowDefinition, st *api.WorkflowState) (*api.ExecutionResult, error) {
	var deadline time.Time
	if r.maxExecTime > 0 {
		deadline = time.Now().Add(r.maxExecTime)
	}

	for {
		if ctx.Err() != nil {
			return r.finishCanceled(ctx, st), nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return r.finishTimedOut(ctx, st), nil
		}

		dec := r.orchestrator.Decide(def, st)
		st = dec.State
		r.persist(ctx, st)

		switch dec.Action {
		case api.DecisionTerminate:
			return r.finishTerminal(ctx, st), nil

		case api.DecisionWait:
			return &api.ExecutionResult{State: st}, nil

		case api.DecisionRun:
			if dec.Delay > 0 {
				select {
				case <-time.After(dec.Delay):
				case <-ctx.Done():
					return r.finishCanceled(ctx, st), nil
				}
			}
			st = r.runBatch(ctx, def, st, dec)
			r.persist(ctx, st)

		default:
			return nil, fmt.Errorf("unexpected decision action %q", dec.Action)
		}
	}
}

type stepResult struct {
	stepID   string
	attempt  int
	output   any
	err      error
	duration time.Duration
}

// runBatch dispatches the decision's wavefront concurrently and folds the
// results back into a new state. Each step sees the same snapshot of the
// workflow context; sibling outputs become visible only in the next
// wavefront.
func (r *Runner) runBatch(ctx context.Context, def api.WorkflowDefinition, st *api.WorkflowState, dec api.Decision) *api.WorkflowState {
	st = st.Clone()
	snapshot := st.Context.Snapshot()

	attempts := make(map[string]int, len(dec.StepIDs))
	for _, id := range dec.StepIDs {
		attempts[id] = 1
		if ctr, ok := st.Retries[id]; ok {
			attempts[id] = ctr.Attempt + 1
		}
	}

	results := make(chan stepResult, len(dec.StepIDs))
	for _, id := range dec.StepIDs {
		r.observer.OnStepStart(ctx, st, id, attempts[id])

		go func(stepID string, attempt int) {
			start := time.Now()
			out, err := r.invokeStep(ctx, def, stepID, api.ExecutionContext{
				WorkflowID:   st.WorkflowID,
				StepID:       stepID,
				Attempt:      attempt,
				Input:        snapshot.Input,
				Outputs:      snapshot.Outputs,
				SharedState:  snapshot.SharedState,
				Metadata:     snapshot.Metadata,
				Instructions: dec.Instructions,
			})
			results <- stepResult{
				stepID:   stepID,
				attempt:  attempt,
				output:   out,
				err:      err,
				duration: time.Since(start),
			}
		}(id, attempts[id])
	}

	collected := make(map[string]stepResult, len(dec.StepIDs))
	for range dec.StepIDs {
		res := <-results
		collected[res.stepID] = res
		r.observer.OnStepCompleted(ctx, st, res.stepID, res.attempt, res.err, res.duration)
	}

	// Fold in definition dispatch order so the recorded history and the
	// chosen LastError are deterministic regardless of completion order.
	var firstErr *api.StepError
	for _, id := range dec.StepIDs {
		res := collected[id]
		st.ClearRunning(id)

		if res.err == nil {
			st.Context.Outputs[id] = res.output
			st.AppendHistory(api.HistoryEntry{StepID: id, Status: api.StatusSuccess})
			continue
		}

		// Stamp a copy: the action may hand out a shared error value.
		e := *api.AsStepError(res.err)
		e.StepID = id
		se := &e
		st.AppendHistory(api.HistoryEntry{
			StepID: id,
			Status: failureStatus(se),
			Error:  se,
		})
		if firstErr == nil {
			firstErr = se
		} else {
			// Sibling failures queue up; the orchestrator routes each one
			// through retry/fallback/handler evaluation in turn.
			st.PendingErrors = append(st.PendingErrors, se)
		}
	}

	if firstErr != nil {
		st.LastError = firstErr
		st.Status = failureStatus(firstErr)
	} else {
		st.Status = api.StatusSuccess
	}
	return st
}

// invokeStep resolves and executes one step: registry lookup, optional input
// validation, the action itself under its timeout, and cleanup.
func (r *Runner) invokeStep(ctx context.Context, def api.WorkflowDefinition, stepID string, ec api.ExecutionContext) (any, error) {
	step, ok := def.Step(stepID)
	if !ok {
		return nil, api.Errorf(api.ErrorKindStepNotFound, "step %q is not part of workflow %q", stepID, def.ID)
	}

	action, ok := r.actions.Get(step.Action)
	if !ok {
		return nil, api.Errorf(api.ErrorKindActionNotFound, "action %q is not registered", step.Action)
	}

	if c, ok := action.(api.CleanupAction); ok {
		defer func() {
			if err := c.Cleanup(); err != nil {
				r.logger.Warn("step cleanup failed",
					slog.String("workflow_id", ec.WorkflowID),
					slog.String("step", stepID),
					slog.Any("error", err),
				)
			}
		}()
	}

	if v, ok := action.(api.Validator); ok {
		if err := v.Validate(ec); err != nil {
			return nil, api.Errorf(api.ErrorKindValidation, "%s", err.Error())
		}
	}

	return r.executeWithTimeout(ctx, step, action, ec)
}

func (r *Runner) executeWithTimeout(ctx context.Context, step api.WorkflowStep, action api.Action, ec api.ExecutionContext) (any, error) {
	if step.Timeout <= 0 {
		return action.Execute(ctx, ec)
	}

	cctx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	type res struct {
		out any
		err error
	}
	done := make(chan res, 1)
	go func() {
		out, err := action.Execute(cctx, ec)
		done <- res{out, err}
	}()

	select {
	case rr := <-done:
		return rr.out, rr.err
	case <-cctx.Done():
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, api.Errorf(api.ErrorKindTimeout, "step exceeded its %s timeout", step.Timeout)
		}
		return nil, cctx.Err()
	}
}

func (r *Runner) finishTerminal(ctx context.Context, st *api.WorkflowState) *api.ExecutionResult {
	if st.Status == api.StatusSuccess {
		r.observer.OnWorkflowCompleted(ctx, st)
		return &api.ExecutionResult{Success: true, State: st}
	}
	r.observer.OnWorkflowFailed(ctx, st, terminalError(st))
	return &api.ExecutionResult{State: st}
}

func (r *Runner) finishCanceled(ctx context.Context, st *api.WorkflowState) *api.ExecutionResult {
	st = st.Clone()
	st.Status = api.StatusCanceled
	st.CompletedAt = time.Now()
	st.RunningStepIDs = nil

	// The caller's context is already done; give persistence and observers a
	// detached context so the final state is not lost.
	dctx := context.WithoutCancel(ctx)
	r.persist(dctx, st)
	r.observer.OnWorkflowFailed(dctx, st, context.Canceled)
	return &api.ExecutionResult{State: st}
}

func (r *Runner) finishTimedOut(ctx context.Context, st *api.WorkflowState) *api.ExecutionResult {
	st = st.Clone()
	st.Status = api.StatusTimedOut
	se := api.Errorf(api.ErrorKindTimeout, "workflow exceeded its %s execution budget", r.maxExecTime)
	se.Retryable = false
	st.LastError = se
	st.CompletedAt = time.Now()
	st.RunningStepIDs = nil

	r.persist(ctx, st)
	r.observer.OnWorkflowFailed(ctx, st, se)
	return &api.ExecutionResult{State: st}
}

// persist saves the state if a store is configured. Persistence failures are
// logged and swallowed: the engine keeps driving the in-memory state.
func (r *Runner) persist(ctx context.Context, st *api.WorkflowState) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(ctx, st); err != nil {
		r.logger.Warn("state persistence failed",
			slog.String("workflow_id", st.WorkflowID),
			slog.String("status", string(st.Status)),
			slog.Any("error", err),
		)
	}
}

func applyUpdates(def api.WorkflowDefinition, st *api.WorkflowState, u api.ResumeUpdates) {
	if u.ApproveAll {
		for _, s := range def.Steps {
			if s.RequiresHumanReview {
				st.Approve(s.ID)
			}
		}
	}
	st.Approve(u.ApproveSteps...)

	for k, v := range u.SharedState {
		st.Context.SharedState[k] = v
	}
	for k, v := range u.Metadata {
		st.Context.Metadata[k] = v
	}
}

func terminalError(st *api.WorkflowState) error {
	if st.LastError != nil {
		return st.LastError
	}
	return fmt.Errorf("workflow %s finished with status %s", st.WorkflowID, st.Status)
}

// failureStatus maps an error kind to the status recorded on the state and
// the history entry.
func failureStatus(se *api.StepError) api.Status {
	switch se.Kind {
	case api.ErrorKindValidation:
		return api.StatusValidationFailed
	case api.ErrorKindTimeout:
		return api.StatusTimedOut
	default:
		return api.StatusFailed
	}
}
