package engine

import (
	"time"

	"github.com/petrijr/cascade/pkg/api"
)

// Orchestrator is the pure decision engine: given a definition and the
// current execution record it returns exactly one of "run these steps",
// "wait" or "terminate", plus the updated state the verdict was derived
// from. It performs no I/O and never mutates its input.
type Orchestrator struct{}

// Decide implements the scheduling state machine.
func (Orchestrator) Decide(def api.WorkflowDefinition, state *api.WorkflowState) api.Decision {
	st := state.Clone()
	now := time.Now()

	switch st.Status {
	case api.StatusPending:
		if len(def.Steps) == 0 {
			return terminateWithConfigError(st, now, "workflow has no steps")
		}
		ready := readySteps(def, st)
		if len(ready) == 0 {
			return terminateWithConfigError(st, now, "no step is runnable from the initial state")
		}
		return dispatch(st, ready)

	case api.StatusInProgress:
		// A wavefront is in flight; scheduling resumes once the batch folds
		// back into the state.
		return wait(st)

	case api.StatusSuccess:
		return decideAfterBatch(def, st, now)

	case api.StatusFailed, api.StatusTimedOut:
		return decideFailure(def, st, now)

	case api.StatusValidationFailed:
		return decideRepair(def, st, now)

	case api.StatusPendingHumanReview, api.StatusPaused:
		// Only an external resume may move the instance out of these states.
		return wait(st)

	case api.StatusCanceled:
		return terminate(st, now)

	default:
		return wait(st)
	}
}

// decideAfterBatch handles the "a batch just completed successfully" state:
// advance the wavefront, route to the success handler, or finish.
func decideAfterBatch(def api.WorkflowDefinition, st *api.WorkflowState, now time.Time) api.Decision {
	// A successful error/dead-letter handler hop ends the workflow; the
	// original failure stands.
	if st.LastError != nil && handlerHopFinished(def, st) {
		st.Status = api.StatusFailed
		return terminate(st, now)
	}

	// Queued sibling failures are routed before any new work is scheduled,
	// so every failed step gets the same retry/fallback/handler treatment
	// as the first failure of its batch.
	if next := popPendingError(st); next != nil {
		st.LastError = next
		st.Status = failureStatus(next)
		if st.Status == api.StatusValidationFailed {
			return decideRepair(def, st, now)
		}
		return decideFailure(def, st, now)
	}

	if ready := readySteps(def, st); len(ready) > 0 {
		return dispatch(st, ready)
	}

	if allStepsCompleted(def, st) {
		if h := def.SuccessHandler; h != "" && !st.Attempted(h) {
			if hs, ok := def.Step(h); ok {
				return dispatch(st, []api.WorkflowStep{hs})
			}
		}
		st.LastError = nil
		return terminate(st, now)
	}

	// Nothing runnable and not everything finished: the graph is blocked
	// (unsatisfiable dependencies). Wait rather than spin; the runner exits
	// its loop and surfaces the non-terminal state.
	return wait(st)
}

// decideFailure routes a step failure through retry, fallback and the
// handler chain before giving up.
func decideFailure(def api.WorkflowDefinition, st *api.WorkflowState, now time.Time) api.Decision {
	var failedID string
	if st.LastError != nil {
		failedID = st.LastError.StepID
	}

	if step, ok := def.Step(failedID); ok {
		if shouldRetry(st, step) {
			ctr := st.RetryCounterFor(step)
			ctr.Attempt++
			delay := backoffDelay(ctr)
			ctr.NextRetryAt = now.Add(delay)
			st.Status = api.StatusInProgress
			st.MarkRunning(step.ID)
			return api.Decision{
				Action:  api.DecisionRun,
				StepIDs: []string{step.ID},
				Delay:   delay,
				State:   st,
			}
		}
		if fb, ok := resolveFallback(def, st, step.ID); ok {
			return dispatch(st, []api.WorkflowStep{fb})
		}
	}

	for _, h := range []string{def.ErrorHandler, def.DeadLetterHandler} {
		if h == "" || st.Attempted(h) {
			continue
		}
		if hs, ok := def.Step(h); ok {
			return dispatch(st, []api.WorkflowStep{hs})
		}
	}

	return terminate(st, now)
}

// decideRepair re-runs a step whose input was rejected, carrying the
// validation message as repair instructions. Repair runs do not consume a
// retry attempt; the runner's global deadline bounds the loop.
func decideRepair(def api.WorkflowDefinition, st *api.WorkflowState, now time.Time) api.Decision {
	if st.LastError == nil {
		return wait(st)
	}
	step, ok := def.Step(st.LastError.StepID)
	if !ok {
		st.Status = api.StatusFailed
		return terminate(st, now)
	}

	instructions := st.LastError.Message
	st.Status = api.StatusInProgress
	st.MarkRunning(step.ID)
	return api.Decision{
		Action:       api.DecisionRun,
		StepIDs:      []string{step.ID},
		Instructions: instructions,
		State:        st,
	}
}

// dispatch turns a wavefront into a RUN decision, unless one of the steps is
// gated on human review, in which case the whole wavefront is parked: the
// gate blocks before invocation, and batch boundaries stay uniform.
func dispatch(st *api.WorkflowState, steps []api.WorkflowStep) api.Decision {
	for _, step := range steps {
		if step.RequiresHumanReview && !st.Approved(step.ID) {
			st.Status = api.StatusPendingHumanReview
			st.AppendHistory(api.HistoryEntry{
				StepID: step.ID,
				Status: api.StatusPendingHumanReview,
				Notes:  "awaiting approval",
			})
			return wait(st)
		}
	}

	ids := make([]string, len(steps))
	for i, step := range steps {
		ids[i] = step.ID
	}
	st.Status = api.StatusInProgress
	st.MarkRunning(ids...)
	return api.Decision{Action: api.DecisionRun, StepIDs: ids, State: st}
}

// popPendingError dequeues the next unrouted batch-sibling failure.
func popPendingError(st *api.WorkflowState) *api.StepError {
	if len(st.PendingErrors) == 0 {
		return nil
	}
	next := st.PendingErrors[0]
	st.PendingErrors = st.PendingErrors[1:]
	if len(st.PendingErrors) == 0 {
		st.PendingErrors = nil
	}
	return next
}

// handlerHopFinished reports whether an error or dead-letter handler has
// already been dispatched for this instance.
func handlerHopFinished(def api.WorkflowDefinition, st *api.WorkflowState) bool {
	for _, h := range []string{def.ErrorHandler, def.DeadLetterHandler} {
		if h != "" && st.Attempted(h) {
			return true
		}
	}
	return false
}

func wait(st *api.WorkflowState) api.Decision {
	return api.Decision{Action: api.DecisionWait, State: st}
}

func terminate(st *api.WorkflowState, now time.Time) api.Decision {
	if st.CompletedAt.IsZero() {
		st.CompletedAt = now
	}
	st.RunningStepIDs = nil
	return api.Decision{Action: api.DecisionTerminate, State: st}
}

func terminateWithConfigError(st *api.WorkflowState, now time.Time, msg string) api.Decision {
	st.Status = api.StatusFailed
	st.LastError = api.NewStepError(api.ErrorKindConfiguration, msg)
	return terminate(st, now)
}
