package engine

import (
	"time"

	"github.com/petrijr/cascade/pkg/api"
)

// shouldRetry reports whether the step may be retried for the failure
// recorded in st.LastError: the error must be retryable and the step's own
// counter must have attempts left. The global execution deadline is enforced
// separately by the runner.
func shouldRetry(st *api.WorkflowState, step api.WorkflowStep) bool {
	if st.LastError == nil || !st.LastError.Retryable {
		return false
	}
	ctr := st.RetryCounterFor(step)
	return ctr.Attempt < ctr.MaxAttempts
}

// backoffDelay computes the exponential backoff for the counter's current
// attempt: BaseDelay * 2^(Attempt-1). The caller increments Attempt before
// computing the delay.
func backoffDelay(ctr *api.RetryCounter) time.Duration {
	d := ctr.BaseDelay
	for i := 1; i < ctr.Attempt; i++ {
		d *= 2
	}
	return d
}

// resolveFallback returns the fallback step for a step that has exhausted
// its retries, if one is configured and has not been tried yet.
func resolveFallback(def api.WorkflowDefinition, st *api.WorkflowState, stepID string) (api.WorkflowStep, bool) {
	target, ok := def.Fallbacks[stepID]
	if !ok || target == "" {
		return api.WorkflowStep{}, false
	}
	if st.Attempted(target) && !st.Running(target) {
		// The fallback already ran (and, if it succeeded, the original step
		// counts as completed); never dispatch it twice from the same route.
		return api.WorkflowStep{}, false
	}
	return def.Step(target)
}
