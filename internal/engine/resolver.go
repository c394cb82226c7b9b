package engine

import "github.com/petrijr/cascade/pkg/api"

// completedSteps returns the ids that count as completed for scheduling
// purposes: a SUCCESS history entry for the step itself, or for its
// configured fallback.
func completedSteps(def api.WorkflowDefinition, st *api.WorkflowState) map[string]bool {
	done := st.CompletedSteps()
	out := make(map[string]bool, len(done))
	for _, step := range def.Steps {
		if done[step.ID] {
			out[step.ID] = true
			continue
		}
		if fb, ok := def.Fallbacks[step.ID]; ok && done[fb] {
			out[step.ID] = true
		}
	}
	return out
}

// readySteps computes the next wavefront: scheduled steps that are not
// completed, not running, not permanently failed, and whose full dependency
// set is completed. Definition order breaks ties. Handlers and fallback
// targets are dispatched through failure/completion routing, never here.
//
// An empty result means either "done" or "blocked"; callers distinguish the
// two with allStepsCompleted.
func readySteps(def api.WorkflowDefinition, st *api.WorkflowState) []api.WorkflowStep {
	aux := def.AuxiliarySteps()
	done := completedSteps(def, st)

	var ready []api.WorkflowStep
	for _, step := range def.Steps {
		if aux[step.ID] || done[step.ID] || st.Running(step.ID) {
			continue
		}
		if exhausted(st, step) {
			continue
		}
		ok := true
		for _, dep := range step.Dependencies {
			if !done[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, step)
		}
	}
	return ready
}

// exhausted reports whether the step failed and has no retries left, so the
// resolver must not offer it again.
func exhausted(st *api.WorkflowState, step api.WorkflowStep) bool {
	failed := false
	for _, e := range st.History {
		if e.StepID != step.ID {
			continue
		}
		switch e.Status {
		case api.StatusFailed, api.StatusTimedOut:
			failed = true
		case api.StatusSuccess:
			failed = false
		}
	}
	if !failed {
		return false
	}
	ctr, ok := st.Retries[step.ID]
	if !ok {
		return step.MaxRetries == 0
	}
	return ctr.Attempt >= ctr.MaxAttempts
}

// allStepsCompleted reports whether every scheduled (non-auxiliary) step
// counts as completed.
func allStepsCompleted(def api.WorkflowDefinition, st *api.WorkflowState) bool {
	aux := def.AuxiliarySteps()
	done := completedSteps(def, st)
	for _, step := range def.Steps {
		if aux[step.ID] {
			continue
		}
		if !done[step.ID] {
			return false
		}
	}
	return true
}
