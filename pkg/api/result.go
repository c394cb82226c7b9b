package api

// ExecutionResult is the externally visible outcome of Execute and Resume.
// There is no partial silent failure: every terminal state is explicit in
// State.Status, and State.History is the full audit trail.
type ExecutionResult struct {
	// Success is true when the workflow reached StatusSuccess.
	Success bool

	// State is the final (or parked) workflow state.
	State *WorkflowState
}

// Err returns the failure recorded on the final state, if any.
func (r *ExecutionResult) Err() error {
	if r == nil || r.State == nil || r.State.LastError == nil {
		return nil
	}
	return r.State.LastError
}

// ResumeUpdates carries caller-supplied changes applied when resuming a
// parked instance (human-review approval, out-of-band state repairs).
type ResumeUpdates struct {
	// ApproveSteps clears the human-review gates for the given step ids.
	ApproveSteps []string

	// ApproveAll clears every human-review gate in the definition.
	ApproveAll bool

	// SharedState entries are merged into Context.SharedState.
	SharedState map[string]any

	// Metadata entries are merged into Context.Metadata.
	Metadata map[string]string
}
