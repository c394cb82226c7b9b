package api

// Status is the lifecycle state of a workflow instance. The same values are
// used on history entries to record per-step outcomes.
type Status string

const (
	// StatusPending means the instance exists but no step has been dispatched.
	StatusPending Status = "PENDING"

	// StatusInProgress means a wavefront of steps is currently running.
	StatusInProgress Status = "IN_PROGRESS"

	// StatusSuccess means the last wavefront completed without failures.
	// Once every scheduled step has completed it is the terminal success state.
	StatusSuccess Status = "SUCCESS"

	// StatusFailed means a step failed and the failure has not (yet) been
	// absorbed by a retry, fallback or handler.
	StatusFailed Status = "FAILED"

	// StatusTimedOut means a step or the whole workflow exceeded its time bound.
	StatusTimedOut Status = "TIMED_OUT"

	// StatusCanceled means execution was externally canceled.
	StatusCanceled Status = "CANCELED"

	// StatusPaused means the instance is parked until an external resume.
	StatusPaused Status = "PAUSED"

	// StatusPendingHumanReview means a review-gated step is next in line and
	// the instance is parked until the gate is approved via resume.
	StatusPendingHumanReview Status = "PENDING_HUMAN_REVIEW"

	// StatusValidationFailed means a step rejected its input before executing;
	// the orchestrator re-runs it with repair instructions.
	StatusValidationFailed Status = "VALIDATION_FAILED"
)

// Terminal reports whether the status is final for a persisted instance.
// SUCCESS also appears transiently between wavefronts while the runner is
// driving; on a parked or stored instance it is terminal.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusTimedOut, StatusCanceled:
		return true
	default:
		return false
	}
}
