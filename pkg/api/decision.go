package api

import "time"

// DecisionAction is the orchestrator's verdict for one scheduling iteration.
type DecisionAction string

const (
	// DecisionRun dispatches StepIDs as the next wavefront.
	DecisionRun DecisionAction = "RUN"

	// DecisionWait means nothing can be dispatched right now; the runner
	// exits its loop and the instance stays parked until an external event.
	DecisionWait DecisionAction = "WAIT"

	// DecisionTerminate ends execution; State.Status is final.
	DecisionTerminate DecisionAction = "TERMINATE"
)

// Decision is the result of one Orchestrator.Decide call.
type Decision struct {
	Action DecisionAction

	// StepIDs are the steps to dispatch when Action is DecisionRun.
	StepIDs []string

	// Delay is an artificial wait before dispatch (retry backoff).
	Delay time.Duration

	// Instructions carries the validation message on repair re-runs.
	Instructions string

	// State is the updated state the decision was derived from. The state
	// passed into Decide is never mutated.
	State *WorkflowState
}
