package api

import (
	"slices"
	"time"
)

// HistoryEntry is one record in the append-only execution log. Entries are
// never mutated or removed; the history is the audit trail and the source of
// truth for which steps have succeeded.
type HistoryEntry struct {
	StepID    string
	Status    Status
	Timestamp time.Time
	Notes     string
	Error     *StepError
}

// RetryCounter tracks retries for a single step id. Counters are scoped per
// step, never shared: independently failing parallel steps each get their own.
type RetryCounter struct {
	// Attempt is the number of retries consumed so far.
	Attempt     int
	MaxAttempts int
	BaseDelay   time.Duration
	NextRetryAt time.Time
}

// Context is the per-instance bag of data visible to steps.
type Context struct {
	// Input is the initial input the workflow was started with.
	Input any

	// Outputs holds each completed step's output, keyed by step id.
	Outputs map[string]any

	// SharedState is scratch space shared across steps.
	SharedState map[string]any

	// Metadata carries string annotations (callers, resume updates).
	Metadata map[string]string
}

// Snapshot returns a copy with fresh Outputs/SharedState/Metadata maps, so a
// running step never observes writes from its batch siblings.
func (c Context) Snapshot() Context {
	out := Context{
		Input:       c.Input,
		Outputs:     make(map[string]any, len(c.Outputs)),
		SharedState: make(map[string]any, len(c.SharedState)),
		Metadata:    make(map[string]string, len(c.Metadata)),
	}
	for k, v := range c.Outputs {
		out.Outputs[k] = v
	}
	for k, v := range c.SharedState {
		out.SharedState[k] = v
	}
	for k, v := range c.Metadata {
		out.Metadata[k] = v
	}
	return out
}

// WorkflowState is the mutable execution record for one workflow instance.
// It is owned exclusively by the runner while executing and persisted between
// resumptions; orchestrator decisions never mutate it in place.
type WorkflowState struct {
	// WorkflowID identifies this instance.
	WorkflowID string

	// DefinitionID names the definition this instance was started from.
	DefinitionID string

	Status Status

	// RunningStepIDs is the set of steps dispatched and not yet resolved.
	RunningStepIDs []string

	// History is append-only; see HistoryEntry.
	History []HistoryEntry

	// Retries holds the per-step retry counters.
	Retries map[string]*RetryCounter

	// Approvals records human-review gates cleared via resume.
	Approvals map[string]bool

	// LastError is the failure currently being routed by the orchestrator.
	LastError *StepError

	// PendingErrors queues batch-sibling failures beyond the first; the
	// orchestrator drains them through failure routing one at a time before
	// scheduling new work.
	PendingErrors []*StepError

	Context Context

	StartedAt   time.Time
	CompletedAt time.Time
}

// NewWorkflowState creates the initial state for a workflow instance.
func NewWorkflowState(workflowID, definitionID string, input any) *WorkflowState {
	return &WorkflowState{
		WorkflowID:   workflowID,
		DefinitionID: definitionID,
		Status:       StatusPending,
		Retries:      make(map[string]*RetryCounter),
		Approvals:    make(map[string]bool),
		Context: Context{
			Input:       input,
			Outputs:     make(map[string]any),
			SharedState: make(map[string]any),
			Metadata:    make(map[string]string),
		},
		StartedAt: time.Now(),
	}
}

// Clone returns a deep copy. Step inputs/outputs are shared by reference;
// everything the engine mutates (history, counters, sets, maps) is copied.
func (s *WorkflowState) Clone() *WorkflowState {
	c := *s
	c.RunningStepIDs = slices.Clone(s.RunningStepIDs)
	c.History = slices.Clone(s.History)

	c.Retries = make(map[string]*RetryCounter, len(s.Retries))
	for id, ctr := range s.Retries {
		cc := *ctr
		c.Retries[id] = &cc
	}
	c.Approvals = make(map[string]bool, len(s.Approvals))
	for id, ok := range s.Approvals {
		c.Approvals[id] = ok
	}
	if s.LastError != nil {
		e := *s.LastError
		c.LastError = &e
	}
	if s.PendingErrors != nil {
		c.PendingErrors = make([]*StepError, len(s.PendingErrors))
		for i, pe := range s.PendingErrors {
			e := *pe
			c.PendingErrors[i] = &e
		}
	}
	c.Context = s.Context.Snapshot()
	return &c
}

// AppendHistory appends an entry, stamping Timestamp if unset.
func (s *WorkflowState) AppendHistory(e HistoryEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.History = append(s.History, e)
}

// Succeeded reports whether the step has a SUCCESS history entry.
func (s *WorkflowState) Succeeded(stepID string) bool {
	for _, e := range s.History {
		if e.StepID == stepID && e.Status == StatusSuccess {
			return true
		}
	}
	return false
}

// CompletedSteps returns the set of step ids with a SUCCESS history entry.
func (s *WorkflowState) CompletedSteps() map[string]bool {
	done := make(map[string]bool)
	for _, e := range s.History {
		if e.Status == StatusSuccess {
			done[e.StepID] = true
		}
	}
	return done
}

// Attempted reports whether the step appears anywhere in the history.
func (s *WorkflowState) Attempted(stepID string) bool {
	for _, e := range s.History {
		if e.StepID == stepID {
			return true
		}
	}
	return false
}

// Running reports whether the step is currently dispatched.
func (s *WorkflowState) Running(stepID string) bool {
	return slices.Contains(s.RunningStepIDs, stepID)
}

// MarkRunning adds the given steps to the running set.
func (s *WorkflowState) MarkRunning(stepIDs ...string) {
	for _, id := range stepIDs {
		if !slices.Contains(s.RunningStepIDs, id) {
			s.RunningStepIDs = append(s.RunningStepIDs, id)
		}
	}
}

// ClearRunning removes the step from the running set.
func (s *WorkflowState) ClearRunning(stepID string) {
	s.RunningStepIDs = slices.DeleteFunc(s.RunningStepIDs, func(id string) bool {
		return id == stepID
	})
}

// Approved reports whether the human-review gate for the step is cleared.
func (s *WorkflowState) Approved(stepID string) bool {
	return s.Approvals[stepID]
}

// Approve clears the human-review gates for the given steps.
func (s *WorkflowState) Approve(stepIDs ...string) {
	if s.Approvals == nil {
		s.Approvals = make(map[string]bool)
	}
	for _, id := range stepIDs {
		s.Approvals[id] = true
	}
}

// RetryCounterFor returns the counter for the step, initializing it from the
// step's retry configuration on first use.
func (s *WorkflowState) RetryCounterFor(step WorkflowStep) *RetryCounter {
	if s.Retries == nil {
		s.Retries = make(map[string]*RetryCounter)
	}
	ctr, ok := s.Retries[step.ID]
	if !ok {
		base := step.RetryBaseDelay
		if base <= 0 {
			base = DefaultRetryBaseDelay
		}
		ctr = &RetryCounter{
			MaxAttempts: step.MaxRetries,
			BaseDelay:   base,
		}
		s.Retries[step.ID] = ctr
	}
	return ctr
}
