package api

import (
	"context"
	"fmt"
	"sync"
)

// ExecutionContext is the immutable snapshot handed to a single step
// invocation. Steps must treat Outputs and SharedState as read-only; the
// runner merges results back only after the whole step returns, so a step
// never observes a batch sibling's output.
type ExecutionContext struct {
	WorkflowID string
	StepID     string

	// Attempt is the 1-based invocation count for this step.
	Attempt int

	Input       any
	Outputs     map[string]any
	SharedState map[string]any
	Metadata    map[string]string

	// Instructions is non-empty on validation-repair re-runs and carries the
	// validation message.
	Instructions string
}

// Output returns a prior step's output.
func (ec ExecutionContext) Output(stepID string) (any, bool) {
	v, ok := ec.Outputs[stepID]
	return v, ok
}

// Action executes the business logic behind a step. Implementations live
// outside the engine; the engine only dispatches to them.
//
// A returned *StepError controls retryability explicitly; any other error is
// recorded as a retryable EXECUTION_ERROR.
type Action interface {
	Execute(ctx context.Context, ec ExecutionContext) (any, error)
}

// ActionFunc adapts a plain function to the Action interface.
type ActionFunc func(ctx context.Context, ec ExecutionContext) (any, error)

func (f ActionFunc) Execute(ctx context.Context, ec ExecutionContext) (any, error) {
	return f(ctx, ec)
}

// Validator is optionally implemented by Actions that can reject their input
// before executing. A non-nil error is recorded as a VALIDATION_ERROR and
// triggers the repair loop instead of consuming a retry attempt.
type Validator interface {
	Validate(ec ExecutionContext) error
}

// CleanupAction is optionally implemented by Actions that hold resources.
// Cleanup runs after every invocation; failures are logged, not propagated.
type CleanupAction interface {
	Cleanup() error
}

// ActionRegistry resolves the action names referenced by workflow steps.
// A missing name is a non-retryable ACTION_NOT_FOUND failure for the step.
type ActionRegistry interface {
	Get(name string) (Action, bool)
}

// Registry is a goroutine-safe, map-backed ActionRegistry.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

var _ ActionRegistry = (*Registry)(nil)

// Register adds an action under the given name.
func (r *Registry) Register(name string, a Action) error {
	if name == "" {
		return fmt.Errorf("action name is required")
	}
	if a == nil {
		return fmt.Errorf("action %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[name]; exists {
		return fmt.Errorf("action already registered: %s", name)
	}
	r.actions[name] = a
	return nil
}

// RegisterFunc is Register for a bare function.
func (r *Registry) RegisterFunc(name string, f ActionFunc) error {
	return r.Register(name, f)
}

func (r *Registry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}
