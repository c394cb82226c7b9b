package cascade

import (
	"fmt"
	"time"

	"github.com/petrijr/cascade/pkg/api"
)

// FlowBuilder provides a fluent API for defining workflows:
//
//	flow := cascade.New("enrich-order").
//	    Step("fetch", "fetch-order").
//	    Step("score", "score-order", cascade.DependsOn("fetch"), cascade.WithRetry(3)).
//	    Step("score-cached", "score-from-cache").
//	    Fallback("score", "score-cached")
//
//	if err := flow.Register(runner); err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := runner.Execute(ctx, flow.ID(), input)
type FlowBuilder struct {
	def api.WorkflowDefinition
}

// StepOption configures one step added via Step.
type StepOption func(*api.WorkflowStep)

// DependsOn declares the step ids that must complete before this step runs.
func DependsOn(ids ...string) StepOption {
	return func(s *api.WorkflowStep) {
		s.Dependencies = append(s.Dependencies, ids...)
	}
}

// WithRetry allows up to max automatic retries after retryable failures,
// with the default exponential backoff.
func WithRetry(max int) StepOption {
	return func(s *api.WorkflowStep) {
		s.MaxRetries = max
	}
}

// WithRetryDelay is WithRetry with an explicit backoff base delay.
func WithRetryDelay(max int, baseDelay time.Duration) StepOption {
	return func(s *api.WorkflowStep) {
		s.MaxRetries = max
		s.RetryBaseDelay = baseDelay
	}
}

// WithTimeout bounds a single invocation of the step.
func WithTimeout(d time.Duration) StepOption {
	return func(s *api.WorkflowStep) {
		s.Timeout = d
	}
}

// WithHumanReview parks the workflow for approval before this step runs.
func WithHumanReview() StepOption {
	return func(s *api.WorkflowStep) {
		s.RequiresHumanReview = true
	}
}

// New creates a workflow builder with the given definition id.
func New(id string) *FlowBuilder {
	return &FlowBuilder{
		def: api.WorkflowDefinition{
			ID:        id,
			Steps:     make([]api.WorkflowStep, 0),
			Fallbacks: make(map[string]string),
		},
	}
}

// ID returns the definition id.
func (b *FlowBuilder) ID() string {
	return b.def.ID
}

// Definition returns the underlying WorkflowDefinition.
// Typically used when interacting with lower-level APIs.
func (b *FlowBuilder) Definition() WorkflowDefinition {
	return b.def
}

// Step appends a step that runs the named action.
func (b *FlowBuilder) Step(id, action string, opts ...StepOption) *FlowBuilder {
	if id == "" {
		panic("cascade: step id must not be empty")
	}
	if action == "" {
		panic(fmt.Sprintf("cascade: step %q has no action", id))
	}

	step := api.WorkflowStep{ID: id, Action: action}
	for _, opt := range opts {
		opt(&step)
	}
	b.def.Steps = append(b.def.Steps, step)
	return b
}

// Fallback routes a step's permanent failure to an alternate step. The
// target must be declared with Step as well.
func (b *FlowBuilder) Fallback(stepID, targetID string) *FlowBuilder {
	b.def.Fallbacks[stepID] = targetID
	return b
}

// OnError names the step dispatched once when the workflow fails
// unrecoverably.
func (b *FlowBuilder) OnError(stepID string) *FlowBuilder {
	b.def.ErrorHandler = stepID
	return b
}

// OnSuccess names the step dispatched once after every scheduled step has
// completed.
func (b *FlowBuilder) OnSuccess(stepID string) *FlowBuilder {
	b.def.SuccessHandler = stepID
	return b
}

// DeadLetter names the handler of last resort, dispatched when the error
// handler itself is exhausted or missing.
func (b *FlowBuilder) DeadLetter(stepID string) *FlowBuilder {
	b.def.DeadLetterHandler = stepID
	return b
}

// Register validates and registers the built workflow with the runner.
func (b *FlowBuilder) Register(r *Runner) error {
	return r.RegisterDefinition(b.def)
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *FlowBuilder) MustRegister(r *Runner) {
	if err := b.Register(r); err != nil {
		panic(err)
	}
}
