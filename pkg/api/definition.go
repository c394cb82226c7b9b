package api

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// DefaultRetryBaseDelay seeds the exponential backoff for steps that allow
// retries but do not set RetryBaseDelay.
const DefaultRetryBaseDelay = 2 * time.Second

// WorkflowStep declares a named unit of work inside a definition.
type WorkflowStep struct {
	// ID uniquely identifies the step within its workflow.
	ID string

	// Action names the Action implementation in the ActionRegistry.
	Action string

	// Dependencies lists step ids that must have succeeded (directly or via
	// their fallback) before this step becomes runnable.
	Dependencies []string

	// RequiresHumanReview parks the workflow in PENDING_HUMAN_REVIEW before
	// this step is dispatched; the gate blocks before invocation, not after.
	RequiresHumanReview bool

	// MaxRetries caps automatic retries after retryable failures. 0 means the
	// step runs at most once.
	MaxRetries int

	// RetryBaseDelay is the delay before the first retry; each further retry
	// doubles it. Defaults to DefaultRetryBaseDelay when MaxRetries > 0.
	RetryBaseDelay time.Duration

	// Timeout bounds a single invocation. Expiry yields a retryable TIMEOUT
	// error; zero means no per-step bound.
	Timeout time.Duration
}

// WorkflowDefinition is an immutable description of a step graph. It is
// supplied already validated by an external loader; Validate is available for
// loaders and tests, and the engine fails safely (no deadlock) even when the
// invariants are violated.
type WorkflowDefinition struct {
	ID    string
	Steps []WorkflowStep

	// Fallbacks maps a step id to the alternate step dispatched once the step
	// exhausts its retries. Fallback steps are ordinary steps; their own
	// retry and fallback configuration applies independently.
	Fallbacks map[string]string

	// ErrorHandler, DeadLetterHandler and SuccessHandler name steps that are
	// dispatched outside normal wavefront scheduling, each at most once per
	// instance. ErrorHandler is tried first for unrecoverable failures;
	// DeadLetterHandler is the hop of last resort.
	ErrorHandler      string
	SuccessHandler    string
	DeadLetterHandler string
}

// Step returns the step with the given id.
func (d WorkflowDefinition) Step(id string) (WorkflowStep, bool) {
	for _, s := range d.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return WorkflowStep{}, false
}

// AuxiliarySteps returns the ids of steps that are only reachable through
// failure or completion routing: handlers and fallback targets. They are
// declared in Steps but excluded from wavefront scheduling and from the
// completion count.
func (d WorkflowDefinition) AuxiliarySteps() map[string]bool {
	aux := make(map[string]bool)
	for _, id := range []string{d.ErrorHandler, d.SuccessHandler, d.DeadLetterHandler} {
		if id != "" {
			aux[id] = true
		}
	}
	for _, target := range d.Fallbacks {
		if target != "" {
			aux[target] = true
		}
	}
	return aux
}

// Validate checks the definition invariants: non-empty id and steps with
// unique ids, every referenced step id resolves, and the dependency relation
// is acyclic.
func (d WorkflowDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %q has no steps", d.ID)
	}

	ids := make(map[string]bool, len(d.Steps))
	for _, s := range d.Steps {
		if s.ID == "" {
			return fmt.Errorf("workflow %q contains a step without an id", d.ID)
		}
		if s.Action == "" {
			return fmt.Errorf("step %q has no action", s.ID)
		}
		if ids[s.ID] {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		ids[s.ID] = true
	}

	for _, s := range d.Steps {
		for _, dep := range s.Dependencies {
			if !ids[dep] {
				return fmt.Errorf("step %q depends on unknown step %q", s.ID, dep)
			}
			if dep == s.ID {
				return fmt.Errorf("step %q depends on itself", s.ID)
			}
		}
	}

	for from, to := range d.Fallbacks {
		if !ids[from] {
			return fmt.Errorf("fallback configured for unknown step %q", from)
		}
		if !ids[to] {
			return fmt.Errorf("fallback for step %q references unknown step %q", from, to)
		}
	}
	for name, id := range map[string]string{
		"errorHandler":      d.ErrorHandler,
		"successHandler":    d.SuccessHandler,
		"deadLetterHandler": d.DeadLetterHandler,
	} {
		if id != "" && !ids[id] {
			return fmt.Errorf("%s references unknown step %q", name, id)
		}
	}

	return d.checkAcyclic()
}

// checkAcyclic builds the dependency graph and topologically sorts it;
// an unorderable graph contains a cycle.
func (d WorkflowDefinition) checkAcyclic() error {
	g := simple.NewDirectedGraph()

	node := make(map[string]int64, len(d.Steps))
	for _, s := range d.Steps {
		n := g.NewNode()
		g.AddNode(n)
		node[s.ID] = n.ID()
	}
	for _, s := range d.Steps {
		for _, dep := range s.Dependencies {
			g.SetEdge(g.NewEdge(g.Node(node[dep]), g.Node(node[s.ID])))
		}
	}

	if _, err := topo.Sort(g); err != nil {
		return fmt.Errorf("workflow %q has a dependency cycle", d.ID)
	}
	return nil
}
