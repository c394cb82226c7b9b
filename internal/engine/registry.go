package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/petrijr/cascade/pkg/api"
)

// DefinitionRegistry holds the workflow definitions a runner can execute.
// Definitions are validated on registration, so the runner never has to
// re-check graph invariants per instance.
type DefinitionRegistry struct {
	mu   sync.RWMutex
	defs map[string]api.WorkflowDefinition
}

func NewDefinitionRegistry() *DefinitionRegistry {
	return &DefinitionRegistry{defs: make(map[string]api.WorkflowDefinition)}
}

// Register validates and stores a definition.
func (r *DefinitionRegistry) Register(def api.WorkflowDefinition) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("invalid workflow definition: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.ID]; exists {
		return fmt.Errorf("workflow definition already registered: %s", def.ID)
	}
	r.defs[def.ID] = def
	return nil
}

// Get returns the definition with the given id.
func (r *DefinitionRegistry) Get(id string) (api.WorkflowDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	return def, ok
}

// IDs returns the registered definition ids, sorted.
func (r *DefinitionRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
