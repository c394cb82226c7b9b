// Package persistence provides the state store implementations the engine
// can run on: in-memory, SQLite, Postgres and Redis. All of them persist the
// full workflow state via the gob codec and implement the lease protocol of
// api.StateStore.
package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/petrijr/cascade/pkg/api"
)

// InMemoryStore is a goroutine-safe map-backed StateStore. It is the default
// for tests and embedded single-process use.
type InMemoryStore struct {
	mu     sync.RWMutex
	states map[string]*api.WorkflowState
	leases map[string]memoryLease
}

type memoryLease struct {
	owner     string
	expiresAt time.Time
}

var _ api.StateStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states: make(map[string]*api.WorkflowState),
		leases: make(map[string]memoryLease),
	}
}

func (s *InMemoryStore) Save(ctx context.Context, state *api.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy so later caller mutations never leak into the store.
	s.states[state.WorkflowID] = state.Clone()
	return nil
}

func (s *InMemoryStore) Load(ctx context.Context, workflowID string) (*api.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[workflowID]
	if !ok {
		return nil, api.ErrStateNotFound
	}
	return st.Clone(), nil
}

func (s *InMemoryStore) List(ctx context.Context, filter api.StateFilter) ([]*api.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.WorkflowState
	for _, st := range s.states {
		if filter.DefinitionID != "" && st.DefinitionID != filter.DefinitionID {
			continue
		}
		if filter.Status != "" && st.Status != filter.Status {
			continue
		}
		result = append(result, st.Clone())
	}
	return result, nil
}

func (s *InMemoryStore) TryAcquireLease(ctx context.Context, workflowID, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	l, ok := s.leases[workflowID]
	if ok && l.owner != owner && l.expiresAt.After(now) {
		return false, nil
	}
	s.leases[workflowID] = memoryLease{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *InMemoryStore) RenewLease(ctx context.Context, workflowID, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[workflowID]
	if !ok || l.owner != owner || !l.expiresAt.After(time.Now()) {
		return api.ErrLeaseNotHeld
	}
	l.expiresAt = time.Now().Add(ttl)
	s.leases[workflowID] = l
	return nil
}

func (s *InMemoryStore) ReleaseLease(ctx context.Context, workflowID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[workflowID]
	if ok && l.owner == owner {
		delete(s.leases, workflowID)
	}
	return nil
}
