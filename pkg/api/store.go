package api

import (
	"context"
	"errors"
	"time"
)

// ErrStateNotFound is returned when a workflow state is not in the store.
var ErrStateNotFound = errors.New("workflow state not found")

// ErrLeaseNotHeld is returned by RenewLease when the caller does not hold
// the lease (it expired, was released, or belongs to another owner).
var ErrLeaseNotHeld = errors.New("workflow lease not held")

// StateFilter selects persisted states. Zero values mean "no filter".
type StateFilter struct {
	DefinitionID string
	Status       Status
}

// StateStore persists workflow state between scheduling iterations and
// across process restarts. The engine works without one (in-memory only),
// and persistence failures are logged, never surfaced as workflow failures.
type StateStore interface {
	// Save upserts the state under state.WorkflowID.
	Save(ctx context.Context, state *WorkflowState) error

	// Load returns the state for the given instance, or ErrStateNotFound.
	Load(ctx context.Context, workflowID string) (*WorkflowState, error)

	// List returns states matching the filter.
	List(ctx context.Context, filter StateFilter) ([]*WorkflowState, error)

	// TryAcquireLease attempts to acquire (or re-acquire) a lease on an
	// instance so multiple workers never drive it concurrently. A lease held
	// by another owner and not yet expired yields acquired=false, err=nil;
	// a lease held by the same owner is re-entrant.
	TryAcquireLease(ctx context.Context, workflowID, owner string, ttl time.Duration) (bool, error)

	// RenewLease extends a lease held by owner.
	RenewLease(ctx context.Context, workflowID, owner string, ttl time.Duration) error

	// ReleaseLease releases a lease held by owner. It is idempotent.
	ReleaseLease(ctx context.Context, workflowID, owner string) error
}
