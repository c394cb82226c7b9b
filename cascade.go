package cascade

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/cascade/internal/engine"
	"github.com/petrijr/cascade/internal/persistence"
	"github.com/petrijr/cascade/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	WorkflowDefinition   = api.WorkflowDefinition
	WorkflowStep         = api.WorkflowStep
	WorkflowState        = api.WorkflowState
	HistoryEntry         = api.HistoryEntry
	RetryCounter         = api.RetryCounter
	Status               = api.Status
	Decision             = api.Decision
	DecisionAction       = api.DecisionAction
	ExecutionContext     = api.ExecutionContext
	ExecutionResult      = api.ExecutionResult
	ResumeUpdates        = api.ResumeUpdates
	Action               = api.Action
	ActionFunc           = api.ActionFunc
	ActionRegistry       = api.ActionRegistry
	Registry             = api.Registry
	StateStore           = api.StateStore
	StateFilter          = api.StateFilter
	StepError            = api.StepError
	ErrorKind            = api.ErrorKind
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common constructors.

var (
	NewActionRegistry    = api.NewRegistry
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	NewStepError         = api.NewStepError
	AsStepError          = api.AsStepError

	ErrStateNotFound = api.ErrStateNotFound
	ErrLeaseNotHeld  = api.ErrLeaseNotHeld
)

// Re-export status values for convenience.

const (
	StatusPending            = api.StatusPending
	StatusInProgress         = api.StatusInProgress
	StatusSuccess            = api.StatusSuccess
	StatusFailed             = api.StatusFailed
	StatusTimedOut           = api.StatusTimedOut
	StatusCanceled           = api.StatusCanceled
	StatusPaused             = api.StatusPaused
	StatusPendingHumanReview = api.StatusPendingHumanReview
	StatusValidationFailed   = api.StatusValidationFailed
)

// Re-export error kinds.

const (
	ErrorKindStepNotFound   = api.ErrorKindStepNotFound
	ErrorKindActionNotFound = api.ErrorKindActionNotFound
	ErrorKindValidation     = api.ErrorKindValidation
	ErrorKindExecution      = api.ErrorKindExecution
	ErrorKindTimeout        = api.ErrorKindTimeout
	ErrorKindConfiguration  = api.ErrorKindConfiguration
)

// Runner drives workflow instances to completion. It is the main entry
// point of the package; see the engine constructors below.
type Runner = engine.Runner

// Config configures a Runner created with NewRunner.
type Config struct {
	// Actions resolves the action names referenced by workflow steps.
	// Required.
	Actions ActionRegistry

	// Store persists workflow state. Optional; nil means in-memory only.
	Store StateStore

	// Observer receives lifecycle callbacks.
	Observer Observer

	// Logger is used for engine diagnostics.
	Logger *slog.Logger

	// MaxExecutionTime bounds one Execute or Resume call end to end.
	MaxExecutionTime time.Duration
}

// NewRunner creates a Runner from cfg.
func NewRunner(cfg Config) (*Runner, error) {
	return engine.NewRunner(engine.Config{
		Actions:          cfg.Actions,
		Store:            cfg.Store,
		Observer:         cfg.Observer,
		Logger:           cfg.Logger,
		MaxExecutionTime: cfg.MaxExecutionTime,
	})
}

// Runner constructors. These wrap the internal packages so external callers
// never need to import them.

// NewInMemoryRunner returns a Runner backed by an in-memory state store.
func NewInMemoryRunner(actions ActionRegistry) (*Runner, error) {
	return NewRunner(Config{Actions: actions, Store: NewInMemoryStore()})
}

// NewSQLiteRunner returns a Runner that persists workflow state in a SQLite
// database. The caller imports the driver, e.g. "modernc.org/sqlite".
func NewSQLiteRunner(db *sql.DB, actions ActionRegistry) (*Runner, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return NewRunner(Config{Actions: actions, Store: store})
}

// NewPostgresRunner returns a Runner that persists workflow state in
// PostgreSQL.
func NewPostgresRunner(db *sql.DB, actions ActionRegistry) (*Runner, error) {
	store, err := persistence.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	return NewRunner(Config{Actions: actions, Store: store})
}

// NewRedisRunner returns a Runner that persists workflow state in Redis.
func NewRedisRunner(client *redis.Client, actions ActionRegistry) (*Runner, error) {
	return NewRunner(Config{Actions: actions, Store: persistence.NewRedisStore(client, "")})
}

// Store constructors, for callers that assemble a Config themselves.

// NewInMemoryStore returns a goroutine-safe in-memory StateStore.
func NewInMemoryStore() StateStore {
	return persistence.NewInMemoryStore()
}

// NewSQLiteStore returns a SQLite-backed StateStore.
func NewSQLiteStore(db *sql.DB) (StateStore, error) {
	return persistence.NewSQLiteStore(db)
}

// NewPostgresStore returns a Postgres-backed StateStore.
func NewPostgresStore(db *sql.DB) (StateStore, error) {
	return persistence.NewPostgresStore(db)
}

// NewRedisStore returns a Redis-backed StateStore. prefix is optional.
func NewRedisStore(client *redis.Client, prefix string) StateStore {
	return persistence.NewRedisStore(client, prefix)
}

// Convenience helpers that forward to the Runner.

// Execute starts a new instance of the named definition and drives it until
// it terminates or parks.
func Execute(ctx context.Context, r *Runner, definitionID string, input any) (*ExecutionResult, error) {
	return r.Execute(ctx, definitionID, input)
}

// Resume continues a parked instance after applying updates.
func Resume(ctx context.Context, r *Runner, workflowID string, updates ResumeUpdates) (*ExecutionResult, error) {
	return r.Resume(ctx, workflowID, updates)
}
