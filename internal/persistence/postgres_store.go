package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petrijr/cascade/pkg/api"
)

// PostgresStore is a StateStore backed by PostgreSQL.
//
// It expects an *sql.DB opened with a Postgres driver (for example the
// pgx stdlib adapter); the caller imports the driver.
type PostgresStore struct {
	db *sql.DB
}

var _ api.StateStore = (*PostgresStore)(nil)

// NewPostgresStore initializes the schema and returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_states (
			workflow_id TEXT PRIMARY KEY,
			definition_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at BIGINT NOT NULL,
			completed_at BIGINT NOT NULL,
			state BYTEA NOT NULL,
			lease_owner TEXT NOT NULL DEFAULT '',
			lease_expires_at BIGINT NOT NULL DEFAULT 0
		);`,
	)
	return err
}

func (s *PostgresStore) Save(ctx context.Context, state *api.WorkflowState) error {
	blob, err := EncodeState(state)
	if err != nil {
		return err
	}

	var completed int64
	if !state.CompletedAt.IsZero() {
		completed = state.CompletedAt.UnixNano()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_states (workflow_id, definition_id, status, started_at, completed_at, state)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (workflow_id) DO UPDATE SET
			definition_id = EXCLUDED.definition_id,
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			state = EXCLUDED.state`,
		state.WorkflowID,
		state.DefinitionID,
		string(state.Status),
		state.StartedAt.UnixNano(),
		completed,
		blob,
	)
	return err
}

func (s *PostgresStore) Load(ctx context.Context, workflowID string) (*api.WorkflowState, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM workflow_states WHERE workflow_id = $1`, workflowID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	return DecodeState(blob)
}

func (s *PostgresStore) List(ctx context.Context, filter api.StateFilter) ([]*api.WorkflowState, error) {
	query := `SELECT state FROM workflow_states`
	var args []any
	var clauses []string

	if filter.DefinitionID != "" {
		args = append(args, filter.DefinitionID)
		clauses = append(clauses, fmt.Sprintf("definition_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*api.WorkflowState
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		st, err := DecodeState(blob)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

func (s *PostgresStore) TryAcquireLease(ctx context.Context, workflowID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_states
		SET lease_owner = $1, lease_expires_at = $2
		WHERE workflow_id = $3
		AND (
			lease_owner = ''
			OR lease_expires_at <= $4
			OR lease_owner = $5
		)`,
		owner, now.Add(ttl).UnixNano(), workflowID, now.UnixNano(), owner,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) RenewLease(ctx context.Context, workflowID, owner string, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_states
		SET lease_expires_at = $1
		WHERE workflow_id = $2 AND lease_owner = $3`,
		time.Now().Add(ttl).UnixNano(), workflowID, owner,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return api.ErrLeaseNotHeld
	}
	return nil
}

func (s *PostgresStore) ReleaseLease(ctx context.Context, workflowID, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflow_states
		SET lease_owner = '', lease_expires_at = 0
		WHERE workflow_id = $1 AND (lease_owner = '' OR lease_owner = $2)`,
		workflowID, owner,
	)
	return err
}
