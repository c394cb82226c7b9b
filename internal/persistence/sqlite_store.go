package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/petrijr/cascade/pkg/api"
)

// SQLiteStore is a StateStore backed by SQLite.
//
// It expects an *sql.DB opened with a SQLite driver; the caller imports the
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

var _ api.StateStore = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the schema in the given database and returns a
// new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_states (
			workflow_id TEXT PRIMARY KEY,
			definition_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL,
			state BLOB NOT NULL,
			lease_owner TEXT NOT NULL DEFAULT '',
			lease_expires_at INTEGER NOT NULL DEFAULT 0
		);`,
	)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, state *api.WorkflowState) error {
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
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			definition_id = excluded.definition_id,
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			state = excluded.state`,
		state.WorkflowID,
		state.DefinitionID,
		string(state.Status),
		state.StartedAt.UnixNano(),
		completed,
		blob,
	)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context, workflowID string) (*api.WorkflowState, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM workflow_states WHERE workflow_id = ?`, workflowID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	return DecodeState(blob)
}

func (s *SQLiteStore) List(ctx context.Context, filter api.StateFilter) ([]*api.WorkflowState, error) {
	query := `SELECT state FROM workflow_states`
	var args []any
	var clauses []string

	if filter.DefinitionID != "" {
		clauses = append(clauses, "definition_id = ?")
		args = append(args, filter.DefinitionID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
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

func (s *SQLiteStore) TryAcquireLease(ctx context.Context, workflowID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_states
		SET lease_owner = ?, lease_expires_at = ?
		WHERE workflow_id = ?
		AND (
			lease_owner = ''
			OR lease_expires_at <= ?
			OR lease_owner = ?
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

func (s *SQLiteStore) RenewLease(ctx context.Context, workflowID, owner string, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_states
		SET lease_expires_at = ?
		WHERE workflow_id = ? AND lease_owner = ?`,
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

func (s *SQLiteStore) ReleaseLease(ctx context.Context, workflowID, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflow_states
		SET lease_owner = '', lease_expires_at = 0
		WHERE workflow_id = ? AND (lease_owner = '' OR lease_owner = ?)`,
		workflowID, owner,
	)
	return err
}
