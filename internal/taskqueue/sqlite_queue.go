package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"
)

// SQLiteQueue is a persistent Queue backed by SQLite. FIFO within equal
// NotBefore, based on the auto-incrementing id. A dequeue claims and deletes
// the row in one transaction, so competing workers never process the same
// task twice.
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteQueue initializes the tasks table and returns a new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			definition_id TEXT,
			workflow_id TEXT,
			payload BLOB,
			enqueued_at INTEGER NOT NULL,
			not_before INTEGER NOT NULL,
			attempts INTEGER NOT NULL
		);`,
	)
	return err
}

var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Enqueue(ctx context.Context, t Task) error {
	payload, err := encodePayload(t.Payload)
	if err != nil {
		return err
	}

	enqueuedAt := time.Now().UnixNano()
	if !t.EnqueuedAt.IsZero() {
		enqueuedAt = t.EnqueuedAt.UnixNano()
	}
	notBefore := enqueuedAt
	if !t.NotBefore.IsZero() {
		notBefore = t.NotBefore.UnixNano()
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO tasks (type, definition_id, workflow_id, payload, enqueued_at, not_before, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(t.Type),
		t.DefinitionID,
		t.WorkflowID,
		payload,
		enqueuedAt,
		notBefore,
		t.Attempts,
	)
	return err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		task, ok, err := q.tryClaim(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *SQLiteQueue) tryClaim(ctx context.Context) (*Task, bool, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}

	var (
		id           int64
		typeStr      string
		definitionID sql.NullString
		workflowID   sql.NullString
		payload      []byte
		enqueuedAt   int64
		notBefore    int64
		attempts     int
	)

	row := tx.QueryRowContext(ctx, `
		SELECT id, type, definition_id, workflow_id, payload, enqueued_at, not_before, attempts
		FROM tasks
		WHERE not_before <= ?
		ORDER BY not_before, id
		LIMIT 1`, time.Now().UnixNano())
	err = row.Scan(&id, &typeStr, &definitionID, &workflowID, &payload, &enqueuedAt, &notBefore, &attempts)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		_ = tx.Rollback()
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	decoded, err := decodePayload(payload)
	if err != nil {
		return nil, false, err
	}

	return &Task{
		ID:           strconv.FormatInt(id, 10),
		Type:         TaskType(typeStr),
		DefinitionID: definitionID.String,
		WorkflowID:   workflowID.String,
		Payload:      decoded,
		EnqueuedAt:   time.Unix(0, enqueuedAt),
		NotBefore:    time.Unix(0, notBefore),
		Attempts:     attempts,
	}, true, nil
}

func (q *SQLiteQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0
	}
	return n
}
