package cascade

import (
	"database/sql"

	"github.com/petrijr/cascade/internal/taskqueue"
	workerpkg "github.com/petrijr/cascade/pkg/worker"
)

// WorkerBundle wires together a Runner, a durable task queue, and a Worker
// that consumes tasks from that queue.
type WorkerBundle struct {
	Runner *Runner
	Worker *workerpkg.Worker

	// queue is kept unexported; the public API focuses on Runner and Worker.
	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Runner + Queue + Worker combo sharing
// the same SQLite database. Workflow state and queued tasks survive process
// restarts.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:cascade.db?_journal=WAL")
//	bundle, err := cascade.NewSQLiteBundle(db, actions)
//	// register definitions on bundle.Runner
//	// enqueue work via bundle.Worker
func NewSQLiteBundle(db *sql.DB, actions ActionRegistry) (*WorkerBundle, error) {
	r, err := NewSQLiteRunner(db, actions)
	if err != nil {
		return nil, err
	}

	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	return &WorkerBundle{
		Runner: r,
		Worker: workerpkg.New(r, q),
		queue:  q,
	}, nil
}
