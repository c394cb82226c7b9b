package worker

import (
	"context"
	"encoding/gob"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/cascade/internal/engine"
	"github.com/petrijr/cascade/internal/taskqueue"
	"github.com/petrijr/cascade/pkg/api"
)

func init() {
	gob.Register(StartWorkflowPayload{})
}

// StartWorkflowPayload is the payload of a start-workflow task.
type StartWorkflowPayload struct {
	Input any
}

// DefaultLeaseTTL bounds how long a worker may drive one resume before its
// claim expires.
const DefaultLeaseTTL = 30 * time.Second

// Worker pulls tasks from a queue and drives them through a Runner. Resume
// tasks are guarded by a store lease so competing workers never advance the
// same instance concurrently.
type Worker struct {
	runner   *engine.Runner
	queue    taskqueue.Queue
	id       string
	leaseTTL time.Duration
}

// New creates a Worker with a random worker id and DefaultLeaseTTL.
func New(runner *engine.Runner, queue taskqueue.Queue) *Worker {
	return &Worker{
		runner:   runner,
		queue:    queue,
		id:       uuid.NewString(),
		leaseTTL: DefaultLeaseTTL,
	}
}

// ID returns the worker's lease owner id.
func (w *Worker) ID() string { return w.id }

// EnqueueStartWorkflow enqueues a task to start a workflow asynchronously.
// The workflow runs when a worker picks the task up, not here.
func (w *Worker) EnqueueStartWorkflow(ctx context.Context, definitionID string, input any) error {
	return w.queue.Enqueue(ctx, taskqueue.Task{
		Type:         taskqueue.TaskTypeStartWorkflow,
		DefinitionID: definitionID,
		Payload:      StartWorkflowPayload{Input: input},
		EnqueuedAt:   time.Now(),
	})
}

// EnqueueStartWorkflowAt enqueues a start task that becomes eligible no
// earlier than at.
func (w *Worker) EnqueueStartWorkflowAt(ctx context.Context, definitionID string, input any, at time.Time) error {
	return w.queue.Enqueue(ctx, taskqueue.Task{
		Type:         taskqueue.TaskTypeStartWorkflow,
		DefinitionID: definitionID,
		Payload:      StartWorkflowPayload{Input: input},
		EnqueuedAt:   time.Now(),
		NotBefore:    at,
	})
}

// EnqueueResume enqueues a task to resume a parked instance with the given
// updates.
func (w *Worker) EnqueueResume(ctx context.Context, workflowID string, updates api.ResumeUpdates) error {
	return w.queue.Enqueue(ctx, taskqueue.Task{
		Type:       taskqueue.TaskTypeResume,
		WorkflowID: workflowID,
		Payload: &taskqueue.ResumePayload{
			ApproveSteps: updates.ApproveSteps,
			ApproveAll:   updates.ApproveAll,
			SharedState:  updates.SharedState,
			Metadata:     updates.Metadata,
		},
		EnqueuedAt: time.Now(),
	})
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false, err != nil: the dequeue itself failed (typically
//     context cancellation); nothing was processed.
//   - processed == true: a task was consumed; err reports the outcome.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	switch task.Type {
	case taskqueue.TaskTypeStartWorkflow:
		payload, ok := task.Payload.(StartWorkflowPayload)
		if !ok {
			return true, errors.New("invalid payload type for start-workflow task")
		}
		_, runErr := w.runner.Execute(ctx, task.DefinitionID, payload.Input)
		return true, runErr

	case taskqueue.TaskTypeResume:
		return true, w.processResume(ctx, task)

	default:
		return true, errors.New("unknown task type: " + string(task.Type))
	}
}

// Run processes tasks until the context is cancelled. Task-level failures
// are reported through the runner's observer and logger; Run only returns
// the context's error.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if _, err := w.ProcessOne(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (w *Worker) processResume(ctx context.Context, task *taskqueue.Task) error {
	updates := api.ResumeUpdates{}
	if p, ok := task.Payload.(*taskqueue.ResumePayload); ok && p != nil {
		updates = api.ResumeUpdates{
			ApproveSteps: p.ApproveSteps,
			ApproveAll:   p.ApproveAll,
			SharedState:  p.SharedState,
			Metadata:     p.Metadata,
		}
	}

	if store := w.runner.Store(); store != nil {
		acquired, err := store.TryAcquireLease(ctx, task.WorkflowID, w.id, w.leaseTTL)
		if err != nil {
			return err
		}
		if !acquired {
			// Another worker holds the instance; hand the task back with a
			// delay instead of failing it.
			requeued := *task
			requeued.Attempts++
			requeued.NotBefore = time.Now().Add(w.leaseTTL / 2)
			return w.queue.Enqueue(ctx, requeued)
		}
		defer func() {
			_ = store.ReleaseLease(context.WithoutCancel(ctx), task.WorkflowID, w.id)
		}()
	}

	_, err := w.runner.Resume(ctx, task.WorkflowID, updates)
	return err
}
