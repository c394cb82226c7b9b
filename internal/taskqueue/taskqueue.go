// Package taskqueue provides the async dispatch queue consumed by
// pkg/worker: callers enqueue start and resume requests, workers dequeue and
// drive them through the engine.
package taskqueue

import (
	"context"
	"time"
)

// TaskType identifies what the worker should do with a task.
type TaskType string

const (
	TaskTypeStartWorkflow TaskType = "start-workflow"
	TaskTypeResume        TaskType = "resume"
)

// Task is one unit of work for a worker.
type Task struct {
	ID   string
	Type TaskType

	// DefinitionID names the definition for start-workflow tasks.
	DefinitionID string

	// WorkflowID identifies the parked instance for resume tasks.
	WorkflowID string

	// Payload is task-type specific: the worker's start payload for
	// start-workflow tasks, a *ResumePayload for resume tasks.
	Payload any

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task is eligible for processing.
	// Zero means "immediately".
	NotBefore time.Time

	// Attempts counts how many times a worker has picked this task up.
	Attempts int
}

// ResumePayload carries the resume updates through the queue. It mirrors
// api.ResumeUpdates but is defined here so the queue payload is a single
// gob-registered concrete type.
type ResumePayload struct {
	ApproveSteps []string
	ApproveAll   bool
	SharedState  map[string]any
	Metadata     map[string]string
}

// Queue is a minimal async task queue.
type Queue interface {
	// Enqueue adds a task, respecting ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next eligible task, blocking until one
	// is available or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of queued tasks.
	Len() int
}
