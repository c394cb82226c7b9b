package cascade

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/petrijr/cascade/internal/taskqueue"
	"github.com/petrijr/cascade/pkg/worker"
)

// LocalRunner bundles an in-memory Runner, an in-memory task queue, and a
// Worker into a simple process-local executor for development and tests.
//
// Typical usage:
//
//	local, _ := cascade.NewLocalRunner(actions)
//	flow := cascade.New("my-flow").Step(...)
//	flow.MustRegister(local.Runner)
//
//	// Synchronous run (no queue/worker involved):
//	result, err := local.Runner.Execute(ctx, flow.ID(), input)
//
//	// Asynchronous run:
//	_ = local.StartWorkers(ctx, 2)
//	_ = local.StartWorkflowAsync(ctx, flow.ID(), input)
//	...
//	local.Stop()
type LocalRunner struct {
	// Runner is the in-memory engine used by this local runner.
	Runner *Runner

	// Queue is the in-memory task queue consumed by Worker.
	Queue taskqueue.Queue

	// Worker processes tasks from Queue using Runner.
	Worker *worker.Worker

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner backed by an in-memory store,
// in-memory queue, and a single Worker.
func NewLocalRunner(actions ActionRegistry) (*LocalRunner, error) {
	r, err := NewInMemoryRunner(actions)
	if err != nil {
		return nil, err
	}
	q := taskqueue.NewInMemoryQueue(1024)

	return &LocalRunner{
		Runner: r,
		Queue:  q,
		Worker: worker.New(r, q),
	}, nil
}

// StartWorkers starts 'concurrency' goroutines that continuously call
// Worker.ProcessOne(ctx) until Stop cancels them.
//
// Calling StartWorkers again without Stop returns an error.
func (l *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return errors.New("cascade: LocalRunner already started")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true

	l.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer l.wg.Done()

			for {
				_, err := l.Worker.ProcessOne(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					// A single bad task must not kill the worker loop.
					log.Printf("cascade: local runner worker error: %v", err)
				}
			}
		}()
	}

	return nil
}

// Stop cancels the worker goroutines started by StartWorkers and waits for
// them to exit.
func (l *LocalRunner) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel := l.cancel
	l.running = false
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
}

// StartWorkflowAsync enqueues a task to start the given workflow. The
// definition must already be registered on Runner.
func (l *LocalRunner) StartWorkflowAsync(ctx context.Context, definitionID string, input any) error {
	return l.Worker.EnqueueStartWorkflow(ctx, definitionID, input)
}

// ResumeAsync enqueues a task to resume a parked instance.
func (l *LocalRunner) ResumeAsync(ctx context.Context, workflowID string, updates ResumeUpdates) error {
	return l.Worker.EnqueueResume(ctx, workflowID, updates)
}
