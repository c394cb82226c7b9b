// Package cascade provides a lightweight, embeddable workflow orchestration
// engine for Go.
//
// Cascade executes directed acyclic graphs of named steps: each step runs a
// registered Action once its dependencies have completed, independent steps
// run concurrently as a batch, and every execution leaves a full, replayable
// record of what happened. It is designed for backend services that need
// multi-step operations with retries, fallbacks and human approval without
// standing up external workflow infrastructure.
//
// # Core Concepts
//
//  1. Runner
//  2. WorkflowDefinition and FlowBuilder
//  3. Action
//  4. WorkflowState
//  5. Worker and LocalRunner
//
// # Runner
//
// The Runner is the execution engine. Given a registered definition it
// repeatedly asks the internal orchestrator what to do next - run a batch of
// steps, wait for an external event, or terminate - and dispatches
// accordingly. The decision logic is a pure function of the definition and
// the current state, which makes execution deterministic and testable.
//
// Runners can persist state in different backends:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//
// # Definitions
//
// A WorkflowDefinition declares steps, their dependencies, retry budgets,
// per-step timeouts, fallback routes and lifecycle handlers. FlowBuilder is
// the fluent way to build one:
//
//	flow := cascade.New("provision").
//	    Step("create", "create-account").
//	    Step("notify", "send-welcome", cascade.DependsOn("create"), cascade.WithRetry(3)).
//	    OnError("rollback")
//
// # Actions
//
// An Action is the business logic behind a step. Actions are registered by
// name and receive an immutable snapshot of the workflow context; outputs
// become visible to dependent steps in the next batch. Actions can
// optionally validate their input (triggering a repair re-run instead of a
// retry) and clean up resources after every invocation.
//
// # WorkflowState
//
// All progress lives in a single serializable record: an append-only
// history, per-step retry counters, approval flags and the shared data
// context. Parked instances (awaiting human review, or paused) are resumed
// from this record, on the same process or another one.
//
// # Worker and LocalRunner
//
// The worker package adds asynchronous dispatch: tasks to start or resume
// workflows go through a queue (in-memory or SQLite) and one or more
// workers consume them, coordinating through store leases. LocalRunner
// bundles runner, queue and worker for single-process use; NewSQLiteBundle
// is the durable equivalent.
//
// For examples, see the /examples directory.
package cascade
