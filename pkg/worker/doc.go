// Package worker provides asynchronous workflow dispatch on top of the
// engine: callers enqueue start and resume tasks, and one or more workers
// consume the queue and drive the instances. With a persistent queue and
// state store this survives process restarts; with the in-memory variants it
// is a lightweight background executor.
package worker
