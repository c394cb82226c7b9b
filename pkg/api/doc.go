// Package api defines the public data model and collaborator contracts of
// the cascade workflow engine: workflow definitions and steps, the mutable
// execution record (WorkflowState), orchestrator decisions, the error
// taxonomy, and the boundaries the engine consumes but does not implement
// (Action, ActionRegistry, StateStore, Observer).
//
// Most applications import the root cascade package, which re-exports the
// types defined here.
package api
