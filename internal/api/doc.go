// Package api defines the shared types, collaborator interfaces, and error
// taxonomy used across tether's subsystems.
//
// The concrete subsystems (config cache, flow store, reconnection
// orchestrator, connection pool) depend on the interfaces declared here
// rather than on each other, keeping the dependency graph acyclic and the
// collaborators mockable in tests.
//
// # Error Taxonomy
//
//   - NotFoundError: the resource does not exist (expected, not an error-level event)
//   - TimeoutError: a bounded wait elapsed without a terminal state
//   - AbortedError: a waiter observed cancellation
//   - KeyConflictError: a mutation addressed a key in the wrong presence state
//
// Each has an errors.As-based IsX helper so callers can branch on category
// through arbitrary wrapping.
package api
