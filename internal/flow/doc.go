// Package flow tracks named asynchronous operations (OAuth handshakes, token
// refreshes) from PENDING to a terminal state, de-duplicating concurrent
// identical requests so every caller awaits one shared outcome.
//
// A flow is identified by a composite key (namespace, type, id). The first
// CreateFlow caller for a key becomes the producer; every later caller with
// the same key joins the in-flight flow and observes the same result or
// error. A short grace interval before creation absorbs the race between two
// callers arriving at nearly the same time.
//
// State lives in an expiring in-process cache. A flow that never reaches a
// terminal state before its TTL is dropped and its waiters fail; a process
// restart fails every in-flight flow.
package flow
