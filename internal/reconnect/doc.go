// Package reconnect re-establishes lost connections to delegated-auth tool
// servers using tokens a user already obtained, without prompting the user
// and without hammering servers that are known to be unreachable.
//
// The Tracker keeps the per-(user, server) bookkeeping: which pairs are
// currently reconnecting and which have failed. The Orchestrator consults
// the config cache and the token store to decide which pairs are eligible,
// then launches one detached background attempt per pair against the shared
// connection pool.
//
// A pair moves ELIGIBLE -> ACTIVE -> RECONNECTED or FAILED. Success clears
// all tracker state for the pair; failure is sticky until explicitly cleared
// (or until the optional failed-state TTL, when configured). An ACTIVE pair
// whose attempt never finished degrades to "not still reconnecting" after
// the staleness window but stays in the active set until lazily cleaned up.
package reconnect
