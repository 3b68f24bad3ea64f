// Package app bootstraps the tether process: it loads the configuration
// file, initializes logging, wires the layered config cache, the token
// store, the connection pool, the flow store, and the reconnection
// orchestrator, and runs them until shutdown.
package app
