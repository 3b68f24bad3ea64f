// Package logging provides structured logging for tether built on Go's
// standard slog package.
//
// Every log entry carries a subsystem attribute identifying the component
// that emitted it (for example "Orchestrator" or "FlowStore"), a timestamp,
// and a severity level. Initialize once at startup with Init; components
// then call the package-level Debug, Info, Warn, and Error functions.
package logging
