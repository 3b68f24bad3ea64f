// Package config resolves downstream tool server configurations through a
// layered cache and loads the static fallback table from YAML.
//
// # Resolution Order
//
// A point lookup walks four tiers and stops at the first hit:
//
//  1. shared-immutable: configs registered by the host at startup
//  2. shared-mutable: configs registered or replaced at runtime
//  3. caller-private: configs registered by one caller, visible only to it
//  4. static fallback: the config.yaml server table
//
// Lookups are memoized for a short window (60s by default); mutations
// invalidate the memoized entries for the touched name and Reset clears the
// runtime tiers and the memoization wholesale.
//
// The optional Watcher hot-reloads the fallback table when config.yaml
// changes on disk.
package config
