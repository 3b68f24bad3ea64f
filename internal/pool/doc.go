// Package pool manages per-user connections to downstream MCP tool servers.
//
// Each (user, server) pair owns at most one connection, established over
// stdio transport via the mcp-go client and reused while healthy. Servers
// flagged for delegated authorization are only dialed with a stored,
// unexpired token; background callers set ReturnOnOAuth on their request to
// receive (nil, nil) instead of triggering an interactive flow.
package pool
