package api

import (
	"context"
	"time"
)

// Token is a delegated OAuth token record for one (user, server) pair as it
// comes back from the token store. The store is document-shaped: ExpiresAt
// carries whatever representation the original authorization flow persisted,
// either an ISO-8601 string or a numeric epoch (seconds or milliseconds).
// Consumers that need a time must normalize it themselves.
type Token struct {
	UserID       string      `json:"user_id"`
	ServerName   string      `json:"server_name"`
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token,omitempty"`
	TokenType    string      `json:"token_type,omitempty"`
	Scope        string      `json:"scope,omitempty"`
	ExpiresAt    interface{} `json:"expires_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at,omitempty"`
}

// TokenQuery selects tokens in the token store. Empty fields match anything.
type TokenQuery struct {
	UserID     string
	ServerName string
}

// TokenStore is the persistence collaborator for delegated tokens. The
// reconnection subsystem only reads from it (presence and expiry checks);
// the mutating methods exist for the authorization flow that owns the data.
type TokenStore interface {
	// FindToken returns the first token matching the query, or nil if none.
	FindToken(ctx context.Context, query TokenQuery) (*Token, error)
	// CreateToken stores a new token record.
	CreateToken(ctx context.Context, token *Token) error
	// UpdateToken replaces the token matching the query.
	UpdateToken(ctx context.Context, query TokenQuery, token *Token) error
	// DeleteTokens removes every token matching the query, returning the count.
	DeleteTokens(ctx context.Context, query TokenQuery) (int, error)
}

// Connection is a live link to one downstream MCP tool server on behalf of
// one user.
type Connection interface {
	// Connected reports whether the underlying transport is established and
	// the server answered the last liveness probe.
	Connected() bool
	// ServerName returns the downstream server this connection targets.
	ServerName() string
	// UserID returns the user the connection acts on behalf of.
	UserID() string
	// CallTool executes a tool on the downstream server.
	CallTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error)
	// Close tears down the transport.
	Close() error
}

// ConnectionRequest describes how GetUserConnection should obtain a connection.
type ConnectionRequest struct {
	// ServerName is the downstream server to connect to.
	ServerName string
	// UserID is the user the connection acts on behalf of.
	UserID string
	// ForceNew skips reuse of an existing pooled connection.
	ForceNew bool
	// ConnectionTimeout bounds transport establishment; zero means the pool default.
	ConnectionTimeout time.Duration
	// ReturnOnOAuth makes the pool return nil instead of starting an
	// interactive authorization flow when the server demands one. Background
	// tasks must set this.
	ReturnOnOAuth bool
}

// ConnectionPool manages per-(user, server) connections to downstream MCP
// tool servers. Implementations pool aggressively: GetUserConnection with
// ForceNew unset returns an existing healthy connection when one exists.
type ConnectionPool interface {
	// GetUserConnection returns a connection per the request, or (nil, nil)
	// when one cannot be established without user interaction.
	GetUserConnection(ctx context.Context, req ConnectionRequest) (Connection, error)
	// GetUserConnections returns the live connections for a user, keyed by
	// server name.
	GetUserConnections(userID string) map[string]Connection
	// DisconnectUserConnection tears down and forgets the pooled connection
	// for the pair, if any.
	DisconnectUserConnection(ctx context.Context, userID, serverName string) error
}
