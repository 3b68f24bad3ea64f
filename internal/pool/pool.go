package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tether/internal/api"
	"tether/internal/config"
	"tether/pkg/logging"
)

// DefaultConnectionTimeout bounds establishing one connection.
const DefaultConnectionTimeout = 30 * time.Second

// PoolConfig tunes the pool.
type PoolConfig struct {
	// ConnectionTimeout overrides DefaultConnectionTimeout when positive.
	ConnectionTimeout time.Duration
}

type connKey struct {
	UserID     string
	ServerName string
}

// dialFunc establishes one connection; swapped out in tests.
type dialFunc func(ctx context.Context, cfg *config.ServiceConfig, userID string, token *api.Token) (api.Connection, error)

// Pool manages per-(user, server) connections to downstream MCP tool
// servers over stdio transport. Connections are reused while healthy;
// ForceNew requests and dead connections trigger a fresh launch.
type Pool struct {
	cache  *config.Cache
	tokens api.TokenStore
	cfg    PoolConfig

	mu    sync.Mutex
	conns map[connKey]api.Connection

	dial dialFunc
}

var _ api.ConnectionPool = (*Pool)(nil)

// NewPool creates an empty connection pool resolving server configurations
// through the given cache and delegated tokens through the given store.
func NewPool(cache *config.Cache, tokens api.TokenStore, cfg PoolConfig) *Pool {
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = DefaultConnectionTimeout
	}
	return &Pool{
		cache:  cache,
		tokens: tokens,
		cfg:    cfg,
		conns:  make(map[connKey]api.Connection),
		dial: func(ctx context.Context, cfg *config.ServiceConfig, userID string, token *api.Token) (api.Connection, error) {
			return dialStdio(ctx, cfg, userID, token)
		},
	}
}

// GetUserConnection returns a pooled or freshly established connection per
// the request. For delegated-auth servers without a usable stored token the
// answer depends on ReturnOnOAuth: set, the pool returns (nil, nil) so a
// background caller can back off; unset, it returns an error telling the
// caller an interactive authorization is required first.
func (p *Pool) GetUserConnection(ctx context.Context, req api.ConnectionRequest) (api.Connection, error) {
	key := connKey{UserID: req.UserID, ServerName: req.ServerName}

	cfg, ok := p.cache.GetServiceConfig(req.ServerName, "")
	if !ok {
		return nil, api.NewNotFoundError("service", req.ServerName)
	}

	p.mu.Lock()
	existing := p.conns[key]
	p.mu.Unlock()

	if existing != nil {
		if !req.ForceNew && existing.Connected() {
			return existing, nil
		}
		// ForceNew or a dead pooled connection: drop it and dial anew.
		p.removeConn(key, existing)
	}

	var token *api.Token
	if cfg.RequiresDelegatedAuth {
		found, err := p.tokens.FindToken(ctx, api.TokenQuery{UserID: req.UserID, ServerName: req.ServerName})
		if err != nil {
			return nil, fmt.Errorf("token lookup for %s: %w", req.ServerName, err)
		}
		if expiry, ok := found.Expiry(); ok && expiry.Before(time.Now()) {
			found = nil
		}
		if found == nil {
			if req.ReturnOnOAuth {
				logging.Debug("Pool", "No usable token for user=%s server=%s, deferring to authorization flow", req.UserID, req.ServerName)
				return nil, nil
			}
			return nil, fmt.Errorf("server %s requires delegated authorization for user %s", req.ServerName, req.UserID)
		}
		token = found
	}

	timeout := req.ConnectionTimeout
	if timeout <= 0 {
		timeout = p.cfg.ConnectionTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := p.dial(dialCtx, cfg, req.UserID, token)
	if err != nil {
		return nil, fmt.Errorf("connecting user %s to %s: %w", req.UserID, req.ServerName, err)
	}

	p.mu.Lock()
	// A concurrent dial for the same pair may have won. Keep the first and
	// close ours, unless the caller insisted on a fresh connection, in which
	// case ours replaces whatever landed in the meantime.
	if !req.ForceNew {
		if pooled, ok := p.conns[key]; ok && pooled.Connected() {
			p.mu.Unlock()
			if err := conn.Close(); err != nil {
				logging.Debug("Pool", "Closing redundant connection for user=%s server=%s: %v", req.UserID, req.ServerName, err)
			}
			return pooled, nil
		}
	}
	replaced := p.conns[key]
	p.conns[key] = conn
	p.mu.Unlock()

	if replaced != nil {
		if err := replaced.Close(); err != nil {
			logging.Debug("Pool", "Closing replaced connection for user=%s server=%s: %v", req.UserID, req.ServerName, err)
		}
	}

	logging.Info("Pool", "Connected user=%s to server=%s", req.UserID, req.ServerName)
	return conn, nil
}

// GetUserConnections returns the live connections for a user, keyed by
// server name.
func (p *Pool) GetUserConnections(userID string) map[string]api.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]api.Connection)
	for key, conn := range p.conns {
		if key.UserID == userID {
			out[key.ServerName] = conn
		}
	}
	return out
}

// DisconnectUserConnection tears down and forgets the pooled connection for
// the pair. Disconnecting a pair without a connection is a no-op.
func (p *Pool) DisconnectUserConnection(ctx context.Context, userID, serverName string) error {
	key := connKey{UserID: userID, ServerName: serverName}

	p.mu.Lock()
	conn, ok := p.conns[key]
	if ok {
		delete(p.conns, key)
	}
	p.mu.Unlock()

	if !ok {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("closing connection for user %s server %s: %w", userID, serverName, err)
	}
	logging.Debug("Pool", "Disconnected user=%s from server=%s", userID, serverName)
	return nil
}

// Shutdown closes every pooled connection concurrently.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	conns := make([]api.Connection, 0, len(p.conns))
	for _, conn := range p.conns {
		conns = append(conns, conn)
	}
	p.conns = make(map[connKey]api.Connection)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c api.Connection) {
			defer wg.Done()
			if err := c.Close(); err != nil {
				logging.Debug("Pool", "Error closing connection to %s during shutdown: %v", c.ServerName(), err)
			}
		}(conn)
	}
	wg.Wait()
}

func (p *Pool) removeConn(key connKey, conn api.Connection) {
	p.mu.Lock()
	if p.conns[key] == conn {
		delete(p.conns, key)
	}
	p.mu.Unlock()

	if err := conn.Close(); err != nil {
		logging.Debug("Pool", "Error closing dead connection for user=%s server=%s: %v", key.UserID, key.ServerName, err)
	}
}
