package reconnect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tether/internal/api"
	"tether/internal/config"
	"tether/pkg/logging"
)

// DefaultConnectionTimeout bounds one background reconnection attempt
// against the connection pool.
const DefaultConnectionTimeout = 30 * time.Second

// OrchestratorConfig tunes the orchestrator.
type OrchestratorConfig struct {
	// ConnectionTimeout overrides DefaultConnectionTimeout when positive.
	ConnectionTimeout time.Duration

	// Tracker overrides tracker tuning for the orchestrator-owned tracker.
	Tracker TrackerConfig
}

// Orchestrator decides, per (user, server) pair, whether an automatic
// reconnection using an already-stored token is safe, launches eligible
// attempts in the background, and records failures so an unreachable server
// is not retried endlessly.
//
// There is one orchestrator per process because there is one shared
// connection pool; construct it once at startup with CreateInstance and pass
// the handle through call sites. GetInstance exists for the few places that
// cannot take the handle.
type Orchestrator struct {
	cache   *config.Cache
	tokens  api.TokenStore
	pool    api.ConnectionPool
	tracker *Tracker
	cfg     OrchestratorConfig
}

var (
	instanceMu sync.Mutex
	instance   *Orchestrator
)

// New constructs an orchestrator without touching the process-wide instance.
// Tests and dependency-injected call sites use this directly.
func New(cache *config.Cache, tokens api.TokenStore, pool api.ConnectionPool, cfg OrchestratorConfig) *Orchestrator {
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = DefaultConnectionTimeout
	}
	return &Orchestrator{
		cache:   cache,
		tokens:  tokens,
		pool:    pool,
		tracker: NewTracker(cfg.Tracker),
		cfg:     cfg,
	}
}

// CreateInstance constructs the process-wide orchestrator. It fails if one
// was already constructed; there must be exactly one per connection pool.
func CreateInstance(cache *config.Cache, tokens api.TokenStore, pool api.ConnectionPool, cfg OrchestratorConfig) (*Orchestrator, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance != nil {
		return nil, errors.New("reconnect: orchestrator instance already created")
	}
	instance = New(cache, tokens, pool, cfg)
	return instance, nil
}

// GetInstance returns the process-wide orchestrator. It fails if
// CreateInstance has not run yet.
func GetInstance() (*Orchestrator, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance == nil {
		return nil, errors.New("reconnect: orchestrator instance not created yet")
	}
	return instance, nil
}

// ResetInstance forgets the process-wide orchestrator so a new one can be
// created. Only tests use this.
func ResetInstance() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instance = nil
}

// Tracker exposes the orchestrator's tracker for status read paths.
func (o *Orchestrator) Tracker() *Tracker {
	return o.tracker
}

// ReconnectServers enumerates the delegated-auth servers, filters each pair
// through the eligibility checks, marks every eligible pair active, and then
// launches one independent background attempt per pair. It returns
// immediately; nothing awaits the attempts and their failures are only
// logged and recorded in the tracker.
//
// Marking all pairs active before launching any attempt keeps a concurrent
// ReconnectServers call from re-selecting the same pair.
func (o *Orchestrator) ReconnectServers(ctx context.Context, userID string) {
	services := o.cache.GetDelegatedAuthServices("")

	var eligible []*config.ServiceConfig
	for _, svc := range services {
		if o.canReconnect(ctx, userID, svc.Name) {
			eligible = append(eligible, svc)
		}
	}
	if len(eligible) == 0 {
		logging.Debug("Reconnect", "No eligible servers for user %s (%d delegated-auth servers)", userID, len(services))
		return
	}

	for _, svc := range eligible {
		o.tracker.SetActive(userID, svc.Name)
	}

	logging.Info("Reconnect", "Launching %d reconnection attempts for user %s", len(eligible), userID)
	for _, svc := range eligible {
		go o.tryReconnect(userID, svc.Name)
	}
}

// canReconnect applies the ordered eligibility checks for one pair. Each is
// a hard no; the first that trips wins.
func (o *Orchestrator) canReconnect(ctx context.Context, userID, serverName string) bool {
	if o.pool == nil {
		return false
	}
	if o.tracker.IsFailed(userID, serverName) {
		logging.Debug("Reconnect", "Skipping %s for user %s: previously failed", serverName, userID)
		return false
	}
	if o.tracker.IsActive(userID, serverName) {
		logging.Debug("Reconnect", "Skipping %s for user %s: reconnection already active", serverName, userID)
		return false
	}
	if conn, ok := o.pool.GetUserConnections(userID)[serverName]; ok && conn.Connected() {
		return false
	}

	token, err := o.tokens.FindToken(ctx, api.TokenQuery{UserID: userID, ServerName: serverName})
	if err != nil {
		logging.Warn("Reconnect", "Token lookup failed for user=%s server=%s: %v", userID, serverName, err)
		return false
	}
	if token == nil {
		return false
	}
	if expiry, ok := token.Expiry(); ok && expiry.Before(time.Now()) {
		logging.Debug("Reconnect", "Skipping %s for user %s: stored token expired at %v", serverName, userID, expiry)
		return false
	}

	return true
}

// tryReconnect performs one background reconnection attempt. No caller
// awaits it, so every failure path is swallowed: logged, recorded in the
// tracker, and any half-open connection dropped asynchronously.
func (o *Orchestrator) tryReconnect(userID, serverName string) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Reconnect", fmt.Errorf("%v", r), "Reconnection attempt panicked for user=%s server=%s", userID, serverName)
			o.recordFailure(userID, serverName)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ConnectionTimeout)
	defer cancel()

	conn, err := o.pool.GetUserConnection(ctx, api.ConnectionRequest{
		ServerName:        serverName,
		UserID:            userID,
		ForceNew:          false,
		ConnectionTimeout: o.cfg.ConnectionTimeout,
		ReturnOnOAuth:     true,
	})

	switch {
	case err != nil:
		logging.Warn("Reconnect", "Reconnection failed for user=%s server=%s: %v", userID, serverName, err)
		o.recordFailure(userID, serverName)
	case conn == nil || !conn.Connected():
		logging.Warn("Reconnect", "Reconnection for user=%s server=%s did not yield a live connection", userID, serverName)
		o.recordFailure(userID, serverName)
	default:
		o.tracker.ClearActive(userID, serverName)
		o.tracker.RemoveFailed(userID, serverName)
		logging.Info("Reconnect", "Reconnected user=%s to server=%s", userID, serverName)
	}
}

func (o *Orchestrator) recordFailure(userID, serverName string) {
	o.tracker.SetFailed(userID, serverName)
	o.tracker.ClearActive(userID, serverName)

	// Drop any half-open connection without blocking this task's exit.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ConnectionTimeout)
		defer cancel()
		if err := o.pool.DisconnectUserConnection(ctx, userID, serverName); err != nil {
			logging.Debug("Reconnect", "Disconnect after failed reconnection for user=%s server=%s: %v", userID, serverName, err)
		}
	}()
}
