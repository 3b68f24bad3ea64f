package app

import (
	"fmt"

	"tether/internal/config"
	"tether/internal/flow"
	"tether/internal/pool"
	"tether/internal/reconnect"
	"tether/internal/tokens"
	"tether/pkg/logging"
)

// Services holds all initialized subsystems used by the application.
//
// Initialization order matters: the config cache comes first because the
// pool and the reconnection orchestrator resolve server definitions through
// it, and the orchestrator is registered last since it depends on everything
// else.
type Services struct {
	// Cache resolves downstream server configurations through the tier
	// hierarchy backed by the loaded configuration file.
	Cache *config.Cache

	// Watcher reloads the fallback tier when the configuration file
	// changes on disk.
	Watcher *config.Watcher

	// AuthFlows tracks in-flight authorization flows so concurrent
	// requests for the same user and server share one outcome.
	AuthFlows *flow.Store[map[string]interface{}]

	// Tokens stores delegated access tokens per user and server.
	Tokens *tokens.Store

	// Pool manages per-user connections to downstream servers.
	Pool *pool.Pool

	// Reconnect is the process-wide reconnection orchestrator.
	Reconnect *reconnect.Orchestrator
}

// InitializeServices wires up all subsystems from the loaded configuration.
func InitializeServices(cfg *Config, configPath string) (*Services, error) {
	cache := config.NewCache(cfg.TetherConfig.FallbackTable(), config.CacheConfig{})
	watcher := config.NewWatcher(configPath, cache, 0)

	tokenStore := tokens.NewStore()
	connPool := pool.NewPool(cache, tokenStore, pool.PoolConfig{})

	orchestrator, err := reconnect.CreateInstance(cache, tokenStore, connPool, reconnect.OrchestratorConfig{})
	if err != nil {
		cache.Stop()
		tokenStore.Stop()
		return nil, fmt.Errorf("creating reconnection orchestrator: %w", err)
	}

	return &Services{
		Cache:     cache,
		Watcher:   watcher,
		AuthFlows: flow.NewStore[map[string]interface{}]("auth", flow.StoreConfig{}),
		Tokens:    tokenStore,
		Pool:      connPool,
		Reconnect: orchestrator,
	}, nil
}

// Shutdown stops all subsystems in reverse dependency order.
func (s *Services) Shutdown() {
	s.Watcher.Stop()
	s.Pool.Shutdown()
	s.AuthFlows.Stop()
	s.Tokens.Stop()
	s.Cache.Stop()
	logging.Info("App", "All subsystems stopped")
}
