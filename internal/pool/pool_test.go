package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tether/internal/api"
	"tether/internal/config"
	"tether/internal/tokens"
)

type fakeConn struct {
	serverName string
	userID     string

	mu        sync.Mutex
	connected bool
	closed    bool
}

func (c *fakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) ServerName() string { return c.serverName }
func (c *fakeConn) UserID() string     { return c.userID }

func (c *fakeConn) CallTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.closed = true
	return nil
}

func (c *fakeConn) drop() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func newTestPool(t *testing.T, servers ...*config.ServiceConfig) (*Pool, *tokens.Store, *atomic.Int32) {
	t.Helper()

	fallback := make(map[string]*config.ServiceConfig)
	for _, s := range servers {
		fallback[s.Name] = s
	}
	cache := config.NewCache(fallback, config.CacheConfig{})
	t.Cleanup(cache.Stop)
	store := tokens.NewStore()
	t.Cleanup(store.Stop)

	pool := NewPool(cache, store, PoolConfig{})

	var dials atomic.Int32
	pool.dial = func(ctx context.Context, cfg *config.ServiceConfig, userID string, token *api.Token) (api.Connection, error) {
		dials.Add(1)
		return &fakeConn{serverName: cfg.Name, userID: userID, connected: true}, nil
	}
	return pool, store, &dials
}

func TestGetUserConnection_ReusesHealthyConnection(t *testing.T) {
	pool, _, dials := newTestPool(t, &config.ServiceConfig{Name: "notes", Command: "notes-server"})

	ctx := context.Background()
	first, err := pool.GetUserConnection(ctx, api.ConnectionRequest{ServerName: "notes", UserID: "alice"})
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := pool.GetUserConnection(ctx, api.ConnectionRequest{ServerName: "notes", UserID: "alice"})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), dials.Load())
}

func TestGetUserConnection_ForceNewRedials(t *testing.T) {
	pool, _, dials := newTestPool(t, &config.ServiceConfig{Name: "notes", Command: "notes-server"})

	ctx := context.Background()
	first, err := pool.GetUserConnection(ctx, api.ConnectionRequest{ServerName: "notes", UserID: "alice"})
	require.NoError(t, err)

	second, err := pool.GetUserConnection(ctx, api.ConnectionRequest{ServerName: "notes", UserID: "alice", ForceNew: true})
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), dials.Load())

	// The displaced connection is closed and only the fresh one stays pooled.
	assert.True(t, first.(*fakeConn).closed)
	pooled, err := pool.GetUserConnection(ctx, api.ConnectionRequest{ServerName: "notes", UserID: "alice"})
	require.NoError(t, err)
	assert.Same(t, second, pooled)
	assert.Equal(t, int32(2), dials.Load())
}

func TestGetUserConnection_RedialsDeadConnection(t *testing.T) {
	pool, _, dials := newTestPool(t, &config.ServiceConfig{Name: "notes", Command: "notes-server"})

	ctx := context.Background()
	first, err := pool.GetUserConnection(ctx, api.ConnectionRequest{ServerName: "notes", UserID: "alice"})
	require.NoError(t, err)

	first.(*fakeConn).drop()

	second, err := pool.GetUserConnection(ctx, api.ConnectionRequest{ServerName: "notes", UserID: "alice"})
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.True(t, first.(*fakeConn).closed)
	assert.Equal(t, int32(2), dials.Load())
}

func TestGetUserConnection_UnknownServer(t *testing.T) {
	pool, _, _ := newTestPool(t)

	conn, err := pool.GetUserConnection(context.Background(), api.ConnectionRequest{ServerName: "ghost", UserID: "alice"})
	assert.Nil(t, conn)
	assert.True(t, api.IsNotFound(err))
}

func TestGetUserConnection_DelegatedAuthWithoutToken(t *testing.T) {
	pool, _, dials := newTestPool(t, &config.ServiceConfig{
		Name:                  "drive",
		Command:               "drive-server",
		RequiresDelegatedAuth: true,
	})

	ctx := context.Background()

	// Background callers defer to the authorization flow.
	conn, err := pool.GetUserConnection(ctx, api.ConnectionRequest{ServerName: "drive", UserID: "alice", ReturnOnOAuth: true})
	require.NoError(t, err)
	assert.Nil(t, conn)

	// Interactive callers get a real error.
	conn, err = pool.GetUserConnection(ctx, api.ConnectionRequest{ServerName: "drive", UserID: "alice"})
	assert.Nil(t, conn)
	assert.Error(t, err)
	assert.Equal(t, int32(0), dials.Load())
}

func TestGetUserConnection_DelegatedAuthWithToken(t *testing.T) {
	pool, store, dials := newTestPool(t, &config.ServiceConfig{
		Name:                  "drive",
		Command:               "drive-server",
		RequiresDelegatedAuth: true,
	})

	ctx := context.Background()
	require.NoError(t, store.CreateToken(ctx, &api.Token{
		UserID:      "alice",
		ServerName:  "drive",
		AccessToken: "tok-1",
		ExpiresAt:   time.Now().Add(time.Hour).Format(time.RFC3339),
	}))

	conn, err := pool.GetUserConnection(ctx, api.ConnectionRequest{ServerName: "drive", UserID: "alice", ReturnOnOAuth: true})
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, int32(1), dials.Load())
}

func TestGetUserConnection_ExpiredTokenTreatedAsMissing(t *testing.T) {
	pool, store, dials := newTestPool(t, &config.ServiceConfig{
		Name:                  "drive",
		Command:               "drive-server",
		RequiresDelegatedAuth: true,
	})

	ctx := context.Background()
	require.NoError(t, store.CreateToken(ctx, &api.Token{
		UserID:      "alice",
		ServerName:  "drive",
		AccessToken: "tok-stale",
		ExpiresAt:   time.Now().Add(-time.Minute).Unix(),
	}))

	conn, err := pool.GetUserConnection(ctx, api.ConnectionRequest{ServerName: "drive", UserID: "alice", ReturnOnOAuth: true})
	require.NoError(t, err)
	assert.Nil(t, conn)
	assert.Equal(t, int32(0), dials.Load())
}

func TestGetUserConnections_FiltersByUser(t *testing.T) {
	pool, _, _ := newTestPool(t,
		&config.ServiceConfig{Name: "notes", Command: "notes-server"},
		&config.ServiceConfig{Name: "mail", Command: "mail-server"},
	)

	ctx := context.Background()
	_, err := pool.GetUserConnection(ctx, api.ConnectionRequest{ServerName: "notes", UserID: "alice"})
	require.NoError(t, err)
	_, err = pool.GetUserConnection(ctx, api.ConnectionRequest{ServerName: "mail", UserID: "alice"})
	require.NoError(t, err)
	_, err = pool.GetUserConnection(ctx, api.ConnectionRequest{ServerName: "notes", UserID: "bob"})
	require.NoError(t, err)

	alice := pool.GetUserConnections("alice")
	assert.Len(t, alice, 2)
	assert.Contains(t, alice, "notes")
	assert.Contains(t, alice, "mail")

	bob := pool.GetUserConnections("bob")
	assert.Len(t, bob, 1)
}

func TestDisconnectUserConnection(t *testing.T) {
	pool, _, _ := newTestPool(t, &config.ServiceConfig{Name: "notes", Command: "notes-server"})

	ctx := context.Background()
	conn, err := pool.GetUserConnection(ctx, api.ConnectionRequest{ServerName: "notes", UserID: "alice"})
	require.NoError(t, err)

	require.NoError(t, pool.DisconnectUserConnection(ctx, "alice", "notes"))
	assert.True(t, conn.(*fakeConn).closed)
	assert.Empty(t, pool.GetUserConnections("alice"))

	// Disconnecting again is a no-op.
	require.NoError(t, pool.DisconnectUserConnection(ctx, "alice", "notes"))
}

func TestShutdown_ClosesEverything(t *testing.T) {
	pool, _, _ := newTestPool(t,
		&config.ServiceConfig{Name: "notes", Command: "notes-server"},
		&config.ServiceConfig{Name: "mail", Command: "mail-server"},
	)

	ctx := context.Background()
	a, err := pool.GetUserConnection(ctx, api.ConnectionRequest{ServerName: "notes", UserID: "alice"})
	require.NoError(t, err)
	b, err := pool.GetUserConnection(ctx, api.ConnectionRequest{ServerName: "mail", UserID: "bob"})
	require.NoError(t, err)

	pool.Shutdown()
	assert.True(t, a.(*fakeConn).closed)
	assert.True(t, b.(*fakeConn).closed)
	assert.Empty(t, pool.GetUserConnections("alice"))
}

func TestGetUserConnection_DialError(t *testing.T) {
	pool, _, _ := newTestPool(t, &config.ServiceConfig{Name: "notes", Command: "notes-server"})
	pool.dial = func(ctx context.Context, cfg *config.ServiceConfig, userID string, token *api.Token) (api.Connection, error) {
		return nil, errors.New("spawn failed")
	}

	conn, err := pool.GetUserConnection(context.Background(), api.ConnectionRequest{ServerName: "notes", UserID: "alice"})
	assert.Nil(t, conn)
	assert.ErrorContains(t, err, "spawn failed")
	assert.Empty(t, pool.GetUserConnections("alice"))
}
