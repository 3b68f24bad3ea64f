package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tether/internal/api"
)

func testCache(t *testing.T, fallback map[string]*ServiceConfig) *Cache {
	t.Helper()
	c := NewCache(fallback, CacheConfig{})
	t.Cleanup(c.Stop)
	return c
}

func namedConfig(name string) *ServiceConfig {
	return &ServiceConfig{Name: name, Command: "serve-" + name}
}

func TestCache_LayeredOverride(t *testing.T) {
	fallback := map[string]*ServiceConfig{
		"github": {Name: "github", Command: "from-fallback"},
	}
	c := testCache(t, fallback)

	// Fallback only.
	cfg, ok := c.GetServiceConfig("github", "caller-1")
	require.True(t, ok)
	assert.Equal(t, "from-fallback", cfg.Command)

	// Private overrides fallback.
	c.AddPrivate("caller-1", &ServiceConfig{Name: "github", Command: "from-private"})
	cfg, ok = c.GetServiceConfig("github", "caller-1")
	require.True(t, ok)
	assert.Equal(t, "from-private", cfg.Command)

	// Shared-mutable overrides private.
	c.SetShared(&ServiceConfig{Name: "github", Command: "from-shared"})
	cfg, ok = c.GetServiceConfig("github", "caller-1")
	require.True(t, ok)
	assert.Equal(t, "from-shared", cfg.Command)

	// Shared-immutable overrides shared-mutable.
	c.SetImmutable(&ServiceConfig{Name: "github", Command: "from-immutable"})
	cfg, ok = c.GetServiceConfig("github", "caller-1")
	require.True(t, ok)
	assert.Equal(t, "from-immutable", cfg.Command)

	// Removing tiers walks back down the hierarchy.
	require.True(t, c.RemoveImmutable("github"))
	cfg, _ = c.GetServiceConfig("github", "caller-1")
	assert.Equal(t, "from-shared", cfg.Command)

	require.True(t, c.RemoveShared("github"))
	cfg, _ = c.GetServiceConfig("github", "caller-1")
	assert.Equal(t, "from-private", cfg.Command)

	require.True(t, c.RemovePrivate("caller-1", "github"))
	cfg, _ = c.GetServiceConfig("github", "caller-1")
	assert.Equal(t, "from-fallback", cfg.Command)

	// Clearing everything returns absent.
	c.ReplaceFallback(nil)
	_, ok = c.GetServiceConfig("github", "caller-1")
	assert.False(t, ok)
}

func TestCache_PrivateTierRequiresCaller(t *testing.T) {
	c := testCache(t, nil)
	c.AddPrivate("caller-1", namedConfig("jira"))

	if _, ok := c.GetServiceConfig("jira", ""); ok {
		t.Error("private config must not resolve without a caller ID")
	}
	if _, ok := c.GetServiceConfig("jira", "caller-2"); ok {
		t.Error("private config must not resolve for a different caller")
	}
	if _, ok := c.GetServiceConfig("jira", "caller-1"); !ok {
		t.Error("private config should resolve for its owning caller")
	}
}

func TestCache_UpdatePrivateMissingKey(t *testing.T) {
	c := testCache(t, nil)

	err := c.UpdatePrivate("caller-1", namedConfig("jira"))
	require.Error(t, err)
	assert.True(t, api.IsKeyConflict(err))

	// After adding, the update succeeds and replaces wholesale.
	c.AddPrivate("caller-1", namedConfig("jira"))
	replacement := &ServiceConfig{Name: "jira", Command: "serve-jira-v2"}
	require.NoError(t, c.UpdatePrivate("caller-1", replacement))

	cfg, ok := c.GetServiceConfig("jira", "caller-1")
	require.True(t, ok)
	assert.Equal(t, "serve-jira-v2", cfg.Command)
}

func TestCache_ResetInvalidatesTiersAndMemoization(t *testing.T) {
	c := testCache(t, nil)

	c.SetShared(namedConfig("github"))
	c.AddPrivate("caller-1", namedConfig("jira"))
	c.SetImmutable(namedConfig("slack"))

	// Warm the memoization for every lookup path.
	_, ok := c.GetServiceConfig("github", "")
	require.True(t, ok)
	_, ok = c.GetServiceConfig("jira", "caller-1")
	require.True(t, ok)
	_, ok = c.GetServiceConfig("slack", "")
	require.True(t, ok)

	c.Reset()

	// A stale memoized value would still resolve here; Reset must have
	// dropped both the tiers and the memoized entries.
	if _, ok := c.GetServiceConfig("github", ""); ok {
		t.Error("shared entry survived Reset")
	}
	if _, ok := c.GetServiceConfig("jira", "caller-1"); ok {
		t.Error("private entry survived Reset")
	}
	if _, ok := c.GetServiceConfig("slack", ""); ok {
		t.Error("immutable entry survived Reset")
	}
}

func TestCache_MutationInvalidatesMemoizedLookup(t *testing.T) {
	c := testCache(t, nil)

	c.SetShared(&ServiceConfig{Name: "github", Command: "v1"})
	cfg, ok := c.GetServiceConfig("github", "")
	require.True(t, ok)
	require.Equal(t, "v1", cfg.Command)

	// The lookup above is memoized; the mutation must still be visible
	// immediately, not after the memoization TTL.
	c.SetShared(&ServiceConfig{Name: "github", Command: "v2"})
	cfg, ok = c.GetServiceConfig("github", "")
	require.True(t, ok)
	assert.Equal(t, "v2", cfg.Command)

	c.RemoveShared("github")
	_, ok = c.GetServiceConfig("github", "")
	assert.False(t, ok)
}

func TestCache_GetAllServiceConfigs(t *testing.T) {
	fallback := map[string]*ServiceConfig{
		"github": {Name: "github", Command: "from-fallback"},
		"jira":   {Name: "jira", Command: "from-fallback"},
	}
	c := testCache(t, fallback)

	c.SetShared(&ServiceConfig{Name: "github", Command: "from-shared"})
	c.AddPrivate("caller-1", &ServiceConfig{Name: "slack", Command: "from-private"})

	all := c.GetAllServiceConfigs("caller-1")
	require.Len(t, all, 3)
	assert.Equal(t, "from-shared", all["github"].Command)
	assert.Equal(t, "from-fallback", all["jira"].Command)
	assert.Equal(t, "from-private", all["slack"].Command)

	// Without the caller, the private entry is invisible.
	all = c.GetAllServiceConfigs("")
	require.Len(t, all, 2)
}

func TestCache_GetDelegatedAuthServices(t *testing.T) {
	fallback := map[string]*ServiceConfig{
		"github": {Name: "github", RequiresDelegatedAuth: true},
		"local":  {Name: "local"},
	}
	c := testCache(t, fallback)
	c.SetShared(&ServiceConfig{Name: "jira", RequiresDelegatedAuth: true})

	services := c.GetDelegatedAuthServices("")
	require.Len(t, services, 2)

	names := map[string]bool{}
	for _, cfg := range services {
		names[cfg.Name] = true
	}
	assert.True(t, names["github"])
	assert.True(t, names["jira"])

	// An override that drops the flag removes the server from the view.
	c.SetImmutable(&ServiceConfig{Name: "github"})
	services = c.GetDelegatedAuthServices("")
	require.Len(t, services, 1)
	assert.Equal(t, "jira", services[0].Name)
}

func TestCache_TierEntryExpires(t *testing.T) {
	c := NewCache(nil, CacheConfig{
		TierTTL:   50 * time.Millisecond,
		LookupTTL: 10 * time.Millisecond,
	})
	defer c.Stop()

	c.SetShared(namedConfig("github"))
	if _, ok := c.GetServiceConfig("github", ""); !ok {
		t.Fatal("expected fresh entry to resolve")
	}

	time.Sleep(100 * time.Millisecond)

	if _, ok := c.GetServiceConfig("github", ""); ok {
		t.Error("expected tier entry to expire after the tier TTL")
	}
}

func TestServiceConfig_Clone(t *testing.T) {
	orig := &ServiceConfig{
		Name:    "github",
		Command: "serve",
		Args:    []string{"--stdio"},
		Env:     map[string]string{"TOKEN": "x"},
		DelegatedAuth: &DelegatedAuthConfig{
			Issuer: "https://auth.example.com",
			Scopes: []string{"repo"},
		},
		Variables: map[string]map[string]string{
			"caller-1": {"region": "eu"},
		},
	}

	clone := orig.Clone()
	clone.Args[0] = "--http"
	clone.Env["TOKEN"] = "y"
	clone.DelegatedAuth.Scopes[0] = "admin"
	clone.Variables["caller-1"]["region"] = "us"

	assert.Equal(t, "--stdio", orig.Args[0])
	assert.Equal(t, "x", orig.Env["TOKEN"])
	assert.Equal(t, "repo", orig.DelegatedAuth.Scopes[0])
	assert.Equal(t, "eu", orig.Variables["caller-1"]["region"])
}
