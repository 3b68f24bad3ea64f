package reconnect

import (
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"tether/pkg/logging"
)

// DefaultStalenessWindow is how long a reconnection may stay marked active
// before it is considered stuck for decision purposes.
const DefaultStalenessWindow = 3 * time.Minute

// TrackerConfig tunes the tracker.
type TrackerConfig struct {
	// StalenessWindow overrides DefaultStalenessWindow when positive.
	StalenessWindow time.Duration

	// FailedTTL, when positive, lets a failed mark age out on its own.
	// Zero keeps failures sticky until RemoveFailed, which matches the
	// default behavior.
	FailedTTL time.Duration
}

// pair identifies one (user, downstream server) reconnection.
type pair struct {
	UserID     string
	ServerName string
}

// Tracker is the in-memory bookkeeping of reconnection attempts per
// (user, server) pair. It holds which pairs are currently reconnecting and
// which have failed permanently, with a staleness window for detecting
// attempts that never finished. Nothing is persisted; a restart forgets
// every attempt.
//
// The orchestrator is the sole writer; reads are safe from any goroutine.
type Tracker struct {
	cfg TrackerConfig

	mu       sync.RWMutex
	active   map[pair]time.Time
	failed   mapset.Set[pair]
	failedAt map[pair]time.Time
}

// NewTracker creates an empty tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = DefaultStalenessWindow
	}
	return &Tracker{
		cfg:      cfg,
		active:   make(map[pair]time.Time),
		failed:   mapset.NewSet[pair](),
		failedAt: make(map[pair]time.Time),
	}
}

// SetActive marks a pair as currently reconnecting, overwriting the
// activation timestamp of an earlier mark.
func (t *Tracker) SetActive(userID, serverName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[pair{userID, serverName}] = time.Now()
}

// ClearActive removes the reconnecting mark for a pair.
func (t *Tracker) ClearActive(userID, serverName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, pair{userID, serverName})
}

// IsActive reports whether the pair is in the active set, regardless of
// staleness.
func (t *Tracker) IsActive(userID, serverName string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.active[pair{userID, serverName}]
	return ok
}

// IsStillReconnecting reports whether the pair is active and its activation
// is within the staleness window. A stale activation returns false but is
// not evicted; that requires CleanupIfTimedOut.
func (t *Tracker) IsStillReconnecting(userID, serverName string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	activatedAt, ok := t.active[pair{userID, serverName}]
	if !ok {
		return false
	}
	return time.Since(activatedAt) <= t.cfg.StalenessWindow
}

// CleanupIfTimedOut lazily evicts the active mark once it is stale,
// reporting whether an eviction happened.
func (t *Tracker) CleanupIfTimedOut(userID, serverName string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := pair{userID, serverName}
	activatedAt, ok := t.active[p]
	if !ok {
		return false
	}
	if time.Since(activatedAt) <= t.cfg.StalenessWindow {
		return false
	}

	delete(t.active, p)
	logging.Debug("ReconnectTracker", "Evicted stale reconnection for user=%s server=%s (activated %v ago)",
		userID, serverName, time.Since(activatedAt))
	return true
}

// SetFailed marks a pair as permanently failed. The mark is sticky until
// RemoveFailed, unless a FailedTTL was configured.
func (t *Tracker) SetFailed(userID, serverName string) {
	p := pair{userID, serverName}
	t.failed.Add(p)

	if t.cfg.FailedTTL > 0 {
		t.mu.Lock()
		t.failedAt[p] = time.Now()
		t.mu.Unlock()
	}
}

// RemoveFailed clears the failed mark for a pair.
func (t *Tracker) RemoveFailed(userID, serverName string) {
	p := pair{userID, serverName}
	t.failed.Remove(p)

	t.mu.Lock()
	delete(t.failedAt, p)
	t.mu.Unlock()
}

// IsFailed reports whether the pair carries a failed mark. With a FailedTTL
// configured, an aged-out mark is lazily dropped and no longer reported.
func (t *Tracker) IsFailed(userID, serverName string) bool {
	p := pair{userID, serverName}
	if !t.failed.Contains(p) {
		return false
	}

	if t.cfg.FailedTTL > 0 {
		t.mu.RLock()
		failedAt, ok := t.failedAt[p]
		t.mu.RUnlock()
		if ok && time.Since(failedAt) > t.cfg.FailedTTL {
			t.RemoveFailed(userID, serverName)
			return false
		}
	}
	return true
}

// ActiveCount returns the number of pairs in the active set, stale or not.
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}
