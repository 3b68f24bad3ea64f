package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"tether/internal/api"
	"tether/pkg/logging"
)

const (
	// DefaultTTL is the lifetime of a flow that was created without an
	// explicit TTL. A flow still PENDING past its TTL is expired and every
	// waiter fails.
	DefaultTTL = 5 * time.Minute

	// DefaultGraceInterval is how long CreateFlow waits before re-checking
	// for a concurrently created flow. Absorbs the common create race
	// between two callers issued at nearly the same time.
	DefaultGraceInterval = 250 * time.Millisecond

	// DefaultPollInterval is how often a monitor re-reads the flow state.
	DefaultPollInterval = 2 * time.Second
)

// StoreConfig tunes a Store. Zero values fall back to the defaults above.
type StoreConfig struct {
	DefaultTTL    time.Duration
	GraceInterval time.Duration
	PollInterval  time.Duration
}

func (c StoreConfig) withDefaults() StoreConfig {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.GraceInterval <= 0 {
		c.GraceInterval = DefaultGraceInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Store tracks named asynchronous flows from PENDING to a terminal state,
// backed by an expiring cache keyed by (namespace, type, id).
//
// The coordination primitive is CreateFlow: the first caller for a key
// becomes the producer and every later caller with the same key joins the
// same pending flow and observes the same outcome. There is no broadcast
// mechanism; waiters poll on a fixed interval, trading latency for
// simplicity.
type Store[T any] struct {
	namespace string
	cfg       StoreConfig

	mu    sync.Mutex // serializes state transitions
	cache *ttlcache.Cache[Key, *State[T]]
}

// NewStore creates a flow store for one namespace.
func NewStore[T any](namespace string, cfg StoreConfig) *Store[T] {
	s := &Store[T]{
		namespace: namespace,
		cfg:       cfg.withDefaults(),
		cache: ttlcache.New[Key, *State[T]](
			ttlcache.WithDisableTouchOnHit[Key, *State[T]](),
		),
	}
	go s.cache.Start()
	return s
}

// Stop halts the background expiration goroutine.
func (s *Store[T]) Stop() {
	s.cache.Stop()
}

func (s *Store[T]) key(id, flowType string) Key {
	return Key{Namespace: s.namespace, Type: flowType, ID: id}
}

// CreateFlowState unconditionally creates (or overwrites) a PENDING flow and
// returns the in-memory value. A non-positive ttl uses the store default.
func (s *Store[T]) CreateFlowState(id, flowType string, metadata map[string]interface{}, ttl time.Duration) *State[T] {
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	state := &State[T]{
		Type:      flowType,
		Status:    StatusPending,
		Metadata:  metadata,
		CreatedAt: time.Now(),
		TTL:       ttl,
	}

	s.mu.Lock()
	s.cache.Set(s.key(id, flowType), state, ttl)
	s.mu.Unlock()

	logging.Debug("FlowStore", "Created flow %s (ttl: %v)", s.key(id, flowType), ttl)
	return state
}

// GetFlowState returns the current state of a flow, or false when no live
// flow exists for the key.
func (s *Store[T]) GetFlowState(id, flowType string) (*State[T], bool) {
	item := s.cache.Get(s.key(id, flowType))
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// CompleteFlow transitions a flow to COMPLETED with the given result.
// Returns false when no such flow exists. Completing an already-COMPLETED
// flow is a no-op success leaving the original result and timestamp intact.
func (s *Store[T]) CompleteFlow(id, flowType string, result T) bool {
	key := s.key(id, flowType)

	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(key)
	if item == nil {
		return false
	}
	state := item.Value()
	if state.Status == StatusCompleted {
		return true
	}

	now := time.Now()
	next := *state
	next.Status = StatusCompleted
	next.Result = result
	next.CompletedAt = &now
	next.Err = ""
	next.FailedAt = nil

	s.cache.Set(key, &next, state.TTL)
	logging.Debug("FlowStore", "Completed flow %s", key)
	return true
}

// FailFlow transitions a flow to FAILED with the given error. Returns false
// when no such flow exists. A COMPLETED flow stays completed; its result has
// already been observed by waiters and a late failure must not revoke it.
// Unlike CompleteFlow, re-failing an already-FAILED flow overwrites the
// stored error and timestamp.
func (s *Store[T]) FailFlow(id, flowType string, flowErr error) bool {
	key := s.key(id, flowType)

	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(key)
	if item == nil {
		return false
	}
	state := item.Value()
	if state.Status == StatusCompleted {
		return true
	}

	now := time.Now()
	next := *state
	var zero T
	next.Status = StatusFailed
	next.Err = flowErr.Error()
	next.FailedAt = &now
	next.Result = zero
	next.CompletedAt = nil

	s.cache.Set(key, &next, state.TTL)
	logging.Debug("FlowStore", "Failed flow %s: %v", key, flowErr)
	return true
}

// DeleteFlow removes a flow, reporting whether it existed.
func (s *Store[T]) DeleteFlow(id, flowType string) bool {
	key := s.key(id, flowType)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache.Get(key) == nil {
		return false
	}
	s.cache.Delete(key)
	return true
}

// CreateFlow is the join-or-create entry point. When a flow already exists
// for the key the caller simply monitors it. Otherwise the caller waits a
// short grace interval, re-checks (absorbing a concurrent create), creates
// the flow if still absent, and monitors it until a terminal state, the
// flow's TTL, or cancellation.
func (s *Store[T]) CreateFlow(ctx context.Context, id, flowType string, metadata map[string]interface{}) (T, error) {
	var zero T

	if _, ok := s.GetFlowState(id, flowType); ok {
		logging.Debug("FlowStore", "Joining existing flow %s", s.key(id, flowType))
		return s.monitor(ctx, id, flowType)
	}

	select {
	case <-ctx.Done():
		return zero, api.NewAbortedError("flow", s.key(id, flowType).String())
	case <-time.After(s.cfg.GraceInterval):
	}

	if _, ok := s.GetFlowState(id, flowType); !ok {
		s.CreateFlowState(id, flowType, metadata, 0)
	} else {
		logging.Debug("FlowStore", "Joining flow %s created during grace interval", s.key(id, flowType))
	}

	return s.monitor(ctx, id, flowType)
}

// CreateFlowWithHandler joins an existing flow only while its stored result
// is still usable; otherwise it waits the same grace interval as CreateFlow,
// re-checks, and if still absent creates a fresh flow, invokes the handler
// directly, and records the outcome through CompleteFlow or FailFlow so that
// concurrent joiners observe it.
func (s *Store[T]) CreateFlowWithHandler(ctx context.Context, id, flowType string, handler func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if state, ok := s.GetFlowState(id, flowType); ok && !s.resultExpired(state) {
		logging.Debug("FlowStore", "Joining existing flow %s", s.key(id, flowType))
		return s.monitor(ctx, id, flowType)
	}

	select {
	case <-ctx.Done():
		return zero, api.NewAbortedError("flow", s.key(id, flowType).String())
	case <-time.After(s.cfg.GraceInterval):
	}

	// A concurrent caller may have started the flow during the grace
	// interval; join it instead of running the handler a second time.
	if state, ok := s.GetFlowState(id, flowType); ok && !s.resultExpired(state) {
		logging.Debug("FlowStore", "Joining flow %s created during grace interval", s.key(id, flowType))
		return s.monitor(ctx, id, flowType)
	}

	s.CreateFlowState(id, flowType, nil, 0)

	result, err := handler(ctx)
	if err != nil {
		s.FailFlow(id, flowType, err)
		return zero, err
	}
	s.CompleteFlow(id, flowType, result)
	return result, nil
}

// resultExpired reports whether a COMPLETED flow carries a result whose
// expires_at has already passed. Pending and failed flows never count as
// expired; a result without a readable expires_at is honored as-is.
func (s *Store[T]) resultExpired(state *State[T]) bool {
	if state.Status != StatusCompleted {
		return false
	}
	m, ok := any(state.Result).(map[string]interface{})
	if !ok {
		return false
	}
	expiry, ok := normalizeExpiresAt(m["expires_at"])
	if !ok {
		return false
	}
	return expiry.Before(time.Now())
}

// monitor polls a flow until it reaches a terminal state, the flow's TTL
// elapses, or the context is canceled.
func (s *Store[T]) monitor(ctx context.Context, id, flowType string) (T, error) {
	var zero T
	key := s.key(id, flowType)
	start := time.Now()
	var deadline time.Time

	for {
		state, ok := s.GetFlowState(id, flowType)
		if !ok {
			// The cache dropping the entry at its TTL and the waiter's own
			// deadline fire at the same instant; report the deadline as a
			// timeout, an entry that vanished earlier as not found.
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				return zero, api.NewTimeoutError("flow", key.String(), time.Since(start))
			}
			return zero, api.NewNotFoundError("flow", key.String())
		}
		deadline = state.CreatedAt.Add(state.TTL)

		if ctx.Err() != nil {
			s.DeleteFlow(id, flowType)
			return zero, api.NewAbortedError("flow", key.String())
		}

		switch state.Status {
		case StatusCompleted:
			return state.Result, nil
		case StatusFailed:
			return zero, errors.New(state.Err)
		}

		elapsed := time.Since(start)
		if elapsed >= state.TTL || !time.Now().Before(deadline) {
			s.DeleteFlow(id, flowType)
			return zero, api.NewTimeoutError("flow", key.String(), elapsed)
		}

		wait := s.cfg.PollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			s.DeleteFlow(id, flowType)
			return zero, api.NewAbortedError("flow", key.String())
		case <-time.After(wait):
		}
	}
}
