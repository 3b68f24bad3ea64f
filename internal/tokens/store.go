package tokens

import (
	"context"
	"sync"
	"time"

	"tether/internal/api"
	"tether/pkg/logging"
)

// tokenKey indexes tokens by the pair they authorize.
type tokenKey struct {
	UserID     string
	ServerName string
}

// Store is a thread-safe in-memory token store. It implements api.TokenStore
// and is the default collaborator when no external document store is wired
// in. A background goroutine periodically drops tokens whose expiry has
// clearly passed; tokens with an unreadable expiry are kept, since the
// consumers treat unparseable expiry as not expired.
type Store struct {
	mu     sync.RWMutex
	tokens map[tokenKey]*api.Token

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewStore creates an in-memory token store and starts its cleanup loop.
func NewStore() *Store {
	s := &Store{
		tokens:          make(map[tokenKey]*api.Token),
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

var _ api.TokenStore = (*Store)(nil)

// FindToken returns the stored token for the queried pair, or nil when the
// pair has none. A query without both fields set matches the first token
// satisfying the populated fields.
func (s *Store) FindToken(ctx context.Context, query api.TokenQuery) (*api.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if query.UserID != "" && query.ServerName != "" {
		return s.tokens[tokenKey{query.UserID, query.ServerName}], nil
	}

	for key, token := range s.tokens {
		if query.UserID != "" && key.UserID != query.UserID {
			continue
		}
		if query.ServerName != "" && key.ServerName != query.ServerName {
			continue
		}
		return token, nil
	}
	return nil, nil
}

// CreateToken stores a token, overwriting any existing one for the pair.
func (s *Store) CreateToken(ctx context.Context, token *api.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}
	token.UpdatedAt = now

	s.tokens[tokenKey{token.UserID, token.ServerName}] = token
	logging.Debug("TokenStore", "Stored token for user=%s server=%s", token.UserID, token.ServerName)
	return nil
}

// UpdateToken replaces the token matching the query. The query must address
// one pair exactly; updating a token that does not exist is a not-found
// error so callers cannot silently create records through the update path.
func (s *Store) UpdateToken(ctx context.Context, query api.TokenQuery, token *api.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tokenKey{query.UserID, query.ServerName}
	existing, ok := s.tokens[key]
	if !ok {
		return api.NewNotFoundError("token", query.UserID+"/"+query.ServerName)
	}

	token.CreatedAt = existing.CreatedAt
	token.UpdatedAt = time.Now()
	s.tokens[key] = token
	return nil
}

// DeleteTokens removes every token matching the query, returning the count.
func (s *Store) DeleteTokens(ctx context.Context, query api.TokenQuery) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key := range s.tokens {
		if query.UserID != "" && key.UserID != query.UserID {
			continue
		}
		if query.ServerName != "" && key.ServerName != query.ServerName {
			continue
		}
		delete(s.tokens, key)
		count++
	}

	if count > 0 {
		logging.Debug("TokenStore", "Deleted %d tokens for user=%s server=%s", count, query.UserID, query.ServerName)
	}
	return count, nil
}

// Count returns the number of stored tokens.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// Stop halts the background cleanup goroutine.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// cleanupLoop periodically removes expired tokens from the store.
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes all tokens with a readable expiry in the past.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	now := time.Now()
	for key, token := range s.tokens {
		if expiry, ok := token.Expiry(); ok && expiry.Before(now) {
			delete(s.tokens, key)
			count++
		}
	}

	if count > 0 {
		logging.Debug("TokenStore", "Cleaned up %d expired tokens", count)
	}
}
