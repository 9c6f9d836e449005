// ABOUTME: TokenStore holds the single cached Bambu Cloud bearer token.
// ABOUTME: It is the authoritative answer to "is this process authenticated".

package auth

import "sync"

// TokenStore is a guarded cell holding zero or one bearer token. Setting a
// token replaces any previous value; readers always observe either the old
// or the new token, never a torn write.
type TokenStore struct {
	mu    sync.RWMutex
	token string
}

// NewTokenStore creates an empty token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

// Get returns the cached token and whether one is present.
func (s *TokenStore) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Set stores a token, replacing any previous one.
func (s *TokenStore) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Clear removes the cached token. The next EnsureToken call will perform a
// fresh login.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}
