// ABOUTME: PendingChallengeRegistry tracks logins awaiting a 2FA code.
// ABOUTME: Keyed by account identity, in-memory only, at most one per identity.

package auth

import (
	"sort"
	"sync"
	"time"
)

// Challenge is an in-flight login attempt awaiting a one-time code. TFAKey
// carries the provider's opaque continuation key when the account uses the
// app-based flow; the email-code flow leaves it empty.
type Challenge struct {
	ID        string
	Identity  string
	TFAKey    string
	CreatedAt time.Time
	Attempts  int
}

// PendingChallengeRegistry holds pending challenges keyed by identity.
// Entries live until a verify succeeds, an operator clears them, or the
// attempt limit drops them. They are never persisted and never expire on
// a timer.
type PendingChallengeRegistry struct {
	mu      sync.RWMutex
	entries map[string]*Challenge
}

// NewPendingChallengeRegistry creates an empty registry.
func NewPendingChallengeRegistry() *PendingChallengeRegistry {
	return &PendingChallengeRegistry{
		entries: make(map[string]*Challenge),
	}
}

// Put stores a challenge under its identity, replacing any prior entry.
func (r *PendingChallengeRegistry) Put(ch Challenge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := ch
	r.entries[ch.Identity] = &stored
}

// Get returns a copy of the pending challenge for the identity.
func (r *PendingChallengeRegistry) Get(identity string) (Challenge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.entries[identity]
	if !ok {
		return Challenge{}, false
	}
	return *ch, true
}

// Remove deletes the pending challenge for the identity, reporting whether
// one existed.
func (r *PendingChallengeRegistry) Remove(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.entries[identity]
	delete(r.entries, identity)
	return ok
}

// RecordFailure increments the attempt counter for the identity and returns
// the new count. Returns 0 if no challenge is pending.
func (r *PendingChallengeRegistry) RecordFailure(identity string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.entries[identity]
	if !ok {
		return 0
	}
	ch.Attempts++
	return ch.Attempts
}

// Identities returns the identities with pending challenges, sorted.
func (r *PendingChallengeRegistry) Identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of pending challenges.
func (r *PendingChallengeRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
