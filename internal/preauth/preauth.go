// Package preauth implements the pre-auth token store (C9): a short-lived,
// single-use map from opaque token to the user it authenticates (§3, §4.9).
package preauth

import (
	"sync"
	"time"

	"github.com/nextcloud/notify-push/internal/identity"
)

// TTL is how long a pre-auth entry remains valid after issue (§4.9).
const TTL = 15 * time.Second

type entry struct {
	issuedAt time.Time
	user     identity.UserID
}

// Store is a concurrent, sweep-on-read pre-auth token table.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
}

// New creates an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]entry)}
}

// Insert records that token authenticates user as of now. A later PreAuth
// event for the same token overwrites the previous issue time.
func (s *Store) Insert(token string, user identity.UserID, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[token] = entry{issuedAt: now, user: user}
}

// Take sweeps every entry older than TTL, then looks up token. On a hit
// the entry is removed — pre-auth tokens are single-use (§4.9).
func (s *Store) Take(token string, now time.Time) (identity.UserID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-TTL)
	for tok, e := range s.entries {
		if e.issuedAt.Before(cutoff) {
			delete(s.entries, tok)
		}
	}

	e, ok := s.entries[token]
	if !ok {
		return identity.UserID{}, false
	}
	delete(s.entries, token)
	return e.user, true
}

// Len reports the number of entries currently stored (diagnostics/tests).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
