// Package identity implements the process-wide user identity hash (C1).
//
// A UserId is a deterministic 64-bit hash of a textual user identifier.
// The hash seed is chosen once per process so that a given name always
// maps to the same UserId within that process, while two processes need
// not agree on the mapping for the same name.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/crypto/blake2b"
)

var (
	seed     [32]byte
	seedOnce sync.Once

	namesMu sync.RWMutex
	names   map[uint64]string // populated only when diagnostics are enabled
)

// Init seeds the process-wide hasher. It is safe to call multiple times;
// only the first call takes effect. Call this once from main before any
// UserId is constructed.
func Init() {
	seedOnce.Do(func() {
		if _, err := rand.Read(seed[:]); err != nil {
			// crypto/rand failing means the OS entropy source is broken;
			// fall back to a fixed seed rather than panic so the process
			// can still run (collisions become deterministic, not fatal).
			slog.Warn("identity: failed to read random seed, using fixed seed", "error", err)
		}
		if diagnosticsEnabled() {
			names = make(map[uint64]string)
		}
	})
}

func diagnosticsEnabled() bool {
	return slog.Default().Enabled(context.Background(), slog.LevelInfo)
}

// UserID is the 64-bit identity token used throughout the engine.
type UserID struct {
	hash uint64
}

// New derives a UserId from a textual user identifier. Conversion is
// infallible: any string, including the empty string, yields a valid id.
func New(name string) UserID {
	Init()
	h, err := blake2b.New(8, seed[:])
	if err != nil {
		// blake2b.New only fails for an invalid key/size, which never
		// happens with our fixed 32-byte seed and 8-byte digest.
		panic(fmt.Sprintf("identity: blake2b init: %v", err))
	}
	_, _ = h.Write([]byte(name))
	sum := h.Sum(nil)
	id := UserID{hash: binary.BigEndian.Uint64(sum)}

	if namesEnabled() && name != "" {
		namesMu.Lock()
		names[id.hash] = name
		namesMu.Unlock()
	}
	return id
}

func namesEnabled() bool {
	namesMu.RLock()
	defer namesMu.RUnlock()
	return names != nil
}

// Hash returns the raw 64-bit value, used directly as a map key by
// callers that want an identity hash (e.g. internal/registry) instead of
// re-hashing an already-random value.
func (u UserID) Hash() uint64 { return u.hash }

// String renders the original name when diagnostics retained it, or the
// literal form "user #<hash>" otherwise.
func (u UserID) String() string {
	if namesEnabled() {
		namesMu.RLock()
		name, ok := names[u.hash]
		namesMu.RUnlock()
		if ok {
			return name
		}
	}
	return fmt.Sprintf("user #%d", u.hash)
}

// Zero reports whether this is the zero-value UserID (never a valid hash
// of any real name, used as a sentinel for "no user").
func (u UserID) Zero() bool { return u.hash == 0 }
