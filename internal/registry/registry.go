// Package registry implements the active-connections registry (C5): a
// map from UserId to a lossy, bounded, multi-subscriber broadcast of
// PushMessage values (§3 ActiveConnections, §4.5).
package registry

import (
	"errors"
	"sync"

	"github.com/nextcloud/notify-push/internal/identity"
	"github.com/nextcloud/notify-push/internal/npmetrics"
	"github.com/nextcloud/notify-push/internal/sendqueue"
)

const (
	// channelCapacity is the per-user broadcast capacity (§3, §4.5).
	channelCapacity = 4
	// maxReceivers is the per-user connection cap (§4.5).
	maxReceivers = 64
)

// ErrLimitExceeded is returned by Subscribe when a user already has more
// than maxReceivers live subscriptions.
var ErrLimitExceeded = errors.New("connection limit exceeded")

// Subscription is a live receiver registered against a user. Callers must
// call Remove when the connection closes.
type Subscription struct {
	ch   chan sendqueue.Message
	user identity.UserID
	row  *row
}

// C returns the channel to read incoming PushMessages from.
func (s *Subscription) C() <-chan sendqueue.Message { return s.ch }

type row struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Registry maps UserId to its broadcast row. The map is keyed by the raw
// 64-bit identity hash (the identity hasher from §9/4.1): the UserId is
// already a random-seeded hash, so a second string/struct hash on top of
// it would waste cycles on the hot send path.
type Registry struct {
	mu   sync.RWMutex
	rows map[uint64]*row
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{rows: make(map[uint64]*row)}
}

// Subscribe registers a new receiver for user. If this is the user's
// first connection, the active-user gauge is incremented.
func (r *Registry) Subscribe(user identity.UserID) (*Subscription, error) {
	rw := r.getOrCreateRow(user)

	rw.mu.Lock()
	defer rw.mu.Unlock()

	if len(rw.subs) > maxReceivers {
		return nil, ErrLimitExceeded
	}

	sub := &Subscription{
		ch:   make(chan sendqueue.Message, channelCapacity),
		user: user,
		row:  rw,
	}
	rw.subs[sub] = struct{}{}
	return sub, nil
}

func (r *Registry) getOrCreateRow(user identity.UserID) *row {
	h := user.Hash()

	r.mu.RLock()
	rw, ok := r.rows[h]
	r.mu.RUnlock()
	if ok {
		return rw
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rw, ok = r.rows[h]; ok {
		return rw
	}
	rw = &row{subs: make(map[*Subscription]struct{})}
	r.rows[h] = rw
	npmetrics.ActiveUsers.Inc()
	return rw
}

// Send is a non-blocking publish to every live subscriber of user. If no
// subscriber exists the call is a no-op. If a subscriber's channel is
// full, the oldest queued message is dropped to make room (lossy by
// design — the debounce layer coalesces in the common case, §4.5, §9).
func (r *Registry) Send(user identity.UserID, msg sendqueue.Message) {
	r.mu.RLock()
	rw, ok := r.rows[user.Hash()]
	r.mu.RUnlock()
	if !ok {
		return
	}

	rw.mu.Lock()
	defer rw.mu.Unlock()
	for sub := range rw.subs {
		select {
		case sub.ch <- msg:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- msg:
			default:
			}
		}
	}
}

// Remove deregisters sub. When the removed subscription was the row's
// last one, the row is evicted and the active-user gauge decremented.
func (r *Registry) Remove(sub *Subscription) {
	rw := sub.row

	rw.mu.Lock()
	delete(rw.subs, sub)
	empty := len(rw.subs) == 0
	rw.mu.Unlock()

	if !empty {
		return
	}

	r.mu.Lock()
	if current, ok := r.rows[sub.user.Hash()]; ok && current == rw {
		// re-check under the row lock in case a new subscriber raced in
		// between the unlock above and acquiring the registry lock.
		rw.mu.Lock()
		stillEmpty := len(rw.subs) == 0
		rw.mu.Unlock()
		if stillEmpty {
			delete(r.rows, sub.user.Hash())
			npmetrics.ActiveUsers.Dec()
		}
	}
	r.mu.Unlock()
}

// ConnectionCount returns the number of live subscriptions across every
// user, used to scale the debounce window (§4.6, §4.7).
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, rw := range r.rows {
		rw.mu.Lock()
		total += len(rw.subs)
		rw.mu.Unlock()
	}
	return total
}
