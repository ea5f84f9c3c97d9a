package sendqueue

import (
	"math/rand"
	"time"
)

const (
	quiesceWindow        = 100 * time.Millisecond
	notificationDebounce = time.Second
	customDebounce       = time.Millisecond
	minConnectionFactor  = 1.0
)

type slot struct {
	received time.Time
	sent     time.Time
	message  *Message
	occupied bool
}

// SendQueue coalesces bursts of same-kind messages within a debounce
// window scaled by instance load, per connection (C6, §4.6).
type SendQueue struct {
	slots           [3]slot // indexed by Kind: File, Activity, Notification
	debounceFactor  float64 // sampled once per connection, U(0.5, 1.5)
	maxDebounce     time.Duration
	debounceEnabled bool
}

// New creates a SendQueue for one connection. maxDebounce is the
// operator-configured ceiling (default 15s, §6); debounceEnabled lets the
// operator disable debouncing globally (every push then returns
// immediately, per §4.6).
func New(maxDebounce time.Duration, debounceEnabled bool) *SendQueue {
	past := time.Now().Add(-10 * time.Minute)
	q := &SendQueue{
		debounceFactor:  0.5 + rand.Float64(), // U(0.5, 1.5)
		maxDebounce:     maxDebounce,
		debounceEnabled: debounceEnabled,
	}
	for i := range q.slots {
		q.slots[i] = slot{received: past, sent: past}
	}
	return q
}

// Push enqueues msg. If debouncing is disabled, or msg is Custom, it is
// returned unchanged for immediate send. Otherwise it is merged into the
// pending slot and nil is returned (nothing to send right now).
func (q *SendQueue) Push(msg Message, now time.Time) *Message {
	if !q.debounceEnabled || msg.Kind == KindCustom {
		out := msg
		return &out
	}

	s := &q.slots[msg.Kind]
	if s.occupied && s.message != nil {
		merged := merge(*s.message, msg)
		s.message = &merged
	} else {
		m := msg
		s.message = &m
		s.occupied = true
	}
	s.received = now
	return nil
}

// Drain releases every slot whose debounce window has elapsed and whose
// burst has quiesced, in fixed File/Activity/Notification order (§5
// ordering invariant).
func (q *SendQueue) Drain(now time.Time, connectionCount int) []Message {
	var out []Message
	for i := range q.slots {
		s := &q.slots[i]
		if !s.occupied || s.message == nil {
			continue
		}
		debounceTime := q.debounceTimeFor(Kind(i), connectionCount)
		if now.Sub(s.sent) > debounceTime && now.Sub(s.received) > quiesceWindow {
			out = append(out, *s.message)
			s.sent = now
			s.message = nil
			s.occupied = false
		}
	}
	return out
}

// debounceTimeFor implements the per-kind formula from §4.6.
func (q *SendQueue) debounceTimeFor(kind Kind, connectionCount int) time.Duration {
	switch kind {
	case KindFile, KindActivity:
		secs := float64(connectionCount) / 10
		secs = clamp(secs, minConnectionFactor, q.maxDebounce.Seconds())
		secs *= q.debounceFactor
		return time.Duration(secs * float64(time.Second))
	case KindNotification:
		return notificationDebounce
	case KindCustom:
		return customDebounce
	default:
		return notificationDebounce
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
