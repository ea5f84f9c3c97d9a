package registry

import (
	"testing"

	"github.com/nextcloud/notify-push/internal/identity"
	"github.com/nextcloud/notify-push/internal/sendqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeSendRemove(t *testing.T) {
	r := New()
	alice := identity.New("alice")

	sub, err := r.Subscribe(alice)
	require.NoError(t, err)
	assert.Equal(t, 1, r.ConnectionCount())

	r.Send(alice, sendqueue.ActivityMessage())
	msg := <-sub.C()
	assert.Equal(t, sendqueue.KindActivity, msg.Kind)

	r.Remove(sub)
	assert.Equal(t, 0, r.ConnectionCount())
}

func TestSendToUnknownUserIsNoOp(t *testing.T) {
	r := New()
	bob := identity.New("bob")
	// Should not panic or block.
	r.Send(bob, sendqueue.ActivityMessage())
}

func TestSendDoesNotReachOtherUsers(t *testing.T) {
	r := New()
	alice := identity.New("alice")
	bob := identity.New("bob")

	subA, err := r.Subscribe(alice)
	require.NoError(t, err)
	subB, err := r.Subscribe(bob)
	require.NoError(t, err)

	r.Send(alice, sendqueue.ActivityMessage())

	select {
	case <-subA.C():
	default:
		t.Fatal("alice should have received a message")
	}
	select {
	case <-subB.C():
		t.Fatal("bob should not have received alice's message")
	default:
	}
}

func TestSendDropsOldestWhenFull(t *testing.T) {
	r := New()
	alice := identity.New("alice")
	sub, err := r.Subscribe(alice)
	require.NoError(t, err)

	for i := 0; i < channelCapacity+2; i++ {
		r.Send(alice, sendqueue.File(sendqueue.KnownFiles(uint64(i))))
	}

	// channel holds at most channelCapacity messages; oldest were dropped.
	assert.LessOrEqual(t, len(sub.C()), channelCapacity)

	// files 0 and 1 were dropped to make room for 4 and 5.
	first := <-sub.C()
	assert.Equal(t, []uint64{2}, first.Files.IDs())
}

func TestSubscribeLimitExceeded(t *testing.T) {
	r := New()
	alice := identity.New("alice")

	var subs []*Subscription
	for i := 0; i <= maxReceivers; i++ {
		sub, err := r.Subscribe(alice)
		require.NoError(t, err)
		subs = append(subs, sub)
	}

	_, err := r.Subscribe(alice)
	assert.ErrorIs(t, err, ErrLimitExceeded)

	for _, sub := range subs {
		r.Remove(sub)
	}
}

func TestRemoveKeepsRowWhileOthersRemain(t *testing.T) {
	r := New()
	alice := identity.New("alice")

	sub1, err := r.Subscribe(alice)
	require.NoError(t, err)
	sub2, err := r.Subscribe(alice)
	require.NoError(t, err)

	r.Remove(sub1)
	assert.Equal(t, 1, r.ConnectionCount())

	r.Remove(sub2)
	assert.Equal(t, 0, r.ConnectionCount())
}
