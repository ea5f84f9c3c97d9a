package sendqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeUpdatedFiles(t *testing.T) {
	a := KnownFiles(1, 2)
	b := KnownFiles(2, 3)
	merged := a.Merge(b)
	assert.False(t, merged.IsUnknown())
	assert.Equal(t, []uint64{1, 2, 3}, merged.IDs())
}

func TestMergeUnknownAbsorbs(t *testing.T) {
	a := KnownFiles(1, 2)
	merged := a.Merge(UnknownFiles())
	assert.True(t, merged.IsUnknown())

	merged2 := UnknownFiles().Merge(a)
	assert.True(t, merged2.IsUnknown())
}

func TestPushCustomBypassesQueue(t *testing.T) {
	q := New(15*time.Second, true)
	now := time.Now()
	msg := CustomMessage("my_custom_message", nil)
	got := q.Push(msg, now)
	require.NotNil(t, got)
	assert.Equal(t, KindCustom, got.Kind)
}

func TestPushDisabledDebouncingReturnsImmediately(t *testing.T) {
	q := New(15*time.Second, false)
	now := time.Now()
	got := q.Push(File(KnownFiles(1)), now)
	require.NotNil(t, got)
}

func TestPushThenDrainQuiesce(t *testing.T) {
	q := New(15*time.Second, true)
	now := time.Now()

	got := q.Push(File(KnownFiles(1)), now)
	assert.Nil(t, got)

	// Immediately after push, the burst has not quiesced: nothing drains.
	drained := q.Drain(now.Add(10*time.Millisecond), 1)
	assert.Empty(t, drained)

	// After the quiesce window and with a low connection count, it drains.
	later := now.Add(2 * time.Second)
	drained = q.Drain(later, 1)
	require.Len(t, drained, 1)
	assert.Equal(t, KindFile, drained[0].Kind)
	assert.Equal(t, []uint64{1}, drained[0].Files.IDs())
}

func TestDrainIdempotentSecondCallEmpty(t *testing.T) {
	q := New(15*time.Second, true)
	now := time.Now()
	q.Push(NotificationMessage(), now)

	later := now.Add(2 * time.Second)
	first := q.Drain(later, 1)
	require.Len(t, first, 1)

	second := q.Drain(later, 1)
	assert.Empty(t, second)
}

func TestDrainOrderIsFileActivityNotification(t *testing.T) {
	q := New(15*time.Second, true)
	now := time.Now()
	q.Push(NotificationMessage(), now)
	q.Push(ActivityMessage(), now)
	q.Push(File(KnownFiles(1)), now)

	later := now.Add(2 * time.Second)
	drained := q.Drain(later, 1)
	require.Len(t, drained, 3)
	assert.Equal(t, KindFile, drained[0].Kind)
	assert.Equal(t, KindActivity, drained[1].Kind)
	assert.Equal(t, KindNotification, drained[2].Kind)
}

func TestDebounceTimeScalesWithConnectionCountAndClamps(t *testing.T) {
	q := New(15*time.Second, true)
	q.debounceFactor = 1.0 // deterministic for the assertions below

	assert.Equal(t, time.Second, q.debounceTimeFor(KindFile, 1))
	assert.Equal(t, 5*time.Second, q.debounceTimeFor(KindFile, 50))
	assert.Equal(t, 15*time.Second, q.debounceTimeFor(KindFile, 1000)) // clamped to max

	assert.Equal(t, notificationDebounce, q.debounceTimeFor(KindNotification, 1000))
	assert.Equal(t, customDebounce, q.debounceTimeFor(KindCustom, 1000))
}
