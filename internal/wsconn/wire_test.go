package wsconn

import (
	"testing"

	"github.com/nextcloud/notify-push/internal/sendqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFileUnknownIsBareLiteral(t *testing.T) {
	out, err := encode(sendqueue.File(sendqueue.UnknownFiles()), true)
	require.NoError(t, err)
	assert.Equal(t, "notify_file", out)
}

func TestEncodeFileKnownWithoutOptInIsBareLiteral(t *testing.T) {
	out, err := encode(sendqueue.File(sendqueue.KnownFiles(1, 2)), false)
	require.NoError(t, err)
	assert.Equal(t, "notify_file", out)
}

func TestEncodeFileKnownWithOptInIncludesIDs(t *testing.T) {
	out, err := encode(sendqueue.File(sendqueue.KnownFiles(1, 2, 3)), true)
	require.NoError(t, err)
	assert.Equal(t, "notify_file_id [1,2,3]", out)
}

func TestEncodeActivityAndNotification(t *testing.T) {
	out, err := encode(sendqueue.ActivityMessage(), false)
	require.NoError(t, err)
	assert.Equal(t, "notify_activity", out)

	out, err = encode(sendqueue.NotificationMessage(), false)
	require.NoError(t, err)
	assert.Equal(t, "notify_notification", out)
}

func TestEncodeCustomWithNullBodyIsBareKind(t *testing.T) {
	out, err := encode(sendqueue.CustomMessage("my_event", nil), false)
	require.NoError(t, err)
	assert.Equal(t, "my_event", out)

	out, err = encode(sendqueue.CustomMessage("my_event", []byte("null")), false)
	require.NoError(t, err)
	assert.Equal(t, "my_event", out)
}

func TestEncodeCustomWithBodyAppendsJSON(t *testing.T) {
	out, err := encode(sendqueue.CustomMessage("my_event", []byte(`{"a":1}`)), false)
	require.NoError(t, err)
	assert.Equal(t, `my_event {"a":1}`, out)
}
