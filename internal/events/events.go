// Package events defines the pub/sub wire events (§3, §6) and decodes raw
// channel payloads into typed Event values for the dispatcher (C8).
package events

import (
	"encoding/json"
	"fmt"

	"github.com/nextcloud/notify-push/internal/identity"
)

// Channel names exactly as published by the file-sync backend (§4.4).
const (
	ChannelStorageUpdate  = "notify_storage_update"
	ChannelGroupUpdate    = "notify_group_membership_update"
	ChannelShareCreate    = "notify_user_share_created"
	ChannelTestCookie     = "notify_test_cookie"
	ChannelActivity       = "notify_activity"
	ChannelNotification   = "notify_notification"
	ChannelPreAuth        = "notify_pre_auth"
	ChannelCustom         = "notify_custom"
	ChannelConfig         = "notify_config"
	ChannelQuery          = "notify_query"
	ChannelSignal         = "notify_signal"
)

// Channels lists every channel the ingest component subscribes to (§4.4).
var Channels = []string{
	ChannelStorageUpdate,
	ChannelGroupUpdate,
	ChannelShareCreate,
	ChannelTestCookie,
	ChannelActivity,
	ChannelNotification,
	ChannelPreAuth,
	ChannelCustom,
	ChannelConfig,
	ChannelQuery,
	ChannelSignal,
}

// Event is implemented by every decoded variant.
type Event interface {
	eventMarker()
}

// StorageUpdate is published when a file under a storage changes.
//
// storage_id has historically been published as both a signed and an
// unsigned 64-bit integer (open question 1, spec §9); we accept any JSON
// integer and preserve its sign as given by the backend.
type StorageUpdate struct {
	Storage json.Number `json:"storage"`
	Path    string      `json:"path"`
	FileID  uint64      `json:"file_id"`
}

func (StorageUpdate) eventMarker() {}

// GroupUpdate is published when a user's group memberships change.
type GroupUpdate struct {
	User identity.UserID
}

func (GroupUpdate) eventMarker() {}

// ShareCreate is published when a new share is created for a user.
type ShareCreate struct {
	User identity.UserID
}

func (ShareCreate) eventMarker() {}

// TestCookie carries a bare integer used to verify connectivity direction.
type TestCookie uint32

func (TestCookie) eventMarker() {}

// Activity is published when a new activity entry is recorded for a user.
type Activity struct {
	User identity.UserID
}

func (Activity) eventMarker() {}

// Notification is published when a new notification is created for a user.
type Notification struct {
	User identity.UserID
}

func (Notification) eventMarker() {}

// PreAuth hands a one-time token to a user for a future handshake.
type PreAuth struct {
	User  identity.UserID
	Token string
}

func (PreAuth) eventMarker() {}

// Custom delivers an application-defined message to exactly one user.
type Custom struct {
	User    identity.UserID
	Message string
	Body    json.RawMessage
}

func (Custom) eventMarker() {}

// ConfigLogSpec pushes a temporary log-level spec onto the log stack.
type ConfigLogSpec struct {
	Spec string
}

func (ConfigLogSpec) eventMarker() {}

// ConfigLogRestore pops the most recently pushed log-level spec.
type ConfigLogRestore struct{}

func (ConfigLogRestore) eventMarker() {}

// QueryMetrics requests a metrics snapshot be published to the KV store.
type QueryMetrics struct{}

func (QueryMetrics) eventMarker() {}

// SignalReset instructs every gateway instance to close all connections.
type SignalReset struct{}

func (SignalReset) eventMarker() {}

// ErrUnsupportedEventType is returned for channels the ingest component
// did not subscribe to or does not recognize.
type ErrUnsupportedEventType struct {
	Channel string
}

func (e ErrUnsupportedEventType) Error() string {
	return fmt.Sprintf("unsupported event type on channel %q", e.Channel)
}

// wireUser mirrors the `{"user": "..."}` shape used by several channels.
type wireUser struct {
	User string `json:"user"`
}

// Decode parses a raw pub/sub payload published on channel into its typed
// Event. Unknown channels return ErrUnsupportedEventType; malformed JSON
// returns the underlying json error (callers log and skip, per §4.4).
func Decode(channel string, payload []byte) (Event, error) {
	switch channel {
	case ChannelStorageUpdate:
		var v StorageUpdate
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return v, nil

	case ChannelGroupUpdate:
		var v wireUser
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return GroupUpdate{User: identity.New(v.User)}, nil

	case ChannelShareCreate:
		var v wireUser
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return ShareCreate{User: identity.New(v.User)}, nil

	case ChannelTestCookie:
		var v uint32
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return TestCookie(v), nil

	case ChannelActivity:
		var v wireUser
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return Activity{User: identity.New(v.User)}, nil

	case ChannelNotification:
		var v wireUser
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return Notification{User: identity.New(v.User)}, nil

	case ChannelPreAuth:
		var v struct {
			User  string `json:"user"`
			Token string `json:"token"`
		}
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return PreAuth{User: identity.New(v.User), Token: v.Token}, nil

	case ChannelCustom:
		var v struct {
			User    string          `json:"user"`
			Message string          `json:"message"`
			Body    json.RawMessage `json:"body,omitempty"`
		}
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return Custom{User: identity.New(v.User), Message: v.Message, Body: v.Body}, nil

	case ChannelConfig:
		return decodeConfig(payload)

	case ChannelQuery:
		var v string
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		if v != "metrics" {
			return nil, fmt.Errorf("unknown query event %q", v)
		}
		return QueryMetrics{}, nil

	case ChannelSignal:
		var v string
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		if v != "reset" {
			return nil, fmt.Errorf("unknown signal event %q", v)
		}
		return SignalReset{}, nil

	default:
		return nil, ErrUnsupportedEventType{Channel: channel}
	}
}

// decodeConfig handles the two shapes notify_config can take: the bare
// string "log_restore", or an object {"log_spec": "..."}.
func decodeConfig(payload []byte) (Event, error) {
	var asString string
	if err := json.Unmarshal(payload, &asString); err == nil {
		if asString == "log_restore" {
			return ConfigLogRestore{}, nil
		}
		return nil, fmt.Errorf("unknown config event %q", asString)
	}

	var asObject struct {
		LogSpec string `json:"log_spec"`
	}
	if err := json.Unmarshal(payload, &asObject); err != nil {
		return nil, err
	}
	return ConfigLogSpec{Spec: asObject.LogSpec}, nil
}
