// Package sendqueue implements the per-connection debounce/coalesce send
// queue (C6) and the PushMessage/UpdatedFiles data model (§3, §4.6).
package sendqueue

import "encoding/json"

// Kind identifies which debounce slot a message belongs to.
type Kind int

const (
	KindFile Kind = iota
	KindActivity
	KindNotification
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "File"
	case KindActivity:
		return "Activity"
	case KindNotification:
		return "Notification"
	case KindCustom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// UpdatedFiles is either Unknown (the recipient should assume anything may
// have changed) or a Known set of file ids, preserving first-seen order.
type UpdatedFiles struct {
	unknown bool
	ids     []uint64
	seen    map[uint64]struct{}
}

// UnknownFiles constructs the Unknown variant.
func UnknownFiles() UpdatedFiles {
	return UpdatedFiles{unknown: true}
}

// KnownFiles constructs the Known variant from a set of file ids.
func KnownFiles(ids ...uint64) UpdatedFiles {
	u := UpdatedFiles{ids: make([]uint64, 0, len(ids)), seen: make(map[uint64]struct{}, len(ids))}
	for _, id := range ids {
		u.add(id)
	}
	return u
}

func (u *UpdatedFiles) add(id uint64) {
	if u.seen == nil {
		u.seen = make(map[uint64]struct{})
	}
	if _, ok := u.seen[id]; ok {
		return
	}
	u.seen[id] = struct{}{}
	u.ids = append(u.ids, id)
}

// IsUnknown reports whether this is the Unknown variant.
func (u UpdatedFiles) IsUnknown() bool { return u.unknown }

// IDs returns the known file ids in first-seen order. Empty for Unknown.
func (u UpdatedFiles) IDs() []uint64 { return u.ids }

// Merge implements the UpdatedFiles merge law (§3): Known ⊕ Known is the
// order-preserving union; anything ⊕ Unknown is Unknown.
func (u UpdatedFiles) Merge(other UpdatedFiles) UpdatedFiles {
	if u.unknown || other.unknown {
		return UnknownFiles()
	}
	merged := KnownFiles(u.ids...)
	for _, id := range other.ids {
		merged.add(id)
	}
	return merged
}

// Message is a PushMessage (§3): exactly one of File/Activity/Notification/
// Custom is meaningful, selected by Kind.
type Message struct {
	Kind       Kind
	Files      UpdatedFiles    // valid when Kind == KindFile
	CustomKind string          // valid when Kind == KindCustom
	CustomBody json.RawMessage // valid when Kind == KindCustom
}

// File constructs a File push message.
func File(files UpdatedFiles) Message { return Message{Kind: KindFile, Files: files} }

// ActivityMessage constructs an Activity push message.
func ActivityMessage() Message { return Message{Kind: KindActivity} }

// NotificationMessage constructs a Notification push message.
func NotificationMessage() Message { return Message{Kind: KindNotification} }

// CustomMessage constructs a Custom push message with an application-
// defined kind string and JSON body (may be nil/"null").
func CustomMessage(kind string, body json.RawMessage) Message {
	return Message{Kind: KindCustom, CustomKind: kind, CustomBody: body}
}

// merge applies the debounce merge rule for two queued messages of the
// same slot: only File is non-trivial (UpdatedFiles union); the other
// kinds carry no payload so merging is a no-op keeping the latest.
func merge(existing, incoming Message) Message {
	if existing.Kind == KindFile && incoming.Kind == KindFile {
		return File(existing.Files.Merge(incoming.Files))
	}
	return incoming
}
