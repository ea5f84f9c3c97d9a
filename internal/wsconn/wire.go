package wsconn

import (
	"encoding/json"
	"fmt"

	"github.com/nextcloud/notify-push/internal/sendqueue"
)

const (
	wireFile         = "notify_file"
	wireFileID       = "notify_file_id"
	wireActivity     = "notify_activity"
	wireNotification = "notify_notification"
)

// encode renders a push message as the text frame body the client expects
// (§4.7 "Message encoding on the wire"). listenFileID selects the richer
// File(Known(ids)) encoding once the client has opted in.
func encode(msg sendqueue.Message, listenFileID bool) (string, error) {
	switch msg.Kind {
	case sendqueue.KindFile:
		if listenFileID && !msg.Files.IsUnknown() {
			ids, err := json.Marshal(msg.Files.IDs())
			if err != nil {
				return "", fmt.Errorf("wsconn: encoding file ids: %w", err)
			}
			return wireFileID + " " + string(ids), nil
		}
		return wireFile, nil

	case sendqueue.KindActivity:
		return wireActivity, nil

	case sendqueue.KindNotification:
		return wireNotification, nil

	case sendqueue.KindCustom:
		if len(msg.CustomBody) == 0 || string(msg.CustomBody) == "null" {
			return msg.CustomKind, nil
		}
		return msg.CustomKind + " " + string(msg.CustomBody), nil

	default:
		return "", fmt.Errorf("wsconn: unknown message kind %v", msg.Kind)
	}
}
