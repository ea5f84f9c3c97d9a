package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/nextcloud/notify-push/internal/dispatch"
	"github.com/nextcloud/notify-push/internal/storagemap"
)

// selfTestProbeKey is written with a short TTL purely to confirm the
// configured KV store is reachable; nothing ever reads it back.
const selfTestProbeKey = "notify_push_self_test"

// SelfTest exercises the database and key-value dependencies the same way
// the startup self-check does (§4.10): a mapping lookup against storage id
// 1 and a throwaway write to the configured KV store. The original
// self-check also round-trips an app-version marker through the Nextcloud
// backend; that endpoint isn't part of this client, so it's skipped here.
func SelfTest(ctx context.Context, mapping *storagemap.Cache, kv dispatch.KVStore) error {
	if _, err := mapping.UsersFor(ctx, "1", ""); err != nil {
		return fmt.Errorf("gateway: database self-test failed: %w", err)
	}
	if err := kv.Set(ctx, selfTestProbeKey, "ok", time.Minute); err != nil {
		return fmt.Errorf("gateway: key-value store self-test failed: %w", err)
	}
	return nil
}
