// Package dispatch routes decoded pub/sub events to the components that
// act on them: the connection registry, the pre-auth store, the log-level
// stack, and the metrics snapshot publisher (C8, §4.8).
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nextcloud/notify-push/internal/events"
	"github.com/nextcloud/notify-push/internal/identity"
	"github.com/nextcloud/notify-push/internal/npmetrics"
	"github.com/nextcloud/notify-push/internal/preauth"
	"github.com/nextcloud/notify-push/internal/registry"
	"github.com/nextcloud/notify-push/internal/sendqueue"
)

// mappingLookup is the storage-to-user lookup a StorageUpdate event is
// resolved through; *storagemap.Cache satisfies it. Tests can supply a
// fake instead of a database-backed cache.
type mappingLookup interface {
	UsersFor(ctx context.Context, storageID string, path string) ([]identity.UserID, error)
}

// metricsKey is the Redis key a Query(Metrics) event publishes a snapshot
// to, read back by the owning file-sync backend's admin UI (§4.8).
const metricsKey = "notify_push_metrics"

// KVStore is the minimal key-value surface the dispatcher needs to publish
// a metrics snapshot. RedisKV adapts a go-redis client to it; tests can
// supply an in-memory fake instead of a live Redis server.
type KVStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Dispatcher wires a decoded event to its effect. One Handle call per
// event is expected to run in its own goroutine (§4.8: "one goroutine per
// event").
type Dispatcher struct {
	registry *registry.Registry
	mapping  mappingLookup
	preAuth  *preauth.Store
	kv       KVStore
	logLevel *LogLevelStack
	reset    func()

	testCookie atomic.Uint32
}

// New builds a Dispatcher. reset is invoked on a SignalReset event; it is
// expected to close every open connection (§4.8).
func New(reg *registry.Registry, mapping mappingLookup, pre *preauth.Store, kv KVStore, logLevel *LogLevelStack, reset func()) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		mapping:  mapping,
		preAuth:  pre,
		kv:       kv,
		logLevel: logLevel,
		reset:    reset,
	}
}

// Handle routes a single decoded event to its effect (§4.8).
func (d *Dispatcher) Handle(ctx context.Context, ev events.Event) {
	switch e := ev.(type) {
	case events.StorageUpdate:
		users, err := d.mapping.UsersFor(ctx, e.Storage.String(), e.Path)
		if err != nil {
			slog.Error("dispatch: storage mapping lookup failed", "storage", e.Storage.String(), "error", err)
			return
		}
		for _, user := range users {
			d.registry.Send(user, sendqueue.File(sendqueue.KnownFiles(e.FileID)))
		}

	case events.GroupUpdate:
		d.registry.Send(e.User, sendqueue.File(sendqueue.UnknownFiles()))

	case events.ShareCreate:
		d.registry.Send(e.User, sendqueue.File(sendqueue.UnknownFiles()))

	case events.TestCookie:
		d.testCookie.Store(uint32(e))

	case events.Activity:
		d.registry.Send(e.User, sendqueue.ActivityMessage())

	case events.Notification:
		d.registry.Send(e.User, sendqueue.NotificationMessage())

	case events.PreAuth:
		d.preAuth.Insert(e.Token, e.User, nowFunc())

	case events.Custom:
		d.registry.Send(e.User, sendqueue.CustomMessage(e.Message, e.Body))

	case events.ConfigLogSpec:
		if err := d.logLevel.PushTemp(e.Spec); err != nil {
			slog.Error("dispatch: failed to set temporary log level", "spec", e.Spec, "error", err)
			return
		}
		slog.Info("dispatch: set temporary log level", "spec", e.Spec)

	case events.ConfigLogRestore:
		d.logLevel.Pop()
		slog.Info("dispatch: restored log level")

	case events.QueryMetrics:
		d.publishMetrics(ctx)

	case events.SignalReset:
		slog.Info("dispatch: stopping all open connections")
		if d.reset != nil {
			d.reset()
		}
	}
}

// TestCookie reports the most recently received test cookie value, served
// by the test/cookie route (§4.10 test routes).
func (d *Dispatcher) TestCookie() uint32 {
	return d.testCookie.Load()
}

func (d *Dispatcher) publishMetrics(ctx context.Context) {
	snapshot := npmetrics.CurrentSnapshot()
	body, err := json.Marshal(snapshot)
	if err != nil {
		slog.Warn("dispatch: failed to marshal metrics snapshot", "error", err)
		return
	}
	if err := d.kv.Set(ctx, metricsKey, body, 0); err != nil {
		slog.Warn("dispatch: failed to publish metrics snapshot", "error", err)
	}
}
