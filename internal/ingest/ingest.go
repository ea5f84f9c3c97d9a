// Package ingest subscribes to the fixed set of Redis pub/sub channels,
// decodes each payload into a typed event, and hands it to a dispatcher
// callback (C4, §4.4). It keeps the subscription alive with a periodic
// PING and reconnects on any failure.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/nextcloud/notify-push/internal/events"
	"github.com/nextcloud/notify-push/internal/npmetrics"
)

// pingInterval is how often the ingest loop issues a Redis PING to keep
// the pub/sub connection alive through idle-stream timeouts (§6). A var,
// not a const, so tests can shrink it rather than wait out the real value.
var pingInterval = 15 * time.Second

// reconnectDelay is the fixed wait before retrying a failed subscription
// (§4.4: "the outer loop sleeps 1 s and reconnects").
const reconnectDelay = 1 * time.Second

// Handler processes one decoded event. deliver runs each call in its own
// goroutine.
type Handler func(ctx context.Context, ev events.Event)

// Loop subscribes to every channel in events.Channels on rdb and invokes
// handle for each decoded message, until ctx is canceled. A subscription
// failure is logged and retried after reconnectDelay; this must never
// return early due to a transient error.
func Loop(ctx context.Context, rdb redis.UniversalClient, handle Handler) {
	backOff := backoff.NewConstantBackOff(reconnectDelay)

	for {
		if ctx.Err() != nil {
			return
		}
		if err := subscribeOnce(ctx, rdb, handle); err != nil {
			slog.Warn("ingest: subscription ended, reconnecting", "error", err, "delay", reconnectDelay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backOff.NextBackOff()):
		}
	}
}

func subscribeOnce(ctx context.Context, rdb redis.UniversalClient, handle Handler) error {
	sub := rdb.Subscribe(ctx, events.Channels...)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	msgCh := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := sub.Ping(ctx); err != nil {
				return err
			}
		case msg, ok := <-msgCh:
			if !ok {
				return nil
			}
			deliver(ctx, msg.Channel, []byte(msg.Payload), handle)
		}
	}
}

// deliver decodes a single raw pub/sub message and, on success, hands it to
// handle in its own goroutine. Decode failures are logged, not propagated —
// one bad message must never tear down the subscription; failures on an
// unsupported channel are also counted.
func deliver(ctx context.Context, channel string, payload []byte, handle Handler) {
	ev, err := events.Decode(channel, payload)
	if err != nil {
		if _, unsupported := err.(events.ErrUnsupportedEventType); unsupported {
			npmetrics.EventsUnsupported.Inc()
		}
		slog.Debug("ingest: dropping undecodable event", "channel", channel, "error", err)
		return
	}
	npmetrics.EventsReceived.Inc()
	go handle(ctx, ev)
}
