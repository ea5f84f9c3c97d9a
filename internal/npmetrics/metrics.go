// Package npmetrics holds the gateway's Prometheus metrics, registered at
// package-init time the way the teacher's internal/escrow metrics are.
// Counter names mirror original_source/src/metrics.rs so operators
// carrying dashboards from the Rust gateway see the same series.
package npmetrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveUsers is the number of distinct users with at least one live
	// WebSocket connection (C5).
	ActiveUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notify_push_connection_count",
		Help: "Number of distinct users with at least one open connection",
	})

	// MappingQueries counts storage-mapping cache loader invocations (C2).
	MappingQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_push_mapping_query_count",
		Help: "Total number of storage mapping database queries",
	})

	// EventsReceived counts successfully decoded pub/sub events (C4).
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_push_event_count_total",
		Help: "Total number of events received and decoded from pub/sub",
	})

	// EventsUnsupported counts events on unrecognized channels (C4).
	EventsUnsupported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_push_event_unsupported_total",
		Help: "Total number of events received on unsupported channels",
	})

	// MessagesSent counts WebSocket frames written to clients (C7).
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_push_message_count_total",
		Help: "Total number of push messages sent to clients",
	})
)

// Snapshot is the JSON shape published to the notify_push_metrics Redis
// key on a Query(Metrics) event (§4.8, §6).
type Snapshot struct {
	ConnectionCount   int `json:"connection_count"`
	MappingQueryCount int `json:"mapping_query_count"`
	EventCount        int `json:"event_count_total"`
	MessageCount      int `json:"message_count_total"`
}

// CurrentSnapshot reads the live metric values into a Snapshot.
func CurrentSnapshot() Snapshot {
	return Snapshot{
		ConnectionCount:   int(gaugeValue(ActiveUsers)),
		MappingQueryCount: int(counterValue(MappingQueries)),
		EventCount:        int(counterValue(EventsReceived)),
		MessageCount:      int(counterValue(MessagesSent)),
	}
}

func gaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
