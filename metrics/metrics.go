// Package metrics exposes pipeline counters on the query server's /metrics
// endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesReceived counts raw deliveries from the broker.
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_messages_received_total",
		Help: "Raw MQTT messages delivered to the bridge",
	})

	// DecodeErrors counts dropped messages by rejection reason.
	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_decode_errors_total",
		Help: "Messages dropped at the decode stage",
	}, []string{"reason"})

	// RecordsIngested counts decoded records fed to the window by variant.
	RecordsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_records_ingested_total",
		Help: "Decoded records ingested into the aggregation window",
	}, []string{"variant"})

	// EntriesSealed counts sealed aggregate entries by seal reason.
	EntriesSealed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_entries_sealed_total",
		Help: "Aggregate entries sealed, by reason",
	}, []string{"reason"})

	// EntriesOpen tracks the open aggregate entry count.
	EntriesOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_entries_open",
		Help: "Currently open aggregate entries",
	})

	// SinkWriteFailures counts writes that exhausted their retries, by sink.
	SinkWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_sink_write_failures_total",
		Help: "Sink writes that failed after exhausting retries",
	}, []string{"sink"})

	// Commits counts commit outcomes.
	Commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_commits_total",
		Help: "Commit attempts by composite outcome",
	}, []string{"status"})

	// CommitQueueDrops counts sealed entries dropped because the commit
	// queue stayed full past the submit bound.
	CommitQueueDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_commit_queue_drops_total",
		Help: "Sealed entries dropped due to a saturated commit queue",
	})

	// Reconnects counts broker connection losses.
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_mqtt_reconnects_total",
		Help: "MQTT connection loss events",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
