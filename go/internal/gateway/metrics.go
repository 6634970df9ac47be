package gateway

import (
	"fmt"

	"github.com/mcdev12/ordersync/go/internal/ordering"
)

// PrometheusExporter renders participant and ordering counters
type PrometheusExporter struct {
	connectionManager *ConnectionManager
	stats             *ordering.Stats
}

func NewPrometheusExporter(cm *ConnectionManager, stats *ordering.Stats) *PrometheusExporter {
	return &PrometheusExporter{connectionManager: cm, stats: stats}
}

func (e *PrometheusExporter) Export() string {
	var snap ordering.StatsSnapshot
	if e.stats != nil {
		snap = e.stats.Snapshot()
	}

	lastFlush := int64(0)
	if !snap.LastFlushAt.IsZero() {
		lastFlush = snap.LastFlushAt.Unix()
	}

	return fmt.Sprintf(`# HELP ordersync_connected_players Number of registered participants
# TYPE ordersync_connected_players gauge
ordersync_connected_players %d

# HELP ordersync_events_ingested_total Total number of actions ingested
# TYPE ordersync_events_ingested_total counter
ordersync_events_ingested_total %d

# HELP ordersync_events_flushed_total Total number of actions broadcast in order
# TYPE ordersync_events_flushed_total counter
ordersync_events_flushed_total %d

# HELP ordersync_batches_flushed_total Total number of non-empty flush cycles
# TYPE ordersync_batches_flushed_total counter
ordersync_batches_flushed_total %d

# HELP ordersync_sink_errors_total Total number of failed batch deliveries
# TYPE ordersync_sink_errors_total counter
ordersync_sink_errors_total %d

# HELP ordersync_largest_batch Largest batch flushed so far
# TYPE ordersync_largest_batch gauge
ordersync_largest_batch %d

# HELP ordersync_last_flush_timestamp Unix timestamp of the last flush
# TYPE ordersync_last_flush_timestamp gauge
ordersync_last_flush_timestamp %d
`,
		len(e.connectionManager.Players()),
		snap.EventsIngested,
		snap.EventsFlushed,
		snap.BatchesFlushed,
		snap.SinkErrors,
		snap.LargestBatch,
		lastFlush,
	)
}
