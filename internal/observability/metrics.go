package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weather_pipeline"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingest and storage paths. Each binary registers the full set; series a
// binary never touches simply stay at zero.
type Metrics struct {
	// Ingest path.
	RecordsRead       prometheus.Counter
	RowsSkipped       prometheus.Counter
	MessagesPublished prometheus.Counter
	PublishErrors     prometheus.Counter
	IngestJobsRunning prometheus.Gauge

	// Storage path.
	MessagesConsumed prometheus.Counter
	RowsInserted     prometheus.Counter
	DecodeErrors     prometheus.Counter
	PersistErrors    prometheus.Counter
	DeadLetters      prometheus.Counter
	InsertDuration   prometheus.Histogram
	RetentionDeleted prometheus.Counter
	ConsumerRunning  prometheus.Gauge
	ConsumerParked   prometheus.Gauge

	// Read-only monitoring group.
	MonitorMessages prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RecordsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_read_total",
			Help:      "Total CSV rows parsed into records.",
		}),
		RowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Total malformed CSV rows skipped by the reader.",
		}),
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Total records acknowledged by the broker.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Total records the broker failed to accept.",
		}),
		IngestJobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_jobs_running",
			Help:      "Number of ingest jobs currently reading or draining.",
		}),
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total messages fetched by the storage consumer group.",
		}),
		RowsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_inserted_total",
			Help:      "Total rows committed to weather_data.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total messages dropped because the payload failed to decode.",
		}),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Total failed insert attempts.",
		}),
		DeadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "Total messages copied to the dead-letter topic.",
		}),
		InsertDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "insert_duration_seconds",
			Help:      "Duration of one insert transaction including commit.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		RetentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_total",
			Help:      "Total processed rows removed by retention sweeps.",
		}),
		ConsumerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consumer_running",
			Help:      "1 when the storage consumer is active, 0 when shut down.",
		}),
		ConsumerParked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consumer_parked_messages",
			Help:      "Messages parked behind partition lanes that are full.",
		}),
		MonitorMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_messages_total",
			Help:      "Total messages observed by the monitoring consumer group.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RecordsRead,
		m.RowsSkipped,
		m.MessagesPublished,
		m.PublishErrors,
		m.IngestJobsRunning,
		m.MessagesConsumed,
		m.RowsInserted,
		m.DecodeErrors,
		m.PersistErrors,
		m.DeadLetters,
		m.InsertDuration,
		m.RetentionDeleted,
		m.ConsumerRunning,
		m.ConsumerParked,
		m.MonitorMessages,
	}
}
