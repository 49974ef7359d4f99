package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jittakal/diskreplay/internal/kafka"
	"github.com/jittakal/diskreplay/internal/replay"
	"github.com/jittakal/diskreplay/internal/snapshot"
	"github.com/jittakal/diskreplay/internal/storage"
)

// Ensure implementation satisfies interfaces at compile time.
var (
	_ replay.MetricsCollector   = (*Metrics)(nil)
	_ kafka.MetricsCollector    = (*Metrics)(nil)
	_ storage.MetricsCollector  = (*Metrics)(nil)
	_ snapshot.MetricsCollector = (*Metrics)(nil)
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Store metrics
	StoreLength *prometheus.GaugeVec
	StoreCursor *prometheus.GaugeVec
	LockWait    *prometheus.HistogramVec

	// Write path metrics
	RecordsSubmitted *prometheus.CounterVec
	RecordsFlushed   *prometheus.CounterVec
	FlushDuration    *prometheus.HistogramVec
	RecordsDropped   *prometheus.CounterVec
	QueueDepth       *prometheus.GaugeVec

	// Read path metrics
	BatchLoadDuration *prometheus.HistogramVec
	SamplerWaits      *prometheus.CounterVec

	// Consumer metrics
	MessagesConsumed   *prometheus.CounterVec
	MessagesRejected   *prometheus.CounterVec
	OffsetCommits      *prometheus.CounterVec
	Rebalances         *prometheus.CounterVec
	RebalanceDuration  *prometheus.HistogramVec
	PartitionsAssigned *prometheus.GaugeVec

	// Snapshot metrics
	SnapshotsWritten     *prometheus.CounterVec
	SnapshotDuration     *prometheus.HistogramVec
	StorageWriteDuration *prometheus.HistogramVec
	SnapshotSize         *prometheus.HistogramVec
	StorageErrors        *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		// Store metrics
		StoreLength: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "replay_store_length",
				Help: "Number of readable rows in the store",
			},
			[]string{},
		),
		StoreCursor: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "replay_store_cursor",
				Help: "Row index the next write starts at",
			},
			[]string{},
		),
		LockWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "replay_lock_wait_seconds",
				Help:    "Time spent waiting for the store lock",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation"},
		),

		// Write path metrics
		RecordsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replay_records_submitted_total",
				Help: "Total number of records accepted by the write path",
			},
			[]string{},
		),
		RecordsFlushed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replay_records_flushed_total",
				Help: "Total number of records handled by batch flushes",
			},
			[]string{"status"},
		),
		FlushDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "replay_flush_duration_seconds",
				Help:    "Duration of batch writes to the store",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		RecordsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replay_records_dropped_total",
				Help: "Total number of records lost to failed flushes",
			},
			[]string{"reason"},
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "replay_queue_depth",
				Help: "Current number of items waiting in a queue",
			},
			[]string{"queue"},
		),

		// Read path metrics
		BatchLoadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "replay_batch_load_duration_seconds",
				Help:    "Duration of sampled batch reads",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		SamplerWaits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replay_sampler_waits_total",
				Help: "Times the sampler backed off because the store held too few rows",
			},
			[]string{},
		),

		// Consumer metrics
		MessagesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_consumed_total",
				Help: "Total number of messages consumed from Kafka",
			},
			[]string{"topic", "partition"},
		),
		MessagesRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_rejected_total",
				Help: "Total number of messages that could not become records",
			},
			[]string{"topic", "reason"},
		),
		OffsetCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_offset_commit_total",
				Help: "Total number of offset commits",
			},
			[]string{"topic", "partition", "status"},
		),
		Rebalances: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_rebalance_total",
				Help: "Total number of consumer group rebalances",
			},
			[]string{"group"},
		),
		RebalanceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafka_rebalance_duration_seconds",
				Help:    "Duration of consumer group rebalances",
				Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"group"},
		),
		PartitionsAssigned: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kafka_partitions_assigned",
				Help: "Number of partitions currently assigned to this consumer",
			},
			[]string{"topic"},
		),

		// Snapshot metrics
		SnapshotsWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapshots_written_total",
				Help: "Total number of snapshot files written to storage",
			},
			[]string{"backend", "format", "status"},
		),
		SnapshotDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "snapshot_duration_seconds",
				Help:    "Duration of complete snapshots including the store read",
				Buckets: []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0},
			},
			[]string{"status"},
		),
		StorageWriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storage_write_duration_seconds",
				Help:    "Duration of storage writes including encoding",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		SnapshotSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "snapshot_size_bytes",
				Help:    "Size of snapshot files written to storage",
				Buckets: prometheus.ExponentialBuckets(64*1024, 4, 10), // 64KB to 16GB
			},
			[]string{"backend", "format"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"backend", "error_type"},
		),
	}
}

// SetStoreLength sets the store length gauge.
func (m *Metrics) SetStoreLength(length int) {
	m.StoreLength.WithLabelValues().Set(float64(length))
}

// SetStoreCursor sets the store cursor gauge.
func (m *Metrics) SetStoreCursor(cursor int) {
	m.StoreCursor.WithLabelValues().Set(float64(cursor))
}

// ObserveLockWait observes how long an operation waited for the lock.
func (m *Metrics) ObserveLockWait(operation string, seconds float64) {
	m.LockWait.WithLabelValues(operation).Observe(seconds)
}

// IncRecordsSubmitted increments the submitted records counter.
func (m *Metrics) IncRecordsSubmitted() {
	m.RecordsSubmitted.WithLabelValues().Inc()
}

// ObserveFlush records one batch flush.
func (m *Metrics) ObserveFlush(records int, seconds float64, status string) {
	m.RecordsFlushed.WithLabelValues(status).Add(float64(records))
	m.FlushDuration.WithLabelValues(status).Observe(seconds)
}

// IncRecordsDropped adds to the dropped records counter.
func (m *Metrics) IncRecordsDropped(reason string, count int) {
	m.RecordsDropped.WithLabelValues(reason).Add(float64(count))
}

// SetWriteQueueDepth sets the write queue depth gauge.
func (m *Metrics) SetWriteQueueDepth(depth int) {
	m.QueueDepth.WithLabelValues("write").Set(float64(depth))
}

// SetReadQueueDepth sets the depth gauge of a read path queue.
func (m *Metrics) SetReadQueueDepth(queue string, depth int) {
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// ObserveLoad observes a sampled batch read.
func (m *Metrics) ObserveLoad(seconds float64, status string) {
	m.BatchLoadDuration.WithLabelValues(status).Observe(seconds)
}

// IncSamplerWaits increments the sampler backoff counter.
func (m *Metrics) IncSamplerWaits() {
	m.SamplerWaits.WithLabelValues().Inc()
}

// IncMessagesConsumed increments messages consumed counter.
func (m *Metrics) IncMessagesConsumed(topic string, partition int32) {
	m.MessagesConsumed.WithLabelValues(topic, strconv.Itoa(int(partition))).Inc()
}

// IncMessagesRejected increments rejected messages counter.
func (m *Metrics) IncMessagesRejected(topic string, reason string) {
	m.MessagesRejected.WithLabelValues(topic, reason).Inc()
}

// IncRebalances increments rebalances counter.
func (m *Metrics) IncRebalances(groupID string) {
	m.Rebalances.WithLabelValues(groupID).Inc()
}

// IncOffsetCommits increments offset commits counter.
func (m *Metrics) IncOffsetCommits(topic string, partition int32, status string) {
	m.OffsetCommits.WithLabelValues(topic, strconv.Itoa(int(partition)), status).Inc()
}

// ObserveRebalanceDuration observes rebalance duration.
func (m *Metrics) ObserveRebalanceDuration(groupID string, duration float64) {
	m.RebalanceDuration.WithLabelValues(groupID).Observe(duration)
}

// SetPartitionsAssigned sets partitions assigned gauge.
func (m *Metrics) SetPartitionsAssigned(topic string, count float64) {
	m.PartitionsAssigned.WithLabelValues(topic).Set(count)
}

// IncSnapshotsWritten increments snapshots written counter.
func (m *Metrics) IncSnapshotsWritten(backend string, format string, status string) {
	m.SnapshotsWritten.WithLabelValues(backend, format, status).Inc()
}

// ObserveSnapshotSize observes snapshot file size.
func (m *Metrics) ObserveSnapshotSize(backend string, format string, size float64) {
	m.SnapshotSize.WithLabelValues(backend, format).Observe(size)
}

// ObserveSnapshotWriteDuration observes storage write duration.
func (m *Metrics) ObserveSnapshotWriteDuration(backend string, duration float64) {
	m.StorageWriteDuration.WithLabelValues(backend).Observe(duration)
}

// ObserveSnapshot observes a complete snapshot.
func (m *Metrics) ObserveSnapshot(seconds float64, status string) {
	m.SnapshotDuration.WithLabelValues(status).Observe(seconds)
}

// IncStorageErrors increments storage errors counter.
func (m *Metrics) IncStorageErrors(backend string, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}
