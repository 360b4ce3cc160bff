package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all sync engine metrics
type Metrics struct {
	serviceName string
	registry    *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Kafka metrics
	KafkaEventsPublished *prometheus.CounterVec
	KafkaEventsConsumed  *prometheus.CounterVec
	KafkaPublishDuration *prometheus.HistogramVec
	KafkaConsumeLag      *prometheus.GaugeVec

	// MongoDB metrics
	MongoDBOperations        *prometheus.CounterVec
	MongoDBOperationDuration *prometheus.HistogramVec
	MongoDBConnectionsOpen   prometheus.Gauge

	// Sync queue metrics
	QueueDepth          *prometheus.GaugeVec
	EntriesEnqueued     *prometheus.CounterVec
	EntriesApplied      *prometheus.CounterVec
	EntriesRetried      *prometheus.CounterVec
	EntriesDeadLettered *prometheus.CounterVec
	ApplyDuration       *prometheus.HistogramVec
	MappingAlerts       *prometheus.GaugeVec

	// Reconciliation metrics
	ReconciliationRuns     *prometheus.CounterVec
	ReconciliationDuration *prometheus.HistogramVec
	VariancesDetected      *prometheus.CounterVec
	CorrectionsIssued      prometheus.Counter
	OutstandingVariances   *prometheus.GaugeVec

	// Ledger client metrics
	LedgerRequests        *prometheus.CounterVec
	LedgerRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	ServiceName string
	Namespace   string
	Subsystem   string
}

// DefaultConfig returns default metrics configuration
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Namespace:   "wms",
		Subsystem:   serviceName,
	}
}

// New creates a new Metrics instance
func New(config *Config) *Metrics {
	registry := prometheus.NewRegistry()

	// Register standard Go metrics
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		serviceName: config.ServiceName,
		registry:    registry,
	}

	// HTTP metrics
	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "path"},
	)

	m.HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "http_requests_in_flight",
			Help:        "Number of HTTP requests currently being processed",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)

	// Kafka metrics
	m.KafkaEventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "kafka_events_published_total",
			Help:      "Total number of Kafka events published",
		},
		[]string{"service", "topic", "event_type", "status"},
	)

	m.KafkaEventsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "kafka_events_consumed_total",
			Help:      "Total number of Kafka events consumed",
		},
		[]string{"service", "topic", "event_type", "status"},
	)

	m.KafkaPublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "kafka_publish_duration_seconds",
			Help:      "Kafka publish duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"service", "topic"},
	)

	m.KafkaConsumeLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "kafka_consumer_lag",
			Help:      "Kafka consumer lag (messages behind)",
		},
		[]string{"service", "topic", "partition"},
	)

	// MongoDB metrics
	m.MongoDBOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "mongodb_operations_total",
			Help:      "Total number of MongoDB operations",
		},
		[]string{"service", "collection", "operation", "status"},
	)

	m.MongoDBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "mongodb_operation_duration_seconds",
			Help:      "MongoDB operation duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"service", "collection", "operation"},
	)

	m.MongoDBConnectionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "mongodb_connections_open",
			Help:        "Number of open MongoDB connections",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)

	// Sync queue metrics
	m.QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "sync_queue_depth",
			Help:      "Number of queue entries per delivery status",
		},
		[]string{"service", "status"},
	)

	m.EntriesEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "sync_entries_enqueued_total",
			Help:      "Total number of queue entries accepted",
		},
		[]string{"service", "direction", "event_type"},
	)

	m.EntriesApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "sync_entries_applied_total",
			Help:      "Total number of queue entries applied to the target ledger",
		},
		[]string{"service", "direction"},
	)

	m.EntriesRetried = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "sync_entries_retried_total",
			Help:      "Total number of transient apply failures scheduled for retry",
		},
		[]string{"service", "direction"},
	)

	m.EntriesDeadLettered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "sync_entries_dead_lettered_total",
			Help:      "Total number of queue entries moved to the dead-letter state",
		},
		[]string{"service", "direction", "reason"},
	)

	m.ApplyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "sync_apply_duration_seconds",
			Help:      "Time from dequeue to successful apply",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"service", "direction"},
	)

	m.MappingAlerts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "sync_mapping_alerts",
			Help:      "Aggregate locations with events blocked on a missing or conflicting mapping",
		},
		[]string{"service"},
	)

	// Reconciliation metrics
	m.ReconciliationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "reconciliation_runs_total",
			Help:      "Total number of reconciliation runs by final status",
		},
		[]string{"service", "status"},
	)

	m.ReconciliationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "reconciliation_duration_seconds",
			Help:      "Reconciliation run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800},
		},
		[]string{"service"},
	)

	m.VariancesDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "reconciliation_variances_total",
			Help:      "Total number of variances detected by classification",
		},
		[]string{"service", "classification"},
	)

	m.CorrectionsIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "reconciliation_corrections_issued_total",
			Help:        "Total number of auto-correction events enqueued",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)

	m.OutstandingVariances = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "reconciliation_outstanding_variances",
			Help:      "Variances awaiting operator review",
		},
		[]string{"service", "classification"},
	)

	// Ledger client metrics
	m.LedgerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "ledger_requests_total",
			Help:      "Total number of requests to the ledgers",
		},
		[]string{"service", "ledger", "operation", "status"},
	)

	m.LedgerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "ledger_request_duration_seconds",
			Help:      "Ledger request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"service", "ledger", "operation"},
	)

	// Circuit breaker metrics
	m.CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"service", "name"},
	)

	m.CircuitBreakerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Total number of circuit breaker trips",
		},
		[]string{"service", "name"},
	)

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.KafkaEventsPublished,
		m.KafkaEventsConsumed,
		m.KafkaPublishDuration,
		m.KafkaConsumeLag,
		m.MongoDBOperations,
		m.MongoDBOperationDuration,
		m.MongoDBConnectionsOpen,
		m.QueueDepth,
		m.EntriesEnqueued,
		m.EntriesApplied,
		m.EntriesRetried,
		m.EntriesDeadLettered,
		m.ApplyDuration,
		m.MappingAlerts,
		m.ReconciliationRuns,
		m.ReconciliationDuration,
		m.VariancesDetected,
		m.CorrectionsIssued,
		m.OutstandingVariances,
		m.LedgerRequests,
		m.LedgerRequestDuration,
		m.CircuitBreakerState,
		m.CircuitBreakerTrips,
	)

	return m
}

// Handler returns an HTTP handler for metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(m.serviceName, method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(m.serviceName, method, path).Observe(duration.Seconds())
}

// RecordKafkaPublish records a Kafka publish event
func (m *Metrics) RecordKafkaPublish(topic, eventType string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.KafkaEventsPublished.WithLabelValues(m.serviceName, topic, eventType, status).Inc()
	m.KafkaPublishDuration.WithLabelValues(m.serviceName, topic).Observe(duration.Seconds())
}

// RecordKafkaConsume records a Kafka consume event
func (m *Metrics) RecordKafkaConsume(topic, eventType string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.KafkaEventsConsumed.WithLabelValues(m.serviceName, topic, eventType, status).Inc()
}

// SetKafkaConsumerLag sets the Kafka consumer lag
func (m *Metrics) SetKafkaConsumerLag(topic string, partition int, lag int64) {
	m.KafkaConsumeLag.WithLabelValues(m.serviceName, topic, strconv.Itoa(partition)).Set(float64(lag))
}

// RecordMongoDBOperation records a MongoDB operation
func (m *Metrics) RecordMongoDBOperation(collection, operation string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.MongoDBOperations.WithLabelValues(m.serviceName, collection, operation, status).Inc()
	m.MongoDBOperationDuration.WithLabelValues(m.serviceName, collection, operation).Observe(duration.Seconds())
}

// SetMongoDBConnections sets the number of open MongoDB connections
func (m *Metrics) SetMongoDBConnections(count int) {
	m.MongoDBConnectionsOpen.Set(float64(count))
}

// SetQueueDepth sets the queue depth for a delivery status
func (m *Metrics) SetQueueDepth(status string, depth int64) {
	m.QueueDepth.WithLabelValues(m.serviceName, status).Set(float64(depth))
}

// RecordEntryEnqueued records a queue entry being accepted
func (m *Metrics) RecordEntryEnqueued(direction, eventType string) {
	m.EntriesEnqueued.WithLabelValues(m.serviceName, direction, eventType).Inc()
}

// RecordEntryApplied records a successful apply with its latency
func (m *Metrics) RecordEntryApplied(direction string, duration time.Duration) {
	m.EntriesApplied.WithLabelValues(m.serviceName, direction).Inc()
	m.ApplyDuration.WithLabelValues(m.serviceName, direction).Observe(duration.Seconds())
}

// RecordEntryRetried records a transient failure scheduled for retry
func (m *Metrics) RecordEntryRetried(direction string) {
	m.EntriesRetried.WithLabelValues(m.serviceName, direction).Inc()
}

// RecordEntryDeadLettered records an entry reaching the dead-letter state
func (m *Metrics) RecordEntryDeadLettered(direction, reason string) {
	m.EntriesDeadLettered.WithLabelValues(m.serviceName, direction, reason).Inc()
}

// SetMappingAlerts sets the number of locations blocked on mapping gaps
func (m *Metrics) SetMappingAlerts(count int) {
	m.MappingAlerts.WithLabelValues(m.serviceName).Set(float64(count))
}

// RecordReconciliationRun records a finished run
func (m *Metrics) RecordReconciliationRun(status string, duration time.Duration) {
	m.ReconciliationRuns.WithLabelValues(m.serviceName, status).Inc()
	m.ReconciliationDuration.WithLabelValues(m.serviceName).Observe(duration.Seconds())
}

// RecordVariance records a detected variance classification
func (m *Metrics) RecordVariance(classification string) {
	m.VariancesDetected.WithLabelValues(m.serviceName, classification).Inc()
}

// RecordCorrectionIssued records an auto-correction event being enqueued
func (m *Metrics) RecordCorrectionIssued() {
	m.CorrectionsIssued.Inc()
}

// SetOutstandingVariances sets the number of unresolved variances
func (m *Metrics) SetOutstandingVariances(classification string, count int64) {
	m.OutstandingVariances.WithLabelValues(m.serviceName, classification).Set(float64(count))
}

// RecordLedgerRequest records a request to one of the ledgers
func (m *Metrics) RecordLedgerRequest(ledger, operation string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.LedgerRequests.WithLabelValues(m.serviceName, ledger, operation, status).Inc()
	m.LedgerRequestDuration.WithLabelValues(m.serviceName, ledger, operation).Observe(duration.Seconds())
}

// SetCircuitBreakerState sets the circuit breaker state
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(m.serviceName, name).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *Metrics) RecordCircuitBreakerTrip(name string) {
	m.CircuitBreakerTrips.WithLabelValues(m.serviceName, name).Inc()
}

// IncrementHTTPRequestsInFlight increments in-flight requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements in-flight requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}
