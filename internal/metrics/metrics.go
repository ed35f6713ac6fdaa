package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fastweigh_gateway"

// Metrics holds the gateway's Prometheus collectors. A nil or disabled
// Metrics turns every tracker into a no-op.
type Metrics struct {
	enabled  bool
	registry *prometheus.Registry

	webhookRequests     *prometheus.CounterVec
	webhookDuration     *prometheus.HistogramVec
	workerJobDuration   *prometheus.HistogramVec
	connectorDeliveries *prometheus.CounterVec
	queueEvents         *prometheus.CounterVec
	queueDepth          *prometheus.GaugeVec
	reconcileDuration   *prometheus.HistogramVec
	driftResources      prometheus.Gauge
}

func New(registry *prometheus.Registry, enabled bool) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		enabled:  enabled,
		registry: registry,

		webhookRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Inbound webhook requests by outcome.",
		}, []string{"status"}),

		webhookDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_duration_seconds",
			Help:      "Webhook intake latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),

		workerJobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_job_duration_seconds",
			Help:      "Worker job processing latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"status"}),

		connectorDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connector_deliveries_total",
			Help:      "Connector deliveries by connector and outcome.",
		}, []string{"connector", "status"}),

		queueEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_events_total",
			Help:      "Queue lifecycle events by type.",
		}, []string{"type"}),

		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs in the event queue by state.",
		}, []string{"state"}),

		reconcileDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconciliation_duration_seconds",
			Help:      "Reconciliation run latency in seconds.",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"status"}),

		driftResources: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconciliation_drift_resources",
			Help:      "Resources changed upstream but not processed, as of the last run.",
		}),
	}
}

func (m *Metrics) on() bool {
	return m != nil && m.enabled
}

func (m *Metrics) TrackWebhook(status string, elapsed time.Duration) {
	if !m.on() {
		return
	}
	m.webhookRequests.WithLabelValues(status).Inc()
	m.webhookDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (m *Metrics) TrackWorkerJob(status string, elapsed time.Duration) {
	if !m.on() {
		return
	}
	m.workerJobDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (m *Metrics) TrackConnectorDelivery(connector, status string) {
	if !m.on() {
		return
	}
	m.connectorDeliveries.WithLabelValues(connector, status).Inc()
}

// TrackQueueEvent satisfies queue.Tracker.
func (m *Metrics) TrackQueueEvent(kind string) {
	if !m.on() {
		return
	}
	m.queueEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetQueueDepth(state string, depth int64) {
	if !m.on() {
		return
	}
	m.queueDepth.WithLabelValues(state).Set(float64(depth))
}

func (m *Metrics) TrackReconciliation(status string, elapsed time.Duration) {
	if !m.on() {
		return
	}
	m.reconcileDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// SetReconciliationDrift is only called for successful runs, so a failed run
// leaves the last known drift in place.
func (m *Metrics) SetReconciliationDrift(drift int) {
	if !m.on() {
		return
	}
	m.driftResources.Set(float64(drift))
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
