package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry(), true)

	m.TrackWebhook("accepted", 20*time.Millisecond)
	m.TrackWebhook("accepted", 30*time.Millisecond)
	m.TrackWebhook("duplicate", 5*time.Millisecond)
	m.TrackConnectorDelivery("csv-accounting", "success")
	m.TrackConnectorDelivery("tms-webhook", "failure")
	m.TrackQueueEvent("retry")

	if got := testutil.ToFloat64(m.webhookRequests.WithLabelValues("accepted")); got != 2 {
		t.Errorf("accepted webhooks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.connectorDeliveries.WithLabelValues("tms-webhook", "failure")); got != 1 {
		t.Errorf("tms failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.queueEvents.WithLabelValues("retry")); got != 1 {
		t.Errorf("retry events = %v, want 1", got)
	}
}

func TestMetrics_Gauges(t *testing.T) {
	m := New(prometheus.NewRegistry(), true)

	m.SetQueueDepth("waiting", 7)
	m.TrackReconciliation("success", time.Second)
	m.SetReconciliationDrift(3)

	if got := testutil.ToFloat64(m.queueDepth.WithLabelValues("waiting")); got != 7 {
		t.Errorf("waiting depth = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.driftResources); got != 3 {
		t.Errorf("drift = %v, want 3", got)
	}
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	m := New(prometheus.NewRegistry(), false)
	m.TrackConnectorDelivery("csv-accounting", "success")

	if got := testutil.ToFloat64(m.connectorDeliveries.WithLabelValues("csv-accounting", "success")); got != 0 {
		t.Errorf("disabled metrics recorded %v", got)
	}

	var nilMetrics *Metrics
	nilMetrics.TrackQueueEvent("enqueued")
}

func TestMetrics_Handler(t *testing.T) {
	m := New(prometheus.NewRegistry(), true)
	m.TrackQueueEvent("enqueued")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `fastweigh_gateway_queue_events_total{type="enqueued"} 1`) {
		t.Errorf("exposition missing queue event counter:\n%s", body)
	}
}
