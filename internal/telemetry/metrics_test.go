package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/voicetyped/campaignflow/pkg/events"
)

func TestRecordTransition(t *testing.T) {
	m := NewMetrics()
	m.RecordTransition("campaign", OutcomeAccepted, 0.002)
	m.RecordTransition("campaign", OutcomeAccepted, 0.003)
	m.RecordTransition("campaign", OutcomeRejected, 0.001)

	if got := testutil.ToFloat64(m.transitions.WithLabelValues("campaign", OutcomeAccepted)); got != 2 {
		t.Errorf("accepted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("campaign", OutcomeRejected)); got != 1 {
		t.Errorf("rejected = %v, want 1", got)
	}
}

func TestRecordHandlerFailure(t *testing.T) {
	m := NewMetrics()
	m.RecordHandlerFailure(t.Context(), &events.HandlerFailure{Subscriber: "audit"})
	if got := testutil.ToFloat64(m.handlerFailures.WithLabelValues("audit")); got != 1 {
		t.Errorf("failures = %v, want 1", got)
	}
}

func TestRecordRPC(t *testing.T) {
	m := NewMetrics()
	m.RecordRPC("/campaignflow.lifecycle.v1.LifecycleService/RequestTransition", "ok", 0.01)
	m.RecordRPC("/campaignflow.lifecycle.v1.LifecycleService/RequestTransition", "failed_precondition", 0.01)
	m.RecordRPC("/campaignflow.lifecycle.v1.LifecycleService/RequestTransition", "ok", 0.02)

	proc := "/campaignflow.lifecycle.v1.LifecycleService/RequestTransition"
	if got := testutil.ToFloat64(m.rpcs.WithLabelValues(proc, "ok")); got != 2 {
		t.Errorf("ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.rpcs.WithLabelValues(proc, "failed_precondition")); got != 1 {
		t.Errorf("failed_precondition = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordTransition("call", OutcomeAccepted, 0)
	m.RecordWebhookDelivery("success")
	m.SetSessionsActive(3)
	m.RecordRPC("/x", "ok", 0)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.SetSessionsActive(4)
	m.RecordWebhookDelivery("success")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{
		"campaignflow_script_sessions_active 4",
		`campaignflow_webhook_deliveries_total{status="success"} 1`,
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %q", name)
		}
	}
}
