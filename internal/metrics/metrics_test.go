package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilRegistryIsSafe(t *testing.T) {
	var m *MetricsRegistry
	m.DrainAttempt("samples", "synced")
	m.DrainLoopExit("samples", "empty")
	m.CheckInObserved(time.Second)
	m.SetConsecutiveFailures(3)
	m.SetQueueDepth("Pending", 4)
	m.MutationOutcome("Update", "completed")
	m.ReconcileRows("reset_syncing", 2)
	m.RetentionPurged(5)
}

func TestRegistriesDoNotCollide(t *testing.T) {
	a := NewMetricsRegistry()
	b := NewMetricsRegistry()
	a.DrainAttempt("samples", "synced")
	b.DrainAttempt("samples", "synced")
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetricsRegistry()
	m.DrainAttempt("samples", "transient")
	m.SetQueueDepth("Pending", 7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `syncd_drain_attempts_total{outcome="transient",queue="samples"} 1`) {
		t.Errorf("Expected drain attempt counter in output")
	}
	if !strings.Contains(body, `syncd_queue_depth{state="Pending"} 7`) {
		t.Errorf("Expected queue depth gauge in output")
	}
}
