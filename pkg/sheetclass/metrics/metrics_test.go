package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Submitted()
	m.Submitted()
	m.Rejected(ReasonOverloaded)
	m.Result("positive")
	m.Exited(ExitCrashed)
	m.SetGeneration(3)
	m.AddPending(2)
	m.AddPending(-1)
	m.ObservePhase("fetch", 20*time.Millisecond)

	if got := testutil.ToFloat64(m.submitted); got != 2 {
		t.Errorf("submitted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.rejected.WithLabelValues(ReasonOverloaded)); got != 1 {
		t.Errorf("rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.generation); got != 3 {
		t.Errorf("generation = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.pending); got != 1 {
		t.Errorf("pending = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Submitted()
	m.Rejected(ReasonNotStarted)
	m.ObservePhase("train", time.Second)
	m.SetGeneration(1)
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}
	if m.Handler() == nil {
		t.Fatal("nil metrics should still serve a handler")
	}
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.Reloaded("succeeded")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `sheetclass_reloads_total{outcome="succeeded"} 1`) {
		t.Fatalf("exposition missing reload counter:\n%s", body)
	}
}
