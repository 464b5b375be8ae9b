package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tokutei-learning/tokutei"
	"github.com/tokutei-learning/tokutei/backend/local"
	"github.com/tokutei-learning/tokutei/password"
)

type fakeSource struct {
	snapshot tokutei.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() tokutei.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                     { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: tokutei.MetricsSnapshot{
			Counters:   map[tokutei.MetricID]uint64{},
			Histograms: map[tokutei.MetricID][]uint64{},
		},
	})
	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output, got:\n%s", got)
	}
	var nilExp *Exporter
	if nilExp.Render() != "" {
		t.Fatal("nil exporter must render nothing")
	}
}

func TestRenderCountersAndHistogram(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: tokutei.MetricsSnapshot{
			Counters: map[tokutei.MetricID]uint64{
				tokutei.MetricLoginSuccess:         7,
				tokutei.MetricStaleResponseDropped: 2,
			},
			Histograms: map[tokutei.MetricID][]uint64{
				tokutei.MetricBackendLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"tokutei_login_success_total 7",
		"tokutei_stale_responses_dropped_total 2",
		"# TYPE tokutei_backend_latency_seconds histogram",
		`tokutei_backend_latency_seconds_bucket{le="0.025"} 1`,
		`tokutei_backend_latency_seconds_bucket{le="+Inf"} 36`,
		"tokutei_backend_latency_seconds_count 36",
		"tokutei_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "tokutei_active_stores") {
		t.Fatal("fake source cannot report stores")
	}
}

func TestHandlerServesEngineMetrics(t *testing.T) {
	b, err := local.Open(context.Background(), ":memory:", local.Options{Password: password.TestConfig()})
	if err != nil {
		t.Fatalf("local.Open: %v", err)
	}
	defer b.Close()
	if _, err := b.Seed(context.Background(), local.DefaultSeed()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	cfg := tokutei.DefaultConfig()
	cfg.Session.IdleTTL = 0
	engine, err := tokutei.New().WithConfig(cfg).WithBackend(b).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()

	s, _ := engine.Store(context.Background(), "c")
	_ = s.Login(context.Background(), "nonexistent@example.com", "wrongpassword")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	NewExporter(engine).Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("unexpected content type %q", got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "tokutei_login_failure_total 1") || !strings.Contains(body, "tokutei_active_stores 1") {
		t.Fatalf("unexpected body:\n%s", body)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: tokutei.MetricsSnapshot{
			Counters: map[tokutei.MetricID]uint64{
				tokutei.MetricLoginSuccess:      1000,
				tokutei.MetricLoginFailure:      40,
				tokutei.MetricSessionCheckValid: 800,
			},
			Histograms: map[tokutei.MetricID][]uint64{
				tokutei.MetricBackendLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
