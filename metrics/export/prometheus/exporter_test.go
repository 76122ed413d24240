package prometheus

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/veridine/authcore/metrics"
)

type stubSource struct {
	snap    metrics.Snapshot
	dropped uint64
}

func (s *stubSource) MetricsSnapshot() metrics.Snapshot { return s.snap }
func (s *stubSource) EventsDropped() uint64             { return s.dropped }

func TestRenderCountersAndHistogram(t *testing.T) {
	source := &stubSource{
		snap: metrics.Snapshot{
			Counters: map[metrics.ID]uint64{
				metrics.TokenIssued:          42,
				metrics.RefreshReuseDetected: 3,
			},
			Histograms: map[metrics.ID][]uint64{
				metrics.ValidateLatency: {5, 0, 0, 1, 0, 0, 0, 2},
			},
		},
		dropped: 7,
	}

	out := NewExporter(source).Render()

	for _, want := range []string{
		"# TYPE authcore_token_issued_total counter",
		"authcore_token_issued_total 42",
		"authcore_refresh_reuse_detected_total 3",
		"# TYPE authcore_validate_latency_seconds histogram",
		`authcore_validate_latency_seconds_bucket{le="0.0001"} 5`,
		`authcore_validate_latency_seconds_bucket{le="0.001"} 6`,
		`authcore_validate_latency_seconds_bucket{le="+Inf"} 8`,
		"authcore_validate_latency_seconds_count 8",
		"authcore_events_dropped_total 7",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in rendered output:\n%s", want, out)
		}
	}
}

func TestRenderEmptySnapshot(t *testing.T) {
	if out := NewExporter(&stubSource{}).Render(); out != "" {
		t.Fatalf("empty snapshot must render nothing, got %q", out)
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	source := &stubSource{
		snap: metrics.Snapshot{
			Counters:   map[metrics.ID]uint64{metrics.SessionCreated: 1},
			Histograms: map[metrics.ID][]uint64{},
		},
	}

	rec := httptest.NewRecorder()
	NewExporter(source).Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("wrong content type: %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "authcore_session_created_total 1") {
		t.Fatalf("body missing counter:\n%s", rec.Body.String())
	}
}
