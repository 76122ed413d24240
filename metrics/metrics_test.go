package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestDisabledMetricsAreNoOps(t *testing.T) {
	m := New(Config{})

	m.Inc(TokenIssued)
	m.Observe(ValidateLatency, time.Millisecond)
	if m.Value(TokenIssued) != 0 {
		t.Fatal("disabled metrics must not count")
	}

	snap := m.TakeSnapshot()
	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("disabled snapshot must be empty: %+v", snap)
	}

	// Nil receivers are valid everywhere.
	var nilMetrics *Metrics
	nilMetrics.Inc(TokenIssued)
	nilMetrics.Observe(ValidateLatency, time.Millisecond)
	if nilMetrics.Value(TokenIssued) != 0 || nilMetrics.Enabled() {
		t.Fatal("nil metrics must be inert")
	}
}

func TestConcurrentIncrements(t *testing.T) {
	m := New(Config{Enabled: true})

	const workers = 8
	const perWorker = 1000
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.Inc(RefreshSuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(RefreshSuccess); got != workers*perWorker {
		t.Fatalf("lost increments: %d != %d", got, workers*perWorker)
	}
}

func TestLatencyHistogramBuckets(t *testing.T) {
	m := New(Config{Enabled: true, EnableLatency: true})

	m.Observe(ValidateLatency, 50*time.Microsecond)  // bucket 0
	m.Observe(ValidateLatency, 300*time.Microsecond) // bucket 2
	m.Observe(ValidateLatency, time.Second)          // bucket 7

	snap := m.TakeSnapshot()
	buckets := snap.Histograms[ValidateLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	if buckets[0] != 1 || buckets[2] != 1 || buckets[7] != 1 {
		t.Fatalf("wrong bucket placement: %v", buckets)
	}

	// Only the validate path is histogrammed.
	m.Observe(TokenIssued, time.Millisecond)
	snap = m.TakeSnapshot()
	if _, ok := snap.Histograms[TokenIssued]; ok {
		t.Fatal("non-latency ids must not grow histograms")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	m := New(Config{Enabled: true})
	m.Inc(SessionCreated)

	snap := m.TakeSnapshot()
	m.Inc(SessionCreated)

	if snap.Counters[SessionCreated] != 1 {
		t.Fatalf("snapshot must be frozen at capture time, got %d", snap.Counters[SessionCreated])
	}
	if m.Value(SessionCreated) != 2 {
		t.Fatalf("live counter wrong: %d", m.Value(SessionCreated))
	}
}
