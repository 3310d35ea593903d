package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestIncDisabledIsNoop(t *testing.T) {
	m := New(Config{})
	m.Inc(LoginSuccess)
	if got := m.Value(LoginSuccess); got != 0 {
		t.Fatalf("expected 0 when disabled, got %d", got)
	}
	if len(m.Snapshot().Counters) != 0 {
		t.Fatal("disabled snapshot should be empty")
	}
}

func TestIncConcurrent(t *testing.T) {
	m := New(Config{Enabled: true})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Inc(RefreshSuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(RefreshSuccess); got != 1600 {
		t.Fatalf("expected 1600, got %d", got)
	}
	if got := m.Snapshot().Counters[RefreshSuccess]; got != 1600 {
		t.Fatalf("snapshot mismatch: %d", got)
	}
}

func TestObserveBuckets(t *testing.T) {
	m := New(Config{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(ValidateLatency, 3*time.Millisecond)
	m.Observe(ValidateLatency, 2*time.Second)
	m.Observe(LoginSuccess, time.Millisecond)

	buckets := m.Snapshot().Histograms[ValidateLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	if buckets[0] != 1 || buckets[7] != 1 {
		t.Fatalf("unexpected buckets %v", buckets)
	}
	if _, ok := m.Snapshot().Histograms[LoginSuccess]; ok {
		t.Fatal("only validate latency has a histogram")
	}
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.Inc(LoginSuccess)
	m.Observe(ValidateLatency, time.Millisecond)
	if m.Enabled() || m.Value(LoginSuccess) != 0 {
		t.Fatal("nil metrics must be inert")
	}
}
