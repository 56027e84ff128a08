package gatewarden

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gatewarden/gatewarden/ratelimit"
)

func TestMetricsCountersConcurrent(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 8
	const perGoroutine = 1000

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				m.Inc(MetricLoginSuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricLoginSuccess); got != goroutines*perGoroutine {
		t.Fatalf("expected %d, got %d", goroutines*perGoroutine, got)
	}
}

func TestMetricsDisabledIsNoOp(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)
	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("disabled metrics counted: %d", got)
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess)
	nilMetrics.Observe(MetricAuthLatency, time.Millisecond)
	if s := nilMetrics.Snapshot(); len(s.Counters) != 0 {
		t.Fatalf("nil snapshot not empty: %+v", s)
	}
}

func TestMetricsLatencyBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	m.Observe(MetricAuthLatency, 2*time.Millisecond)
	m.Observe(MetricAuthLatency, 30*time.Millisecond)
	m.Observe(MetricAuthLatency, time.Second)

	buckets := m.Snapshot().Histograms[MetricAuthLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	if buckets[0] != 1 || buckets[2] != 1 || buckets[7] != 1 {
		t.Fatalf("samples landed in wrong buckets: %v", buckets)
	}

	var total uint64
	for _, b := range buckets {
		total += b
	}
	if total != 3 {
		t.Fatalf("expected 3 samples, got %d", total)
	}
}

func TestEngineCountsLoginOutcomes(t *testing.T) {
	accounts := newMemAccounts()
	engine, _, done := newTestEngine(t, testConfig(), accounts)
	defer done()

	seedAccount(t, engine, accounts, "u1", "alice@example.com", "correct-horse")

	engine.Login(loginCtx("10.0.0.1"), "alice@example.com", "wrong")
	engine.Login(loginCtx("10.0.0.1"), "alice@example.com", "correct-horse")

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricLoginFailure] != 1 {
		t.Fatalf("expected 1 login failure, got %d", snap.Counters[MetricLoginFailure])
	}
	if snap.Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("expected 1 login success, got %d", snap.Counters[MetricLoginSuccess])
	}
	if snap.Counters[MetricSessionCreated] != 1 {
		t.Fatalf("expected 1 session created, got %d", snap.Counters[MetricSessionCreated])
	}
}

func TestEngineCountsRateLimitRejections(t *testing.T) {
	accounts := newMemAccounts()
	engine, _, done := newTestEngine(t, testConfig(), accounts)
	defer done()

	class := ratelimit.Class{Name: "api", Window: time.Minute, Max: 2, Algorithm: ratelimit.FixedWindow}

	for i := 0; i < 4; i++ {
		if _, err := engine.RateLimitAllow(context.Background(), class, "ip:10.0.0.1"); err != nil {
			t.Fatalf("RateLimitAllow %d failed: %v", i+1, err)
		}
	}

	if got := engine.MetricsSnapshot().Counters[MetricRateLimitHit]; got != 2 {
		t.Fatalf("expected 2 rejections counted, got %d", got)
	}
}

func TestEngineCountsBackendFailures(t *testing.T) {
	accounts := newMemAccounts()
	engine, mr, done := newTestEngine(t, testConfig(), accounts)
	defer done()

	// Kill the backend so the revocation read at the front of the
	// pipeline fails.
	mr.Close()

	if _, err := engine.Authenticate(context.Background(), "some-token"); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}

	if got := engine.MetricsSnapshot().Counters[MetricBackendError]; got == 0 {
		t.Fatal("expected backend failure counter to advance")
	}
}
