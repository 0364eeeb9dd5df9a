package watchdog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type scriptedPinger struct {
	mu      sync.Mutex
	results []error
	latency time.Duration
	calls   int
}

func (s *scriptedPinger) Ping(ctx context.Context) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx < len(s.results) && s.results[idx] != nil {
		return 0, s.results[idx]
	}
	return s.latency, nil
}

func (s *scriptedPinger) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type panicPinger struct{}

func (panicPinger) Ping(ctx context.Context) (time.Duration, error) { panic("boom") }

func TestProbeUnknownBeforeFirstSuccess(t *testing.T) {
	p := NewProbe(Config{}, &scriptedPinger{})
	if got := p.PingMillis(); got != UnknownPing {
		t.Fatalf("expected %d, got %d", UnknownPing, got)
	}
	if _, ok := p.Latency(); ok {
		t.Fatal("latency should be unknown")
	}
	if !p.Healthy() {
		t.Fatal("new probe should report healthy")
	}
}

func TestProbeRecordsLatency(t *testing.T) {
	pinger := &scriptedPinger{latency: 42 * time.Millisecond}
	p := NewProbe(Config{}, pinger)

	p.probeOnce(context.Background())
	if got := p.PingMillis(); got != 42 {
		t.Fatalf("expected 42ms, got %d", got)
	}
	st := p.Stats()
	if st.Total != 1 || st.Failed != 0 || st.LatencyMs != 42 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestProbeFailureKeepsLastLatency(t *testing.T) {
	fail := errors.New("timeout")
	pinger := &scriptedPinger{latency: 15 * time.Millisecond, results: []error{nil, fail}}
	p := NewProbe(Config{}, pinger)

	p.probeOnce(context.Background())
	p.probeOnce(context.Background())

	if got := p.PingMillis(); got != 15 {
		t.Fatalf("failed ping must not overwrite last latency, got %d", got)
	}
	if p.Stats().Failed != 1 {
		t.Fatalf("expected one failure, got %+v", p.Stats())
	}
}

func TestProbeHealthTransitions(t *testing.T) {
	fail := errors.New("down")
	pinger := &scriptedPinger{latency: time.Millisecond, results: []error{fail, fail, fail}}
	p := NewProbe(Config{FailureThreshold: 3, RecoveryThreshold: 2}, pinger)
	ctx := context.Background()

	p.probeOnce(ctx)
	p.probeOnce(ctx)
	if !p.Healthy() {
		t.Fatal("should stay healthy below threshold")
	}
	p.probeOnce(ctx)
	if p.Healthy() {
		t.Fatal("should be unhealthy after 3 consecutive failures")
	}

	p.probeOnce(ctx)
	if p.Healthy() {
		t.Fatal("one success is not enough to recover")
	}
	p.probeOnce(ctx)
	if !p.Healthy() {
		t.Fatal("should recover after 2 consecutive successes")
	}
}

func TestProbeSurvivesPanic(t *testing.T) {
	p := NewProbe(Config{}, panicPinger{})
	p.probeOnce(context.Background())
	if p.Stats().Failed != 1 {
		t.Fatal("panic should count as a failure")
	}
	if p.PingMillis() != UnknownPing {
		t.Fatal("latency should remain unknown")
	}
}

func TestProbeStartStop(t *testing.T) {
	pinger := &scriptedPinger{latency: 3 * time.Millisecond}
	p := NewProbe(Config{Interval: 10 * time.Millisecond}, pinger)

	p.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for pinger.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()

	if pinger.count() < 3 {
		t.Fatalf("expected at least 3 pings, got %d", pinger.count())
	}
	after := pinger.count()
	time.Sleep(30 * time.Millisecond)
	if pinger.count() != after {
		t.Fatal("probe kept pinging after Stop")
	}
	if p.PingMillis() != 3 {
		t.Fatalf("expected 3ms, got %d", p.PingMillis())
	}
}

func TestProbeWithoutPinger(t *testing.T) {
	p := NewProbe(Config{}, nil)
	p.Start(context.Background())
	p.Stop()
	if p.PingMillis() != UnknownPing {
		t.Fatal("expected unknown ping")
	}
}
