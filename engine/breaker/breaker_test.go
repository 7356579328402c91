package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/tessera-ai/flowengine/engine/flowerr"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

func failing(m *Manager, key string, n int) {
	for i := 0; i < n; i++ {
		m.Execute(key, func() (interface{}, error) {
			return nil, errors.New("boom")
		})
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	m := NewManager(Options{Threshold: 3, Window: time.Minute, Cooldown: time.Minute, Probes: 1}, nopLogger{})

	failing(m, "svc", 2)
	if !m.CanExecute("svc") {
		t.Fatal("breaker opened before threshold")
	}

	failing(m, "svc", 1)
	if m.CanExecute("svc") {
		t.Fatal("breaker still closed after threshold failures")
	}

	_, err := m.Execute("svc", func() (interface{}, error) { return "ok", nil })
	if flowerr.KindOf(err) != flowerr.KindCircuitOpen {
		t.Errorf("expected circuit-open error, got %v", err)
	}
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	m := NewManager(Options{Threshold: 3, Window: time.Minute, Cooldown: time.Minute, Probes: 1}, nopLogger{})

	failing(m, "svc", 2)
	if _, err := m.Execute("svc", func() (interface{}, error) { return "ok", nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	failing(m, "svc", 2)

	if !m.CanExecute("svc") {
		t.Fatal("success did not reset the consecutive failure streak")
	}
}

func TestBreakerKeysAreIndependent(t *testing.T) {
	m := NewManager(Options{Threshold: 2, Window: time.Minute, Cooldown: time.Minute, Probes: 1}, nopLogger{})

	failing(m, "agent:a", 2)
	if m.CanExecute("agent:a") {
		t.Fatal("expected agent:a breaker open")
	}
	if !m.CanExecute("agent:b") {
		t.Fatal("agent:b breaker must be unaffected")
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	m := NewManager(Options{Threshold: 2, Window: time.Minute, Cooldown: 30 * time.Millisecond, Probes: 1}, nopLogger{})

	failing(m, "svc", 2)
	if m.CanExecute("svc") {
		t.Fatal("expected breaker open")
	}

	time.Sleep(50 * time.Millisecond)

	out, err := m.Execute("svc", func() (interface{}, error) { return "probe", nil })
	if err != nil {
		t.Fatalf("probe call rejected: %v", err)
	}
	if out != "probe" {
		t.Errorf("got %v, want probe", out)
	}
	if m.State("svc") != "closed" {
		t.Errorf("successful probe should close breaker, state=%s", m.State("svc"))
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	m := NewManager(Options{Threshold: 2, Window: time.Minute, Cooldown: 30 * time.Millisecond, Probes: 1}, nopLogger{})

	failing(m, "svc", 2)
	time.Sleep(50 * time.Millisecond)

	failing(m, "svc", 1)
	if m.CanExecute("svc") {
		t.Fatal("failed probe should reopen the breaker")
	}
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	m := NewManager(Options{Threshold: 2, Window: time.Minute, Cooldown: time.Minute, Probes: 1}, nopLogger{})

	for i := 0; i < 5; i++ {
		m.Execute("svc", func() (interface{}, error) {
			return nil, flowerr.Cancelled("caller went away")
		})
	}

	if !m.CanExecute("svc") {
		t.Fatal("cancellations must not trip the breaker")
	}
}
