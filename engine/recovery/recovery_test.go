package recovery

import (
	"testing"
	"time"

	"github.com/tessera-ai/flowengine/engine/flow"
	"github.com/tessera-ai/flowengine/engine/flowerr"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

func TestParsePolicyDefaults(t *testing.T) {
	p := ParsePolicy(flow.Node{ID: "n1", Type: "delay"})
	if p.Strategy != StrategyFail {
		t.Errorf("default strategy = %s, want fail", p.Strategy)
	}
	if p.MaxRetries != 3 || p.BackoffMs != 1000 || p.BackoffFactor != 2.0 {
		t.Errorf("unexpected defaults: %+v", p)
	}
}

func TestParsePolicyFull(t *testing.T) {
	node := flow.Node{
		ID:   "n1",
		Type: "http_request",
		Config: map[string]interface{}{
			"onError": map[string]interface{}{
				"strategy":      "retry",
				"maxRetries":    float64(5),
				"backoffMs":     float64(200),
				"backoffFactor": 1.5,
				"maxDelayMs":    float64(2000),
				"jitter":        false,
				"redirectTo":    "cleanup",
			},
		},
	}

	p := ParsePolicy(node)
	if p.Strategy != StrategyRetry {
		t.Errorf("strategy = %s, want retry", p.Strategy)
	}
	if p.MaxRetries != 5 || p.BackoffMs != 200 || p.BackoffFactor != 1.5 || p.MaxDelayMs != 2000 {
		t.Errorf("unexpected policy: %+v", p)
	}
	if p.Jitter {
		t.Error("jitter should be disabled")
	}
	if p.RedirectTo != "cleanup" {
		t.Errorf("redirectTo = %q", p.RedirectTo)
	}
}

func TestParsePolicyRejectsUnknownStrategy(t *testing.T) {
	node := flow.Node{
		ID:   "n1",
		Type: "delay",
		Config: map[string]interface{}{
			"onError": map[string]interface{}{"strategy": "explode"},
		},
	}
	if p := ParsePolicy(node); p.Strategy != StrategyFail {
		t.Errorf("unknown strategy should fall back to fail, got %s", p.Strategy)
	}
}

func TestDecideRetry(t *testing.T) {
	h := NewHandler(nopLogger{})
	policy := Policy{Strategy: StrategyRetry, MaxRetries: 2, BackoffMs: 100, BackoffFactor: 2.0}

	d := h.Decide(policy, flowerr.External(true, "flaky"), 1)
	if d.Action != ActionRetry {
		t.Fatalf("attempt 1: action = %s, want retry", d.Action)
	}
	if d.Delay != 100*time.Millisecond {
		t.Errorf("attempt 1 delay = %v, want 100ms", d.Delay)
	}

	d = h.Decide(policy, flowerr.External(true, "flaky"), 2)
	if d.Action != ActionRetry || d.Delay != 200*time.Millisecond {
		t.Errorf("attempt 2: got %s/%v, want retry/200ms", d.Action, d.Delay)
	}

	d = h.Decide(policy, flowerr.External(true, "flaky"), 3)
	if d.Action != ActionFail {
		t.Errorf("exhausted budget should fail, got %s", d.Action)
	}
}

func TestDecideRetryNonRecoverable(t *testing.T) {
	h := NewHandler(nopLogger{})
	policy := Policy{Strategy: StrategyRetry, MaxRetries: 3, BackoffMs: 100, BackoffFactor: 2.0}

	d := h.Decide(policy, flowerr.External(false, "bad request"), 1)
	if d.Action != ActionFail {
		t.Errorf("non-recoverable error must not retry, got %s", d.Action)
	}
}

func TestDecideTerminalKindsBypassStrategies(t *testing.T) {
	h := NewHandler(nopLogger{})
	policy := Policy{Strategy: StrategySkip}

	for _, err := range []*flowerr.Error{
		flowerr.Cancelled("stop"),
		flowerr.Timeout("too slow"),
	} {
		if d := h.Decide(policy, err, 1); d.Action != ActionFail {
			t.Errorf("%s: action = %s, want fail", err.Kind, d.Action)
		}
	}
}

func TestDecideSkipRedirectFallback(t *testing.T) {
	h := NewHandler(nopLogger{})
	err := flowerr.External(true, "down")

	if d := h.Decide(Policy{Strategy: StrategySkip}, err, 1); d.Action != ActionSkip {
		t.Errorf("skip: got %s", d.Action)
	}

	d := h.Decide(Policy{Strategy: StrategyRedirect, RedirectTo: "notify"}, err, 1)
	if d.Action != ActionRedirect || d.RedirectTo != "notify" {
		t.Errorf("redirect: got %+v", d)
	}

	if d := h.Decide(Policy{Strategy: StrategyRedirect}, err, 1); d.Action != ActionFail {
		t.Errorf("redirect without target should fail, got %s", d.Action)
	}

	d = h.Decide(Policy{Strategy: StrategyFallback, Output: map[string]interface{}{"ok": false}}, err, 1)
	if d.Action != ActionFallback {
		t.Errorf("fallback: got %s", d.Action)
	}
	if out, ok := d.Output.(map[string]interface{}); !ok || out["ok"] != false {
		t.Errorf("fallback output lost: %+v", d.Output)
	}
}

func TestBackoffCapAndJitter(t *testing.T) {
	h := NewHandler(nopLogger{})
	policy := Policy{Strategy: StrategyRetry, MaxRetries: 10, BackoffMs: 1000, BackoffFactor: 10, MaxDelayMs: 3000}

	d := h.Decide(policy, flowerr.External(true, "flaky"), 4)
	if d.Delay != 3*time.Second {
		t.Errorf("delay = %v, want capped 3s", d.Delay)
	}

	policy.Jitter = true
	for i := 0; i < 20; i++ {
		d = h.Decide(policy, flowerr.External(true, "flaky"), 4)
		if d.Delay < 2250*time.Millisecond || d.Delay > 3750*time.Millisecond {
			t.Fatalf("jittered delay %v outside 25%% band", d.Delay)
		}
	}
}
