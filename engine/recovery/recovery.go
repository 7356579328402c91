package recovery

import (
	"math/rand"
	"time"

	"github.com/tessera-ai/flowengine/engine/flow"
	"github.com/tessera-ai/flowengine/engine/flowerr"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Strategy names the configured reaction to a node failure
type Strategy string

const (
	StrategyFail     Strategy = "fail"
	StrategyRetry    Strategy = "retry"
	StrategySkip     Strategy = "skip"
	StrategyRedirect Strategy = "redirect"
	StrategyFallback Strategy = "fallback_output"
)

// Action is the concrete step the engine takes after consulting a policy
type Action string

const (
	ActionFail     Action = "fail"
	ActionRetry    Action = "retry"
	ActionSkip     Action = "skip"
	ActionRedirect Action = "redirect"
	ActionFallback Action = "fallback"
)

// Policy is the per-node error handling configuration, read from the
// node's "onError" config block
type Policy struct {
	Strategy      Strategy
	MaxRetries    int
	BackoffMs     int
	BackoffFactor float64
	MaxDelayMs    int
	Jitter        bool
	RedirectTo    string
	Output        interface{}
}

// DefaultPolicy fails the execution on the first error
func DefaultPolicy() Policy {
	return Policy{
		Strategy:      StrategyFail,
		MaxRetries:    3,
		BackoffMs:     1000,
		BackoffFactor: 2.0,
		MaxDelayMs:    30000,
		Jitter:        true,
	}
}

// ParsePolicy reads the "onError" block from a node config. A missing or
// malformed block yields the default fail policy.
func ParsePolicy(node flow.Node) Policy {
	p := DefaultPolicy()

	raw, ok := node.Config["onError"]
	if !ok {
		return p
	}
	block, ok := raw.(map[string]interface{})
	if !ok {
		return p
	}

	if s, ok := block["strategy"].(string); ok {
		switch Strategy(s) {
		case StrategyFail, StrategyRetry, StrategySkip, StrategyRedirect, StrategyFallback:
			p.Strategy = Strategy(s)
		}
	}
	if v, ok := asInt(block["maxRetries"]); ok {
		p.MaxRetries = v
	}
	if v, ok := asInt(block["backoffMs"]); ok {
		p.BackoffMs = v
	}
	if v, ok := block["backoffFactor"].(float64); ok && v > 0 {
		p.BackoffFactor = v
	}
	if v, ok := asInt(block["maxDelayMs"]); ok {
		p.MaxDelayMs = v
	}
	if v, ok := block["jitter"].(bool); ok {
		p.Jitter = v
	}
	if v, ok := block["redirectTo"].(string); ok {
		p.RedirectTo = v
	}
	if v, ok := block["output"]; ok {
		p.Output = v
	}
	return p
}

// asInt accepts the numeric shapes JSON decoding produces
func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

// Decision tells the engine what to do with a failed node
type Decision struct {
	Action     Action
	Delay      time.Duration
	RedirectTo string
	Output     interface{}
	Reason     string
}

// Handler turns a failure plus its policy into a decision
type Handler struct {
	logger Logger
}

// NewHandler creates an error recovery handler
func NewHandler(logger Logger) *Handler {
	return &Handler{logger: logger}
}

// Decide applies a policy to a node failure. attempt is 1-based and counts
// the execution that just failed. Cancellation and deadline errors always
// propagate regardless of the configured strategy.
func (h *Handler) Decide(policy Policy, err *flowerr.Error, attempt int) Decision {
	if err != nil && flowerr.IsTerminalKind(err.Kind) {
		return Decision{Action: ActionFail, Reason: string(err.Kind) + " bypasses error handling"}
	}

	switch policy.Strategy {
	case StrategyRetry:
		if err != nil && !err.Recoverable {
			return Decision{Action: ActionFail, Reason: "error is not recoverable"}
		}
		if attempt > policy.MaxRetries {
			return Decision{Action: ActionFail, Reason: "retry budget exhausted"}
		}
		return Decision{
			Action: ActionRetry,
			Delay:  h.backoff(policy, attempt),
			Reason: "retrying after transient failure",
		}

	case StrategySkip:
		return Decision{Action: ActionSkip, Reason: "skipping failed node"}

	case StrategyRedirect:
		if policy.RedirectTo == "" {
			return Decision{Action: ActionFail, Reason: "redirect target not configured"}
		}
		return Decision{
			Action:     ActionRedirect,
			RedirectTo: policy.RedirectTo,
			Reason:     "redirecting to recovery node",
		}

	case StrategyFallback:
		return Decision{
			Action: ActionFallback,
			Output: policy.Output,
			Reason: "substituting fallback output",
		}

	default:
		return Decision{Action: ActionFail, Reason: "fail strategy"}
	}
}

// backoff computes the exponential delay before retry attempt+1, with an
// optional jitter of up to 25% in either direction
func (h *Handler) backoff(policy Policy, attempt int) time.Duration {
	delay := float64(policy.BackoffMs)
	for i := 1; i < attempt; i++ {
		delay *= policy.BackoffFactor
	}
	if policy.MaxDelayMs > 0 && delay > float64(policy.MaxDelayMs) {
		delay = float64(policy.MaxDelayMs)
	}
	if policy.Jitter {
		delay *= 0.75 + rand.Float64()*0.5
	}
	return time.Duration(delay) * time.Millisecond
}
