package breaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tessera-ai/flowengine/engine/flowerr"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Options tunes breaker behaviour for every key in the table
type Options struct {
	// Threshold is the consecutive-failure count that opens a breaker
	Threshold uint32

	// Window is the rolling interval after which closed-state counts reset
	Window time.Duration

	// Cooldown is how long an open breaker stays open before probing
	Cooldown time.Duration

	// Probes is the number of trial calls allowed in half-open state
	Probes uint32
}

// DefaultOptions returns the standard breaker tuning
func DefaultOptions() Options {
	return Options{
		Threshold: 5,
		Window:    60 * time.Second,
		Cooldown:  30 * time.Second,
		Probes:    1,
	}
}

// Manager keeps one circuit breaker per protection key. Keys identify an
// external dependency class (an AI agent, a messaging platform, a host),
// so one failing dependency never opens the circuit for another.
type Manager struct {
	breakers map[string]*gobreaker.CircuitBreaker
	opts     Options
	logger   Logger
	mu       sync.Mutex
}

// NewManager creates a breaker table with the given tuning
func NewManager(opts Options, logger Logger) *Manager {
	if opts.Threshold == 0 {
		opts.Threshold = DefaultOptions().Threshold
	}
	if opts.Probes == 0 {
		opts.Probes = DefaultOptions().Probes
	}
	return &Manager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		opts:     opts,
		logger:   logger,
	}
}

// Execute runs fn under the breaker for key. When the breaker is open the
// call is rejected without running fn and a circuit-open error is returned.
func (m *Manager) Execute(key string, fn func() (interface{}, error)) (interface{}, error) {
	cb := m.breaker(key)

	out, err := cb.Execute(fn)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, flowerr.CircuitOpen(key)
	}
	return out, err
}

// CanExecute reports whether a call for key would currently be admitted
func (m *Manager) CanExecute(key string) bool {
	return m.breaker(key).State() != gobreaker.StateOpen
}

// State returns the breaker state name for key: closed, half-open or open
func (m *Manager) State(key string) string {
	return m.breaker(key).State().String()
}

// breaker returns the breaker for key, creating it on first use
func (m *Manager) breaker(key string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[key]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: m.opts.Probes,
		Interval:    m.opts.Window,
		Timeout:     m.opts.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= m.opts.Threshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Caller cancellations are not dependency failures
			return flowerr.KindOf(err) == flowerr.KindCancelled
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.Warn("circuit breaker state change",
				"key", name, "from", from.String(), "to", to.String())
		},
	})
	m.breakers[key] = cb
	return cb
}
