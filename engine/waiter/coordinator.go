package waiter

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tessera-ai/flowengine/engine/services"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// MatchType selects how an inbound reply is validated against a wait
type MatchType string

const (
	MatchAny        MatchType = "any"
	MatchExact      MatchType = "exact"
	MatchContains   MatchType = "contains"
	MatchStartsWith MatchType = "starts_with"
	MatchRegex      MatchType = "regex"
	MatchButton     MatchType = "button"
)

// OutcomeKind is how a wait resolved
type OutcomeKind string

const (
	OutcomeReply   OutcomeKind = "reply"
	OutcomeTimeout OutcomeKind = "timeout"
	OutcomeInvalid OutcomeKind = "invalid"
)

// Outcome is the resolution of one wait
type Outcome struct {
	Kind    OutcomeKind
	Message *services.InboundMessage
	Matched string
}

// Spec describes one wait registration
type Spec struct {
	ExecutionID    string
	NodeID         string
	OwnerID        string
	Channel        string
	ConversationID string
	Sender         string
	Match          MatchType
	Pattern        string
	Buttons        []string
	Timeout        time.Duration
	RetryOnInvalid bool
	RetryLimit     int
	RetryPrompt    string
}

// pendingWait is one live registration in arrival order
type pendingWait struct {
	id       string
	seq      uint64
	spec     Spec
	pattern  *regexp.Regexp
	retries  int
	resultCh chan Outcome
	timer    *time.Timer
	resolved bool
}

// Coordinator routes inbound messages to pending waits. Candidate waits
// are filtered by channel, conversation and sender; among candidates the
// earliest registration wins. Deadlines fire inside the coordinator, so a
// wait resolves exactly once: reply, timeout or invalid.
type Coordinator struct {
	waits     map[string]*pendingWait
	nextSeq   uint64
	messenger services.Messenger
	logger    Logger
	mu        sync.Mutex
}

// NewCoordinator creates an empty wait coordinator. The messenger is used
// for retry prompts and may be nil when retries are never configured.
func NewCoordinator(messenger services.Messenger, logger Logger) *Coordinator {
	return &Coordinator{
		waits:     make(map[string]*pendingWait),
		messenger: messenger,
		logger:    logger,
	}
}

// Register adds a wait and returns its ID, a channel that yields exactly
// one outcome, and a cancel func that withdraws the wait without an
// outcome. A non-positive timeout resolves as timeout immediately.
func (c *Coordinator) Register(spec Spec) (string, <-chan Outcome, func(), error) {
	var compiled *regexp.Regexp
	if spec.Match == MatchRegex {
		var err error
		compiled, err = regexp.Compile(spec.Pattern)
		if err != nil {
			return "", nil, nil, fmt.Errorf("invalid reply pattern %q: %w", spec.Pattern, err)
		}
	}

	w := &pendingWait{
		id:       uuid.New().String(),
		spec:     spec,
		pattern:  compiled,
		resultCh: make(chan Outcome, 1),
	}

	c.mu.Lock()
	c.nextSeq++
	w.seq = c.nextSeq
	c.waits[w.id] = w
	c.mu.Unlock()

	if spec.Timeout <= 0 {
		c.resolve(w.id, Outcome{Kind: OutcomeTimeout})
	} else {
		w.timer = time.AfterFunc(spec.Timeout, func() {
			c.resolve(w.id, Outcome{Kind: OutcomeTimeout})
		})
	}

	cancel := func() { c.withdraw(w.id) }

	c.logger.Debug("wait registered",
		"wait_id", w.id, "execution_id", spec.ExecutionID, "node_id", spec.NodeID,
		"channel", spec.Channel, "timeout", spec.Timeout)

	return w.id, w.resultCh, cancel, nil
}

// Deliver routes an inbound message to the earliest matching wait. It
// returns true when a wait consumed the message, including the case where
// an invalid reply triggered a retry prompt.
func (c *Coordinator) Deliver(ctx context.Context, msg *services.InboundMessage) bool {
	c.mu.Lock()
	target := c.earliestCandidate(msg)
	if target == nil {
		c.mu.Unlock()
		return false
	}

	matched, ok := matchContent(target, msg)
	if ok {
		c.mu.Unlock()
		c.resolve(target.id, Outcome{Kind: OutcomeReply, Message: msg, Matched: matched})
		return true
	}

	if target.spec.RetryOnInvalid && target.retries < target.spec.RetryLimit {
		target.retries++
		retries := target.retries
		c.mu.Unlock()

		c.logger.Debug("invalid reply, prompting retry",
			"wait_id", target.id, "attempt", retries, "limit", target.spec.RetryLimit)
		if c.messenger != nil && target.spec.RetryPrompt != "" {
			if err := c.messenger.SendRetryPrompt(ctx, target.id, target.spec.RetryPrompt); err != nil {
				c.logger.Warn("retry prompt failed", "wait_id", target.id, "error", err)
			}
		}
		return true
	}

	c.mu.Unlock()
	c.resolve(target.id, Outcome{Kind: OutcomeInvalid, Message: msg})
	return true
}

// Pending returns the number of live waits
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waits)
}

// PendingFor returns the live wait IDs for one execution
func (c *Coordinator) PendingFor(executionID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []string
	for id, w := range c.waits {
		if w.spec.ExecutionID == executionID {
			ids = append(ids, id)
		}
	}
	return ids
}

// CancelFor withdraws every wait belonging to an execution
func (c *Coordinator) CancelFor(executionID string) {
	for _, id := range c.PendingFor(executionID) {
		c.withdraw(id)
	}
}

// earliestCandidate finds the oldest wait whose routing filters accept the
// message. Caller holds the lock.
func (c *Coordinator) earliestCandidate(msg *services.InboundMessage) *pendingWait {
	var best *pendingWait
	for _, w := range c.waits {
		if w.resolved {
			continue
		}
		if w.spec.Channel != "" && w.spec.Channel != msg.Channel {
			continue
		}
		if w.spec.ConversationID != "" && w.spec.ConversationID != msg.ConversationID {
			continue
		}
		if w.spec.Sender != "" && w.spec.Sender != msg.Sender {
			continue
		}
		if best == nil || w.seq < best.seq {
			best = w
		}
	}
	return best
}

// resolve delivers the outcome and removes the wait; only the first
// resolution wins
func (c *Coordinator) resolve(id string, outcome Outcome) {
	c.mu.Lock()
	w, ok := c.waits[id]
	if !ok || w.resolved {
		c.mu.Unlock()
		return
	}
	w.resolved = true
	delete(c.waits, id)
	if w.timer != nil {
		w.timer.Stop()
	}
	c.mu.Unlock()

	w.resultCh <- outcome
	c.logger.Debug("wait resolved", "wait_id", id, "kind", outcome.Kind)
}

// withdraw removes a wait without delivering an outcome
func (c *Coordinator) withdraw(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.waits[id]; ok {
		w.resolved = true
		delete(c.waits, id)
		if w.timer != nil {
			w.timer.Stop()
		}
	}
}

// matchContent validates reply content against the wait's match rule
func matchContent(w *pendingWait, msg *services.InboundMessage) (string, bool) {
	content := strings.TrimSpace(msg.Content)

	switch w.spec.Match {
	case MatchAny, "":
		return content, true
	case MatchExact:
		if strings.EqualFold(content, w.spec.Pattern) {
			return content, true
		}
	case MatchContains:
		if strings.Contains(strings.ToLower(content), strings.ToLower(w.spec.Pattern)) {
			return content, true
		}
	case MatchStartsWith:
		if strings.HasPrefix(strings.ToLower(content), strings.ToLower(w.spec.Pattern)) {
			return content, true
		}
	case MatchRegex:
		if w.pattern != nil && w.pattern.MatchString(content) {
			return w.pattern.FindString(content), true
		}
	case MatchButton:
		payload := msg.CallbackData
		if payload == "" {
			payload = content
		}
		for _, b := range w.spec.Buttons {
			if payload == b {
				return payload, true
			}
		}
	}
	return "", false
}
