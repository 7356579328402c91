package nodes

import (
	"context"
	"time"

	"github.com/tessera-ai/flowengine/engine/executor"
	"github.com/tessera-ai/flowengine/engine/flow"
	"github.com/tessera-ai/flowengine/engine/flowerr"
	"github.com/tessera-ai/flowengine/engine/waiter"
)

// WaitExecutor suspends the walk until an inbound reply arrives, the wait
// times out, or the reply budget for invalid answers runs out. The outcome
// selects the reply, timeout or invalid branch.
type WaitExecutor struct {
	coordinator    *waiter.Coordinator
	defaultTimeout time.Duration
	defaultRetries int
}

// NewWaitExecutor creates the wait-for-reply executor
func NewWaitExecutor(coordinator *waiter.Coordinator, defaultTimeout time.Duration, defaultRetries int) *WaitExecutor {
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Minute
	}
	return &WaitExecutor{
		coordinator:    coordinator,
		defaultTimeout: defaultTimeout,
		defaultRetries: defaultRetries,
	}
}

func (e *WaitExecutor) Type() string { return "wait:forReply" }

func (e *WaitExecutor) Validate(node flow.Node) []string {
	match, _ := node.Config["match"].(string)
	switch waiter.MatchType(match) {
	case "", waiter.MatchAny, waiter.MatchExact, waiter.MatchContains,
		waiter.MatchStartsWith, waiter.MatchRegex, waiter.MatchButton:
	default:
		return []string{"unknown reply match mode " + match}
	}
	if waiter.MatchType(match) == waiter.MatchRegex {
		if pattern, _ := node.Config["pattern"].(string); pattern == "" {
			return []string{"regex match requires a pattern"}
		}
	}
	return nil
}

func (e *WaitExecutor) Execute(ctx context.Context, nc *executor.NodeContext) *executor.NodeResult {
	spec := e.buildSpec(nc)

	_, outcomeCh, cancel, err := e.coordinator.Register(spec)
	if err != nil {
		return executor.Fail(flowerr.Validation("wait registration failed: %v", err).WithNode(nc.Node.ID))
	}

	select {
	case outcome := <-outcomeCh:
		return e.resolveOutcome(outcome)
	case <-ctx.Done():
		cancel()
		return executor.Fail(flowerr.Classify(context.Cause(ctx)).WithNode(nc.Node.ID))
	}
}

// buildSpec assembles the wait registration, defaulting routing filters
// from the trigger descriptor
func (e *WaitExecutor) buildSpec(nc *executor.NodeContext) waiter.Spec {
	scope := nc.Scope()
	trigger, _ := scope["trigger"].(map[string]interface{})

	exec := nc.Execution.Execution()
	spec := waiter.Spec{
		ExecutionID: nc.Execution.ID(),
		NodeID:      nc.Node.ID,
		OwnerID:     exec.OwnerID,
		Timeout:     e.defaultTimeout,
		RetryLimit:  e.defaultRetries,
	}

	spec.Channel, _ = nc.Data["channel"].(string)
	if spec.Channel == "" {
		spec.Channel, _ = trigger["channel"].(string)
	}
	spec.ConversationID, _ = nc.Data["conversationId"].(string)
	if spec.ConversationID == "" {
		spec.ConversationID, _ = trigger["conversation_id"].(string)
	}
	spec.Sender, _ = nc.Data["sender"].(string)

	if match, _ := nc.Data["match"].(string); match != "" {
		spec.Match = waiter.MatchType(match)
	} else {
		spec.Match = waiter.MatchAny
	}
	spec.Pattern, _ = nc.Data["pattern"].(string)
	spec.Buttons = recipientsFrom(nc.Data["buttons"])

	if ms, ok := numberFrom(nc.Data["timeoutMs"]); ok {
		spec.Timeout = time.Duration(ms) * time.Millisecond
	}
	if retry, ok := nc.Data["retryOnInvalid"].(bool); ok {
		spec.RetryOnInvalid = retry
	}
	if limit, ok := numberFrom(nc.Data["retryLimit"]); ok {
		spec.RetryLimit = int(limit)
	}
	spec.RetryPrompt, _ = nc.Data["retryPrompt"].(string)

	return spec
}

// resolveOutcome maps a wait outcome onto a branch-selecting node result
func (e *WaitExecutor) resolveOutcome(outcome waiter.Outcome) *executor.NodeResult {
	output := map[string]interface{}{
		"outcome": string(outcome.Kind),
	}
	if outcome.Message != nil {
		output["reply"] = outcome.Message.Content
		output["sender"] = outcome.Message.Sender
		output["channel"] = outcome.Message.Channel
		output["message_id"] = outcome.Message.MessageID
		if outcome.Message.CallbackData != "" {
			output["callback_data"] = outcome.Message.CallbackData
		}
	}
	if outcome.Matched != "" {
		output["matched"] = outcome.Matched
	}

	switch outcome.Kind {
	case waiter.OutcomeReply:
		return executor.Succeed(output).WithBranches(flow.BranchReply)
	case waiter.OutcomeTimeout:
		return executor.Succeed(output).WithBranches(flow.BranchTimeout)
	default:
		return executor.Succeed(output).WithBranches(flow.BranchInvalid)
	}
}
