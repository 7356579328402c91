package dispatch

import (
	"context"
	"fmt"

	"github.com/tessera-ai/flowengine/engine/flowerr"
	"github.com/tessera-ai/flowengine/engine/services"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// TargetMode selects how recipients are determined
type TargetMode string

const (
	// TargetReply sends back to whoever triggered the execution
	TargetReply TargetMode = "reply"
	// TargetSpecific sends to an explicit recipient list
	TargetSpecific TargetMode = "specific"
	// TargetVariable reads recipients from an execution variable
	TargetVariable TargetMode = "variable"
	// TargetBroadcast sends to every recipient, tolerating partial failure
	TargetBroadcast TargetMode = "broadcast"
)

// Target describes where an outbound message goes
type Target struct {
	Mode       TargetMode
	Platform   string
	Recipients []string
	Variable   string
}

// RecipientResult is the delivery outcome for one recipient
type RecipientResult struct {
	Recipient string                `json:"recipient"`
	Receipt   *services.SendReceipt `json:"receipt,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// Result aggregates per-recipient outcomes
type Result struct {
	Platform   string            `json:"platform"`
	Sent       int               `json:"sent"`
	Failed     int               `json:"failed"`
	Recipients []RecipientResult `json:"recipients"`
}

// Bridge resolves dispatch targets and delivers through the messaging
// collaborator. Broadcast tolerates partial failure; every other mode
// fails on the first delivery error.
type Bridge struct {
	messenger services.Messenger
	logger    Logger
}

// NewBridge creates a dispatch bridge
func NewBridge(messenger services.Messenger, logger Logger) *Bridge {
	return &Bridge{messenger: messenger, logger: logger}
}

// Dispatch resolves the target against the execution scope and sends the
// content to every resolved recipient
func (b *Bridge) Dispatch(ctx context.Context, target Target, content string, opts services.SendOptions, scope map[string]interface{}) (*Result, error) {
	recipients, err := b.resolveRecipients(target, scope)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, flowerr.Validation("dispatch target resolved to no recipients")
	}

	result := &Result{Platform: target.Platform}
	for _, recipient := range recipients {
		receipt, sendErr := b.messenger.Send(ctx, target.Platform, recipient, content, opts)
		if sendErr != nil {
			result.Failed++
			result.Recipients = append(result.Recipients, RecipientResult{
				Recipient: recipient,
				Error:     sendErr.Error(),
			})
			b.logger.Warn("dispatch delivery failed",
				"platform", target.Platform, "recipient", recipient, "error", sendErr)

			if target.Mode != TargetBroadcast {
				return result, flowerr.Classify(sendErr)
			}
			continue
		}
		result.Sent++
		result.Recipients = append(result.Recipients, RecipientResult{
			Recipient: recipient,
			Receipt:   receipt,
		})
	}

	// A broadcast that reached nobody is a failure; partial delivery is not
	if result.Sent == 0 && result.Failed > 0 {
		return result, flowerr.External(true, "broadcast failed for all %d recipients on %s", result.Failed, target.Platform)
	}

	b.logger.Info("dispatch complete",
		"platform", target.Platform, "mode", string(target.Mode),
		"sent", result.Sent, "failed", result.Failed)
	return result, nil
}

// resolveRecipients turns a target into concrete recipient addresses
func (b *Bridge) resolveRecipients(target Target, scope map[string]interface{}) ([]string, error) {
	switch target.Mode {
	case TargetReply:
		return replyRecipient(scope)

	case TargetSpecific, TargetBroadcast:
		return target.Recipients, nil

	case TargetVariable:
		if target.Variable == "" {
			return nil, flowerr.Validation("variable dispatch target without a variable name")
		}
		vars, _ := scope["variables"].(map[string]interface{})
		raw, ok := vars[target.Variable]
		if !ok {
			return nil, flowerr.Validation("dispatch variable %q is not set", target.Variable)
		}
		return coerceRecipients(raw)

	default:
		return nil, flowerr.Validation("unknown dispatch mode %q", target.Mode)
	}
}

// replyRecipient extracts the originating sender from the trigger descriptor
func replyRecipient(scope map[string]interface{}) ([]string, error) {
	trigger, _ := scope["trigger"].(map[string]interface{})
	for _, key := range []string{"conversation_id", "sender"} {
		if v, ok := trigger[key].(string); ok && v != "" {
			return []string{v}, nil
		}
	}
	return nil, flowerr.Validation("reply dispatch requires a trigger with a sender")
}

// coerceRecipients accepts a single address or a list of addresses
func coerceRecipients(raw interface{}) ([]string, error) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, flowerr.Validation("dispatch recipient list contains non-string entry %v", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, flowerr.Validation("dispatch variable has unsupported type %s", fmt.Sprintf("%T", raw))
	}
}
