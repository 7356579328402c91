package nodes

import (
	"context"

	"github.com/tessera-ai/flowengine/engine/breaker"
	"github.com/tessera-ai/flowengine/engine/dispatch"
	"github.com/tessera-ai/flowengine/engine/executor"
	"github.com/tessera-ai/flowengine/engine/flow"
	"github.com/tessera-ai/flowengine/engine/flowerr"
	"github.com/tessera-ai/flowengine/engine/services"
)

// MessageExecutor sends an outbound message through the dispatch bridge.
// One instance is registered per platform subtype; delivery runs under a
// per-platform circuit breaker.
type MessageExecutor struct {
	platform string
	subtype  string
	bridge   *dispatch.Bridge
	breakers *breaker.Manager
}

// NewMessageExecutor creates a message executor bound to one platform
func NewMessageExecutor(platform, subtype string, bridge *dispatch.Bridge, breakers *breaker.Manager) *MessageExecutor {
	return &MessageExecutor{
		platform: platform,
		subtype:  subtype,
		bridge:   bridge,
		breakers: breakers,
	}
}

// MessageExecutors returns one executor per supported platform
func MessageExecutors(bridge *dispatch.Bridge, breakers *breaker.Manager) []*MessageExecutor {
	return []*MessageExecutor{
		NewMessageExecutor("whatsapp", "sendWhatsApp", bridge, breakers),
		NewMessageExecutor("telegram", "sendTelegram", bridge, breakers),
		NewMessageExecutor("email", "sendEmail", bridge, breakers),
		NewMessageExecutor("webhook", "sendWebhook", bridge, breakers),
	}
}

func (e *MessageExecutor) Type() string { return "messaging:" + e.subtype }

func (e *MessageExecutor) Validate(node flow.Node) []string {
	var problems []string
	if content, _ := node.Config["content"].(string); content == "" {
		problems = append(problems, "message node requires content")
	}
	mode, _ := node.Config["mode"].(string)
	switch dispatch.TargetMode(mode) {
	case "", dispatch.TargetReply, dispatch.TargetSpecific, dispatch.TargetVariable, dispatch.TargetBroadcast:
	default:
		problems = append(problems, "unknown dispatch mode "+mode)
	}
	return problems
}

func (e *MessageExecutor) Execute(ctx context.Context, nc *executor.NodeContext) *executor.NodeResult {
	content, _ := nc.Data["content"].(string)
	if content == "" {
		return executor.Fail(flowerr.Validation("message content resolved empty").WithNode(nc.Node.ID))
	}

	target := dispatch.Target{
		Mode:     dispatch.TargetReply,
		Platform: e.platform,
	}
	if mode, _ := nc.Data["mode"].(string); mode != "" {
		target.Mode = dispatch.TargetMode(mode)
	}
	if variable, _ := nc.Data["variable"].(string); variable != "" {
		target.Variable = variable
		if target.Mode == dispatch.TargetReply {
			target.Mode = dispatch.TargetVariable
		}
	}
	target.Recipients = recipientsFrom(nc.Data["to"])
	if len(target.Recipients) > 0 && target.Mode == dispatch.TargetReply {
		target.Mode = dispatch.TargetSpecific
	}

	opts := sendOptionsFrom(nc.Data)
	scope := nc.Scope()

	out, err := e.breakers.Execute("messaging:"+e.platform, func() (interface{}, error) {
		return e.bridge.Dispatch(ctx, target, content, opts, scope)
	})
	if err != nil {
		return executor.Fail(flowerr.Classify(err).WithNode(nc.Node.ID))
	}

	res := out.(*dispatch.Result)
	return executor.Succeed(map[string]interface{}{
		"platform":   res.Platform,
		"sent":       res.Sent,
		"failed":     res.Failed,
		"recipients": res.Recipients,
	})
}

// recipientsFrom accepts a single address or a list
func recipientsFrom(raw interface{}) []string {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// sendOptionsFrom maps optional delivery fields from the node config
func sendOptionsFrom(data map[string]interface{}) services.SendOptions {
	opts := services.SendOptions{}
	opts.Format, _ = data["format"].(string)
	opts.Subject, _ = data["subject"].(string)
	opts.MediaURL, _ = data["mediaUrl"].(string)

	if raw, ok := data["buttons"].([]interface{}); ok {
		for _, item := range raw {
			b, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			label, _ := b["label"].(string)
			payload, _ := b["payload"].(string)
			if payload == "" {
				payload = label
			}
			if label != "" {
				opts.Buttons = append(opts.Buttons, services.Button{Label: label, Payload: payload})
			}
		}
	}

	for _, key := range []string{"cc", "bcc"} {
		list := recipientsFrom(data[key])
		if key == "cc" {
			opts.CC = list
		} else {
			opts.BCC = list
		}
	}
	return opts
}
