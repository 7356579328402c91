package nodes

import (
	"context"
	"time"

	"github.com/tessera-ai/flowengine/engine/breaker"
	"github.com/tessera-ai/flowengine/engine/executor"
	"github.com/tessera-ai/flowengine/engine/flow"
	"github.com/tessera-ai/flowengine/engine/flowerr"
	"github.com/tessera-ai/flowengine/engine/services"
)

// AIExecutor calls the AI collaborator with a resolved prompt. Calls run
// under a per-agent circuit breaker so one misbehaving agent cannot take
// down flows using others.
type AIExecutor struct {
	client   services.AIClient
	breakers *breaker.Manager
}

// NewAIExecutor creates the AI chat completion executor
func NewAIExecutor(client services.AIClient, breakers *breaker.Manager) *AIExecutor {
	return &AIExecutor{client: client, breakers: breakers}
}

func (e *AIExecutor) Type() string { return "ai:chatCompletion" }

func (e *AIExecutor) Validate(node flow.Node) []string {
	var problems []string
	if prompt, _ := node.Config["prompt"].(string); prompt == "" {
		if _, hasMessages := node.Config["messages"]; !hasMessages {
			problems = append(problems, "ai node requires a prompt or a messages list")
		}
	}
	return problems
}

func (e *AIExecutor) Execute(ctx context.Context, nc *executor.NodeContext) *executor.NodeResult {
	if e.client == nil {
		return executor.Fail(flowerr.Resource("no AI collaborator configured").WithNode(nc.Node.ID))
	}

	agentID, _ := nc.Data["agentId"].(string)
	if agentID == "" {
		agentID = "default"
	}

	messages := e.buildMessages(nc.Data)
	if len(messages) == 0 {
		return executor.Fail(flowerr.Validation("ai node resolved to an empty prompt").WithNode(nc.Node.ID))
	}

	opts := services.AIOptions{}
	if model, _ := nc.Data["model"].(string); model != "" {
		opts.Model = model
	}
	if temp, ok := numberFrom(nc.Data["temperature"]); ok {
		opts.Temperature = float32(temp)
	}
	if max, ok := numberFrom(nc.Data["maxTokens"]); ok {
		opts.MaxTokens = int(max)
	}
	if ms, ok := numberFrom(nc.Data["timeoutMs"]); ok && ms > 0 {
		opts.Timeout = time.Duration(ms) * time.Millisecond
	}

	out, err := e.breakers.Execute("ai:"+agentID, func() (interface{}, error) {
		return e.client.Query(ctx, agentID, messages, opts)
	})
	if err != nil {
		return executor.Fail(flowerr.Classify(err).WithNode(nc.Node.ID))
	}

	resp := out.(*services.AIResponse)
	result := executor.Succeed(map[string]interface{}{
		"content":  resp.Content,
		"model":    resp.Model,
		"agent_id": agentID,
		"usage": map[string]interface{}{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
	})

	if name, _ := nc.Data["outputVariable"].(string); name != "" {
		result = result.WithVariables(map[string]interface{}{name: resp.Content})
	}
	return result
}

// buildMessages assembles the conversation from either an explicit messages
// list or a systemPrompt/prompt pair
func (e *AIExecutor) buildMessages(data map[string]interface{}) []services.AIMessage {
	if raw, ok := data["messages"].([]interface{}); ok {
		var messages []services.AIMessage
		for _, item := range raw {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			role, _ := m["role"].(string)
			content, _ := m["content"].(string)
			if role != "" && content != "" {
				messages = append(messages, services.AIMessage{Role: role, Content: content})
			}
		}
		return messages
	}

	var messages []services.AIMessage
	if system, _ := data["systemPrompt"].(string); system != "" {
		messages = append(messages, services.AIMessage{Role: "system", Content: system})
	}
	if prompt, _ := data["prompt"].(string); prompt != "" {
		messages = append(messages, services.AIMessage{Role: "user", Content: prompt})
	}
	return messages
}
