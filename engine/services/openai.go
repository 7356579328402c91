package services

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tessera-ai/flowengine/engine/flowerr"
)

// OpenAIClient adapts the OpenAI chat completion API to the AIClient
// contract. The agentID selects a model profile; unknown agents fall back
// to the configured default model.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
	logger       Logger
}

// OpenAIOpts configures the OpenAI adapter
type OpenAIOpts struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Logger       Logger
}

// NewOpenAIClient creates an AI collaborator backed by OpenAI
func NewOpenAIClient(opts *OpenAIOpts) *OpenAIClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	return &OpenAIClient{
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: opts.DefaultModel,
		logger:       opts.Logger,
	}
}

// Query sends a chat completion request and maps provider failures onto
// the engine error taxonomy
func (c *OpenAIClient) Query(ctx context.Context, agentID string, messages []AIMessage, opts AIOptions) (*AIResponse, error) {
	model := opts.Model
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return nil, flowerr.Resource("no AI model configured for agent %s", agentID)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, c.classify(err)
	}

	if len(resp.Choices) == 0 {
		return nil, flowerr.External(true, "AI provider returned no choices")
	}

	return &AIResponse{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: AIUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Metadata: map[string]interface{}{
			"agent_id":      agentID,
			"finish_reason": string(resp.Choices[0].FinishReason),
		},
	}, nil
}

// classify maps OpenAI errors onto flow error kinds: rate limits and server
// errors are recoverable external failures, auth and request errors are not
func (c *OpenAIClient) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return flowerr.Timeout("AI call timed out")
	}
	if errors.Is(err, context.Canceled) {
		return flowerr.Cancelled("AI call cancelled")
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500:
			return flowerr.External(true, "AI provider error (%d): %s", apiErr.HTTPStatusCode, apiErr.Message)
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return flowerr.Resource("AI provider rejected credentials: %s", apiErr.Message)
		default:
			return flowerr.External(false, "AI provider error (%d): %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
	}

	c.logger.Warn("unclassified AI error", "error", err)
	return flowerr.External(true, "%s", fmt.Sprintf("AI call failed: %v", err))
}
