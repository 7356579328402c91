package services

import (
	"context"
	"time"

	"github.com/tessera-ai/flowengine/engine/execution"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// AIMessage is one turn of an AI conversation
type AIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AIOptions tunes a single AI call
type AIOptions struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// AIUsage reports token accounting for an AI call
type AIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// AIResponse is the result of an AI call
type AIResponse struct {
	Content  string                 `json:"content"`
	Model    string                 `json:"model"`
	Usage    AIUsage                `json:"usage"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AIClient is the AI collaborator contract. Implementations must classify
// failures as resource (no provider), external (provider error) or timeout
// via flowerr kinds.
type AIClient interface {
	Query(ctx context.Context, agentID string, messages []AIMessage, opts AIOptions) (*AIResponse, error)
}

// SendOptions carries format and platform-specific delivery fields
type SendOptions struct {
	Format   string                 `json:"format,omitempty"` // text|markdown|html
	ReplyTo  string                 `json:"reply_to,omitempty"`
	Buttons  []Button               `json:"buttons,omitempty"`
	Subject  string                 `json:"subject,omitempty"`
	CC       []string               `json:"cc,omitempty"`
	BCC      []string               `json:"bcc,omitempty"`
	MediaURL string                 `json:"media_url,omitempty"`
	Extra    map[string]interface{} `json:"extra,omitempty"`
}

// Button is an interactive option attached to an outbound message
type Button struct {
	Label   string `json:"label"`
	Payload string `json:"payload"`
}

// SendReceipt confirms an outbound delivery
type SendReceipt struct {
	MessageID string `json:"message_id"`
	Platform  string `json:"platform"`
	Status    string `json:"status"`
}

// InboundMessage is a message arriving from a platform adapter
type InboundMessage struct {
	Channel        string    `json:"channel"`
	MessageID      string    `json:"message_id"`
	Sender         string    `json:"sender"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	CallbackData   string    `json:"callback_data,omitempty"`
}

// Messenger is the messaging collaborator contract, one implementation per
// hosting process covering all platforms (whatsapp, telegram, email, webhook)
type Messenger interface {
	Send(ctx context.Context, platform, recipient, content string, opts SendOptions) (*SendReceipt, error)
	SendRetryPrompt(ctx context.Context, waitID, text string) error
}

// ExecutionStore is the durable record contract for execution lifecycle
type ExecutionStore interface {
	Insert(ctx context.Context, exec *execution.Execution) error
	Update(ctx context.Context, exec *execution.Execution) error
	GetByID(ctx context.Context, id string) (*execution.Execution, error)
}

// Bundle groups the collaborators handed to node executors
type Bundle struct {
	AI        AIClient
	Messenger Messenger
	Store     ExecutionStore
}
