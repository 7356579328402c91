package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tessera-ai/flowengine/engine/flowerr"
	"github.com/tessera-ai/flowengine/engine/services"
)

// Ensure GatewayMessenger implements the Messenger interface
var _ services.Messenger = (*GatewayMessenger)(nil)

const maxGatewayBodyBytes = 1 << 20 // 1MB

// GatewayConfig maps message platforms to their delivery gateway base URLs
type GatewayConfig struct {
	// Endpoints keys are platform names (whatsapp, telegram, email, webhook)
	Endpoints map[string]string

	// PromptURL receives wait retry prompts; empty disables them
	PromptURL string

	// Timeout bounds one delivery call
	Timeout time.Duration
}

// GatewayConfigFromEnv builds a gateway config from environment variables
func GatewayConfigFromEnv() *GatewayConfig {
	endpoints := make(map[string]string)
	for platform, envKey := range map[string]string{
		"whatsapp": "WHATSAPP_GATEWAY_URL",
		"telegram": "TELEGRAM_GATEWAY_URL",
		"email":    "EMAIL_GATEWAY_URL",
		"webhook":  "WEBHOOK_GATEWAY_URL",
	} {
		if url := os.Getenv(envKey); url != "" {
			endpoints[platform] = url
		}
	}

	timeout := 15 * time.Second
	if raw := os.Getenv("GATEWAY_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			timeout = d
		}
	}

	return &GatewayConfig{
		Endpoints: endpoints,
		PromptURL: os.Getenv("PROMPT_GATEWAY_URL"),
		Timeout:   timeout,
	}
}

// GatewayMessenger delivers outbound messages by POSTing to per-platform
// gateway services. Gateway failures are classified so node error policies
// can distinguish retryable outages from rejected requests.
type GatewayMessenger struct {
	http      *HTTPClient
	endpoints map[string]string
	promptURL string
	logger    Logger
}

// NewGatewayMessenger creates a messenger backed by HTTP delivery gateways
func NewGatewayMessenger(cfg *GatewayConfig, logger Logger) *GatewayMessenger {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &GatewayMessenger{
		http:      NewHTTPClient(&http.Client{Timeout: timeout}, logger),
		endpoints: cfg.Endpoints,
		promptURL: cfg.PromptURL,
		logger:    logger,
	}
}

// sendRequest is the wire format for gateway delivery calls
type sendRequest struct {
	Recipient string               `json:"recipient"`
	Content   string               `json:"content"`
	Options   services.SendOptions `json:"options"`
}

// Send implements services.Messenger
func (g *GatewayMessenger) Send(ctx context.Context, platform, recipient, content string, opts services.SendOptions) (*services.SendReceipt, error) {
	endpoint, ok := g.endpoints[platform]
	if !ok {
		return nil, flowerr.Validation("no gateway configured for platform %s", platform)
	}

	payload, err := json.Marshal(sendRequest{
		Recipient: recipient,
		Content:   content,
		Options:   opts,
	})
	if err != nil {
		return nil, flowerr.Validation("invalid send payload: %v", err)
	}

	resp, err := g.post(ctx, endpoint+"/send", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxGatewayBodyBytes))
	if resp.StatusCode >= 500 {
		return nil, flowerr.External(true, "%s gateway returned %d: %s", platform, resp.StatusCode, truncate(body, 200))
	}
	if resp.StatusCode >= 400 {
		return nil, flowerr.External(false, "%s gateway rejected send with %d: %s", platform, resp.StatusCode, truncate(body, 200))
	}

	receipt := &services.SendReceipt{Platform: platform, Status: "sent"}
	if err := json.Unmarshal(body, receipt); err != nil {
		g.logger.Debug("gateway receipt not parseable, using defaults", "platform", platform)
	}
	if receipt.Platform == "" {
		receipt.Platform = platform
	}
	return receipt, nil
}

// SendRetryPrompt implements services.Messenger. Prompts are best effort:
// a missing prompt gateway is not an error.
func (g *GatewayMessenger) SendRetryPrompt(ctx context.Context, waitID, text string) error {
	if g.promptURL == "" {
		g.logger.Debug("no prompt gateway configured, dropping retry prompt", "wait_id", waitID)
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"wait_id": waitID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("invalid prompt payload: %w", err)
	}

	resp, err := g.post(ctx, g.promptURL, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return flowerr.External(resp.StatusCode >= 500, "prompt gateway returned %d", resp.StatusCode)
	}
	return nil
}

// post executes one JSON POST, classifying transport failures
func (g *GatewayMessenger) post(ctx context.Context, url string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, flowerr.Validation("invalid gateway url %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ownerID, ok := GetOwnerID(ctx); ok {
		req.Header.Set("X-Owner-ID", ownerID)
	}

	resp, err := g.http.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, flowerr.Classify(ctxErr)
		}
		return nil, flowerr.External(true, "gateway call failed: %v", err)
	}
	return resp, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
