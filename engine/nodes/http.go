package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tessera-ai/flowengine/engine/breaker"
	"github.com/tessera-ai/flowengine/engine/executor"
	"github.com/tessera-ai/flowengine/engine/flow"
	"github.com/tessera-ai/flowengine/engine/flowerr"
)

// Response body cap guards against runaway upstream payloads
const maxHTTPBodyBytes = 4 << 20

// HTTPExecutor performs an outbound HTTP request. Requests run under a
// per-host circuit breaker.
type HTTPExecutor struct {
	client   *http.Client
	breakers *breaker.Manager
}

// NewHTTPExecutor creates the HTTP request executor
func NewHTTPExecutor(breakers *breaker.Manager) *HTTPExecutor {
	return &HTTPExecutor{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		breakers: breakers,
	}
}

func (e *HTTPExecutor) Type() string { return "http:request" }

func (e *HTTPExecutor) Validate(node flow.Node) []string {
	var problems []string
	rawURL, _ := node.Config["url"].(string)
	if rawURL == "" {
		problems = append(problems, "http node requires a url")
	}
	if method, _ := node.Config["method"].(string); method != "" {
		switch strings.ToUpper(method) {
		case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead:
		default:
			problems = append(problems, "unsupported http method "+method)
		}
	}
	return problems
}

func (e *HTTPExecutor) Execute(ctx context.Context, nc *executor.NodeContext) *executor.NodeResult {
	rawURL, _ := nc.Data["url"].(string)
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return executor.Fail(flowerr.Validation("http node url %q is not absolute", rawURL).WithNode(nc.Node.ID))
	}

	method := http.MethodGet
	if m, _ := nc.Data["method"].(string); m != "" {
		method = strings.ToUpper(m)
	}

	if ms, ok := numberFrom(nc.Data["timeoutMs"]); ok && ms > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}

	var body io.Reader
	if raw, ok := nc.Data["body"]; ok && raw != nil {
		payload, err := json.Marshal(raw)
		if err != nil {
			return executor.Fail(flowerr.Validation("http body is not serializable: %v", err).WithNode(nc.Node.ID))
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return executor.Fail(flowerr.Validation("http request build failed: %v", err).WithNode(nc.Node.ID))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := nc.Data["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	out, err := e.breakers.Execute("http:"+parsed.Host, func() (interface{}, error) {
		return e.do(req)
	})
	if err != nil {
		return executor.Fail(flowerr.Classify(err).WithNode(nc.Node.ID))
	}

	return executor.Succeed(out)
}

// do performs the request and shapes the response for the scope. Responses
// with 5xx status are reported as recoverable failures, 4xx as permanent.
func (e *HTTPExecutor) do(req *http.Request) (interface{}, error) {
	resp, err := e.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, flowerr.Classify(ctxErr)
		}
		return nil, flowerr.External(true, "http request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBodyBytes))
	if err != nil {
		return nil, flowerr.External(true, "http response read failed: %v", err)
	}

	if resp.StatusCode >= 500 {
		return nil, flowerr.External(true, "upstream returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, flowerr.External(false, "upstream rejected request with %d", resp.StatusCode)
	}

	var parsed interface{}
	if len(raw) > 0 && json.Valid(raw) {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			parsed = string(raw)
		}
	} else {
		parsed = string(raw)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return map[string]interface{}{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    parsed,
	}, nil
}
