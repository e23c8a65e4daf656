package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"typhonrelay/internal/config"
)

const maxResponseBytes = 8 << 20

// HTTPClient talks to an OpenAI-compatible chat completion endpoint.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	model      string
	paths      []string
	httpClient *http.Client
}

// NewHTTPClient creates a client from the upstream configuration.
func NewHTTPClient(cfg config.TyphonConfig) *HTTPClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	paths := cfg.Paths
	if len(paths) == 0 {
		paths = []string{"/v1/chat/completions", "/chat/completions"}
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		paths:   paths,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Configured reports whether both base URL and API key are set.
func (c *HTTPClient) Configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// Model returns the default model name.
func (c *HTTPClient) Model() string {
	return c.model
}

// Complete posts req to each candidate path in order. 404 and 405 responses fall
// through to the next path; any other failure stops immediately.
func (c *HTTPClient) Complete(ctx context.Context, req *Request) (*Result, error) {
	if !c.Configured() {
		return nil, &UpstreamError{Message: "AITYPHON_BASE_URL and AITYPHON_API_KEY must be set", Err: ErrNotConfigured}
	}
	if req == nil {
		return nil, &UpstreamError{Status: http.StatusBadRequest, Message: "request required"}
	}
	payload := *req
	if payload.Model == "" {
		payload.Model = c.model
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	var (
		attempts []Attempt
		last     *UpstreamError
	)
	for _, path := range c.paths {
		status, respBody, err := c.do(ctx, http.MethodPost, path, body, nil)
		if err != nil {
			attempts = append(attempts, Attempt{Path: path, Message: err.Error()})
			return nil, &UpstreamError{Message: err.Error(), Attempts: attempts, Err: err}
		}
		if status >= 200 && status < 300 {
			return &Result{Data: asJSON(respBody), PathUsed: path}, nil
		}
		msg := errorMessage(status, respBody)
		attempts = append(attempts, Attempt{Path: path, Status: status, Message: msg})
		last = &UpstreamError{Status: status, Message: msg, Data: asJSON(respBody)}
		if status != http.StatusNotFound && status != http.StatusMethodNotAllowed {
			break
		}
	}
	last.Attempts = attempts
	return nil, last
}

// Proxy forwards an arbitrary call to the upstream and returns its body unchanged.
func (c *HTTPClient) Proxy(ctx context.Context, call ProxyCall) (json.RawMessage, error) {
	if !strings.HasPrefix(call.Path, "/") {
		return nil, ErrInvalidPath
	}
	if !c.Configured() {
		return nil, &UpstreamError{Message: "AITYPHON_BASE_URL and AITYPHON_API_KEY must be set", Err: ErrNotConfigured}
	}
	method := strings.ToUpper(strings.TrimSpace(call.Method))
	if method == "" {
		method = http.MethodPost
	}
	var body []byte
	if len(call.Data) > 0 && method != http.MethodGet && method != http.MethodHead {
		body = call.Data
	}
	status, respBody, err := c.do(ctx, method, call.Path, body, call.Params)
	if err != nil {
		return nil, &UpstreamError{Message: err.Error(), Err: err}
	}
	if status < 200 || status >= 300 {
		return nil, &UpstreamError{Status: status, Message: errorMessage(status, respBody), Data: asJSON(respBody)}
	}
	return asJSON(respBody), nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, params map[string]string) (int, []byte, error) {
	target := c.baseURL + path
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + q.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// errorMessage pulls a readable message out of an error body.
func errorMessage(status int, body []byte) string {
	if json.Valid(body) {
		for _, path := range []string{"error.message", "message", "error", "detail"} {
			if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
		return text
	}
	if statusText := http.StatusText(status); statusText != "" {
		return statusText
	}
	return fmt.Sprintf("status %d", status)
}

// asJSON returns body when it is valid JSON and a JSON string of it otherwise.
func asJSON(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, err := json.Marshal(string(trimmed))
	if err != nil {
		return json.RawMessage("null")
	}
	return quoted
}

// IsUpstream reports whether err is an UpstreamError and returns it.
func IsUpstream(err error) (*UpstreamError, bool) {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr, true
	}
	return nil, false
}
