package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"typhonrelay/internal/config"
)

// Result is a raw provider response and the upstream path that produced it.
type Result struct {
	Data     json.RawMessage
	PathUsed string
}

// Client sends chat requests to a completion provider.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Result, error)
}

// Proxier forwards arbitrary requests to the provider's HTTP transport.
type Proxier interface {
	Proxy(ctx context.Context, call ProxyCall) (json.RawMessage, error)
}

// ProxyCall is a raw request forwarded by Proxy.
type ProxyCall struct {
	Method string            `json:"method"`
	Path   string            `json:"path"`
	Data   json.RawMessage   `json:"data,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

// New builds the client for the configured provider. "typhoon" (default) talks to an
// OpenAI-compatible HTTP endpoint; openai, claude and gemini go through eino chat models.
func New(ctx context.Context, cfg config.TyphonConfig, providers map[string]config.ProviderConfig) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "typhoon", "http":
		return NewHTTPClient(cfg), nil
	case ProviderOpenAI, ProviderClaude, ProviderGemini:
		provCfg := providers[provider]
		if provCfg.APIKey == "" {
			provCfg.APIKey = cfg.APIKey
		}
		if provCfg.BaseURL == "" && provider == ProviderOpenAI {
			provCfg.BaseURL = cfg.BaseURL
		}
		if provCfg.Model == "" {
			provCfg.Model = cfg.Model
		}
		return NewEinoClient(ctx, provider, provCfg)
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Provider)
	}
}
