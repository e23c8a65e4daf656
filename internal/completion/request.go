package completion

import (
	"encoding/json"
	"fmt"

	"typhonrelay/internal/models"
)

// Request is a chat-style generation request. Unknown JSON fields received from
// passthrough callers are kept in Extra and forwarded unchanged.
type Request struct {
	Model             string           `json:"model,omitempty"`
	Messages          []models.Message `json:"messages,omitempty"`
	Prompt            string           `json:"prompt,omitempty"`
	Temperature       *float64         `json:"temperature,omitempty"`
	MaxTokens         *int             `json:"max_tokens,omitempty"`
	TopP              *float64         `json:"top_p,omitempty"`
	RepetitionPenalty *float64         `json:"repetition_penalty,omitempty"`
	Stream            *bool            `json:"stream,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Params are the optional sampling parameters a caller may pass through.
type Params struct {
	Model             string   `json:"model,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	MaxTokens         *int     `json:"max_tokens,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`
	Stream            *bool    `json:"stream,omitempty"`
}

// NewRequest builds a request from a message history and sampling parameters.
func NewRequest(messages []models.Message, p Params) *Request {
	return &Request{
		Model:             p.Model,
		Messages:          messages,
		Temperature:       p.Temperature,
		MaxTokens:         p.MaxTokens,
		TopP:              p.TopP,
		RepetitionPenalty: p.RepetitionPenalty,
		Stream:            p.Stream,
	}
}

type requestAlias Request

var knownFields = []string{
	"model", "messages", "prompt", "temperature", "max_tokens", "top_p", "repetition_penalty", "stream",
}

// MarshalJSON merges Extra into the encoded object. Typed fields win over Extra.
func (r Request) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(requestAlias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return base, nil
	}
	merged := make(map[string]json.RawMessage, len(r.Extra)+len(knownFields))
	for k, v := range r.Extra {
		merged[k] = v
	}
	var typed map[string]json.RawMessage
	if err := json.Unmarshal(base, &typed); err != nil {
		return nil, err
	}
	for k, v := range typed {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the typed fields and keeps every other key in Extra.
func (r *Request) UnmarshalJSON(data []byte) error {
	var alias requestAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	for _, k := range knownFields {
		delete(all, k)
	}
	*r = Request(alias)
	if len(all) > 0 {
		r.Extra = all
	}
	return nil
}
