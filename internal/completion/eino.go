package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"google.golang.org/genai"

	"typhonrelay/internal/config"
	"typhonrelay/internal/models"
)

const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
)

// EinoClient serves completions through an eino chat model and reports them in the
// OpenAI chat completion shape.
type EinoClient struct {
	provider  string
	model     string
	chatModel model.BaseChatModel
}

// NewEinoClient creates the chat model for provider.
func NewEinoClient(ctx context.Context, provider string, provCfg config.ProviderConfig) (*EinoClient, error) {
	if provCfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s: %w", provider, ErrNotConfigured)
	}
	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case ProviderOpenAI:
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case ProviderGemini:
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  provCfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if cerr != nil {
			return nil, fmt.Errorf("create gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case ProviderClaude:
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return NewEinoClientWithModel(provider, provCfg.Model, chatModel), nil
}

// NewEinoClientWithModel wraps an existing chat model.
func NewEinoClientWithModel(provider, modelName string, chatModel model.BaseChatModel) *EinoClient {
	return &EinoClient{provider: provider, model: modelName, chatModel: chatModel}
}

// Complete runs the history through the chat model. Prompt-only requests are sent
// as a single user message.
func (c *EinoClient) Complete(ctx context.Context, req *Request) (*Result, error) {
	if req == nil {
		return nil, &UpstreamError{Status: 400, Message: "request required"}
	}
	input := convertMessages(req.Messages)
	if len(input) == 0 && req.Prompt != "" {
		input = append(input, schema.UserMessage(req.Prompt))
	}

	modelName := req.Model
	if modelName == "" {
		modelName = c.model
	}
	opts := []model.Option{}
	if modelName != "" {
		opts = append(opts, model.WithModel(modelName))
	}
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(float32(*req.Temperature)))
	}
	if req.MaxTokens != nil {
		opts = append(opts, model.WithMaxTokens(*req.MaxTokens))
	}
	if req.TopP != nil {
		opts = append(opts, model.WithTopP(float32(*req.TopP)))
	}

	out, err := c.chatModel.Generate(ctx, input, opts...)
	if err != nil {
		return nil, &UpstreamError{Message: err.Error(), Err: err}
	}
	data, err := json.Marshal(openAIShape(modelName, out))
	if err != nil {
		return nil, fmt.Errorf("encode %s response: %w", c.provider, err)
	}
	return &Result{Data: data, PathUsed: "eino:" + c.provider}, nil
}

func convertMessages(history []models.Message) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	return messages
}

type chatCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
}

type chatChoice struct {
	Index        int            `json:"index"`
	Message      models.Message `json:"message"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func openAIShape(modelName string, out *schema.Message) chatCompletion {
	resp := chatCompletion{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   modelName,
		Choices: []chatChoice{},
	}
	if out == nil {
		return resp
	}
	choice := chatChoice{Message: models.Message{Role: models.RoleAssistant, Content: out.Content}}
	if out.ResponseMeta != nil {
		choice.FinishReason = out.ResponseMeta.FinishReason
		if u := out.ResponseMeta.Usage; u != nil {
			resp.Usage = &chatUsage{
				PromptTokens:     u.PromptTokens,
				CompletionTokens: u.CompletionTokens,
				TotalTokens:      u.TotalTokens,
			}
		}
	}
	resp.Choices = append(resp.Choices, choice)
	return resp
}
