package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/fyrsmithlabs/lexrag/internal/model"
)

// DefaultOpenAIModel is the chat model used when none is configured.
const DefaultOpenAIModel = "gpt-4"

// LLMCompleter adapts a langchaingo model.
type LLMCompleter struct {
	llm llms.Model
}

// NewLLMCompleter wraps any langchaingo model.
func NewLLMCompleter(llm llms.Model) *LLMCompleter {
	return &LLMCompleter{llm: llm}
}

// NewOpenAICompleter creates a completer for an OpenAI-compatible endpoint.
// An empty baseURL targets api.openai.com.
func NewOpenAICompleter(baseURL, modelName, apiKey string) (*LLMCompleter, error) {
	if modelName == "" {
		modelName = DefaultOpenAIModel
	}
	if apiKey == "" {
		if baseURL == "" {
			return nil, fmt.Errorf("%w: api key required for the OpenAI API", ErrInvalidConfig)
		}
		apiKey = "placeholder"
	}

	opts := []openai.Option{
		openai.WithModel(modelName),
		openai.WithToken(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return NewLLMCompleter(llm), nil
}

func (c *LLMCompleter) Complete(ctx context.Context, req Request) (Response, error) {
	msgs := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, llms.TextParts(messageType(m.Role), m.Content))
	}

	// Temperature 0 is sent as given.
	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.TopP > 0 {
		opts = append(opts, llms.WithTopP(req.TopP))
	}

	resp, err := c.llm.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return Response{}, classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("%w: empty response", model.ErrChatUnavailable)
	}

	choice := resp.Choices[0]
	return Response{
		Content:    choice.Content,
		TokensUsed: totalTokens(choice.GenerationInfo),
	}, nil
}

func messageType(r Role) schema.ChatMessageType {
	switch r {
	case RoleSystem:
		return schema.ChatMessageTypeSystem
	case RoleAssistant:
		return schema.ChatMessageTypeAI
	default:
		return schema.ChatMessageTypeHuman
	}
}

func totalTokens(info map[string]any) int {
	switch v := info["TotalTokens"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func classifyAPIError(err error) error {
	wrapped := fmt.Errorf("%w: %w", model.ErrChatUnavailable, err)
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"401", "403", "404", "invalid_api_key", "invalid_request_error", "context_length_exceeded"} {
		if strings.Contains(msg, marker) {
			return model.Permanent(wrapped)
		}
	}
	return wrapped
}
