// Package chat adapts chat-completion models for answer composition.
//
// A Completer produces one completion for a list of messages. Client wraps a
// Completer with a per-call timeout, rate limiting, a circuit breaker and the
// retry policy; failures surface as model.ErrChatUnavailable.
package chat

import (
	"context"
	"errors"
)

// ErrInvalidConfig is returned for unusable chat settings.
var ErrInvalidConfig = errors.New("invalid chat configuration")

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prompt message.
type Message struct {
	Role    Role
	Content string
}

// Request is a chat completion request.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// Response is a chat completion.
type Response struct {
	Content    string
	TokensUsed int
}

// Completer generates one completion per call.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
