// Package answer composes grounded, cited answers from retrieved chunks and
// the recent conversation.
//
// A question costs at most one successful chat call. When retrieval finds
// nothing the composer answers InsufficientContext without calling the model,
// and every citation it returns is one of the retrieved chunks.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lexrag/internal/chat"
	"github.com/fyrsmithlabs/lexrag/internal/model"
	"github.com/fyrsmithlabs/lexrag/internal/retrieve"
	"github.com/fyrsmithlabs/lexrag/internal/vectorindex"
)

const instrumentationName = "github.com/fyrsmithlabs/lexrag/internal/answer"

// InsufficientContext is the answer given when nothing relevant was retrieved.
const InsufficientContext = "I couldn't find any relevant information in this client's documents or emails to answer that question. " +
	"Try rephrasing it, or add the documents or emails that cover it."

// DefaultSystemPrompt frames the model as an assistant to lawyers.
const DefaultSystemPrompt = `You are a helpful AI assistant for lawyers working with legal documents and email communications.

Your role is to:
1. Analyze legal documents and email threads accurately
2. Provide clear, professional responses about legal matters
3. Extract key information from contracts, agreements, and correspondence
4. Help lawyers understand complex legal relationships and requirements

Guidelines:
- Be precise and factual in your responses
- Reference specific documents or emails when providing information
- Use professional legal language when appropriate
- If you're unsure about something, clearly state that
- Focus on the most relevant information for the lawyer's query
- When discussing legal matters, remind users to verify important details

You have access to the client's documents and email communications. Use this context to provide accurate, helpful responses.`

// Defaults for Config.
const (
	DefaultTopK            = 5
	DefaultMaxHistoryTurns = 6
	DefaultTemperature     = 0.3
	DefaultMaxTokens       = 1000
	DefaultTopP            = 0.9
)

// Retriever finds the chunks relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, clientID, query string, topK int, filter *vectorindex.Filter) ([]retrieve.Result, error)
}

// TurnAppender records answered turns.
type TurnAppender interface {
	AppendTurn(ctx context.Context, t model.Turn) error
}

// Config configures a Composer.
type Config struct {
	TopK            int     `koanf:"top_k"`
	MaxHistoryTurns int     `koanf:"max_history_turns"`
	Temperature     float64 `koanf:"temperature"`
	MaxTokens       int     `koanf:"max_tokens"`
	TopP            float64 `koanf:"top_p"`
	SystemPrompt    string  `koanf:"system_prompt"`
}

// DefaultConfig returns the default composer settings.
func DefaultConfig() Config {
	return Config{
		TopK:            DefaultTopK,
		MaxHistoryTurns: DefaultMaxHistoryTurns,
		Temperature:     DefaultTemperature,
		MaxTokens:       DefaultMaxTokens,
		TopP:            DefaultTopP,
		SystemPrompt:    DefaultSystemPrompt,
	}
}

// applyDefaults turns the zero Config into DefaultConfig and fills only the
// fields without a meaningful zero. MaxHistoryTurns 0 sends no history and
// Temperature 0 is greedy decoding.
func (c *Config) applyDefaults() {
	if *c == (Config{}) {
		*c = DefaultConfig()
		return
	}
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.MaxHistoryTurns < 0 {
		c.MaxHistoryTurns = 0
	}
	if c.Temperature < 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.TopP <= 0 {
		c.TopP = DefaultTopP
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
}

// Answer is a composed answer.
type Answer struct {
	TurnID       string           `json:"turn_id"`
	Text         string           `json:"answer_text"`
	Citations    []model.Citation `json:"citations"`
	TokensUsed   int              `json:"tokens_used"`
	ResponseTime time.Duration    `json:"-"`
	ContextUsed  int              `json:"context_used"`
	FollowUps    []string         `json:"follow_up_questions"`
}

// Composer answers questions. It is safe for concurrent use.
type Composer struct {
	retriever Retriever
	chat      chat.Completer
	turns     TurnAppender
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Composer. completer is normally a *chat.Client.
func New(retriever Retriever, completer chat.Completer, turns TurnAppender, cfg Config, logger *zap.Logger) (*Composer, error) {
	if retriever == nil || completer == nil || turns == nil {
		return nil, errors.New("answer: retriever, completer and turns are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Composer{
		retriever: retriever,
		chat:      completer,
		turns:     turns,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// MaxHistoryTurns returns how many prior turns are put in the prompt.
func (c *Composer) MaxHistoryTurns() int {
	return c.cfg.MaxHistoryTurns
}

// Answer answers question for clientID given the prior turns, oldest first,
// and appends the new turn. A failed chat call appends nothing.
func (c *Composer) Answer(ctx context.Context, clientID, question string, history []model.Turn) (Answer, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "answer.Answer")
	defer span.End()
	span.SetAttributes(attribute.String("client.id", clientID), attribute.Int("history", len(history)))

	ans, err := c.answer(ctx, clientID, question, history)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Answer{}, err
	}
	span.SetAttributes(
		attribute.Int("context_used", ans.ContextUsed),
		attribute.Int("tokens_used", ans.TokensUsed))
	return ans, nil
}

func (c *Composer) answer(ctx context.Context, clientID, question string, history []model.Turn) (Answer, error) {
	start := c.now()
	if strings.TrimSpace(question) == "" {
		return Answer{}, model.ErrEmptyQuestion
	}

	results, err := c.retriever.Retrieve(ctx, clientID, question, c.cfg.TopK, nil)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieving context: %w", err)
	}

	ans := Answer{Citations: []model.Citation{}, ContextUsed: len(results), FollowUps: FollowUps(question)}
	if len(results) == 0 {
		ans.Text = InsufficientContext
	} else {
		resp, err := c.chat.Complete(ctx, chat.Request{
			Messages:    c.Messages(question, history, results),
			Temperature: c.cfg.Temperature,
			MaxTokens:   c.cfg.MaxTokens,
			TopP:        c.cfg.TopP,
		})
		if err != nil {
			c.logger.Warn("chat completion failed",
				zap.String("client.id", clientID),
				zap.Int("context_used", len(results)),
				zap.Error(err))
			if !errors.Is(err, model.ErrChatUnavailable) {
				err = fmt.Errorf("%w: %w", model.ErrChatUnavailable, err)
			}
			return Answer{}, err
		}
		ans.Text = strings.TrimSpace(resp.Content)
		ans.TokensUsed = resp.TokensUsed
		ans.Citations = Citations(results)
	}
	ans.ResponseTime = c.now().Sub(start)

	turn := model.Turn{
		ID:           uuid.NewString(),
		ClientID:     clientID,
		Question:     question,
		Answer:       ans.Text,
		Citations:    ans.Citations,
		TokensUsed:   ans.TokensUsed,
		ResponseTime: ans.ResponseTime,
		CreatedAt:    c.now().UTC(),
	}
	if err := c.turns.AppendTurn(ctx, turn); err != nil {
		return Answer{}, fmt.Errorf("recording turn: %w", err)
	}
	ans.TurnID = turn.ID

	c.logger.Info("answered question",
		zap.String("client.id", clientID),
		zap.String("turn.id", turn.ID),
		zap.Int("context_used", ans.ContextUsed),
		zap.Int("citations", len(ans.Citations)),
		zap.Int("tokens_used", ans.TokensUsed),
		zap.Duration("response_time", ans.ResponseTime))
	return ans, nil
}

// Messages builds the chat prompt: the system prompt, the last
// MaxHistoryTurns turns as user/assistant pairs, then the context block and
// question.
func (c *Composer) Messages(question string, history []model.Turn, results []retrieve.Result) []chat.Message {
	if len(history) > c.cfg.MaxHistoryTurns {
		history = history[len(history)-c.cfg.MaxHistoryTurns:]
	}
	msgs := make([]chat.Message, 0, 2+2*len(history))
	msgs = append(msgs, chat.Message{Role: chat.RoleSystem, Content: c.cfg.SystemPrompt})
	for _, t := range history {
		msgs = append(msgs,
			chat.Message{Role: chat.RoleUser, Content: t.Question},
			chat.Message{Role: chat.RoleAssistant, Content: t.Answer})
	}
	msgs = append(msgs, chat.Message{Role: chat.RoleUser, Content: userMessage(question, results)})
	return msgs
}

func userMessage(question string, results []retrieve.Result) string {
	return "Context from documents and emails:\n" + ContextBlock(results) +
		"\n\nQuestion: " + question +
		"\n\nPlease provide a helpful response based on the available context."
}

// ContextBlock renders results as numbered, labeled passages.
func ContextBlock(results []retrieve.Result) string {
	if len(results) == 0 {
		return "No relevant context found."
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[%d] %s (Relevance: %.2f)\n%s\n", i+1, label(r), r.Score, r.Chunk.Text)
	}
	return strings.Join(parts, "\n")
}

func label(r retrieve.Result) string {
	switch r.SourceType {
	case model.SourceEmail:
		subject := orDefault(r.Title, "Unknown Subject")
		return "Email: " + subject + " from " + orDefault(r.Sender, "Unknown")
	case model.SourceDocument:
		return "Document: " + orDefault(r.Title, "Unknown")
	default:
		return "Source: " + string(r.SourceType)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Citations cites every retrieved chunk, in retrieval order.
func Citations(results []retrieve.Result) []model.Citation {
	out := make([]model.Citation, len(results))
	for i, r := range results {
		out[i] = model.Citation{
			ChunkID:    r.Chunk.ID,
			SourceID:   r.Chunk.SourceID,
			SourceType: r.SourceType,
			Title:      r.Title,
			Sender:     r.Sender,
			ChunkIndex: r.Chunk.Index,
			Score:      r.Score,
			Preview:    model.Preview(r.Chunk.Text),
		}
	}
	return out
}
