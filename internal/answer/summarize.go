package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lexrag/internal/chat"
	"github.com/fyrsmithlabs/lexrag/internal/model"
)

// Summary limits.
const (
	SummaryExcerpt   = 4000 // runes of source text sent to the model
	SummaryMaxTokens = 500
)

const (
	documentSummaryPrompt = "You are a legal document analysis assistant. Provide clear, concise summaries of legal documents, " +
		"highlighting key terms, parties, dates, and important provisions."
	threadSummaryPrompt = "You are a legal communication analysis assistant. Summarize email threads focusing on key decisions, " +
		"action items, legal requirements, and important deadlines."
)

// Summary is a one-shot summary. Summaries are not part of the conversation.
type Summary struct {
	Text        string `json:"summary"`
	TokensUsed  int    `json:"tokens_used"`
	SourcesUsed int    `json:"sources_used"`
}

// SummarizeDocument summarizes the stored text of one source.
func (c *Composer) SummarizeDocument(ctx context.Context, rec model.SourceRecord) (Summary, error) {
	if strings.TrimSpace(rec.Text) == "" {
		return Summary{}, fmt.Errorf("%w: source %s has no stored text", model.ErrSourceNotFound, rec.SourceID)
	}
	user := fmt.Sprintf("Please provide a summary of this legal document titled %q:\n\n%s\n\n"+
		"Include:\n1. Document type and purpose\n2. Key parties involved\n3. Important dates\n"+
		"4. Main terms and provisions\n5. Any notable requirements or obligations\n\n"+
		"Keep the summary professional and concise.", rec.Title, excerpt(rec.Text))
	return c.summarize(ctx, "answer.SummarizeDocument", rec.ClientID, documentSummaryPrompt, user, 1)
}

// SummarizeThread summarizes email records in the order given.
func (c *Composer) SummarizeThread(ctx context.Context, records []model.SourceRecord) (Summary, error) {
	if len(records) == 0 {
		return Summary{}, model.ErrThreadNotFound
	}
	var b strings.Builder
	for _, r := range records {
		to := "Unknown"
		if others := without(r.Participants, r.Sender); len(others) > 0 {
			to = strings.Join(others, ", ")
		}
		date := "Unknown"
		if !r.Timestamp.IsZero() {
			date = r.Timestamp.UTC().Format("2006-01-02 15:04 MST")
		}
		fmt.Fprintf(&b, "From: %s\nTo: %s\nDate: %s\nSubject: %s\n\n%s\n\n---\n",
			orDefault(r.Sender, "Unknown"), to, date, orDefault(r.Title, "Unknown"), r.Text)
	}
	user := "Please provide a summary of this email thread:\n\n" + excerpt(b.String()) + "\n\n" +
		"Include:\n1. Main topic and purpose of the communication\n2. Key decisions made\n" +
		"3. Action items and responsibilities\n4. Important deadlines or dates\n" +
		"5. Legal or business requirements discussed\n\n" +
		"Keep the summary professional and focused on actionable information."
	return c.summarize(ctx, "answer.SummarizeThread", records[0].ClientID, threadSummaryPrompt, user, len(records))
}

// Overview answers a fixed overview question from the client's corpus
// without recording a turn. An empty corpus yields InsufficientContext.
func (c *Composer) Overview(ctx context.Context, clientID, clientName string) (Summary, error) {
	question := fmt.Sprintf("Please provide a brief overview of the key legal matters, important documents, and current status for %s.", clientName)
	results, err := c.retriever.Retrieve(ctx, clientID, question, c.cfg.TopK, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("retrieving context: %w", err)
	}
	if len(results) == 0 {
		return Summary{Text: InsufficientContext}, nil
	}
	msgs := c.Messages(question, nil, results)
	s, err := c.complete(ctx, "answer.Overview", clientID, msgs, c.cfg.MaxTokens)
	s.SourcesUsed = len(results)
	return s, err
}

func (c *Composer) summarize(ctx context.Context, op, clientID, system, user string, sources int) (Summary, error) {
	s, err := c.complete(ctx, op, clientID, []chat.Message{
		{Role: chat.RoleSystem, Content: system},
		{Role: chat.RoleUser, Content: user},
	}, SummaryMaxTokens)
	s.SourcesUsed = sources
	return s, err
}

// complete makes the single chat call of a summary.
func (c *Composer) complete(ctx context.Context, op, clientID string, msgs []chat.Message, maxTokens int) (Summary, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("client.id", clientID))

	resp, err := c.chat.Complete(ctx, chat.Request{
		Messages:    msgs,
		Temperature: c.cfg.Temperature,
		MaxTokens:   maxTokens,
		TopP:        c.cfg.TopP,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("summary completion failed", zap.String("client.id", clientID), zap.String("op", op), zap.Error(err))
		if !errors.Is(err, model.ErrChatUnavailable) {
			err = fmt.Errorf("%w: %w", model.ErrChatUnavailable, err)
		}
		return Summary{}, err
	}
	span.SetAttributes(attribute.Int("tokens_used", resp.TokensUsed))
	return Summary{Text: strings.TrimSpace(resp.Content), TokensUsed: resp.TokensUsed}, nil
}

func excerpt(text string) string {
	r := []rune(text)
	if len(r) <= SummaryExcerpt {
		return text
	}
	return string(r[:SummaryExcerpt])
}

func without(list []string, drop string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}
