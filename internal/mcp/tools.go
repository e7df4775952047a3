package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lexrag/internal/ingest"
	"github.com/fyrsmithlabs/lexrag/internal/logging"
	"github.com/fyrsmithlabs/lexrag/internal/model"
	"github.com/fyrsmithlabs/lexrag/internal/vectorindex"
)

var errInvalidArgument = errors.New("invalid argument")

// handle wraps a tool body with metrics, logging and the client ID in ctx.
// The body returns the structured output and a one-line text summary.
func handle[In, Out any](s *Server, name string, clientID func(In) string, body func(context.Context, In) (Out, string, error)) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, name)
		ctx = logging.WithClientID(ctx, clientID(args))

		out, text, err := body(ctx, args)
		s.metrics.DecrementActive(ctx, name)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), err)
		if err != nil {
			s.logger.Warn("tool failed",
				zap.String("tool", name),
				zap.String("client.id", clientID(args)),
				zap.String("reason", categorizeError(err)),
				zap.Error(err))
			var zero Out
			return nil, zero, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, out, nil
	}
}

// ===== RAG_ASK =====

type askInput struct {
	ClientID string `json:"client_id" jsonschema:"Client whose documents and emails are searched"`
	Question string `json:"question" jsonschema:"Natural-language question"`
}

type askOutput struct {
	TurnID         string           `json:"turn_id" jsonschema:"Conversation turn ID"`
	Answer         string           `json:"answer_text" jsonschema:"Answer grounded in the cited sources"`
	Citations      []model.Citation `json:"citations" jsonschema:"Chunks the answer was composed from"`
	TokensUsed     int              `json:"tokens_used" jsonschema:"Model tokens consumed"`
	ResponseTimeMS int64            `json:"response_time_ms" jsonschema:"End-to-end latency in milliseconds"`
	ContextUsed    int              `json:"context_used" jsonschema:"Number of chunks given to the model"`
}

// ===== RAG_SEARCH =====

type searchInput struct {
	ClientID   string `json:"client_id" jsonschema:"Client to search"`
	Query      string `json:"query" jsonschema:"Search text"`
	TopK       int    `json:"top_k,omitempty" jsonschema:"Maximum results (default: 5)"`
	SourceType string `json:"source_type,omitempty" jsonschema:"Restrict to document or email"`
}

type searchHit struct {
	ChunkID    string           `json:"chunk_id"`
	SourceID   string           `json:"source_id"`
	SourceType model.SourceType `json:"source_type"`
	Title      string           `json:"title"`
	Score      float32          `json:"relevance_score"`
	Text       string           `json:"text"`
}

type searchOutput struct {
	Results []searchHit `json:"results" jsonschema:"Chunks ranked by relevance, best first"`
	Count   int         `json:"count" jsonschema:"Number of results"`
}

// ===== RAG_INGEST =====

type ingestInput struct {
	ClientID     string   `json:"client_id" jsonschema:"Client that owns the source"`
	SourceID     string   `json:"source_id" jsonschema:"Stable ID of the document or email"`
	SourceType   string   `json:"source_type" jsonschema:"document or email"`
	Text         string   `json:"text" jsonschema:"Plain text body"`
	Title        string   `json:"title,omitempty" jsonschema:"Title or email subject"`
	Sender       string   `json:"sender,omitempty" jsonschema:"Email sender"`
	Participants []string `json:"participants,omitempty" jsonschema:"Email participants"`
	Timestamp    string   `json:"timestamp,omitempty" jsonschema:"RFC 3339 timestamp (default: now)"`
	Reindex      bool     `json:"reindex,omitempty" jsonschema:"Replace the chunks of an already ingested source"`
}

type ingestOutput struct {
	SourceID string `json:"source_id"`
	Status   string `json:"status" jsonschema:"succeeded or skipped"`
	Chunks   int    `json:"chunks" jsonschema:"Chunks written"`
}

// ===== RAG_HISTORY =====

type historyInput struct {
	ClientID string `json:"client_id" jsonschema:"Client whose conversation is returned"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Most recent turns to return (default: all)"`
}

type historyTurn struct {
	ID        string `json:"id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Citations int    `json:"citations"`
	CreatedAt string `json:"created_at" jsonschema:"RFC 3339 timestamp"`
}

type historyOutput struct {
	Turns []historyTurn `json:"turns" jsonschema:"Turns oldest first"`
	Count int           `json:"count"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_ask",
		Description: "Answer a question using only the client's ingested documents and emails, with citations",
	}, handle(s, "rag_ask", func(in askInput) string { return in.ClientID }, s.ask))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_search",
		Description: "Search a client's documents and emails and return ranked chunks without generating an answer",
	}, handle(s, "rag_search", func(in searchInput) string { return in.ClientID }, s.search))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_ingest",
		Description: "Chunk, embed and index one document or email for a client",
	}, handle(s, "rag_ingest", func(in ingestInput) string { return in.ClientID }, s.ingest))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_history",
		Description: "Return the client's conversation history, oldest first",
	}, handle(s, "rag_history", func(in historyInput) string { return in.ClientID }, s.history))
}

func (s *Server) ask(ctx context.Context, in askInput) (askOutput, string, error) {
	a, err := s.svc.Ask(ctx, in.ClientID, in.Question)
	if err != nil {
		return askOutput{}, "", err
	}
	citations := a.Citations
	if citations == nil {
		citations = []model.Citation{}
	}
	return askOutput{
		TurnID:         a.TurnID,
		Answer:         a.Text,
		Citations:      citations,
		TokensUsed:     a.TokensUsed,
		ResponseTimeMS: a.ResponseTime.Milliseconds(),
		ContextUsed:    a.ContextUsed,
	}, a.Text, nil
}

func (s *Server) search(ctx context.Context, in searchInput) (searchOutput, string, error) {
	if strings.TrimSpace(in.Query) == "" {
		return searchOutput{}, "", fmt.Errorf("%w: query is required", errInvalidArgument)
	}
	if in.TopK < 0 {
		return searchOutput{}, "", fmt.Errorf("%w: top_k must not be negative", errInvalidArgument)
	}
	st, err := model.ParseSourceType(in.SourceType)
	if err != nil {
		return searchOutput{}, "", fmt.Errorf("%w: %v", errInvalidArgument, err)
	}
	var filter *vectorindex.Filter
	if st != "" {
		filter = &vectorindex.Filter{SourceType: st}
	}

	results, err := s.svc.Search(ctx, in.ClientID, in.Query, in.TopK, filter)
	if err != nil {
		return searchOutput{}, "", err
	}
	out := searchOutput{Results: make([]searchHit, len(results)), Count: len(results)}
	var text strings.Builder
	fmt.Fprintf(&text, "%d results", len(results))
	for i, r := range results {
		out.Results[i] = searchHit{
			ChunkID:    r.Chunk.ID,
			SourceID:   r.Chunk.SourceID,
			SourceType: r.SourceType,
			Title:      r.Title,
			Score:      r.Score,
			Text:       r.Chunk.Text,
		}
		fmt.Fprintf(&text, "\n%d. [%s] %s (%.3f)", i+1, r.SourceType, r.Title, r.Score)
	}
	return out, text.String(), nil
}

func (s *Server) ingest(ctx context.Context, in ingestInput) (ingestOutput, string, error) {
	st, err := model.ParseSourceType(in.SourceType)
	if err != nil {
		return ingestOutput{}, "", fmt.Errorf("%w: %v", errInvalidArgument, err)
	}
	ts := time.Now().UTC()
	if in.Timestamp != "" {
		if ts, err = time.Parse(time.RFC3339, in.Timestamp); err != nil {
			return ingestOutput{}, "", fmt.Errorf("%w: timestamp: %v", errInvalidArgument, err)
		}
	}

	res, err := s.svc.Ingest(ctx, in.ClientID, model.SourceItem{
		SourceID:     in.SourceID,
		Type:         st,
		Title:        in.Title,
		Sender:       in.Sender,
		Participants: in.Participants,
		Timestamp:    ts,
		Text:         in.Text,
	}, ingest.Options{Reindex: in.Reindex})
	if err != nil {
		return ingestOutput{}, "", err
	}
	out := ingestOutput{SourceID: res.SourceID, Status: string(res.Status), Chunks: len(res.ChunkIDs)}
	return out, fmt.Sprintf("%s %s (%d chunks)", out.SourceID, out.Status, out.Chunks), nil
}

func (s *Server) history(ctx context.Context, in historyInput) (historyOutput, string, error) {
	if in.Limit < 0 {
		return historyOutput{}, "", fmt.Errorf("%w: limit must not be negative", errInvalidArgument)
	}
	turns, err := s.svc.History(ctx, in.ClientID, in.Limit)
	if err != nil {
		return historyOutput{}, "", err
	}
	out := historyOutput{Turns: make([]historyTurn, len(turns)), Count: len(turns)}
	var text strings.Builder
	fmt.Fprintf(&text, "%d turns", len(turns))
	for i, t := range turns {
		out.Turns[i] = historyTurn{
			ID:        t.ID,
			Question:  t.Question,
			Answer:    t.Answer,
			Citations: len(t.Citations),
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
		}
		fmt.Fprintf(&text, "\nQ: %s\nA: %s", t.Question, t.Answer)
	}
	return out, text.String(), nil
}
