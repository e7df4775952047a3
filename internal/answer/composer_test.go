package answer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/lexrag/internal/chat"
	"github.com/fyrsmithlabs/lexrag/internal/ingest"
	"github.com/fyrsmithlabs/lexrag/internal/model"
	"github.com/fyrsmithlabs/lexrag/internal/retrieve"
	"github.com/fyrsmithlabs/lexrag/internal/retry"
	"github.com/fyrsmithlabs/lexrag/internal/samples"
	"github.com/fyrsmithlabs/lexrag/internal/testkit"
)

// scriptedCompleter fails its first failures calls, then answers reply.
type scriptedCompleter struct {
	reply    string
	failures int

	mu       sync.Mutex
	requests []chat.Request
}

func (s *scriptedCompleter) Complete(ctx context.Context, req chat.Request) (chat.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.requests) <= s.failures {
		return chat.Response{}, fmt.Errorf("%w: upstream returned 502", model.ErrChatUnavailable)
	}
	return chat.Response{Content: s.reply, TokensUsed: 321}, nil
}

func (s *scriptedCompleter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type fixture struct {
	env      *testkit.Env
	composer *Composer
	chat     *scriptedCompleter
}

func newFixture(t *testing.T, failures int, seed bool) *fixture {
	t.Helper()
	ctx := context.Background()
	env := testkit.New(t)
	env.CreateClient(t, samples.ClientID)
	env.CreateClient(t, "techcorp")

	if seed {
		p, err := ingest.New(ingest.Deps{
			Chunker:  env.Chunker,
			Embedder: env.Embeddings,
			Indexes:  env.Indexes,
			Sources:  env.Store,
		}, ingest.Config{}, nil)
		require.NoError(t, err)
		thread := samples.EquityThread()[:5]
		require.Equal(t, 5, p.IngestBatch(ctx, samples.ClientID, thread, ingest.Options{}).Succeeded)
		other := []model.SourceItem{{
			SourceID: "employment.txt",
			Type:     model.SourceDocument,
			Title:    "employment.txt",
			Text:     "TechCorp grants John Smith an equity grant of 20,000 stock options under its employment agreement.",
		}}
		require.Equal(t, 1, p.IngestBatch(ctx, "techcorp", other, ingest.Options{}).Succeeded)
	}

	r, err := retrieve.New(env.Embeddings, env.Indexes, retrieve.Config{}, nil)
	require.NoError(t, err)

	completer := &scriptedCompleter{reply: "  John Smith was offered 15,000 RSAs.  ", failures: failures}
	client, err := chat.NewClient(completer, chat.Config{Retry: testkit.NoWait(retry.ChatDefault())}, nil)
	require.NoError(t, err)

	c, err := New(r, client, env.Store, Config{}, nil)
	require.NoError(t, err)
	return &fixture{env: env, composer: c, chat: completer}
}

func TestComposer_LexsyScenario(t *testing.T) {
	f := newFixture(t, 0, true)
	ctx := context.Background()

	ans, err := f.composer.Answer(ctx, samples.ClientID, "What equity grant was proposed for John Smith?", nil)
	require.NoError(t, err)
	assert.Equal(t, "John Smith was offered 15,000 RSAs.", ans.Text)
	assert.Equal(t, 321, ans.TokensUsed)
	assert.Equal(t, 1, f.chat.calls())
	require.NotEmpty(t, ans.Citations)
	assert.Equal(t, len(ans.Citations), ans.ContextUsed)

	for _, c := range ans.Citations {
		assert.Equal(t, model.SourceEmail, c.SourceType)
		assert.True(t, strings.HasPrefix(c.SourceID, samples.ThreadID), c.SourceID)
		assert.NotEqual(t, "employment.txt", c.SourceID)
		assert.LessOrEqual(t, len([]rune(c.Preview)), 203)
	}

	turns, err := f.env.Store.ListTurns(ctx, samples.ClientID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, ans.TurnID, turns[0].ID)
	assert.Equal(t, ans.Citations, turns[0].Citations)
	assert.Equal(t, "What equity grant was proposed for John Smith?", turns[0].Question)

	other, err := f.env.Store.ListTurns(ctx, "techcorp", 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestComposer_PromptShape(t *testing.T) {
	f := newFixture(t, 0, true)
	_, err := f.composer.Answer(context.Background(), samples.ClientID, "How many shares are in the EIP pool?", nil)
	require.NoError(t, err)

	req := f.chat.requests[0]
	require.Len(t, req.Messages, 2)
	assert.Equal(t, chat.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, DefaultSystemPrompt, req.Messages[0].Content)

	user := req.Messages[1].Content
	assert.True(t, strings.HasPrefix(user, "Context from documents and emails:\n[1] Email: "))
	assert.Contains(t, user, " from legal@lexsy.com (Relevance: ")
	assert.True(t, strings.HasSuffix(user,
		"\n\nQuestion: How many shares are in the EIP pool?\n\nPlease provide a helpful response based on the available context."))
	assert.InDelta(t, DefaultTemperature, req.Temperature, 1e-9)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	assert.InDelta(t, DefaultTopP, req.TopP, 1e-9)
}

func TestComposer_EmptyIndex(t *testing.T) {
	f := newFixture(t, 0, false)
	ctx := context.Background()

	ans, err := f.composer.Answer(ctx, samples.ClientID, "What equity grant was proposed for John Smith?", nil)
	require.NoError(t, err)
	assert.Equal(t, InsufficientContext, ans.Text)
	assert.Empty(t, ans.Citations)
	assert.NotNil(t, ans.Citations)
	assert.Zero(t, ans.ContextUsed)
	assert.Zero(t, f.chat.calls())

	turns, err := f.env.Store.ListTurns(ctx, samples.ClientID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, InsufficientContext, turns[0].Answer)
}

func TestComposer_RetriesFailedCallOnce(t *testing.T) {
	f := newFixture(t, 1, true)
	ans, err := f.composer.Answer(context.Background(), samples.ClientID, "What vesting schedule applies?", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, f.chat.calls())
	assert.NotEmpty(t, ans.Text)
}

func TestComposer_ChatUnavailable(t *testing.T) {
	f := newFixture(t, 10, true)
	ctx := context.Background()

	_, err := f.composer.Answer(ctx, samples.ClientID, "What vesting schedule applies?", nil)
	require.ErrorIs(t, err, model.ErrChatUnavailable)
	assert.Equal(t, 2, f.chat.calls())

	turns, err := f.env.Store.ListTurns(ctx, samples.ClientID, 0)
	require.NoError(t, err)
	assert.Empty(t, turns, "no turn is recorded for a failed answer")
}

func TestComposer_HistoryWindow(t *testing.T) {
	f := newFixture(t, 0, true)

	history := make([]model.Turn, 8)
	for i := range history {
		history[i] = model.Turn{Question: fmt.Sprintf("q%d", i), Answer: fmt.Sprintf("a%d", i)}
	}
	_, err := f.composer.Answer(context.Background(), samples.ClientID, "And the 83(b) deadline?", history)
	require.NoError(t, err)

	msgs := f.chat.requests[0].Messages
	require.Len(t, msgs, 1+2*DefaultMaxHistoryTurns+1)
	assert.Equal(t, chat.Message{Role: chat.RoleUser, Content: "q2"}, msgs[1])
	assert.Equal(t, chat.Message{Role: chat.RoleAssistant, Content: "a2"}, msgs[2])
	assert.Equal(t, chat.Message{Role: chat.RoleAssistant, Content: "a7"}, msgs[len(msgs)-2])
	assert.Equal(t, chat.RoleUser, msgs[len(msgs)-1].Role)
}

func TestComposer_EmptyQuestion(t *testing.T) {
	f := newFixture(t, 0, true)
	_, err := f.composer.Answer(context.Background(), samples.ClientID, " ", nil)
	assert.ErrorIs(t, err, model.ErrEmptyQuestion)
	assert.Zero(t, f.chat.calls())
}

func TestContextBlock(t *testing.T) {
	results := []retrieve.Result{
		{
			Chunk:      model.Chunk{Text: "The Plan reserves 1,000,000 shares."},
			Score:      0.876,
			SourceType: model.SourceDocument,
			Title:      "eip.pdf",
		},
		{
			Chunk:      model.Chunk{Text: "File the 83(b) within 30 days."},
			Score:      0.5,
			SourceType: model.SourceEmail,
			Title:      "Re: Advisor Equity Grant",
			Sender:     "legal@lexsy.com",
		},
		{
			Chunk:      model.Chunk{Text: "untitled"},
			Score:      0.1,
			SourceType: model.SourceEmail,
		},
	}
	want := "[1] Document: eip.pdf (Relevance: 0.88)\nThe Plan reserves 1,000,000 shares.\n" +
		"\n[2] Email: Re: Advisor Equity Grant from legal@lexsy.com (Relevance: 0.50)\nFile the 83(b) within 30 days.\n" +
		"\n[3] Email: Unknown Subject from Unknown (Relevance: 0.10)\nuntitled\n"
	assert.Equal(t, want, ContextBlock(results))
	assert.Equal(t, "No relevant context found.", ContextBlock(nil))
}

func TestCitations(t *testing.T) {
	long := strings.Repeat("a", 250)
	cites := Citations([]retrieve.Result{{
		Chunk:      model.Chunk{ID: "c-0001", SourceID: "s", Index: 1, Text: long},
		Score:      0.7,
		SourceType: model.SourceDocument,
		Title:      "s.txt",
	}})
	require.Len(t, cites, 1)
	assert.Equal(t, "c-0001", cites[0].ChunkID)
	assert.Equal(t, 1, cites[0].ChunkIndex)
	assert.Equal(t, strings.Repeat("a", 200)+"...", cites[0].Preview)
}

func TestComposer_ResponseTime(t *testing.T) {
	f := newFixture(t, 0, false)
	base := time.Date(2025, 7, 22, 9, 0, 0, 0, time.UTC)
	calls := 0
	f.composer.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * 250 * time.Millisecond)
	}
	ans, err := f.composer.Answer(context.Background(), samples.ClientID, "anything?", nil)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, ans.ResponseTime)
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(nil, nil, nil, Config{}, nil)
	assert.Error(t, err)
}

func TestComposer_ExplicitZeroConfig(t *testing.T) {
	f := newFixture(t, 0, true)
	c, err := New(f.composer.retriever, f.composer.chat, f.env.Store, Config{TopK: DefaultTopK}, nil)
	require.NoError(t, err)
	assert.Zero(t, c.MaxHistoryTurns())

	history := []model.Turn{{Question: "q0", Answer: "a0"}, {Question: "q1", Answer: "a1"}}
	_, err = c.Answer(context.Background(), samples.ClientID, "And the 83(b) deadline?", history)
	require.NoError(t, err)

	req := f.chat.requests[0]
	require.Len(t, req.Messages, 2, "no history with MaxHistoryTurns 0")
	assert.Zero(t, req.Temperature)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
}

func TestComposer_FollowUps(t *testing.T) {
	f := newFixture(t, 0, true)
	ans, err := f.composer.Answer(context.Background(), samples.ClientID, "What equity grant was proposed for John Smith?", nil)
	require.NoError(t, err)
	assert.Equal(t, FollowUps("equity"), ans.FollowUps)
	assert.Len(t, ans.FollowUps, MaxFollowUps)
}
