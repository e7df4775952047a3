package answer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/lexrag/internal/chat"
	"github.com/fyrsmithlabs/lexrag/internal/model"
	"github.com/fyrsmithlabs/lexrag/internal/samples"
)

func TestSummarizeDocument(t *testing.T) {
	f := newFixture(t, 0, false)
	ctx := context.Background()

	rec := model.SourceRecord{
		ClientID: samples.ClientID,
		SourceID: "advisor.docx",
		Type:     model.SourceDocument,
		Title:    "Advisor Agreement",
		Text:     strings.Repeat("x", SummaryExcerpt+500),
	}
	s, err := f.composer.SummarizeDocument(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "John Smith was offered 15,000 RSAs.", s.Text)
	assert.Equal(t, 321, s.TokensUsed)
	assert.Equal(t, 1, s.SourcesUsed)

	require.Equal(t, 1, f.chat.calls())
	req := f.chat.requests[0]
	require.Len(t, req.Messages, 2)
	assert.Equal(t, documentSummaryPrompt, req.Messages[0].Content)
	assert.Contains(t, req.Messages[1].Content, `titled "Advisor Agreement"`)
	assert.Contains(t, req.Messages[1].Content, strings.Repeat("x", SummaryExcerpt)+"\n\nInclude:")
	assert.NotContains(t, req.Messages[1].Content, strings.Repeat("x", SummaryExcerpt+1))
	assert.Equal(t, SummaryMaxTokens, req.MaxTokens)
	assert.InDelta(t, DefaultTemperature, req.Temperature, 1e-9)

	turns, err := f.env.Store.ListTurns(ctx, samples.ClientID, 0)
	require.NoError(t, err)
	assert.Empty(t, turns, "summaries are not conversation turns")

	_, err = f.composer.SummarizeDocument(ctx, model.SourceRecord{SourceID: "empty"})
	assert.ErrorIs(t, err, model.ErrSourceNotFound)
}

func TestSummarizeThread(t *testing.T) {
	f := newFixture(t, 0, false)
	at := time.Date(2025, 7, 22, 9, 0, 0, 0, time.UTC)
	records := []model.SourceRecord{
		{
			ClientID:     samples.ClientID,
			Title:        "Advisor Equity Grant",
			Sender:       "alex@founderco.com",
			Participants: []string{"alex@founderco.com", "legal@lexsy.com"},
			Timestamp:    at,
			Text:         "Please draft the grant for John Smith.",
		},
		{
			ClientID:  samples.ClientID,
			Title:     "Re: Advisor Equity Grant",
			Sender:    "legal@lexsy.com",
			Timestamp: at.Add(time.Hour),
			Text:      "Recommend 15,000 RSAs.",
		},
	}
	s, err := f.composer.SummarizeThread(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 2, s.SourcesUsed)

	req := f.chat.requests[0]
	assert.Equal(t, threadSummaryPrompt, req.Messages[0].Content)
	user := req.Messages[1].Content
	assert.Contains(t, user, "From: alex@founderco.com\nTo: legal@lexsy.com\nDate: 2025-07-22 09:00 UTC\nSubject: Advisor Equity Grant\n\nPlease draft the grant for John Smith.\n\n---\n")
	assert.Contains(t, user, "From: legal@lexsy.com\nTo: Unknown\n")
	assert.Less(t, strings.Index(user, "Please draft"), strings.Index(user, "Recommend 15,000"))

	_, err = f.composer.SummarizeThread(context.Background(), nil)
	assert.ErrorIs(t, err, model.ErrThreadNotFound)
}

func TestSummarize_ChatUnavailable(t *testing.T) {
	f := newFixture(t, 10, false)
	_, err := f.composer.SummarizeDocument(context.Background(), model.SourceRecord{SourceID: "a", Text: "text"})
	assert.ErrorIs(t, err, model.ErrChatUnavailable)
}

func TestOverview(t *testing.T) {
	t.Run("seeded", func(t *testing.T) {
		f := newFixture(t, 0, true)
		s, err := f.composer.Overview(context.Background(), samples.ClientID, "Lexsy, Inc.")
		require.NoError(t, err)
		assert.Equal(t, "John Smith was offered 15,000 RSAs.", s.Text)
		assert.Positive(t, s.SourcesUsed)

		req := f.chat.requests[0]
		assert.Equal(t, chat.RoleSystem, req.Messages[0].Role)
		assert.Contains(t, req.Messages[len(req.Messages)-1].Content,
			"Question: Please provide a brief overview of the key legal matters, important documents, and current status for Lexsy, Inc.")

		turns, err := f.env.Store.ListTurns(context.Background(), samples.ClientID, 0)
		require.NoError(t, err)
		assert.Empty(t, turns)
	})

	t.Run("empty corpus", func(t *testing.T) {
		f := newFixture(t, 0, false)
		s, err := f.composer.Overview(context.Background(), samples.ClientID, "Lexsy, Inc.")
		require.NoError(t, err)
		assert.Equal(t, InsufficientContext, s.Text)
		assert.Zero(t, f.chat.calls())
	})
}

func TestSuggestions(t *testing.T) {
	tests := []struct {
		name  string
		stats model.ClientStats
		extra []string
		want  []string
	}{
		{name: "empty", want: []string{}},
		{name: "documents", stats: model.ClientStats{Documents: 2}, want: documentQuestions},
		{name: "emails", stats: model.ClientStats{Emails: 1}, want: emailQuestions},
		{
			name:  "capped",
			stats: model.ClientStats{Documents: 1, Emails: 1},
			extra: []string{"What board approvals are required?"},
			want:  append(append([]string{}, documentQuestions...), emailQuestions...),
		},
		{
			name:  "extra",
			stats: model.ClientStats{Emails: 1},
			extra: []string{"What board approvals are required?"},
			want:  append(append([]string{}, emailQuestions...), "What board approvals are required?"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Suggestions(tt.stats, tt.extra))
		})
	}
}

func TestFollowUps(t *testing.T) {
	tests := []struct {
		question string
		first    string
		n        int
	}{
		{question: "What Stock did we grant?", first: "What are the vesting requirements for this equity grant?", n: 3},
		{question: "Summarize the consulting contract", first: "What are the key terms and conditions?", n: 3},
		{question: "Does the board need to sign?", first: "What board approvals are required?", n: 3},
		{question: "Equity under the agreement?", first: "What are the vesting requirements for this equity grant?", n: 3},
		{question: "Who is the CEO?", n: 0},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			got := FollowUps(tt.question)
			require.Len(t, got, tt.n)
			if tt.n > 0 {
				assert.Equal(t, tt.first, got[0])
			}
		})
	}
}
