package assistant

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lexrag/internal/answer"
	"github.com/fyrsmithlabs/lexrag/internal/model"
	"github.com/fyrsmithlabs/lexrag/internal/samples"
)

// Overview is the quick summary of a client.
type Overview struct {
	ClientID    string            `json:"client_id"`
	Stats       model.ClientStats `json:"stats"`
	Summary     string            `json:"summary"`
	SourcesUsed int               `json:"sources_used"`
	TokensUsed  int               `json:"tokens_used"`
	LastUpdated time.Time         `json:"last_updated"`
}

// DocumentSummary is the summary of one source.
type DocumentSummary struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title"`
	answer.Summary
}

// ThreadSummary is the summary of one email thread.
type ThreadSummary struct {
	Thread model.Thread `json:"thread"`
	answer.Summary
}

// ContentAvailable counts the sources behind suggestions.
type ContentAvailable struct {
	Documents int `json:"documents"`
	Emails    int `json:"emails"`
}

// Suggestions are starter questions for a client.
type Suggestions struct {
	ClientID         string           `json:"client_id"`
	Suggestions      []string         `json:"suggestions"`
	ContentAvailable ContentAvailable `json:"content_available"`
}

// SourceText returns the record of one source including its stored text.
func (s *Service) SourceText(ctx context.Context, clientID, sourceID string) (model.SourceRecord, error) {
	if err := s.requireClient(ctx, clientID); err != nil {
		return model.SourceRecord{}, err
	}
	return s.Store.GetSource(ctx, clientID, sourceID)
}

// Threads groups the client's emails into threads, latest first.
func (s *Service) Threads(ctx context.Context, clientID string) ([]model.Thread, error) {
	if err := s.requireClient(ctx, clientID); err != nil {
		return nil, err
	}
	records, err := s.Store.ListSources(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return model.ThreadsFromRecords(records), nil
}

// SummarizeSource summarizes one ingested source.
func (s *Service) SummarizeSource(ctx context.Context, clientID, sourceID string) (DocumentSummary, error) {
	defer s.locks.shared(clientID)()
	if err := s.requireClient(ctx, clientID); err != nil {
		return DocumentSummary{}, err
	}
	rec, err := s.Store.GetSource(ctx, clientID, sourceID)
	if err != nil {
		return DocumentSummary{}, err
	}
	sum, err := s.Composer.SummarizeDocument(ctx, rec)
	if err != nil {
		return DocumentSummary{}, err
	}
	s.logger.Info("source summarized",
		zap.String("client.id", clientID),
		zap.String("source.id", sourceID),
		zap.Int("tokens_used", sum.TokensUsed))
	return DocumentSummary{SourceID: rec.SourceID, Title: rec.Title, Summary: sum}, nil
}

// SummarizeThread summarizes the messages of one email thread in date order.
func (s *Service) SummarizeThread(ctx context.Context, clientID, threadID string) (ThreadSummary, error) {
	defer s.locks.shared(clientID)()
	if err := s.requireClient(ctx, clientID); err != nil {
		return ThreadSummary{}, err
	}
	records, err := s.Store.ListSources(ctx, clientID)
	if err != nil {
		return ThreadSummary{}, err
	}
	byID := make(map[string]model.SourceRecord, len(records))
	for _, r := range records {
		byID[r.SourceID] = r
	}
	for _, th := range model.ThreadsFromRecords(records) {
		if th.ThreadID != threadID {
			continue
		}
		msgs := make([]model.SourceRecord, 0, len(th.SourceIDs))
		for _, id := range th.SourceIDs {
			msgs = append(msgs, byID[id])
		}
		sum, err := s.Composer.SummarizeThread(ctx, msgs)
		if err != nil {
			return ThreadSummary{}, err
		}
		s.logger.Info("thread summarized",
			zap.String("client.id", clientID),
			zap.String("thread.id", threadID),
			zap.Int("messages", len(msgs)))
		return ThreadSummary{Thread: th, Summary: sum}, nil
	}
	return ThreadSummary{}, fmt.Errorf("%w: %s", model.ErrThreadNotFound, threadID)
}

// QuickSummary gives an overview of the client's matters from its corpus.
// It is not recorded in the conversation.
func (s *Service) QuickSummary(ctx context.Context, clientID string) (Overview, error) {
	defer s.locks.shared(clientID)()
	c, err := s.Store.GetClient(ctx, clientID)
	if err != nil {
		return Overview{}, err
	}
	records, err := s.Store.ListSources(ctx, clientID)
	if err != nil {
		return Overview{}, err
	}
	sum, err := s.Composer.Overview(ctx, clientID, c.Name)
	if err != nil {
		return Overview{}, err
	}
	ov := Overview{
		ClientID:    clientID,
		Stats:       model.StatsFromRecords(clientID, records),
		Summary:     sum.Text,
		SourcesUsed: sum.SourcesUsed,
		TokensUsed:  sum.TokensUsed,
	}
	for _, r := range records {
		if r.IngestedAt.After(ov.LastUpdated) {
			ov.LastUpdated = r.IngestedAt
		}
	}
	return ov, nil
}

// Suggestions proposes questions for the client's content. The demo client
// also gets questions answerable from the samples.
func (s *Service) Suggestions(ctx context.Context, clientID string) (Suggestions, error) {
	stats, err := s.Stats(ctx, clientID)
	if err != nil {
		return Suggestions{}, err
	}
	var extra []string
	if clientID == samples.ClientID {
		extra = samples.Questions()
	}
	return Suggestions{
		ClientID:         clientID,
		Suggestions:      answer.Suggestions(stats, extra),
		ContentAvailable: ContentAvailable{Documents: stats.Documents, Emails: stats.Emails},
	}, nil
}
