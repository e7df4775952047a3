// Package assistant is the entry point used by the HTTP API, the MCP tools
// and the inbox watcher. It checks that the client exists before touching
// any index, model or store and then delegates to the pipeline components.
//
// Operations that read or write a client's index hold the client's lock
// shared; deleting the client or resetting its index holds it exclusive, so
// no ingestion straddles a delete.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lexrag/internal/answer"
	"github.com/fyrsmithlabs/lexrag/internal/extraction"
	"github.com/fyrsmithlabs/lexrag/internal/ingest"
	"github.com/fyrsmithlabs/lexrag/internal/model"
	"github.com/fyrsmithlabs/lexrag/internal/retrieve"
	"github.com/fyrsmithlabs/lexrag/internal/samples"
	"github.com/fyrsmithlabs/lexrag/internal/sanitize"
	"github.com/fyrsmithlabs/lexrag/internal/storage"
	"github.com/fyrsmithlabs/lexrag/internal/vectorindex"
)

// Indexes opens and drops client indexes.
type Indexes interface {
	Open(ctx context.Context, clientID string) (vectorindex.Handle, error)
	Delete(ctx context.Context, clientID string) error
}

// Deps are the collaborators of a Service. Extractor may be nil, which
// disables IngestFile.
type Deps struct {
	Store     storage.Store
	Indexes   Indexes
	Pipeline  *ingest.Pipeline
	Retriever *retrieve.Retriever
	Composer  *answer.Composer
	Extractor extraction.Extractor
}

// Service implements every client-scoped operation.
type Service struct {
	Deps
	logger *zap.Logger
	locks  clientLocks
}

// New creates a Service.
func New(deps Deps, logger *zap.Logger) (*Service, error) {
	if deps.Store == nil || deps.Indexes == nil || deps.Pipeline == nil || deps.Retriever == nil || deps.Composer == nil {
		return nil, errors.New("assistant: store, indexes, pipeline, retriever and composer are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{Deps: deps, logger: logger}, nil
}

// CreateClient registers a client. An empty name defaults to the ID.
func (s *Service) CreateClient(ctx context.Context, id, name string) (model.Client, error) {
	if err := sanitize.ValidateClientID(id); err != nil {
		return model.Client{}, err
	}
	if strings.TrimSpace(name) == "" {
		name = id
	}
	defer s.locks.exclusive(id)()
	now := time.Now().UTC()
	c := model.Client{ID: id, Name: name, CreatedAt: now, UpdatedAt: now}
	if err := s.Store.CreateClient(ctx, c); err != nil {
		return model.Client{}, err
	}
	s.logger.Info("client created", zap.String("client.id", id))
	return c, nil
}

// GetClient returns the client with id.
func (s *Service) GetClient(ctx context.Context, id string) (model.Client, error) {
	return s.Store.GetClient(ctx, id)
}

// ListClients returns every client in creation order.
func (s *Service) ListClients(ctx context.Context) ([]model.Client, error) {
	return s.Store.ListClients(ctx)
}

// UpdateClient applies u to the client. A blank name is rejected.
func (s *Service) UpdateClient(ctx context.Context, id string, u model.ClientUpdate) (model.Client, error) {
	defer s.locks.shared(id)()
	c, err := s.Store.GetClient(ctx, id)
	if err != nil {
		return model.Client{}, err
	}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return model.Client{}, model.ErrEmptyName
		}
		c.Name = name
	}
	if u.Description != nil {
		c.Description = strings.TrimSpace(*u.Description)
	}
	c.UpdatedAt = time.Now().UTC()
	if err := s.Store.UpdateClient(ctx, c); err != nil {
		return model.Client{}, err
	}
	s.logger.Info("client updated", zap.String("client.id", id))
	return c, nil
}

// DeleteClient removes the client, its index, sources and conversation.
func (s *Service) DeleteClient(ctx context.Context, id string) error {
	defer s.locks.exclusive(id)()
	if err := s.requireClient(ctx, id); err != nil {
		return err
	}
	if err := s.Indexes.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting index: %w", err)
	}
	if err := s.Store.DeleteClient(ctx, id); err != nil {
		return err
	}
	s.logger.Info("client deleted", zap.String("client.id", id))
	return nil
}

// Ingest ingests one item.
func (s *Service) Ingest(ctx context.Context, clientID string, item model.SourceItem, opts ingest.Options) (ingest.Result, error) {
	defer s.locks.shared(clientID)()
	if err := s.requireClient(ctx, clientID); err != nil {
		return ingest.Result{}, err
	}
	return s.Pipeline.Ingest(ctx, clientID, item, opts)
}

// IngestBatch ingests items, reporting each one.
func (s *Service) IngestBatch(ctx context.Context, clientID string, items []model.SourceItem, opts ingest.Options) (ingest.Report, error) {
	defer s.locks.shared(clientID)()
	if err := s.requireClient(ctx, clientID); err != nil {
		return ingest.Report{}, err
	}
	return s.Pipeline.IngestBatch(ctx, clientID, items, opts), nil
}

// IngestFile extracts the file name read from src and ingests it.
func (s *Service) IngestFile(ctx context.Context, clientID, name string, src io.Reader, opts ingest.Options) (ingest.Result, error) {
	defer s.locks.shared(clientID)()
	if err := s.requireClient(ctx, clientID); err != nil {
		return ingest.Result{}, err
	}
	if s.Extractor == nil {
		return ingest.Result{}, errors.New("assistant: file extraction is not configured")
	}
	item, err := s.Extractor.Extract(ctx, name, src)
	if err != nil {
		res := ingest.Result{SourceID: name, Status: ingest.StatusFailed, Err: err, Error: err.Error()}
		return res, err
	}
	return s.Pipeline.Ingest(ctx, clientID, item, opts)
}

// Ask answers question from the client's corpus and recent conversation.
func (s *Service) Ask(ctx context.Context, clientID, question string) (answer.Answer, error) {
	defer s.locks.shared(clientID)()
	if err := s.requireClient(ctx, clientID); err != nil {
		return answer.Answer{}, err
	}
	if strings.TrimSpace(question) == "" {
		return answer.Answer{}, model.ErrEmptyQuestion
	}
	var history []model.Turn
	if n := s.Composer.MaxHistoryTurns(); n > 0 {
		var err error
		if history, err = s.Store.ListTurns(ctx, clientID, n); err != nil {
			return answer.Answer{}, fmt.Errorf("loading history: %w", err)
		}
	}
	return s.Composer.Answer(ctx, clientID, question, history)
}

// Search returns ranked chunks without generating an answer.
func (s *Service) Search(ctx context.Context, clientID, query string, topK int, filter *vectorindex.Filter) ([]retrieve.Result, error) {
	defer s.locks.shared(clientID)()
	if err := s.requireClient(ctx, clientID); err != nil {
		return nil, err
	}
	return s.Retriever.Retrieve(ctx, clientID, query, topK, filter)
}

// History returns the conversation oldest first; limit <= 0 returns all turns.
func (s *Service) History(ctx context.Context, clientID string, limit int) ([]model.Turn, error) {
	if err := s.requireClient(ctx, clientID); err != nil {
		return nil, err
	}
	turns, err := s.Store.ListTurns(ctx, clientID, limit)
	if err != nil {
		return nil, err
	}
	if turns == nil {
		turns = []model.Turn{}
	}
	return turns, nil
}

// ClearHistory removes every turn and returns how many were removed.
func (s *Service) ClearHistory(ctx context.Context, clientID string) (int, error) {
	if err := s.requireClient(ctx, clientID); err != nil {
		return 0, err
	}
	return s.Store.DeleteTurns(ctx, clientID)
}

// DeleteTurn removes one turn.
func (s *Service) DeleteTurn(ctx context.Context, clientID, turnID string) error {
	if err := s.requireClient(ctx, clientID); err != nil {
		return err
	}
	return s.Store.DeleteTurn(ctx, clientID, turnID)
}

// DeleteSource removes the chunks and record of one source and returns the
// number of chunks removed.
func (s *Service) DeleteSource(ctx context.Context, clientID, sourceID string) (int, error) {
	defer s.locks.shared(clientID)()
	if err := s.requireClient(ctx, clientID); err != nil {
		return 0, err
	}
	idx, err := s.Indexes.Open(ctx, clientID)
	if err != nil {
		return 0, fmt.Errorf("opening index: %w", err)
	}
	removed, err := idx.DeleteSource(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	err = s.Store.DeleteSource(ctx, clientID, sourceID)
	if errors.Is(err, model.ErrSourceNotFound) && removed > 0 {
		err = nil
	}
	if err != nil {
		return 0, err
	}
	s.logger.Info("source deleted",
		zap.String("client.id", clientID),
		zap.String("source.id", sourceID),
		zap.Int("chunks", removed))
	return removed, nil
}

// Stats summarizes the client's indexed corpus.
func (s *Service) Stats(ctx context.Context, clientID string) (model.ClientStats, error) {
	if err := s.requireClient(ctx, clientID); err != nil {
		return model.ClientStats{}, err
	}
	records, err := s.Store.ListSources(ctx, clientID)
	if err != nil {
		return model.ClientStats{}, err
	}
	return model.StatsFromRecords(clientID, records), nil
}

// Sources lists the client's ingested sources.
func (s *Service) Sources(ctx context.Context, clientID string) ([]model.SourceRecord, error) {
	if err := s.requireClient(ctx, clientID); err != nil {
		return nil, err
	}
	records, err := s.Store.ListSources(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []model.SourceRecord{}
	}
	return records, nil
}

// ResetIndex drops the client's index and source records, clearing any
// corrupt state. The conversation is kept.
func (s *Service) ResetIndex(ctx context.Context, clientID string) error {
	defer s.locks.exclusive(clientID)()
	if err := s.requireClient(ctx, clientID); err != nil {
		return err
	}
	if err := s.Indexes.Delete(ctx, clientID); err != nil {
		return fmt.Errorf("dropping index: %w", err)
	}
	n, err := s.Store.DeleteSources(ctx, clientID)
	if err != nil {
		return err
	}
	s.logger.Info("client index reset", zap.String("client.id", clientID), zap.Int("sources", n))
	return nil
}

// SeedSamples ingests the Lexsy demo documents and equity-grant thread.
// Already ingested samples are skipped.
func (s *Service) SeedSamples(ctx context.Context, clientID string) (ingest.Report, error) {
	return s.IngestBatch(ctx, clientID, samples.All(), ingest.Options{})
}

func (s *Service) requireClient(ctx context.Context, clientID string) error {
	if strings.TrimSpace(clientID) == "" {
		return model.ErrEmptyClientID
	}
	if _, err := s.Store.GetClient(ctx, clientID); err != nil {
		return err
	}
	return nil
}
