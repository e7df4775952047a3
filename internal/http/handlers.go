package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lexrag/internal/ingest"
	"github.com/fyrsmithlabs/lexrag/internal/model"
	"github.com/fyrsmithlabs/lexrag/internal/vectorindex"
)

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: s.config.Version}
	if s.telemetry != nil {
		h := s.telemetry.Health()
		resp.Telemetry = &h
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCreateClient(c echo.Context) error {
	var req CreateClientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	client, err := s.svc.CreateClient(c.Request().Context(), strings.TrimSpace(req.ID), req.Name)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, client)
}

func (s *Server) handleListClients(c echo.Context) error {
	clients, err := s.svc.ListClients(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	if clients == nil {
		clients = []model.Client{}
	}
	return c.JSON(http.StatusOK, clients)
}

func (s *Server) handleGetClient(c echo.Context) error {
	client, err := s.svc.GetClient(c.Request().Context(), c.Param("client_id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, client)
}

func (s *Server) handleUpdateClient(c echo.Context) error {
	var req UpdateClientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	client, err := s.svc.UpdateClient(c.Request().Context(), c.Param("client_id"),
		model.ClientUpdate{Name: req.Name, Description: req.Description})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, client)
}

func (s *Server) handleDeleteClient(c echo.Context) error {
	if err := s.svc.DeleteClient(c.Request().Context(), c.Param("client_id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Items) == 0 {
		return s.fail(c, fmt.Errorf("%w: items is required", errInvalidRequest))
	}
	report, err := s.svc.IngestBatch(c.Request().Context(), c.Param("client_id"), req.Items, ingest.Options{Reindex: req.Reindex})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// handleUpload ingests a multipart "file" field through the extractor.
func (s *Server) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return s.fail(c, fmt.Errorf("%w: multipart field \"file\" is required", errInvalidRequest))
	}
	f, err := fh.Open()
	if err != nil {
		return s.fail(c, fmt.Errorf("%w: reading upload: %v", errInvalidRequest, err))
	}
	defer f.Close()

	reindex, _ := strconv.ParseBool(c.FormValue("reindex"))
	res, err := s.svc.IngestFile(c.Request().Context(), c.Param("client_id"), fh.Filename, f, ingest.Options{Reindex: reindex})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleAsk(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := s.svc.Ask(c.Request().Context(), c.Param("client_id"), req.Question)
	if err != nil {
		return s.fail(c, err)
	}
	citations := a.Citations
	if citations == nil {
		citations = []model.Citation{}
	}
	return c.JSON(http.StatusOK, AskResponse{
		TurnID:         a.TurnID,
		AnswerText:     a.Text,
		Citations:      citations,
		TokensUsed:     a.TokensUsed,
		ResponseTimeMS: a.ResponseTime.Milliseconds(),
		ContextUsed:    a.ContextUsed,
		FollowUps:      a.FollowUps,
	})
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return s.fail(c, fmt.Errorf("%w: query is required", errInvalidRequest))
	}
	if req.TopK < 0 {
		return s.fail(c, fmt.Errorf("%w: top_k must not be negative", errInvalidRequest))
	}
	st, err := model.ParseSourceType(req.SourceType)
	if err != nil {
		return s.fail(c, fmt.Errorf("%w: %v", errInvalidRequest, err))
	}
	var filter *vectorindex.Filter
	if st != "" || req.SourceID != "" {
		filter = &vectorindex.Filter{SourceType: st, SourceID: req.SourceID}
	}

	results, err := s.svc.Search(c.Request().Context(), c.Param("client_id"), req.Query, req.TopK, filter)
	if err != nil {
		return s.fail(c, err)
	}
	hits := make([]SearchHit, len(results))
	for i, r := range results {
		hits[i] = SearchHit{
			ChunkID:    r.Chunk.ID,
			SourceID:   r.Chunk.SourceID,
			SourceType: r.SourceType,
			Title:      r.Title,
			Sender:     r.Sender,
			ChunkIndex: r.Chunk.Index,
			Score:      r.Score,
			Text:       r.Chunk.Text,
		}
	}
	return c.JSON(http.StatusOK, SearchResponse{Query: req.Query, Results: hits})
}

func (s *Server) handleHistory(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return s.fail(c, fmt.Errorf("%w: limit must be a non-negative integer", errInvalidRequest))
		}
		limit = n
	}
	turns, err := s.svc.History(c.Request().Context(), c.Param("client_id"), limit)
	if err != nil {
		return s.fail(c, err)
	}
	out := make([]TurnResponse, len(turns))
	for i, t := range turns {
		citations := t.Citations
		if citations == nil {
			citations = []model.Citation{}
		}
		out[i] = TurnResponse{
			ID:             t.ID,
			Question:       t.Question,
			Answer:         t.Answer,
			Citations:      citations,
			TokensUsed:     t.TokensUsed,
			ResponseTimeMS: t.ResponseTime.Milliseconds(),
			CreatedAt:      t.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleClearHistory(c echo.Context) error {
	n, err := s.svc.ClearHistory(c.Request().Context(), c.Param("client_id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, DeletedResponse{Deleted: n})
}

func (s *Server) handleDeleteTurn(c echo.Context) error {
	if err := s.svc.DeleteTurn(c.Request().Context(), c.Param("client_id"), c.Param("turn_id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSources(c echo.Context) error {
	records, err := s.svc.Sources(c.Request().Context(), c.Param("client_id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) handleDeleteSource(c echo.Context) error {
	n, err := s.svc.DeleteSource(c.Request().Context(), c.Param("client_id"), c.Param("source_id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, DeletedResponse{Deleted: n})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.svc.Stats(c.Request().Context(), c.Param("client_id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleReset(c echo.Context) error {
	if err := s.svc.ResetIndex(c.Request().Context(), c.Param("client_id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSamples(c echo.Context) error {
	report, err := s.svc.SeedSamples(c.Request().Context(), c.Param("client_id"))
	if err != nil {
		return s.fail(c, err)
	}
	s.logger.Debug("samples seeded",
		zap.String("client.id", c.Param("client_id")),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed))
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleSourceText(c echo.Context) error {
	rec, err := s.svc.SourceText(c.Request().Context(), c.Param("client_id"), c.Param("source_id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, SourceTextResponse{
		SourceID:   rec.SourceID,
		SourceType: rec.Type,
		Title:      rec.Title,
		Text:       rec.Text,
		WordCount:  rec.WordCount,
	})
}

func (s *Server) handleSummarizeSource(c echo.Context) error {
	sum, err := s.svc.SummarizeSource(c.Request().Context(), c.Param("client_id"), c.Param("source_id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (s *Server) handleThreads(c echo.Context) error {
	threads, err := s.svc.Threads(c.Request().Context(), c.Param("client_id"))
	if err != nil {
		return s.fail(c, err)
	}
	if threads == nil {
		threads = []model.Thread{}
	}
	return c.JSON(http.StatusOK, threads)
}

func (s *Server) handleSummarizeThread(c echo.Context) error {
	sum, err := s.svc.SummarizeThread(c.Request().Context(), c.Param("client_id"), c.Param("thread_id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (s *Server) handleQuickSummary(c echo.Context) error {
	ov, err := s.svc.QuickSummary(c.Request().Context(), c.Param("client_id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, ov)
}

func (s *Server) handleSuggestions(c echo.Context) error {
	sug, err := s.svc.Suggestions(c.Request().Context(), c.Param("client_id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, sug)
}
