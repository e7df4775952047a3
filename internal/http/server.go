// Package http provides the lexrag HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lexrag/internal/answer"
	"github.com/fyrsmithlabs/lexrag/internal/assistant"
	"github.com/fyrsmithlabs/lexrag/internal/ingest"
	"github.com/fyrsmithlabs/lexrag/internal/logging"
	"github.com/fyrsmithlabs/lexrag/internal/model"
	"github.com/fyrsmithlabs/lexrag/internal/retrieve"
	"github.com/fyrsmithlabs/lexrag/internal/telemetry"
	"github.com/fyrsmithlabs/lexrag/internal/vectorindex"
)

// Assistant is the set of client-scoped operations the API exposes.
// It is implemented by *assistant.Service.
type Assistant interface {
	CreateClient(ctx context.Context, id, name string) (model.Client, error)
	GetClient(ctx context.Context, id string) (model.Client, error)
	ListClients(ctx context.Context) ([]model.Client, error)
	UpdateClient(ctx context.Context, id string, u model.ClientUpdate) (model.Client, error)
	DeleteClient(ctx context.Context, id string) error

	IngestBatch(ctx context.Context, clientID string, items []model.SourceItem, opts ingest.Options) (ingest.Report, error)
	IngestFile(ctx context.Context, clientID, name string, src io.Reader, opts ingest.Options) (ingest.Result, error)
	Ask(ctx context.Context, clientID, question string) (answer.Answer, error)
	Search(ctx context.Context, clientID, query string, topK int, filter *vectorindex.Filter) ([]retrieve.Result, error)

	History(ctx context.Context, clientID string, limit int) ([]model.Turn, error)
	ClearHistory(ctx context.Context, clientID string) (int, error)
	DeleteTurn(ctx context.Context, clientID, turnID string) error

	Sources(ctx context.Context, clientID string) ([]model.SourceRecord, error)
	DeleteSource(ctx context.Context, clientID, sourceID string) (int, error)
	Stats(ctx context.Context, clientID string) (model.ClientStats, error)
	ResetIndex(ctx context.Context, clientID string) error
	SeedSamples(ctx context.Context, clientID string) (ingest.Report, error)

	SourceText(ctx context.Context, clientID, sourceID string) (model.SourceRecord, error)
	Threads(ctx context.Context, clientID string) ([]model.Thread, error)
	SummarizeSource(ctx context.Context, clientID, sourceID string) (assistant.DocumentSummary, error)
	SummarizeThread(ctx context.Context, clientID, threadID string) (assistant.ThreadSummary, error)
	QuickSummary(ctx context.Context, clientID string) (assistant.Overview, error)
	Suggestions(ctx context.Context, clientID string) (assistant.Suggestions, error)
}

// Server serves the lexrag API.
type Server struct {
	echo      *echo.Echo
	svc       Assistant
	telemetry *telemetry.Telemetry
	logger    *zap.Logger
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// MaxBodyBytes limits request bodies, in echo's size notation ("20M").
	MaxBodyBytes string

	Version string
}

// Option customizes a Server.
type Option func(*Server)

// WithTelemetry reports telemetry health on /health.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Server) { s.telemetry = t }
}

// NewServer creates a new HTTP server.
func NewServer(svc Assistant, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("assistant cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8080}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		svc:    svc,
		logger: logger,
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.MaxBodyBytes != "" {
		e.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	}
	e.Use(requestContext)
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("route", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s.registerRoutes()
	return s, nil
}

// requestContext carries the request and client IDs into the request
// context so downstream logs are correlated.
func requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		ctx = logging.WithRequestID(ctx, c.Response().Header().Get(echo.HeaderXRequestID))
		ctx = logging.WithClientID(ctx, c.Param("client_id"))
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/clients", s.handleCreateClient)
	v1.GET("/clients", s.handleListClients)

	client := v1.Group("/clients/:client_id")
	client.GET("", s.handleGetClient)
	client.PUT("", s.handleUpdateClient)
	client.DELETE("", s.handleDeleteClient)
	client.POST("/ingest", s.handleIngest)
	client.POST("/upload", s.handleUpload)
	client.POST("/ask", s.handleAsk)
	client.POST("/search", s.handleSearch)
	client.GET("/conversation_history", s.handleHistory)
	client.DELETE("/conversation_history", s.handleClearHistory)
	client.DELETE("/conversation_history/:turn_id", s.handleDeleteTurn)
	client.GET("/sources", s.handleSources)
	client.DELETE("/sources/:source_id", s.handleDeleteSource)
	client.GET("/sources/:source_id/text", s.handleSourceText)
	client.POST("/sources/:source_id/summary", s.handleSummarizeSource)
	client.GET("/threads", s.handleThreads)
	client.POST("/threads/:thread_id/summary", s.handleSummarizeThread)
	client.POST("/summary", s.handleQuickSummary)
	client.GET("/suggestions", s.handleSuggestions)
	client.GET("/stats", s.handleStats)
	client.POST("/reset", s.handleReset)
	client.POST("/samples", s.handleSamples)
}

// Handler returns the root handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
