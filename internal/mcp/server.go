package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lexrag/internal/answer"
	"github.com/fyrsmithlabs/lexrag/internal/ingest"
	"github.com/fyrsmithlabs/lexrag/internal/model"
	"github.com/fyrsmithlabs/lexrag/internal/retrieve"
	"github.com/fyrsmithlabs/lexrag/internal/vectorindex"
)

// Assistant is the subset of *assistant.Service the tools call.
type Assistant interface {
	Ask(ctx context.Context, clientID, question string) (answer.Answer, error)
	Search(ctx context.Context, clientID, query string, topK int, filter *vectorindex.Filter) ([]retrieve.Result, error)
	Ingest(ctx context.Context, clientID string, item model.SourceItem, opts ingest.Options) (ingest.Result, error)
	History(ctx context.Context, clientID string, limit int) ([]model.Turn, error)
}

// Server is an MCP server over an Assistant.
type Server struct {
	mcp     *mcp.Server
	svc     Assistant
	metrics *Metrics
	logger  *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "lexrag")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging. It must not write to stdout.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "lexrag",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server and registers the tools.
func NewServer(cfg *Config, svc Assistant) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if svc == nil {
		return nil, fmt.Errorf("assistant is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		svc:     svc,
		metrics: NewMetrics(logger),
		logger:  logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves the stdio transport until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session on t, for in-process clients and tests.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
