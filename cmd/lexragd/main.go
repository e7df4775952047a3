// Lexragd is the lexrag daemon: per-client retrieval over legal documents
// and emails, served over HTTP or as an MCP stdio server.
//
// Configuration is loaded from ~/.config/lexrag/config.yaml, a .env file and
// LEXRAG_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the HTTP API (and the inbox watcher when watch.dir is set)
//	lexragd serve
//
//	# Serve MCP tools over stdio
//	lexragd mcp
//
//	# Create the sample client and ingest the sample corpus
//	lexragd seed
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lexrag/internal/config"
	lexhttp "github.com/fyrsmithlabs/lexrag/internal/http"
	"github.com/fyrsmithlabs/lexrag/internal/mcp"
	"github.com/fyrsmithlabs/lexrag/internal/model"
	"github.com/fyrsmithlabs/lexrag/internal/samples"
	"github.com/fyrsmithlabs/lexrag/internal/watch"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "lexragd",
	Short: "Per-client retrieval and question answering over legal documents and emails",
	Long: `lexragd ingests a client's documents and emails into a private vector index
and answers questions about them with citations.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), "stdout", runServe)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools over stdio",
	Long:  "Serve rag_ask, rag_search, rag_ingest and rag_history over stdio. Logs go to stderr.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), "stderr", runMCP)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the sample client and ingest the sample corpus",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), "stderr", func(ctx context.Context, a *app) error {
			return runSeed(ctx, a, cmd)
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "lexragd %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "  Git commit: %s\n", gitCommit)
		fmt.Fprintf(cmd.OutOrStdout(), "  Build date: %s\n", buildDate)
	},
}

func init() {
	defaultPath, _ := config.DefaultPath()
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultPath, "Path to the YAML configuration file")
	rootCmd.AddCommand(serveCmd, mcpCmd, seedCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// withApp loads the configuration, builds the components and closes them
// after fn returns.
func withApp(ctx context.Context, stream string, fn func(context.Context, *app) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := buildApp(ctx, cfg, stream)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := a.close(closeCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
	return runErr
}

func runServe(ctx context.Context, a *app) error {
	logger := a.logger.Underlying()

	srv, err := lexhttp.NewServer(a.svc, logger.Named("http"), &lexhttp.Config{
		Host:         a.cfg.Server.Host,
		Port:         a.cfg.Server.Port,
		MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
		Version:      version,
	}, lexhttp.WithTelemetry(a.telemetry))
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	if a.cfg.Watch.Dir != "" {
		w, err := watch.New(watch.Config{
			Dir:      a.cfg.Watch.Dir,
			Debounce: a.cfg.Watch.Debounce.Duration(),
		}, a.svc, logger.Named("watch"))
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server",
			zap.String("addr", a.cfg.Server.Addr()),
			zap.String("version", version))
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

func runMCP(ctx context.Context, a *app) error {
	srv, err := mcp.NewServer(&mcp.Config{
		Name:    "lexrag",
		Version: version,
		Logger:  a.logger.Underlying().Named("mcp"),
	}, a.svc)
	if err != nil {
		return err
	}
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func runSeed(ctx context.Context, a *app, cmd *cobra.Command) error {
	if _, err := a.svc.CreateClient(ctx, samples.ClientID, samples.ClientName); err != nil && !errors.Is(err, model.ErrClientExists) {
		return err
	}
	start := time.Now()
	report, err := a.svc.SeedSamples(ctx, samples.ClientID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %s: %d succeeded, %d skipped, %d failed (%s)\n",
		samples.ClientID, report.Succeeded, report.Skipped, report.Failed, time.Since(start).Round(time.Millisecond))
	return nil
}
