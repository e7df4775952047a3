// Package main implements lexctl, a command-line client for the lexragd HTTP API.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	lexhttp "github.com/fyrsmithlabs/lexrag/internal/http"
	"github.com/fyrsmithlabs/lexrag/internal/ingest"
	"github.com/fyrsmithlabs/lexrag/internal/model"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries the persistent flags shared by every command.
type cli struct {
	serverURL string
	timeout   time.Duration
	jsonOut   bool
}

func (c *cli) api() *apiClient {
	return newAPIClient(c.serverURL, c.timeout)
}

// emit prints v as indented JSON when --json is set, otherwise calls text.
func (c *cli) emit(w io.Writer, v any, text func()) error {
	if !c.jsonOut {
		text()
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "lexctl",
		Short: "CLI for the lexragd HTTP API",
		Long: `lexctl manages lexrag clients, ingests their documents and emails, and asks
questions against them through a running lexragd server.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.serverURL, "server", "http://localhost:8080", "lexragd server URL")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 2*time.Minute, "request timeout")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print raw JSON responses")

	root.AddCommand(
		c.healthCmd(),
		c.clientCmd(),
		c.ingestCmd(),
		c.askCmd(),
		c.searchCmd(),
		c.historyCmd(),
		c.sourcesCmd(),
		c.statsCmd(),
		c.seedCmd(),
		c.resetCmd(),
		c.textCmd(),
		c.threadsCmd(),
		c.summarizeCmd(),
		c.suggestCmd(),
	)
	return root
}

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check lexragd server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp lexhttp.HealthResponse
			if err := c.api().doJSON(cmd.Context(), http.MethodGet, "/health", nil, &resp); err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), resp, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Server status: %s (version %s)\n", resp.Status, resp.Version)
			})
		},
	}
}

func (c *cli) clientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage clients",
	}

	create := &cobra.Command{
		Use:   "create <id> <name>",
		Short: "Create a client",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var client model.Client
			req := lexhttp.CreateClientRequest{ID: args[0], Name: args[1]}
			if err := c.api().doJSON(cmd.Context(), http.MethodPost, "/api/v1/clients", req, &client); err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), client, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Created client %s (%s)\n", client.ID, client.Name)
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var clients []model.Client
			if err := c.api().doJSON(cmd.Context(), http.MethodGet, "/api/v1/clients", nil, &clients); err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), clients, func() {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tCREATED")
				for _, cl := range clients {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", cl.ID, cl.Name, cl.CreatedAt.Format(time.RFC3339))
				}
				_ = tw.Flush()
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a client with its index and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.api().doJSON(cmd.Context(), http.MethodDelete, clientPath(args[0], ""), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted client %s\n", args[0])
			return nil
		},
	}

	var (
		name        string
		description string
	)
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Rename a client or change its description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req lexhttp.UpdateClientRequest
			if cmd.Flags().Changed("name") {
				req.Name = &name
			}
			if cmd.Flags().Changed("description") {
				req.Description = &description
			}
			if req.Name == nil && req.Description == nil {
				return fmt.Errorf("nothing to update: set --name or --description")
			}
			var client model.Client
			if err := c.api().doJSON(cmd.Context(), http.MethodPut, clientPath(args[0], ""), req, &client); err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), client, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Updated client %s (%s)\n", client.ID, client.Name)
			})
		},
	}
	update.Flags().StringVar(&name, "name", "", "new display name")
	update.Flags().StringVar(&description, "description", "", "new description")

	cmd.AddCommand(create, list, update, del)
	return cmd
}

func (c *cli) ingestCmd() *cobra.Command {
	var reindex bool
	cmd := &cobra.Command{
		Use:   "ingest <client> <file>...",
		Short: "Upload documents or emails (.txt, .md, .pdf, .docx, .eml)",
		Long: `Upload files to a client. Each file is extracted, chunked, embedded and indexed
by the server. Files already ingested are skipped unless --reindex is set.

Examples:
  lexctl ingest lexsy board-consent.pdf offer-letter.eml`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api := c.api()
			var results []ingest.Result
			failed := 0
			for _, path := range args[1:] {
				var res ingest.Result
				if err := api.upload(cmd.Context(), args[0], path, reindex, &res); err != nil {
					failed++
					res = ingest.Result{SourceID: path, Status: ingest.StatusFailed, Error: err.Error()}
				}
				results = append(results, res)
			}
			if err := c.emit(cmd.OutOrStdout(), results, func() {
				for i, res := range results {
					line := fmt.Sprintf("%-10s %s", res.Status, args[i+1])
					switch {
					case res.Error != "":
						line += ": " + res.Error
					case res.Status == ingest.StatusSucceeded:
						line += fmt.Sprintf(" (%d chunks)", len(res.ChunkIDs))
					}
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
			}); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args)-1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reindex, "reindex", false, "replace the chunks of already ingested files")
	return cmd
}

func (c *cli) askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <client> <question>...",
		Short: "Ask a question about a client's documents and emails",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp lexhttp.AskResponse
			req := lexhttp.AskRequest{Question: strings.Join(args[1:], " ")}
			if err := c.api().doJSON(cmd.Context(), http.MethodPost, clientPath(args[0], "/ask"), req, &resp); err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), resp, func() {
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, resp.AnswerText)
				if len(resp.Citations) > 0 {
					fmt.Fprintln(out, "\nSources:")
					for i, cit := range resp.Citations {
						fmt.Fprintf(out, "  [%d] %s (%s, %.2f)\n", i+1, cit.Title, cit.SourceType, cit.Score)
					}
				}
				if len(resp.FollowUps) > 0 {
					fmt.Fprintln(out, "\nYou might also ask:")
					for _, q := range resp.FollowUps {
						fmt.Fprintf(out, "  - %s\n", q)
					}
				}
			})
		},
	}
}

func (c *cli) searchCmd() *cobra.Command {
	var (
		topK       int
		sourceType string
		sourceID   string
	)
	cmd := &cobra.Command{
		Use:   "search <client> <query>...",
		Short: "Search a client's chunks without generating an answer",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp lexhttp.SearchResponse
			req := lexhttp.SearchRequest{
				Query:      strings.Join(args[1:], " "),
				TopK:       topK,
				SourceType: sourceType,
				SourceID:   sourceID,
			}
			if err := c.api().doJSON(cmd.Context(), http.MethodPost, clientPath(args[0], "/search"), req, &resp); err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), resp, func() {
				out := cmd.OutOrStdout()
				if len(resp.Results) == 0 {
					fmt.Fprintln(out, "No results")
					return
				}
				for i, hit := range resp.Results {
					fmt.Fprintf(out, "%d. %s [%s #%d] %.3f\n   %s\n", i+1, hit.Title, hit.SourceType, hit.ChunkIndex, hit.Score, preview(hit.Text, 160))
				}
			})
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "maximum results (server default when 0)")
	cmd.Flags().StringVar(&sourceType, "type", "", "restrict to document or email")
	cmd.Flags().StringVar(&sourceID, "source", "", "restrict to one source ID")
	return cmd
}

func (c *cli) historyCmd() *cobra.Command {
	var (
		limit int
		clearAll bool
	)
	cmd := &cobra.Command{
		Use:   "history <client>",
		Short: "Show or clear a client's conversation history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api := c.api()
			if clearAll {
				var resp lexhttp.DeletedResponse
				if err := api.doJSON(cmd.Context(), http.MethodDelete, clientPath(args[0], "/conversation_history"), nil, &resp); err != nil {
					return err
				}
				return c.emit(cmd.OutOrStdout(), resp, func() {
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d turns\n", resp.Deleted)
				})
			}

			path := clientPath(args[0], "/conversation_history")
			if limit > 0 {
				path += "?limit=" + strconv.Itoa(limit)
			}
			var turns []lexhttp.TurnResponse
			if err := api.doJSON(cmd.Context(), http.MethodGet, path, nil, &turns); err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), turns, func() {
				out := cmd.OutOrStdout()
				if len(turns) == 0 {
					fmt.Fprintln(out, "No conversation history")
					return
				}
				for _, t := range turns {
					fmt.Fprintf(out, "[%s] Q: %s\n  A: %s\n", t.CreatedAt, t.Question, preview(t.Answer, 240))
				}
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "most recent turns to show (all when 0)")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "delete the history instead of showing it")
	return cmd
}

func (c *cli) sourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources <client>",
		Short: "List a client's ingested sources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var records []model.SourceRecord
			if err := c.api().doJSON(cmd.Context(), http.MethodGet, clientPath(args[0], "/sources"), nil, &records); err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), records, func() {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SOURCE\tTYPE\tCHUNKS\tTITLE")
				for _, r := range records {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.SourceID, r.Type, r.ChunkCount, r.Title)
				}
				_ = tw.Flush()
			})
		},
	}
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <client>",
		Short: "Show index statistics for a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats model.ClientStats
			if err := c.api().doJSON(cmd.Context(), http.MethodGet, clientPath(args[0], "/stats"), nil, &stats); err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), stats, func() {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Client:    %s\n", stats.ClientID)
				fmt.Fprintf(out, "Documents: %d (%d chunks)\n", stats.Documents, stats.DocumentChunks)
				fmt.Fprintf(out, "Emails:    %d (%d chunks)\n", stats.Emails, stats.EmailChunks)
				fmt.Fprintf(out, "Chunks:    %d\n", stats.TotalChunks)
				fmt.Fprintf(out, "Words:     %d\n", stats.TotalWords)
			})
		},
	}
}

func (c *cli) seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <client>",
		Short: "Ingest the sample documents and emails into a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var report ingest.Report
			if err := c.api().doJSON(cmd.Context(), http.MethodPost, clientPath(args[0], "/samples"), nil, &report); err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), report, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s: %d succeeded, %d skipped, %d failed\n",
					args[0], report.Succeeded, report.Skipped, report.Failed)
			})
		},
	}
}

func (c *cli) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <client>",
		Short: "Drop a client's index and source records",
		Long:  "Drop a client's index and source records. Use this to recover a corrupt index, then ingest again.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.api().doJSON(cmd.Context(), http.MethodPost, clientPath(args[0], "/reset"), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset index of %s\n", args[0])
			return nil
		},
	}
}

// preview collapses whitespace and truncates s to n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

