package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/lexrag/internal/assistant"
	lexhttp "github.com/fyrsmithlabs/lexrag/internal/http"
	"github.com/fyrsmithlabs/lexrag/internal/model"
)

func (c *cli) textCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "text <client> <source>",
		Short: "Print the stored text of an ingested source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp lexhttp.SourceTextResponse
			path := clientPath(args[0], "/sources/"+url.PathEscape(args[1])+"/text")
			if err := c.api().doJSON(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), resp, func() {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s (%s, %d words)\n\n%s\n", resp.Title, resp.SourceType, resp.WordCount, resp.Text)
			})
		},
	}
}

func (c *cli) threadsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "threads <client>",
		Short: "List a client's email threads, latest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var threads []model.Thread
			if err := c.api().doJSON(cmd.Context(), http.MethodGet, clientPath(args[0], "/threads"), nil, &threads); err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), threads, func() {
				if len(threads) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No email threads")
					return
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "THREAD\tMESSAGES\tLATEST\tSUBJECT")
				for _, th := range threads {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", th.ThreadID, th.MessageCount, th.LatestDate.Format(time.RFC3339), th.Subject)
				}
				_ = tw.Flush()
			})
		},
	}
}

func (c *cli) summarizeCmd() *cobra.Command {
	var (
		sourceID string
		threadID string
	)
	cmd := &cobra.Command{
		Use:   "summarize <client>",
		Short: "Summarize a source, an email thread, or the whole client",
		Long: `Summarize one source (--source), one email thread (--thread), or, with
neither flag, give a quick overview of the client's matters.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api := c.api()
			out := cmd.OutOrStdout()
			switch {
			case sourceID != "" && threadID != "":
				return fmt.Errorf("set at most one of --source and --thread")
			case sourceID != "":
				var resp assistant.DocumentSummary
				path := clientPath(args[0], "/sources/"+url.PathEscape(sourceID)+"/summary")
				if err := api.doJSON(cmd.Context(), http.MethodPost, path, nil, &resp); err != nil {
					return err
				}
				return c.emit(out, resp, func() {
					fmt.Fprintf(out, "%s\n\n%s\n", resp.Title, resp.Text)
				})
			case threadID != "":
				var resp assistant.ThreadSummary
				path := clientPath(args[0], "/threads/"+url.PathEscape(threadID)+"/summary")
				if err := api.doJSON(cmd.Context(), http.MethodPost, path, nil, &resp); err != nil {
					return err
				}
				return c.emit(out, resp, func() {
					fmt.Fprintf(out, "%s (%d messages)\n\n%s\n", resp.Thread.Subject, resp.Thread.MessageCount, resp.Text)
				})
			default:
				var resp assistant.Overview
				if err := api.doJSON(cmd.Context(), http.MethodPost, clientPath(args[0], "/summary"), nil, &resp); err != nil {
					return err
				}
				return c.emit(out, resp, func() {
					fmt.Fprintf(out, "%s\n\nDocuments: %d  Emails: %d  Sources used: %d\n",
						resp.Summary, resp.Stats.Documents, resp.Stats.Emails, resp.SourcesUsed)
				})
			}
		},
	}
	cmd.Flags().StringVar(&sourceID, "source", "", "summarize this source")
	cmd.Flags().StringVar(&threadID, "thread", "", "summarize this email thread")
	return cmd
}

func (c *cli) suggestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suggest <client>",
		Short: "Suggest questions for a client's content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp assistant.Suggestions
			if err := c.api().doJSON(cmd.Context(), http.MethodGet, clientPath(args[0], "/suggestions"), nil, &resp); err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), resp, func() {
				out := cmd.OutOrStdout()
				if len(resp.Suggestions) == 0 {
					fmt.Fprintln(out, "No suggestions; ingest documents or emails first")
					return
				}
				fmt.Fprintln(out, strings.Join(resp.Suggestions, "\n"))
			})
		},
	}
}
