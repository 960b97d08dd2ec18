package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/setsumei/internal/cli"
	"github.com/hyperjump/setsumei/internal/eval"
	"github.com/hyperjump/setsumei/internal/models"
)

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		serverURL string
		topK      int
		noExplain bool
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "search [flags] <query>",
		Short: "Find the documents closest to a query",
		Long: `Find the documents closest to a query and explain each match.

Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.

Examples:
  setsumei search penguins eat fish
  setsumei search --top-k 3 "penguins eat fish"
  setsumei search --server "" --no-explain penguins    # in-process, no server`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := opts.format()
			if err != nil {
				return err
			}
			query := &models.SearchQuery{Query: buildSearchQuery(args), TopK: topK}
			if query.Query == "" {
				return fmt.Errorf("%w: query cannot be empty", models.ErrInvalidQuery)
			}
			if noExplain {
				off := false
				query.Explain = &off
			}

			ctx := cmd.Context()
			var response *models.SearchResponse
			err = withSearcher(ctx, opts, serverURL, timeout, func(s eval.Searcher) error {
				var searchErr error
				response, searchErr = s.Search(ctx, query)
				return searchErr
			})
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), response, format)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL (empty = search in-process)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of results (0 = server default)")
	cmd.Flags().BoolVar(&noExplain, "no-explain", false, "skip shared terms, sentences and rationale")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "request timeout when using a server")
	return cmd
}

func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(strings.Join(args, " ")), " "))
}

// withSearcher runs fn against a server client, or against an in-process
// engine over the persisted cache when serverURL is empty.
func withSearcher(ctx context.Context, opts *rootOptions, serverURL string, timeout time.Duration, fn func(eval.Searcher) error) error {
	if serverURL != "" {
		return fn(cli.NewClient(serverURL, timeout))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := opts.setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	c, err := openWarm(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	return notReadyHint(fn(c.Engine))
}
