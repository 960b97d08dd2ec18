package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/setsumei/internal/cli"
	"github.com/hyperjump/setsumei/internal/eval"
	"github.com/hyperjump/setsumei/pkg/utils"
)

func newEvalCmd(opts *rootOptions) *cobra.Command {
	var (
		serverURL   string
		concurrency int
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "eval <queries.json>",
		Short: "Measure top-1 retrieval accuracy on labelled queries",
		Long: `Run every {"doc_id", "query"} item in a JSON array through search with
top_k=1 and report accuracy, precision@1, recall@1 and F1@1. A returned id
matches a label with or without its file extension.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := opts.format()
			if err != nil {
				return err
			}
			items, err := eval.LoadItems(args[0])
			if err != nil {
				return err
			}
			logger, err := utils.NewLogger(opts.debug)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer logger.Sync()

			ctx := cmd.Context()
			var summary *eval.Summary
			err = withSearcher(ctx, opts, serverURL, timeout, func(s eval.Searcher) error {
				var runErr error
				summary, runErr = eval.NewRunner(s, concurrency, logger).Run(ctx, items)
				return runErr
			})
			if err != nil {
				return fmt.Errorf("evaluation failed: %w", err)
			}
			return cli.WriteEvalSummary(cmd.OutOrStdout(), summary, format)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL (empty = search in-process)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "queries in flight")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "per-request timeout when using a server")
	return cmd
}
