package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/setsumei/internal/cli"
	"github.com/hyperjump/setsumei/internal/server"
)

const longTimeout = 30 * time.Minute

func newLoadCmd(opts *rootOptions) *cobra.Command {
	var (
		serverURL string
		noRefresh bool
	)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load the corpus directory and refresh the index",
		Long: `Walk the configured corpus directory, store new and changed documents,
remove documents whose files are gone, then embed what changed and rebuild
the index.

Without --server the command works on the local database directly; do not
run it while a server is using the same storage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, opts, serverURL, "Corpus loaded",
				func(ctx context.Context, client *cli.Client) (map[string]interface{}, error) {
					return client.LoadCorpus(ctx, !noRefresh)
				},
				func(ctx context.Context, c *Components) (interface{}, error) {
					if c.Config.Corpus.Directory == "" {
						return nil, fmt.Errorf("corpus.directory is not configured")
					}
					load, err := c.Loader.Load(ctx)
					if err != nil {
						return nil, err
					}
					out := map[string]interface{}{"load": load}
					if !noRefresh {
						refresh, err := c.Indexer.Sync(ctx)
						if err != nil {
							return nil, err
						}
						out["refresh"] = refresh
					}
					return out, nil
				})
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "server URL (empty = load in-process)")
	cmd.Flags().BoolVar(&noRefresh, "no-refresh", false, "store documents without embedding or rebuilding the index")
	return cmd
}

func newRefreshCmd(opts *rootOptions) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Embed new and changed documents and rebuild the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, opts, serverURL, "Index refreshed",
				func(ctx context.Context, client *cli.Client) (map[string]interface{}, error) {
					return client.Refresh(ctx)
				},
				func(ctx context.Context, c *Components) (interface{}, error) {
					return c.Indexer.Sync(ctx)
				})
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "server URL (empty = refresh in-process)")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show document, cache and index status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, opts, serverURL, "Status",
				func(ctx context.Context, client *cli.Client) (map[string]interface{}, error) {
					return client.Status(ctx)
				},
				func(ctx context.Context, c *Components) (interface{}, error) {
					return server.StatusReport(ctx, c.Corpus, c.Indexer, c.Config)
				})
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL (empty = read local storage)")
	return cmd
}

// runReport runs a command remotely or in-process and prints the result.
func runReport(
	cmd *cobra.Command,
	opts *rootOptions,
	serverURL, title string,
	remote func(context.Context, *cli.Client) (map[string]interface{}, error),
	local func(context.Context, *Components) (interface{}, error),
) error {
	format, err := opts.format()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var report map[string]interface{}
	if serverURL != "" {
		report, err = remote(ctx, cli.NewClient(serverURL, longTimeout))
		if err != nil {
			return err
		}
	} else {
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
		result, err := local(ctx, c)
		if err != nil {
			return err
		}
		if report, err = cli.ToReport(result); err != nil {
			return err
		}
	}
	return cli.WriteReport(cmd.OutOrStdout(), title, report, format)
}
