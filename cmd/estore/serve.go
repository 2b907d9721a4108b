package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/entitystore/internal/mcp"
	"github.com/rohankatakam/entitystore/internal/watch"
)

var serveWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the registry to MCP clients over stdio",
	Long: `Starts an MCP server on stdin/stdout exposing query, search, show,
lock, unlock, impact and reindex tools. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		ix, err := a.indexer(true)
		if err != nil {
			return err
		}
		if serveWatch {
			w, err := watch.New(a.root, a.registry, watch.ConfigFromWatch(a.cfg.Watch, a.cfg.Index), a.logger)
			if err != nil {
				return err
			}
			go func() {
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					a.logger.WithError(err).Error("watcher stopped")
				}
			}()
		}

		srv := mcp.NewServer(mcp.Deps{
			Registry: a.registry,
			Engine:   a.engine,
			Analyzer: a.analyzer,
			Indexer:  ix,
			Root:     a.root,
			Logger:   a.logger,
		}, Version)
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "reindex files as they change while serving")
}
