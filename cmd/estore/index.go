package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/entitystore/internal/watch"
)

var (
	indexIncremental bool
	indexWorkers     int
	watchSkipIndex   bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Parse the workspace into the entity registry",
	Long: `Walks the workspace, parses every supported file and reconciles the
entities found with the registry. Entities whose source disappeared are
archived.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if indexWorkers > 0 {
			a.cfg.Index.Workers = indexWorkers
		}
		ix, err := a.indexer(indexIncremental)
		if err != nil {
			return err
		}
		res, err := ix.Run(cmd.Context(), a.root)
		if res != nil {
			if perr := a.printer.IndexResult(res); perr != nil {
				return perr
			}
		}
		return err
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reindex files as they change",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		if !watchSkipIndex {
			ix, err := a.indexer(true)
			if err != nil {
				return err
			}
			if _, err := ix.Run(ctx, a.root); err != nil {
				return err
			}
		}

		cfg := watch.ConfigFromWatch(a.cfg.Watch, a.cfg.Index)
		cfg.OnEvent = func(ev watch.Event) { printEvent(a, ev) }
		w, err := watch.New(a.root, a.registry, cfg, a.logger)
		if err != nil {
			return err
		}

		go func() {
			select {
			case <-w.Ready():
				if w.StartErr() == nil && !a.printer.JSON() {
					fmt.Fprintf(a.printer.Writer(), "Watching %s (Ctrl+C to stop)\n", a.root)
				}
			case <-ctx.Done():
			}
		}()
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// printEvent reports one handled change; unchanged files stay quiet
func printEvent(a *app, ev watch.Event) {
	if a.printer.JSON() {
		rec := map[string]interface{}{"path": ev.Path, "result": ev.Result}
		if ev.Err != nil {
			rec["error"] = ev.Err.Error()
		}
		_ = a.printer.WriteJSON(rec)
		return
	}
	w := a.printer.Writer()
	switch {
	case ev.Err != nil:
		fmt.Fprintf(w, "%s: %v\n", ev.Path, ev.Err)
	case ev.Result != nil && ev.Result.Changed():
		fmt.Fprintf(w, "%s: %d added, %d updated, %d archived\n",
			ev.Path, len(ev.Result.Added), len(ev.Result.Updated), len(ev.Result.Archived))
	}
}

func init() {
	indexCmd.Flags().BoolVar(&indexIncremental, "incremental", false, "only reparse files modified since the last run")
	indexCmd.Flags().IntVar(&indexWorkers, "workers", 0, "parser workers (default: config index.workers)")

	watchCmd.Flags().BoolVar(&watchSkipIndex, "no-index", false, "skip the incremental index before watching")
}
