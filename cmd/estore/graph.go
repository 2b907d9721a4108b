package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/entitystore/internal/config"
	"github.com/rohankatakam/entitystore/internal/graph"
	"github.com/rohankatakam/entitystore/internal/models"
	"github.com/rohankatakam/entitystore/internal/output"
	"github.com/rohankatakam/entitystore/internal/registry"
)

var (
	graphPrune bool
	treeType   string
	treePath   string
	seqDepth   int
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Draw the entity graph or mirror it into Neo4j",
}

var graphTreeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Draw entities as a directory tree",
	Long: `Draws active entities under their directories and files. Files show
their first exports and a marker when any entity in them is high risk.
Parameters are left out unless --type param is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		opts := registry.FilterOptions{Type: models.EntityType(treeType), PathPattern: treePath}
		if opts.Type != "" && !opts.Type.Valid() {
			return fmt.Errorf("unknown entity type %q", treeType)
		}
		var entities []*models.Entity
		for _, e := range a.registry.Filter(opts) {
			if opts.Type == "" && e.Type == models.TypeParam {
				continue
			}
			entities = append(entities, e)
		}
		return a.printer.Tree(entities)
	},
}

var graphDepsCmd = &cobra.Command{
	Use:   "deps [id]",
	Short: "Draw what an entity depends on and what depends on it",
	Long: `Draws the dependencies and dependents of one entity, marking it when
a change would break dependents. Without an id it lists the high and
medium risk entities instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 0 {
			return a.printer.DependencyGraph(output.RiskSummary(a.registry.Filter(registry.FilterOptions{})))
		}
		g, err := dependencyGraph(a, args[0])
		if err != nil {
			return err
		}
		return a.printer.DependencyGraph(g)
	},
}

var graphSequenceCmd = &cobra.Command{
	Use:   "sequence <id>",
	Short: "Draw the call flow from an entity",
	Long: `Draws a sequence diagram starting with the entity's first actor and
following callee edges up to --depth calls deep.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		root, err := a.registry.MustGet(args[0])
		if err != nil {
			return err
		}
		return a.printer.Sequence(output.BuildSequence(root, a.registry.Get, seqDepth))
	},
}

var graphSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Write active entities and their relations to Neo4j",
	Long: `Merges every active entity as an :Entity node with CHILD_OF, CALLS
and DEPENDS_ON edges. Connection settings come from the neo4j section of
the config, NEO4J_* variables or the OS keychain.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()
		if err := a.cfg.Require(config.ValidationContextGraph); err != nil {
			return err
		}

		client, err := graph.NewClient(ctx, a.cfg.Neo4j, a.logger)
		if err != nil {
			return err
		}
		defer client.Close(ctx)

		sink := graph.NewSink(client, a.cfg.Neo4j.BatchSize, a.logger)
		if err := sink.EnsureSchema(ctx); err != nil {
			return err
		}
		res, err := sink.Sync(ctx, a.registry.Filter(registry.FilterOptions{}), graphPrune)
		if err != nil {
			return err
		}
		return a.printer.GraphSync(res)
	},
}

// dependencyGraph gathers the neighbourhood of id. Known ids are shown
// with their names.
func dependencyGraph(a *app, id string) (*output.DependencyGraph, error) {
	target, err := a.registry.MustGet(id)
	if err != nil {
		return nil, err
	}
	deps, err := a.registry.Dependencies(id)
	if err != nil {
		return nil, err
	}

	g := &output.DependencyGraph{
		Target:   target,
		Breaking: a.registry.WouldBreakDependents(target),
		Impacted: a.analyzer.Analyze([]string{id}).ImpactedCount(),
	}
	for _, dep := range deps {
		if e, ok := a.registry.Get(dep); ok {
			g.Upstream = append(g.Upstream, entityLabel(e))
		} else {
			g.Upstream = append(g.Upstream, dep)
		}
	}
	for _, e := range a.registry.Dependents(id) {
		g.Downstream = append(g.Downstream, entityLabel(e))
	}
	return g, nil
}

func entityLabel(e *models.Entity) string {
	if e.Name == "" || e.Name == e.ID {
		return e.ID
	}
	return fmt.Sprintf("%s [%s]", e.Name, e.ID)
}

func init() {
	graphSyncCmd.Flags().BoolVar(&graphPrune, "prune", false, "delete nodes of entities that are no longer active")
	graphTreeCmd.Flags().StringVar(&treeType, "type", "", "only entities of this type")
	graphTreeCmd.Flags().StringVar(&treePath, "path", "", "only entities whose path matches this glob")
	graphSequenceCmd.Flags().IntVar(&seqDepth, "depth", output.DefaultSequenceDepth, "how many calls deep to follow")

	graphCmd.AddCommand(graphTreeCmd)
	graphCmd.AddCommand(graphDepsCmd)
	graphCmd.AddCommand(graphSequenceCmd)
	graphCmd.AddCommand(graphSyncCmd)
}
