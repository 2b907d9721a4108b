package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/entitystore/internal/models"
	"github.com/rohankatakam/entitystore/internal/query"
)

var (
	queryOpts    query.Options
	queryType    string
	queryState   string
	searchFields []string
	searchLimit  int
	showFields   []string
	showChildren bool
	showDepth    int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Filter, sort and project entities",
	Example: `  estore query --type function --path 'src/*' --fields id,name,callers
  estore query --name '*Config*' --order-by last_updated --desc --limit 10`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		opts := queryOpts
		opts.Type = models.EntityType(queryType)
		opts.State = models.State(queryState)
		res, err := a.engine.Query(cmd.Context(), opts)
		if err != nil {
			return err
		}
		fields := opts.Fields
		if len(fields) == 0 {
			fields = models.DefaultFields
		}
		return a.printer.QueryResult(res, fields)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <text>...",
	Short: "Rank entities by the words their name, path and docstring contain",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.engine.Search(cmd.Context(), strings.Join(args, " "), searchFields, searchLimit)
		if err != nil {
			return err
		}
		return a.printer.SearchResult(res, searchFields)
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one entity, optionally with its descendants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		id := args[0]

		if showChildren {
			records, err := a.engine.Hierarchy(id, showDepth, showFields)
			if err != nil {
				return err
			}
			return a.printer.Hierarchy(records)
		}
		if len(showFields) > 0 {
			rec, err := a.engine.Get(id, showFields)
			if err != nil {
				return err
			}
			return a.printer.QueryResult(&query.Result{Records: []query.Record{rec}, TotalCount: 1}, showFields)
		}
		e, err := a.registry.MustGet(id)
		if err != nil {
			return err
		}
		return a.printer.Entity(e)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show entity counts by type and state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.printer.RegistryStats(a.registry.Stats())
	},
}

func init() {
	f := queryCmd.Flags()
	f.StringVar(&queryType, "type", "", "entity type")
	f.StringVar(&queryOpts.NamePattern, "name", "", "name glob")
	f.StringVar(&queryOpts.PathPattern, "path", "", "path glob; * crosses directories")
	f.StringVar(&queryState, "state", "", "lifecycle state (default: everything but archived)")
	f.BoolVar(&queryOpts.AllStates, "all", false, "include archived entities")
	f.StringSliceVar(&queryOpts.Fields, "fields", nil, "fields to project (default: id,name,type,path)")
	f.IntVar(&queryOpts.Limit, "limit", 0, "maximum records")
	f.IntVar(&queryOpts.Offset, "offset", 0, "records to skip")
	f.StringVar(&queryOpts.OrderBy, "order-by", "", "field to sort by")
	f.BoolVar(&queryOpts.Desc, "desc", false, "sort descending")

	searchCmd.Flags().StringSliceVar(&searchFields, "fields", nil, "fields to project")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum hits")

	showCmd.Flags().StringSliceVar(&showFields, "fields", nil, "fields to project (default: every populated field)")
	showCmd.Flags().BoolVar(&showChildren, "children", false, "include descendants")
	showCmd.Flags().IntVar(&showDepth, "depth", 0, "descendant depth; 0 is unbounded")
}
