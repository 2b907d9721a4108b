package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/entitystore/internal/git"
	"github.com/rohankatakam/entitystore/internal/models"
	"github.com/rohankatakam/entitystore/internal/risk"
)

var (
	impactFiles    []string
	impactChanged  bool
	impactStaged   bool
	impactBase     string
	impactFailOn   string
	impactWarnOnly bool
)

var impactCmd = &cobra.Command{
	Use:   "impact [id]...",
	Short: "Report downstream entities a change would break",
	Long: `Analyzes changed entities for breaking changes. Entities can be named
by id, by file with --files, or taken from git with --changed or --staged.
Changed files are reindexed first so the analysis sees their current
contents.

Exits with status 1 when a breaking change meets the risk.fail_on bump.`,
	Example: `  estore impact 3f2a9c1e-...
  estore impact --changed --base origin/main
  estore impact --staged --warn-only`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && len(impactFiles) == 0 && !impactChanged && !impactStaged {
			return fmt.Errorf("name entity ids, --files, --changed or --staged")
		}
		if impactFailOn != "" && !models.SemverImpact(impactFailOn).Valid() {
			return fmt.Errorf("invalid --fail-on %q: want major, minor or patch", impactFailOn)
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		files := append([]string(nil), impactFiles...)
		if impactChanged || impactStaged {
			changed, err := gitFiles(ctx, a.root)
			if err != nil {
				return err
			}
			files = append(files, changed...)
		}
		for _, f := range files {
			if _, err := a.registry.HandleFileChange(ctx, f); err != nil {
				a.logger.WithError(err).WithField("path", f).Warn("failed to reindex changed file")
			}
		}

		report := &risk.Report{}
		if len(files) > 0 {
			report = a.analyzer.AnalyzeFiles(files)
		}
		if len(args) > 0 {
			byID := a.analyzer.Analyze(args)
			report.Entries = append(report.Entries, byID.Entries...)
			report.Safe = append(report.Safe, byID.Safe...)
			report.Missing = append(report.Missing, byID.Missing...)
		}
		if err := a.printer.ImpactReport(report); err != nil {
			return err
		}

		riskCfg := a.cfg.Risk
		if impactFailOn != "" {
			riskCfg.FailOn = impactFailOn
		}
		if impactWarnOnly {
			riskCfg.WarnOnly = true
		}
		if risk.PolicyFromConfig(riskCfg).Blocks(report) {
			return &exitError{code: 1}
		}
		return nil
	},
}

// gitFiles lists changed files relative to root
func gitFiles(ctx context.Context, root string) ([]string, error) {
	if err := git.DetectRepo(ctx, root); err != nil {
		return nil, err
	}
	repoRoot, err := git.FindRoot(ctx, root)
	if err != nil {
		return nil, err
	}
	var files []string
	if impactStaged {
		files, err = git.StagedFiles(ctx, root)
	} else {
		files, err = git.ChangedFiles(ctx, root, impactBase)
	}
	if err != nil {
		return nil, err
	}
	return git.Relative(repoRoot, root, files)
}

var archiveCmd = &cobra.Command{
	Use:   "archive <id>...",
	Short: "Mark entities archived",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		for _, id := range args {
			if err := a.registry.Archive(cmd.Context(), id); err != nil {
				return err
			}
		}
		a.printer.Success("Archived %d entities", len(args))
		return nil
	},
}

func init() {
	impactCmd.Flags().StringSliceVar(&impactFiles, "files", nil, "changed files, relative to the workspace root")
	impactCmd.Flags().BoolVar(&impactChanged, "changed", false, "analyze files changed in git since --base")
	impactCmd.Flags().BoolVar(&impactStaged, "staged", false, "analyze files staged in git")
	impactCmd.Flags().StringVar(&impactBase, "base", "HEAD", "git revision --changed compares against")
	impactCmd.Flags().StringVar(&impactFailOn, "fail-on", "", "smallest bump that fails: major, minor or patch")
	impactCmd.Flags().BoolVar(&impactWarnOnly, "warn-only", false, "report breaking changes without failing")
	impactCmd.MarkFlagsMutuallyExclusive("changed", "staged")
}
