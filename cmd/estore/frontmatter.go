package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/entitystore/internal/frontmatter"
	"github.com/rohankatakam/entitystore/internal/ingestion"
	"github.com/rohankatakam/entitystore/internal/models"
	"github.com/rohankatakam/entitystore/internal/output"
	"github.com/rohankatakam/entitystore/internal/registry"
	"github.com/rohankatakam/entitystore/internal/treesitter"
)

var (
	checkRequire bool
	initName     string
)

// Block states reported by frontmatter check
const (
	blockValid   = "valid"
	blockMissing = "missing"
	blockInvalid = "invalid"
)

// blockStatus is the check outcome for one file
type blockStatus struct {
	Path   string `json:"path"`
	Status string `json:"status"`
	ID     string `json:"entity_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

var frontmatterCmd = &cobra.Command{
	Use:   "frontmatter",
	Short: "Validate or create frontmatter blocks in source files",
}

var frontmatterCheckCmd = &cobra.Command{
	Use:   "check [file]...",
	Short: "Validate frontmatter blocks",
	Long: `Parses the frontmatter block of each file, or of every supported file
in the workspace, and reports blocks that fail schema validation. Exits
with status 1 when any block is invalid, or missing under --require.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		f, err := output.ParseFormat(format)
		if err != nil {
			return err
		}
		printer := output.NewPrinter(cmd.OutOrStdout(), f)

		root, err := filepath.Abs(cfg.Root)
		if err != nil {
			return err
		}
		files := args
		if len(files) == 0 {
			if files, err = workspaceFiles(cmd.Context(), root, cfg.Index.Ignore); err != nil {
				return err
			}
		} else {
			for i, file := range files {
				files[i] = resolveUnder(root, file)
			}
		}

		var statuses []blockStatus
		failed := 0
		for _, file := range files {
			st := checkFile(file)
			if rel, err := filepath.Rel(root, file); err == nil {
				st.Path = filepath.ToSlash(rel)
			}
			if st.Status == blockInvalid || (checkRequire && st.Status == blockMissing) {
				failed++
			}
			statuses = append(statuses, st)
		}

		if err := printChecks(printer, statuses); err != nil {
			return err
		}
		if failed > 0 {
			return &exitError{code: 1}
		}
		return nil
	},
}

// workspaceFiles lists every supported file under the absolute root
func workspaceFiles(ctx context.Context, root string, ignore []string) ([]string, error) {
	ig, err := ingestion.NewIgnorer(ignore)
	if err != nil {
		return nil, err
	}
	found, errc := ingestion.WalkSourceFiles(ctx, root, ig)
	var files []string
	for sf := range found {
		files = append(files, sf.Path)
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func checkFile(path string) blockStatus {
	st := blockStatus{Path: path}
	source, err := os.ReadFile(path)
	if err != nil {
		st.Status = blockInvalid
		st.Error = err.Error()
		return st
	}
	lang := treesitter.FrontmatterLanguage(treesitter.DetectLanguage(path))
	block, err := frontmatter.ParseStrict(string(source), lang)
	switch {
	case errors.Is(err, frontmatter.ErrNoFrontmatter):
		st.Status = blockMissing
	case err != nil:
		st.Status = blockInvalid
		st.Error = err.Error()
	default:
		st.Status = blockValid
		st.ID = block.ID
	}
	return st
}

func printChecks(p *output.Printer, statuses []blockStatus) error {
	counts := map[string]int{}
	for _, st := range statuses {
		counts[st.Status]++
	}
	if p.JSON() {
		return p.WriteJSON(map[string]interface{}{"files": statuses, "counts": counts})
	}

	t := p.NewTable("path", "status", "detail")
	for _, st := range statuses {
		if st.Status == blockMissing && !checkRequire {
			continue
		}
		detail := st.ID
		if st.Error != "" {
			detail = st.Error
		}
		t.AddRow(st.Path, st.Status, detail)
	}
	t.Render()
	fmt.Fprintf(p.Writer(), "\n%d valid, %d invalid, %d without a block\n",
		counts[blockValid], counts[blockInvalid], counts[blockMissing])
	return nil
}

var frontmatterInitCmd = &cobra.Command{
	Use:   "init <file>",
	Short: "Write a frontmatter block for the top-level entity of a file",
	Long: `Parses the file, picks its top-level entity (or the one named with
--name) and prepends a frontmatter block describing it. Files that already
carry a block are left alone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		res, err := a.registry.HandleFileChange(ctx, args[0])
		if err != nil {
			return err
		}
		if res.Unsupported {
			return fmt.Errorf("%s: unsupported file type", res.Path)
		}
		target := pickEntity(a.registry.Filter(registry.FilterOptions{PathPattern: res.Path}), res.Path, initName)
		if target == nil {
			return fmt.Errorf("%s: no entity to describe", res.Path)
		}

		written, err := a.registry.WriteFrontmatter(target.ID)
		if err != nil {
			return err
		}
		if !written {
			a.printer.Success("%s already has a frontmatter block", res.Path)
			return nil
		}
		if _, err := a.registry.HandleFileChange(ctx, res.Path); err != nil {
			return err
		}
		a.printer.Success("Wrote frontmatter for %s [%s] to %s", target.Name, target.ID, res.Path)
		return nil
	},
}

// pickEntity chooses the entity named name in rel, or else the first
// top-level one, modules and documents first
func pickEntity(candidates []*models.Entity, rel, name string) *models.Entity {
	var best *models.Entity
	rank := func(e *models.Entity) int {
		if e.Type == models.TypeModule || e.Type == models.TypeDocument {
			return 0
		}
		return 1
	}
	for _, e := range candidates {
		if e.Path != rel {
			continue
		}
		if name != "" {
			if e.Name == name {
				return e
			}
			continue
		}
		if e.ParentID != "" {
			continue
		}
		if best == nil || rank(e) < rank(best) || (rank(e) == rank(best) && e.LineStart < best.LineStart) {
			best = e
		}
	}
	return best
}

func init() {
	frontmatterCheckCmd.Flags().BoolVar(&checkRequire, "require", false, "treat files without a block as failures")
	frontmatterInitCmd.Flags().StringVar(&initName, "name", "", "entity to describe (default: the top-level entity)")
	frontmatterCmd.AddCommand(frontmatterCheckCmd)
	frontmatterCmd.AddCommand(frontmatterInitCmd)
}
