package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/rohankatakam/entitystore/internal/errors"
	"github.com/rohankatakam/entitystore/internal/frontmatter"
	"github.com/rohankatakam/entitystore/internal/models"
)

const coreSource = `def load_config(path):
    """Load the configuration file."""
    return path
`

// workspace writes a small tree and a config that keeps everything in
// memory
func workspace(t *testing.T) (root, cfgPath string) {
	t.Helper()
	t.Setenv("CI", "true")
	root = t.TempDir()
	files := map[string]string{
		"pkg/core.py": coreSource,
		"api.py":      "def serve():\n    pass\n",
		"broken.py":   "# ---\n# entity_id: x\n# ---\n\ndef f():\n    pass\n",
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	cfgPath = filepath.Join(t.TempDir(), "config.yaml")
	cfg := "root: " + root + `
storage:
  type: none
cache:
  l2: none
  l3: false
registry:
  write_back: false
logging:
  level: error
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))
	return root, cfgPath
}

// execute runs the root command with fresh flag values
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestQueryCommand(t *testing.T) {
	_, cfg := workspace(t)

	out, err := execute(t, "query", "--config", cfg, "-o", "json", "--type", "function", "--order-by", "name", "--fields", "name,path")
	require.NoError(t, err)

	var res struct {
		Records    []map[string]interface{} `json:"records"`
		TotalCount int                      `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	var names []interface{}
	for _, r := range res.Records {
		names = append(names, r["name"])
		assert.NotContains(t, r, "id")
	}
	assert.Equal(t, []interface{}{"f", "load_config", "serve"}, names)
	assert.Equal(t, 3, res.TotalCount)
}

func TestQueryCommandRejectsUnknownField(t *testing.T) {
	_, cfg := workspace(t)
	_, err := execute(t, "query", "--config", cfg, "--fields", "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestSearchAndShowCommands(t *testing.T) {
	_, cfg := workspace(t)

	out, err := execute(t, "search", "--config", cfg, "-o", "json", "configuration")
	require.NoError(t, err)
	var found struct {
		Records []map[string]interface{} `json:"records"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	require.NotEmpty(t, found.Records)
	assert.Equal(t, "load_config", found.Records[0]["name"])

	_, err = execute(t, "show", "--config", cfg, "missing-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing-id")
}

func TestImpactCommand(t *testing.T) {
	_, cfg := workspace(t)

	_, err := execute(t, "impact", "--config", cfg)
	assert.Error(t, err, "something to analyze is required")

	_, err = execute(t, "impact", "--config", cfg, "--fail-on", "huge", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "huge")

	out, err := execute(t, "impact", "--config", cfg, "-o", "json", "nope")
	require.NoError(t, err)
	var report struct {
		Missing     []string `json:"missing"`
		HasBreaking bool     `json:"has_breaking"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, []string{"nope"}, report.Missing)
	assert.False(t, report.HasBreaking)

	out, err = execute(t, "impact", "--config", cfg, "--files", "pkg/core.py")
	require.NoError(t, err)
	assert.Contains(t, out, "No breaking changes detected.")
}

func TestFrontmatterCheckCommand(t *testing.T) {
	_, cfg := workspace(t)

	out, err := execute(t, "frontmatter", "check", "--config", cfg)
	var exit *exitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 1, exit.code)
	assert.Contains(t, out, "broken.py")
	assert.Contains(t, out, "entity_name is required")
	assert.Contains(t, out, "0 valid, 1 invalid, 2 without a block")

	_, err = execute(t, "frontmatter", "check", "--config", cfg, "api.py")
	assert.NoError(t, err)

	_, err = execute(t, "frontmatter", "check", "--config", cfg, "--require", "api.py")
	assert.True(t, errors.As(err, &exit))
}

func TestFrontmatterInitCommand(t *testing.T) {
	root, cfg := workspace(t)

	out, err := execute(t, "frontmatter", "init", "--config", cfg, "pkg/core.py")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote frontmatter for")

	data, err := os.ReadFile(filepath.Join(root, "pkg", "core.py"))
	require.NoError(t, err)
	f, ok := frontmatter.Parse(string(data), "python")
	require.True(t, ok)
	assert.Equal(t, "pkg/core.py", f.Path)
	assert.Contains(t, string(data), coreSource)

	out, err = execute(t, "frontmatter", "init", "--config", cfg, "pkg/core.py")
	require.NoError(t, err)
	assert.Contains(t, out, "already has a frontmatter block")

	_, err = execute(t, "frontmatter", "check", "--config", cfg, "pkg/core.py")
	assert.NoError(t, err)
}

func TestPickEntity(t *testing.T) {
	entities := []*models.Entity{
		{ID: "m", Name: "helper", Type: models.TypeFunction, Path: "a.py", LineStart: 9},
		{ID: "c", Name: "Thing", Type: models.TypeClass, Path: "a.py", LineStart: 1},
		{ID: "x", Name: "run", Type: models.TypeMethod, Path: "a.py", ParentID: "c", LineStart: 2},
		{ID: "o", Name: "other", Type: models.TypeModule, Path: "a.pyx"},
	}
	assert.Equal(t, "c", pickEntity(entities, "a.py", "").ID)
	assert.Equal(t, "x", pickEntity(entities, "a.py", "run").ID)
	assert.Nil(t, pickEntity(entities, "a.py", "nothing"))

	withModule := append(entities, &models.Entity{ID: "mod", Name: "a", Type: models.TypeModule, Path: "a.py", LineStart: 20})
	assert.Equal(t, "mod", pickEntity(withModule, "a.py", "").ID)
}

func TestResolveUnder(t *testing.T) {
	assert.Equal(t, filepath.Join("root", "a", "b"), resolveUnder("root", "a/b"))
	assert.Equal(t, "", resolveUnder("root", ""))
	abs := filepath.Join(t.TempDir(), "x")
	assert.Equal(t, abs, resolveUnder("root", abs))
}

func TestConfigCommands(t *testing.T) {
	_, cfg := workspace(t)

	out, err := execute(t, "config", "validate", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
	assert.Contains(t, out, "storage.type is none")

	path := filepath.Join(t.TempDir(), "estore.yaml")
	_, err = execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = execute(t, "config", "init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	_, err = execute(t, "config", "init", "--force", path)
	assert.NoError(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("storage:\n  type: floppy\n"), 0644))
	_, err = execute(t, "config", "validate", "--config", bad)
	var exit *exitError
	assert.True(t, errors.As(err, &exit))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(apperrors.ConfigError("bad")))
	assert.Equal(t, 1, exitCode(apperrors.NotFoundError("x")))
	assert.Equal(t, 1, exitCode(errors.New("plain")))
	assert.Equal(t, 3, exitCode(&exitError{code: 3}))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("storage:\n  type: floppy\n"), 0644))
	_, err := execute(t, "stats", "--config", bad)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestReportError(t *testing.T) {
	var buf bytes.Buffer
	reportError(&buf, &exitError{code: 1}, true)
	assert.Empty(t, buf.String())

	reportError(&buf, apperrors.ConfigError("storage.type is floppy"), false)
	assert.Equal(t, "Error: storage.type is floppy\n", buf.String())

	buf.Reset()
	reportError(&buf, apperrors.ConfigError("storage.type is floppy"), true)
	assert.Contains(t, buf.String(), "[CRITICAL] [CONFIG] storage.type is floppy")
	assert.Contains(t, buf.String(), "Stack trace:")

	buf.Reset()
	reportError(&buf, errors.New("plain"), true)
	assert.Equal(t, "Error: plain\n", buf.String())
}

func TestUpdateCommand(t *testing.T) {
	root, cfg := workspace(t)
	block, err := frontmatter.Generate(&frontmatter.Frontmatter{
		ID:                 "svc-handler",
		Name:               "handler",
		Type:               "function",
		Path:               "svc.py",
		Language:           "python",
		State:              models.StateActive,
		Created:            "2024-01-01T00:00:00Z",
		SemverImpact:       models.SemverPatch,
		BreakingChangeRisk: models.RiskLevelLow,
		Actors:             []string{"dev"},
	})
	require.NoError(t, err)
	src := block + "\n\ndef handler():\n    pass\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "svc.py"), []byte(src), 0644))

	out, err := execute(t, "update", "--config", cfg, "-o", "json", "svc-handler",
		"--docstring", "Handle requests.", "--risk", "high", "--actors", "")
	require.NoError(t, err)
	var e models.Entity
	require.NoError(t, json.Unmarshal([]byte(out), &e))
	assert.Equal(t, "Handle requests.", e.Docstring)
	assert.Equal(t, models.RiskLevelHigh, e.BreakingChangeRisk)
	assert.Empty(t, e.Actors)
	assert.Equal(t, models.SemverPatch, e.SemverImpact, "unset flags are kept")

	_, err = execute(t, "update", "--config", cfg, "svc-handler", "--semver", "huge")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "huge")

	_, err = execute(t, "update", "--config", cfg, "missing-id", "--name", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing-id")
}

func writeBlock(t *testing.T, root string, fm *frontmatter.Frontmatter, body string) {
	t.Helper()
	fm.Language = "python"
	fm.State = models.StateActive
	fm.Created = "2024-01-01T00:00:00Z"
	block, err := frontmatter.Generate(fm)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, fm.Path), []byte(block+"\n\n"+body), 0644))
}

func TestGraphDiagramCommands(t *testing.T) {
	root, cfg := workspace(t)
	writeBlock(t, root, &frontmatter.Frontmatter{
		ID: "svc-handler", Name: "handler", Type: "function", Path: "svc.py",
		Dependencies: []string{"svc-db"}, Callees: []string{"svc-db"},
		BreakingChangeRisk: models.RiskLevelHigh, Actors: []string{"user"},
	}, "def handler():\n    pass\n")
	writeBlock(t, root, &frontmatter.Frontmatter{
		ID: "svc-db", Name: "query", Type: "function", Path: "db.py",
		Callers: []string{"svc-handler"}, BreakingChangeRisk: models.RiskLevelMedium,
	}, "def query():\n    pass\n")

	out, err := execute(t, "graph", "tree", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "├── api.py\n")
	assert.Contains(t, out, "├── pkg/\n")
	assert.Contains(t, out, "svc.py ⚠️\n")
	assert.Contains(t, out, "[function] handler")

	_, err = execute(t, "graph", "tree", "--config", cfg, "--type", "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")

	out, err = execute(t, "graph", "deps", "--config", cfg, "-o", "json", "svc-db")
	require.NoError(t, err)
	var g struct {
		Target     models.Entity `json:"target"`
		Downstream []string      `json:"downstream"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &g))
	assert.Equal(t, "svc-db", g.Target.ID)
	assert.Equal(t, []string{"handler [svc-handler]"}, g.Downstream)

	out, err = execute(t, "graph", "deps", "--config", cfg, "svc-handler")
	require.NoError(t, err)
	assert.Contains(t, out, "UPSTREAM (dependencies):\n└── query [svc-db]\n")
	assert.Contains(t, out, "│ handler │ ⚠️ HIGH RISK")

	out, err = execute(t, "graph", "deps", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Full Dependency Graph")
	assert.Contains(t, out, "• handler (0 dependents)")
	assert.Contains(t, out, "• query\n")

	out, err = execute(t, "graph", "sequence", "--config", cfg, "-o", "json", "svc-handler")
	require.NoError(t, err)
	var seq struct {
		Participants []string `json:"participants"`
		Messages     []struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &seq))
	assert.Equal(t, []string{"user", "handler", "query"}, seq.Participants)
	require.Len(t, seq.Messages, 4)
	assert.Equal(t, "user", seq.Messages[0].From)
	assert.Equal(t, "query", seq.Messages[1].To)

	_, err = execute(t, "graph", "sequence", "--config", cfg, "missing-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing-id")
}
