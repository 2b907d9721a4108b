package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/entitystore/internal/logging"
	"github.com/rohankatakam/entitystore/internal/models"
	"github.com/rohankatakam/entitystore/internal/query"
	"github.com/rohankatakam/entitystore/internal/registry"
	"github.com/rohankatakam/entitystore/internal/risk"
	"github.com/rohankatakam/entitystore/internal/treesitter"
)

type fixture struct {
	root    string
	reg     *registry.Registry
	session *mcp.ClientSession
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()
	logger := logging.Discard()

	reg := registry.New(registry.Options{Root: root, Parser: treesitter.New(), Logger: logger})
	entities := []*models.Entity{
		{ID: "core", Name: "load_config", Type: models.TypeFunction, Path: "pkg/config.py"},
		{ID: "api", Name: "serve", Type: models.TypeFunction, Path: "pkg/api.py"},
		{ID: "cli", Name: "main", Type: models.TypeFunction, Path: "cli.py"},
	}
	entities[0].Callers = []string{"api"}
	entities[0].PublicAPI = true
	entities[0].SemverImpact = models.SemverMajor
	entities[1].Callers = []string{"cli"}
	for _, e := range entities {
		_, err := reg.Register(ctx, e)
		require.NoError(t, err)
	}

	srv := NewServer(Deps{
		Registry: reg,
		Engine:   query.New(reg, query.Config{Logger: logger}),
		Analyzer: risk.NewAnalyzer(reg, models.DefaultCallerThreshold, logger),
		Root:     root,
		Logger:   logger,
	}, "test")

	serverT, clientT := mcp.NewInMemoryTransports()
	_, err := srv.Connect(ctx, serverT)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	return &fixture{root: root, reg: reg, session: session}
}

// call invokes a tool and decodes its JSON text content into out
func (f *fixture) call(t *testing.T, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := f.session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	if out != nil && !res.IsError {
		text, ok := res.Content[0].(*mcp.TextContent)
		require.True(t, ok)
		require.NoError(t, json.Unmarshal([]byte(text.Text), out))
	}
	return res
}

func errorText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.True(t, res.IsError)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestListTools(t *testing.T) {
	f := newFixture(t)
	res, err := f.session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"query", "search", "show", "lock", "unlock", "update", "archive", "link", "impact", "reindex"}, names)
}

func TestQueryTool(t *testing.T) {
	f := newFixture(t)

	var res query.Result
	f.call(t, "query", map[string]any{"path_pattern": "pkg/*", "order_by": "name", "fields": []string{"id", "name"}}, &res)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "core", res.Records[0]["id"])
	assert.Equal(t, "serve", res.Records[1]["name"])
	assert.NotContains(t, res.Records[0], "path")

	errRes := f.call(t, "query", map[string]any{"fields": []string{"bogus"}}, nil)
	assert.Contains(t, errorText(t, errRes), "bogus")
}

func TestSearchAndShow(t *testing.T) {
	f := newFixture(t)

	var found query.SearchResult
	f.call(t, "search", map[string]any{"text": "config"}, &found)
	require.NotEmpty(t, found.Records)
	assert.Equal(t, "core", found.Records[0]["id"])

	var shown ShowOutput
	f.call(t, "show", map[string]any{"id": "api", "fields": []string{"name", "callers"}}, &shown)
	assert.Equal(t, "serve", shown.Entity["name"])
	assert.Equal(t, []any{"cli"}, shown.Entity["callers"])

	missing := f.call(t, "show", map[string]any{"id": "nope"}, nil)
	assert.Contains(t, errorText(t, missing), "nope")
}

func TestLockTools(t *testing.T) {
	f := newFixture(t)

	var locked LockOutput
	f.call(t, "lock", map[string]any{"id": "core", "holder": "alice"}, &locked)
	assert.True(t, locked.Acquired)
	require.NotNil(t, locked.Lock)
	assert.Equal(t, "alice", locked.Lock.Holder)

	conflict := f.call(t, "lock", map[string]any{"id": "core", "holder": "bob"}, nil)
	assert.Contains(t, errorText(t, conflict), "alice")

	wrong := f.call(t, "unlock", map[string]any{"id": "core", "holder": "bob"}, nil)
	assert.Contains(t, errorText(t, wrong), "held by alice")

	var released LockOutput
	f.call(t, "unlock", map[string]any{"id": "core", "holder": "alice"}, &released)
	assert.True(t, released.Released)
	_, held := f.reg.LockInfo("core")
	assert.False(t, held)
}

func TestEditToolsRespectLocks(t *testing.T) {
	f := newFixture(t)

	f.call(t, "lock", map[string]any{"id": "core", "holder": "alice"}, nil)

	blocked := f.call(t, "update", map[string]any{"id": "core", "holder": "bob", "docstring": "mine"}, nil)
	assert.Contains(t, errorText(t, blocked), "locked by alice")
	blocked = f.call(t, "archive", map[string]any{"id": "core", "holder": "bob"}, nil)
	assert.Contains(t, errorText(t, blocked), "locked by alice")
	blocked = f.call(t, "link", map[string]any{"caller": "cli", "callee": "core", "holder": "bob"}, nil)
	assert.Contains(t, errorText(t, blocked), "locked by alice")

	var updated models.Entity
	f.call(t, "update", map[string]any{
		"id":                   "core",
		"holder":               "alice",
		"docstring":            "Load settings.",
		"breaking_change_risk": "high",
		"actors":               []string{"dev"},
	}, &updated)
	assert.Equal(t, "Load settings.", updated.Docstring)
	assert.Equal(t, models.RiskLevelHigh, updated.BreakingChangeRisk)
	assert.Equal(t, []string{"dev"}, updated.Actors)
	assert.Equal(t, []string{"api"}, updated.Callers, "omitted fields are kept")

	var linked LinkInput
	f.call(t, "link", map[string]any{"caller": "cli", "callee": "api", "holder": "carol"}, &linked)
	api, _ := f.reg.Get("api")
	assert.Contains(t, api.Callers, "cli")

	var archived models.Entity
	f.call(t, "archive", map[string]any{"id": "api"}, &archived)
	assert.Equal(t, models.StateArchived, archived.State)

	bad := f.call(t, "update", map[string]any{"id": "api", "semver_impact": "huge"}, nil)
	assert.True(t, bad.IsError)
	missing := f.call(t, "update", map[string]any{"id": "nope", "docstring": "x"}, nil)
	assert.Contains(t, errorText(t, missing), "nope")
}

func TestImpactTool(t *testing.T) {
	f := newFixture(t)

	var report risk.Report
	f.call(t, "impact", map[string]any{"ids": []string{"core", "cli"}}, &report)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, []string{"api", "cli"}, report.Entries[0].Impacted)
	assert.Equal(t, []string{"cli"}, report.Safe)

	f.call(t, "impact", map[string]any{"files": []string{"pkg/config.py"}}, &report)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, "core", report.Entries[0].ChangedID)

	empty := f.call(t, "impact", map[string]any{}, nil)
	assert.Contains(t, errorText(t, empty), "required")
}

func TestReindexTool(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.root, "svc.py")
	require.NoError(t, os.WriteFile(path, []byte("def handler():\n    pass\n"), 0644))

	var res registry.FileResult
	f.call(t, "reindex", map[string]any{"path": "svc.py"}, &res)
	assert.Len(t, res.Added, 1)
	assert.Len(t, f.reg.Filter(registry.FilterOptions{PathPattern: "svc.py"}), 1)

	whole := f.call(t, "reindex", map[string]any{}, nil)
	assert.Contains(t, errorText(t, whole), "pass a path")
}

func TestStatsResource(t *testing.T) {
	f := newFixture(t)
	res, err := f.session.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: StatsURI})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)

	var stats registry.Stats
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &stats))
	assert.Equal(t, 3, stats.Total)
}
