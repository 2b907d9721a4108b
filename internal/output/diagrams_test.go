package output

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/entitystore/internal/models"
)

func entity(id, name string, typ models.EntityType, path string, line int) *models.Entity {
	return &models.Entity{ID: id, Name: name, Type: typ, Path: path, LineStart: line}
}

func treeFixture() []*models.Entity {
	core := entity("core", "core", models.TypeModule, "pkg/core.py", 0)
	core.Exports = []string{"load_config", "save_config", "Config", "Loader"}
	load := entity("load", "load_config", models.TypeFunction, "pkg/core.py", 3)
	load.BreakingChangeRisk = models.RiskLevelHigh
	return []*models.Entity{
		entity("cfg", "Config", models.TypeClass, "pkg/core.py", 10),
		load,
		core,
		entity("slug", "slug", models.TypeFunction, "pkg/util/strings.py", 1),
		entity("serve", "serve", models.TypeFunction, "api.py", 1),
	}
}

func TestTreeGolden(t *testing.T) {
	p, buf := printer(FormatTable)
	require.NoError(t, p.Tree(treeFixture()))

	want := `├── api.py
│   └── [function] serve
└── pkg/
    ├── core.py [load_config, save_config, Config, ...] ⚠️
    │   ├── [module] core
    │   ├── [function] load_config
    │   └── [class] Config
    └── util/
        └── strings.py
            └── [function] slug
`
	assert.Equal(t, want, buf.String())
}

func TestTreeJSON(t *testing.T) {
	p, buf := printer(FormatJSON)
	require.NoError(t, p.Tree(treeFixture()))

	var nodes []*TreeNode
	require.NoError(t, json.Unmarshal(buf.Bytes(), &nodes))
	require.Len(t, nodes, 2)
	assert.Equal(t, KindFile, nodes[0].Kind)
	pkg := nodes[1]
	assert.Equal(t, KindDir, pkg.Kind)
	require.Len(t, pkg.Children, 2)
	file := pkg.Children[0]
	assert.True(t, file.HighRisk)
	assert.Equal(t, []string{"load_config", "save_config", "Config", "Loader"}, file.Exports)
	assert.Equal(t, "core", file.Children[0].ID)
}

func TestTreeEmpty(t *testing.T) {
	p, buf := printer(FormatTable)
	require.NoError(t, p.Tree(nil))
	assert.Equal(t, "No entities to show\n", buf.String())
}

func TestDependencyGraphGolden(t *testing.T) {
	target := entity("core", "load_config", models.TypeFunction, "pkg/core.py", 3)
	g := &DependencyGraph{
		Target:     target,
		Upstream:   []string{"os", "yaml"},
		Downstream: []string{"a", "b", "c", "d", "e", "f", "g"},
		Breaking:   true,
		Impacted:   9,
	}

	p, buf := printer(FormatTable)
	require.NoError(t, p.DependencyGraph(g))

	want := `┌─────────────────────────────────┐
│  Dependency Graph: load_config  │
└─────────────────────────────────┘

UPSTREAM (dependencies):
├── os
└── yaml

══════════════════════════════════════════════════
         ┌─────────────┐
         │ load_config │ ⚠️ HIGH RISK
         └─────────────┘
══════════════════════════════════════════════════

DOWNSTREAM (dependents):
├── a
├── b
├── c
├── d
├── e
└── ... and 2 more

Transitive dependents: 9
`
	assert.Equal(t, want, buf.String())
}

func TestDependencyGraphWithoutNeighbours(t *testing.T) {
	p, buf := printer(FormatTable)
	require.NoError(t, p.DependencyGraph(&DependencyGraph{Target: entity("x", "lonely", models.TypeFunction, "x.py", 1)}))
	out := buf.String()
	assert.Contains(t, out, "UPSTREAM (dependencies):\n└── (none)\n")
	assert.Contains(t, out, "DOWNSTREAM (dependents):\n└── (none)\n")
	assert.NotContains(t, out, "HIGH RISK")
	assert.NotContains(t, out, "Transitive")
}

func TestRiskSummary(t *testing.T) {
	high := entity("h1", "parse", models.TypeFunction, "p.py", 1)
	high.BreakingChangeRisk = models.RiskLevelHigh
	high.Callers = []string{"a"}
	busier := entity("h2", "load", models.TypeFunction, "p.py", 5)
	busier.BreakingChangeRisk = models.RiskLevelHigh
	busier.Callers = []string{"a", "b", "c"}
	medium := entity("m1", "fmt", models.TypeFunction, "p.py", 9)
	medium.BreakingChangeRisk = models.RiskLevelMedium
	low := entity("l1", "noop", models.TypeFunction, "p.py", 12)

	g := RiskSummary([]*models.Entity{high, busier, medium, low})
	assert.Nil(t, g.Target)
	require.Len(t, g.HighRisk, 2)
	assert.Equal(t, "h2", g.HighRisk[0].ID)

	p, buf := printer(FormatTable)
	require.NoError(t, p.DependencyGraph(g))

	want := `┌─────────────────────────┐
│  Full Dependency Graph  │
└─────────────────────────┘

⚠️  HIGH RISK (breaking change impacts):
   • load (3 dependents)
   • parse (1 dependents)

⚡ MEDIUM RISK:
   • fmt
`
	assert.Equal(t, want, buf.String())

	p, buf = printer(FormatTable)
	require.NoError(t, p.DependencyGraph(RiskSummary([]*models.Entity{low})))
	assert.Contains(t, buf.String(), "No high or medium risk entities.")
}

func sequenceFixture() (*models.Entity, func(string) (*models.Entity, bool)) {
	run := entity("run", "run", models.TypeFunction, "main.py", 1)
	run.Actors = []string{"dev"}
	run.Callees = []string{"c-db"}
	db := entity("c-db", "db", models.TypeFunction, "db.py", 1)
	known := map[string]*models.Entity{"run": run, "c-db": db}
	return run, func(id string) (*models.Entity, bool) {
		e, ok := known[id]
		return e, ok
	}
}

func TestSequenceGolden(t *testing.T) {
	root, lookup := sequenceFixture()
	d := BuildSequence(root, lookup, 0)
	assert.Equal(t, []string{"dev", "run", "db"}, d.Participants)
	require.Len(t, d.Messages, 4)

	p, buf := printer(FormatTable)
	require.NoError(t, p.Sequence(d))

	want := `┌─────────────────┐
│  Sequence: run  │
└─────────────────┘

     dev         run         db
      │           │           │
      │───run()──>│           │
      │           │───db()───>│
      │           │<┄return┄┄┄│
      │<┄return┄┄┄│           │
      │           │           │
`
	assert.Equal(t, want, buf.String())
}

func TestBuildSequenceDepthAndCycles(t *testing.T) {
	a := entity("a", "a", models.TypeFunction, "a.py", 1)
	b := entity("b", "b", models.TypeFunction, "b.py", 1)
	c := entity("c", "c", models.TypeFunction, "c.py", 1)
	a.Callees = []string{"b"}
	b.Callees = []string{"c", "a", "ghost"}
	c.Callees = []string{"a"}
	known := map[string]*models.Entity{"a": a, "b": b, "c": c}
	lookup := func(id string) (*models.Entity, bool) {
		e, ok := known[id]
		return e, ok
	}

	shallow := BuildSequence(a, lookup, 1)
	assert.Equal(t, []string{"a", "b"}, shallow.Participants)
	assert.Equal(t, []SequenceMessage{
		{From: "a", To: "b", Label: "b()"},
		{From: "b", To: "a", Label: "return", Return: true},
	}, shallow.Messages)

	deep := BuildSequence(a, lookup, 10)
	assert.Equal(t, []string{"a", "b", "c", "ghost"}, deep.Participants)
	// a -> b -> {c -> a, a, ghost}: every call has its return
	assert.Len(t, deep.Messages, 10)
}

func TestSequenceWithoutCalls(t *testing.T) {
	lonely := entity("x", "idle", models.TypeFunction, "x.py", 1)
	d := BuildSequence(lonely, func(string) (*models.Entity, bool) { return nil, false }, 3)

	p, buf := printer(FormatTable)
	require.NoError(t, p.Sequence(d))
	assert.Contains(t, buf.String(), "No calls recorded")

	p, buf = printer(FormatJSON)
	require.NoError(t, p.Sequence(d))
	var decoded SequenceDiagram
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, []string{"idle"}, decoded.Participants)
	assert.Empty(t, decoded.Messages)
}
