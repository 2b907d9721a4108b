package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/entitystore/internal/config"
	"github.com/rohankatakam/entitystore/internal/logging"
	"github.com/rohankatakam/entitystore/internal/models"
)

type call struct {
	query  string
	params map[string]any
}

type fakeWriter struct {
	calls  []call
	failOn string
}

func (f *fakeWriter) Write(_ context.Context, query string, params map[string]any) error {
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return errors.New("write refused")
	}
	f.calls = append(f.calls, call{query: query, params: params})
	return nil
}

func (f *fakeWriter) matching(fragment string) []call {
	var out []call
	for _, c := range f.calls {
		if strings.Contains(c.query, fragment) {
			out = append(out, c)
		}
	}
	return out
}

func entity(id string, mutate func(e *models.Entity)) *models.Entity {
	e := &models.Entity{ID: id, Name: id, Type: models.TypeFunction, Path: "m.py", State: models.StateActive}
	if mutate != nil {
		mutate(e)
	}
	return e
}

func sample() []*models.Entity {
	return []*models.Entity{
		entity("mod", func(e *models.Entity) { e.Type = models.TypeModule }),
		entity("a", func(e *models.Entity) {
			e.ParentID = "mod"
			e.Callers = []string{"b", "ghost"}
			e.Dependencies = []string{"c"}
		}),
		entity("b", func(e *models.Entity) {
			e.ParentID = "mod"
			e.Callees = []string{"a"}
		}),
		entity("c", nil),
	}
}

func TestEdges(t *testing.T) {
	edges, dangling := Edges(sample())

	assert.Equal(t, []Edge{
		{Type: EdgeCalls, From: "b", To: "a"},
		{Type: EdgeChildOf, From: "a", To: "mod"},
		{Type: EdgeChildOf, From: "b", To: "mod"},
		{Type: EdgeDependsOn, From: "a", To: "c"},
	}, edges, "b->a appears once although both sides record it")
	assert.Equal(t, 1, dangling)
}

func TestNodeProperties(t *testing.T) {
	e := entity("x", func(e *models.Entity) {
		e.LineStart, e.LineEnd = 3, 9
		e.SemverImpact = models.SemverMajor
		e.LastUpdated = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		e.Callers = []string{"p", "q"}
	})

	props := NodeProperties(e)
	assert.Equal(t, "x", props["id"])
	assert.Equal(t, "function", props["type"])
	assert.Equal(t, int64(3), props["line_start"])
	assert.Equal(t, "major", props["semver_impact"])
	assert.Equal(t, "2024-05-01T12:00:00Z", props["last_updated"])
	assert.Equal(t, 2, props["callers"])
	assert.NotContains(t, props, "breaking_change_risk")
}

func TestSyncBatches(t *testing.T) {
	var entities []*models.Entity
	for i := 0; i < 5; i++ {
		entities = append(entities, entity(fmt.Sprintf("e%d", i), nil))
	}
	entities[1].Callers = []string{"e0"}

	w := &fakeWriter{}
	res, err := NewSink(w, 2, logging.Discard()).Sync(context.Background(), entities, false)
	require.NoError(t, err)

	nodeCalls := w.matching("MERGE (e:Entity")
	require.Len(t, nodeCalls, 3)
	assert.Len(t, nodeCalls[0].params["nodes"], 2)
	assert.Len(t, nodeCalls[2].params["nodes"], 1)

	assert.Len(t, w.matching("DELETE r"), 3)
	callEdges := w.matching("[:CALLS]")
	require.Len(t, callEdges, 1)
	assert.Equal(t, []map[string]any{{"from": "e0", "to": "e1"}}, callEdges[0].params["edges"])

	assert.Equal(t, 5, res.Nodes)
	assert.Equal(t, 1, res.Edges)
	assert.Equal(t, 7, res.Batches)
	assert.False(t, res.Pruned)
	assert.Empty(t, w.matching("DETACH DELETE"))
}

func TestSyncPrune(t *testing.T) {
	w := &fakeWriter{}
	res, err := NewSink(w, 0, nil).Sync(context.Background(), sample(), true)
	require.NoError(t, err)
	assert.True(t, res.Pruned)

	prune := w.matching("DETACH DELETE")
	require.Len(t, prune, 1)
	assert.Equal(t, []any{"mod", "a", "b", "c"}, prune[0].params["ids"])
}

func TestSyncPropagatesWriteErrors(t *testing.T) {
	w := &fakeWriter{failOn: "DEPENDS_ON]"}
	_, err := NewSink(w, 10, nil).Sync(context.Background(), sample(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEPENDS_ON edge batch failed")
}

func TestMergeEdgesQueryRejectsBadType(t *testing.T) {
	_, err := mergeEdgesQuery("CALLS]->() DETACH DELETE (")
	assert.Error(t, err)
}

func TestNeo4jRoundTrip(t *testing.T) {
	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		t.Skip("NEO4J_URI not set")
	}
	ctx := context.Background()
	client, err := NewClient(ctx, config.Neo4jConfig{
		URI:      uri,
		User:     os.Getenv("NEO4J_USER"),
		Password: os.Getenv("NEO4J_PASSWORD"),
	}, logging.Discard())
	require.NoError(t, err)
	defer client.Close(ctx)

	sink := NewSink(client, 100, logging.Discard())
	require.NoError(t, sink.EnsureSchema(ctx))

	chain := []*models.Entity{
		entity("it-root", nil),
		entity("it-mid", func(e *models.Entity) { e.Callees = []string{"it-root"} }),
		entity("it-top", func(e *models.Entity) { e.Callees = []string{"it-mid"} }),
	}
	_, err = sink.Sync(ctx, chain, false)
	require.NoError(t, err)

	callers, err := client.TransitiveCallers(ctx, "it-root", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"it-mid", "it-top"}, callers)

	require.NoError(t, client.Write(ctx, "MATCH (e:Entity) WHERE e.id STARTS WITH 'it-' DETACH DELETE e", nil))
}
