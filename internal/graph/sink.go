package graph

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/entitystore/internal/models"
)

// Node label and relationship types written by the sink
const (
	LabelEntity   = "Entity"
	EdgeCalls     = "CALLS"
	EdgeDependsOn = "DEPENDS_ON"
	EdgeChildOf   = "CHILD_OF"
)

// DefaultBatchSize is used when the configured batch size is not positive
const DefaultBatchSize = 500

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Writer executes parameterized write queries. *Client implements it.
type Writer interface {
	Write(ctx context.Context, query string, params map[string]any) error
}

// Edge is one directed relationship between two entities
type Edge struct {
	Type string `json:"type"`
	From string `json:"from"`
	To   string `json:"to"`
}

// SyncResult counts what a sync wrote
type SyncResult struct {
	Nodes    int           `json:"nodes"`
	Edges    int           `json:"edges"`
	Dangling int           `json:"dangling"`
	Batches  int           `json:"batches"`
	Pruned   bool          `json:"pruned"`
	Duration time.Duration `json:"duration"`
}

// Neo4jSink mirrors registry entities as :Entity nodes
type Neo4jSink struct {
	w         Writer
	batchSize int
	logger    *logrus.Logger
}

// NewSink creates a sink writing through w
func NewSink(w Writer, batchSize int, logger *logrus.Logger) *Neo4jSink {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Neo4jSink{w: w, batchSize: batchSize, logger: logger}
}

// EnsureSchema creates the uniqueness constraint on entity ids
func (s *Neo4jSink) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf("CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:%s) REQUIRE e.id IS UNIQUE", LabelEntity)
	if err := s.w.Write(ctx, query, nil); err != nil {
		return fmt.Errorf("failed to create entity constraint: %w", err)
	}
	return nil
}

// Sync MERGEs every entity and replaces their outgoing edges. Edges to ids
// outside entities are counted as dangling and skipped. With prune set,
// :Entity nodes not in entities are detached and deleted.
func (s *Neo4jSink) Sync(ctx context.Context, entities []*models.Entity, prune bool) (*SyncResult, error) {
	start := time.Now()
	res := &SyncResult{}

	nodes := make([]map[string]any, 0, len(entities))
	ids := make([]any, 0, len(entities))
	for _, e := range entities {
		nodes = append(nodes, NodeProperties(e))
		ids = append(ids, e.ID)
	}

	mergeNodes := fmt.Sprintf(`
		UNWIND $nodes AS node
		MERGE (e:%s {id: node.id})
		SET e += node`, LabelEntity)
	for _, batch := range batches(nodes, s.batchSize) {
		if err := s.w.Write(ctx, mergeNodes, map[string]any{"nodes": batch}); err != nil {
			return nil, fmt.Errorf("node batch failed: %w", err)
		}
		res.Batches++
	}
	res.Nodes = len(nodes)

	clearEdges := fmt.Sprintf(`
		UNWIND $ids AS id
		MATCH (:%s {id: id})-[r:%s|%s|%s]->()
		DELETE r`, LabelEntity, EdgeCalls, EdgeDependsOn, EdgeChildOf)
	for _, batch := range batches(ids, s.batchSize) {
		if err := s.w.Write(ctx, clearEdges, map[string]any{"ids": batch}); err != nil {
			return nil, fmt.Errorf("edge reset failed: %w", err)
		}
		res.Batches++
	}

	edges, dangling := Edges(entities)
	res.Dangling = dangling
	for _, typ := range []string{EdgeCalls, EdgeDependsOn, EdgeChildOf} {
		var params []map[string]any
		for _, edge := range edges {
			if edge.Type == typ {
				params = append(params, map[string]any{"from": edge.From, "to": edge.To})
			}
		}
		if len(params) == 0 {
			continue
		}
		query, err := mergeEdgesQuery(typ)
		if err != nil {
			return nil, err
		}
		for _, batch := range batches(params, s.batchSize) {
			if err := s.w.Write(ctx, query, map[string]any{"edges": batch}); err != nil {
				return nil, fmt.Errorf("%s edge batch failed: %w", typ, err)
			}
			res.Batches++
		}
		res.Edges += len(params)
	}

	if prune {
		query := fmt.Sprintf("MATCH (e:%s) WHERE NOT e.id IN $ids DETACH DELETE e", LabelEntity)
		if err := s.w.Write(ctx, query, map[string]any{"ids": ids}); err != nil {
			return nil, fmt.Errorf("prune failed: %w", err)
		}
		res.Batches++
		res.Pruned = true
	}

	res.Duration = time.Since(start)
	s.logger.WithFields(logrus.Fields{
		"nodes":    res.Nodes,
		"edges":    res.Edges,
		"dangling": res.Dangling,
		"batches":  res.Batches,
	}).Info("graph sync complete")
	return res, nil
}

// NodeProperties flattens an entity into Neo4j-storable properties
func NodeProperties(e *models.Entity) map[string]any {
	props := map[string]any{
		"id":         e.ID,
		"name":       e.Name,
		"type":       string(e.Type),
		"path":       e.Path,
		"language":   e.Language,
		"state":      string(e.State),
		"public_api": e.PublicAPI,
		"callers":    len(e.Callers),
	}
	if e.LineStart > 0 {
		props["line_start"] = int64(e.LineStart)
		props["line_end"] = int64(e.LineEnd)
	}
	if e.SemverImpact != "" {
		props["semver_impact"] = string(e.SemverImpact)
	}
	if e.BreakingChangeRisk != "" {
		props["breaking_change_risk"] = string(e.BreakingChangeRisk)
	}
	if !e.LastUpdated.IsZero() {
		props["last_updated"] = e.LastUpdated.UTC().Format(time.RFC3339)
	}
	return props
}

// Edges derives the deduplicated relationships among entities, sorted by
// type, source and target. It also returns how many references pointed
// outside the set.
func Edges(entities []*models.Entity) ([]Edge, int) {
	known := make(map[string]bool, len(entities))
	for _, e := range entities {
		known[e.ID] = true
	}

	seen := make(map[Edge]bool)
	var edges []Edge
	dangling := 0
	add := func(typ, from, to string) {
		if !known[from] || !known[to] {
			dangling++
			return
		}
		edge := Edge{Type: typ, From: from, To: to}
		if !seen[edge] {
			seen[edge] = true
			edges = append(edges, edge)
		}
	}

	for _, e := range entities {
		if e.ParentID != "" {
			add(EdgeChildOf, e.ID, e.ParentID)
		}
		for _, caller := range e.Callers {
			add(EdgeCalls, caller, e.ID)
		}
		for _, callee := range e.Callees {
			add(EdgeCalls, e.ID, callee)
		}
		for _, dep := range e.Dependencies {
			add(EdgeDependsOn, e.ID, dep)
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Type != edges[j].Type {
			return edges[i].Type < edges[j].Type
		}
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges, dangling
}

// mergeEdgesQuery builds the UNWIND MERGE query for one relationship type.
// Relationship types cannot be parameters, so they are validated instead.
func mergeEdgesQuery(typ string) (string, error) {
	if !identifierPattern.MatchString(typ) {
		return "", fmt.Errorf("invalid relationship type: %s", typ)
	}
	return fmt.Sprintf(`
		UNWIND $edges AS edge
		MATCH (a:%s {id: edge.from})
		MATCH (b:%s {id: edge.to})
		MERGE (a)-[:%s]->(b)`, LabelEntity, LabelEntity, typ), nil
}

func batches[T any](items []T, size int) [][]T {
	var out [][]T
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}

// TransitiveCallers returns the ids that reach id through CALLS edges within
// maxDepth hops, nearest first
func (c *Client) TransitiveCallers(ctx context.Context, id string, maxDepth int) ([]string, error) {
	if maxDepth <= 0 {
		maxDepth = 10
	}
	query := fmt.Sprintf(`
		MATCH p = (t:%s {id: $id})<-[:%s*1..%d]-(c:%s)
		WHERE c.id <> $id
		WITH c, min(length(p)) AS depth
		RETURN c.id AS id
		ORDER BY depth, id`, LabelEntity, EdgeCalls, maxDepth, LabelEntity)

	records, err := c.Read(ctx, query, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if v, ok := r["id"].(string); ok {
			ids = append(ids, v)
		}
	}
	return ids, nil
}
