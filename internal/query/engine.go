// Package query serves filtered, field-projected reads over the entity
// registry. Records carry only the requested fields.
package query

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/entitystore/internal/cache"
	"github.com/rohankatakam/entitystore/internal/errors"
	"github.com/rohankatakam/entitystore/internal/models"
	"github.com/rohankatakam/entitystore/internal/registry"
)

// Source is the read side of the registry
type Source interface {
	Get(id string) (*models.Entity, bool)
	Filter(opts registry.FilterOptions) []*models.Entity
	Children(id string) []*models.Entity
}

// ResultCache stores encoded query results
type ResultCache interface {
	GetJSON(ctx context.Context, key string, target interface{}) bool
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
}

// Record is one projected entity
type Record map[string]interface{}

// Options selects, orders and projects entities
type Options struct {
	Type        models.EntityType `json:"type,omitempty"`
	NamePattern string            `json:"name_pattern,omitempty"`
	PathPattern string            `json:"path_pattern,omitempty"`
	State       models.State      `json:"state,omitempty"`
	AllStates   bool              `json:"all_states,omitempty"`
	Fields      []string          `json:"fields,omitempty"`
	Limit       int               `json:"limit,omitempty"`
	Offset      int               `json:"offset,omitempty"`
	OrderBy     string            `json:"order_by,omitempty"`
	Desc        bool              `json:"desc,omitempty"`
}

// Result is one page of records
type Result struct {
	Records    []Record `json:"records"`
	TotalCount int      `json:"total_count"`
	HasMore    bool     `json:"has_more"`
}

// Config wires the engine's optional collaborators
type Config struct {
	// Search ranks full-text queries; defaults to an in-memory ranker
	Search SearchBackend
	Cache  ResultCache
	TTL    time.Duration
	Logger *logrus.Logger
}

// Engine answers queries against a Source
type Engine struct {
	source Source
	search SearchBackend
	cache  ResultCache
	ttl    time.Duration
	logger *logrus.Logger
}

// New creates an engine over source
func New(source Source, cfg Config) *Engine {
	e := &Engine{
		source: source,
		search: cfg.Search,
		cache:  cfg.Cache,
		ttl:    cfg.TTL,
		logger: cfg.Logger,
	}
	if e.search == nil {
		e.search = NewMemorySearch(source)
	}
	if e.logger == nil {
		e.logger = logrus.New()
	}
	return e
}

// Query returns the page of entities matching opts
func (e *Engine) Query(ctx context.Context, opts Options) (*Result, error) {
	fields, err := resolveFields(opts.Fields)
	if err != nil {
		return nil, err
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, errors.ValidationError("limit and offset must not be negative")
	}
	if opts.OrderBy != "" && !models.IsSortable(opts.OrderBy) {
		return nil, errors.ValidationErrorf("cannot order by %q", opts.OrderBy)
	}
	if opts.Type != "" && !opts.Type.Valid() {
		return nil, errors.ValidationErrorf("unknown entity type %q", opts.Type)
	}
	opts.Fields = fields

	key := cacheKey("query", opts)
	if e.cache != nil {
		var cached cachedPage
		if e.cache.GetJSON(ctx, key, &cached) {
			if res, ok := e.fromPage(cached, fields, opts.Offset); ok {
				return res, nil
			}
		}
	}

	entities := e.source.Filter(registry.FilterOptions{
		Type:        opts.Type,
		NamePattern: opts.NamePattern,
		PathPattern: opts.PathPattern,
		State:       opts.State,
		AllStates:   opts.AllStates,
	})
	if opts.OrderBy != "" {
		sortBy(entities, opts.OrderBy, opts.Desc)
	}

	total := len(entities)
	page := paginate(entities, opts.Offset, opts.Limit)
	res := &Result{
		Records:    make([]Record, 0, len(page)),
		TotalCount: total,
		HasMore:    opts.Offset+len(page) < total,
	}
	cached := cachedPage{IDs: make([]string, 0, len(page)), Total: total}
	for _, ent := range page {
		res.Records = append(res.Records, Project(ent, fields))
		cached.IDs = append(cached.IDs, ent.ID)
	}

	if e.cache != nil {
		if err := e.cache.SetJSON(ctx, key, cached, e.ttl); err != nil {
			e.logger.WithError(err).Debug("query result not cached")
		}
	}
	return res, nil
}

// cachedPage is what the result cache keeps for a query: the page's ids
// in order. Records are projected again on a hit so cached and fresh
// results carry the same value types.
type cachedPage struct {
	IDs   []string `json:"ids"`
	Total int      `json:"total"`
}

// fromPage rebuilds a result from a cached page. It reports false when an
// entity has gone away since the page was cached.
func (e *Engine) fromPage(page cachedPage, fields []string, offset int) (*Result, bool) {
	res := &Result{
		Records:    make([]Record, 0, len(page.IDs)),
		TotalCount: page.Total,
		HasMore:    offset+len(page.IDs) < page.Total,
	}
	for _, id := range page.IDs {
		ent, ok := e.source.Get(id)
		if !ok {
			return nil, false
		}
		res.Records = append(res.Records, Project(ent, fields))
	}
	return res, true
}

// Get projects one entity
func (e *Engine) Get(id string, fields []string) (Record, error) {
	resolved, err := resolveFields(fields)
	if err != nil {
		return nil, err
	}
	ent, ok := e.source.Get(id)
	if !ok {
		return nil, errors.NotFoundError(id)
	}
	return Project(ent, resolved), nil
}

// Hierarchy walks the descendants of rootID breadth-first. Each record
// carries its depth; the root is depth 0. maxDepth 0 means unbounded.
// Archived descendants are skipped.
func (e *Engine) Hierarchy(rootID string, maxDepth int, fields []string) ([]Record, error) {
	resolved, err := resolveFields(fields)
	if err != nil {
		return nil, err
	}
	root, ok := e.source.Get(rootID)
	if !ok {
		return nil, errors.NotFoundError(rootID)
	}

	type item struct {
		entity *models.Entity
		depth  int
	}
	visited := map[string]bool{root.ID: true}
	queue := []item{{root, 0}}
	var out []Record

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		rec := Project(cur.entity, resolved)
		rec["depth"] = cur.depth
		out = append(out, rec)

		if maxDepth > 0 && cur.depth >= maxDepth {
			continue
		}
		for _, child := range e.source.Children(cur.entity.ID) {
			if visited[child.ID] || child.IsArchived() {
				continue
			}
			visited[child.ID] = true
			queue = append(queue, item{child, cur.depth + 1})
		}
	}
	return out, nil
}

// Project copies the named fields of ent into a record
func Project(ent *models.Entity, fields []string) Record {
	rec := make(Record, len(fields))
	for _, f := range fields {
		v, _ := ent.Field(f)
		rec[f] = v
	}
	return rec
}

// resolveFields applies the default projection and rejects unknown names
func resolveFields(fields []string) ([]string, error) {
	if len(fields) == 0 {
		return append([]string{}, models.DefaultFields...), nil
	}
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if !models.IsField(f) {
			return nil, errors.ValidationErrorf("unknown field %q", f).
				WithContext("valid_fields", models.FieldNames())
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

func paginate(entities []*models.Entity, offset, limit int) []*models.Entity {
	if offset >= len(entities) {
		return nil
	}
	entities = entities[offset:]
	if limit > 0 && limit < len(entities) {
		entities = entities[:limit]
	}
	return entities
}

// sortBy orders entities by field with id as tiebreak. Unset values sort
// first ascending.
func sortBy(entities []*models.Entity, field string, desc bool) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, _ := entities[i].Field(field)
		b, _ := entities[j].Field(field)
		c := compare(a, b)
		if c == 0 {
			return entities[i].ID < entities[j].ID
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compare(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch av := a.(type) {
	case string:
		bv, _ := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	case int:
		bv, _ := b.(int)
		return av - bv
	case bool:
		bv, _ := b.(bool)
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	}
	return 0
}

func cacheKey(kind string, v interface{}) string {
	data, _ := json.Marshal(v)
	return cache.QueryKey(kind + "|" + string(data))
}
