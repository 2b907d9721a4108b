package query

import (
	"context"
	"sort"
	"strings"

	"github.com/rohankatakam/entitystore/internal/errors"
	"github.com/rohankatakam/entitystore/internal/models"
	"github.com/rohankatakam/entitystore/internal/registry"
)

// SearchBackend ranks entities against free text. The storage backends
// implement it over their persisted search text.
type SearchBackend interface {
	SearchEntities(ctx context.Context, text string, limit int) ([]models.SearchHit, error)
}

// ScoreField is the record key holding a search score
const ScoreField = "score"

// MemorySearch scores non-archived entities by how many distinct query
// terms their search text contains
type MemorySearch struct {
	source Source
}

// NewMemorySearch ranks over source
func NewMemorySearch(source Source) *MemorySearch {
	return &MemorySearch{source: source}
}

// SearchEntities implements SearchBackend
func (m *MemorySearch) SearchEntities(ctx context.Context, text string, limit int) ([]models.SearchHit, error) {
	terms := models.SearchTerms(text)
	if len(terms) == 0 {
		return nil, nil
	}

	var hits []models.SearchHit
	for _, e := range m.source.Filter(registry.FilterOptions{AllStates: true}) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsArchived() {
			continue
		}
		haystack := strings.ToLower(e.SearchText())
		score := 0
		for _, t := range terms {
			if strings.Contains(haystack, t) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, models.SearchHit{ID: e.ID, Score: float64(score)})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// SearchResult is a ranked list of projected records
type SearchResult struct {
	Query   string   `json:"query"`
	Records []Record `json:"records"`
}

// Search ranks entities against text through the configured backend and
// projects the hits. Hits the registry does not know are dropped.
func (e *Engine) Search(ctx context.Context, text string, fields []string, limit int) (*SearchResult, error) {
	resolved, err := resolveFields(fields)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.ValidationError("search text is empty")
	}
	if limit < 0 {
		return nil, errors.ValidationError("limit must not be negative")
	}

	key := cacheKey("search", struct {
		Text   string   `json:"text"`
		Fields []string `json:"fields"`
		Limit  int      `json:"limit"`
	}{text, resolved, limit})
	var hits []models.SearchHit
	cached := e.cache != nil && e.cache.GetJSON(ctx, key, &hits)
	if !cached {
		hits, err = e.search.SearchEntities(ctx, text, limit)
		if err != nil {
			return nil, errors.DatabaseError(err, "search backend failed")
		}
	}

	res := &SearchResult{Query: text, Records: make([]Record, 0, len(hits))}
	for _, hit := range hits {
		ent, ok := e.source.Get(hit.ID)
		if !ok || ent.IsArchived() {
			continue
		}
		rec := Project(ent, resolved)
		rec[ScoreField] = hit.Score
		res.Records = append(res.Records, rec)
	}

	// Only the ranking is cached; records are projected from the registry
	if e.cache != nil && !cached {
		if err := e.cache.SetJSON(ctx, key, hits, e.ttl); err != nil {
			e.logger.WithError(err).Debug("search result not cached")
		}
	}
	return res, nil
}
