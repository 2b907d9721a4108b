package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rohankatakam/entitystore/internal/models"
)

// entityRow is the persisted shape of an entity. Filterable columns are
// denormalized; the full entity lives in data.
type entityRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Type        string    `db:"type"`
	Path        string    `db:"path"`
	State       string    `db:"state"`
	Language    string    `db:"language"`
	ParentID    string    `db:"parent_id"`
	SearchText  string    `db:"search_text"`
	Data        string    `db:"data"`
	LastUpdated time.Time `db:"last_updated"`
}

func toRow(e *models.Entity) (*entityRow, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode entity %s: %w", e.ID, err)
	}
	return &entityRow{
		ID:          e.ID,
		Name:        e.Name,
		Type:        string(e.Type),
		Path:        e.Path,
		State:       string(e.State),
		Language:    e.Language,
		ParentID:    e.ParentID,
		SearchText:  strings.ToLower(e.SearchText()),
		Data:        string(data),
		LastUpdated: e.LastUpdated.UTC(),
	}, nil
}

func (r *entityRow) entity() (*models.Entity, error) {
	var e models.Entity
	if err := json.Unmarshal([]byte(r.Data), &e); err != nil {
		return nil, fmt.Errorf("decode entity %s: %w", r.ID, err)
	}
	return &e, nil
}

// termScore builds a SQL expression counting how many terms occur in
// search_text. contains renders one containment test for placeholder i.
func termScore(terms []string, contains func(i int) string) string {
	parts := make([]string, len(terms))
	for i := range terms {
		parts[i] = "(CASE WHEN " + contains(i) + " THEN 1 ELSE 0 END)"
	}
	return strings.Join(parts, " + ")
}
