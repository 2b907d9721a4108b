package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rohankatakam/entitystore/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
)

// Change actions recorded in the change log
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionArchive = "archive"
	ActionDelete  = "delete"
)

// ChangeRecord is one entry of the entity change log
type ChangeRecord struct {
	EntityID string    `db:"entity_id" json:"entity_id"`
	Action   string    `db:"action" json:"action"`
	Detail   string    `db:"detail" json:"detail,omitempty"`
	At       time.Time `db:"at" json:"at"`
}

// Store defines the durable store the registry writes through to.
// The registry treats every call as best-effort.
type Store interface {
	// Entity operations
	UpsertEntity(ctx context.Context, e *models.Entity) error
	UpsertEntities(ctx context.Context, entities []*models.Entity) error
	GetEntity(ctx context.Context, id string) (*models.Entity, error)
	ListEntities(ctx context.Context) ([]*models.Entity, error)
	DeleteEntity(ctx context.Context, id string) error

	// Full-text search over models.Entity.SearchText
	SearchEntities(ctx context.Context, text string, limit int) ([]models.SearchHit, error)

	// Index bookkeeping
	GetLastIndexTime(ctx context.Context, root string) (time.Time, error)
	SetLastIndexTime(ctx context.Context, root string, t time.Time) error

	// Change log
	LogChange(ctx context.Context, rec ChangeRecord) error
	RecentChanges(ctx context.Context, limit int) ([]ChangeRecord, error)

	// Close connection
	Close() error
}
