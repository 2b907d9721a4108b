package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/entitystore/internal/models"
)

// SQLiteStore implements storage using SQLite (for local/development)
type SQLiteStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewSQLiteStore creates a new SQLite storage
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	// WAL mode for concurrent readers while the watcher writes
	db.Exec("PRAGMA journal_mode = WAL")
	db.Exec("PRAGMA busy_timeout = 5000")

	store := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	// Initialize schema
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		path TEXT NOT NULL,
		state TEXT NOT NULL,
		language TEXT,
		parent_id TEXT,
		search_text TEXT,
		data TEXT NOT NULL,
		last_updated DATETIME
	);

	CREATE TABLE IF NOT EXISTS index_runs (
		root TEXT PRIMARY KEY,
		indexed_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS change_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_id TEXT NOT NULL,
		action TEXT NOT NULL,
		detail TEXT,
		at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entities_path ON entities(path);
	CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);
	CREATE INDEX IF NOT EXISTS idx_change_log_entity ON change_log(entity_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteUpsert = `
	INSERT OR REPLACE INTO entities
	(id, name, type, path, state, language, parent_id, search_text, data, last_updated)
	VALUES (:id, :name, :type, :path, :state, :language, :parent_id, :search_text, :data, :last_updated)
`

// UpsertEntity inserts or replaces one entity
func (s *SQLiteStore) UpsertEntity(ctx context.Context, e *models.Entity) error {
	row, err := toRow(e)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, sqliteUpsert, row)
	return err
}

// UpsertEntities writes a batch in one transaction
func (s *SQLiteStore) UpsertEntities(ctx context.Context, entities []*models.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range entities {
		row, err := toRow(e)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, sqliteUpsert, row); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	var row entityRow
	query := `SELECT * FROM entities WHERE id = ?`

	err := s.db.GetContext(ctx, &row, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return row.entity()
}

func (s *SQLiteStore) ListEntities(ctx context.Context) ([]*models.Entity, error) {
	var rows []entityRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM entities ORDER BY id`); err != nil {
		return nil, err
	}

	entities := make([]*models.Entity, 0, len(rows))
	for i := range rows {
		e, err := rows[i].entity()
		if err != nil {
			s.logger.WithError(err).Warn("skipping undecodable entity row")
			continue
		}
		entities = append(entities, e)
	}
	return entities, nil
}

func (s *SQLiteStore) DeleteEntity(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	return err
}

// SearchEntities ranks non-archived entities by the number of query terms
// their search text contains
func (s *SQLiteStore) SearchEntities(ctx context.Context, text string, limit int) ([]models.SearchHit, error) {
	terms := models.SearchTerms(text)
	if len(terms) == 0 {
		return nil, nil
	}

	score := termScore(terms, func(int) string { return "instr(search_text, ?) > 0" })
	query := `SELECT id, score FROM (
		SELECT id, ` + score + ` AS score FROM entities WHERE state <> 'archived'
	) WHERE score > 0 ORDER BY score DESC, id`

	args := make([]interface{}, 0, len(terms)+1)
	for _, t := range terms {
		args = append(args, t)
	}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var hits []models.SearchHit
	if err := s.db.SelectContext(ctx, &hits, query, args...); err != nil {
		return nil, err
	}
	return hits, nil
}

func (s *SQLiteStore) GetLastIndexTime(ctx context.Context, root string) (time.Time, error) {
	var t time.Time
	err := s.db.GetContext(ctx, &t, `SELECT indexed_at FROM index_runs WHERE root = ?`, root)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, err
	}
	return t, nil
}

func (s *SQLiteStore) SetLastIndexTime(ctx context.Context, root string, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO index_runs (root, indexed_at) VALUES (?, ?)`, root, t.UTC())
	return err
}

func (s *SQLiteStore) LogChange(ctx context.Context, rec ChangeRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	rec.At = rec.At.UTC()
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO change_log (entity_id, action, detail, at) VALUES (:entity_id, :action, :detail, :at)`, rec)
	return err
}

func (s *SQLiteStore) RecentChanges(ctx context.Context, limit int) ([]ChangeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []ChangeRecord
	err := s.db.SelectContext(ctx, &records,
		`SELECT entity_id, action, COALESCE(detail, '') AS detail, at FROM change_log ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return records, nil
}
