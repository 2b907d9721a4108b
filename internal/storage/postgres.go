package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/entitystore/internal/models"
)

// PostgresStore implements storage using PostgreSQL
type PostgresStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPostgresStore creates a new PostgreSQL storage
func NewPostgresStore(dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &PostgresStore{
		db:     db,
		logger: logger,
	}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		path TEXT NOT NULL,
		state TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT '',
		parent_id TEXT NOT NULL DEFAULT '',
		search_text TEXT NOT NULL DEFAULT '',
		data JSONB NOT NULL,
		last_updated TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS index_runs (
		root TEXT PRIMARY KEY,
		indexed_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS change_log (
		seq BIGSERIAL PRIMARY KEY,
		entity_id TEXT NOT NULL,
		action TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entities_path ON entities(path);
	CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const postgresUpsert = `
	INSERT INTO entities (id, name, type, path, state, language, parent_id, search_text, data, last_updated)
	VALUES (:id, :name, :type, :path, :state, :language, :parent_id, :search_text, CAST(:data AS JSONB), :last_updated)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		type = EXCLUDED.type,
		path = EXCLUDED.path,
		state = EXCLUDED.state,
		language = EXCLUDED.language,
		parent_id = EXCLUDED.parent_id,
		search_text = EXCLUDED.search_text,
		data = EXCLUDED.data,
		last_updated = EXCLUDED.last_updated
`

func (s *PostgresStore) UpsertEntity(ctx context.Context, e *models.Entity) error {
	row, err := toRow(e)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, postgresUpsert, row); err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertEntities(ctx context.Context, entities []*models.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entities {
		row, err := toRow(e)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, postgresUpsert, row); err != nil {
			return fmt.Errorf("upsert entity: %w", err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	var row entityRow
	query := `SELECT id, name, type, path, state, language, parent_id, search_text, data::text AS data, last_updated
		FROM entities WHERE id = $1`

	err := s.db.GetContext(ctx, &row, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get entity: %w", err)
	}

	return row.entity()
}

func (s *PostgresStore) ListEntities(ctx context.Context) ([]*models.Entity, error) {
	var rows []entityRow
	query := `SELECT id, name, type, path, state, language, parent_id, search_text, data::text AS data, last_updated
		FROM entities ORDER BY id`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
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

func (s *PostgresStore) DeleteEntity(ctx context.Context, id string) error {
	return s.DeleteEntities(ctx, []string{id})
}

// DeleteEntities removes a batch of ids in one statement
func (s *PostgresStore) DeleteEntities(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("delete entities: %w", err)
	}
	return nil
}

func (s *PostgresStore) SearchEntities(ctx context.Context, text string, limit int) ([]models.SearchHit, error) {
	terms := models.SearchTerms(text)
	if len(terms) == 0 {
		return nil, nil
	}

	score := termScore(terms, func(i int) string {
		return "strpos(search_text, $" + strconv.Itoa(i+1) + ") > 0"
	})
	query := `SELECT id, score FROM (
		SELECT id, ` + score + ` AS score FROM entities WHERE state <> 'archived'
	) ranked WHERE score > 0 ORDER BY score DESC, id`

	args := make([]interface{}, 0, len(terms)+1)
	for _, t := range terms {
		args = append(args, t)
	}
	if limit > 0 {
		query += ` LIMIT $` + strconv.Itoa(len(args)+1)
		args = append(args, limit)
	}

	var hits []models.SearchHit
	if err := s.db.SelectContext(ctx, &hits, query, args...); err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}
	return hits, nil
}

func (s *PostgresStore) GetLastIndexTime(ctx context.Context, root string) (time.Time, error) {
	var t time.Time
	err := s.db.GetContext(ctx, &t, `SELECT indexed_at FROM index_runs WHERE root = $1`, root)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("get last index time: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) SetLastIndexTime(ctx context.Context, root string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_runs (root, indexed_at) VALUES ($1, $2)
		ON CONFLICT (root) DO UPDATE SET indexed_at = EXCLUDED.indexed_at`, root, t.UTC())
	if err != nil {
		return fmt.Errorf("set last index time: %w", err)
	}
	return nil
}

func (s *PostgresStore) LogChange(ctx context.Context, rec ChangeRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO change_log (entity_id, action, detail, at) VALUES (:entity_id, :action, :detail, :at)`, rec)
	if err != nil {
		return fmt.Errorf("log change: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentChanges(ctx context.Context, limit int) ([]ChangeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []ChangeRecord
	err := s.db.SelectContext(ctx, &records,
		`SELECT entity_id, action, detail, at FROM change_log ORDER BY seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent changes: %w", err)
	}
	return records, nil
}
