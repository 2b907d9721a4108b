package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/entitystore/internal/config"
	"github.com/rohankatakam/entitystore/internal/models"
)

// Key prefixes of the typed helpers
const (
	PrefixEntity = "entity:"
	PrefixParse  = "parse:"
	PrefixQuery  = "query:"
)

// Invalidator is the slice of the manager the registry depends on
type Invalidator interface {
	InvalidatePattern(ctx context.Context, pattern string) (int, error)
}

// TierStats counts lookups served by one tier
type TierStats struct {
	Name string `json:"name"`
	Hits int64  `json:"hits"`
}

// Stats is a snapshot of manager counters
type Stats struct {
	Tiers         []TierStats `json:"tiers"`
	Misses        int64       `json:"misses"`
	Sets          int64       `json:"sets"`
	Invalidations int64       `json:"invalidations"`
	Errors        int64       `json:"errors"`
}

// HitRate returns the fraction of lookups served by any tier
func (s Stats) HitRate() float64 {
	var hits int64
	for _, t := range s.Tiers {
		hits += t.Hits
	}
	if hits+s.Misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+s.Misses)
}

// Manager reads through its tiers in order, promoting lower-tier hits,
// and writes through to all of them. Tier failures are logged and treated
// as misses; the cache is never a source of truth.
type Manager struct {
	tiers      []Tier
	logger     *logrus.Logger
	promoteTTL time.Duration

	// Invalidation holds mu exclusively so no concurrent Get can observe
	// a key that is half-way through removal.
	mu sync.RWMutex

	hits          []atomic.Int64
	misses        atomic.Int64
	sets          atomic.Int64
	invalidations atomic.Int64
	errors        atomic.Int64
}

// NewManager creates a manager over tiers, fastest first
func NewManager(logger *logrus.Logger, tiers ...Tier) *Manager {
	return &Manager{
		tiers:      tiers,
		logger:     logger,
		promoteTTL: 5 * time.Minute,
		hits:       make([]atomic.Int64, len(tiers)),
	}
}

// NewFromConfig builds L1 memory, the configured L2 and the optional L3
// bolt tier. A tier that cannot be opened is skipped with a warning.
func NewFromConfig(ctx context.Context, cfg config.CacheConfig, logger *logrus.Logger) (*Manager, error) {
	memory, err := NewMemoryTier(cfg.MemoryEntries)
	if err != nil {
		return nil, err
	}
	tiers := []Tier{memory}

	switch cfg.L2 {
	case "badger":
		if badgerTier, err := NewBadgerTier(filepath.Join(cfg.Directory, "badger")); err != nil {
			logger.WithError(err).Warn("badger cache tier unavailable")
		} else {
			tiers = append(tiers, badgerTier)
		}
	case "redis":
		if redisTier, err := NewRedisTier(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger); err != nil {
			logger.WithError(err).Warn("redis cache tier unavailable")
		} else {
			tiers = append(tiers, redisTier)
		}
	}

	if cfg.L3 {
		if boltTier, err := NewBoltTier(filepath.Join(cfg.Directory, "index.bolt")); err != nil {
			logger.WithError(err).Warn("bolt cache tier unavailable")
		} else {
			tiers = append(tiers, boltTier)
		}
	}

	m := NewManager(logger, tiers...)
	if cfg.QueryTTL > 0 {
		m.promoteTTL = cfg.QueryTTL
	}
	return m, nil
}

// Tiers returns the tier names in lookup order
func (m *Manager) Tiers() []string {
	names := make([]string, len(m.tiers))
	for i, t := range m.tiers {
		names[i] = t.Name()
	}
	return names
}

// Get returns the first hit, copying it into the faster tiers
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, tier := range m.tiers {
		value, ok, err := tier.Get(ctx, key)
		if err != nil {
			m.tierError(tier, "get", key, err)
			continue
		}
		if !ok {
			continue
		}
		m.hits[i].Add(1)
		for j := 0; j < i; j++ {
			if err := m.tiers[j].Set(ctx, key, value, m.promoteTTL); err != nil {
				m.tierError(m.tiers[j], "promote", key, err)
			}
		}
		return value, true
	}

	m.misses.Add(1)
	return nil, false
}

// Set writes key to every tier
func (m *Manager) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.sets.Add(1)
	for _, tier := range m.tiers {
		if err := tier.Set(ctx, key, value, ttl); err != nil {
			m.tierError(tier, "set", key, err)
		}
	}
}

// Delete removes key from every tier
func (m *Manager) Delete(ctx context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tier := range m.tiers {
		if err := tier.Delete(ctx, key); err != nil {
			m.tierError(tier, "delete", key, err)
		}
	}
}

// InvalidatePattern removes every key matching pattern from every tier
// and returns the total removed. The first tier error is returned after
// all tiers have been tried.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.invalidations.Add(1)
	total := 0
	var firstErr error
	for _, tier := range m.tiers {
		n, err := tier.InvalidatePattern(ctx, pattern)
		total += n
		if err != nil {
			m.tierError(tier, "invalidate", pattern, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("invalidate %s on %s: %w", pattern, tier.Name(), err)
			}
		}
	}

	m.logger.WithFields(logrus.Fields{"pattern": pattern, "removed": total}).Debug("cache invalidated")
	return total, firstErr
}

// Clear empties every tier
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, tier := range m.tiers {
		if err := tier.Clear(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("clear %s: %w", tier.Name(), err)
		}
	}
	return firstErr
}

// Close closes every tier
func (m *Manager) Close() error {
	var firstErr error
	for _, tier := range m.tiers {
		if err := tier.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats returns a snapshot of the counters
func (m *Manager) Stats() Stats {
	s := Stats{
		Misses:        m.misses.Load(),
		Sets:          m.sets.Load(),
		Invalidations: m.invalidations.Load(),
		Errors:        m.errors.Load(),
	}
	for i, tier := range m.tiers {
		s.Tiers = append(s.Tiers, TierStats{Name: tier.Name(), Hits: m.hits[i].Load()})
	}
	return s
}

func (m *Manager) tierError(tier Tier, op, key string, err error) {
	m.errors.Add(1)
	m.logger.WithError(err).WithFields(logrus.Fields{
		"tier": tier.Name(),
		"op":   op,
		"key":  key,
	}).Warn("cache tier error")
}

// GetJSON decodes a cached JSON value into target
func (m *Manager) GetJSON(ctx context.Context, key string, target interface{}) bool {
	data, ok := m.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, target); err != nil {
		m.logger.WithError(err).WithField("key", key).Warn("dropping undecodable cache entry")
		m.Delete(ctx, key)
		return false
	}
	return true
}

// SetJSON caches v encoded as JSON
func (m *Manager) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	m.Set(ctx, key, data, ttl)
	return nil
}

// EntityKey is the cache key of one entity
func EntityKey(id string) string {
	return PrefixEntity + id
}

// ParseKey is the cache key of the parse result of path at mtime
func ParseKey(path string, mtime time.Time) string {
	return fmt.Sprintf("%s%s:%d", PrefixParse, path, mtime.UnixNano())
}

// QueryKey hashes a canonical query description into a cache key
func QueryKey(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return PrefixQuery + hex.EncodeToString(sum[:])[:32]
}

// GetEntity returns a cached entity
func (m *Manager) GetEntity(ctx context.Context, id string) (*models.Entity, bool) {
	var e models.Entity
	if !m.GetJSON(ctx, EntityKey(id), &e) {
		return nil, false
	}
	return &e, true
}

// SetEntity caches an entity
func (m *Manager) SetEntity(ctx context.Context, e *models.Entity, ttl time.Duration) error {
	return m.SetJSON(ctx, EntityKey(e.ID), e, ttl)
}

// GetParse returns the cached entities of path parsed at mtime
func (m *Manager) GetParse(ctx context.Context, path string, mtime time.Time) ([]*models.Entity, bool) {
	var entities []*models.Entity
	if !m.GetJSON(ctx, ParseKey(path, mtime), &entities) {
		return nil, false
	}
	return entities, true
}

// SetParse caches the entities parsed from path at mtime
func (m *Manager) SetParse(ctx context.Context, path string, mtime time.Time, entities []*models.Entity, ttl time.Duration) error {
	return m.SetJSON(ctx, ParseKey(path, mtime), entities, ttl)
}
