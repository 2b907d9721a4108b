package cache

import (
	"context"
	"io"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/entitystore/internal/config"
	"github.com/rohankatakam/entitystore/internal/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// allTiers returns one instance of every tier implementation
func allTiers(t *testing.T) []Tier {
	t.Helper()
	ctx := context.Background()

	memory, err := NewMemoryTier(100)
	require.NoError(t, err)

	badgerTier, err := NewBadgerTier("")
	require.NoError(t, err)

	boltTier, err := NewBoltTier(filepath.Join(t.TempDir(), "cache", "index.bolt"))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	redisTier, err := NewRedisTier(ctx, mr.Addr(), "", 0, quietLogger())
	require.NoError(t, err)

	tiers := []Tier{memory, badgerTier, boltTier, redisTier}
	t.Cleanup(func() {
		for _, tier := range tiers {
			tier.Close()
		}
	})
	return tiers
}

func TestTiersBasicOperations(t *testing.T) {
	ctx := context.Background()
	for _, tier := range allTiers(t) {
		t.Run(tier.Name(), func(t *testing.T) {
			_, ok, err := tier.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, tier.Set(ctx, "k", []byte("v"), 0))
			value, ok, err := tier.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("v"), value)

			require.NoError(t, tier.Set(ctx, "empty", []byte{}, 0))
			_, ok, err = tier.Get(ctx, "empty")
			require.NoError(t, err)
			assert.True(t, ok, "empty values are still hits")

			require.NoError(t, tier.Delete(ctx, "k"))
			_, ok, err = tier.Get(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, tier.Clear(ctx))
			_, ok, err = tier.Get(ctx, "empty")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestTiersInvalidatePattern(t *testing.T) {
	ctx := context.Background()
	for _, tier := range allTiers(t) {
		t.Run(tier.Name(), func(t *testing.T) {
			for _, k := range []string{"doc:a", "doc:b", "other:c"} {
				require.NoError(t, tier.Set(ctx, k, []byte(k), 0))
			}

			n, err := tier.InvalidatePattern(ctx, "doc:*")
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			for _, k := range []string{"doc:a", "doc:b"} {
				_, ok, err := tier.Get(ctx, k)
				require.NoError(t, err)
				assert.False(t, ok, k)
			}
			value, ok, err := tier.Get(ctx, "other:c")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("other:c"), value)
		})
	}
}

func TestMemoryTierExpiry(t *testing.T) {
	ctx := context.Background()
	tier, err := NewMemoryTier(0)
	require.NoError(t, err)

	require.NoError(t, tier.Set(ctx, "short", []byte("x"), time.Millisecond))
	require.NoError(t, tier.Set(ctx, "forever", []byte("y"), 0))
	time.Sleep(5 * time.Millisecond)

	_, ok, _ := tier.Get(ctx, "short")
	assert.False(t, ok)
	_, ok, _ = tier.Get(ctx, "forever")
	assert.True(t, ok)
}

func TestBoltTierExpiry(t *testing.T) {
	ctx := context.Background()
	tier, err := NewBoltTier(filepath.Join(t.TempDir(), "c.bolt"))
	require.NoError(t, err)
	defer tier.Close()

	require.NoError(t, tier.Set(ctx, "short", []byte("x"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, ok, err := tier.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisTierIsNamespaced(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("foreign:key", "keep"))

	tier, err := NewRedisTier(ctx, mr.Addr(), "", 0, quietLogger())
	require.NoError(t, err)
	defer tier.Close()

	require.NoError(t, tier.Set(ctx, "doc:a", []byte("1"), time.Minute))
	assert.True(t, mr.Exists(DefaultRedisPrefix+"doc:a"))

	require.NoError(t, tier.Clear(ctx))
	assert.False(t, mr.Exists(DefaultRedisPrefix+"doc:a"))
	assert.True(t, mr.Exists("foreign:key"))
}

func TestManagerInvalidatesBracketPaths(t *testing.T) {
	ctx := context.Background()
	m := NewManager(quietLogger(), allTiers(t)...)

	key := "entity-doc:app/[id]/page.tsx"
	m.Set(ctx, key, []byte("old"), time.Minute)
	m.Set(ctx, "entity-doc:app/i/page.tsx", []byte("keep"), time.Minute)

	_, err := m.InvalidatePattern(ctx, "*app/[id]/page.tsx*")
	require.NoError(t, err)

	_, ok := m.Get(ctx, key)
	assert.False(t, ok, "no tier may serve the invalidated key")
	v, ok := m.Get(ctx, "entity-doc:app/i/page.tsx")
	assert.True(t, ok)
	assert.Equal(t, "keep", string(v))
}

func TestRedisGlob(t *testing.T) {
	assert.Equal(t, `*app/\[id\]/page.tsx*`, redisGlob("*app/[id]/page.tsx*"))
	assert.Equal(t, "doc:*", redisGlob("doc:*"))
}

func TestRedisTierUnreachable(t *testing.T) {
	_, err := NewRedisTier(context.Background(), "127.0.0.1:1", "", 0, quietLogger())
	assert.Error(t, err)

	_, err = NewRedisTier(context.Background(), "", "", 0, quietLogger())
	assert.Error(t, err)
}

func TestManagerPatternInvalidation(t *testing.T) {
	ctx := context.Background()
	m := NewManager(quietLogger(), allTiers(t)...)

	for _, k := range []string{"doc:a", "doc:b", "other:c"} {
		m.Set(ctx, k, []byte(k), time.Minute)
	}

	n, err := m.InvalidatePattern(ctx, "doc:*")
	require.NoError(t, err)
	assert.Equal(t, 8, n, "two keys in each of four tiers")

	_, ok := m.Get(ctx, "doc:a")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "doc:b")
	assert.False(t, ok)
	value, ok := m.Get(ctx, "other:c")
	assert.True(t, ok)
	assert.Equal(t, []byte("other:c"), value)
}

func TestManagerPromotesLowerTierHits(t *testing.T) {
	ctx := context.Background()
	memory, err := NewMemoryTier(10)
	require.NoError(t, err)
	boltTier, err := NewBoltTier(filepath.Join(t.TempDir(), "c.bolt"))
	require.NoError(t, err)
	m := NewManager(quietLogger(), memory, boltTier)
	defer m.Close()

	require.NoError(t, boltTier.Set(ctx, "warm", []byte("v"), 0))

	value, ok := m.Get(ctx, "warm")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), value)

	_, inMemory, _ := memory.Get(ctx, "warm")
	assert.True(t, inMemory)

	_, ok = m.Get(ctx, "warm")
	assert.True(t, ok)
	_, ok = m.Get(ctx, "cold")
	assert.False(t, ok)

	stats := m.Stats()
	require.Len(t, stats.Tiers, 2)
	assert.Equal(t, int64(1), stats.Tiers[0].Hits)
	assert.Equal(t, int64(1), stats.Tiers[1].Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate(), 0.001)
}

func TestManagerTypedHelpers(t *testing.T) {
	ctx := context.Background()
	memory, err := NewMemoryTier(10)
	require.NoError(t, err)
	m := NewManager(quietLogger(), memory)

	e := &models.Entity{ID: "e1", Name: "Foo", Type: models.TypeClass, Path: "a.py"}
	require.NoError(t, m.SetEntity(ctx, e, time.Minute))
	got, ok := m.GetEntity(ctx, "e1")
	require.True(t, ok)
	assert.Equal(t, "Foo", got.Name)

	mtime := time.Unix(1700000000, 0)
	require.NoError(t, m.SetParse(ctx, "a.py", mtime, []*models.Entity{e}, 0))
	parsed, ok := m.GetParse(ctx, "a.py", mtime)
	require.True(t, ok)
	assert.Len(t, parsed, 1)
	_, ok = m.GetParse(ctx, "a.py", mtime.Add(time.Second))
	assert.False(t, ok)

	// A path pattern drops every cached parse of that file
	n, err := m.InvalidatePattern(ctx, "*a.py*")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	memory.Set(ctx, "query:bad", []byte("{not json"), 0)
	var target map[string]interface{}
	assert.False(t, m.GetJSON(ctx, "query:bad", &target))
	_, ok, _ = memory.Get(ctx, "query:bad")
	assert.False(t, ok, "undecodable entries are dropped")

	assert.True(t, len(QueryKey("x")) > len(PrefixQuery))
	assert.Equal(t, QueryKey("same"), QueryKey("same"))
}

func TestNewFromConfig(t *testing.T) {
	dir := t.TempDir()
	m, err := NewFromConfig(context.Background(), config.CacheConfig{
		Directory:     dir,
		MemoryEntries: 10,
		L2:            "badger",
		L3:            true,
	}, quietLogger())
	require.NoError(t, err)
	defer m.Close()

	names := m.Tiers()
	assert.Equal(t, []string{"memory", "badger", "bolt"}, names)

	// An unreachable redis is skipped, not fatal
	m2, err := NewFromConfig(context.Background(), config.CacheConfig{L2: "redis", RedisAddr: "127.0.0.1:1"}, quietLogger())
	require.NoError(t, err)
	defer m2.Close()
	assert.Equal(t, []string{"memory"}, m2.Tiers())
}

func TestMatch(t *testing.T) {
	keys := []string{"parse:src/a.py:1", "parse:src/b.py:1", "query:abc", "entity:1"}
	var matched []string
	for _, k := range keys {
		if Match(k, "*src/a.py*") {
			matched = append(matched, k)
		}
	}
	sort.Strings(matched)
	assert.Equal(t, []string{"parse:src/a.py:1"}, matched)
	assert.True(t, Match("query:abc", "query:*"))
	assert.True(t, Match("entity:1", "entity:?"))
	assert.False(t, Match("entity:12", "entity:?"))
}
