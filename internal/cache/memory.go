package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryEntries bounds the L1 tier when no size is configured
const DefaultMemoryEntries = 10000

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryTier is the in-process L1 tier: a bounded LRU with per-entry expiry
type MemoryTier struct {
	lru *lru.Cache[string, memoryEntry]
}

// NewMemoryTier creates an LRU tier holding at most size entries
func NewMemoryTier(size int) (*MemoryTier, error) {
	if size <= 0 {
		size = DefaultMemoryEntries
	}
	c, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &MemoryTier{lru: c}, nil
}

func (m *MemoryTier) Name() string { return "memory" }

func (m *MemoryTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		m.lru.Remove(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *MemoryTier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.lru.Add(key, memoryEntry{value: value, expires: expiry(ttl)})
	return nil
}

func (m *MemoryTier) Delete(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

func (m *MemoryTier) InvalidatePattern(_ context.Context, pattern string) (int, error) {
	removed := 0
	for _, key := range m.lru.Keys() {
		if Match(key, pattern) && m.lru.Remove(key) {
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryTier) Clear(_ context.Context) error {
	m.lru.Purge()
	return nil
}

func (m *MemoryTier) Close() error { return nil }

// Len returns the number of resident entries, expired ones included
func (m *MemoryTier) Len() int {
	return m.lru.Len()
}
