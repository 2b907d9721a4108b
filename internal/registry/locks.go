package registry

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/entitystore/internal/errors"
)

// Lock is an advisory edit lock. Nothing stops an edit without one.
type Lock struct {
	EntityID   string    `json:"entity_id"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// stale reports whether l has outlived ttl
func (l Lock) stale(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(l.AcquiredAt) > ttl
}

// LockEntity takes the lock on id for holder. It never blocks: false
// means the lock is held, by anyone including holder. A lock older than
// the configured TTL is taken over. Unregistered ids may be locked.
func (r *Registry) LockEntity(id, holder string) bool {
	now := r.opts.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, held := r.locks[id]; held {
		if !existing.stale(now, r.opts.LockTTL) {
			return false
		}
		r.logger.WithFields(logrus.Fields{
			"entity_id":    id,
			"stale_holder": existing.Holder,
			"acquired_at":  existing.AcquiredAt,
			"new_holder":   holder,
		}).Warn("taking over stale lock")
	}
	r.locks[id] = Lock{EntityID: id, Holder: holder, AcquiredAt: now}
	return true
}

// TryLock is LockEntity with a LockConflict error naming the holder
func (r *Registry) TryLock(id, holder string) error {
	if r.LockEntity(id, holder) {
		return nil
	}
	current, _ := r.LockInfo(id)
	return errors.LockConflictError(id, current.Holder)
}

// CheckHolder returns a LockConflict error when a live lock on id is held
// by someone other than holder. An unlocked entity passes.
func (r *Registry) CheckHolder(id, holder string) error {
	now := r.opts.Now()
	r.mu.RLock()
	l, held := r.locks[id]
	r.mu.RUnlock()
	if !held || l.Holder == holder || l.stale(now, r.opts.LockTTL) {
		return nil
	}
	return errors.LockConflictError(id, l.Holder)
}

// UnlockEntity releases the lock on id. It returns false when no lock
// was held.
func (r *Registry) UnlockEntity(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.locks[id]; !held {
		return false
	}
	delete(r.locks, id)
	return true
}

// LockInfo returns the lock held on id
func (r *Registry) LockInfo(id string) (Lock, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.locks[id]
	return l, ok
}

// Locks returns every held lock ordered by entity id
func (r *Registry) Locks() []Lock {
	r.mu.RLock()
	out := make([]Lock, 0, len(r.locks))
	for _, l := range r.locks {
		out = append(out, l)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}
