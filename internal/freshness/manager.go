// Package freshness evicts cached content that is older than its maximum age.
//
// Eviction only touches the cache tables. Local mutations and queue entries
// are never affected, and readers keep running while a sweep deletes rows.
package freshness

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mrlokans/studysync/internal/entities"
)

// DefaultMaxAge is how long cached content is kept when no policy is set.
const DefaultMaxAge = 7 * 24 * time.Hour

// Store deletes cached records by age.
type Store interface {
	DeleteCachedBefore(ctx context.Context, kind entities.ContentKind, cutoff time.Time) (int64, error)
}

// Policy maps a content kind to its maximum age.
type Policy map[entities.ContentKind]time.Duration

// Manager evicts stale cached content.
type Manager struct {
	store  Store
	policy Policy
	now    func() time.Time
}

// NewManager creates a freshness manager. Kinds missing from policy use
// DefaultMaxAge.
func NewManager(store Store, policy Policy) *Manager {
	return &Manager{store: store, policy: policy, now: time.Now}
}

// NewManagerWithClock creates a manager that reads time from now.
func NewManagerWithClock(store Store, policy Policy, now func() time.Time) *Manager {
	m := NewManager(store, policy)
	m.now = now
	return m
}

// MaxAge returns the configured maximum age for kind.
func (m *Manager) MaxAge(kind entities.ContentKind) time.Duration {
	if age, ok := m.policy[kind]; ok && age > 0 {
		return age
	}
	return DefaultMaxAge
}

// IsFresh reports whether a record cached at cachedAt is still within maxAge
// of now. A record exactly maxAge old is fresh.
func (m *Manager) IsFresh(kind entities.ContentKind, cachedAt time.Time) bool {
	return !cachedAt.Before(m.now().Add(-m.MaxAge(kind)))
}

// EvictOlderThan deletes every cached record of kind whose CachedAt is before
// now - maxAge, returning the number deleted. Running it twice is harmless.
func (m *Manager) EvictOlderThan(ctx context.Context, kind entities.ContentKind, maxAge time.Duration) (int64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("evict: unknown content kind %q", kind)
	}
	if maxAge < 0 {
		return 0, fmt.Errorf("evict %s: max age must not be negative, got %s", kind, maxAge)
	}

	cutoff := m.now().Add(-maxAge)
	deleted, err := m.store.DeleteCachedBefore(ctx, kind, cutoff)
	if err != nil {
		return 0, fmt.Errorf("evict %s: %w", kind, err)
	}
	if deleted > 0 {
		log.Printf("[EVICT] Removed %d cached %s records older than %s", deleted, kind, maxAge)
	}
	return deleted, nil
}

// EvictAll applies the policy to every content kind. It stops at the first
// failure and returns the counts gathered so far.
func (m *Manager) EvictAll(ctx context.Context) (map[entities.ContentKind]int64, error) {
	counts := make(map[entities.ContentKind]int64, len(entities.ContentKinds))
	for _, kind := range entities.ContentKinds {
		deleted, err := m.EvictOlderThan(ctx, kind, m.MaxAge(kind))
		if err != nil {
			return counts, err
		}
		counts[kind] = deleted
	}
	return counts, nil
}
