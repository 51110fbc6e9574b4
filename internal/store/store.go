package store

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/postpulse/postpulse/pkg/types"
)

// Entry is a profile together with the time it was computed.
type Entry struct {
	Profile   *types.DistributionResult `json:"profile"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// Store is a thread-safe in-memory profile cache.
// A background goroutine (Run) periodically evicts entries that have not
// been refreshed within the configured TTL.
type Store struct {
	mu   sync.RWMutex
	data map[string]*Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests

	ttlChanged chan struct{}
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,

		ttlChanged: make(chan struct{}, 1),
	}
}

func key(account string) string {
	return strings.ToLower(account)
}

// TTL returns how long an entry is served after it was stored.
func (s *Store) TTL() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ttl
}

// SetTTL replaces the TTL. Existing entries are judged against the new value
// and a running eviction loop switches to the matching interval.
func (s *Store) SetTTL(ttl time.Duration) {
	s.mu.Lock()
	s.ttl = ttl
	s.mu.Unlock()

	select {
	case s.ttlChanged <- struct{}{}:
	default:
	}
}

// Put stores or replaces the profile for p.Account and returns the new entry.
// Callers must not modify p after calling Put.
func (s *Store) Put(p *types.DistributionResult) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &Entry{Profile: p, UpdatedAt: s.now()}
	s.data[key(p.Account)] = e
	return e
}

// Get returns the Entry for account and whether one was found. The entry
// may be stale if the TTL has elapsed.
func (s *Store) Get(account string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key(account)]
	return e, ok
}

// Fresh returns the Entry for account only if it is within the TTL.
func (s *Store) Fresh(account string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key(account)]
	if !ok || !e.UpdatedAt.After(s.now().Add(-s.ttl)) {
		return nil, false
	}
	return e, true
}

// List returns all entries whose UpdatedAt is within the TTL, ordered by
// account. Stale entries that have not yet been evicted are excluded.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		if e.UpdatedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return key(out[i].Profile.Account) < key(out[j].Profile.Account)
	})
	return out
}

// Count returns the total number of entries currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes entries whose UpdatedAt is older than now minus TTL.
// It returns the number of entries removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for id, e := range s.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// evictInterval is half the TTL, at least one second.
func (s *Store) evictInterval() time.Duration {
	interval := s.TTL() / 2
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// Run starts the background TTL eviction loop. It ticks at evictInterval,
// re-reading it after SetTTL, and blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	t := time.NewTicker(s.evictInterval())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ttlChanged:
			t.Reset(s.evictInterval())
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale profiles", "count", n)
			}
		}
	}
}
