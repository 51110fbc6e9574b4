// Package refresh keeps the profiles of tracked accounts warm in the store.
// Accounts are recomputed one after another, never concurrently.
package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/postpulse/postpulse/internal/engine"
	"github.com/postpulse/postpulse/internal/profile"
	"github.com/postpulse/postpulse/internal/store"
)

// Source recomputes and stores one account's profile, keeping the previous
// entry on failure. *profile.Service implements it.
type Source interface {
	Refresh(ctx context.Context, account string) (*store.Entry, error)
	Store() *store.Store
}

// Refresher recomputes tracked accounts on a fixed interval.
type Refresher struct {
	source Source

	mu       sync.Mutex
	accounts []string
	interval time.Duration

	updated chan struct{}
}

// New returns a Refresher for accounts. An interval of zero computes each
// account once when Run starts and never again.
func New(src Source, accounts []string, interval time.Duration) *Refresher {
	return &Refresher{
		source:   src,
		accounts: append([]string(nil), accounts...),
		interval: interval,
		updated:  make(chan struct{}, 1),
	}
}

// Accounts returns a copy of the tracked account list.
func (r *Refresher) Accounts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.accounts...)
}

// Interval returns the current refresh interval.
func (r *Refresher) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// Update replaces the tracked accounts and interval. A running loop restarts
// its timer and computes accounts that have no fresh profile yet.
func (r *Refresher) Update(accounts []string, interval time.Duration) {
	r.mu.Lock()
	r.accounts = append([]string(nil), accounts...)
	r.interval = interval
	r.mu.Unlock()

	select {
	case r.updated <- struct{}{}:
	default:
	}
}

// RefreshAll recomputes every tracked account once and returns how many
// were stored.
func (r *Refresher) RefreshAll(ctx context.Context) int {
	return r.refresh(ctx, r.Accounts())
}

// RefreshMissing computes the tracked accounts without a fresh profile.
func (r *Refresher) RefreshMissing(ctx context.Context) int {
	var missing []string
	for _, a := range r.Accounts() {
		if _, ok := r.source.Store().Fresh(a); !ok {
			missing = append(missing, a)
		}
	}
	return r.refresh(ctx, missing)
}

func (r *Refresher) refresh(ctx context.Context, accounts []string) int {
	stored := 0
	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}
		if r.refreshOne(ctx, account) {
			stored++
		}
	}
	return stored
}

func (r *Refresher) refreshOne(ctx context.Context, account string) bool {
	e, err := r.source.Refresh(ctx, account)
	switch {
	case errors.Is(err, engine.ErrAccountNotFound):
		slog.Warn("refresh: account not found", "account", account)
		return false
	case errors.Is(err, profile.ErrUnavailable):
		slog.Warn("refresh: keeping previous profile", "account", account, "err", err)
		return false
	case err != nil:
		if ctx.Err() == nil {
			slog.Error("refresh: compute failed", "account", account, "err", err)
		}
		return false
	}

	slog.Debug("refresh: profile stored",
		"account", account, "posts", e.Profile.Report.Posts, "failed", e.Profile.Report.Failed)
	return true
}

// Run computes all tracked accounts immediately and then every interval,
// until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	n := r.RefreshAll(ctx)
	slog.Info("refresh: initial round complete", "stored", n, "accounts", len(r.Accounts()))

	var timer *time.Timer
	var tick <-chan time.Time
	arm := func() {
		if timer != nil {
			timer.Stop()
		}
		tick = nil
		if d := r.Interval(); d > 0 {
			timer = time.NewTimer(d)
			tick = timer.C
		}
	}
	arm()
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.updated:
			arm()
			if n := r.RefreshMissing(ctx); n > 0 {
				slog.Info("refresh: computed new accounts", "stored", n)
			}
		case <-tick:
			n := r.RefreshAll(ctx)
			slog.Info("refresh: round complete", "stored", n)
			arm()
		}
	}
}
