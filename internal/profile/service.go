// Package profile serves distribution profiles from the cache, computing
// them on a miss. Computations for one account are shared between
// concurrent callers, and at most one computation runs at a time across
// the process.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/postpulse/postpulse/internal/metrics"
	"github.com/postpulse/postpulse/internal/store"
	"github.com/postpulse/postpulse/pkg/types"
)

// DefaultComputeTimeout bounds one shared computation, including the wait
// for the compute slot.
const DefaultComputeTimeout = 5 * time.Minute

// ErrUnavailable is returned when the first timeline page could not be
// loaded, so no profile data exists.
var ErrUnavailable = errors.New("profile: timeline unavailable")

// Computer produces a profile for one account. *engine.Engine implements it.
type Computer interface {
	ComputeDistribution(ctx context.Context, account string) (*types.DistributionResult, error)
}

// Service combines the engine with the profile cache.
type Service struct {
	compute Computer
	store   *store.Store
	metrics *metrics.Collectors

	sem     *semaphore.Weighted
	group   singleflight.Group
	timeout time.Duration

	onStore func()
}

// New returns a Service. m may be nil.
func New(c Computer, st *store.Store, m *metrics.Collectors) *Service {
	return &Service{
		compute: c,
		store:   st,
		metrics: m,
		sem:     semaphore.NewWeighted(1),
		timeout: DefaultComputeTimeout,
	}
}

// OnStore registers fn to run after every stored profile. It must not block
// and must be set before the Service is shared.
func (s *Service) OnStore(fn func()) {
	s.onStore = fn
}

// Store returns the profile cache.
func (s *Service) Store() *store.Store {
	return s.store
}

// Lookup returns account's cached profile if it is fresh, computing it
// otherwise. bypass forces a computation. cached reports a cache hit.
func (s *Service) Lookup(ctx context.Context, account string, bypass bool) (e *store.Entry, cached bool, err error) {
	if !bypass {
		if e, ok := s.store.Fresh(account); ok {
			s.metrics.CacheHit()
			return e, true, nil
		}
	}
	s.metrics.CacheMiss()
	e, err = s.Refresh(ctx, account)
	return e, false, err
}

// Refresh computes account's profile and stores it. A failed computation
// leaves the previous entry in place.
//
// Concurrent callers for one account share a computation that is detached
// from their contexts: a caller whose ctx ends gets ctx.Err() right away,
// the others keep waiting, and the result is stored either way.
func (s *Service) Refresh(ctx context.Context, account string) (*store.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := s.group.DoChan(strings.ToLower(account), func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.computeAndStore(fctx, account)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*store.Entry), nil
	}
}

// computeAndStore runs one computation in the process-wide compute slot.
func (s *Service) computeAndStore(ctx context.Context, account string) (*store.Entry, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("profile: wait for compute slot: %w", err)
	}
	defer s.sem.Release(1)

	res, err := s.compute.ComputeDistribution(ctx, account)
	if err != nil {
		return nil, err
	}
	if res.Report.Unavailable() {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, res.Report.Pages[0].Error)
	}
	e := s.store.Put(res)
	if s.onStore != nil {
		s.onStore()
	}
	return e, nil
}
