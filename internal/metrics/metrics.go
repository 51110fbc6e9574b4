// Package metrics holds the Prometheus collectors for the fetch engine,
// the profile cache and the API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Page outcomes.
const (
	PageOK     = "ok"
	PageEmpty  = "empty"
	PageFailed = "failed"
)

// Skip reasons.
const (
	SkipParse     = "parse"
	SkipDuplicate = "duplicate"
)

// Computation results.
const (
	ResultOK       = "ok"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// Collectors groups every metric the service exports. A nil *Collectors is
// valid and records nothing.
type Collectors struct {
	registry *prometheus.Registry

	PagesFetched    *prometheus.CounterVec
	PageRetries     prometheus.Counter
	RecordsSkipped  *prometheus.CounterVec
	ComputeDuration prometheus.Histogram
	Computations    *prometheus.CounterVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a dedicated registry.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),

		PagesFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postpulse_pages_fetched_total",
				Help: "Timeline pages requested, by outcome",
			},
			[]string{"outcome"},
		),
		PageRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postpulse_page_retries_total",
			Help: "Page requests retried after a transport error",
		}),
		RecordsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postpulse_records_skipped_total",
				Help: "Posts left out of the histograms, by reason",
			},
			[]string{"reason"},
		),
		ComputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "postpulse_compute_duration_seconds",
			Help:    "Wall time of one distribution computation",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		Computations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postpulse_computations_total",
				Help: "Distribution computations, by result",
			},
			[]string{"result"},
		),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postpulse_cache_hits_total",
			Help: "Profile requests served from cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postpulse_cache_misses_total",
			Help: "Profile requests that required a computation",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.PagesFetched,
		c.PageRetries,
		c.RecordsSkipped,
		c.ComputeDuration,
		c.Computations,
		c.CacheHits,
		c.CacheMisses,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collectors) PageFetched(outcome string) {
	if c == nil {
		return
	}
	c.PagesFetched.WithLabelValues(outcome).Inc()
}

func (c *Collectors) PageRetried() {
	if c == nil {
		return
	}
	c.PageRetries.Inc()
}

func (c *Collectors) RecordSkipped(reason string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.RecordsSkipped.WithLabelValues(reason).Add(float64(n))
}

func (c *Collectors) ComputeFinished(result string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.Computations.WithLabelValues(result).Inc()
	c.ComputeDuration.Observe(elapsed.Seconds())
}

func (c *Collectors) CacheHit() {
	if c == nil {
		return
	}
	c.CacheHits.Inc()
}

func (c *Collectors) CacheMiss() {
	if c == nil {
		return
	}
	c.CacheMisses.Inc()
}
