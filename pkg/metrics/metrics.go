// Package metrics exposes Prometheus collectors for capability resolution and the instance cache.
package metrics

import (
	"time"

	"github.com/dukex/capgraph/pkg/cache"
	"github.com/dukex/capgraph/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "capgraph"

// Collectors groups every metric of the capability host.
type Collectors struct {
	Resolutions        *prometheus.CounterVec
	ResolutionDuration *prometheus.HistogramVec
	MemoHits           *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	CacheConstructions *prometheus.HistogramVec
	CacheEvictions     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg when reg is not nil.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Capability resolutions by connection type and outcome.",
		}, []string{"connection_type", "outcome"}),
		ResolutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_duration_seconds",
			Help:      "Time spent supplying a capability, upstream resolutions included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"connection_type"}),
		MemoHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_memo_hits_total",
			Help:      "Resolutions answered from the per-run memo.",
		}, []string{"connection_type"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Capability instance cache lookups by result.",
		}, []string{"result"}),
		CacheConstructions: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cache_construction_duration_seconds",
			Help:      "Time spent constructing cached capability instances.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Capability instance cache evictions by reason.",
		}, []string{"reason"}),
	}

	if reg != nil {
		reg.MustRegister(
			c.Resolutions,
			c.ResolutionDuration,
			c.MemoHits,
			c.CacheLookups,
			c.CacheConstructions,
			c.CacheEvictions,
		)
	}

	return c
}

// Resolved records a capability supply through a port.
func (c *Collectors) Resolved(kind models.ConnectionType, duration time.Duration, err error) {
	c.Resolutions.WithLabelValues(string(kind), outcome(err)).Inc()
	c.ResolutionDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

// MemoHit records a resolution served from the run memo.
func (c *Collectors) MemoHit(kind models.ConnectionType) {
	c.MemoHits.WithLabelValues(string(kind)).Inc()
}

// Cache returns an observer for the capability instance cache.
// Scopes are workflow IDs and are deliberately not used as labels.
func (c *Collectors) Cache() cache.Metrics {
	return cacheObserver{c: c}
}

type cacheObserver struct {
	c *Collectors
}

func (o cacheObserver) Hit(string) {
	o.c.CacheLookups.WithLabelValues("hit").Inc()
}

func (o cacheObserver) Miss(string) {
	o.c.CacheLookups.WithLabelValues("miss").Inc()
}

func (o cacheObserver) Constructed(_ string, duration time.Duration, err error) {
	o.c.CacheConstructions.WithLabelValues(outcome(err)).Observe(duration.Seconds())
}

func (o cacheObserver) Evicted(_ string, reason cache.EvictionReason) {
	o.c.CacheEvictions.WithLabelValues(string(reason)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
