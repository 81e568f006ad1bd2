// Package prom exports server and dataset cache metrics to Prometheus.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/scopeserve"
	"github.com/hupe1980/scopeserve/connection"
)

// Namespace prefixes every metric name.
const Namespace = "scopeserve"

// Collector implements scopeserve.MetricsCollector and connection.Observer.
type Collector struct {
	opLatency *prometheus.HistogramVec
	sessions  *prometheus.CounterVec
	expired   prometheus.Counter
	edits     *prometheus.CounterVec
	opens     *prometheus.CounterVec
	indexes   *prometheus.CounterVec
	rowCache  *prometheus.CounterVec
}

var (
	_ scopeserve.MetricsCollector = (*Collector)(nil)
	_ connection.Observer         = (*Collector)(nil)
)

// New creates the collector and registers its metrics on reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_latency_seconds",
			Help:      "Latency of server operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "session_resolutions_total",
			Help:      "Session resolutions by outcome",
		}, []string{"outcome"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions removed by expiry sweeps",
		}),
		edits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "metadata_edits_total",
			Help:      "Metadata edits by kind and status",
		}, []string{"op", "status"}),
		opens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "dataset_opens_total",
			Help:      "Dataset file opens by mode and status",
		}, []string{"mode", "status"}),
		indexes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "search_indexes_total",
			Help:      "Search indexes obtained, by source",
		}, []string{"source", "status"}),
		rowCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "row_cache_lookups_total",
			Help:      "Expression row cache lookups",
		}, []string{"result"}),
	}

	for _, m := range []prometheus.Collector{c.opLatency, c.sessions, c.expired, c.edits, c.opens, c.indexes, c.rowCache} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordSearch implements scopeserve.MetricsCollector.
func (c *Collector) RecordSearch(_ int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("search", status(err)).Observe(d.Seconds())
}

// RecordColor implements scopeserve.MetricsCollector.
func (c *Collector) RecordColor(_ int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("color", status(err)).Observe(d.Seconds())
}

// RecordSession implements scopeserve.MetricsCollector.
func (c *Collector) RecordSession(created, limitReached bool) {
	outcome := "reconnected"
	if created {
		outcome = "created"
	}
	c.sessions.WithLabelValues(outcome).Inc()
	if limitReached {
		c.sessions.WithLabelValues("limit_reached").Inc()
	}
}

// RecordSweep implements scopeserve.MetricsCollector.
func (c *Collector) RecordSweep(removed int, d time.Duration) {
	c.opLatency.WithLabelValues("sweep", "success").Observe(d.Seconds())
	c.expired.Add(float64(removed))
}

// RecordEdit implements scopeserve.MetricsCollector.
func (c *Collector) RecordEdit(op string, d time.Duration, err error) {
	c.opLatency.WithLabelValues("edit", status(err)).Observe(d.Seconds())
	c.edits.WithLabelValues(op, status(err)).Inc()
}

// OnOpen implements connection.Observer.
func (c *Collector) OnOpen(mode string, d time.Duration, err error) {
	c.opLatency.WithLabelValues("open", status(err)).Observe(d.Seconds())
	c.opens.WithLabelValues(mode, status(err)).Inc()
}

// OnIndex implements connection.Observer.
func (c *Collector) OnIndex(source string, d time.Duration, err error) {
	c.opLatency.WithLabelValues("index_"+source, status(err)).Observe(d.Seconds())
	c.indexes.WithLabelValues(source, status(err)).Inc()
}

// OnRowCache implements connection.Observer.
func (c *Collector) OnRowCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.rowCache.WithLabelValues(result).Inc()
}
