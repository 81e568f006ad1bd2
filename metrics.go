package scopeserve

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; package
// metrics/prom provides a Prometheus implementation.
//
// A collector that also implements connection.Observer receives the dataset
// cache events.
type MetricsCollector interface {
	// RecordSearch is called after each search. categories is the number of
	// result groups returned.
	RecordSearch(categories int, duration time.Duration, err error)

	// RecordColor is called after each colouring request.
	RecordColor(features int, duration time.Duration, err error)

	// RecordSession is called after each session resolution.
	RecordSession(created, limitReached bool)

	// RecordSweep is called after each expiry sweep with the number of
	// sessions removed.
	RecordSweep(removed int, duration time.Duration)

	// RecordEdit is called after each metadata edit.
	RecordEdit(op string, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)  {}
func (NoopMetricsCollector) RecordColor(int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordSession(bool, bool)                {}
func (NoopMetricsCollector) RecordSweep(int, time.Duration)          {}
func (NoopMetricsCollector) RecordEdit(string, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	ColorCount       atomic.Int64
	ColorErrors      atomic.Int64
	ColorTotalNanos  atomic.Int64
	SessionCount     atomic.Int64
	SessionsCreated  atomic.Int64
	SessionsLimited  atomic.Int64
	SweepCount       atomic.Int64
	SessionsExpired  atomic.Int64
	EditCount        atomic.Int64
	EditErrors       atomic.Int64
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordColor implements MetricsCollector.
func (b *BasicMetricsCollector) RecordColor(_ int, duration time.Duration, err error) {
	b.ColorCount.Add(1)
	b.ColorTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ColorErrors.Add(1)
	}
}

// RecordSession implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSession(created, limitReached bool) {
	b.SessionCount.Add(1)
	if created {
		b.SessionsCreated.Add(1)
	}
	if limitReached {
		b.SessionsLimited.Add(1)
	}
}

// RecordSweep implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSweep(removed int, _ time.Duration) {
	b.SweepCount.Add(1)
	b.SessionsExpired.Add(int64(removed))
}

// RecordEdit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEdit(_ string, _ time.Duration, err error) {
	b.EditCount.Add(1)
	if err != nil {
		b.EditErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		SearchCount:     b.SearchCount.Load(),
		SearchErrors:    b.SearchErrors.Load(),
		SearchAvgNanos:  avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
		ColorCount:      b.ColorCount.Load(),
		ColorErrors:     b.ColorErrors.Load(),
		ColorAvgNanos:   avg(b.ColorTotalNanos.Load(), b.ColorCount.Load()),
		SessionCount:    b.SessionCount.Load(),
		SessionsCreated: b.SessionsCreated.Load(),
		SessionsLimited: b.SessionsLimited.Load(),
		SweepCount:      b.SweepCount.Load(),
		SessionsExpired: b.SessionsExpired.Load(),
		EditCount:       b.EditCount.Load(),
		EditErrors:      b.EditErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	SearchCount     int64
	SearchErrors    int64
	SearchAvgNanos  int64
	ColorCount      int64
	ColorErrors     int64
	ColorAvgNanos   int64
	SessionCount    int64
	SessionsCreated int64
	SessionsLimited int64
	SweepCount      int64
	SessionsExpired int64
	EditCount       int64
	EditErrors      int64
}
