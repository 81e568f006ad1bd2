package scopeserve

import (
	"log/slog"
	"time"

	"github.com/hupe1980/scopeserve/blobstore"
	"github.com/hupe1980/scopeserve/codec"
	"github.com/hupe1980/scopeserve/persistence"
	"github.com/hupe1980/scopeserve/session"
	"github.com/hupe1980/scopeserve/species"
)

// Defaults of the tunable limits.
const (
	DefaultRowCacheBytes    = 256 << 20
	DefaultMaxParallelOpens = 8
	DefaultIndexBuilds      = 2
)

type options struct {
	codec            codec.Codec
	metricsCollector MetricsCollector
	logger           *Logger
	now              func() time.Time
	session          session.Options
	rowCacheBytes    int64
	indexStore       blobstore.BlobStore
	registry         *species.Registry
	maxParallelOpens int
	indexBuilds      int64
	indexIOLimit     int64
	compression      persistence.Compression
}

func defaultOptions() options {
	return options{
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		now:              time.Now,
		session:          session.DefaultOptions(),
		rowCacheBytes:    DefaultRowCacheBytes,
		maxParallelOpens: DefaultMaxParallelOpens,
		indexBuilds:      DefaultIndexBuilds,
		compression:      persistence.CompressionZSTD,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.registry == nil {
		o.registry = species.NewRegistry()
	}
	return o
}

// Option configures a Server.
type Option func(*options)

// WithCodec configures the codec used for the metadata blob and persisted
// indexes.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &scopeserve.BasicMetricsCollector{}
//	srv, _ := scopeserve.New("./data", scopeserve.WithMetricsCollector(metrics))
//	// ... use srv ...
//	stats := metrics.GetStats()
//	fmt.Printf("Searches: %d, Avg latency: %dns\n", stats.SearchCount, stats.SearchAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := scopeserve.NewJSONLogger(slog.LevelInfo)
//	srv, _ := scopeserve.New("./data", scopeserve.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithClock replaces time.Now for sessions and annotation timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSessionTTL sets how long a non-permanent session lives after its last
// contact.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.session.TTL = ttl
	}
}

// WithActiveSessions configures admission control: at most limit sessions are
// active at once, a session stays active for ttl without contact, and a new
// session needs more than minInteractions interactions to be admitted.
func WithActiveSessions(limit int, ttl time.Duration, minInteractions int) Option {
	return func(o *options) {
		o.session.MaxActive = limit
		o.session.ActiveTTL = ttl
		o.session.MinInteractions = minInteractions
	}
}

// WithRowCacheBytes bounds the decoded expression row cache. Zero disables it.
func WithRowCacheBytes(n int64) Option {
	return func(o *options) {
		o.rowCacheBytes = n
	}
}

// WithIndexStore persists search indexes in store instead of next to the
// dataset files. Combine a local store with blobstore.NewMirrorStore and
// blobstore/minio to share indexes across hosts.
func WithIndexStore(store blobstore.BlobStore) Option {
	return func(o *options) {
		o.indexStore = store
	}
}

// WithSpecies supplies the synonym and ortholog tables.
func WithSpecies(r *species.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithMaxParallelOpens bounds the datasets opened concurrently while listing.
func WithMaxParallelOpens(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxParallelOpens = n
		}
	}
}

// WithIndexBuilds bounds the concurrent search index builds.
func WithIndexBuilds(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.indexBuilds = int64(n)
		}
	}
}

// WithCompression selects the compression of persisted indexes and colour
// payloads. CompressionNone is promoted to zstd for colour payloads.
func WithCompression(c persistence.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithIndexIOLimit caps the bytes per second written for persisted search
// indexes, so bulk rebuilds do not starve request traffic. Zero is unlimited.
func WithIndexIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		if bytesPerSec >= 0 {
			o.indexIOLimit = bytesPerSec
		}
	}
}
