// Package config loads the TOML service configuration and translates it into
// server options.
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/scopeserve"
	"github.com/hupe1980/scopeserve/blobstore"
	miniostore "github.com/hupe1980/scopeserve/blobstore/minio"
	"github.com/hupe1980/scopeserve/codec"
	"github.com/hupe1980/scopeserve/persistence"
	"github.com/hupe1980/scopeserve/species"
)

// Duration is a time.Duration written as a Go duration string, e.g. "10m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the service configuration.
type Config struct {
	// Root is the data root. Relative paths in the file are resolved against
	// the directory of the configuration file.
	Root      string          `toml:"root"`
	Log       LogConfig       `toml:"log"`
	Sessions  SessionConfig   `toml:"sessions"`
	Cache     CacheConfig     `toml:"cache"`
	Index     IndexConfig     `toml:"index"`
	Species   []SpeciesTable  `toml:"species"`
	Orthologs []OrthologTable `toml:"orthologs"`
}

// LogConfig selects the log output.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level"`
	// Format is text or json.
	Format string `toml:"format"`
}

// SessionConfig is the session policy. Zero values keep the defaults.
type SessionConfig struct {
	TTL             Duration `toml:"ttl"`
	ActiveTTL       Duration `toml:"active_ttl"`
	MaxActive       int      `toml:"max_active"`
	MinInteractions *int     `toml:"min_interactions"`
}

// CacheConfig bounds memory and parallelism.
type CacheConfig struct {
	// RowCache is the expression row cache size, e.g. "256MiB". "0" disables
	// the cache.
	RowCache         string `toml:"row_cache"`
	MaxParallelOpens int    `toml:"max_parallel_opens"`
	IndexBuilds      int    `toml:"index_builds"`
}

// IndexConfig configures persisted search indexes.
type IndexConfig struct {
	// Compression is none, lz4 or zstd.
	Compression string `toml:"compression"`
	// Codec is json or go-json.
	Codec string `toml:"codec"`
	// IOLimit caps index writes per second, e.g. "8MiB". Empty is unlimited.
	IOLimit string        `toml:"io_limit"`
	Mirror  *MirrorConfig `toml:"mirror"`
}

// MirrorConfig mirrors persisted indexes to an S3-compatible bucket.
type MirrorConfig struct {
	Endpoint  string `toml:"endpoint"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Secure    bool   `toml:"secure"`
}

// SpeciesTable names a synonym table file.
type SpeciesTable struct {
	Name string `toml:"name"`
	Code string `toml:"code"`
	Path string `toml:"path"`
}

// OrthologTable names an ortholog table file.
type OrthologTable struct {
	Code string `toml:"code"`
	From string `toml:"from"`
	To   string `toml:"to"`
	Path string `toml:"path"`
}

// Load reads a configuration file. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	var c Config
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config: unknown keys %s", strings.Join(keys, ", "))
	}

	base := filepath.Dir(path)
	c.Root = resolve(base, c.Root)
	for i := range c.Species {
		c.Species[i].Path = resolve(base, c.Species[i].Path)
	}
	for i := range c.Orthologs {
		c.Orthologs[i].Path = resolve(base, c.Orthologs[i].Path)
	}
	if c.Root == "" {
		return nil, fmt.Errorf("config: root is required")
	}
	return &c, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	err := l.UnmarshalText([]byte(s))
	return l, err
}

// Logger builds the configured logger.
func (c *Config) Logger() (*scopeserve.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("config: log level: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text":
		return scopeserve.NewTextLogger(level), nil
	case "json":
		return scopeserve.NewJSONLogger(level), nil
	default:
		return nil, fmt.Errorf("config: log format %q", c.Log.Format)
	}
}

// Registry loads the configured species tables.
func (c *Config) Registry() (*species.Registry, error) {
	r := species.NewRegistry()
	for _, s := range c.Species {
		t, err := species.LoadSynonymsFile(s.Path, s.Name, s.Code)
		if err != nil {
			return nil, fmt.Errorf("config: species %s: %w", s.Name, err)
		}
		r.Add(t)
	}
	for _, o := range c.Orthologs {
		t, err := species.LoadOrthologsFile(o.Path, o.Code, o.From, o.To)
		if err != nil {
			return nil, fmt.Errorf("config: orthologs %s: %w", o.Code, err)
		}
		r.AddOrthologs(t)
	}
	return r, nil
}

// Options translates the configuration into server options.
func (c *Config) Options() ([]scopeserve.Option, error) {
	logger, err := c.Logger()
	if err != nil {
		return nil, err
	}
	registry, err := c.Registry()
	if err != nil {
		return nil, err
	}
	opts := []scopeserve.Option{
		scopeserve.WithLogger(logger),
		scopeserve.WithSpecies(registry),
	}

	s := c.Sessions
	if s.TTL.Duration > 0 {
		opts = append(opts, scopeserve.WithSessionTTL(s.TTL.Duration))
	}
	if s.MaxActive > 0 || s.ActiveTTL.Duration > 0 || s.MinInteractions != nil {
		minInteractions := -1
		if s.MinInteractions != nil {
			minInteractions = *s.MinInteractions
		}
		opts = append(opts, scopeserve.WithActiveSessions(s.MaxActive, s.ActiveTTL.Duration, minInteractions))
	}

	if c.Cache.RowCache != "" {
		n, err := humanize.ParseBytes(c.Cache.RowCache)
		if err != nil {
			return nil, fmt.Errorf("config: row_cache: %w", err)
		}
		opts = append(opts, scopeserve.WithRowCacheBytes(int64(n)))
	}
	opts = append(opts,
		scopeserve.WithMaxParallelOpens(c.Cache.MaxParallelOpens),
		scopeserve.WithIndexBuilds(c.Cache.IndexBuilds),
	)

	if c.Index.Compression != "" {
		comp, err := persistence.ParseCompression(c.Index.Compression)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		opts = append(opts, scopeserve.WithCompression(comp))
	}
	if c.Index.Codec != "" {
		cd, ok := codec.ByName(c.Index.Codec)
		if !ok {
			return nil, fmt.Errorf("config: codec %q, want one of %v", c.Index.Codec, codec.Names())
		}
		opts = append(opts, scopeserve.WithCodec(cd))
	}
	if c.Index.IOLimit != "" {
		n, err := humanize.ParseBytes(c.Index.IOLimit)
		if err != nil {
			return nil, fmt.Errorf("config: io_limit: %w", err)
		}
		opts = append(opts, scopeserve.WithIndexIOLimit(int64(n)))
	}
	if m := c.Index.Mirror; m != nil {
		store, err := c.mirrorStore(m, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, scopeserve.WithIndexStore(store))
	}
	return opts, nil
}

func (c *Config) mirrorStore(m *MirrorConfig, logger *scopeserve.Logger) (blobstore.BlobStore, error) {
	if m.Endpoint == "" || m.Bucket == "" {
		return nil, fmt.Errorf("config: index mirror needs endpoint and bucket")
	}
	client, err := minio.New(m.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(m.AccessKey, m.SecretKey, ""),
		Secure: m.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("config: index mirror: %w", err)
	}
	local := blobstore.NewLocalStore(filepath.Join(c.Root, scopeserve.DatasetsDir))
	remote := miniostore.NewStore(client, m.Bucket, m.Prefix)
	return blobstore.NewMirrorStore(local, remote, logger.With("component", "index-mirror")), nil
}
