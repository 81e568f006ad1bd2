package session

import (
	"log/slog"
	"time"
)

// Mode is the access mode of a session.
type Mode string

const (
	ModeReadWrite Mode = "rw"
	ModeReadOnly  Mode = "ro"
)

func parseMode(s string) Mode {
	if Mode(s) == ModeReadOnly {
		return ModeReadOnly
	}
	return ModeReadWrite
}

// CanWrite reports whether the mode permits mutations.
func (m Mode) CanWrite() bool { return m != ModeReadOnly }

// DefaultAreas are the per-session private directories, relative to the data
// root.
var DefaultAreas = []string{"my-looms", "my-gene-sets", "my-aucell-rankings"}

// Options configures a Store.
type Options struct {
	// TTL is the lifetime of a non-permanent session after its last contact.
	TTL time.Duration
	// ActiveTTL is how long a session stays active without contact.
	ActiveTTL time.Duration
	// MaxActive caps the number of concurrently active sessions.
	MaxActive int
	// MinInteractions is the interaction count a session must exceed before it
	// can take a free active slot. Unlike the other fields zero is kept as
	// is; start from DefaultOptions for the default of 5.
	MinInteractions int

	// DataRoot holds the private area directories. Defaults to the store dir.
	DataRoot string
	// Areas are the private directories, relative to DataRoot, that hold one
	// subdirectory per session.
	Areas []string

	Logger *slog.Logger
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns the default session policy.
func DefaultOptions() Options {
	return Options{
		TTL:             5 * 24 * time.Hour,
		ActiveTTL:       10 * time.Minute,
		MaxActive:       25,
		MinInteractions: 5,
		Areas:           DefaultAreas,
	}
}

func (o Options) withDefaults(dir string) Options {
	d := DefaultOptions()
	if o.TTL <= 0 {
		o.TTL = d.TTL
	}
	if o.ActiveTTL <= 0 {
		o.ActiveTTL = d.ActiveTTL
	}
	if o.MaxActive <= 0 {
		o.MaxActive = d.MaxActive
	}
	if o.MinInteractions < 0 {
		o.MinInteractions = d.MinInteractions
	}
	if o.DataRoot == "" {
		o.DataRoot = dir
	}
	if o.Areas == nil {
		o.Areas = d.Areas
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
