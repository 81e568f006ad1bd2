package connection

import "time"

// Observer receives cache events. Implementations must be safe for
// concurrent use.
type Observer interface {
	// OnOpen is called after every attempt to open a dataset file.
	OnOpen(mode string, d time.Duration, err error)
	// OnIndex is called after a handle obtained its search index; source is
	// "loaded" or "built".
	OnIndex(source string, d time.Duration, err error)
	// OnRowCache is called for every expression row lookup.
	OnRowCache(hit bool)
}

// NoopObserver discards all events.
type NoopObserver struct{}

func (NoopObserver) OnOpen(string, time.Duration, error)  {}
func (NoopObserver) OnIndex(string, time.Duration, error) {}
func (NoopObserver) OnRowCache(bool)                      {}
