package connection

import "errors"

var (
	// ErrNotFound is returned for paths that do not name a dataset file.
	ErrNotFound = errors.New("connection: dataset not found")
	// ErrUnavailable is returned for datasets that cannot be served, such as
	// files that failed validation and were removed.
	ErrUnavailable = errors.New("connection: dataset unavailable")
	// ErrClosed is returned by accessors of a handle that has been closed.
	ErrClosed = errors.New("connection: handle closed")
	// ErrNotWritable is returned when mutating through a read-only handle.
	ErrNotWritable = errors.New("connection: handle is read-only")
	// ErrNoAttribute is returned for a missing column or table attribute.
	ErrNoAttribute = errors.New("connection: attribute not found")
)
