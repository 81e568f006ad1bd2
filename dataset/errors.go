package dataset

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is matched by every integrity failure on open.
	ErrMalformed = errors.New("dataset: malformed file")
	// ErrForeignFormat is returned for a file that does not start with the
	// dataset magic, such as an HDF5 loom file. It does not match ErrMalformed.
	ErrForeignFormat = errors.New("dataset: not a scopeserve dataset")
	// ErrReadOnly is returned when mutating a file opened with ModeRead.
	ErrReadOnly = errors.New("dataset: opened read-only")
	// ErrClosed is returned by accessors after Close.
	ErrClosed = errors.New("dataset: file closed")
	// ErrAttrNotFound is returned for a missing attribute or column.
	ErrAttrNotFound = errors.New("dataset: attribute not found")
)

// CorruptError describes why a file failed validation.
type CorruptError struct {
	Path   string
	Reason string
	cause  error
}

func (e *CorruptError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("dataset %s: %s: %v", e.Path, e.Reason, e.cause)
	}
	return fmt.Sprintf("dataset %s: %s", e.Path, e.Reason)
}

func (e *CorruptError) Unwrap() error { return e.cause }

// Is reports ErrMalformed so callers can use errors.Is.
func (e *CorruptError) Is(target error) bool { return target == ErrMalformed }

func corrupt(path, reason string, cause error) error {
	return &CorruptError{Path: path, Reason: reason, cause: cause}
}
