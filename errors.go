package scopeserve

import (
	"errors"
	"fmt"

	"github.com/hupe1980/scopeserve/color"
	"github.com/hupe1980/scopeserve/connection"
	"github.com/hupe1980/scopeserve/dataset"
	"github.com/hupe1980/scopeserve/search"
	"github.com/hupe1980/scopeserve/session"
)

var (
	// ErrNotFound is returned for datasets, features, clusters and sessions
	// that do not exist or are not visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrMalformed is returned for invalid requests and dataset files that
	// failed validation.
	ErrMalformed = errors.New("malformed")
	// ErrConflict is returned when an edit collides with existing metadata.
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized is returned for writes under read-only sessions and for
	// unknown sessions.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnavailable is returned for datasets or tables that cannot be served
	// right now.
	ErrUnavailable = errors.New("unavailable")
	// ErrClosed is returned by a closed server.
	ErrClosed = errors.New("server closed")
)

// ErrUnknownCluster indicates a clustering or cluster id the metadata does not
// name.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrUnknownCluster struct {
	Clustering int
	Cluster    int
	cause      error
}

func (e *ErrUnknownCluster) Error() string {
	if e.Cluster == color.AllClusters {
		return fmt.Sprintf("unknown clustering %d", e.Clustering)
	}
	return fmt.Sprintf("unknown cluster %d of clustering %d", e.Cluster, e.Clustering)
}

func (e *ErrUnknownCluster) Unwrap() error { return e.cause }

// Is matches ErrNotFound.
func (e *ErrUnknownCluster) Is(target error) bool { return target == ErrNotFound }

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrMalformed) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrClosed) {
		return err
	}

	// Not found unification.
	switch {
	case errors.Is(err, connection.ErrNotFound),
		errors.Is(err, connection.ErrNoAttribute),
		errors.Is(err, dataset.ErrAttrNotFound),
		errors.Is(err, color.ErrUnknownFeature):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	// Sessions.
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrUnauthorized):
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	// Availability.
	switch {
	case errors.Is(err, connection.ErrUnavailable),
		errors.Is(err, connection.ErrClosed),
		errors.Is(err, search.ErrUnavailable):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	// Request and file validation.
	switch {
	case errors.Is(err, dataset.ErrMalformed),
		errors.Is(err, color.ErrInvalidRequest),
		errors.Is(err, color.ErrTooManyFeatures):
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return err
}
