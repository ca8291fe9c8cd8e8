package core

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrIndexNotReady means no active snapshot exists and build/load failed.
	// Surfaced as a service-unavailable condition.
	ErrIndexNotReady = errors.New("index not ready")

	// ErrBuildFailed wraps failures during index construction. The previous
	// snapshot, if any, stays active.
	ErrBuildFailed = errors.New("index build failed")

	// ErrNoUserProfile means blending found neither a long-term nor a
	// session embedding; callers should fall back to anonymous handling.
	ErrNoUserProfile = errors.New("no user profile")

	// ErrItemNotIndexed means an item id has no position in the active
	// snapshot.
	ErrItemNotIndexed = errors.New("item not in index")

	// ErrCacheMiss is returned by key-value stores for absent keys.
	ErrCacheMiss = errors.New("cache miss")

	ErrEmptyVector = errors.New("empty vector")
)

// DimensionError reports a query/index dimension mismatch. Always fatal to
// the single request; both dimensions are carried for logging.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: index dimension %d, query dimension %d", e.Want, e.Got)
}

// NewDimensionError builds a DimensionError for the given shapes.
func NewDimensionError(want, got int) error {
	return &DimensionError{Want: want, Got: got}
}

// IsDimensionError reports whether err is a dimension mismatch.
func IsDimensionError(err error) bool {
	var de *DimensionError
	return errors.As(err, &de)
}
