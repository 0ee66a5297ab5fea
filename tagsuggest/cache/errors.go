package cache

import "errors"

// Sentinel errors for the internal storage layer. The TagCache facade is the
// terminal sink for all of them; callers above it only ever see safe
// defaults.
var (
	// ErrNotFound reports a key with no stored record.
	ErrNotFound = errors.New("cache: record not found")

	// ErrUnavailable reports a storage backend that could not be opened.
	ErrUnavailable = errors.New("cache: storage unavailable")
)
