// Package nsserror defines the sentinel error taxonomy shared by every
// nsscache component, grounded on nss_cache/error.py's exception hierarchy.
// Callers use errors.Is/errors.As against these sentinels rather than
// matching on string messages.
package nsserror

import "errors"

var (
	// ErrCacheNotFound is returned when a cache backend has no data for a
	// map yet (first run, or the on-disk files were removed).
	ErrCacheNotFound = errors.New("cache not found")

	// ErrCacheInvalid is returned when a cache backend's on-disk state is
	// present but fails Verify (corrupt, truncated, or unreadable).
	ErrCacheInvalid = errors.New("cache invalid")

	// ErrEmptyMap is returned when a source or cache produces zero
	// entries where at least one was expected, guarding against a
	// misconfigured source silently wiping a populated cache.
	ErrEmptyMap = errors.New("empty map")

	// ErrNoConfigFound is returned when no config file can be located at
	// any of the configured/default/NSSCACHE_CONFIG paths.
	ErrNoConfigFound = errors.New("no config found")

	// ErrConfigurationError wraps a malformed or internally inconsistent
	// config section.
	ErrConfigurationError = errors.New("configuration error")

	// ErrPermissionDenied is returned when the process lacks the rights
	// to write a cache file, pid file, or lock file.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUnsupportedMap is returned when a source is asked for a map kind
	// it does not implement.
	ErrUnsupportedMap = errors.New("unsupported map")

	// ErrInvalidMap is returned when a map fails schema verification.
	ErrInvalidMap = errors.New("invalid map")

	// ErrSourceUnavailable is returned when a source cannot be reached
	// after exhausting its retry budget.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrInvalidMerge is returned when a merge's incoming map carries an
	// older modify or update timestamp than the map it is merged into.
	ErrInvalidMerge = errors.New("invalid merge")

	// ErrCommandParseError is returned for malformed CLI invocations.
	ErrCommandParseError = errors.New("command parse error")

	// ErrLockHeld is returned when a cache update cannot proceed because
	// another nsscache process holds the per-host lock and takeover was
	// not requested (or a forced takeover attempt itself failed).
	ErrLockHeld = errors.New("lock held by another process")
)
