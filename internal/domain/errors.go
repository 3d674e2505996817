package domain

import "errors"

// Error kinds surfaced by a run. Callers match them with errors.Is.
var (
	// ErrTargetUnreadable means the log file could not be opened or read.
	// It is always fatal and the cache is left untouched.
	ErrTargetUnreadable = errors.New("log file is unreadable")

	// ErrTargetNotFound is a more specific ErrTargetUnreadable
	ErrTargetNotFound = errors.New("log file not found")

	// ErrCacheUnreadable means stored state exists but cannot be parsed.
	// The run falls back to a full read.
	ErrCacheUnreadable = errors.New("cache is unreadable")

	// ErrCacheUnwritable means the new state could not be persisted after
	// the content was already delivered.
	ErrCacheUnwritable = errors.New("cache is unwritable")

	// ErrCacheLocked means another run holds the cache. Nothing was read.
	ErrCacheLocked = errors.New("cache is locked")

	// ErrOutputFailed means emitted lines could not be written out.
	// The cache is left untouched.
	ErrOutputFailed = errors.New("output failed")
)
