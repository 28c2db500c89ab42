package qmd

import "errors"

var (
	// ErrNotFound is returned when a collection or context is absent from
	// the configuration.
	ErrNotFound = errors.New("qmd: not found")

	// ErrConflict is returned when adding a collection whose identity
	// (path, mask) or name is already taken.
	ErrConflict = errors.New("qmd: already exists")

	// ErrUsage is returned for missing or invalid command arguments.
	ErrUsage = errors.New("qmd: usage error")

	// ErrConfig is returned for a missing provider key, an unrecognized
	// provider name, or unreadable YAML.
	ErrConfig = errors.New("qmd: invalid configuration")

	// ErrCancelled is returned on cooperative cancellation via timeout or
	// user signal.
	ErrCancelled = errors.New("qmd: cancelled")
)
