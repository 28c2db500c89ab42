package store

import "errors"

var (
	// ErrNotFound is returned when a document or content blob is absent.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when an active document already exists for
	// a (collection, path) pair. Indicates a bug or a concurrent writer.
	ErrConflict = errors.New("store: active document already exists")

	// ErrVectorUnavailable is returned when the vector table has not been
	// built yet or the sqlite-vec extension could not be loaded.
	ErrVectorUnavailable = errors.New("store: vector index unavailable")

	// ErrDimensionMismatch is returned when the embedding model dimension
	// differs from the on-disk vector table. Rebuild with `qmd embed -f`.
	ErrDimensionMismatch = errors.New("store: embedding dimension mismatch")
)
