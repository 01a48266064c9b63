package storage

import "errors"

// Sentinel errors shared by every store implementation.
var (
	// ErrDuplicateKey rejects an insert whose key is already stored.
	// Price and event stores are append-only.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput rejects records missing required fields or violating
	// column constraints.
	ErrInvalidInput = errors.New("invalid input")

	// ErrMissingVersion means no stored factor version covers the requested
	// date range. The engine treats it as a cache miss.
	ErrMissingVersion = errors.New("missing version")

	// ErrConflictingRow means a row already exists for
	// (market, symbol, date, version) with different factor content.
	// Nothing from the batch is written.
	ErrConflictingRow = errors.New("conflicting factor row")
)
