package engine

import "errors"

// Sentinel errors callers branch on.
var (
	// ErrInvalidInput covers malformed coordinates, out-of-range options,
	// and oversized tracks.
	ErrInvalidInput = errors.New("engine: invalid input")

	// ErrNoCoverage means the chosen backend has no reference data around
	// the track. Distinct from an empty query result: the caller should
	// surface it, not narrate into the void.
	ErrNoCoverage = errors.New("engine: no spatial coverage for location")
)
