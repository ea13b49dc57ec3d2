package book

import "errors"

var (
	// ErrValidation marks malformed order terms, rejected before any mutation.
	ErrValidation = errors.New("order validation failed")

	// ErrNotFound is returned for lookups of unknown order IDs.
	ErrNotFound = errors.New("order not found")

	// ErrNotMaker is returned when a cancel requester is not the order's maker.
	ErrNotMaker = errors.New("requester is not the order maker")

	// ErrOverfill marks a fill exceeding an order's remaining size. Reaching
	// this from the matching path is an internal bug, not a user error.
	ErrOverfill = errors.New("fill exceeds remaining size")

	// ErrDuplicateOrder marks a replayed order hash.
	ErrDuplicateOrder = errors.New("order hash already seen")
)
