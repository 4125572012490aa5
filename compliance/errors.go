package compliance

import "errors"

var (
	// ErrInvalidEntity is returned for malformed entity definitions.
	ErrInvalidEntity = errors.New("invalid compliance entity")

	// ErrNoEntities is returned when a gate is built with an empty catalogue.
	ErrNoEntities = errors.New("at least one compliance entity required")
)
