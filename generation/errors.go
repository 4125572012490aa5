package generation

import "errors"

var (
	// ErrGeneratorRequired is returned when a stage has no generator.
	ErrGeneratorRequired = errors.New("generator required")

	// ErrStreamConsumed is yielded when a stream is iterated a second time.
	ErrStreamConsumed = errors.New("stream already consumed")

	// ErrGenerationTimeout wraps model calls that exceeded their deadline.
	ErrGenerationTimeout = errors.New("generation timed out")

	// ErrGenerationFailure wraps model call errors.
	ErrGenerationFailure = errors.New("generation failed")
)
