package openai

import "errors"

var (
	// ErrEmptyInput is returned when there is no text to send.
	ErrEmptyInput = errors.New("empty input")

	// ErrEmptyEmbedding is returned when the service answers with no vector.
	ErrEmptyEmbedding = errors.New("service returned an empty embedding")

	// ErrNoChoices is returned when the model responds without any choice.
	ErrNoChoices = errors.New("model returned no choices")

	// ErrMalformedScores is returned when the judge output cannot be parsed.
	ErrMalformedScores = errors.New("malformed judge scores")
)
