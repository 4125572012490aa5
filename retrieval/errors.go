package retrieval

import "errors"

var (
	// ErrVectorStoreRequired is returned when a coordinator has no store.
	ErrVectorStoreRequired = errors.New("vector store required")

	// ErrEmbedderRequired is returned when an embedded store has no embedder.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrRepositoryRequired is returned when an embedded store has no document repository.
	ErrRepositoryRequired = errors.New("document repository required")

	// ErrEmptyQuery is returned for blank query text.
	ErrEmptyQuery = errors.New("query text is empty")
)
