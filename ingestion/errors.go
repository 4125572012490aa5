package ingestion

import "errors"

var (
	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrAIProviderRequired is returned when an AI provider is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")

	// ErrEmbedderRequired is returned when the AI provider has no embedder.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrInvalidChunking is returned for chunk sizes the splitter cannot honor.
	ErrInvalidChunking = errors.New("invalid chunking settings")
)
