package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// StreamFunc receives generated text as it arrives. Returning an error
// aborts the generation.
type StreamFunc func(ctx context.Context, chunk string) error

// Generator produces answers from a chat model.
// Implementations must be thread-safe for concurrent use.
type Generator interface {
	// Generate runs one completion. When req.Stream is set and onChunk is
	// non-nil, text is delivered incrementally through onChunk and the
	// response still carries the full text. Cancelling ctx aborts the call.
	Generate(ctx context.Context, req GenerateRequest, onChunk StreamFunc) (*GenerateResponse, error)
}

// Judge scores an answer against its question and supporting context.
type Judge interface {
	ScoreAnswer(ctx context.Context, question, answer string, contexts []string) (Scores, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Generator returns the answer generation service.
	Generator() Generator

	// Judge returns the answer scoring service.
	Judge() Judge

	// Close releases resources held by the provider and its services.
	Close() error
}
