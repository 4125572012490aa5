package reembed

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/ragflow/ai"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/storage"
)

// BatchProcessor embeds batches of chunks and stores the new vectors.
type BatchProcessor struct {
	documents      storage.DocumentRepository
	embedder       ai.Embedder
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of attempts for each embedding call
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(documents storage.DocumentRepository, embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	return &BatchProcessor{
		documents:      documents,
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process embeds the chunk texts and saves the chunks with their new,
// normalized vectors.
func (bp *BatchProcessor) Process(ctx context.Context, chunks []*core.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	var embeddings [][]float32
	err := RetryWithBackoff(ctx, func() error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.maxRetries, err)
	}

	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(chunks), len(embeddings))
	}

	for i := range chunks {
		chunks[i].Vector = NormalizeVector(embeddings[i])
	}

	if err := bp.documents.AddChunks(ctx, chunks...); err != nil {
		return fmt.Errorf("failed to update chunks: %w", err)
	}
	return nil
}
