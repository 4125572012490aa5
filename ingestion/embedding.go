package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/ragflow/ai"
	"github.com/poiesic/ragflow/storage"
)

// embeddingProcessor generates embeddings for document chunks.
type embeddingProcessor struct {
	documents storage.DocumentRepository
	embedder  ai.Embedder
	logger    *slog.Logger
}

var _ processor = (*embeddingProcessor)(nil)

// newEmbeddingProcessor creates a new embedding processor.
func newEmbeddingProcessor(documents storage.DocumentRepository, embedder ai.Embedder, logger *slog.Logger) (processor, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &embeddingProcessor{
		documents: documents,
		embedder:  embedder,
		logger:    logger.With("processor", "embeddings"),
	}, nil
}

// process embeds the specified chunks and stores them back with their vectors.
func (ep *embeddingProcessor) process(ctx context.Context, ids ...string) error {
	ep.logger.Debug("processing chunks for embeddings", "chunks", len(ids))

	chunks, err := ep.documents.GetChunks(ctx, ids...)
	if err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	embeddings, err := ep.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedding result mismatch. expected %d, received %d", len(chunks), len(embeddings))
	}

	for i := range embeddings {
		chunks[i].Vector = embeddings[i]
	}
	if err := ep.documents.AddChunks(ctx, chunks...); err != nil {
		return fmt.Errorf("store embedded chunks: %w", err)
	}
	return nil
}
