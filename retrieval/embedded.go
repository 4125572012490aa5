package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/poiesic/ragflow/ai"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/storage"
	"github.com/poiesic/ragflow/textutil"
)

const (
	// DefaultCacheBytes bounds the query embedding cache.
	DefaultCacheBytes = 1 << 20

	// verbatimBoost rewards passages containing every query word
	verbatimBoost = 0.1
)

// EmbeddedStore searches embedded chunks held in a DocumentRepository.
// Query embeddings are cached by query text.
type EmbeddedStore struct {
	documents storage.DocumentRepository
	embedder  ai.Embedder
	cache     *ristretto.Cache[uint64, []float32]
	logger    *slog.Logger
}

var _ VectorStore = (*EmbeddedStore)(nil)

// NewEmbeddedStore creates a store. cacheBytes <= 0 uses DefaultCacheBytes.
func NewEmbeddedStore(documents storage.DocumentRepository, embedder ai.Embedder, cacheBytes int64) (*EmbeddedStore, error) {
	if documents == nil {
		return nil, ErrRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if cacheBytes <= 0 {
		cacheBytes = DefaultCacheBytes
	}

	cache, err := ristretto.NewCache(&ristretto.Config[uint64, []float32]{
		// roughly 10 counters per cached 768-dimension vector
		NumCounters: max(1000, cacheBytes/300),
		MaxCost:     cacheBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding cache: %w", err)
	}

	return &EmbeddedStore{
		documents: documents,
		embedder:  embedder,
		cache:     cache,
		logger:    slog.Default().With("component", "embedded-store"),
	}, nil
}

// Search embeds the query and returns the most similar chunks.
func (s *EmbeddedStore) Search(ctx context.Context, req SearchRequest) ([]core.RetrievedChunk, error) {
	vector, err := s.queryVector(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	matches, err := s.documents.FindSimilar(ctx, vector, req.Collection, 0, req.Limit)
	if err != nil {
		s.logger.Error("error querying for similar chunks", "err", err)
		return nil, err
	}

	hits := make([]core.RetrievedChunk, 0, len(matches))
	for _, m := range matches {
		score := float64(m.Score)
		// Apply verbatim match boost
		if textutil.ContainsAllWords(m.Chunk.Text, req.Query) {
			score = min(1, score+verbatimBoost)
		}
		hits = append(hits, toRetrieved(m.Chunk, score))
	}
	return hits, nil
}

// Close releases the cache.
func (s *EmbeddedStore) Close() {
	s.cache.Close()
}

func (s *EmbeddedStore) queryVector(ctx context.Context, query string) ([]float32, error) {
	key := uint64(core.IDFromContent(query))
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}

	v, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "err", err)
		return nil, err
	}
	s.cache.Set(key, v, int64(len(v)*4))
	return v, nil
}

func toRetrieved(c *core.DocumentChunk, score float64) core.RetrievedChunk {
	return core.RetrievedChunk{
		ChunkID:    c.ID,
		DocumentID: c.DocumentID,
		Text:       c.Text,
		Score:      score,
		Start:      c.Start,
		End:        c.End,
		Metadata: core.ChunkMetadata{
			Title:       c.Title,
			Source:      c.Source,
			PublishedAt: c.PublishedAt,
		},
	}
}
