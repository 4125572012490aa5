package badger

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
// Similarity search is a full scan over the chunk prefix.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) *DocumentRepository {
	return &DocumentRepository{backend: backend}
}

// AddChunks stores chunks, replacing existing chunks with the same ID.
func (r *DocumentRepository) AddChunks(ctx context.Context, chunks ...*core.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		now := time.Now().UTC()
		for _, chunk := range chunks {
			if chunk.ID == "" {
				return storage.ErrInvalidQuery
			}
			if chunk.InsertedAt.IsZero() {
				chunk.InsertedAt = now
			}
			if err := tx.Set(makeChunkKey(chunk.ID), storage.MarshalChunk(chunk)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// GetChunks retrieves chunks by ID, skipping missing ones.
func (r *DocumentRepository) GetChunks(ctx context.Context, ids ...string) ([]*core.DocumentChunk, error) {
	chunks := make([]*core.DocumentChunk, 0, len(ids))
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			data, err := getValue(tx, makeChunkKey(id))
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return err
			}
			chunk, err := storage.UnmarshalChunk(data)
			if err != nil {
				return err
			}
			chunks = append(chunks, chunk)
		}
		return nil
	}, false)
	return chunks, err
}

// FindSimilar finds embedded chunks similar to the given vector.
func (r *DocumentRepository) FindSimilar(ctx context.Context, vector []float32, collection string, minSimilarity float32, limit int) ([]*core.ChunkMatch, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}
	var results []*core.ChunkMatch

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(chunkPrefix+":"), func(_, val []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			chunk, err := storage.UnmarshalChunk(val)
			if err != nil {
				return err
			}

			// Skip chunks without embeddings
			if len(chunk.Vector) == 0 {
				return nil
			}
			if collection != "" && !strings.EqualFold(chunk.Collection, collection) {
				return nil
			}

			similarity := cosineSimilarity(vector, chunk.Vector)
			if similarity >= minSimilarity {
				results = append(results, &core.ChunkMatch{Chunk: chunk, Score: similarity})
			}
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}

	// Sort by similarity descending, chunk ID for ties
	slices.SortFunc(results, func(a, b *core.ChunkMatch) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return strings.Compare(a.Chunk.ID, b.Chunk.ID)
	})

	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// CountChunks returns the number of stored and embedded chunks.
func (r *DocumentRepository) CountChunks(ctx context.Context) (int, int, error) {
	total, embedded := 0, 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(chunkPrefix+":"), func(_, val []byte) error {
			chunk, err := storage.UnmarshalChunk(val)
			if err != nil {
				return err
			}
			total++
			if len(chunk.Vector) > 0 {
				embedded++
			}
			return nil
		})
	}, false)
	return total, embedded, err
}

// ScanChunks returns up to limit chunks in key order, starting after afterID.
func (r *DocumentRepository) ScanChunks(ctx context.Context, afterID string, limit int) ([]*core.DocumentChunk, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}
	prefix := []byte(chunkPrefix + ":")
	start := prefix
	if afterID != "" {
		start = makeChunkKey(afterID)
	}

	chunks := make([]*core.DocumentChunk, 0, limit)
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(start); iter.Valid() && len(chunks) < limit; iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iter.Item()
			if afterID != "" && bytes.Equal(item.Key(), start) {
				continue
			}
			err := item.Value(func(val []byte) error {
				chunk, err := storage.UnmarshalChunk(val)
				if err != nil {
					return err
				}
				chunks = append(chunks, chunk)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	return chunks, err
}
