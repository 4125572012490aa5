package reembed

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/ragflow/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectIDs(t *testing.T, it *ChunkIterator, afterID string) ([]string, int) {
	t.Helper()
	var ids []string
	batches := 0
	err := it.ForEach(context.Background(), afterID, func(chunks []*core.DocumentChunk) error {
		batches++
		for _, c := range chunks {
			ids = append(ids, c.ID)
		}
		return nil
	})
	require.NoError(t, err)
	return ids, batches
}

func TestChunkIterator_PagesInOrder(t *testing.T) {
	repos := setupTestRepos(t)
	seedChunks(t, repos, 7)

	ids, batches := collectIDs(t, NewChunkIterator(repos.Documents, 3), "")
	assert.Equal(t, 3, batches)
	require.Len(t, ids, 7)
	assert.Equal(t, "chunk-000", ids[0])
	assert.Equal(t, "chunk-006", ids[6])
	assert.IsIncreasing(t, ids)
}

func TestChunkIterator_ExactMultiple(t *testing.T) {
	repos := setupTestRepos(t)
	seedChunks(t, repos, 6)

	ids, batches := collectIDs(t, NewChunkIterator(repos.Documents, 3), "")
	assert.Len(t, ids, 6)
	// The third scan comes back empty and ends iteration.
	assert.Equal(t, 2, batches)
}

func TestChunkIterator_StartsAfterID(t *testing.T) {
	repos := setupTestRepos(t)
	seedChunks(t, repos, 5)

	ids, _ := collectIDs(t, NewChunkIterator(repos.Documents, 2), "chunk-002")
	assert.Equal(t, []string{"chunk-003", "chunk-004"}, ids)
}

func TestChunkIterator_EmptyStore(t *testing.T) {
	repos := setupTestRepos(t)

	ids, batches := collectIDs(t, NewChunkIterator(repos.Documents, 10), "")
	assert.Empty(t, ids)
	assert.Zero(t, batches)
}

func TestChunkIterator_DefaultBatchSize(t *testing.T) {
	repos := setupTestRepos(t)
	it := NewChunkIterator(repos.Documents, 0)
	assert.Equal(t, DefaultBatchSize, it.batchSize)
}

func TestChunkIterator_StopsOnError(t *testing.T) {
	repos := setupTestRepos(t)
	seedChunks(t, repos, 6)

	boom := errors.New("boom")
	calls := 0
	err := NewChunkIterator(repos.Documents, 2).ForEach(context.Background(), "", func([]*core.DocumentChunk) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestChunkIterator_HonorsCancellation(t *testing.T) {
	repos := setupTestRepos(t)
	seedChunks(t, repos, 4)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := NewChunkIterator(repos.Documents, 2).ForEach(ctx, "", func([]*core.DocumentChunk) error {
		calls++
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
