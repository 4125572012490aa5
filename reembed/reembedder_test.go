package reembed

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/ragflow/ai/mock"
	"github.com/poiesic/ragflow/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		BatchSize:      2,
		ReportInterval: 1,
		MaxRetries:     2,
		RetryDelay:     time.Millisecond,
	}
}

func TestNewReembedder_Validation(t *testing.T) {
	repos := setupTestRepos(t)
	embedder := mock.NewMockEmbedder()
	var out bytes.Buffer

	_, err := NewReembedder(nil, repos.Checkpoints, embedder, nil, &out)
	assert.ErrorIs(t, err, ErrDocumentRepositoryRequired)

	_, err = NewReembedder(repos.Documents, repos.Checkpoints, nil, nil, &out)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	_, err = NewReembedder(repos.Documents, repos.Checkpoints, embedder, &Config{MaxRetries: 0}, &out)
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)

	r, err := NewReembedder(repos.Documents, nil, embedder, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, r.iterator.batchSize)
}

func TestReembedder_EmptyStore(t *testing.T) {
	repos := setupTestRepos(t)
	var out bytes.Buffer

	r, err := NewReembedder(repos.Documents, repos.Checkpoints, mock.NewMockEmbedder(), testConfig(), &out)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))
	assert.Contains(t, out.String(), "No chunks found")
}

func TestReembedder_EmbedsEveryChunk(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	seedChunks(t, repos, 5)
	embedder := mock.NewMockEmbedder()
	var out bytes.Buffer

	r, err := NewReembedder(repos.Documents, repos.Checkpoints, embedder, testConfig(), &out)
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx))

	total, embedded, err := repos.Documents.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, 5, embedded)
	assert.Equal(t, 3, embedder.CallCount(), "one call per batch")

	chunks, err := repos.Documents.ScanChunks(ctx, "", 10)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.InDelta(t, 1.0, magnitude(c.Vector), 1e-5)
	}

	cp, err := repos.Checkpoints.LoadCheckpoint(ctx, CheckpointJob)
	require.NoError(t, err)
	assert.Nil(t, cp, "checkpoint removed after a complete run")

	assert.Contains(t, out.String(), "Starting reembedding of 5 chunks")
	assert.Contains(t, out.String(), "5/5")
	assert.Contains(t, out.String(), "Reembedding complete. Embedded 5 chunks")
}

func TestReembedder_OnlyMissing(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	chunks := seedChunks(t, repos, 4)

	existing := []float32{1, 0, 0}
	chunks[1].Vector = existing
	require.NoError(t, repos.Documents.AddChunks(ctx, chunks[1]))

	var embedded []string
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		embedded = append(embedded, texts...)
		result := make([][]float32, len(texts))
		for i, text := range texts {
			result[i] = mock.BagOfWordsVector(text)
		}
		return result, nil
	}

	cfg := testConfig()
	cfg.OnlyMissing = true
	var out bytes.Buffer
	r, err := NewReembedder(repos.Documents, repos.Checkpoints, embedder, cfg, &out)
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx))

	assert.Len(t, embedded, 3)
	assert.NotContains(t, embedded, chunks[1].Text)

	stored, err := repos.Documents.GetChunks(ctx, chunks[1].ID)
	require.NoError(t, err)
	assert.Equal(t, existing, stored[0].Vector)
	assert.Contains(t, out.String(), "Embedded 3 chunks")

	// A second pass finds nothing left to do.
	out.Reset()
	require.NoError(t, r.Run(ctx))
	assert.Contains(t, out.String(), "All 4 chunks already embedded")
}

func TestReembedder_ResumesFromCheckpoint(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	seedChunks(t, repos, 6)

	failing := errors.New("provider down")
	calls := 0
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls > 1 {
			return nil, failing
		}
		result := make([][]float32, len(texts))
		for i, text := range texts {
			result[i] = mock.BagOfWordsVector(text)
		}
		return result, nil
	}

	cfg := testConfig()
	cfg.MaxRetries = 1
	var out bytes.Buffer
	r, err := NewReembedder(repos.Documents, repos.Checkpoints, embedder, cfg, &out)
	require.NoError(t, err)

	err = r.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, failing)

	cp, err := repos.Checkpoints.LoadCheckpoint(ctx, CheckpointJob)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "chunk-001", cp.LastID)
	assert.Equal(t, 2, cp.Processed)

	// Recover the provider and resume.
	var resumed []string
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		resumed = append(resumed, texts...)
		result := make([][]float32, len(texts))
		for i, text := range texts {
			result[i] = mock.BagOfWordsVector(text)
		}
		return result, nil
	}
	cfg.Resume = true
	out.Reset()
	r, err = NewReembedder(repos.Documents, repos.Checkpoints, embedder, cfg, &out)
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx))

	assert.Len(t, resumed, 4, "chunks before the checkpoint are not re-embedded")
	assert.Contains(t, out.String(), "Resuming after chunk chunk-001 (2 of 6 chunks done)")
	assert.Contains(t, out.String(), "6/6")

	_, embedded, err := repos.Documents.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, embedded)

	cp, err = repos.Checkpoints.LoadCheckpoint(ctx, CheckpointJob)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestReembedder_IgnoresCheckpointWithoutResume(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	seedChunks(t, repos, 3)

	require.NoError(t, repos.Checkpoints.SaveCheckpoint(ctx, &core.Checkpoint{
		Job: CheckpointJob, LastID: "chunk-001", Processed: 2,
	}))

	var out bytes.Buffer
	r, err := NewReembedder(repos.Documents, repos.Checkpoints, mock.NewMockEmbedder(), testConfig(), &out)
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx))

	assert.Contains(t, out.String(), "Embedded 3 chunks")
}

func TestReembedder_WithoutCheckpointStore(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	seedChunks(t, repos, 3)

	cfg := testConfig()
	cfg.Resume = true
	var out bytes.Buffer
	r, err := NewReembedder(repos.Documents, nil, mock.NewMockEmbedder(), cfg, &out)
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx))

	_, embedded, err := repos.Documents.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, embedded)
}
