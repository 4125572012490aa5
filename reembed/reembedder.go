// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/ragflow/ai"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/storage"
)

// CheckpointJob names the checkpoint a Reembedder saves its progress under.
const CheckpointJob = "reembed"

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of chunks to process in each batch
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// MaxRetries is the maximum number of attempts for each embedding call
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// OnlyMissing skips chunks that already have a vector
	OnlyMissing bool

	// Resume continues after the last saved checkpoint instead of starting over
	Resume bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Reembedder recomputes the vectors of every stored chunk.
type Reembedder struct {
	documents   storage.DocumentRepository
	checkpoints storage.CheckpointRepository
	config      *Config
	progress    io.Writer
	processor   *BatchProcessor
	iterator    *ChunkIterator
	logger      *slog.Logger
}

// NewReembedder creates a new reembedder. checkpoints may be nil, in which
// case progress is not saved and Resume has no effect.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(documents storage.DocumentRepository, checkpoints storage.CheckpointRepository, embedder ai.Embedder, config *Config, progress io.Writer) (*Reembedder, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxRetries <= 0 {
		return nil, ErrInvalidMaxAttempts
	}

	return &Reembedder{
		documents:   documents,
		checkpoints: checkpoints,
		config:      config,
		progress:    progress,
		processor:   NewBatchProcessor(documents, embedder, config.MaxRetries, config.RetryDelay),
		iterator:    NewChunkIterator(documents, config.BatchSize),
		logger:      slog.Default().With("component", "reembed"),
	}, nil
}

// Run reembeds the stored chunks. Progress is reported to the configured
// writer and checkpointed after every batch; the checkpoint is removed once
// every chunk has been processed.
func (r *Reembedder) Run(ctx context.Context) error {
	total, embedded, err := r.documents.CountChunks(ctx)
	if err != nil {
		return fmt.Errorf("failed to count chunks: %w", err)
	}
	if total == 0 {
		fmt.Fprintf(r.progress, "No chunks found in store (0 chunks)\n")
		return nil
	}
	if r.config.OnlyMissing && embedded == total {
		fmt.Fprintf(r.progress, "All %d chunks already embedded\n", total)
		return r.clearCheckpoint(ctx)
	}

	afterID, processed, err := r.resumePoint(ctx)
	if err != nil {
		return err
	}
	if afterID != "" {
		fmt.Fprintf(r.progress, "Resuming after chunk %s (%d of %d chunks done)\n", afterID, processed, total)
	} else {
		fmt.Fprintf(r.progress, "Starting reembedding of %d chunks (batch size: %d)\n",
			total, r.iterator.batchSize)
	}

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.StartAt(processed)

	reembedded := 0
	err = r.iterator.ForEach(ctx, afterID, func(chunks []*core.DocumentChunk) error {
		pending := chunks
		if r.config.OnlyMissing {
			pending = make([]*core.DocumentChunk, 0, len(chunks))
			for _, c := range chunks {
				if len(c.Vector) == 0 {
					pending = append(pending, c)
				}
			}
		}

		if err := r.processor.Process(ctx, pending); err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		reembedded += len(pending)
		processed += len(chunks)
		tracker.Update(processed)

		return r.saveCheckpoint(ctx, chunks[len(chunks)-1].ID, processed)
	})
	if err != nil {
		return err
	}

	tracker.Finish()
	if err := r.clearCheckpoint(ctx); err != nil {
		return err
	}

	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reembedding complete. Embedded %d chunks in %v (%.1f chunks/sec)\n",
		reembedded, elapsed.Round(time.Second), float64(reembedded)/max(elapsed.Seconds(), 1e-9))
	return nil
}

func (r *Reembedder) resumePoint(ctx context.Context) (string, int, error) {
	if r.checkpoints == nil || !r.config.Resume {
		return "", 0, nil
	}
	cp, err := r.checkpoints.LoadCheckpoint(ctx, CheckpointJob)
	if err != nil {
		return "", 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp == nil {
		return "", 0, nil
	}
	r.logger.Info("resuming from checkpoint", "after", cp.LastID, "processed", cp.Processed, "saved", cp.UpdatedAt)
	return cp.LastID, cp.Processed, nil
}

func (r *Reembedder) saveCheckpoint(ctx context.Context, lastID string, processed int) error {
	if r.checkpoints == nil {
		return nil
	}
	cp := &core.Checkpoint{Job: CheckpointJob, LastID: lastID, Processed: processed}
	if err := r.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (r *Reembedder) clearCheckpoint(ctx context.Context) error {
	if r.checkpoints == nil {
		return nil
	}
	return r.checkpoints.DeleteCheckpoint(ctx, CheckpointJob)
}
