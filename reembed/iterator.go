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

	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/storage"
)

const (
	// DefaultBatchSize is the default number of chunks to fetch in each batch
	DefaultBatchSize = 100
)

// ChunkIterator pages through stored chunks in ID order.
type ChunkIterator struct {
	documents storage.DocumentRepository
	batchSize int
}

// NewChunkIterator creates a new chunk iterator.
// batchSize: number of chunks to fetch in each batch (defaults when <= 0)
func NewChunkIterator(documents storage.DocumentRepository, batchSize int) *ChunkIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &ChunkIterator{
		documents: documents,
		batchSize: batchSize,
	}
}

// ForEach calls fn for each batch of chunks whose ID sorts after afterID.
// Only one batch is held in memory at a time. Iteration stops on the first
// error from fn or when the store is exhausted; ctx is checked between
// batches.
func (it *ChunkIterator) ForEach(ctx context.Context, afterID string, fn func([]*core.DocumentChunk) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := it.documents.ScanChunks(ctx, afterID, it.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		if err := fn(batch); err != nil {
			return err
		}

		if len(batch) < it.batchSize {
			return nil
		}
		afterID = batch[len(batch)-1].ID
	}
}
