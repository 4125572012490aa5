package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/ragflow/ai"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/storage"
)

// DefaultBatchSize is the number of chunks embedded per model call.
const DefaultBatchSize = 32

// Pipeline orchestrates the chunking, storage and embedding of documents.
type Pipeline struct {
	documents     storage.DocumentRepository
	embeddingPool *ants.Pool
	embeddingProc processor
	chunker       *chunker
	batchSize     int
	logger        *slog.Logger

	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent embedding.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		// Release old pool
		if p.embeddingPool != nil {
			p.embeddingPool.Release()
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.embeddingPool = pool
		return nil
	}
}

// WithChunking sets the chunk size and overlap in characters.
// Default is 512 and 128.
func WithChunking(size, overlap int) Option {
	return func(p *Pipeline) error {
		c, err := newChunker(size, overlap)
		if err != nil {
			return err
		}
		p.chunker = c
		return nil
	}
}

// WithBatchSize sets how many chunks are embedded per call.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("batch size must be positive, got %d", size)
		}
		p.batchSize = size
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(documents storage.DocumentRepository, provider ai.AIProvider, opts ...Option) (*Pipeline, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	// Default pool size
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	embeddingPool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	defaultChunker, err := newChunker(DefaultChunkSize, DefaultChunkOverlap)
	if err != nil {
		embeddingPool.Release()
		return nil, err
	}

	p := &Pipeline{
		documents:     documents,
		embeddingPool: embeddingPool,
		chunker:       defaultChunker,
		batchSize:     DefaultBatchSize,
		logger:        slog.Default().With("component", "ingestion"),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}

	// Create the processor after options are applied (so it gets the final logger)
	embeddingProc, err := newEmbeddingProcessor(documents, provider.Embedder(), p.logger)
	if err != nil {
		p.Release()
		return nil, err
	}
	p.embeddingProc = embeddingProc

	return p, nil
}

// Ingest validates and chunks documents, stores the chunks, and submits
// them for embedding. Documents without an ID get one derived from their
// text. It returns the stored chunks; their vectors are filled in the
// background, see Wait.
func (p *Pipeline) Ingest(ctx context.Context, docs ...*core.Document) ([]*core.DocumentChunk, error) {
	now := time.Now().UTC()

	var chunks []*core.DocumentChunk
	for _, doc := range docs {
		if err := core.ValidateDocument(doc); err != nil {
			return nil, err
		}
		if doc.ID == "" {
			doc.ID = core.IDFromContent(doc.Text).String()
		}
		split, err := p.chunker.split(doc, now)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, split...)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	if err := p.documents.AddChunks(ctx, chunks...); err != nil {
		return nil, fmt.Errorf("store chunks: %w", err)
	}
	p.logger.Info("stored chunks", "documents", len(docs), "chunks", len(chunks))

	// Submit for async processing
	embedCtx := context.WithoutCancel(ctx)
	for start := 0; start < len(chunks); start += p.batchSize {
		batch := chunks[start:min(start+p.batchSize, len(chunks))]
		ids := make([]string, len(batch))
		for i, chunk := range batch {
			ids[i] = chunk.ID
		}
		p.submit(embedCtx, ids)
	}
	return chunks, nil
}

func (p *Pipeline) submit(ctx context.Context, ids []string) {
	p.wg.Add(1)
	err := p.embeddingPool.Submit(func() {
		defer p.wg.Done()
		if err := p.embeddingProc.process(ctx, ids...); err != nil {
			p.logger.Error("error processing embeddings", "chunks", len(ids), "err", err)
			p.fail(err)
		}
	})
	if err != nil {
		p.wg.Done()
		p.logger.Error("could not submit embedding batch", "chunks", len(ids), "err", err)
		p.fail(err)
	}
}

func (p *Pipeline) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, err)
}

// Wait blocks until every submitted batch is processed and returns the
// joined errors of the batches that failed since the last Wait.
func (p *Pipeline) Wait() error {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	err := errors.Join(p.errs...)
	p.errs = nil
	return err
}

// Release releases resources including worker pools.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.embeddingPool != nil {
		p.embeddingPool.Release()
	}
}
