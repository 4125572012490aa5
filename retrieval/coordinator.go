package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/poiesic/ragflow/core"
)

const (
	// DefaultTopK is the number of passages returned.
	DefaultTopK = 8

	// DefaultMinRelevance is the relevance floor.
	DefaultMinRelevance = 0.3

	// overfetch leaves room for passages removed by the floor and dedup
	overfetch = 2
)

// SearchRequest is one vector store query.
type SearchRequest struct {
	Query      string
	Collection string
	Limit      int
}

// VectorStore answers similarity queries with scores in [0,1].
type VectorStore interface {
	Search(ctx context.Context, req SearchRequest) ([]core.RetrievedChunk, error)
}

// Request is a retrieval request. Zero TopK and MinRelevance use the
// coordinator's configured values.
type Request struct {
	Query        string
	Collection   string
	TopK         int
	MinRelevance float64
}

// Result is the ranked outcome of a retrieval. Insufficient is set when no
// passage cleared the relevance floor.
type Result struct {
	Chunks       []core.RetrievedChunk
	Insufficient bool
}

// Coordinator ranks and filters vector store hits.
type Coordinator struct {
	store        VectorStore
	topK         int
	minRelevance float64
	collection   string
	monitor      Monitor
	logger       *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator) error

// WithTopK sets the default number of passages returned.
func WithTopK(k int) Option {
	return func(c *Coordinator) error {
		if k <= 0 {
			return fmt.Errorf("top-k must be positive, got %d", k)
		}
		c.topK = k
		return nil
	}
}

// WithMinRelevance sets the default relevance floor.
func WithMinRelevance(score float64) Option {
	return func(c *Coordinator) error {
		if score < 0 || score > 1 {
			return fmt.Errorf("min relevance must be within [0,1], got %v", score)
		}
		c.minRelevance = score
		return nil
	}
}

// WithCollection sets the default collection scope.
func WithCollection(collection string) Option {
	return func(c *Coordinator) error {
		c.collection = collection
		return nil
	}
}

// WithMonitor observes every retrieval.
func WithMonitor(m Monitor) Option {
	return func(c *Coordinator) error {
		if m == nil {
			m = &noopMonitor{}
		}
		c.monitor = m
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// NewCoordinator creates a coordinator over store.
func NewCoordinator(store VectorStore, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, ErrVectorStoreRequired
	}
	c := &Coordinator{
		store:        store,
		topK:         DefaultTopK,
		minRelevance: DefaultMinRelevance,
		monitor:      &noopMonitor{},
		logger:       slog.Default().With("component", "retrieval"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Retrieve runs one search and returns at most top-k passages.
func (c *Coordinator) Retrieve(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Result{}, ErrEmptyQuery
	}
	topK := req.TopK
	if topK <= 0 {
		topK = c.topK
	}
	floor := req.MinRelevance
	if floor <= 0 {
		floor = c.minRelevance
	}
	collection := req.Collection
	if collection == "" {
		collection = c.collection
	}

	c.monitor.Start(req.Query)

	hits, err := c.store.Search(ctx, SearchRequest{
		Query:      req.Query,
		Collection: collection,
		Limit:      topK * overfetch,
	})
	if err != nil {
		c.logger.Warn("vector search failed", "err", err)
		return Result{}, fmt.Errorf("vector search: %w", err)
	}
	c.monitor.AfterSearch(hits)

	candidates := make([]core.RetrievedChunk, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < floor {
			c.monitor.BelowThreshold(hit)
			continue
		}
		candidates = append(candidates, hit)
	}
	slices.SortStableFunc(candidates, core.CompareChunks)

	// candidates are best first, so the first of any overlapping group is kept
	kept := make([]core.RetrievedChunk, 0, min(topK, len(candidates)))
	for _, cand := range candidates {
		if len(kept) == topK {
			break
		}
		dup := false
		for _, k := range kept {
			if cand.Overlaps(k) {
				c.monitor.Duplicate(cand, k)
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, cand)
		}
	}

	result := Result{Chunks: kept, Insufficient: len(kept) == 0}
	c.logger.Debug("retrieval finished", "hits", len(hits), "kept", len(kept), "insufficient", result.Insufficient)
	c.monitor.Finish(result)
	return result, nil
}
