// Package generation runs model calls and exposes their output as a
// bounded, single-use stream.
//
// A Stage is shared across runs: it caps concurrent model calls with a
// weighted semaphore and optionally paces them with a token bucket. Each
// call is represented by a Stream whose model call starts lazily on first
// iteration. Chunks pass through a bounded queue, so a slow consumer
// blocks the model callback rather than growing memory.
package generation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/ragflow/ai"
	"github.com/poiesic/ragflow/cost"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxConcurrent caps simultaneous model calls.
	DefaultMaxConcurrent = 4

	// DefaultQueueSize bounds the chunks buffered between model and consumer.
	DefaultQueueSize = 32
)

// Request describes one model call.
type Request struct {
	Model       string
	Messages    []ai.Message
	Temperature float64
	MaxTokens   int
	// Stream asks the model for incremental output. Without it the whole
	// answer arrives as one chunk.
	Stream bool
}

// Stage starts generation streams against a shared generator.
type Stage struct {
	generator ai.Generator
	sem       *semaphore.Weighted
	limiter   *rate.Limiter
	queueSize int
	counter   cost.TokenCounter
	logger    *slog.Logger
}

// Option configures a Stage.
type Option func(*Stage) error

// WithMaxConcurrent sets the maximum number of concurrent model calls.
func WithMaxConcurrent(n int) Option {
	return func(s *Stage) error {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		}
		return nil
	}
}

// WithRateLimit paces model calls to rps requests per second with the given
// burst. A non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Stage) error {
		if rps <= 0 {
			s.limiter = nil
			return nil
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), max(1, burst))
		return nil
	}
}

// WithQueueSize sets the stream buffer size.
func WithQueueSize(n int) Option {
	return func(s *Stage) error {
		if n > 0 {
			s.queueSize = n
		}
		return nil
	}
}

// WithTokenCounter sets the counter used when the model reports no usage.
func WithTokenCounter(c cost.TokenCounter) Option {
	return func(s *Stage) error {
		if c != nil {
			s.counter = c
		}
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stage) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewStage creates a generation stage.
func NewStage(generator ai.Generator, opts ...Option) (*Stage, error) {
	if generator == nil {
		return nil, ErrGeneratorRequired
	}
	s := &Stage{
		generator: generator,
		sem:       semaphore.NewWeighted(DefaultMaxConcurrent),
		queueSize: DefaultQueueSize,
		counter:   cost.HeuristicCounter{},
		logger:    slog.Default().With("component", "generation"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start returns a stream for req. Nothing is sent to the model until the
// stream is iterated; ctx bounds the whole call.
func (s *Stage) Start(ctx context.Context, req Request) *Stream {
	return &Stream{stage: s, ctx: ctx, req: req}
}

func (s *Stage) acquire(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			s.sem.Release(1)
			if ctx.Err() == nil {
				// the wait would outlast the deadline
				return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
			}
			return err
		}
	}
	return nil
}

func (s *Stage) release() {
	s.sem.Release(1)
}
