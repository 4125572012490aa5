package generation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/poiesic/ragflow/ai"
)

// Stream is one lazily started, finite, non-restartable model call.
type Stream struct {
	stage *Stage
	ctx   context.Context
	req   Request

	consumed atomic.Bool

	mu       sync.Mutex
	text     strings.Builder
	usage    ai.Usage
	model    string
	err      error
	finished bool
}

// Chunks yields the generated text in order. The model call starts on the
// first iteration. A failure is yielded once as a final ("", err) pair.
// Breaking out of the loop cancels the model call. Ranging a second time
// yields only ErrStreamConsumed.
func (s *Stream) Chunks() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !s.consumed.CompareAndSwap(false, true) {
			yield("", ErrStreamConsumed)
			return
		}

		ctx, cancel := context.WithCancel(s.ctx)
		defer cancel()

		queue := make(chan string, s.stage.queueSize)
		go s.produce(ctx, queue)

		for chunk := range queue {
			if !yield(chunk, nil) {
				cancel()
				// Drain so the producer can exit
				for range queue {
				}
				return
			}
		}

		if err := s.Err(); err != nil {
			yield("", err)
		}
	}
}

// Err returns the terminal error of the stream, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Text returns the text generated so far.
func (s *Stream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// Usage returns token usage, reported by the model or estimated. After a
// cancellation it covers the partial output.
func (s *Stream) Usage() ai.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Model returns the model that served the request.
func (s *Stream) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == "" {
		return s.req.Model
	}
	return s.model
}

// Finished reports whether the model call ran to completion.
func (s *Stream) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *Stream) produce(ctx context.Context, queue chan<- string) {
	defer close(queue)

	if err := s.stage.acquire(ctx); err != nil {
		s.finish(ctx, nil, err)
		return
	}
	defer s.stage.release()

	streamed := false
	onChunk := func(ctx context.Context, chunk string) error {
		if chunk == "" {
			return nil
		}
		streamed = true
		select {
		case queue <- chunk:
			s.mu.Lock()
			s.text.WriteString(chunk)
			s.mu.Unlock()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	resp, err := s.stage.generator.Generate(ctx, ai.GenerateRequest{
		Model:       s.req.Model,
		Messages:    s.req.Messages,
		Temperature: s.req.Temperature,
		MaxTokens:   s.req.MaxTokens,
		Stream:      s.req.Stream,
	}, onChunk)
	if err != nil {
		s.finish(ctx, nil, err)
		return
	}

	if !streamed && resp.Text != "" {
		select {
		case queue <- resp.Text:
			s.mu.Lock()
			s.text.WriteString(resp.Text)
			s.mu.Unlock()
		case <-ctx.Done():
			s.finish(ctx, nil, ctx.Err())
			return
		}
	}
	s.finish(ctx, resp, nil)
}

func (s *Stream) finish(ctx context.Context, resp *ai.GenerateResponse, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if resp != nil {
		s.model = resp.Model
		s.usage = resp.Usage
	}
	if s.usage.PromptTokens == 0 {
		var prompt strings.Builder
		for _, m := range s.req.Messages {
			prompt.WriteString(m.Content)
			prompt.WriteByte('\n')
		}
		s.usage.PromptTokens = s.stage.counter.CountTokens(prompt.String())
	}
	if s.usage.CompletionTokens == 0 {
		s.usage.CompletionTokens = s.stage.counter.CountTokens(s.text.String())
	}

	if err == nil {
		s.finished = true
		return
	}
	s.err = classify(ctx, err)
	s.stage.logger.Debug("generation ended with error", "err", s.err)
}

// classify maps model errors onto the package sentinels. Cancellation is
// passed through with its cause so callers can tell it from a timeout.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrGenerationTimeout, err)
	}
	if ctx.Err() != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrGenerationFailure, err)
}
