package mock

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/poiesic/ragflow/ai"
)

// MockGenerator is a test double for ai.Generator that replays scripted chunks.
type MockGenerator struct {
	// GenerateFunc replaces the default behavior when set.
	GenerateFunc func(ctx context.Context, req ai.GenerateRequest, onChunk ai.StreamFunc) (*ai.GenerateResponse, error)

	chunks []string
	delay  time.Duration
	usage  ai.Usage

	callCount atomic.Int64
	active    atomic.Int64
	maxActive atomic.Int64
	lastReq   atomic.Pointer[ai.GenerateRequest]
}

// NewMockGenerator creates a generator that answers with the given chunks.
func NewMockGenerator(chunks ...string) *MockGenerator {
	return &MockGenerator{chunks: chunks}
}

// WithDelay waits d before each chunk.
func (m *MockGenerator) WithDelay(d time.Duration) *MockGenerator {
	m.delay = d
	return m
}

// WithUsage makes responses report the given usage.
func (m *MockGenerator) WithUsage(u ai.Usage) *MockGenerator {
	m.usage = u
	return m
}

// Generate emits the scripted chunks through onChunk when streaming and
// returns their concatenation. Cancellation stops it between chunks.
func (m *MockGenerator) Generate(ctx context.Context, req ai.GenerateRequest, onChunk ai.StreamFunc) (*ai.GenerateResponse, error) {
	m.callCount.Add(1)
	m.lastReq.Store(&req)

	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		cur := m.maxActive.Load()
		if n <= cur || m.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req, onChunk)
	}

	var sb strings.Builder
	for _, chunk := range m.chunks {
		if m.delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if req.Stream && onChunk != nil {
			if err := onChunk(ctx, chunk); err != nil {
				return nil, err
			}
		}
		sb.WriteString(chunk)
	}

	return &ai.GenerateResponse{
		Text:  sb.String(),
		Model: req.Model,
		Usage: m.usage,
	}, nil
}

// CallCount returns the number of Generate calls.
func (m *MockGenerator) CallCount() int {
	return int(m.callCount.Load())
}

// MaxConcurrent returns the highest number of overlapping Generate calls seen.
func (m *MockGenerator) MaxConcurrent() int {
	return int(m.maxActive.Load())
}

// LastRequest returns the most recent request, or nil.
func (m *MockGenerator) LastRequest() *ai.GenerateRequest {
	return m.lastReq.Load()
}
