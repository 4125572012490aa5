package mock

import (
	"context"
	"sync/atomic"

	"github.com/poiesic/ragflow/ai"
)

// MockJudge is a test double for ai.Judge returning fixed scores.
type MockJudge struct {
	// ScoreFunc replaces the default behavior when set.
	ScoreFunc func(ctx context.Context, question, answer string, contexts []string) (ai.Scores, error)

	Scores ai.Scores

	callCount atomic.Int64
}

// NewMockJudge creates a judge that scores every answer 1.0.
func NewMockJudge() *MockJudge {
	return &MockJudge{Scores: ai.Scores{Relevance: 1, Faithfulness: 1, Completeness: 1}}
}

// ScoreAnswer returns the configured scores.
func (m *MockJudge) ScoreAnswer(ctx context.Context, question, answer string, contexts []string) (ai.Scores, error) {
	m.callCount.Add(1)
	if m.ScoreFunc != nil {
		return m.ScoreFunc(ctx, question, answer, contexts)
	}
	return m.Scores, nil
}

// CallCount returns the number of ScoreAnswer calls.
func (m *MockJudge) CallCount() int {
	return int(m.callCount.Load())
}
