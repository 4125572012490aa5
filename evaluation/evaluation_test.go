package evaluation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/poiesic/ragflow/ai"
	"github.com/poiesic/ragflow/ai/mock"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ibuprofen = Sample{
	RunID:     "r1",
	SessionID: "s1",
	Question:  "What is the max daily dose of ibuprofen?",
	Answer:    "The maximum daily dose of ibuprofen is 1200 mg.",
	Contexts:  []string{"Adults may take up to 1200 mg of ibuprofen daily as the maximum dose."},
}

type recordingEscalator struct {
	mu      sync.Mutex
	reasons []core.EscalationReason
	err     error
}

func (r *recordingEscalator) Escalate(_ context.Context, runID, sessionID string, reason core.EscalationReason, detail string) (*core.EscalationTicket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	if r.err != nil {
		return nil, r.err
	}
	return &core.EscalationTicket{RunID: runID, SessionID: sessionID, Reason: reason, Detail: detail}, nil
}

func TestLexicalEvaluator(t *testing.T) {
	scores, err := NewLexicalEvaluator().Evaluate(context.Background(), ibuprofen)
	require.NoError(t, err)

	assert.InDelta(t, 0.75, scores.Relevance, 1e-9)
	assert.InDelta(t, 1.0, scores.Faithfulness, 1e-9)
	assert.InDelta(t, 0.75, scores.Completeness, 1e-9)
}

func TestLexicalEvaluator_UngroundedAnswer(t *testing.T) {
	s := ibuprofen
	s.Contexts = nil
	scores, err := NewLexicalEvaluator().Evaluate(context.Background(), s)
	require.NoError(t, err)
	assert.Zero(t, scores.Faithfulness)

	s.Answer = ""
	scores, err = NewLexicalEvaluator().Evaluate(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, ai.Scores{}, scores)
}

func TestJudgeEvaluator_UsesJudge(t *testing.T) {
	judge := mock.NewMockJudge()
	judge.Scores = ai.Scores{Relevance: 1.4, Faithfulness: 0.5, Completeness: -1}

	e, err := NewJudgeEvaluator(judge, nil)
	require.NoError(t, err)

	scores, err := e.Evaluate(context.Background(), ibuprofen)
	require.NoError(t, err)
	assert.Equal(t, ai.Scores{Relevance: 1, Faithfulness: 0.5, Completeness: 0}, scores)
	assert.Equal(t, 1, judge.CallCount())
}

func TestJudgeEvaluator_FallsBack(t *testing.T) {
	judge := mock.NewMockJudge()
	judge.ScoreFunc = func(context.Context, string, string, []string) (ai.Scores, error) {
		return ai.Scores{}, errors.New("unparseable judge output")
	}

	e, err := NewJudgeEvaluator(judge, nil)
	require.NoError(t, err)

	scores, err := e.Evaluate(context.Background(), ibuprofen)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, scores.Relevance, 1e-9)
}

func TestNewJudgeEvaluator_RequiresJudge(t *testing.T) {
	_, err := NewJudgeEvaluator(nil, nil)
	assert.ErrorIs(t, err, ErrJudgeRequired)
}

func TestStage_AppendsRecords(t *testing.T) {
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	stage, err := NewStage(NewLexicalEvaluator(), repos.Evaluations)
	require.NoError(t, err)

	rec, err := stage.Evaluate(context.Background(), ibuprofen)
	require.NoError(t, err)
	assert.NotZero(t, rec.ID)
	assert.Equal(t, "lexical", rec.Evaluator)

	_, err = stage.Evaluate(context.Background(), ibuprofen)
	require.NoError(t, err)

	records, err := stage.Records(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Less(t, uint64(records[0].ID), uint64(records[1].ID))
}

func TestStage_ReviewThreshold(t *testing.T) {
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	esc := &recordingEscalator{}
	stage, err := NewStage(NewLexicalEvaluator(), repos.Evaluations, WithReviewThreshold(0.9, esc))
	require.NoError(t, err)

	_, err = stage.Evaluate(context.Background(), ibuprofen)
	require.NoError(t, err)
	assert.Equal(t, []core.EscalationReason{core.EscalationLowConfidence}, esc.reasons)

	esc.err = errors.New("queue down")
	_, err = stage.Evaluate(context.Background(), ibuprofen)
	require.NoError(t, err)
}

func TestStage_ReviewOnlyForPassedAnswers(t *testing.T) {
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	esc := &recordingEscalator{}
	stage, err := NewStage(NewLexicalEvaluator(), repos.Evaluations, WithReviewThreshold(0.99, esc))
	require.NoError(t, err)

	redacted := ibuprofen
	redacted.Verdict = core.ComplianceRedacted
	rec, err := stage.Evaluate(context.Background(), redacted)
	require.NoError(t, err)
	assert.Less(t, rec.Mean(), 0.99)
	assert.Empty(t, esc.reasons)

	passed := ibuprofen
	passed.Verdict = core.CompliancePass
	_, err = stage.Evaluate(context.Background(), passed)
	require.NoError(t, err)
	assert.Equal(t, []core.EscalationReason{core.EscalationLowConfidence}, esc.reasons)
}

func TestStage_NoReviewAboveThreshold(t *testing.T) {
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	esc := &recordingEscalator{}
	stage, err := NewStage(NewLexicalEvaluator(), repos.Evaluations, WithReviewThreshold(0.5, esc))
	require.NoError(t, err)

	_, err = stage.Evaluate(context.Background(), ibuprofen)
	require.NoError(t, err)
	assert.Empty(t, esc.reasons)
}

func TestNewStage_Validation(t *testing.T) {
	_, err := NewStage(nil, nil)
	assert.ErrorIs(t, err, ErrEvaluatorRequired)

	_, err = NewStage(NewLexicalEvaluator(), nil)
	assert.ErrorIs(t, err, ErrRepositoryRequired)

	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()
	_, err = NewStage(NewLexicalEvaluator(), repos.Evaluations, WithReviewThreshold(2, nil))
	assert.Error(t, err)
}
