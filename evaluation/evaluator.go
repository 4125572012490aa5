// Package evaluation scores released answers for relevance, faithfulness and
// completeness and stores the results.
package evaluation

import (
	"context"
	"log/slog"
	"strings"

	"github.com/poiesic/ragflow/ai"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/textutil"
)

// Sample is one answered question with the context it was grounded on.
type Sample struct {
	RunID     string
	SessionID string
	Question  string
	Answer    string
	Contexts  []string
	// Verdict is the compliance outcome of the released answer. Only
	// answers that passed unchanged, or samples without a verdict, are
	// sent to review.
	Verdict core.ComplianceOutcome
}

// Evaluator scores a sample. Scores are in [0,1].
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, s Sample) (ai.Scores, error)
}

// LexicalEvaluator scores answers by word overlap. It needs no model and is
// deterministic.
type LexicalEvaluator struct{}

// NewLexicalEvaluator creates a lexical evaluator.
func NewLexicalEvaluator() *LexicalEvaluator {
	return &LexicalEvaluator{}
}

func (*LexicalEvaluator) Name() string { return "lexical" }

// Evaluate computes:
//   - relevance: share of question words the answer mentions
//   - faithfulness: share of answer words found in the context
//   - completeness: answer length against twice the question's word count
func (*LexicalEvaluator) Evaluate(ctx context.Context, s Sample) (ai.Scores, error) {
	if err := ctx.Err(); err != nil {
		return ai.Scores{}, err
	}

	answerWords := textutil.Tokenize(s.Answer)
	if len(answerWords) == 0 {
		return ai.Scores{}, nil
	}

	scores := ai.Scores{
		Relevance:    textutil.Coverage(s.Question, s.Answer),
		Faithfulness: textutil.Coverage(s.Answer, strings.Join(s.Contexts, "\n")),
	}
	if want := 2 * len(textutil.WordSet(s.Question)); want > 0 {
		scores.Completeness = float64(len(answerWords)) / float64(want)
	} else {
		scores.Completeness = 1
	}
	return scores.Clamp(), nil
}

// JudgeEvaluator asks a model to score answers. When the judge fails, the
// fallback evaluator scores the sample instead.
type JudgeEvaluator struct {
	judge    ai.Judge
	fallback Evaluator
	logger   *slog.Logger
}

// NewJudgeEvaluator wraps a judge. A nil fallback defaults to the lexical
// evaluator.
func NewJudgeEvaluator(judge ai.Judge, fallback Evaluator) (*JudgeEvaluator, error) {
	if judge == nil {
		return nil, ErrJudgeRequired
	}
	if fallback == nil {
		fallback = NewLexicalEvaluator()
	}
	return &JudgeEvaluator{
		judge:    judge,
		fallback: fallback,
		logger:   slog.Default().With("component", "judge-evaluator"),
	}, nil
}

func (*JudgeEvaluator) Name() string { return "judge" }

func (e *JudgeEvaluator) Evaluate(ctx context.Context, s Sample) (ai.Scores, error) {
	scores, err := e.judge.ScoreAnswer(ctx, s.Question, s.Answer, s.Contexts)
	if err == nil {
		return scores.Clamp(), nil
	}
	if ctx.Err() != nil {
		return ai.Scores{}, err
	}
	e.logger.Warn("judge failed, using fallback", "run", s.RunID, "fallback", e.fallback.Name(), "err", err)
	return e.fallback.Evaluate(ctx, s)
}
