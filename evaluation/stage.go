package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/storage"
)

// Escalator opens review tickets for weak answers.
type Escalator interface {
	Escalate(ctx context.Context, runID, sessionID string, reason core.EscalationReason, detail string) (*core.EscalationTicket, error)
}

// Stage evaluates answers and appends the records.
type Stage struct {
	evaluator Evaluator
	repo      storage.EvaluationRepository
	escalator Escalator
	threshold float64
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Stage.
type Option func(*Stage) error

// WithReviewThreshold opens a low_confidence ticket through escalator when
// the mean score falls below threshold. Zero disables review.
func WithReviewThreshold(threshold float64, escalator Escalator) Option {
	return func(s *Stage) error {
		if threshold < 0 || threshold > 1 {
			return fmt.Errorf("review threshold %v out of range [0,1]", threshold)
		}
		s.threshold = threshold
		s.escalator = escalator
		return nil
	}
}

// WithLogger sets the stage logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stage) error {
		s.logger = logger
		return nil
	}
}

// NewStage creates an evaluation stage.
func NewStage(evaluator Evaluator, repo storage.EvaluationRepository, opts ...Option) (*Stage, error) {
	if evaluator == nil {
		return nil, ErrEvaluatorRequired
	}
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	s := &Stage{
		evaluator: evaluator,
		repo:      repo,
		logger:    slog.Default().With("component", "evaluation"),
		now:       time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Evaluate scores the sample and appends an evaluation record. A review
// ticket failure is logged and does not fail the evaluation.
func (s *Stage) Evaluate(ctx context.Context, sample Sample) (*core.EvaluationRecord, error) {
	scores, err := s.evaluator.Evaluate(ctx, sample)
	if err != nil {
		return nil, fmt.Errorf("evaluate run %s: %w", sample.RunID, err)
	}

	record := &core.EvaluationRecord{
		RunID:        sample.RunID,
		SessionID:    sample.SessionID,
		Relevance:    scores.Relevance,
		Faithfulness: scores.Faithfulness,
		Completeness: scores.Completeness,
		Evaluator:    s.evaluator.Name(),
		CreatedAt:    s.now(),
	}
	if err := s.repo.AppendEvaluation(ctx, record); err != nil {
		return nil, fmt.Errorf("store evaluation for run %s: %w", sample.RunID, err)
	}

	mean := record.Mean()
	s.logger.Debug("answer evaluated", "run", sample.RunID, "evaluator", record.Evaluator, "mean", mean)

	if s.reviewable(sample) && mean < s.threshold {
		detail := fmt.Sprintf("evaluation mean %.2f below review threshold %.2f", mean, s.threshold)
		if _, err := s.escalator.Escalate(ctx, sample.RunID, sample.SessionID, core.EscalationLowConfidence, detail); err != nil {
			s.logger.Warn("failed to open review ticket", "run", sample.RunID, "err", err)
		}
	}
	return record, nil
}

// reviewable reports whether a weak score on sample opens a ticket.
// Redacted answers are never reviewed for confidence.
func (s *Stage) reviewable(sample Sample) bool {
	if s.threshold <= 0 || s.escalator == nil {
		return false
	}
	return sample.Verdict == "" || sample.Verdict == core.CompliancePass
}

// Records returns the evaluation records of a run.
func (s *Stage) Records(ctx context.Context, runID string) ([]*core.EvaluationRecord, error) {
	return s.repo.ListEvaluations(ctx, runID)
}
