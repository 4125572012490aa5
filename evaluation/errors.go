package evaluation

import "errors"

var (
	// ErrEvaluatorRequired is returned when no evaluator is provided.
	ErrEvaluatorRequired = errors.New("evaluator required")

	// ErrRepositoryRequired is returned when no evaluation repository is provided.
	ErrRepositoryRequired = errors.New("evaluation repository required")

	// ErrJudgeRequired is returned when no judge is provided.
	ErrJudgeRequired = errors.New("judge required")
)
