package pipeline

import (
	"context"

	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/cost"
	"github.com/poiesic/ragflow/evaluation"
	"github.com/poiesic/ragflow/generation"
	"github.com/poiesic/ragflow/retrieval"
	"github.com/poiesic/ragflow/routing"
	"github.com/poiesic/ragflow/storage"
)

// Advisor picks the model tier for a query.
type Advisor interface {
	Recommend(ctx context.Context, q core.Query) cost.Recommendation
	Prefer(rec cost.Recommendation, tierName string) cost.Recommendation
}

// Router picks the agent that answers a query.
type Router interface {
	Route(ctx context.Context, q core.Query, history []core.Turn) (routing.Decision, error)
	Fallback(role string) routing.Decision
}

// Retriever fetches ranked context for a query.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (retrieval.Result, error)
}

// Generator starts model streams.
type Generator interface {
	Start(ctx context.Context, req generation.Request) *generation.Stream
}

// ComplianceChecker produces the verdict that gates release.
type ComplianceChecker interface {
	Check(ctx context.Context, runID, text string, citations []core.RetrievedChunk) (core.ComplianceVerdict, error)
}

// Ledger records the usage of finished runs.
type Ledger interface {
	Record(ctx context.Context, entry *core.CostLedgerEntry) error
}

// Evaluator scores released answers.
type Evaluator interface {
	Evaluate(ctx context.Context, sample evaluation.Sample) (*core.EvaluationRecord, error)
}

// Escalator opens review tickets.
type Escalator interface {
	Escalate(ctx context.Context, runID, sessionID string, reason core.EscalationReason, detail string) (*core.EscalationTicket, error)
}

// Dependencies are the collaborators of an Orchestrator. Evaluator is
// optional; everything else is required.
type Dependencies struct {
	Sessions  storage.SessionRepository
	Runs      storage.RunRepository
	Advisor   Advisor
	Router    Router
	Retriever Retriever
	Generator Generator
	Gate      ComplianceChecker
	Ledger    Ledger
	Evaluator Evaluator
	Escalator Escalator
}

func (d Dependencies) validate() error {
	switch {
	case d.Sessions == nil:
		return ErrSessionRepositoryRequired
	case d.Runs == nil:
		return ErrRunRepositoryRequired
	case d.Advisor == nil:
		return ErrAdvisorRequired
	case d.Router == nil:
		return ErrRouterRequired
	case d.Retriever == nil:
		return ErrRetrieverRequired
	case d.Generator == nil:
		return ErrGeneratorRequired
	case d.Gate == nil:
		return ErrGateRequired
	case d.Ledger == nil:
		return ErrLedgerRequired
	case d.Escalator == nil:
		return ErrEscalatorRequired
	}
	return nil
}
