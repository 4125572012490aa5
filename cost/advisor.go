// Package cost recommends model tiers and keeps the cost ledger.
//
// The Advisor grades each query, counts its prompt tokens and picks a tier
// from the configured price list, downgrading to the cheapest tier when the
// session or daily budget would be exceeded. The Ledger prices and records
// exactly one entry per finished run.
package cost

import (
	"context"
	"log/slog"
	"time"

	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/storage"
	"github.com/shopspring/decimal"
)

// DefaultExpectedCompletion is the completion length assumed when estimating.
const DefaultExpectedCompletion = 300

// Budget limits spend. Zero values are unlimited.
type Budget struct {
	SessionUSD  decimal.Decimal
	DailyTokens int
}

// Recommendation is the advisor's tier choice for one query.
type Recommendation struct {
	Tier              Tier
	Complexity        Complexity
	PromptTokens      int
	EstimatedCost     decimal.Decimal
	SessionSpend      decimal.Decimal
	BudgetConstrained bool
}

// Advisor recommends a model tier per query.
type Advisor struct {
	ledger             storage.LedgerRepository
	tiers              []Tier // cheapest first
	counter            TokenCounter
	budget             Budget
	expectedCompletion int
	now                func() time.Time
	logger             *slog.Logger
}

// AdvisorOption configures an Advisor.
type AdvisorOption func(*Advisor) error

// WithBudget sets spend limits.
func WithBudget(b Budget) AdvisorOption {
	return func(a *Advisor) error {
		a.budget = b
		return nil
	}
}

// WithTokenCounter sets the token counter. Default is HeuristicCounter.
func WithTokenCounter(c TokenCounter) AdvisorOption {
	return func(a *Advisor) error {
		if c != nil {
			a.counter = c
		}
		return nil
	}
}

// WithExpectedCompletion sets the completion length used for estimates.
func WithExpectedCompletion(tokens int) AdvisorOption {
	return func(a *Advisor) error {
		if tokens > 0 {
			a.expectedCompletion = tokens
		}
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) AdvisorOption {
	return func(a *Advisor) error {
		a.now = now
		return nil
	}
}

// WithAdvisorLogger sets a custom logger.
func WithAdvisorLogger(logger *slog.Logger) AdvisorOption {
	return func(a *Advisor) error {
		if logger == nil {
			logger = slog.Default()
		}
		a.logger = logger
		return nil
	}
}

// NewAdvisor creates an advisor over the ledger and tier list.
func NewAdvisor(ledger storage.LedgerRepository, tiers []Tier, opts ...AdvisorOption) (*Advisor, error) {
	if ledger == nil {
		return nil, ErrLedgerRepositoryRequired
	}
	if len(tiers) == 0 {
		return nil, ErrNoTiers
	}
	a := &Advisor{
		ledger:             ledger,
		tiers:              sortTiers(tiers),
		counter:            HeuristicCounter{},
		expectedCompletion: DefaultExpectedCompletion,
		now:                time.Now,
		logger:             slog.Default().With("component", "cost-advisor"),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Recommend picks a tier for q. Ledger read failures are logged and the
// budget check is skipped rather than failing the query.
func (a *Advisor) Recommend(ctx context.Context, q core.Query) Recommendation {
	complexity := ClassifyComplexity(q.Text)
	rec := Recommendation{
		Complexity:   complexity,
		PromptTokens: a.counter.CountTokens(q.Text),
	}
	rec.Tier = a.tierFor(complexity)
	a.applyBudget(ctx, q.SessionID, &rec)
	return rec
}

// Prefer moves rec to the named tier unless the recommendation is budget
// constrained or the tier is unknown.
func (a *Advisor) Prefer(rec Recommendation, tierName string) Recommendation {
	if tierName == "" || rec.BudgetConstrained || tierName == rec.Tier.Name {
		return rec
	}
	for _, t := range a.tiers {
		if t.Name == tierName {
			rec.Tier = t
			rec.EstimatedCost = t.Price(rec.PromptTokens, a.expectedCompletion)
			return rec
		}
	}
	a.logger.Warn("unknown preferred tier", "tier", tierName)
	return rec
}

// Tier looks up a tier by name.
func (a *Advisor) Tier(name string) (Tier, bool) {
	for _, t := range a.tiers {
		if t.Name == name {
			return t, true
		}
	}
	return Tier{}, false
}

// Cheapest returns the lowest priced tier.
func (a *Advisor) Cheapest() Tier {
	return a.tiers[0]
}

func (a *Advisor) tierFor(c Complexity) Tier {
	last := len(a.tiers) - 1
	switch c {
	case ComplexityComplex:
		return a.tiers[last]
	case ComplexityModerate:
		return a.tiers[last/2+last%2]
	}
	return a.tiers[0]
}

func (a *Advisor) applyBudget(ctx context.Context, sessionID string, rec *Recommendation) {
	rec.EstimatedCost = rec.Tier.Price(rec.PromptTokens, a.expectedCompletion)

	over := false
	if a.budget.SessionUSD.IsPositive() {
		spend, _, err := a.ledger.SessionTotal(ctx, sessionID)
		if err != nil {
			a.logger.Warn("error reading session spend", "session", sessionID, "err", err)
		} else {
			rec.SessionSpend = spend
			if spend.Add(rec.EstimatedCost).GreaterThan(a.budget.SessionUSD) {
				over = true
			}
		}
	}
	if !over && a.budget.DailyTokens > 0 {
		now := a.now().UTC()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		used, err := a.ledger.TokensSince(ctx, midnight)
		if err != nil {
			a.logger.Warn("error reading daily token usage", "err", err)
		} else if used+rec.PromptTokens+a.expectedCompletion > a.budget.DailyTokens {
			over = true
		}
	}

	if over {
		cheapest := a.tiers[0]
		if cheapest.Name != rec.Tier.Name {
			a.logger.Info("budget exceeded, downgrading tier", "session", sessionID, "from", rec.Tier.Name, "to", cheapest.Name)
		}
		rec.Tier = cheapest
		rec.EstimatedCost = cheapest.Price(rec.PromptTokens, a.expectedCompletion)
		rec.BudgetConstrained = true
	}
}
