package cost

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/storage"
	"github.com/shopspring/decimal"
)

// Ledger prices and records run usage.
type Ledger struct {
	repo   storage.LedgerRepository
	tiers  map[string]Tier
	logger *slog.Logger
}

// NewLedger creates a ledger over repo that prices entries with tiers.
func NewLedger(repo storage.LedgerRepository, tiers []Tier) (*Ledger, error) {
	if repo == nil {
		return nil, ErrLedgerRepositoryRequired
	}
	byName := make(map[string]Tier, len(tiers))
	for _, t := range tiers {
		byName[t.Name] = t
	}
	return &Ledger{
		repo:   repo,
		tiers:  byName,
		logger: slog.Default().With("component", "cost-ledger"),
	}, nil
}

// Record prices entry from its tier and appends it. A second entry for the
// same run fails with storage.ErrDuplicateKey. An entry without a tier
// (the run failed before one was chosen) is recorded at zero cost.
func (l *Ledger) Record(ctx context.Context, entry *core.CostLedgerEntry) error {
	if entry.Tier != "" {
		tier, ok := l.tiers[entry.Tier]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownTier, entry.Tier)
		}
		entry.Cost = tier.Price(entry.PromptTokens, entry.CompletionTokens)
	} else {
		entry.Cost = decimal.Zero
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if err := l.repo.AppendEntry(ctx, entry); err != nil {
		return err
	}
	l.logger.Debug("recorded usage", "run", entry.RunID, "tokens", entry.TotalTokens(), "cost", entry.Cost.StringFixed(6))
	return nil
}

// Entry returns the entry of a run.
func (l *Ledger) Entry(ctx context.Context, runID string) (*core.CostLedgerEntry, error) {
	return l.repo.GetEntry(ctx, runID)
}

// Entries returns the entries of a session, oldest first.
func (l *Ledger) Entries(ctx context.Context, sessionID string) ([]*core.CostLedgerEntry, error) {
	return l.repo.ListEntries(ctx, sessionID)
}

// SessionTotal returns the spend and token count of a session.
func (l *Ledger) SessionTotal(ctx context.Context, sessionID string) (decimal.Decimal, int, error) {
	return l.repo.SessionTotal(ctx, sessionID)
}
