package cost

import "errors"

var (
	// ErrLedgerRepositoryRequired is returned when no ledger repository is provided.
	ErrLedgerRepositoryRequired = errors.New("ledger repository required")

	// ErrNoTiers is returned when no model tier is configured.
	ErrNoTiers = errors.New("at least one model tier required")

	// ErrUnknownTier is returned when an entry names a tier that is not configured.
	ErrUnknownTier = errors.New("unknown tier")
)
