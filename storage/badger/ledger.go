package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/storage"
	"github.com/shopspring/decimal"
)

// LedgerRepository implements storage.LedgerRepository for BadgerDB.
// Entries are immutable once written.
type LedgerRepository struct {
	backend *Backend
}

var _ storage.LedgerRepository = (*LedgerRepository)(nil)

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(backend *Backend) *LedgerRepository {
	return &LedgerRepository{backend: backend}
}

// AppendEntry stores an entry with its run and date index entries.
func (r *LedgerRepository) AppendEntry(ctx context.Context, entry *core.CostLedgerEntry) error {
	if entry.RunID == "" || entry.SessionID == "" {
		return storage.ErrInvalidQuery
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		runKey := makeLedgerRunKey(entry.RunID)
		found, err := exists(tx, runKey)
		if err != nil {
			return err
		}
		if found {
			return storage.ErrDuplicateKey
		}

		key := makeLedgerKey(entry.SessionID, entry.CreatedAt, entry.RunID)
		if err := tx.Set(key, storage.MarshalLedgerEntry(entry)); err != nil {
			return err
		}
		if err := tx.Set(runKey, key); err != nil {
			return err
		}
		if err := tx.Set(makeLedgerDateKey(entry.CreatedAt, entry.RunID), key); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetEntry returns the entry recorded for a run.
func (r *LedgerRepository) GetEntry(ctx context.Context, runID string) (*core.CostLedgerEntry, error) {
	var entry *core.CostLedgerEntry
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		key, err := getValue(tx, makeLedgerRunKey(runID))
		if err != nil {
			return err
		}
		data, err := getValue(tx, key)
		if err != nil {
			return err
		}
		entry, err = storage.UnmarshalLedgerEntry(data)
		return err
	}, false)
	return entry, err
}

// ListEntries returns a session's entries ordered by creation time.
func (r *LedgerRepository) ListEntries(ctx context.Context, sessionID string) ([]*core.CostLedgerEntry, error) {
	var entries []*core.CostLedgerEntry
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, makePartialLedgerKey(sessionID), func(_, val []byte) error {
			entry, err := storage.UnmarshalLedgerEntry(val)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	}, false)
	return entries, err
}

// SessionTotal sums the cost and tokens of a session.
func (r *LedgerRepository) SessionTotal(ctx context.Context, sessionID string) (decimal.Decimal, int, error) {
	entries, err := r.ListEntries(ctx, sessionID)
	if err != nil {
		return decimal.Zero, 0, err
	}
	total := decimal.Zero
	tokens := 0
	for _, e := range entries {
		total = total.Add(e.Cost)
		tokens += e.TotalTokens()
	}
	return total, tokens, nil
}

// TokensSince sums tokens across all sessions from since onwards using the date index.
func (r *LedgerRepository) TokensSince(ctx context.Context, since time.Time) (int, error) {
	tokens := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(ledgerDatePrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(makePartialLedgerDateKey(since)); iter.Valid(); iter.Next() {
			key, err := iter.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			data, err := getValue(tx, key)
			if err != nil {
				return err
			}
			entry, err := storage.UnmarshalLedgerEntry(data)
			if err != nil {
				return err
			}
			tokens += entry.TotalTokens()
		}
		return nil
	}, false)
	return tokens, err
}
