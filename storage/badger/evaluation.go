package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/storage"
)

// EvaluationRepository implements storage.EvaluationRepository for BadgerDB.
type EvaluationRepository struct {
	backend *Backend
	idSeq   *badger.Sequence
}

var _ storage.EvaluationRepository = (*EvaluationRepository)(nil)

// NewEvaluationRepository creates a new EvaluationRepository.
func NewEvaluationRepository(backend *Backend) (*EvaluationRepository, error) {
	idSeq, err := backend.GetSequence(evaluationIDSeq)
	if err != nil {
		return nil, err
	}
	return &EvaluationRepository{
		backend: backend,
		idSeq:   idSeq,
	}, nil
}

// Close releases the ID sequence.
func (r *EvaluationRepository) Close() error {
	return r.idSeq.Release()
}

// AppendEvaluation stores a record under a fresh sequence ID.
func (r *EvaluationRepository) AppendEvaluation(ctx context.Context, record *core.EvaluationRecord) error {
	if record.RunID == "" {
		return storage.ErrInvalidQuery
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		nextID, err := r.idSeq.Next()
		if err != nil {
			return err
		}
		// BadgerDB sequences can return 0 on first call, so we skip it
		if nextID == 0 {
			nextID, err = r.idSeq.Next()
			if err != nil {
				return err
			}
		}
		record.ID = core.ID(nextID)
		if record.CreatedAt.IsZero() {
			record.CreatedAt = time.Now().UTC()
		}
		if err := tx.Set(makeEvaluationKey(record.RunID, nextID), storage.MarshalEvaluation(record)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// ListEvaluations returns the records of a run in insertion order.
func (r *EvaluationRepository) ListEvaluations(ctx context.Context, runID string) ([]*core.EvaluationRecord, error) {
	var records []*core.EvaluationRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, makePartialEvaluationKey(runID), func(_, val []byte) error {
			rec, err := storage.UnmarshalEvaluation(val)
			if err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	}, false)
	return records, err
}
