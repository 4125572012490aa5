package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/storage"
)

// RunRepository implements storage.RunRepository for BadgerDB.
type RunRepository struct {
	backend *Backend
}

var _ storage.RunRepository = (*RunRepository)(nil)

// NewRunRepository creates a new RunRepository.
func NewRunRepository(backend *Backend) *RunRepository {
	return &RunRepository{backend: backend}
}

// SaveRun creates or overwrites a run snapshot. The session index entry is
// written the first time a run is seen.
func (r *RunRepository) SaveRun(ctx context.Context, run *core.PipelineRun) error {
	value := storage.MarshalRun(run)
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeRunKey(run.ID)
		found, err := exists(tx, key)
		if err != nil {
			return err
		}
		if err := tx.Set(key, value); err != nil {
			return err
		}
		if !found {
			indexKey := makeRunSessionKey(run.SessionID, run.CreatedAt, run.ID)
			if err := tx.Set(indexKey, []byte(run.ID)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// GetRun retrieves a run by ID.
func (r *RunRepository) GetRun(ctx context.Context, id string) (*core.PipelineRun, error) {
	var run *core.PipelineRun
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		data, err := getValue(tx, makeRunKey(id))
		if err != nil {
			return err
		}
		run, err = storage.UnmarshalRun(data)
		return err
	}, false)
	return run, err
}

// ListRuns returns the runs of a session ordered by creation time.
func (r *RunRepository) ListRuns(ctx context.Context, sessionID string) ([]*core.PipelineRun, error) {
	var runs []*core.PipelineRun
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, makePartialRunSessionKey(sessionID), func(_, val []byte) error {
			data, err := getValue(tx, makeRunKey(string(val)))
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return nil
				}
				return err
			}
			run, err := storage.UnmarshalRun(data)
			if err != nil {
				return err
			}
			runs = append(runs, run)
			return nil
		})
	}, false)
	return runs, err
}
