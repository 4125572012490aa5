package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/storage"
)

// SessionRepository implements storage.SessionRepository for BadgerDB.
type SessionRepository struct {
	backend *Backend
}

var _ storage.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(backend *Backend) *SessionRepository {
	return &SessionRepository{backend: backend}
}

// CreateSession stores a new session.
func (r *SessionRepository) CreateSession(ctx context.Context, session *core.Session) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeSessionKey(session.ID)
		found, err := exists(tx, key)
		if err != nil {
			return err
		}
		if found {
			return storage.ErrDuplicateKey
		}
		if session.CreatedAt.IsZero() {
			session.CreatedAt = time.Now().UTC()
		}
		session.UpdatedAt = session.CreatedAt
		if err := tx.Set(key, storage.MarshalSession(session)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetSession retrieves a session by ID.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (*core.Session, error) {
	var session *core.Session
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		session, err = readSession(tx, id)
		return err
	}, false)
	return session, err
}

// AppendTurns appends turns to a session's history.
func (r *SessionRepository) AppendTurns(ctx context.Context, id string, maxHistory int, turns ...core.Turn) (*core.Session, error) {
	var session *core.Session
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		session, err = readSession(tx, id)
		if err != nil {
			return err
		}
		session.History = append(session.History, turns...)
		if maxHistory > 0 && len(session.History) > maxHistory {
			session.History = session.History[len(session.History)-maxHistory:]
		}
		session.UpdatedAt = time.Now().UTC()
		if err := tx.Set(makeSessionKey(id), storage.MarshalSession(session)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		// badger.ErrConflict when two runs of one session finish together
		return nil, err
	}
	return session, nil
}

func readSession(tx *badger.Txn, id string) (*core.Session, error) {
	data, err := getValue(tx, makeSessionKey(id))
	if err != nil {
		return nil, err
	}
	return storage.UnmarshalSession(data)
}
