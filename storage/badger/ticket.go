package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/storage"
)

// TicketRepository implements storage.TicketRepository for BadgerDB.
type TicketRepository struct {
	backend *Backend
}

var _ storage.TicketRepository = (*TicketRepository)(nil)

// NewTicketRepository creates a new TicketRepository.
func NewTicketRepository(backend *Backend) *TicketRepository {
	return &TicketRepository{backend: backend}
}

// CreateTicket stores a ticket and points the run index at it.
func (r *TicketRepository) CreateTicket(ctx context.Context, ticket *core.EscalationTicket) error {
	if ticket.ID == "" || ticket.RunID == "" {
		return storage.ErrInvalidQuery
	}
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = time.Now().UTC()
	}
	ticket.UpdatedAt = ticket.CreatedAt
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeTicketKey(ticket.ID)
		found, err := exists(tx, key)
		if err != nil {
			return err
		}
		if found {
			return storage.ErrDuplicateKey
		}
		if err := tx.Set(key, storage.MarshalTicket(ticket)); err != nil {
			return err
		}
		if err := tx.Set(makeTicketRunKey(ticket.RunID), []byte(ticket.ID)); err != nil {
			return err
		}
		if err := tx.Set(makeTicketStatusKey(ticket.CreatedAt, ticket.ID), []byte(ticket.ID)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// UpdateTicket overwrites an existing ticket.
func (r *TicketRepository) UpdateTicket(ctx context.Context, ticket *core.EscalationTicket) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeTicketKey(ticket.ID)
		found, err := exists(tx, key)
		if err != nil {
			return err
		}
		if !found {
			return storage.ErrNotFound
		}
		ticket.UpdatedAt = time.Now().UTC()
		if err := tx.Set(key, storage.MarshalTicket(ticket)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetTicket retrieves a ticket by ID.
func (r *TicketRepository) GetTicket(ctx context.Context, id string) (*core.EscalationTicket, error) {
	var ticket *core.EscalationTicket
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		ticket, err = readTicket(tx, id)
		return err
	}, false)
	return ticket, err
}

// GetTicketForRun returns the latest ticket created for a run.
func (r *TicketRepository) GetTicketForRun(ctx context.Context, runID string) (*core.EscalationTicket, error) {
	var ticket *core.EscalationTicket
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		id, err := getValue(tx, makeTicketRunKey(runID))
		if err != nil {
			return err
		}
		ticket, err = readTicket(tx, string(id))
		return err
	}, false)
	return ticket, err
}

// ListTickets returns tickets ordered by creation time, optionally filtered by status.
func (r *TicketRepository) ListTickets(ctx context.Context, status core.TicketStatus) ([]*core.EscalationTicket, error) {
	var tickets []*core.EscalationTicket
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(ticketStatusPrefix+":"), func(_, val []byte) error {
			ticket, err := readTicket(tx, string(val))
			if err != nil {
				return err
			}
			if status == "" || ticket.Status == status {
				tickets = append(tickets, ticket)
			}
			return nil
		})
	}, false)
	return tickets, err
}

func readTicket(tx *badger.Txn, id string) (*core.EscalationTicket, error) {
	data, err := getValue(tx, makeTicketKey(id))
	if err != nil {
		return nil, err
	}
	return storage.UnmarshalTicket(data)
}
