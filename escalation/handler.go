// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package escalation manages the human review queue.
//
// Each run has at most one open ticket. Escalating a run that already has an
// open ticket updates that ticket instead of creating another one.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/metrics"
	"github.com/poiesic/ragflow/storage"
)

// Handler opens and closes escalation tickets.
type Handler struct {
	repo     storage.TicketRepository
	recorder metrics.Recorder
	locks    *keyedMutex
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Handler.
type Option func(*Handler) error

// WithRecorder reports escalations to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(h *Handler) error {
		if r != nil {
			h.recorder = r
		}
		return nil
	}
}

// WithLogger sets the handler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) error {
		h.logger = logger
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) error {
		h.now = now
		return nil
	}
}

// NewHandler creates an escalation handler over repo.
func NewHandler(repo storage.TicketRepository, opts ...Option) (*Handler, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	h := &Handler{
		repo:     repo,
		recorder: metrics.Nop(),
		locks:    newKeyedMutex(),
		logger:   slog.Default().With("component", "escalation"),
		now:      time.Now,
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Escalate opens a ticket for the run, or updates its open ticket: the
// occurrence count goes up, the detail is replaced and the reason keeps
// whichever of the old and new reasons ranks higher.
func (h *Handler) Escalate(ctx context.Context, runID, sessionID string, reason core.EscalationReason, detail string) (*core.EscalationTicket, error) {
	if reason.Rank() == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}

	unlock := h.locks.Lock(runID)
	defer unlock()

	existing, err := h.repo.GetTicketForRun(ctx, runID)
	switch {
	case err == nil && existing.Status == core.TicketOpen:
		existing.Occurrences++
		existing.Detail = detail
		existing.UpdatedAt = h.now().UTC()
		if reason.Rank() > existing.Reason.Rank() {
			existing.Reason = reason
		}
		if err := h.repo.UpdateTicket(ctx, existing); err != nil {
			return nil, fmt.Errorf("update ticket %s: %w", existing.ID, err)
		}
		h.logger.Info("escalation updated", "ticket", existing.ID, "run", runID,
			"reason", existing.Reason, "occurrences", existing.Occurrences)
		h.recorder.Escalated(ctx, reason)
		return existing, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("lookup ticket for run %s: %w", runID, err)
	}

	now := h.now().UTC()
	ticket := &core.EscalationTicket{
		ID:          uuid.NewString(),
		RunID:       runID,
		SessionID:   sessionID,
		Reason:      reason,
		Status:      core.TicketOpen,
		Detail:      detail,
		Occurrences: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.repo.CreateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("create ticket for run %s: %w", runID, err)
	}
	h.logger.Info("ticket opened", "ticket", ticket.ID, "run", runID, "reason", reason)
	h.recorder.Escalated(ctx, reason)
	return ticket, nil
}

// Resolve closes an open ticket as handled.
func (h *Handler) Resolve(ctx context.Context, id, note string) (*core.EscalationTicket, error) {
	return h.close(ctx, id, core.TicketResolved, note)
}

// Abandon closes an open ticket without handling it.
func (h *Handler) Abandon(ctx context.Context, id, note string) (*core.EscalationTicket, error) {
	return h.close(ctx, id, core.TicketAbandoned, note)
}

func (h *Handler) close(ctx context.Context, id string, status core.TicketStatus, note string) (*core.EscalationTicket, error) {
	ticket, err := h.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := h.locks.Lock(ticket.RunID)
	defer unlock()

	// reread under the run lock
	ticket, err = h.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ticket.Status != core.TicketOpen {
		return nil, fmt.Errorf("%w: %s is %s", ErrTicketClosed, id, ticket.Status)
	}
	ticket.Status = status
	ticket.Note = note
	ticket.UpdatedAt = h.now().UTC()
	if err := h.repo.UpdateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("update ticket %s: %w", id, err)
	}
	h.logger.Info("ticket closed", "ticket", id, "run", ticket.RunID, "status", status)
	return ticket, nil
}

// Get returns a ticket by ID.
func (h *Handler) Get(ctx context.Context, id string) (*core.EscalationTicket, error) {
	ticket, err := h.repo.GetTicket(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, id)
	}
	return ticket, err
}

// ForRun returns the latest ticket of a run.
func (h *Handler) ForRun(ctx context.Context, runID string) (*core.EscalationTicket, error) {
	ticket, err := h.repo.GetTicketForRun(ctx, runID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: run %s", ErrTicketNotFound, runID)
	}
	return ticket, err
}

// List returns tickets in status, or all tickets when status is empty.
func (h *Handler) List(ctx context.Context, status core.TicketStatus) ([]*core.EscalationTicket, error) {
	return h.repo.ListTickets(ctx, status)
}
