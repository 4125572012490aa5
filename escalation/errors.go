package escalation

import "errors"

var (
	// ErrRepositoryRequired is returned when no ticket repository is provided.
	ErrRepositoryRequired = errors.New("ticket repository required")

	// ErrTicketNotFound is returned for unknown ticket IDs.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrTicketClosed is returned when resolving or abandoning a ticket that is
	// no longer open.
	ErrTicketClosed = errors.New("ticket is not open")

	// ErrInvalidReason is returned for an unknown escalation reason.
	ErrInvalidReason = errors.New("invalid escalation reason")
)
