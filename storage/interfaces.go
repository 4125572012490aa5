package storage

import (
	"context"
	"time"

	"github.com/poiesic/ragflow/core"
	"github.com/shopspring/decimal"
)

// SessionRepository stores sessions and their conversation history.
type SessionRepository interface {
	// CreateSession stores a new session.
	// Returns ErrDuplicateKey if a session with the same ID exists.
	CreateSession(ctx context.Context, session *core.Session) error

	// GetSession retrieves a session by ID.
	// Returns ErrNotFound if the session doesn't exist.
	GetSession(ctx context.Context, id string) (*core.Session, error)

	// AppendTurns appends turns to the session history, keeping at most
	// maxHistory of the newest turns when maxHistory > 0.
	// Returns ErrNotFound if the session doesn't exist.
	AppendTurns(ctx context.Context, id string, maxHistory int, turns ...core.Turn) (*core.Session, error)
}

// RunRepository stores pipeline run snapshots.
type RunRepository interface {
	// SaveRun creates or overwrites the snapshot of a run.
	SaveRun(ctx context.Context, run *core.PipelineRun) error

	// GetRun retrieves a run by ID.
	// Returns ErrNotFound if the run doesn't exist.
	GetRun(ctx context.Context, id string) (*core.PipelineRun, error)

	// ListRuns returns the runs of a session ordered by creation time.
	ListRuns(ctx context.Context, sessionID string) ([]*core.PipelineRun, error)
}

// LedgerRepository is the append-only cost ledger.
type LedgerRepository interface {
	// AppendEntry stores an entry. Returns ErrDuplicateKey if the run already
	// has an entry.
	AppendEntry(ctx context.Context, entry *core.CostLedgerEntry) error

	// GetEntry returns the entry for a run, or ErrNotFound.
	GetEntry(ctx context.Context, runID string) (*core.CostLedgerEntry, error)

	// ListEntries returns the entries of a session ordered by creation time.
	ListEntries(ctx context.Context, sessionID string) ([]*core.CostLedgerEntry, error)

	// SessionTotal returns the accumulated cost and token count of a session.
	SessionTotal(ctx context.Context, sessionID string) (decimal.Decimal, int, error)

	// TokensSince returns the number of tokens recorded at or after since,
	// across all sessions.
	TokensSince(ctx context.Context, since time.Time) (int, error)
}

// EvaluationRepository is the append-only store of evaluation records.
type EvaluationRepository interface {
	// AppendEvaluation stores a record and assigns its ID.
	AppendEvaluation(ctx context.Context, record *core.EvaluationRecord) error

	// ListEvaluations returns the records of a run in insertion order.
	ListEvaluations(ctx context.Context, runID string) ([]*core.EvaluationRecord, error)
}

// TicketRepository stores escalation tickets.
type TicketRepository interface {
	// CreateTicket stores a new ticket and indexes it by run.
	CreateTicket(ctx context.Context, ticket *core.EscalationTicket) error

	// UpdateTicket overwrites an existing ticket.
	// Returns ErrNotFound if the ticket doesn't exist.
	UpdateTicket(ctx context.Context, ticket *core.EscalationTicket) error

	// GetTicket retrieves a ticket by ID, or ErrNotFound.
	GetTicket(ctx context.Context, id string) (*core.EscalationTicket, error)

	// GetTicketForRun returns the most recent ticket created for a run, or ErrNotFound.
	GetTicketForRun(ctx context.Context, runID string) (*core.EscalationTicket, error)

	// ListTickets returns tickets ordered by creation time. An empty status
	// returns tickets in every status.
	ListTickets(ctx context.Context, status core.TicketStatus) ([]*core.EscalationTicket, error)
}

// DocumentRepository stores document chunks and answers similarity queries.
type DocumentRepository interface {
	// AddChunks stores chunks, replacing any chunk with the same ID.
	AddChunks(ctx context.Context, chunks ...*core.DocumentChunk) error

	// GetChunks retrieves chunks by ID. Missing chunks are skipped.
	GetChunks(ctx context.Context, ids ...string) ([]*core.DocumentChunk, error)

	// FindSimilar returns embedded chunks with cosine similarity >= minSimilarity,
	// highest first, up to limit. An empty collection searches all collections.
	FindSimilar(ctx context.Context, vector []float32, collection string, minSimilarity float32, limit int) ([]*core.ChunkMatch, error)

	// CountChunks returns the number of stored chunks and how many are embedded.
	CountChunks(ctx context.Context) (total int, embedded int, err error)

	// ScanChunks returns up to limit chunks in ID order, starting after
	// afterID. An empty afterID starts at the first chunk.
	ScanChunks(ctx context.Context, afterID string, limit int) ([]*core.DocumentChunk, error)
}

// CheckpointRepository persists progress of resumable batch jobs.
type CheckpointRepository interface {
	// SaveCheckpoint creates or overwrites the checkpoint of a job.
	SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error

	// LoadCheckpoint returns the checkpoint of a job, or nil if none exists.
	LoadCheckpoint(ctx context.Context, job string) (*core.Checkpoint, error)

	// DeleteCheckpoint removes the checkpoint of a job. Deleting a missing
	// checkpoint is not an error.
	DeleteCheckpoint(ctx context.Context, job string) error
}
