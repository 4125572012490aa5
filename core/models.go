package core

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/shopspring/decimal"
)

// ID is a content-derived identifier for documents and chunks.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// Identical content always produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// String renders the ID as fixed-width hex so it sorts lexically.
func (id ID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single entry in a session's rolling conversation history.
type Turn struct {
	Role  Role      `json:"role"`
	Text  string    `json:"text"`
	RunID string    `json:"run_id,omitempty"`
	At    time.Time `json:"at"`
}

// Session groups the queries of one user and carries their conversation history.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	History   []Turn    `json:"history"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecentTurns returns up to n of the most recent turns, oldest first.
func (s *Session) RecentTurns(n int) []Turn {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	if len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

// QueryContext carries caller-declared hints about a query.
type QueryContext struct {
	Domain string `json:"domain,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Query is the immutable input of a pipeline run.
type Query struct {
	SessionID   string       `json:"session_id"`
	Text        string       `json:"text"`
	Context     QueryContext `json:"context"`
	Stream      bool         `json:"stream"`
	SubmittedAt time.Time    `json:"submitted_at"`
}

// RunState is a state of the per-query state machine.
type RunState string

const (
	RunStateIntake          RunState = "intake"
	RunStateRouting         RunState = "routing"
	RunStateRetrieving      RunState = "retrieving"
	RunStateGenerating      RunState = "generating"
	RunStateComplianceCheck RunState = "compliance_check"
	RunStateReleasing       RunState = "releasing"
	RunStateCompleted       RunState = "completed"
	RunStateEscalated       RunState = "escalated"
	RunStateFailed          RunState = "failed"
)

// Terminal reports whether no further transitions can happen from s.
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStateEscalated || s == RunStateFailed
}

// StageName names a tracked pipeline stage.
type StageName string

const (
	StageRouting    StageName = "routing"
	StageRetrieval  StageName = "retrieval"
	StageGeneration StageName = "generation"
	StageCompliance StageName = "compliance"
	StageEvaluation StageName = "evaluation"
)

// Stages lists the tracked stages in execution order.
var Stages = []StageName{StageRouting, StageRetrieval, StageGeneration, StageCompliance, StageEvaluation}

// StageStatus is the status of a single stage within a run.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// FailureReason is the structured reason code attached to failed runs.
type FailureReason string

const (
	ReasonNone              FailureReason = ""
	ReasonRetrievalTimeout  FailureReason = "retrieval_timeout"
	ReasonRetrievalError    FailureReason = "retrieval_error"
	ReasonGenerationTimeout FailureReason = "generation_timeout"
	ReasonGenerationFailure FailureReason = "generation_failure"
	ReasonComplianceError   FailureReason = "compliance_error"
	ReasonComplianceFail    FailureReason = "compliance_fail"
	ReasonLowConfidence     FailureReason = "low_confidence"
	ReasonCancelled         FailureReason = "cancelled"
	ReasonInternal          FailureReason = "internal"
)

// PipelineRun tracks the execution of one query.
type PipelineRun struct {
	ID              string                    `json:"id"`
	SessionID       string                    `json:"session_id"`
	Query           Query                     `json:"query"`
	State           RunState                  `json:"state"`
	Stages          map[StageName]StageStatus `json:"stages"`
	NextSeq         int                       `json:"next_seq"`
	Delivered       int                       `json:"delivered"`
	AgentID         string                    `json:"agent_id,omitempty"`
	Tools           []string                  `json:"tools,omitempty"`
	RoutingFallback bool                      `json:"routing_fallback,omitempty"`
	Tier            string                    `json:"tier,omitempty"`
	Model           string                    `json:"model,omitempty"`
	LowContext      bool                      `json:"low_context,omitempty"`
	Verdict         ComplianceOutcome         `json:"verdict,omitempty"`
	FailureReason   FailureReason             `json:"failure_reason,omitempty"`
	Error           string                    `json:"error,omitempty"`
	TicketID        string                    `json:"ticket_id,omitempty"`
	CreatedAt       time.Time                 `json:"created_at"`
	UpdatedAt       time.Time                 `json:"updated_at"`
	ClosedAt        time.Time                 `json:"closed_at,omitzero"`
}

// NewPipelineRun creates a run in the Intake state with every stage pending.
func NewPipelineRun(id string, q Query, now time.Time) *PipelineRun {
	stages := make(map[StageName]StageStatus, len(Stages))
	for _, s := range Stages {
		stages[s] = StagePending
	}
	return &PipelineRun{
		ID:        id,
		SessionID: q.SessionID,
		Query:     q,
		State:     RunStateIntake,
		Stages:    stages,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy that callers may read without holding the run's lock.
func (r *PipelineRun) Clone() *PipelineRun {
	c := *r
	c.Stages = make(map[StageName]StageStatus, len(r.Stages))
	for k, v := range r.Stages {
		c.Stages[k] = v
	}
	c.Tools = append([]string(nil), r.Tools...)
	return &c
}

// ChunkMetadata is publication metadata carried with a retrieved chunk.
type ChunkMetadata struct {
	Title       string    `json:"title,omitempty"`
	Source      string    `json:"source,omitempty"`
	PublishedAt time.Time `json:"published_at,omitzero"`
}

// RetrievedChunk is one ranked retrieval hit.
type RetrievedChunk struct {
	ChunkID    string        `json:"chunk_id"`
	DocumentID string        `json:"document_id"`
	Text       string        `json:"text"`
	Score      float64       `json:"score"`
	Start      int           `json:"start"`
	End        int           `json:"end"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// CompareChunks orders chunks by score descending, then publication date
// descending, then chunk ID ascending.
func CompareChunks(a, b RetrievedChunk) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	}
	if c := b.Metadata.PublishedAt.Compare(a.Metadata.PublishedAt); c != 0 {
		return c
	}
	switch {
	case a.ChunkID < b.ChunkID:
		return -1
	case a.ChunkID > b.ChunkID:
		return 1
	}
	return 0
}

// Overlaps reports whether two chunks come from the same document and share text.
func (c RetrievedChunk) Overlaps(o RetrievedChunk) bool {
	if c.DocumentID != o.DocumentID {
		return false
	}
	if c.ChunkID == o.ChunkID {
		return true
	}
	if c.End <= c.Start || o.End <= o.Start {
		return c.Text == o.Text
	}
	return c.Start < o.End && o.Start < c.End
}

// Source is a citation attached to the final chunk of an answer.
type Source struct {
	DocumentID string  `json:"document_id"`
	ChunkID    string  `json:"chunk_id"`
	Title      string  `json:"title,omitempty"`
	Score      float64 `json:"score"`
}

// StreamChunk is a piece of a released answer.
type StreamChunk struct {
	RunID   string   `json:"run_id"`
	Seq     int      `json:"seq"`
	Text    string   `json:"text"`
	IsFinal bool     `json:"is_final"`
	Sources []Source `json:"sources,omitempty"`
}

// ComplianceOutcome is the result class of a compliance check.
type ComplianceOutcome string

const (
	CompliancePass     ComplianceOutcome = "pass"
	ComplianceFail     ComplianceOutcome = "fail"
	ComplianceRedacted ComplianceOutcome = "redacted"
)

// ComplianceAction is what the gate does with a finding.
type ComplianceAction string

const (
	ActionRedact ComplianceAction = "redact"
	ActionBlock  ComplianceAction = "block"
)

// EntitySpan is a sensitive-entity finding. Offsets are byte offsets into the
// scanned text. SourceChunkID is set for findings in cited context.
type EntitySpan struct {
	Entity        string           `json:"entity"`
	Start         int              `json:"start"`
	End           int              `json:"end"`
	Action        ComplianceAction `json:"action"`
	Severity      string           `json:"severity,omitempty"`
	SourceChunkID string           `json:"source_chunk_id,omitempty"`
}

// ComplianceVerdict is computed exactly once per run.
type ComplianceVerdict struct {
	RunID           string            `json:"run_id"`
	Outcome         ComplianceOutcome `json:"outcome"`
	Findings        []EntitySpan      `json:"findings,omitempty"`
	RedactedText    string            `json:"redacted_text,omitempty"`
	ExcludedSources []string          `json:"excluded_sources,omitempty"`
	CheckedAt       time.Time         `json:"checked_at"`
}

// EvaluationRecord holds quality scores for one released answer.
type EvaluationRecord struct {
	ID           ID
	RunID        string
	SessionID    string
	Relevance    float64
	Faithfulness float64
	Completeness float64
	Evaluator    string
	CreatedAt    time.Time
}

// Mean returns the average of the three scores.
func (e *EvaluationRecord) Mean() float64 {
	return (e.Relevance + e.Faithfulness + e.Completeness) / 3
}

// CostLedgerEntry is the usage record for one run.
type CostLedgerEntry struct {
	SessionID        string
	RunID            string
	PromptTokens     int
	CompletionTokens int
	Cost             decimal.Decimal
	Tier             string
	Model            string
	Outcome          RunState
	CreatedAt        time.Time
}

// TotalTokens is the sum of prompt and completion tokens.
func (e *CostLedgerEntry) TotalTokens() int {
	return e.PromptTokens + e.CompletionTokens
}

// EscalationReason explains why a run was sent to the human queue.
type EscalationReason string

const (
	EscalationLowConfidence  EscalationReason = "low_confidence"
	EscalationComplianceFail EscalationReason = "compliance_fail"
	EscalationError          EscalationReason = "error"
)

// Rank orders reasons by precedence; higher wins when a ticket is re-escalated.
func (r EscalationReason) Rank() int {
	switch r {
	case EscalationComplianceFail:
		return 3
	case EscalationError:
		return 2
	case EscalationLowConfidence:
		return 1
	}
	return 0
}

// TicketStatus is the lifecycle status of an escalation ticket.
type TicketStatus string

const (
	TicketOpen      TicketStatus = "open"
	TicketResolved  TicketStatus = "resolved"
	TicketAbandoned TicketStatus = "abandoned"
)

// EscalationTicket is a request for human review of a run.
type EscalationTicket struct {
	ID          string
	RunID       string
	SessionID   string
	Reason      EscalationReason
	Status      TicketStatus
	Detail      string
	Note        string
	Occurrences int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Document is a source document loaded into the corpus.
type Document struct {
	ID          string
	Collection  string
	Title       string
	Source      string
	Text        string
	PublishedAt time.Time
}

// DocumentChunk is a stored, optionally embedded, slice of a document.
type DocumentChunk struct {
	ID          string
	DocumentID  string
	Collection  string
	Text        string
	Start       int
	End         int
	Title       string
	Source      string
	PublishedAt time.Time
	Vector      []float32 // populated by the embedding processor
	InsertedAt  time.Time
}

// ChunkMatch is a similarity hit against stored chunks.
type ChunkMatch struct {
	Chunk *DocumentChunk
	Score float32
}

// Checkpoint records how far a batch job over stored chunks has progressed.
type Checkpoint struct {
	Job       string
	LastID    string
	Processed int
	UpdatedAt time.Time
}
