package server

import (
	"time"

	"github.com/poiesic/ragflow/core"
)

type ledgerEntryView struct {
	RunID            string        `json:"run_id"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	Cost             string        `json:"cost_usd"`
	Tier             string        `json:"tier,omitempty"`
	Model            string        `json:"model,omitempty"`
	Outcome          core.RunState `json:"outcome"`
	CreatedAt        time.Time     `json:"created_at"`
}

type ledgerView struct {
	SessionID   string            `json:"session_id"`
	Entries     []ledgerEntryView `json:"entries"`
	TotalCost   string            `json:"total_cost_usd"`
	TotalTokens int               `json:"total_tokens"`
}

func newLedgerEntryView(e *core.CostLedgerEntry) ledgerEntryView {
	return ledgerEntryView{
		RunID:            e.RunID,
		PromptTokens:     e.PromptTokens,
		CompletionTokens: e.CompletionTokens,
		Cost:             e.Cost.StringFixed(6),
		Tier:             e.Tier,
		Model:            e.Model,
		Outcome:          e.Outcome,
		CreatedAt:        e.CreatedAt,
	}
}

type ticketView struct {
	ID          string                `json:"id"`
	RunID       string                `json:"run_id"`
	SessionID   string                `json:"session_id"`
	Reason      core.EscalationReason `json:"reason"`
	Status      core.TicketStatus     `json:"status"`
	Detail      string                `json:"detail,omitempty"`
	Note        string                `json:"note,omitempty"`
	Occurrences int                   `json:"occurrences"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

func newTicketView(t *core.EscalationTicket) ticketView {
	return ticketView{
		ID:          t.ID,
		RunID:       t.RunID,
		SessionID:   t.SessionID,
		Reason:      t.Reason,
		Status:      t.Status,
		Detail:      t.Detail,
		Note:        t.Note,
		Occurrences: t.Occurrences,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

type evaluationView struct {
	Relevance    float64   `json:"relevance"`
	Faithfulness float64   `json:"faithfulness"`
	Completeness float64   `json:"completeness"`
	Mean         float64   `json:"mean"`
	Evaluator    string    `json:"evaluator"`
	CreatedAt    time.Time `json:"created_at"`
}

func newEvaluationView(r *core.EvaluationRecord) evaluationView {
	return evaluationView{
		Relevance:    r.Relevance,
		Faithfulness: r.Faithfulness,
		Completeness: r.Completeness,
		Mean:         r.Mean(),
		Evaluator:    r.Evaluator,
		CreatedAt:    r.CreatedAt,
	}
}
