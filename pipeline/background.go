package pipeline

import (
	"context"
	"fmt"
	"slices"

	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/evaluation"
)

// finish schedules the writes that follow a terminal state. None of them
// affect what the client sees.
func (o *Orchestrator) finish(h *runHandle, run *core.PipelineRun, q core.Query, out *outcome) {
	o.submitTask("ledger", run.ID, func(ctx context.Context) error {
		return o.deps.Ledger.Record(ctx, &core.CostLedgerEntry{
			SessionID:        run.SessionID,
			RunID:            run.ID,
			PromptTokens:     out.usage.PromptTokens,
			CompletionTokens: out.usage.CompletionTokens,
			Tier:             out.tier.Name,
			Model:            out.model,
			Outcome:          run.State,
		})
	})

	if run.State != core.RunStateCompleted {
		return
	}

	o.submitTask("history", run.ID, func(ctx context.Context) error {
		now := o.now().UTC()
		_, err := o.deps.Sessions.AppendTurns(ctx, run.SessionID, o.maxHistory,
			core.Turn{Role: core.RoleUser, Text: q.Text, RunID: run.ID, At: q.SubmittedAt},
			core.Turn{Role: core.RoleAssistant, Text: out.released, RunID: run.ID, At: now},
		)
		return err
	})

	if o.deps.Evaluator == nil {
		return
	}
	o.submitTask("evaluation", run.ID, func(ctx context.Context) error {
		var contexts []string
		for _, c := range out.context {
			if !slices.Contains(out.verdict.ExcludedSources, c.ChunkID) {
				contexts = append(contexts, c.Text)
			}
		}
		started := o.now()
		_, err := o.deps.Evaluator.Evaluate(ctx, evaluation.Sample{
			RunID:     run.ID,
			SessionID: run.SessionID,
			Question:  q.Text,
			Answer:    out.released,
			Contexts:  contexts,
			Verdict:   out.verdict.Outcome,
		})
		status := core.StageSucceeded
		if err != nil {
			status = core.StageFailed
		}
		o.endStage(ctx, h, core.StageEvaluation, status, started)
		o.persist(h.snapshot())
		if err != nil {
			return fmt.Errorf("evaluate: %w", err)
		}
		return nil
	})
}
