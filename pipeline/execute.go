package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/ragflow/ai"
	"github.com/poiesic/ragflow/compliance"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/cost"
	"github.com/poiesic/ragflow/generation"
	"github.com/poiesic/ragflow/retrieval"
	"github.com/poiesic/ragflow/routing"
	"github.com/sethvargo/go-retry"
)

// outcome collects what the run produced for the background writers.
type outcome struct {
	tier     cost.Tier
	model    string
	usage    ai.Usage
	context  []core.RetrievedChunk
	verdict  core.ComplianceVerdict
	released string
}

// stageError is a stage failure with its reason code.
type stageError struct {
	reason core.FailureReason
	err    error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.reason, e.err) }
func (e *stageError) Unwrap() error { return e.err }

func (o *Orchestrator) execute(ctx context.Context, h *runHandle, session *core.Session) {
	defer o.runWG.Done()
	defer h.cancel(nil)

	run := h.snapshot()
	q := run.Query
	out := &outcome{}

	err := o.runStages(ctx, h, q, session, out)
	if err != nil {
		o.abort(ctx, h, err)
	}

	final := h.snapshot()
	close(h.done)
	o.finish(h, final, q, out)
	o.evict(final.ID)
}

func (o *Orchestrator) runStages(ctx context.Context, h *runHandle, q core.Query, session *core.Session, out *outcome) error {
	runID := h.run.ID

	rec := o.deps.Advisor.Recommend(ctx, q)

	// routing
	if err := o.transition(ctx, h, core.RunStateRouting, core.ReasonNone); err != nil {
		return &stageError{core.ReasonInternal, err}
	}
	decision := o.route(ctx, h, q, session)
	rec = o.deps.Advisor.Prefer(rec, decision.Agent.Tier)
	out.tier = rec.Tier
	out.model = rec.Tier.Model
	h.update(func(r *core.PipelineRun) {
		r.AgentID = decision.Agent.ID
		r.Tools = decision.Tools
		r.RoutingFallback = decision.Fallback
		r.Tier = rec.Tier.Name
		r.Model = rec.Tier.Model
	})

	// retrieval
	if err := o.advance(ctx, h, core.RunStateRetrieving); err != nil {
		return err
	}
	result, err := o.retrieve(ctx, h, q, decision.Agent.Collection)
	if err != nil {
		return err
	}
	out.context = result.Chunks
	h.update(func(r *core.PipelineRun) { r.LowContext = result.Insufficient })

	// generation
	if err := o.advance(ctx, h, core.RunStateGenerating); err != nil {
		return err
	}
	chunks, err := o.generate(ctx, h, q, session, decision, rec, result, out)
	if err != nil {
		return err
	}

	// compliance
	if err := o.advance(ctx, h, core.RunStateComplianceCheck); err != nil {
		return err
	}
	verdict, err := o.check(ctx, h, runID, strings.Join(chunks, ""), result.Chunks)
	if err != nil {
		return err
	}
	out.verdict = verdict
	h.update(func(r *core.PipelineRun) { r.Verdict = verdict.Outcome })

	switch {
	case verdict.Outcome == core.ComplianceFail:
		return o.escalate(ctx, h, core.EscalationComplianceFail, describeFindings(verdict))
	case verdict.Outcome == core.CompliancePass && result.Insufficient && o.escalateOnLowContext:
		return o.escalate(ctx, h, core.EscalationLowConfidence, "no retrieved context cleared the relevance floor")
	}

	if err := ctx.Err(); err != nil {
		return &stageError{core.ReasonCancelled, context.Cause(ctx)}
	}
	if err := o.transition(ctx, h, core.RunStateReleasing, core.ReasonNone); err != nil {
		return &stageError{core.ReasonInternal, err}
	}

	texts := chunks
	if verdict.Outcome == core.ComplianceRedacted {
		texts = compliance.Rechunk(chunks, verdict)
	}
	texts = slices.DeleteFunc(slices.Clone(texts), func(s string) bool { return s == "" })
	if len(texts) == 0 {
		texts = []string{""}
	}
	h.release(texts, citations(result.Chunks, verdict.ExcludedSources))
	out.released = strings.Join(texts, "")

	evalStatus := core.StageRunning
	if o.deps.Evaluator == nil {
		evalStatus = core.StageSkipped
	}
	o.stage(h, core.StageEvaluation, evalStatus)

	if err := o.transition(ctx, h, core.RunStateCompleted, core.ReasonNone); err != nil {
		return &stageError{core.ReasonInternal, err}
	}
	o.logger.Info("run completed", "run", runID, "agent", decision.Agent.ID, "tier", rec.Tier.Name, "verdict", verdict.Outcome)
	return nil
}

// advance checks for cancellation before moving to the next state.
func (o *Orchestrator) advance(ctx context.Context, h *runHandle, to core.RunState) error {
	if ctx.Err() != nil {
		return &stageError{core.ReasonCancelled, context.Cause(ctx)}
	}
	if err := o.transition(ctx, h, to, core.ReasonNone); err != nil {
		return &stageError{core.ReasonInternal, err}
	}
	return nil
}

func (o *Orchestrator) stage(h *runHandle, name core.StageName, status core.StageStatus) {
	h.update(func(r *core.PipelineRun) { r.Stages[name] = status })
}

func (o *Orchestrator) endStage(ctx context.Context, h *runHandle, name core.StageName, status core.StageStatus, started time.Time) {
	o.stage(h, name, status)
	o.recorder.StageLatency(ctx, name, status, o.now().Sub(started))
}

// route picks the agent. Routing errors and timeouts fall back to the
// generalist and never fail the run.
func (o *Orchestrator) route(ctx context.Context, h *runHandle, q core.Query, session *core.Session) routing.Decision {
	started := o.now()
	o.stage(h, core.StageRouting, core.StageRunning)

	routeCtx, cancel := context.WithTimeout(ctx, o.timeouts.Routing)
	defer cancel()

	decision, err := o.deps.Router.Route(routeCtx, q, session.RecentTurns(o.maxHistory))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrRoutingTimeout, err)
		}
		o.logger.Warn("routing failed, using generalist", "run", h.run.ID, "err", err)
		o.endStage(ctx, h, core.StageRouting, core.StageFailed, started)
		return o.deps.Router.Fallback(q.Context.Role)
	}
	o.endStage(ctx, h, core.StageRouting, core.StageSucceeded, started)
	return decision
}

// withRetry runs fn with a per-attempt timeout, retrying once after the
// backoff. Cancellation of ctx is never retried.
func (o *Orchestrator) withRetry(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(1, retry.NewExponential(o.retryBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := fn(attemptCtx)
		if err == nil || ctx.Err() != nil {
			return err
		}
		return retry.RetryableError(err)
	})
}

// retrieve searches the routed agent's collection, or the coordinator's
// default scope when the agent has none.
func (o *Orchestrator) retrieve(ctx context.Context, h *runHandle, q core.Query, collection string) (retrieval.Result, error) {
	started := o.now()
	o.stage(h, core.StageRetrieval, core.StageRunning)

	var result retrieval.Result
	err := o.withRetry(ctx, o.timeouts.Retrieval, func(ctx context.Context) error {
		var err error
		result, err = o.deps.Retriever.Retrieve(ctx, retrieval.Request{Query: q.Text, Collection: collection})
		return err
	})
	if err != nil {
		o.endStage(ctx, h, core.StageRetrieval, core.StageFailed, started)
		if ctx.Err() != nil {
			return result, &stageError{core.ReasonCancelled, context.Cause(ctx)}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return result, &stageError{core.ReasonRetrievalTimeout, fmt.Errorf("%w: %w", ErrRetrievalTimeout, err)}
		}
		return result, &stageError{core.ReasonRetrievalError, fmt.Errorf("%w: %w", ErrDownstreamUnavailable, err)}
	}
	o.endStage(ctx, h, core.StageRetrieval, core.StageSucceeded, started)
	return result, nil
}

// generate runs the model and buffers its chunks. Nothing generated here
// is visible to clients until the compliance verdict.
func (o *Orchestrator) generate(ctx context.Context, h *runHandle, q core.Query, session *core.Session,
	decision routing.Decision, rec cost.Recommendation, result retrieval.Result, out *outcome) ([]string, error) {
	started := o.now()
	o.stage(h, core.StageGeneration, core.StageRunning)

	genCtx, cancel := context.WithTimeout(ctx, o.timeouts.Generation)
	defer cancel()

	stream := o.deps.Generator.Start(genCtx, generation.Request{
		Model: rec.Tier.Model,
		Messages: generation.BuildMessages(generation.PromptInput{
			SystemPrompt: decision.Agent.SystemPrompt,
			Tools:        decision.Tools,
			Context:      result.Chunks,
			History:      session.RecentTurns(o.promptHistory),
			LowContext:   result.Insufficient,
			Question:     q.Text,
		}),
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
		Stream:      q.Stream,
	})

	var chunks []string
	var genErr error
	for chunk, err := range stream.Chunks() {
		if err != nil {
			genErr = err
			break
		}
		chunks = append(chunks, chunk)
	}

	out.usage = stream.Usage()
	if m := stream.Model(); m != "" {
		out.model = m
	}
	o.recorder.Tokens(ctx, rec.Tier.Name, out.usage.PromptTokens, out.usage.CompletionTokens)

	if genErr != nil {
		o.endStage(ctx, h, core.StageGeneration, core.StageFailed, started)
		switch {
		case ctx.Err() != nil:
			return nil, &stageError{core.ReasonCancelled, context.Cause(ctx)}
		case errors.Is(genErr, generation.ErrGenerationTimeout):
			return nil, &stageError{core.ReasonGenerationTimeout, genErr}
		default:
			return nil, &stageError{core.ReasonGenerationFailure, genErr}
		}
	}
	o.endStage(ctx, h, core.StageGeneration, core.StageSucceeded, started)
	return chunks, nil
}

// check runs the compliance gate. Errors fail the run closed.
func (o *Orchestrator) check(ctx context.Context, h *runHandle, runID, text string, cited []core.RetrievedChunk) (core.ComplianceVerdict, error) {
	started := o.now()
	o.stage(h, core.StageCompliance, core.StageRunning)

	var verdict core.ComplianceVerdict
	err := o.withRetry(ctx, o.timeouts.Compliance, func(ctx context.Context) error {
		var err error
		verdict, err = o.deps.Gate.Check(ctx, runID, text, cited)
		return err
	})
	if err != nil {
		o.endStage(ctx, h, core.StageCompliance, core.StageFailed, started)
		if ctx.Err() != nil {
			return verdict, &stageError{core.ReasonCancelled, context.Cause(ctx)}
		}
		return verdict, &stageError{core.ReasonComplianceError, err}
	}
	o.endStage(ctx, h, core.StageCompliance, core.StageSucceeded, started)
	return verdict, nil
}

// escalate opens a ticket and ends the run escalated.
func (o *Orchestrator) escalate(ctx context.Context, h *runHandle, reason core.EscalationReason, detail string) error {
	run := h.snapshot()
	ticketCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), escalationTimeout)
	defer cancel()

	ticket, err := o.deps.Escalator.Escalate(ticketCtx, run.ID, run.SessionID, reason, detail)
	if err != nil {
		o.logger.Error("failed to open escalation ticket", "run", run.ID, "reason", reason, "err", err)
	} else {
		h.update(func(r *core.PipelineRun) { r.TicketID = ticket.ID })
	}

	skipPending(h)
	failure := core.ReasonLowConfidence
	if reason == core.EscalationComplianceFail {
		failure = core.ReasonComplianceFail
		h.update(func(r *core.PipelineRun) { r.Error = ErrComplianceFail.Error() })
	}
	if err := o.transition(ctx, h, core.RunStateEscalated, failure); err != nil {
		return &stageError{core.ReasonInternal, err}
	}
	o.logger.Warn("run escalated", "run", run.ID, "reason", reason, "ticket", h.snapshot().TicketID)
	return nil
}

// abort ends the run failed. Runs stopped by Cancel or Close are not
// escalated; every other failure opens an error ticket.
func (o *Orchestrator) abort(ctx context.Context, h *runHandle, err error) {
	reason := core.ReasonInternal
	var se *stageError
	if errors.As(err, &se) {
		reason = se.reason
	}

	cause := context.Cause(ctx)
	explicit := errors.Is(cause, ErrRunCancelled) || errors.Is(cause, ErrOrchestratorClosed)
	if cause != nil {
		reason = core.ReasonCancelled
		err = cause
	}

	h.update(func(r *core.PipelineRun) { r.Error = err.Error() })

	if !explicit {
		run := h.snapshot()
		ticketCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), escalationTimeout)
		defer cancel()
		ticket, escErr := o.deps.Escalator.Escalate(ticketCtx, run.ID, run.SessionID, core.EscalationError, err.Error())
		if escErr != nil {
			o.logger.Error("failed to open escalation ticket", "run", run.ID, "err", escErr)
		} else {
			h.update(func(r *core.PipelineRun) { r.TicketID = ticket.ID })
		}
	}

	skipPending(h)
	if tErr := o.transition(context.WithoutCancel(ctx), h, core.RunStateFailed, reason); tErr != nil {
		return
	}
	o.logger.Warn("run failed", "run", h.run.ID, "reason", reason, "err", err)
}

// skipPending marks stages that never ran as skipped.
func skipPending(h *runHandle) {
	h.update(func(r *core.PipelineRun) {
		for name, status := range r.Stages {
			if status == core.StagePending {
				r.Stages[name] = core.StageSkipped
			}
		}
	})
}

// citations converts retrieved context to sources, dropping excluded chunks.
func citations(chunks []core.RetrievedChunk, excluded []string) []core.Source {
	var sources []core.Source
	for _, c := range chunks {
		if slices.Contains(excluded, c.ChunkID) {
			continue
		}
		sources = append(sources, core.Source{
			DocumentID: c.DocumentID,
			ChunkID:    c.ChunkID,
			Title:      c.Metadata.Title,
			Score:      c.Score,
		})
	}
	return sources
}

// describeFindings summarizes blocking findings without their content.
func describeFindings(v core.ComplianceVerdict) string {
	var entities []string
	for _, f := range v.Findings {
		if f.SourceChunkID == "" && f.Action == core.ActionBlock && !slices.Contains(entities, f.Entity) {
			entities = append(entities, f.Entity)
		}
	}
	return "answer blocked: " + strings.Join(entities, ", ")
}
