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


// Package pipeline runs queries through the answer pipeline.
//
// Every submitted query becomes a run that moves through
//
//	intake -> routing -> retrieving -> generating -> compliance_check -> releasing
//
// and ends completed, escalated or failed. Generated text is buffered until
// the compliance gate returns its verdict; only then are chunks released to
// Stream readers. Ledger entries, evaluations and session history are
// written by a background worker pool after the run ends.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/metrics"
	"github.com/poiesic/ragflow/storage"
)

// Orchestrator owns the runs of a process.
type Orchestrator struct {
	deps Dependencies

	timeouts             Timeouts
	retryBackoff         time.Duration
	escalateOnLowContext bool
	workers              int
	maxHistory           int
	promptHistory        int
	retention            time.Duration
	temperature          float64
	maxTokens            int
	recorder             metrics.Recorder
	logger               *slog.Logger
	now                  func() time.Time

	pool       *ants.Pool
	baseCtx    context.Context
	baseCancel context.CancelCauseFunc
	runWG      sync.WaitGroup
	taskWG     sync.WaitGroup

	mu     sync.Mutex
	runs   map[string]*runHandle
	closed bool
}

// New creates an orchestrator.
func New(deps Dependencies, opts ...Option) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		deps: deps,
		timeouts: Timeouts{
			Routing:    DefaultRoutingTimeout,
			Retrieval:  DefaultRetrievalTimeout,
			Generation: DefaultGenerationTimeout,
			Compliance: DefaultComplianceTimeout,
			Run:        DefaultRunTimeout,
		},
		retryBackoff:  DefaultRetryBackoff,
		workers:       DefaultWorkers,
		maxHistory:    DefaultMaxHistory,
		promptHistory: DefaultPromptHistory,
		retention:     DefaultRunRetention,
		maxTokens:     300,
		recorder:      metrics.Nop(),
		logger:        slog.Default().With("component", "pipeline"),
		now:           time.Now,
		runs:          make(map[string]*runHandle),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	pool, err := ants.NewPool(o.workers, ants.WithPanicHandler(func(p any) {
		o.logger.Error("background task panicked", "panic", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	o.pool = pool
	o.baseCtx, o.baseCancel = context.WithCancelCause(context.Background())
	return o, nil
}

// CreateSession starts a new session for userID.
func (o *Orchestrator) CreateSession(ctx context.Context, userID string) (*core.Session, error) {
	now := o.now().UTC()
	session := &core.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.deps.Sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// Session returns a session with its history.
func (o *Orchestrator) Session(ctx context.Context, id string) (*core.Session, error) {
	session, err := o.deps.Sessions.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return session, err
}

// Submit validates q, starts a run for it and returns the run ID. The run
// proceeds in the background and is not bound to ctx.
func (o *Orchestrator) Submit(ctx context.Context, q core.Query) (string, error) {
	if q.SubmittedAt.IsZero() {
		q.SubmittedAt = o.now().UTC()
	}
	if err := core.ValidateQuery(&q); err != nil {
		return "", err
	}
	session, err := o.Session(ctx, q.SessionID)
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return "", ErrOrchestratorClosed
	}

	now := o.now().UTC()
	run := core.NewPipelineRun(uuid.NewString(), q, now)

	timeoutCtx, cancelTimeout := context.WithTimeoutCause(o.baseCtx, o.timeouts.Run, ErrRunTimeout)
	runCtx, cancel := context.WithCancelCause(timeoutCtx)
	h := newRunHandle(run, func(cause error) {
		cancel(cause)
		cancelTimeout()
	}, now)
	o.runs[run.ID] = h

	o.persist(run.Clone())
	o.logger.Info("run submitted", "run", run.ID, "session", q.SessionID)

	o.runWG.Add(1)
	go o.execute(runCtx, h, session)
	return run.ID, nil
}

// Status returns the current snapshot of a run. Runs evicted from memory
// are read from the run repository.
func (o *Orchestrator) Status(ctx context.Context, runID string) (*core.PipelineRun, error) {
	if h, ok := o.handle(runID); ok {
		return h.snapshot(), nil
	}
	run, err := o.deps.Runs.GetRun(ctx, runID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// Stream yields the released chunks of a run in sequence order. Nothing is
// yielded before the compliance gate releases the answer. When the run is
// escalated or fails, a single error wrapping ErrRunEscalated or
// ErrRunFailed is yielded instead. Cancelling ctx stops the iteration but
// not the run.
//
// Released output is only replayable while the run is retained in memory
// (see WithRunRetention). Afterwards a completed run yields ErrRunExpired;
// its final state remains available from Status.
func (o *Orchestrator) Stream(ctx context.Context, runID string) iter.Seq2[core.StreamChunk, error] {
	return func(yield func(core.StreamChunk, error) bool) {
		h, ok := o.handle(runID)
		if !ok {
			yield(core.StreamChunk{}, o.retired(ctx, runID))
			return
		}

		next := 0
		for {
			chunks, state, reason, changed := h.chunksFrom(next)
			for _, c := range chunks {
				h.markDelivered(c.Seq)
				if !yield(c, nil) {
					return
				}
				next++
			}
			if len(chunks) > 0 {
				continue
			}

			switch state {
			case core.RunStateCompleted:
				return
			case core.RunStateEscalated:
				yield(core.StreamChunk{}, fmt.Errorf("%w: run %s", ErrRunEscalated, runID))
				return
			case core.RunStateFailed:
				yield(core.StreamChunk{}, fmt.Errorf("%w: run %s: %s", ErrRunFailed, runID, reason))
				return
			}

			select {
			case <-ctx.Done():
				yield(core.StreamChunk{}, ctx.Err())
				return
			case <-changed:
			}
		}
	}
}

// Wait blocks until the run reaches a terminal state and returns its final
// snapshot.
func (o *Orchestrator) Wait(ctx context.Context, runID string) (*core.PipelineRun, error) {
	h, ok := o.handle(runID)
	if !ok {
		return o.Status(ctx, runID)
	}
	select {
	case <-h.done:
		return h.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe returns a channel of state transitions for a run and a function
// that ends the subscription. The channel is closed after the terminal
// transition. Events are dropped for subscribers that fall behind; Status
// remains authoritative.
func (o *Orchestrator) Subscribe(runID string) (<-chan RunEvent, func(), error) {
	h, ok := o.handle(runID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	ch, cancel := h.subscribe()
	return ch, cancel, nil
}

// Cancel aborts a run. Buffered output is discarded and the run fails with
// reason cancelled. Cancelling a finished run has no effect.
func (o *Orchestrator) Cancel(runID string) error {
	h, ok := o.handle(runID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	h.cancel(ErrRunCancelled)
	return nil
}

// Close cancels active runs, waits for them and for pending background
// writes, and releases the worker pool.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.baseCancel(ErrOrchestratorClosed)
	o.runWG.Wait()
	o.taskWG.Wait()
	o.pool.Release()
	return nil
}

// retired explains why a run without an in-memory handle cannot stream.
func (o *Orchestrator) retired(ctx context.Context, runID string) error {
	run, err := o.deps.Runs.GetRun(ctx, runID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	case err != nil:
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	switch run.State {
	case core.RunStateEscalated:
		return fmt.Errorf("%w: run %s", ErrRunEscalated, runID)
	case core.RunStateFailed:
		return fmt.Errorf("%w: run %s: %s", ErrRunFailed, runID, run.FailureReason)
	}
	return fmt.Errorf("%w: run %s is %s, use Status", ErrRunExpired, runID, run.State)
}

func (o *Orchestrator) handle(runID string) (*runHandle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.runs[runID]
	return h, ok
}

// evict drops a finished run from memory after the retention period.
func (o *Orchestrator) evict(runID string) {
	if o.retention <= 0 {
		return
	}
	time.AfterFunc(o.retention, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.runs, runID)
	})
}

// transition moves the run to a new state, then persists, publishes and
// records the change.
func (o *Orchestrator) transition(ctx context.Context, h *runHandle, to core.RunState, reason core.FailureReason) error {
	ev, snap, err := h.setState(to, reason, o.now().UTC())
	if err != nil {
		o.logger.Error("rejected transition", "run", h.run.ID, "to", to, "err", err)
		return err
	}
	o.persist(snap)
	if dropped := h.publish(ev); dropped > 0 {
		o.logger.Warn("subscriber buffer full, event dropped", "run", ev.RunID, "to", ev.To, "subscribers", dropped)
	}
	o.recorder.StateTransition(ctx, ev.From, ev.To)
	if to.Terminal() {
		o.recorder.RunFinished(ctx, to, reason, o.now().Sub(h.started))
	}
	o.logger.Debug("run transition", "run", ev.RunID, "from", ev.From, "to", ev.To)
	return nil
}

func (o *Orchestrator) persist(run *core.PipelineRun) {
	ctx, cancel := context.WithTimeout(context.Background(), escalationTimeout)
	defer cancel()
	if err := o.deps.Runs.SaveRun(ctx, run); err != nil {
		o.logger.Warn("failed to persist run", "run", run.ID, "state", run.State, "err", err)
	}
}

// submitTask runs fn on the background pool.
func (o *Orchestrator) submitTask(name, runID string, fn func(ctx context.Context) error) {
	o.taskWG.Add(1)
	err := o.pool.Submit(func() {
		defer o.taskWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.timeouts.Run)
		defer cancel()
		if err := fn(ctx); err != nil {
			o.logger.Warn("background task failed", "task", name, "run", runID, "err", err)
		}
	})
	if err != nil {
		o.taskWG.Done()
		o.logger.Warn("could not schedule background task", "task", name, "run", runID, "err", err)
	}
}
