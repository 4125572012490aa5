package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/poiesic/ragflow/core"
)

// RunEvent is published to subscribers after every state transition.
type RunEvent struct {
	RunID  string             `json:"run_id"`
	From   core.RunState      `json:"from"`
	To     core.RunState      `json:"to"`
	Reason core.FailureReason `json:"reason,omitempty"`
	At     time.Time          `json:"at"`
}

// runHandle is the in-memory state of one run. The run goroutine is the
// only writer of state; readers copy under mu.
type runHandle struct {
	cancel  context.CancelCauseFunc
	started time.Time

	mu       sync.Mutex
	run      *core.PipelineRun
	released []core.StreamChunk
	changed  chan struct{} // closed and replaced on every change
	subs     map[int]chan RunEvent
	nextSub  int
	done     chan struct{}
}

func newRunHandle(run *core.PipelineRun, cancel context.CancelCauseFunc, started time.Time) *runHandle {
	return &runHandle{
		cancel:  cancel,
		started: started,
		run:     run,
		changed: make(chan struct{}),
		subs:    make(map[int]chan RunEvent),
		done:    make(chan struct{}),
	}
}

// snapshot returns a copy of the run.
func (h *runHandle) snapshot() *core.PipelineRun {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run.Clone()
}

// update mutates the run under the lock and wakes waiting readers.
func (h *runHandle) update(fn func(r *core.PipelineRun)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.run)
	h.broadcastLocked()
}

func (h *runHandle) broadcastLocked() {
	close(h.changed)
	h.changed = make(chan struct{})
}

// setState applies a validated transition and returns the event and a
// snapshot for persistence.
func (h *runHandle) setState(to core.RunState, reason core.FailureReason, at time.Time) (RunEvent, *core.PipelineRun, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	from := h.run.State
	if err := core.ValidateTransition(from, to); err != nil {
		return RunEvent{}, nil, err
	}
	h.run.State = to
	h.run.UpdatedAt = at
	if reason != core.ReasonNone {
		h.run.FailureReason = reason
	}
	if to.Terminal() {
		h.run.ClosedAt = at
	}
	ev := RunEvent{RunID: h.run.ID, From: from, To: to, Reason: reason, At: at}
	h.broadcastLocked()
	return ev, h.run.Clone(), nil
}

// release appends the gated chunks. Sequence numbers continue from NextSeq.
func (h *runHandle) release(texts []string, sources []core.Source) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, text := range texts {
		chunk := core.StreamChunk{
			RunID: h.run.ID,
			Seq:   h.run.NextSeq,
			Text:  text,
		}
		if i == len(texts)-1 {
			chunk.IsFinal = true
			chunk.Sources = sources
		}
		h.released = append(h.released, chunk)
		h.run.NextSeq++
	}
	h.broadcastLocked()
}

// chunksFrom returns the released chunks starting at index next, the
// current state, and a channel closed on the next change.
func (h *runHandle) chunksFrom(next int) ([]core.StreamChunk, core.RunState, core.FailureReason, <-chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []core.StreamChunk
	if next < len(h.released) {
		out = append(out, h.released[next:]...)
	}
	return out, h.run.State, h.run.FailureReason, h.changed
}

// markDelivered records that chunks up to seq have reached a client.
func (h *runHandle) markDelivered(seq int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if seq+1 > h.run.Delivered {
		h.run.Delivered = seq + 1
	}
}

// subscribe registers a subscriber. Subscribers of a finished run receive
// nothing and find their channel closed.
func (h *runHandle) subscribe() (<-chan RunEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan RunEvent, subscriberBuffer)
	if h.run.State.Terminal() {
		close(ch)
		return ch, func() {}
	}
	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// publish delivers ev to every subscriber without blocking. It returns the
// number of subscribers that missed the event because their buffer was full.
func (h *runHandle) publish(ev RunEvent) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := 0
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}
	if ev.To.Terminal() {
		for id, ch := range h.subs {
			close(ch)
			delete(h.subs, id)
		}
	}
	return dropped
}
