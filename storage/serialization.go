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


package storage

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/ragflow/core"
	"github.com/shopspring/decimal"
)

// recordWriter encodes fields in order. With a nil buffer it only
// accumulates the encoded size, so the same encode function serves as
// both sizer and marshaller.
type recordWriter struct {
	bs []byte
	n  int
}

func (w *recordWriter) uint64(v uint64) {
	if w.bs == nil {
		w.n += varint.Uint64.Size(v)
		return
	}
	w.n += varint.Uint64.Marshal(v, w.bs[w.n:])
}

func (w *recordWriter) int64(v int64) {
	if w.bs == nil {
		w.n += varint.Int64.Size(v)
		return
	}
	w.n += varint.Int64.Marshal(v, w.bs[w.n:])
}

func (w *recordWriter) string(v string) {
	if w.bs == nil {
		w.n += ord.String.Size(v)
		return
	}
	w.n += ord.String.Marshal(v, w.bs[w.n:])
}

func (w *recordWriter) float64(v float64) {
	w.uint64(math.Float64bits(v))
}

// time writes microseconds since the epoch; the zero time is written as 0.
func (w *recordWriter) time(t time.Time) {
	if t.IsZero() {
		w.int64(0)
		return
	}
	w.int64(t.UnixMicro())
}

func (w *recordWriter) bool(v bool) {
	if w.bs == nil {
		w.n += ord.Bool.Size(v)
		return
	}
	w.n += ord.Bool.Marshal(v, w.bs[w.n:])
}

func (w *recordWriter) strings(v []string) {
	w.int64(int64(len(v)))
	for _, s := range v {
		w.string(s)
	}
}

func (w *recordWriter) vector(v []float32) {
	w.int64(int64(len(v)))
	for _, f := range v {
		w.uint64(uint64(math.Float32bits(f)))
	}
}

// recordReader decodes fields in the order they were written. The first
// error sticks and every later read returns a zero value.
type recordReader struct {
	bs  []byte
	n   int
	err error
}

func (r *recordReader) uint64() uint64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *recordReader) int64() int64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *recordReader) string() string {
	if r.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *recordReader) bool() bool {
	if r.err != nil {
		return false
	}
	v, n, err := ord.Bool.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

// count reads a collection length whose elements take at least minSize
// bytes each, rejecting lengths the remaining data cannot hold.
func (r *recordReader) count(minSize int) int {
	size := r.int64()
	if r.err != nil || size <= 0 {
		return 0
	}
	if size > int64(len(r.bs)-r.n)/int64(minSize) {
		r.err = ErrTruncatedData
		return 0
	}
	return int(size)
}

func (r *recordReader) strings() []string {
	n := r.count(1)
	if n == 0 {
		return nil
	}
	v := make([]string, n)
	for i := range v {
		v[i] = r.string()
	}
	return v
}

func (r *recordReader) float64() float64 {
	return math.Float64frombits(r.uint64())
}

func (r *recordReader) time() time.Time {
	us := r.int64()
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

func (r *recordReader) vector() []float32 {
	size := r.int64()
	if r.err != nil || size <= 0 {
		return nil
	}
	// every element takes at least one byte
	if size > int64(len(r.bs)-r.n) {
		r.err = ErrTruncatedData
		return nil
	}
	v := make([]float32, size)
	for i := range v {
		v[i] = math.Float32frombits(uint32(r.uint64()))
	}
	return v
}

func (r *recordReader) finish(what string) error {
	if r.err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSerializationFailed, what, r.err)
	}
	return nil
}

func encode(fn func(w *recordWriter)) []byte {
	sizer := &recordWriter{}
	fn(sizer)
	w := &recordWriter{bs: make([]byte, sizer.n)}
	fn(w)
	return w.bs
}

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	return encode(func(w *recordWriter) { w.uint64(uint64(id)) })
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: id", ErrTruncatedData)
	}
	r := &recordReader{bs: data}
	id := core.ID(r.uint64())
	return id, r.finish("id")
}

// MarshalLedgerEntry serializes a CostLedgerEntry to bytes.
func MarshalLedgerEntry(e *core.CostLedgerEntry) []byte {
	return encode(func(w *recordWriter) {
		w.string(e.SessionID)
		w.string(e.RunID)
		w.int64(int64(e.PromptTokens))
		w.int64(int64(e.CompletionTokens))
		w.string(e.Cost.String())
		w.string(e.Tier)
		w.string(e.Model)
		w.string(string(e.Outcome))
		w.time(e.CreatedAt)
	})
}

// UnmarshalLedgerEntry deserializes a CostLedgerEntry from bytes.
func UnmarshalLedgerEntry(data []byte) (*core.CostLedgerEntry, error) {
	r := &recordReader{bs: data}
	e := &core.CostLedgerEntry{
		SessionID:        r.string(),
		RunID:            r.string(),
		PromptTokens:     int(r.int64()),
		CompletionTokens: int(r.int64()),
	}
	cost := r.string()
	e.Tier = r.string()
	e.Model = r.string()
	e.Outcome = core.RunState(r.string())
	e.CreatedAt = r.time()
	if err := r.finish("ledger entry"); err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(cost)
	if err != nil {
		return nil, fmt.Errorf("%w: ledger cost: %w", ErrSerializationFailed, err)
	}
	e.Cost = amount
	return e, nil
}

// MarshalEvaluation serializes an EvaluationRecord to bytes.
func MarshalEvaluation(rec *core.EvaluationRecord) []byte {
	return encode(func(w *recordWriter) {
		w.uint64(uint64(rec.ID))
		w.string(rec.RunID)
		w.string(rec.SessionID)
		w.float64(rec.Relevance)
		w.float64(rec.Faithfulness)
		w.float64(rec.Completeness)
		w.string(rec.Evaluator)
		w.time(rec.CreatedAt)
	})
}

// UnmarshalEvaluation deserializes an EvaluationRecord from bytes.
func UnmarshalEvaluation(data []byte) (*core.EvaluationRecord, error) {
	r := &recordReader{bs: data}
	rec := &core.EvaluationRecord{
		ID:           core.ID(r.uint64()),
		RunID:        r.string(),
		SessionID:    r.string(),
		Relevance:    r.float64(),
		Faithfulness: r.float64(),
		Completeness: r.float64(),
		Evaluator:    r.string(),
		CreatedAt:    r.time(),
	}
	return rec, r.finish("evaluation")
}

// MarshalTicket serializes an EscalationTicket to bytes.
func MarshalTicket(t *core.EscalationTicket) []byte {
	return encode(func(w *recordWriter) {
		w.string(t.ID)
		w.string(t.RunID)
		w.string(t.SessionID)
		w.string(string(t.Reason))
		w.string(string(t.Status))
		w.string(t.Detail)
		w.string(t.Note)
		w.int64(int64(t.Occurrences))
		w.time(t.CreatedAt)
		w.time(t.UpdatedAt)
	})
}

// UnmarshalTicket deserializes an EscalationTicket from bytes.
func UnmarshalTicket(data []byte) (*core.EscalationTicket, error) {
	r := &recordReader{bs: data}
	t := &core.EscalationTicket{
		ID:          r.string(),
		RunID:       r.string(),
		SessionID:   r.string(),
		Reason:      core.EscalationReason(r.string()),
		Status:      core.TicketStatus(r.string()),
		Detail:      r.string(),
		Note:        r.string(),
		Occurrences: int(r.int64()),
		CreatedAt:   r.time(),
		UpdatedAt:   r.time(),
	}
	return t, r.finish("ticket")
}

// MarshalChunk serializes a DocumentChunk to bytes.
func MarshalChunk(c *core.DocumentChunk) []byte {
	return encode(func(w *recordWriter) {
		w.string(c.ID)
		w.string(c.DocumentID)
		w.string(c.Collection)
		w.string(c.Text)
		w.int64(int64(c.Start))
		w.int64(int64(c.End))
		w.string(c.Title)
		w.string(c.Source)
		w.time(c.PublishedAt)
		w.time(c.InsertedAt)
		w.vector(c.Vector)
	})
}

// UnmarshalChunk deserializes a DocumentChunk from bytes.
func UnmarshalChunk(data []byte) (*core.DocumentChunk, error) {
	r := &recordReader{bs: data}
	c := &core.DocumentChunk{
		ID:          r.string(),
		DocumentID:  r.string(),
		Collection:  r.string(),
		Text:        r.string(),
		Start:       int(r.int64()),
		End:         int(r.int64()),
		Title:       r.string(),
		Source:      r.string(),
		PublishedAt: r.time(),
		InsertedAt:  r.time(),
		Vector:      r.vector(),
	}
	return c, r.finish("chunk")
}

// MarshalCheckpoint serializes a Checkpoint to bytes.
func MarshalCheckpoint(c *core.Checkpoint) []byte {
	return encode(func(w *recordWriter) {
		w.string(c.Job)
		w.string(c.LastID)
		w.int64(int64(c.Processed))
		w.time(c.UpdatedAt)
	})
}

// UnmarshalCheckpoint deserializes a Checkpoint from bytes.
func UnmarshalCheckpoint(data []byte) (*core.Checkpoint, error) {
	r := &recordReader{bs: data}
	c := &core.Checkpoint{
		Job:       r.string(),
		LastID:    r.string(),
		Processed: int(r.int64()),
		UpdatedAt: r.time(),
	}
	return c, r.finish("checkpoint")
}

// MarshalSession serializes a Session and its history to bytes.
func MarshalSession(s *core.Session) []byte {
	return encode(func(w *recordWriter) {
		w.string(s.ID)
		w.string(s.UserID)
		w.time(s.CreatedAt)
		w.time(s.UpdatedAt)
		w.int64(int64(len(s.History)))
		for _, t := range s.History {
			w.string(string(t.Role))
			w.string(t.Text)
			w.string(t.RunID)
			w.time(t.At)
		}
	})
}

// UnmarshalSession deserializes a Session from bytes.
func UnmarshalSession(data []byte) (*core.Session, error) {
	r := &recordReader{bs: data}
	s := &core.Session{
		ID:        r.string(),
		UserID:    r.string(),
		CreatedAt: r.time(),
		UpdatedAt: r.time(),
	}
	// a turn takes at least four bytes
	if n := r.count(4); n > 0 {
		s.History = make([]core.Turn, n)
		for i := range s.History {
			s.History[i] = core.Turn{
				Role:  core.Role(r.string()),
				Text:  r.string(),
				RunID: r.string(),
				At:    r.time(),
			}
		}
	}
	return s, r.finish("session")
}

// MarshalRun serializes a PipelineRun snapshot to bytes. Stage statuses are
// written in stage name order.
func MarshalRun(run *core.PipelineRun) []byte {
	return encode(func(w *recordWriter) {
		w.string(run.ID)
		w.string(run.SessionID)
		w.string(run.Query.SessionID)
		w.string(run.Query.Text)
		w.string(run.Query.Context.Domain)
		w.string(run.Query.Context.Role)
		w.bool(run.Query.Stream)
		w.time(run.Query.SubmittedAt)
		w.string(string(run.State))
		names := slices.Sorted(maps.Keys(run.Stages))
		w.int64(int64(len(names)))
		for _, name := range names {
			w.string(string(name))
			w.string(string(run.Stages[name]))
		}
		w.int64(int64(run.NextSeq))
		w.int64(int64(run.Delivered))
		w.string(run.AgentID)
		w.strings(run.Tools)
		w.bool(run.RoutingFallback)
		w.string(run.Tier)
		w.string(run.Model)
		w.bool(run.LowContext)
		w.string(string(run.Verdict))
		w.string(string(run.FailureReason))
		w.string(run.Error)
		w.string(run.TicketID)
		w.time(run.CreatedAt)
		w.time(run.UpdatedAt)
		w.time(run.ClosedAt)
	})
}

// UnmarshalRun deserializes a PipelineRun from bytes.
func UnmarshalRun(data []byte) (*core.PipelineRun, error) {
	r := &recordReader{bs: data}
	run := &core.PipelineRun{
		ID:        r.string(),
		SessionID: r.string(),
		Query: core.Query{
			SessionID: r.string(),
			Text:      r.string(),
			Context: core.QueryContext{
				Domain: r.string(),
				Role:   r.string(),
			},
			Stream:      r.bool(),
			SubmittedAt: r.time(),
		},
		State: core.RunState(r.string()),
	}
	if n := r.count(2); n > 0 {
		run.Stages = make(map[core.StageName]core.StageStatus, n)
		for range n {
			name := core.StageName(r.string())
			run.Stages[name] = core.StageStatus(r.string())
		}
	}
	run.NextSeq = int(r.int64())
	run.Delivered = int(r.int64())
	run.AgentID = r.string()
	run.Tools = r.strings()
	run.RoutingFallback = r.bool()
	run.Tier = r.string()
	run.Model = r.string()
	run.LowContext = r.bool()
	run.Verdict = core.ComplianceOutcome(r.string())
	run.FailureReason = core.FailureReason(r.string())
	run.Error = r.string()
	run.TicketID = r.string()
	run.CreatedAt = r.time()
	run.UpdatedAt = r.time()
	run.ClosedAt = r.time()
	return run, r.finish("run")
}
