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


// Package metrics records pipeline telemetry.
//
// The orchestrator calls a Recorder explicitly after every state transition
// and stage. NewOTelRecorder backs the interface with OpenTelemetry
// instruments created from a caller-supplied meter; Nop discards everything.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/poiesic/ragflow/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterRequired is returned when NewOTelRecorder is given a nil meter.
var ErrMeterRequired = errors.New("meter required")

// Recorder receives pipeline measurements.
type Recorder interface {
	// StateTransition counts a run moving from one state to another.
	StateTransition(ctx context.Context, from, to core.RunState)

	// StageLatency records how long a stage took and how it ended.
	StageLatency(ctx context.Context, stage core.StageName, status core.StageStatus, d time.Duration)

	// RunFinished records the end-to-end latency of a run reaching a terminal state.
	RunFinished(ctx context.Context, state core.RunState, reason core.FailureReason, d time.Duration)

	// Tokens records token usage for a model tier.
	Tokens(ctx context.Context, tier string, prompt, completion int)

	// Escalated counts a ticket opened or updated for reason.
	Escalated(ctx context.Context, reason core.EscalationReason)
}

type otelRecorder struct {
	transitions  metric.Int64Counter
	stageLatency metric.Float64Histogram
	runLatency   metric.Float64Histogram
	runs         metric.Int64Counter
	tokens       metric.Int64Counter
	escalations  metric.Int64Counter
}

var _ Recorder = (*otelRecorder)(nil)

// NewOTelRecorder creates a Recorder whose instruments come from meter.
func NewOTelRecorder(meter metric.Meter) (Recorder, error) {
	if meter == nil {
		return nil, ErrMeterRequired
	}

	r := &otelRecorder{}
	var err error
	if r.transitions, err = meter.Int64Counter(
		"ragflow_run_transitions_total",
		metric.WithDescription("Run state transitions"),
	); err != nil {
		return nil, err
	}
	if r.stageLatency, err = meter.Float64Histogram(
		"ragflow_stage_duration_seconds",
		metric.WithDescription("Latency of individual pipeline stages"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if r.runLatency, err = meter.Float64Histogram(
		"ragflow_run_duration_seconds",
		metric.WithDescription("End-to-end latency of pipeline runs"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if r.runs, err = meter.Int64Counter(
		"ragflow_runs_total",
		metric.WithDescription("Runs by terminal state"),
	); err != nil {
		return nil, err
	}
	if r.tokens, err = meter.Int64Counter(
		"ragflow_tokens_total",
		metric.WithDescription("Model tokens consumed"),
	); err != nil {
		return nil, err
	}
	if r.escalations, err = meter.Int64Counter(
		"ragflow_escalations_total",
		metric.WithDescription("Escalation tickets opened or updated"),
	); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *otelRecorder) StateTransition(ctx context.Context, from, to core.RunState) {
	r.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func (r *otelRecorder) StageLatency(ctx context.Context, stage core.StageName, status core.StageStatus, d time.Duration) {
	r.stageLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.String("status", string(status)),
	))
}

func (r *otelRecorder) RunFinished(ctx context.Context, state core.RunState, reason core.FailureReason, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("state", string(state)),
		attribute.String("reason", string(reason)),
	)
	r.runLatency.Record(ctx, d.Seconds(), attrs)
	r.runs.Add(ctx, 1, attrs)
}

func (r *otelRecorder) Tokens(ctx context.Context, tier string, prompt, completion int) {
	if prompt > 0 {
		r.tokens.Add(ctx, int64(prompt), metric.WithAttributes(
			attribute.String("tier", tier),
			attribute.String("type", "prompt"),
		))
	}
	if completion > 0 {
		r.tokens.Add(ctx, int64(completion), metric.WithAttributes(
			attribute.String("tier", tier),
			attribute.String("type", "completion"),
		))
	}
}

func (r *otelRecorder) Escalated(ctx context.Context, reason core.EscalationReason) {
	r.escalations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}

type nopRecorder struct{}

// Nop returns a Recorder that discards every measurement.
func Nop() Recorder {
	return nopRecorder{}
}

func (nopRecorder) StateTransition(context.Context, core.RunState, core.RunState) {}

func (nopRecorder) StageLatency(context.Context, core.StageName, core.StageStatus, time.Duration) {}

func (nopRecorder) RunFinished(context.Context, core.RunState, core.FailureReason, time.Duration) {}

func (nopRecorder) Tokens(context.Context, string, int, int) {}

func (nopRecorder) Escalated(context.Context, core.EscalationReason) {}
