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


// Package compliance scans generated answers and their cited context for
// protected health information and other personal data before release.
//
// A Gate is fail-closed: any error while checking is returned to the caller,
// which must not release content without a verdict.
package compliance

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/ragflow/core"
)

// Gate checks text against an entity catalogue.
type Gate struct {
	entities []Entity
	audit    *slog.Logger
	now      func() time.Time
}

// Option configures a Gate.
type Option func(*Gate) error

// WithAuditLogger sets the logger that receives one audit entry per check.
func WithAuditLogger(logger *slog.Logger) Option {
	return func(g *Gate) error {
		g.audit = logger
		return nil
	}
}

// WithClock overrides the time source used for CheckedAt.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) error {
		g.now = now
		return nil
	}
}

// NewGate builds a gate over the given entities.
func NewGate(entities []Entity, opts ...Option) (*Gate, error) {
	if len(entities) == 0 {
		return nil, ErrNoEntities
	}
	g := &Gate{
		entities: entities,
		audit:    slog.Default().With("component", "compliance-audit"),
		now:      time.Now,
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Check scans the generated text and every cited chunk. A blocking finding in
// the text fails the check; redactable findings are replaced with
// [REDACTED:<ENTITY>] placeholders. Cited chunks containing any finding are
// listed in ExcludedSources and must not be cited.
func (g *Gate) Check(ctx context.Context, runID, text string, citations []core.RetrievedChunk) (core.ComplianceVerdict, error) {
	if err := ctx.Err(); err != nil {
		return core.ComplianceVerdict{}, err
	}

	verdict := core.ComplianceVerdict{
		RunID:     runID,
		Outcome:   core.CompliancePass,
		CheckedAt: g.now(),
	}

	textFindings := g.Scan(text)
	verdict.Findings = append(verdict.Findings, textFindings...)

	for _, c := range citations {
		if err := ctx.Err(); err != nil {
			return core.ComplianceVerdict{}, err
		}
		found := g.Scan(c.Text)
		if len(found) == 0 {
			continue
		}
		for i := range found {
			found[i].SourceChunkID = c.ChunkID
		}
		verdict.Findings = append(verdict.Findings, found...)
		if !slices.Contains(verdict.ExcludedSources, c.ChunkID) {
			verdict.ExcludedSources = append(verdict.ExcludedSources, c.ChunkID)
		}
	}

	switch {
	case slices.ContainsFunc(textFindings, func(s core.EntitySpan) bool { return s.Action == core.ActionBlock }):
		verdict.Outcome = core.ComplianceFail
	case len(textFindings) > 0:
		verdict.Outcome = core.ComplianceRedacted
		verdict.RedactedText = Redact(text, textFindings)
	default:
		verdict.RedactedText = text
	}

	g.auditCheck(runID, text, verdict)
	return verdict, nil
}

// Scan returns the non-overlapping findings in text ordered by offset. When
// two matches overlap, the blocking one wins, then the longer one.
func (g *Gate) Scan(text string) []core.EntitySpan {
	var spans []core.EntitySpan
	for _, e := range g.entities {
		for _, re := range e.Patterns {
			for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
				start, end := loc[0], loc[1]
				if len(loc) >= 4 && loc[2] >= 0 {
					start, end = loc[2], loc[3]
				}
				if end <= start {
					continue
				}
				spans = append(spans, core.EntitySpan{
					Entity:   e.Name,
					Start:    start,
					End:      end,
					Action:   e.Action,
					Severity: e.Severity,
				})
			}
		}
	}
	return resolveOverlaps(spans)
}

func resolveOverlaps(spans []core.EntitySpan) []core.EntitySpan {
	if len(spans) < 2 {
		return spans
	}
	slices.SortStableFunc(spans, func(a, b core.EntitySpan) int {
		if c := cmp.Compare(priority(b), priority(a)); c != 0 {
			return c
		}
		if c := cmp.Compare(b.End-b.Start, a.End-a.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.Start, b.Start)
	})

	kept := spans[:0:0]
	for _, s := range spans {
		overlaps := slices.ContainsFunc(kept, func(k core.EntitySpan) bool {
			return s.Start < k.End && k.Start < s.End
		})
		if !overlaps {
			kept = append(kept, s)
		}
	}
	slices.SortFunc(kept, func(a, b core.EntitySpan) int { return cmp.Compare(a.Start, b.Start) })
	return kept
}

func priority(s core.EntitySpan) int {
	if s.Action == core.ActionBlock {
		return 1
	}
	return 0
}

// Placeholder returns the replacement text for an entity.
func Placeholder(entity string) string {
	return "[REDACTED:" + strings.ToUpper(entity) + "]"
}

// Redact replaces each span of text with its placeholder. Spans must be
// ordered and non-overlapping, as returned by Scan.
func Redact(text string, spans []core.EntitySpan) string {
	return redactRange(text, 0, spans)
}

// redactRange redacts a piece of a larger text that begins at offset.
// Spans are in the larger text's coordinates. A span's placeholder is emitted
// by the piece containing the span's first byte.
func redactRange(piece string, offset int, spans []core.EntitySpan) string {
	var sb strings.Builder
	end := offset + len(piece)
	pos := offset
	for _, s := range spans {
		if s.End <= offset || s.Start >= end {
			continue
		}
		if s.Start > pos {
			sb.WriteString(piece[pos-offset : s.Start-offset])
		}
		if s.Start >= offset {
			sb.WriteString(Placeholder(s.Entity))
		}
		pos = min(s.End, end)
	}
	if pos < end {
		sb.WriteString(piece[pos-offset:])
	}
	return sb.String()
}

// Rechunk applies the verdict's text findings to the original chunk sequence
// while keeping chunk boundaries. The concatenation of the result equals
// the verdict's RedactedText. Chunks fully covered by an earlier
// placeholder come back empty.
func Rechunk(chunks []string, verdict core.ComplianceVerdict) []string {
	var spans []core.EntitySpan
	for _, f := range verdict.Findings {
		if f.SourceChunkID == "" {
			spans = append(spans, f)
		}
	}

	out := make([]string, len(chunks))
	offset := 0
	for i, c := range chunks {
		if len(spans) == 0 {
			out[i] = c
		} else {
			out[i] = redactRange(c, offset, spans)
		}
		offset += len(c)
	}
	return out
}

func (g *Gate) auditCheck(runID, text string, verdict core.ComplianceVerdict) {
	types := make(map[string]int)
	for _, f := range verdict.Findings {
		types[f.Entity]++
	}
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	slices.Sort(names)

	g.audit.Info("compliance check",
		"run", runID,
		"outcome", verdict.Outcome,
		"content_length", len(text),
		"issues", len(verdict.Findings),
		"entity_types", names,
		"excluded_sources", len(verdict.ExcludedSources))
}
