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


package core

import (
	"fmt"
	"strings"
	"time"
)

// ValidateQuery validates a Query according to domain rules.
//
// Validation rules:
//   - SessionID must not be empty
//   - Text must contain something other than whitespace
//   - SubmittedAt must not be in the future (zero is allowed and filled at intake)
func ValidateQuery(q *Query) error {
	if q == nil {
		return fmt.Errorf("%w: query is nil", ErrInvalidQuery)
	}

	if q.SessionID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidQuery, ErrMissingSession)
	}

	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidQuery, ErrEmptyContent)
	}

	if !q.SubmittedAt.IsZero() && !IsValidTimestamp(q.SubmittedAt) {
		return fmt.Errorf("%w: %w", ErrInvalidQuery, ErrInvalidTimestamp)
	}

	return nil
}

// ValidateDocument validates a Document before ingestion.
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}

	if strings.TrimSpace(doc.Text) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyContent)
	}

	if !doc.PublishedAt.IsZero() && !IsValidTimestamp(doc.PublishedAt) {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrInvalidTimestamp)
	}

	return nil
}

// allowedTransitions is the run state machine. Any non-terminal state may
// also move to Failed.
var allowedTransitions = map[RunState][]RunState{
	RunStateIntake:          {RunStateRouting},
	RunStateRouting:         {RunStateRetrieving},
	RunStateRetrieving:      {RunStateGenerating},
	RunStateGenerating:      {RunStateComplianceCheck},
	RunStateComplianceCheck: {RunStateReleasing, RunStateEscalated},
	RunStateReleasing:       {RunStateCompleted, RunStateEscalated},
}

// ValidateTransition checks that a run may move from one state to another.
func ValidateTransition(from, to RunState) error {
	if from.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	if to == RunStateFailed {
		return nil
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// IsValidTimestamp checks if a timestamp is valid (not in the future).
func IsValidTimestamp(ts time.Time) bool {
	return !ts.After(time.Now())
}
