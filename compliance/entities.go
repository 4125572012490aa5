package compliance

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/poiesic/ragflow/core"
)

// Severity levels attached to findings.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// Entity is one kind of sensitive content the gate detects. When a pattern
// has a capture group, only the group is treated as sensitive.
type Entity struct {
	Name     string
	Patterns []*regexp.Regexp
	Action   core.ComplianceAction
	Severity string
}

// NewEntity compiles an entity from regular expressions and literal terms.
// Terms match case-insensitively on word boundaries.
func NewEntity(name string, patterns, terms []string, action core.ComplianceAction, severity string) (Entity, error) {
	if name == "" {
		return Entity{}, fmt.Errorf("%w: missing name", ErrInvalidEntity)
	}
	if action != core.ActionRedact && action != core.ActionBlock {
		return Entity{}, fmt.Errorf("%w: %s has action %q", ErrInvalidEntity, name, action)
	}
	if severity == "" {
		severity = SeverityMedium
	}

	e := Entity{Name: name, Action: action, Severity: severity}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return Entity{}, fmt.Errorf("%w: %s: %v", ErrInvalidEntity, name, err)
		}
		e.Patterns = append(e.Patterns, re)
	}
	if len(terms) > 0 {
		quoted := make([]string, len(terms))
		for i, t := range terms {
			quoted[i] = regexp.QuoteMeta(t)
		}
		e.Patterns = append(e.Patterns, regexp.MustCompile(`(?i)\b(?:`+strings.Join(quoted, "|")+`)\b`))
	}
	if len(e.Patterns) == 0 {
		return Entity{}, fmt.Errorf("%w: %s has no patterns", ErrInvalidEntity, name)
	}
	return e, nil
}

func mustEntity(name string, patterns, terms []string, action core.ComplianceAction, severity string) Entity {
	e, err := NewEntity(name, patterns, terms, action, severity)
	if err != nil {
		panic(err)
	}
	return e
}

// DefaultEntities returns the built-in PHI and PII catalogue.
func DefaultEntities() []Entity {
	return []Entity{
		mustEntity("patient_name",
			[]string{`\b(?i:patient|name):\s*([A-Z][a-z]+ [A-Z][a-z]+)\b`},
			nil, core.ActionRedact, SeverityHigh),
		mustEntity("ssn",
			[]string{`\b\d{3}-\d{2}-\d{4}\b`},
			nil, core.ActionBlock, SeverityHigh),
		mustEntity("mrn",
			[]string{`\b(?i:medical record(?: number)?|mrn):?\s*(\d{6,10})\b`},
			nil, core.ActionBlock, SeverityHigh),
		mustEntity("dob",
			[]string{`\b(?i:dob|date of birth):\s*(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})\b`},
			nil, core.ActionBlock, SeverityHigh),
		mustEntity("credit_card",
			[]string{`\b(?:\d{4}[- ]?){3}\d{4}\b`},
			nil, core.ActionBlock, SeverityHigh),
		mustEntity("person_name",
			[]string{`\b(?:Mr|Mrs|Ms|Dr)\.?\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)\b`},
			nil, core.ActionRedact, SeverityMedium),
		mustEntity("address",
			[]string{`(?i)\b(\d+ [A-Za-z]+ (?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd))\b`},
			nil, core.ActionRedact, SeverityMedium),
		mustEntity("email",
			[]string{`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`},
			nil, core.ActionRedact, SeverityMedium),
		mustEntity("phone",
			[]string{`(?:\+\d{1,2}\s)?\(?\b\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`},
			nil, core.ActionRedact, SeverityMedium),
		mustEntity("ip_address",
			[]string{`\b(?:\d{1,3}\.){3}\d{1,3}\b`},
			nil, core.ActionRedact, SeverityMedium),
		mustEntity("sensitive_condition", nil,
			[]string{
				"HIV", "AIDS", "substance abuse", "mental health", "psychiatric",
				"alcohol abuse", "drug abuse", "STD", "sexually transmitted",
			},
			core.ActionRedact, SeverityMedium),
	}
}

// MergeEntities replaces base entities by name with overrides, appends new
// ones, and drops disabled names. Order follows base, then new overrides.
func MergeEntities(base, overrides []Entity, disabled []string) []Entity {
	merged := make([]Entity, 0, len(base)+len(overrides))
	replaced := make(map[string]bool, len(overrides))
	byName := make(map[string]Entity, len(overrides))
	for _, o := range overrides {
		byName[o.Name] = o
	}
	for _, e := range base {
		if o, ok := byName[e.Name]; ok {
			e = o
			replaced[e.Name] = true
		}
		merged = append(merged, e)
	}
	for _, o := range overrides {
		if !replaced[o.Name] {
			merged = append(merged, o)
		}
	}
	return slices.DeleteFunc(merged, func(e Entity) bool {
		return slices.Contains(disabled, e.Name)
	})
}
