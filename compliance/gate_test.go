package compliance

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/poiesic/ragflow/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T, opts ...Option) *Gate {
	t.Helper()
	g, err := NewGate(DefaultEntities(), opts...)
	require.NoError(t, err)
	return g
}

func TestNewGate_RequiresEntities(t *testing.T) {
	_, err := NewGate(nil)
	assert.ErrorIs(t, err, ErrNoEntities)
}

func TestNewEntity_Validation(t *testing.T) {
	_, err := NewEntity("", []string{"x"}, nil, core.ActionBlock, "")
	assert.ErrorIs(t, err, ErrInvalidEntity)

	_, err = NewEntity("x", []string{"x"}, nil, "shout", "")
	assert.ErrorIs(t, err, ErrInvalidEntity)

	_, err = NewEntity("x", []string{"("}, nil, core.ActionBlock, "")
	assert.ErrorIs(t, err, ErrInvalidEntity)

	_, err = NewEntity("x", nil, nil, core.ActionBlock, "")
	assert.ErrorIs(t, err, ErrInvalidEntity)

	e, err := NewEntity("codename", nil, []string{"Project Zeus"}, core.ActionRedact, "")
	require.NoError(t, err)
	assert.Equal(t, SeverityMedium, e.Severity)
	assert.True(t, e.Patterns[0].MatchString("about project zeus today"))
	assert.False(t, e.Patterns[0].MatchString("about project zeusian"))
}

func TestGate_CleanTextPasses(t *testing.T) {
	g := newTestGate(t)
	text := "The maximum daily dose of ibuprofen for adults is 1200 mg without supervision."

	v, err := g.Check(context.Background(), "r1", text, nil)
	require.NoError(t, err)
	assert.Equal(t, core.CompliancePass, v.Outcome)
	assert.Equal(t, text, v.RedactedText)
	assert.Empty(t, v.Findings)
	assert.Equal(t, "r1", v.RunID)
}

func TestGate_BlockingEntityFails(t *testing.T) {
	g := newTestGate(t)

	tests := []struct {
		name   string
		text   string
		entity string
	}{
		{"ssn", "Record for 123-45-6789 shows", "ssn"},
		{"mrn", "MRN: 12345678 was admitted", "mrn"},
		{"dob", "DOB: 01/02/1970", "dob"},
		{"credit card", "card 4111 1111 1111 1111 on file", "credit_card"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := g.Check(context.Background(), "r1", tt.text, nil)
			require.NoError(t, err)
			assert.Equal(t, core.ComplianceFail, v.Outcome)
			assert.Empty(t, v.RedactedText)
			require.NotEmpty(t, v.Findings)
			assert.Equal(t, tt.entity, v.Findings[0].Entity)
		})
	}
}

func TestGate_RedactsRedactableEntities(t *testing.T) {
	g := newTestGate(t)
	text := "Contact jane.doe@example.com or 555-123-4567 for refills."

	v, err := g.Check(context.Background(), "r1", text, nil)
	require.NoError(t, err)
	assert.Equal(t, core.ComplianceRedacted, v.Outcome)
	assert.Equal(t, "Contact [REDACTED:EMAIL] or [REDACTED:PHONE] for refills.", v.RedactedText)
	require.Len(t, v.Findings, 2)
	assert.Equal(t, "email", v.Findings[0].Entity)
	assert.Equal(t, "phone", v.Findings[1].Entity)
}

func TestGate_RedactsPatientName(t *testing.T) {
	g := newTestGate(t)

	tests := []struct {
		name string
		text string
		want string
	}{
		{"patient label", "Patient: John Smith may take 400 mg every 6 hours.", "Patient: [REDACTED:PATIENT_NAME] may take 400 mg every 6 hours."},
		{"lowercase label", "name: Mary Major was seen today", "name: [REDACTED:PATIENT_NAME] was seen today"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := g.Check(context.Background(), "r1", tt.text, nil)
			require.NoError(t, err)
			assert.Equal(t, core.ComplianceRedacted, v.Outcome)
			assert.Equal(t, tt.want, v.RedactedText)
			require.Len(t, v.Findings, 1)
			assert.Equal(t, "patient_name", v.Findings[0].Entity)
		})
	}
}

func TestGate_LabelledLowercaseWordsAreNotNames(t *testing.T) {
	g := newTestGate(t)

	for _, text := range []string{
		"Brand name: Advil tablets contain 200 mg.",
		"Generic name: ibuprofen sodium is the same drug.",
		"MRN: pending review",
	} {
		v, err := g.Check(context.Background(), "r1", text, nil)
		require.NoError(t, err)
		assert.Equal(t, core.CompliancePass, v.Outcome, text)
		assert.Empty(t, v.Findings, text)
	}
}

func TestGate_CaptureGroupLimitsSpan(t *testing.T) {
	g := newTestGate(t)
	v, err := g.Check(context.Background(), "r1", "Seen by Dr. Alice Jones yesterday.", nil)
	require.NoError(t, err)
	assert.Equal(t, core.ComplianceRedacted, v.Outcome)
	assert.Equal(t, "Seen by Dr. [REDACTED:PERSON_NAME] yesterday.", v.RedactedText)
}

func TestGate_BlockWinsOverRedaction(t *testing.T) {
	g := newTestGate(t)
	v, err := g.Check(context.Background(), "r1", "email a@b.io, SSN 123-45-6789", nil)
	require.NoError(t, err)
	assert.Equal(t, core.ComplianceFail, v.Outcome)
}

func TestGate_ContextFindingsExcludeSources(t *testing.T) {
	g := newTestGate(t)
	citations := []core.RetrievedChunk{
		{ChunkID: "c1", Text: "Ibuprofen is an NSAID."},
		{ChunkID: "c2", Text: "Case report, patient: Mary Major, 54 years old."},
		{ChunkID: "c3", Text: "Reach the clinic at clinic@example.org."},
	}

	v, err := g.Check(context.Background(), "r1", "Ibuprofen is an NSAID.", citations)
	require.NoError(t, err)
	assert.Equal(t, core.CompliancePass, v.Outcome)
	assert.Equal(t, []string{"c2", "c3"}, v.ExcludedSources)
	for _, f := range v.Findings {
		assert.NotEmpty(t, f.SourceChunkID)
	}
}

func TestGate_FailsClosedOnCancelledContext(t *testing.T) {
	g := newTestGate(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Check(ctx, "r1", "anything", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGate_AuditEntryOmitsContent(t *testing.T) {
	var buf bytes.Buffer
	audit := slog.New(slog.NewJSONHandler(&buf, nil))
	g := newTestGate(t, WithAuditLogger(audit))

	_, err := g.Check(context.Background(), "r1", "SSN 123-45-6789", nil)
	require.NoError(t, err)

	entry := buf.String()
	assert.Contains(t, entry, `"run":"r1"`)
	assert.Contains(t, entry, `"issues":1`)
	assert.Contains(t, entry, "ssn")
	assert.NotContains(t, entry, "123-45-6789")
}

func TestRechunk_PreservesBoundaries(t *testing.T) {
	g := newTestGate(t)
	chunks := []string{"Email jane", ".doe@exam", "ple.com today", " or call 555-123-4567."}
	text := strings.Join(chunks, "")

	v, err := g.Check(context.Background(), "r1", text, nil)
	require.NoError(t, err)
	require.Equal(t, core.ComplianceRedacted, v.Outcome)

	out := Rechunk(chunks, v)
	require.Len(t, out, len(chunks))
	assert.Equal(t, v.RedactedText, strings.Join(out, ""))
	assert.Equal(t, "Email [REDACTED:EMAIL]", out[0])
	assert.Equal(t, "", out[1])
	assert.Equal(t, " today", out[2])
	assert.Equal(t, " or call [REDACTED:PHONE].", out[3])
}

func TestRechunk_NoFindingsIsIdentity(t *testing.T) {
	chunks := []string{"a", "b"}
	assert.Equal(t, chunks, Rechunk(chunks, core.ComplianceVerdict{Outcome: core.CompliancePass}))
}

func TestMergeEntities(t *testing.T) {
	custom, err := NewEntity("email", []string{`x@y`}, nil, core.ActionBlock, SeverityHigh)
	require.NoError(t, err)
	extra, err := NewEntity("codename", nil, []string{"zeus"}, core.ActionRedact, "")
	require.NoError(t, err)

	merged := MergeEntities(DefaultEntities(), []Entity{custom, extra}, []string{"ip_address"})

	var names []string
	for _, e := range merged {
		names = append(names, e.Name)
		if e.Name == "email" {
			assert.Equal(t, core.ActionBlock, e.Action)
		}
	}
	assert.NotContains(t, names, "ip_address")
	assert.Equal(t, "codename", names[len(names)-1])
}
