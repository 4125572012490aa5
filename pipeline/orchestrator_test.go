package pipeline

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/ragflow/ai"
	"github.com/poiesic/ragflow/ai/mock"
	"github.com/poiesic/ragflow/compliance"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/cost"
	"github.com/poiesic/ragflow/escalation"
	"github.com/poiesic/ragflow/evaluation"
	"github.com/poiesic/ragflow/generation"
	"github.com/poiesic/ragflow/retrieval"
	"github.com/poiesic/ragflow/routing"
	"github.com/poiesic/ragflow/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ibuprofenChunk = core.RetrievedChunk{
	ChunkID:    "nsaid#0",
	DocumentID: "nsaid",
	Text:       "Adults: the maximum daily dose of ibuprofen is 1200 mg without a prescription.",
	Score:      0.92,
	Metadata:   core.ChunkMetadata{Title: "NSAID dosing"},
}

// stubStore is a scripted vector store.
type stubStore struct {
	mu        sync.Mutex
	calls     int
	chunks    []core.RetrievedChunk
	failFirst int
	err       error
	block     bool
	scopes    []string
}

func (s *stubStore) Search(ctx context.Context, req retrieval.SearchRequest) ([]core.RetrievedChunk, error) {
	s.mu.Lock()
	s.calls++
	calls := s.calls
	s.scopes = append(s.scopes, req.Collection)
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if calls <= s.failFirst {
		return nil, s.err
	}
	return slices.Clone(s.chunks), nil
}

func (s *stubStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubStore) Scopes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.scopes)
}

// erroringGate fails every check.
type erroringGate struct {
	mu    sync.Mutex
	calls int
}

func (g *erroringGate) Check(context.Context, string, string, []core.RetrievedChunk) (core.ComplianceVerdict, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return core.ComplianceVerdict{}, errors.New("pattern engine unavailable")
}

func (g *erroringGate) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// gatedRouter holds routing until release is closed or ctx ends.
type gatedRouter struct {
	*routing.Router
	release chan struct{}
}

func (r *gatedRouter) Route(ctx context.Context, q core.Query, history []core.Turn) (routing.Decision, error) {
	select {
	case <-r.release:
		return r.Router.Route(ctx, q, history)
	case <-ctx.Done():
		return routing.Decision{}, ctx.Err()
	}
}

type setup struct {
	store  retrieval.VectorStore
	gen    ai.Generator
	gate   ComplianceChecker
	router func(*routing.Router) Router
	opts   []Option
	// reviewThreshold enables evaluation review tickets when positive.
	reviewThreshold float64
}

type harness struct {
	repos     *badger.Repositories
	orch      *Orchestrator
	escalator *escalation.Handler
	router    *routing.Router
	session   *core.Session
}

func newRouter(t *testing.T) *routing.Router {
	t.Helper()
	registry, err := routing.NewRegistry([]routing.Agent{
		{
			ID:           "pharmacology",
			Kind:         routing.KindSpecialist,
			Domains:      []string{"pharmacology"},
			Keywords:     []string{"dose", "ibuprofen"},
			Tools:        []string{"drug_lookup"},
			SystemPrompt: "You answer medication questions.",
			Tier:         "standard",
			Collection:   "formulary",
		},
		{ID: "general", Kind: routing.KindGeneralist, SystemPrompt: "You are a careful assistant."},
	}, []routing.Tool{{Name: "drug_lookup"}})
	require.NoError(t, err)
	router, err := routing.NewRouter(registry)
	require.NoError(t, err)
	return router
}

func newHarness(t *testing.T, s setup) *harness {
	t.Helper()

	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	var tiers []cost.Tier
	for _, row := range [][4]string{
		{"economy", "small-model", "0.01", "0.02"},
		{"standard", "mid-model", "0.02", "0.04"},
		{"premium", "large-model", "0.03", "0.06"},
	} {
		tier, err := cost.ParseTier(row[0], row[1], row[2], row[3])
		require.NoError(t, err)
		tiers = append(tiers, tier)
	}
	advisor, err := cost.NewAdvisor(repos.Ledger, tiers)
	require.NoError(t, err)
	ledger, err := cost.NewLedger(repos.Ledger, tiers)
	require.NoError(t, err)

	if s.store == nil {
		s.store = &stubStore{chunks: []core.RetrievedChunk{ibuprofenChunk}}
	}
	coordinator, err := retrieval.NewCoordinator(s.store)
	require.NoError(t, err)

	if s.gen == nil {
		s.gen = mock.NewMockGenerator("The maximum daily dose ", "of ibuprofen is 1200 mg.")
	}
	genStage, err := generation.NewStage(s.gen)
	require.NoError(t, err)

	if s.gate == nil {
		gate, err := compliance.NewGate(compliance.DefaultEntities())
		require.NoError(t, err)
		s.gate = gate
	}

	baseRouter := newRouter(t)
	var router Router = baseRouter
	if s.router != nil {
		router = s.router(baseRouter)
	}

	escalator, err := escalation.NewHandler(repos.Tickets)
	require.NoError(t, err)
	var evalOpts []evaluation.Option
	if s.reviewThreshold > 0 {
		evalOpts = append(evalOpts, evaluation.WithReviewThreshold(s.reviewThreshold, escalator))
	}
	evaluator, err := evaluation.NewStage(evaluation.NewLexicalEvaluator(), repos.Evaluations, evalOpts...)
	require.NoError(t, err)

	opts := append([]Option{WithRetryBackoff(5 * time.Millisecond)}, s.opts...)
	orch, err := New(Dependencies{
		Sessions:  repos.Sessions,
		Runs:      repos.Runs,
		Advisor:   advisor,
		Router:    router,
		Retriever: coordinator,
		Generator: genStage,
		Gate:      s.gate,
		Ledger:    ledger,
		Evaluator: evaluator,
		Escalator: escalator,
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { orch.Close() })

	session, err := orch.CreateSession(context.Background(), "u1")
	require.NoError(t, err)

	return &harness{repos: repos, orch: orch, escalator: escalator, router: baseRouter, session: session}
}

func (h *harness) submit(t *testing.T, text string, stream bool) string {
	t.Helper()
	runID, err := h.orch.Submit(context.Background(), core.Query{
		SessionID: h.session.ID,
		Text:      text,
		Context:   core.QueryContext{Domain: "pharmacology", Role: "patient"},
		Stream:    stream,
	})
	require.NoError(t, err)
	return runID
}

func collect(t *testing.T, o *Orchestrator, runID string) ([]core.StreamChunk, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var chunks []core.StreamChunk
	for chunk, err := range o.Stream(ctx, runID) {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func joined(chunks []core.StreamChunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Text)
	}
	return sb.String()
}

func assertContiguous(t *testing.T, chunks []core.StreamChunk) {
	t.Helper()
	for i, c := range chunks {
		assert.Equal(t, i, c.Seq, "sequence gap at %d", i)
		assert.Equal(t, i == len(chunks)-1, c.IsFinal, "final flag at %d", i)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Dependencies{})
	assert.ErrorIs(t, err, ErrSessionRepositoryRequired)
}

func TestOrchestrator_IbuprofenAnswer(t *testing.T) {
	h := newHarness(t, setup{})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	chunks, err := collect(t, h.orch, runID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assertContiguous(t, chunks)
	assert.Equal(t, "The maximum daily dose of ibuprofen is 1200 mg.", joined(chunks))

	final := chunks[len(chunks)-1]
	require.Len(t, final.Sources, 1)
	assert.Equal(t, "nsaid#0", final.Sources[0].ChunkID)
	assert.Equal(t, "NSAID dosing", final.Sources[0].Title)

	run, err := h.orch.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStateCompleted, run.State)
	assert.Equal(t, "pharmacology", run.AgentID)
	assert.Equal(t, []string{"drug_lookup"}, run.Tools)
	assert.Equal(t, "standard", run.Tier)
	assert.Equal(t, core.CompliancePass, run.Verdict)
	assert.Equal(t, 2, run.Delivered)
	assert.False(t, run.LowContext)
	for _, stage := range []core.StageName{core.StageRouting, core.StageRetrieval, core.StageGeneration, core.StageCompliance} {
		assert.Equal(t, core.StageSucceeded, run.Stages[stage], stage)
	}

	require.NoError(t, h.orch.Close())
	ctx := context.Background()

	entry, err := h.repos.Ledger.GetEntry(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "standard", entry.Tier)
	assert.Equal(t, core.RunStateCompleted, entry.Outcome)
	assert.Positive(t, entry.TotalTokens())
	assert.True(t, entry.Cost.IsPositive())

	records, err := h.repos.Evaluations.ListEvaluations(ctx, runID)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	session, err := h.repos.Sessions.GetSession(ctx, h.session.ID)
	require.NoError(t, err)
	require.Len(t, session.History, 2)
	assert.Equal(t, core.RoleAssistant, session.History[1].Role)
	assert.Equal(t, "The maximum daily dose of ibuprofen is 1200 mg.", session.History[1].Text)

	stored, err := h.repos.Runs.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStateCompleted, stored.State)
	assert.Equal(t, core.StageSucceeded, stored.Stages[core.StageEvaluation])
}

func TestOrchestrator_NonStreamingQueryReleasesOneChunk(t *testing.T) {
	h := newHarness(t, setup{})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", false)

	chunks, err := collect(t, h.orch, runID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].IsFinal)
	assert.Equal(t, "The maximum daily dose of ibuprofen is 1200 mg.", chunks[0].Text)
}

func TestOrchestrator_RedactsBeforeRelease(t *testing.T) {
	gen := mock.NewMockGenerator("Email jane", ".doe@exam", "ple.com today", " or call 555-123-4567.")
	h := newHarness(t, setup{gen: gen})
	runID := h.submit(t, "Who can I ask about ibuprofen dose?", true)

	chunks, err := collect(t, h.orch, runID)
	require.NoError(t, err)
	assertContiguous(t, chunks)
	assert.Equal(t, "Email [REDACTED:EMAIL] today or call [REDACTED:PHONE].", joined(chunks))
	assert.Len(t, chunks, 3)

	run, err := h.orch.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStateCompleted, run.State)
	assert.Equal(t, core.ComplianceRedacted, run.Verdict)
}

func TestOrchestrator_RedactsPatientNameWithoutTicket(t *testing.T) {
	gen := mock.NewMockGenerator("Patient: John ", "Smith may take 400 mg every 6 hours.")
	h := newHarness(t, setup{gen: gen})
	runID := h.submit(t, "How often can the patient take ibuprofen?", true)

	chunks, err := collect(t, h.orch, runID)
	require.NoError(t, err)
	assertContiguous(t, chunks)
	released := joined(chunks)
	assert.Equal(t, "Patient: [REDACTED:PATIENT_NAME] may take 400 mg every 6 hours.", released)
	assert.NotContains(t, released, "John")
	assert.NotContains(t, released, "Smith")

	run, err := h.orch.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStateCompleted, run.State)
	assert.Equal(t, core.ComplianceRedacted, run.Verdict)
	assert.Empty(t, run.TicketID)

	require.NoError(t, h.orch.Close())
	tickets, err := h.escalator.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, tickets)
}

func TestOrchestrator_ReviewThresholdSkipsRedactedRuns(t *testing.T) {
	gen := mock.NewMockGenerator("Ask at desk@example.com.")
	h := newHarness(t, setup{gen: gen, reviewThreshold: 0.99})
	runID := h.submit(t, "Who can I ask about ibuprofen dose?", true)

	_, err := collect(t, h.orch, runID)
	require.NoError(t, err)
	run, err := h.orch.Status(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, core.ComplianceRedacted, run.Verdict)

	require.NoError(t, h.orch.Close())
	records, err := h.repos.Evaluations.ListEvaluations(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Less(t, records[0].Mean(), 0.99)

	tickets, err := h.escalator.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, tickets)
}

func TestOrchestrator_ReviewThresholdEscalatesWeakPassedAnswers(t *testing.T) {
	gen := mock.NewMockGenerator("Please consult your pharmacist.")
	h := newHarness(t, setup{gen: gen, reviewThreshold: 0.99})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	_, err := collect(t, h.orch, runID)
	require.NoError(t, err)

	require.NoError(t, h.orch.Close())
	tickets, err := h.escalator.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, runID, tickets[0].RunID)
	assert.Equal(t, core.EscalationLowConfidence, tickets[0].Reason)
}

func TestOrchestrator_RoutedAgentScopesRetrieval(t *testing.T) {
	store := &stubStore{chunks: []core.RetrievedChunk{ibuprofenChunk}}
	h := newHarness(t, setup{store: store})

	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)
	_, err := collect(t, h.orch, runID)
	require.NoError(t, err)

	runID, err = h.orch.Submit(context.Background(), core.Query{
		SessionID: h.session.ID,
		Text:      "Where is the nearest clinic?",
		Stream:    true,
	})
	require.NoError(t, err)
	_, err = collect(t, h.orch, runID)
	require.NoError(t, err)

	run, err := h.orch.Status(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, "general", run.AgentID)
	assert.Equal(t, []string{"formulary", ""}, store.Scopes())
}

func TestOrchestrator_ExcludesFlaggedSources(t *testing.T) {
	store := &stubStore{chunks: []core.RetrievedChunk{
		ibuprofenChunk,
		{ChunkID: "case#3", DocumentID: "case", Text: "Case note. Patient: Mary Major, took 1200 mg daily.", Score: 0.8},
	}}
	h := newHarness(t, setup{store: store})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	chunks, err := collect(t, h.orch, runID)
	require.NoError(t, err)
	final := chunks[len(chunks)-1]
	require.Len(t, final.Sources, 1)
	assert.Equal(t, "nsaid#0", final.Sources[0].ChunkID)
}

func TestOrchestrator_ComplianceFailEscalatesWithoutDelivery(t *testing.T) {
	gen := mock.NewMockGenerator("The record for SSN ", "123-45-6789 shows 1200 mg.")
	h := newHarness(t, setup{gen: gen})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	chunks, err := collect(t, h.orch, runID)
	assert.ErrorIs(t, err, ErrRunEscalated)
	assert.Empty(t, chunks)

	run, err := h.orch.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStateEscalated, run.State)
	assert.Equal(t, core.ComplianceFail, run.Verdict)
	assert.Equal(t, core.ReasonComplianceFail, run.FailureReason)
	assert.Zero(t, run.Delivered)
	assert.NotEmpty(t, run.TicketID)

	tickets, err := h.escalator.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, core.EscalationComplianceFail, tickets[0].Reason)
	assert.NotContains(t, tickets[0].Detail, "123-45-6789")

	require.NoError(t, h.orch.Close())
	entry, err := h.repos.Ledger.GetEntry(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStateEscalated, entry.Outcome)
	records, err := h.repos.Evaluations.ListEvaluations(context.Background(), runID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestOrchestrator_LowContextAnswersWithNotice(t *testing.T) {
	gen := mock.NewMockGenerator("I could not find supporting sources.")
	h := newHarness(t, setup{store: &stubStore{}, gen: gen})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	chunks, err := collect(t, h.orch, runID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].Sources)

	run, err := h.orch.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStateCompleted, run.State)
	assert.True(t, run.LowContext)

	req := gen.LastRequest()
	require.NotNil(t, req)
	assert.Contains(t, req.Messages[0].Content, "do not guess")
}

func TestOrchestrator_LowContextEscalatesWhenConfigured(t *testing.T) {
	gen := mock.NewMockGenerator("I could not find supporting sources.")
	h := newHarness(t, setup{store: &stubStore{}, gen: gen, opts: []Option{WithEscalateOnLowContext(true)}})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	_, err := collect(t, h.orch, runID)
	assert.ErrorIs(t, err, ErrRunEscalated)

	run, err := h.orch.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.ReasonLowConfidence, run.FailureReason)

	ticket, err := h.escalator.ForRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.EscalationLowConfidence, ticket.Reason)
}

func TestOrchestrator_RedactionOutranksLowContextEscalation(t *testing.T) {
	gen := mock.NewMockGenerator("Ask at desk@example.com.")
	h := newHarness(t, setup{store: &stubStore{}, gen: gen, opts: []Option{WithEscalateOnLowContext(true)}})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	chunks, err := collect(t, h.orch, runID)
	require.NoError(t, err)
	assert.Equal(t, "Ask at [REDACTED:EMAIL].", joined(chunks))

	tickets, err := h.escalator.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, tickets)
}

func TestOrchestrator_CancelDiscardsOutput(t *testing.T) {
	gen := mock.NewMockGenerator("a", "b", "c", "d").WithDelay(200 * time.Millisecond)
	h := newHarness(t, setup{gen: gen})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	require.Eventually(t, func() bool {
		run, err := h.orch.Status(context.Background(), runID)
		return err == nil && run.State == core.RunStateGenerating
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, h.orch.Cancel(runID))

	chunks, err := collect(t, h.orch, runID)
	assert.ErrorIs(t, err, ErrRunFailed)
	assert.Empty(t, chunks)

	run, err := h.orch.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStateFailed, run.State)
	assert.Equal(t, core.ReasonCancelled, run.FailureReason)
	assert.Equal(t, core.StageFailed, run.Stages[core.StageGeneration])
	assert.Equal(t, core.StageSkipped, run.Stages[core.StageCompliance])

	tickets, err := h.escalator.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, tickets)

	require.NoError(t, h.orch.Close())
	entry, err := h.repos.Ledger.GetEntry(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStateFailed, entry.Outcome)
}

func TestOrchestrator_RunTimeoutFailsAndEscalates(t *testing.T) {
	gen := mock.NewMockGenerator("a", "b").WithDelay(time.Second)
	h := newHarness(t, setup{gen: gen, opts: []Option{WithTimeouts(Timeouts{Run: 100 * time.Millisecond})}})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	_, err := collect(t, h.orch, runID)
	assert.ErrorIs(t, err, ErrRunFailed)

	run, err := h.orch.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.ReasonCancelled, run.FailureReason)

	ticket, err := h.escalator.ForRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.EscalationError, ticket.Reason)
}

func TestOrchestrator_GenerationTimeout(t *testing.T) {
	gen := mock.NewMockGenerator("a", "b").WithDelay(time.Second)
	h := newHarness(t, setup{gen: gen, opts: []Option{WithTimeouts(Timeouts{Generation: 50 * time.Millisecond})}})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	_, err := collect(t, h.orch, runID)
	assert.ErrorIs(t, err, ErrRunFailed)

	run, err := h.orch.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.ReasonGenerationTimeout, run.FailureReason)
}

func TestOrchestrator_GenerationFailureOpensOneTicket(t *testing.T) {
	gen := mock.NewMockGenerator()
	gen.GenerateFunc = func(context.Context, ai.GenerateRequest, ai.StreamFunc) (*ai.GenerateResponse, error) {
		return nil, errors.New("model exploded")
	}
	h := newHarness(t, setup{gen: gen})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	_, err := collect(t, h.orch, runID)
	assert.ErrorIs(t, err, ErrRunFailed)

	run, err := h.orch.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.ReasonGenerationFailure, run.FailureReason)
	assert.Contains(t, run.Error, "model exploded")

	tickets, err := h.escalator.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, core.EscalationError, tickets[0].Reason)
	assert.Equal(t, run.TicketID, tickets[0].ID)
}

func TestOrchestrator_RetrievalRetriedOnce(t *testing.T) {
	store := &stubStore{chunks: []core.RetrievedChunk{ibuprofenChunk}, failFirst: 1, err: errors.New("index warming up")}
	h := newHarness(t, setup{store: store})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	_, err := collect(t, h.orch, runID)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Calls())
}

func TestOrchestrator_RetrievalErrorAfterRetry(t *testing.T) {
	store := &stubStore{failFirst: 10, err: errors.New("index offline")}
	h := newHarness(t, setup{store: store})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	_, err := collect(t, h.orch, runID)
	assert.ErrorIs(t, err, ErrRunFailed)
	assert.Equal(t, 2, store.Calls())

	run, err := h.orch.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.ReasonRetrievalError, run.FailureReason)
	assert.Equal(t, core.StageSkipped, run.Stages[core.StageGeneration])
}

func TestOrchestrator_RetrievalTimeout(t *testing.T) {
	store := &stubStore{block: true}
	h := newHarness(t, setup{store: store, opts: []Option{WithTimeouts(Timeouts{Retrieval: 20 * time.Millisecond})}})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	_, err := collect(t, h.orch, runID)
	assert.ErrorIs(t, err, ErrRunFailed)

	run, err := h.orch.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.ReasonRetrievalTimeout, run.FailureReason)
}

func TestOrchestrator_ComplianceErrorFailsClosed(t *testing.T) {
	gate := &erroringGate{}
	h := newHarness(t, setup{gate: gate})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	chunks, err := collect(t, h.orch, runID)
	assert.ErrorIs(t, err, ErrRunFailed)
	assert.Empty(t, chunks)
	assert.Equal(t, 2, gate.Calls())

	run, err := h.orch.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.ReasonComplianceError, run.FailureReason)
	assert.Zero(t, run.Delivered)
}

func TestOrchestrator_RoutingTimeoutFallsBack(t *testing.T) {
	h := newHarness(t, setup{
		router: func(r *routing.Router) Router { return &gatedRouter{Router: r, release: make(chan struct{})} },
		opts:   []Option{WithTimeouts(Timeouts{Routing: 20 * time.Millisecond})},
	})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	_, err := collect(t, h.orch, runID)
	require.NoError(t, err)

	run, err := h.orch.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, "general", run.AgentID)
	assert.True(t, run.RoutingFallback)
	assert.Equal(t, core.StageFailed, run.Stages[core.StageRouting])
	assert.Equal(t, core.RunStateCompleted, run.State)
}

func TestOrchestrator_SubscribeSeesTransitions(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, setup{
		router: func(r *routing.Router) Router { return &gatedRouter{Router: r, release: release} },
	})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)
	require.Eventually(t, func() bool {
		run, err := h.orch.Status(context.Background(), runID)
		return err == nil && run.State == core.RunStateRouting
	}, 5*time.Second, time.Millisecond)

	events, unsubscribe, err := h.orch.Subscribe(runID)
	require.NoError(t, err)
	defer unsubscribe()
	close(release)

	var states []core.RunState
	for ev := range events {
		assert.Equal(t, runID, ev.RunID)
		states = append(states, ev.To)
	}
	assert.Equal(t, []core.RunState{
		core.RunStateRetrieving,
		core.RunStateGenerating,
		core.RunStateComplianceCheck,
		core.RunStateReleasing,
		core.RunStateCompleted,
	}, states)

	// finished runs hand out closed channels
	events, _, err = h.orch.Subscribe(runID)
	require.NoError(t, err)
	_, open := <-events
	assert.False(t, open)
}

func TestOrchestrator_StreamReplaysForLateReaders(t *testing.T) {
	h := newHarness(t, setup{})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	first, err := collect(t, h.orch, runID)
	require.NoError(t, err)
	second, err := collect(t, h.orch, runID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestOrchestrator_Wait(t *testing.T) {
	h := newHarness(t, setup{})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	run, err := h.orch.Wait(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStateCompleted, run.State)
	assert.False(t, run.ClosedAt.IsZero())
}

func TestOrchestrator_SubmitValidation(t *testing.T) {
	h := newHarness(t, setup{})
	ctx := context.Background()

	_, err := h.orch.Submit(ctx, core.Query{SessionID: h.session.ID, Text: "  "})
	assert.ErrorIs(t, err, core.ErrInvalidQuery)

	_, err = h.orch.Submit(ctx, core.Query{SessionID: "nope", Text: "hi"})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = h.orch.Status(ctx, "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)

	assert.ErrorIs(t, h.orch.Cancel("nope"), ErrRunNotFound)

	_, _, err = h.orch.Subscribe("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = collect(t, h.orch, "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestOrchestrator_StreamAfterRetention(t *testing.T) {
	h := newHarness(t, setup{opts: []Option{WithRunRetention(time.Millisecond)}})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	require.Eventually(t, func() bool {
		_, ok := h.orch.handle(runID)
		return !ok
	}, 5*time.Second, 5*time.Millisecond)

	_, err := collect(t, h.orch, runID)
	assert.ErrorIs(t, err, ErrRunExpired)
	assert.NotErrorIs(t, err, ErrRunNotFound)

	run, err := h.orch.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStateCompleted, run.State)
}

func TestOrchestrator_StreamAfterRetentionReportsEscalation(t *testing.T) {
	gen := mock.NewMockGenerator("The record for SSN 123-45-6789 shows 1200 mg.")
	h := newHarness(t, setup{gen: gen, opts: []Option{WithRunRetention(time.Millisecond)}})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	require.Eventually(t, func() bool {
		_, ok := h.orch.handle(runID)
		return !ok
	}, 5*time.Second, 5*time.Millisecond)

	_, err := collect(t, h.orch, runID)
	assert.ErrorIs(t, err, ErrRunEscalated)
}

func TestOrchestrator_CloseAbortsRunsWithoutEscalation(t *testing.T) {
	gen := mock.NewMockGenerator("a", "b").WithDelay(time.Second)
	h := newHarness(t, setup{gen: gen})
	runID := h.submit(t, "What is the max daily dose of ibuprofen?", true)

	require.NoError(t, h.orch.Close())

	run, err := h.orch.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStateFailed, run.State)
	assert.Equal(t, core.ReasonCancelled, run.FailureReason)

	tickets, err := h.escalator.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, tickets)

	_, err = h.orch.Submit(context.Background(), core.Query{SessionID: h.session.ID, Text: "hi"})
	assert.ErrorIs(t, err, ErrOrchestratorClosed)
}

func TestOrchestrator_ConcurrentRunsKeepOrder(t *testing.T) {
	gen := mock.NewMockGenerator("one ", "two ", "three ", "four").WithDelay(time.Millisecond)
	h := newHarness(t, setup{gen: gen})

	var ids []string
	for range 6 {
		ids = append(ids, h.submit(t, "What is the max daily dose of ibuprofen?", true))
	}
	for _, id := range ids {
		chunks, err := collect(t, h.orch, id)
		require.NoError(t, err)
		assertContiguous(t, chunks)
		assert.Equal(t, "one two three four", joined(chunks))
	}
}
