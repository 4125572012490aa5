package ragflow

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/ragflow/ai/mock"
	"github.com/poiesic/ragflow/config"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/retrieval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage.InMemory = true
	cfg.Cost.Tokenizer = "heuristic"
	cfg.Pipeline.RetryBackoff = 5 * time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, chunks ...string) *Engine {
	t.Helper()
	provider := mock.NewMockProviderWithServices(mock.NewMockEmbedder(), mock.NewMockGenerator(chunks...), mock.NewMockJudge())
	engine, err := NewEngine(cfg, WithProvider(provider))
	require.NoError(t, err)
	return engine
}

func TestNewEngine(t *testing.T) {
	t.Run("in memory", func(t *testing.T) {
		engine := newTestEngine(t, testConfig(), "ok")
		defer engine.Close()

		assert.NotNil(t, engine.Pipeline())
		assert.NotNil(t, engine.Ledger())
		assert.NotNil(t, engine.Tickets())
		assert.NotNil(t, engine.Evaluations())
		assert.NotNil(t, engine.Repositories())
	})

	t.Run("on disk", func(t *testing.T) {
		cfg := testConfig()
		cfg.Storage.InMemory = false
		cfg.Storage.Path = filepath.Join(t.TempDir(), "ragflow_db")
		engine := newTestEngine(t, cfg, "ok")
		assert.NoError(t, engine.Close())
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig()
		cfg.Retrieval.TopK = 0
		engine, err := NewEngine(cfg, WithProvider(mock.NewMockProvider()))
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
		assert.Nil(t, engine)
	})

	t.Run("error with invalid path", func(t *testing.T) {
		tmpFile := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(tmpFile, []byte("test"), 0644))

		cfg := testConfig()
		cfg.Storage.InMemory = false
		cfg.Storage.Path = tmpFile
		engine, err := NewEngine(cfg, WithProvider(mock.NewMockProvider()))
		assert.Error(t, err)
		assert.Nil(t, engine)
	})

	t.Run("bad entity pattern", func(t *testing.T) {
		cfg := testConfig()
		cfg.Compliance.Entities = []config.EntityConfig{{Name: "badge", Patterns: []string{"("}, Action: "block"}}
		_, err := NewEngine(cfg, WithProvider(mock.NewMockProvider()))
		assert.Error(t, err)
	})
}

func TestEngine_AnswersFromIngestedDocuments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meters := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	cfg := testConfig()
	cfg.Evaluation.ReviewThreshold = 0.1
	provider := mock.NewMockProviderWithServices(
		mock.NewMockEmbedder(),
		mock.NewMockGenerator("The maximum daily dose ", "of ibuprofen is 1200 mg [1]."),
		mock.NewMockJudge(),
	)
	engine, err := NewEngine(cfg, WithProvider(provider), WithMeterProvider(meters))
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()

	ingest, err := engine.NewIngestionPipeline()
	require.NoError(t, err)
	defer ingest.Release()
	chunks, err := ingest.Ingest(ctx,
		&core.Document{ID: "nsaid", Title: "NSAID dosing", Text: "The maximum daily dose of ibuprofen is 1200 mg."},
		&core.Document{ID: "heart", Title: "Heart failure", Text: "Heart failure is managed with diuretics and rest."},
	)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.NoError(t, ingest.Wait())

	session, err := engine.CreateSession(ctx, "user-1")
	require.NoError(t, err)

	runID, err := engine.SubmitQuery(ctx, core.Query{
		SessionID: session.ID,
		Text:      "What is the maximum daily dose of ibuprofen?",
		Context:   core.QueryContext{Domain: "pharmacology", Role: "patient"},
		Stream:    true,
	})
	require.NoError(t, err)

	var text strings.Builder
	var final core.StreamChunk
	for chunk, err := range engine.GetStream(ctx, runID) {
		require.NoError(t, err)
		text.WriteString(chunk.Text)
		if chunk.IsFinal {
			final = chunk
		}
	}
	assert.Equal(t, "The maximum daily dose of ibuprofen is 1200 mg [1].", text.String())
	require.NotEmpty(t, final.Sources)
	assert.Equal(t, "nsaid", final.Sources[0].DocumentID)

	run, err := engine.Wait(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStateCompleted, run.State)

	status, err := engine.GetRunStatus(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "pharmacology", status.AgentID)

	entries, err := engine.Ledger().Entries(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, runID, entries[0].RunID)

	require.Eventually(t, func() bool {
		records, err := engine.Evaluations().Records(ctx, runID)
		return err == nil && len(records) == 1
	}, 2*time.Second, 10*time.Millisecond)

	tickets, err := engine.Tickets().List(ctx, core.TicketOpen)
	require.NoError(t, err)
	assert.Empty(t, tickets)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.NotEmpty(t, rm.ScopeMetrics)
}

// staticStore answers every search with the same passage.
type staticStore struct {
	calls atomic.Int32
}

func (s *staticStore) Search(ctx context.Context, req retrieval.SearchRequest) ([]core.RetrievedChunk, error) {
	s.calls.Add(1)
	return []core.RetrievedChunk{{
		ChunkID:    "leaflet-1",
		DocumentID: "leaflet",
		Text:       "The maximum daily dose of ibuprofen is 1200 mg.",
		Score:      0.95,
		End:        47,
		Metadata:   core.ChunkMetadata{Title: "Patient leaflet"},
	}}, nil
}

func TestEngine_ExternalVectorStore(t *testing.T) {
	store := &staticStore{}
	provider := mock.NewMockProviderWithServices(nil, mock.NewMockGenerator("The maximum daily dose ", "of ibuprofen is 1200 mg [1]."), nil)
	engine, err := NewEngine(testConfig(), WithProvider(provider), WithVectorStore(store))
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()
	session, err := engine.CreateSession(ctx, "user-1")
	require.NoError(t, err)
	runID, err := engine.SubmitQuery(ctx, core.Query{
		SessionID: session.ID,
		Text:      "What is the maximum daily dose of ibuprofen?",
		Context:   core.QueryContext{Domain: "pharmacology", Role: "patient"},
		Stream:    true,
	})
	require.NoError(t, err)

	var final core.StreamChunk
	for chunk, err := range engine.GetStream(ctx, runID) {
		require.NoError(t, err)
		if chunk.IsFinal {
			final = chunk
		}
	}
	require.NotEmpty(t, final.Sources)
	assert.Equal(t, "leaflet", final.Sources[0].DocumentID)
	assert.Positive(t, store.calls.Load())
}

func TestEngine_CloseReleasesProvider(t *testing.T) {
	provider := mock.NewMockProviderWithServices(nil, mock.NewMockGenerator("ok"), nil)
	engine, err := NewEngine(testConfig(), WithProvider(provider))
	require.NoError(t, err)

	require.NoError(t, engine.Close())
	assert.True(t, provider.(*mock.MockProvider).Closed())
}

func TestEngine_Cancel(t *testing.T) {
	cfg := testConfig()
	provider := mock.NewMockProviderWithServices(
		mock.NewMockEmbedder(),
		mock.NewMockGenerator("a", "b", "c").WithDelay(time.Second),
		mock.NewMockJudge(),
	)
	engine, err := NewEngine(cfg, WithProvider(provider))
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()
	session, err := engine.CreateSession(ctx, "user-1")
	require.NoError(t, err)
	runID, err := engine.SubmitQuery(ctx, core.Query{SessionID: session.ID, Text: "How do I store tablets?", Stream: true})
	require.NoError(t, err)

	require.NoError(t, engine.Cancel(runID))
	run, err := engine.Wait(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStateFailed, run.State)
	assert.Equal(t, core.ReasonCancelled, run.FailureReason)

	tickets, err := engine.Tickets().List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, tickets)
}

func TestEngine_FactoryMethods(t *testing.T) {
	engine := newTestEngine(t, testConfig(), "ok")
	defer engine.Close()

	t.Run("can create ingestion pipeline", func(t *testing.T) {
		p, err := engine.NewIngestionPipeline()
		require.NoError(t, err)
		require.NotNil(t, p)
		p.Release()
	})

	t.Run("can create server", func(t *testing.T) {
		srv, err := engine.NewServer()
		require.NoError(t, err)
		require.NotNil(t, srv)
		assert.NotNil(t, srv.Handler())
	})

	t.Run("can create reembedder", func(t *testing.T) {
		var out bytes.Buffer
		r, err := engine.NewReembedder(nil, &out)
		require.NoError(t, err)
		require.NoError(t, r.Run(context.Background()))
		assert.Contains(t, out.String(), "No chunks found")
	})
}
