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


// Package ragflow assembles the query pipeline from a configuration file.
//
// An Engine owns the storage backend, the model provider and every pipeline
// stage. Callers submit queries, read their streams and manage the review
// queue through it; the HTTP server and the ingestion pipeline are created
// from the same Engine so they share its storage.
package ragflow

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"

	"github.com/poiesic/ragflow/ai"
	"github.com/poiesic/ragflow/ai/openai"
	"github.com/poiesic/ragflow/config"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/cost"
	"github.com/poiesic/ragflow/escalation"
	"github.com/poiesic/ragflow/evaluation"
	"github.com/poiesic/ragflow/ingestion"
	"github.com/poiesic/ragflow/metrics"
	"github.com/poiesic/ragflow/pipeline"
	"github.com/poiesic/ragflow/reembed"
	"github.com/poiesic/ragflow/retrieval"
	"github.com/poiesic/ragflow/server"
	"github.com/poiesic/ragflow/storage/badger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/poiesic/ragflow"

type Engine struct {
	cfg         *config.Config
	repos       *badger.Repositories
	provider    ai.AIProvider
	store       *retrieval.EmbeddedStore
	ledger      *cost.Ledger
	tickets     *escalation.Handler
	evaluations *evaluation.Stage
	orch        *pipeline.Orchestrator
	logger      *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	provider      ai.AIProvider
	vectorStore   retrieval.VectorStore
	meterProvider metric.MeterProvider
	logger        *slog.Logger
}

// WithProvider uses provider instead of connecting to the configured
// OpenAI-compatible endpoints. The Engine closes it.
func WithProvider(provider ai.AIProvider) EngineOption {
	return func(o *engineOptions) {
		o.provider = provider
	}
}

// WithVectorStore answers retrieval from store instead of the chunks held
// in the engine's badger database, for example a langchaingo store wrapped
// by retrieval.NewLangChainStore. Ingestion still writes to badger.
func WithVectorStore(store retrieval.VectorStore) EngineOption {
	return func(o *engineOptions) {
		o.vectorStore = store
	}
}

// WithMeterProvider reports pipeline metrics to mp instead of the global
// OpenTelemetry meter provider.
func WithMeterProvider(mp metric.MeterProvider) EngineOption {
	return func(o *engineOptions) {
		o.meterProvider = mp
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// NewEngine validates cfg and builds every stage of the pipeline.
func NewEngine(cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &engineOptions{
		meterProvider: otel.GetMeterProvider(),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	// Open backend
	backend, err := badger.OpenBackend(cfg.Storage.Path, cfg.Storage.InMemory)
	if err != nil {
		return nil, err
	}
	repos, err := badger.NewRepositories(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	provider := options.provider
	if provider == nil {
		provider, err = openai.NewProvider(aiConfig(cfg.AI))
		if err != nil {
			repos.Close()
			return nil, err
		}
	}

	e := &Engine{
		cfg:      cfg,
		repos:    repos,
		provider: provider,
		logger:   options.logger,
	}
	if err := e.build(options); err != nil {
		if cerr := e.Close(); cerr != nil {
			e.logger.Error("error releasing engine after failed build", "err", cerr)
		}
		return nil, err
	}
	return e, nil
}

func aiConfig(c config.AIConfig) *ai.Config {
	opts := []ai.ConfigOption{
		ai.WithEmbeddingHost(c.EmbeddingHost),
		ai.WithGenerationHost(c.GenerationHost),
		ai.WithEmbeddingModel(c.EmbeddingModel),
		ai.WithGenerationModel(c.GenerationModel),
	}
	if c.JudgeModel != "" {
		opts = append(opts, ai.WithJudgeModel(c.JudgeModel))
	}
	if c.APIToken != "" {
		opts = append(opts, ai.WithAPIToken(c.APIToken))
	}
	return ai.NewConfig(opts...)
}

func (e *Engine) build(options *engineOptions) error {
	recorder, err := metrics.NewOTelRecorder(options.meterProvider.Meter(meterName))
	if err != nil {
		return err
	}

	counter := e.tokenCounter()
	tiers, err := buildTiers(e.cfg.Cost)
	if err != nil {
		return err
	}
	budget, err := buildBudget(e.cfg.Cost)
	if err != nil {
		return err
	}
	advisor, err := cost.NewAdvisor(e.repos.Ledger, tiers,
		cost.WithBudget(budget),
		cost.WithTokenCounter(counter),
		cost.WithExpectedCompletion(e.cfg.Generation.MaxTokens),
		cost.WithAdvisorLogger(e.logger.With("component", "cost-advisor")),
	)
	if err != nil {
		return err
	}
	if e.ledger, err = cost.NewLedger(e.repos.Ledger, tiers); err != nil {
		return err
	}

	router, err := buildRouter(e.cfg.Routing)
	if err != nil {
		return err
	}

	store := options.vectorStore
	if store == nil {
		if e.store, err = retrieval.NewEmbeddedStore(e.repos.Documents, e.provider.Embedder(), e.cfg.Retrieval.CacheSize); err != nil {
			return err
		}
		store = e.store
	}
	retrieverOpts := []retrieval.Option{
		retrieval.WithTopK(e.cfg.Retrieval.TopK),
		retrieval.WithMinRelevance(e.cfg.Retrieval.MinRelevance),
	}
	if e.cfg.Retrieval.Collection != "" {
		retrieverOpts = append(retrieverOpts, retrieval.WithCollection(e.cfg.Retrieval.Collection))
	}
	retriever, err := retrieval.NewCoordinator(store, retrieverOpts...)
	if err != nil {
		return err
	}

	generator, err := buildGenerator(e.cfg.Generation, e.provider.Generator(), counter)
	if err != nil {
		return err
	}

	gate, err := buildGate(e.cfg.Compliance)
	if err != nil {
		return err
	}

	if e.tickets, err = escalation.NewHandler(e.repos.Tickets, escalation.WithRecorder(recorder)); err != nil {
		return err
	}

	if e.evaluations, err = e.buildEvaluations(); err != nil {
		return err
	}

	p := e.cfg.Pipeline
	e.orch, err = pipeline.New(pipeline.Dependencies{
		Sessions:  e.repos.Sessions,
		Runs:      e.repos.Runs,
		Advisor:   advisor,
		Router:    router,
		Retriever: retriever,
		Generator: generator,
		Gate:      gate,
		Ledger:    e.ledger,
		Evaluator: e.evaluations,
		Escalator: e.tickets,
	},
		pipeline.WithTimeouts(pipeline.Timeouts{
			Routing:    p.RoutingTimeout,
			Retrieval:  p.RetrievalTimeout,
			Generation: p.GenerationTimeout,
			Compliance: p.ComplianceTimeout,
			Run:        p.RunTimeout,
		}),
		pipeline.WithRetryBackoff(p.RetryBackoff),
		pipeline.WithEscalateOnLowContext(p.EscalateOnLowContext),
		pipeline.WithWorkers(p.Workers),
		pipeline.WithMaxHistory(p.MaxHistory),
		pipeline.WithPromptHistory(e.cfg.Routing.HistoryTurns),
		pipeline.WithRunRetention(p.RunRetention),
		pipeline.WithGenerationParams(e.cfg.Generation.Temperature, e.cfg.Generation.MaxTokens),
		pipeline.WithRecorder(recorder),
		pipeline.WithLogger(e.logger.With("component", "pipeline")),
	)
	return err
}

// tokenCounter prefers the BPE encoding of the generation model. Loading an
// encoding can need network access, so failures degrade to the heuristic.
func (e *Engine) tokenCounter() cost.TokenCounter {
	if e.cfg.Cost.Tokenizer != config.DefaultTokenizer {
		return cost.HeuristicCounter{}
	}
	counter, err := cost.NewTiktokenCounter(e.cfg.AI.GenerationModel)
	if err != nil {
		e.logger.Warn("tiktoken unavailable, using heuristic token counts", "err", err)
		return cost.HeuristicCounter{}
	}
	e.logger.Debug("token counter ready", "model", e.cfg.AI.GenerationModel, "encoding", counter.Encoding())
	return counter
}

func (e *Engine) buildEvaluations() (*evaluation.Stage, error) {
	var evaluator evaluation.Evaluator = evaluation.NewLexicalEvaluator()
	if e.cfg.Evaluation.Evaluator == "judge" {
		judge, err := evaluation.NewJudgeEvaluator(e.provider.Judge(), evaluator)
		if err != nil {
			return nil, err
		}
		evaluator = judge
	}
	var opts []evaluation.Option
	if e.cfg.Evaluation.ReviewThreshold > 0 {
		opts = append(opts, evaluation.WithReviewThreshold(e.cfg.Evaluation.ReviewThreshold, e.tickets))
	}
	return evaluation.NewStage(evaluator, e.repos.Evaluations, opts...)
}

// Close stops the pipeline and releases storage and model connections.
func (e *Engine) Close() error {
	var errs []error
	if e.orch != nil {
		if err := e.orch.Close(); err != nil {
			e.logger.Error("error closing pipeline", "err", err)
			errs = append(errs, err)
		}
	}
	if e.store != nil {
		e.store.Close()
	}
	if err := e.provider.Close(); err != nil {
		e.logger.Error("error closing AI provider", "err", err)
		errs = append(errs, err)
	}
	if err := e.repos.Close(); err != nil {
		e.logger.Error("error closing repositories", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CreateSession starts a conversation for userID.
func (e *Engine) CreateSession(ctx context.Context, userID string) (*core.Session, error) {
	return e.orch.CreateSession(ctx, userID)
}

// SubmitQuery starts a run and returns its ID.
func (e *Engine) SubmitQuery(ctx context.Context, q core.Query) (string, error) {
	return e.orch.Submit(ctx, q)
}

// GetStream yields the released chunks of a run.
func (e *Engine) GetStream(ctx context.Context, runID string) iter.Seq2[core.StreamChunk, error] {
	return e.orch.Stream(ctx, runID)
}

// GetRunStatus returns a snapshot of a run.
func (e *Engine) GetRunStatus(ctx context.Context, runID string) (*core.PipelineRun, error) {
	return e.orch.Status(ctx, runID)
}

// Wait blocks until the run reaches a terminal state.
func (e *Engine) Wait(ctx context.Context, runID string) (*core.PipelineRun, error) {
	return e.orch.Wait(ctx, runID)
}

// Subscribe follows the state transitions of a live run.
func (e *Engine) Subscribe(runID string) (<-chan pipeline.RunEvent, func(), error) {
	return e.orch.Subscribe(runID)
}

// Cancel stops a run.
func (e *Engine) Cancel(runID string) error {
	return e.orch.Cancel(runID)
}

func (e *Engine) Pipeline() *pipeline.Orchestrator {
	return e.orch
}

func (e *Engine) Ledger() *cost.Ledger {
	return e.ledger
}

func (e *Engine) Tickets() *escalation.Handler {
	return e.tickets
}

func (e *Engine) Evaluations() *evaluation.Stage {
	return e.evaluations
}

func (e *Engine) Repositories() *badger.Repositories {
	return e.repos
}

// NewIngestionPipeline returns a pipeline that loads documents into the
// engine's store. Configured chunking applies unless opts override it.
func (e *Engine) NewIngestionPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	in := e.cfg.Ingestion
	defaults := []ingestion.Option{
		ingestion.WithPoolSize(in.Workers),
		ingestion.WithChunking(in.ChunkSize, in.ChunkOverlap),
	}
	if in.BatchSize > 0 {
		defaults = append(defaults, ingestion.WithBatchSize(in.BatchSize))
	}
	return ingestion.NewPipeline(e.repos.Documents, e.provider, append(defaults, opts...)...)
}

// NewReembedder returns a maintenance job that recomputes stored chunk
// vectors with the engine's embedder, checkpointing into the engine's store.
func (e *Engine) NewReembedder(cfg *reembed.Config, progress io.Writer) (*reembed.Reembedder, error) {
	return reembed.NewReembedder(e.repos.Documents, e.repos.Checkpoints, e.provider.Embedder(), cfg, progress)
}

// NewServer returns the HTTP API over this engine.
func (e *Engine) NewServer(opts ...server.Option) (*server.Server, error) {
	var defaults []server.Option
	if e.cfg.Server.ShutdownTimeout > 0 {
		defaults = append(defaults, server.WithShutdownTimeout(e.cfg.Server.ShutdownTimeout))
	}
	return server.New(server.Dependencies{
		Pipeline:    e.orch,
		Tickets:     e.tickets,
		Ledger:      e.ledger,
		Evaluations: e.evaluations,
	}, append(defaults, opts...)...)
}
