package config

import "time"

// Default configuration values.
const (
	DefaultEmbeddingHost   = "http://localhost:11434/v1"
	DefaultGenerationHost  = "http://localhost:11434/v1"
	DefaultEmbeddingModel  = "embeddinggemma"
	DefaultGenerationModel = "qwen2.5:7b"

	DefaultStoragePath     = "ragflow.db"
	DefaultServerAddr      = ":8080"
	DefaultShutdownTimeout = 10 * time.Second

	DefaultRoutingTimeout    = 2 * time.Second
	DefaultRetrievalTimeout  = 3 * time.Second
	DefaultGenerationTimeout = 30 * time.Second
	DefaultComplianceTimeout = 5 * time.Second
	DefaultRunTimeout        = 60 * time.Second
	DefaultRetryBackoff      = 500 * time.Millisecond
	DefaultWorkers           = 8
	DefaultMaxHistory        = 20
	DefaultRunRetention      = 10 * time.Minute

	DefaultTopK         = 8
	DefaultMinRelevance = 0.3
	DefaultCacheSize    = 1 << 20

	DefaultMaxConcurrent = 4
	DefaultQueueSize     = 32
	DefaultTemperature   = 0.2
	DefaultMaxTokens     = 300

	DefaultEvaluator = "lexical"
	DefaultTokenizer = "tiktoken"

	DefaultRoutingThreshold = 0.5
	DefaultHistoryTurns     = 4

	DefaultChunkSize     = 512
	DefaultChunkOverlap  = 128
	DefaultIngestWorkers = 4
	DefaultBatchSize     = 32
)

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		AI: AIConfig{
			EmbeddingHost:   DefaultEmbeddingHost,
			GenerationHost:  DefaultGenerationHost,
			EmbeddingModel:  DefaultEmbeddingModel,
			GenerationModel: DefaultGenerationModel,
		},
		Storage: StorageConfig{Path: DefaultStoragePath},
		Server:  ServerConfig{Addr: DefaultServerAddr, ShutdownTimeout: DefaultShutdownTimeout},
		Pipeline: PipelineConfig{
			RoutingTimeout:    DefaultRoutingTimeout,
			RetrievalTimeout:  DefaultRetrievalTimeout,
			GenerationTimeout: DefaultGenerationTimeout,
			ComplianceTimeout: DefaultComplianceTimeout,
			RunTimeout:        DefaultRunTimeout,
			RetryBackoff:      DefaultRetryBackoff,
			Workers:           DefaultWorkers,
			MaxHistory:        DefaultMaxHistory,
			RunRetention:      DefaultRunRetention,
		},
		Retrieval: RetrievalConfig{
			TopK:         DefaultTopK,
			MinRelevance: DefaultMinRelevance,
			CacheSize:    DefaultCacheSize,
		},
		Generation: GenerationConfig{
			MaxConcurrent: DefaultMaxConcurrent,
			QueueSize:     DefaultQueueSize,
			Temperature:   DefaultTemperature,
			MaxTokens:     DefaultMaxTokens,
		},
		Cost: CostConfig{
			Tokenizer: DefaultTokenizer,
			Tiers: []TierConfig{
				{Name: "economy", Model: DefaultGenerationModel, InputPer1K: "0.01", OutputPer1K: "0.02"},
				{Name: "standard", Model: DefaultGenerationModel, InputPer1K: "0.02", OutputPer1K: "0.04"},
				{Name: "premium", Model: DefaultGenerationModel, InputPer1K: "0.03", OutputPer1K: "0.06"},
			},
		},
		Evaluation: EvaluationConfig{Evaluator: DefaultEvaluator},
		Routing: RoutingConfig{
			Threshold:    DefaultRoutingThreshold,
			HistoryTurns: DefaultHistoryTurns,
			Agents:       defaultAgents(),
			Tools:        defaultTools(),
		},
		Ingestion: IngestionConfig{
			ChunkSize:    DefaultChunkSize,
			ChunkOverlap: DefaultChunkOverlap,
			Workers:      DefaultIngestWorkers,
			BatchSize:    DefaultBatchSize,
		},
	}
}

func defaultAgents() []AgentConfig {
	return []AgentConfig{
		{
			ID:   "pharmacology",
			Type: AgentSpecialist,
			Specialist: &SpecialistOptions{
				Domains: []string{"pharmacology", "medication"},
				Keywords: []string{
					"dose", "dosage", "drug", "medication", "mg", "interaction",
					"prescription", "ibuprofen", "acetaminophen", "side effect",
				},
				Tools: []string{"drug_lookup", "dosage_calculator"},
				SystemPrompt: "You are a clinical pharmacology assistant. Answer only from the provided " +
					"context, state doses with units, and cite sources by number.",
				Tier: "standard",
			},
		},
		{
			ID:   "cardiology",
			Type: AgentSpecialist,
			Specialist: &SpecialistOptions{
				Domains: []string{"cardiology"},
				Keywords: []string{
					"heart", "cardiac", "blood pressure", "hypertension", "arrhythmia",
					"cholesterol", "ecg", "stroke",
				},
				Tools: []string{"guideline_search"},
				SystemPrompt: "You are a cardiology support assistant. Answer only from the provided " +
					"context and cite sources by number.",
				Tier: "standard",
			},
		},
		{
			ID:   "general",
			Type: AgentGeneralist,
			Generalist: &GeneralistOptions{
				Tools: []string{"guideline_search"},
				SystemPrompt: "You are a medical customer support assistant. Answer only from the " +
					"provided context, cite sources by number, and say so when the context is insufficient.",
			},
		},
	}
}

func defaultTools() []ToolConfig {
	return []ToolConfig{
		{Name: "drug_lookup", Description: "Look up drug monographs"},
		{Name: "dosage_calculator", Description: "Weight-based dosage calculation", Roles: []string{"clinician", "pharmacist"}},
		{Name: "guideline_search", Description: "Search clinical guidelines"},
	}
}
