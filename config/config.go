// Package config loads the ragflow configuration file.
//
// The configuration is a closed YAML record: unknown keys are rejected at
// load time and agent options are typed per agent kind. Values are resolved
// in order defaults, file, then RAGFLOW_* environment variables.
package config

import (
	"time"
)

// Config is the root configuration record.
type Config struct {
	AI         AIConfig         `yaml:"ai"`
	Storage    StorageConfig    `yaml:"storage"`
	Server     ServerConfig     `yaml:"server"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Generation GenerationConfig `yaml:"generation"`
	Cost       CostConfig       `yaml:"cost"`
	Compliance ComplianceConfig `yaml:"compliance"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Routing    RoutingConfig    `yaml:"routing"`
	Ingestion  IngestionConfig  `yaml:"ingestion"`
}

// AIConfig selects the model endpoints.
type AIConfig struct {
	EmbeddingHost   string `yaml:"embedding_host"`
	GenerationHost  string `yaml:"generation_host"`
	EmbeddingModel  string `yaml:"embedding_model"`
	GenerationModel string `yaml:"generation_model"`
	JudgeModel      string `yaml:"judge_model"`
	APIToken        string `yaml:"api_token"`
}

// StorageConfig locates the badger database.
type StorageConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PipelineConfig holds orchestrator timeouts and policies.
type PipelineConfig struct {
	RoutingTimeout       time.Duration `yaml:"routing_timeout"`
	RetrievalTimeout     time.Duration `yaml:"retrieval_timeout"`
	GenerationTimeout    time.Duration `yaml:"generation_timeout"`
	ComplianceTimeout    time.Duration `yaml:"compliance_timeout"`
	RunTimeout           time.Duration `yaml:"run_timeout"`
	RetryBackoff         time.Duration `yaml:"retry_backoff"`
	EscalateOnLowContext bool          `yaml:"escalate_on_low_context"`
	Workers              int           `yaml:"workers"`
	MaxHistory           int           `yaml:"max_history"`
	RunRetention         time.Duration `yaml:"run_retention"`
}

// RetrievalConfig tunes the retrieval coordinator.
type RetrievalConfig struct {
	TopK         int     `yaml:"top_k"`
	MinRelevance float64 `yaml:"min_relevance"`
	Collection   string  `yaml:"collection"`
	CacheSize    int64   `yaml:"cache_size"`
}

// GenerationConfig bounds model usage.
type GenerationConfig struct {
	MaxConcurrent     int     `yaml:"max_concurrent"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	QueueSize         int     `yaml:"queue_size"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
}

// CostConfig sets budgets and model tiers. Money values are decimal strings.
type CostConfig struct {
	SessionBudgetUSD string       `yaml:"session_budget_usd"`
	DailyTokenBudget int          `yaml:"daily_token_budget"`
	Tokenizer        string       `yaml:"tokenizer"`
	Tiers            []TierConfig `yaml:"tiers"`
}

// TierConfig prices one model tier per 1K tokens.
type TierConfig struct {
	Name        string `yaml:"name"`
	Model       string `yaml:"model"`
	InputPer1K  string `yaml:"input_per_1k"`
	OutputPer1K string `yaml:"output_per_1k"`
}

// ComplianceConfig adjusts the entity catalogue. Entries replace built-in
// entities with the same name; Disabled removes entities.
type ComplianceConfig struct {
	Entities []EntityConfig `yaml:"entities"`
	Disabled []string       `yaml:"disabled"`
}

// EntityConfig describes one sensitive entity type.
type EntityConfig struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`
	Terms    []string `yaml:"terms"`
	Action   string   `yaml:"action"`
	Severity string   `yaml:"severity"`
}

// EvaluationConfig selects the evaluator.
type EvaluationConfig struct {
	Evaluator       string  `yaml:"evaluator"`
	ReviewThreshold float64 `yaml:"review_threshold"`
}

// RoutingConfig declares agents and tools.
type RoutingConfig struct {
	Threshold    float64       `yaml:"threshold"`
	HistoryTurns int           `yaml:"history_turns"`
	Agents       []AgentConfig `yaml:"agents"`
	Tools        []ToolConfig  `yaml:"tools"`
}

// Agent kinds.
const (
	AgentSpecialist = "specialist"
	AgentGeneralist = "generalist"
)

// AgentConfig declares one agent. Exactly one of Specialist or Generalist
// must be set, matching Type.
type AgentConfig struct {
	ID         string             `yaml:"id"`
	Type       string             `yaml:"type"`
	Specialist *SpecialistOptions `yaml:"specialist,omitempty"`
	Generalist *GeneralistOptions `yaml:"generalist,omitempty"`
}

// SpecialistOptions configure a domain specialist agent.
type SpecialistOptions struct {
	Domains      []string `yaml:"domains"`
	Keywords     []string `yaml:"keywords"`
	Tools        []string `yaml:"tools"`
	SystemPrompt string   `yaml:"system_prompt"`
	Tier         string   `yaml:"tier"`
	Collection   string   `yaml:"collection"`
}

// GeneralistOptions configure the fallback agent.
type GeneralistOptions struct {
	Tools        []string `yaml:"tools"`
	SystemPrompt string   `yaml:"system_prompt"`
}

// ToolConfig declares a tool and the roles allowed to use it.
type ToolConfig struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Roles       []string `yaml:"roles"`
}

// IngestionConfig controls document chunking.
type IngestionConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	Workers      int `yaml:"workers"`
	BatchSize    int `yaml:"batch_size"`
}
