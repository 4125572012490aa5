package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load builds a configuration from defaults, the YAML file at path (when
// path is non-empty) and RAGFLOW_* environment variables, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := decode(cfg, data); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML data over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := decode(cfg, data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode rejects unknown keys. Lists in the file replace the default lists.
func decode(cfg *Config, data []byte) error {
	// Expand environment variables in the config file
	expanded := os.ExpandEnv(string(data))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)

	file := *cfg
	file.Routing.Agents = nil
	file.Routing.Tools = nil
	file.Cost.Tiers = nil

	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if file.Routing.Agents == nil {
		file.Routing.Agents = cfg.Routing.Agents
	}
	if file.Routing.Tools == nil {
		file.Routing.Tools = cfg.Routing.Tools
	}
	if file.Cost.Tiers == nil {
		file.Cost.Tiers = cfg.Cost.Tiers
	}
	*cfg = file
	return nil
}

// loadFromEnv overrides selected values from environment variables.
func loadFromEnv(cfg *Config) error {
	strs := map[string]*string{
		"RAGFLOW_EMBEDDING_HOST":     &cfg.AI.EmbeddingHost,
		"RAGFLOW_GENERATION_HOST":    &cfg.AI.GenerationHost,
		"RAGFLOW_EMBEDDING_MODEL":    &cfg.AI.EmbeddingModel,
		"RAGFLOW_GENERATION_MODEL":   &cfg.AI.GenerationModel,
		"RAGFLOW_JUDGE_MODEL":        &cfg.AI.JudgeModel,
		"RAGFLOW_API_TOKEN":          &cfg.AI.APIToken,
		"RAGFLOW_STORAGE_PATH":       &cfg.Storage.Path,
		"RAGFLOW_SERVER_ADDR":        &cfg.Server.Addr,
		"RAGFLOW_SESSION_BUDGET_USD": &cfg.Cost.SessionBudgetUSD,
		"RAGFLOW_EVALUATOR":          &cfg.Evaluation.Evaluator,
		"RAGFLOW_TOKENIZER":          &cfg.Cost.Tokenizer,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("RAGFLOW_DAILY_TOKEN_BUDGET"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: RAGFLOW_DAILY_TOKEN_BUDGET: %v", ErrInvalidConfig, err)
		}
		cfg.Cost.DailyTokenBudget = n
	}
	if v, ok := os.LookupEnv("RAGFLOW_ESCALATE_ON_LOW_CONTEXT"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: RAGFLOW_ESCALATE_ON_LOW_CONTEXT: %v", ErrInvalidConfig, err)
		}
		cfg.Pipeline.EscalateOnLowContext = b
	}
	return nil
}
