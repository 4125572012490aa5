package config

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// ErrInvalidConfig is wrapped by every load and validation error.
var ErrInvalidConfig = errors.New("invalid config")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks the whole configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if !c.Storage.InMemory && c.Storage.Path == "" {
		add(invalid("storage.path is required unless storage.in_memory is set"))
	}

	p := c.Pipeline
	for name, d := range map[string]int64{
		"routing_timeout":    int64(p.RoutingTimeout),
		"retrieval_timeout":  int64(p.RetrievalTimeout),
		"generation_timeout": int64(p.GenerationTimeout),
		"compliance_timeout": int64(p.ComplianceTimeout),
		"run_timeout":        int64(p.RunTimeout),
		"retry_backoff":      int64(p.RetryBackoff),
	} {
		if d <= 0 {
			add(invalid("pipeline.%s must be positive", name))
		}
	}
	if p.Workers <= 0 {
		add(invalid("pipeline.workers must be positive"))
	}

	if c.Retrieval.TopK <= 0 {
		add(invalid("retrieval.top_k must be positive"))
	}
	if c.Retrieval.MinRelevance < 0 || c.Retrieval.MinRelevance > 1 {
		add(invalid("retrieval.min_relevance must be within [0,1]"))
	}

	g := c.Generation
	if g.MaxConcurrent <= 0 {
		add(invalid("generation.max_concurrent must be positive"))
	}
	if g.QueueSize <= 0 {
		add(invalid("generation.queue_size must be positive"))
	}
	if g.RequestsPerSecond < 0 {
		add(invalid("generation.requests_per_second must not be negative"))
	}

	add(c.Cost.validate())
	add(c.Compliance.validate())

	switch c.Evaluation.Evaluator {
	case "lexical", "judge":
	default:
		add(invalid("evaluation.evaluator must be lexical or judge, got %q", c.Evaluation.Evaluator))
	}
	if c.Evaluation.ReviewThreshold < 0 || c.Evaluation.ReviewThreshold > 1 {
		add(invalid("evaluation.review_threshold must be within [0,1]"))
	}

	add(c.Routing.validate(c.Cost.tierNames()))

	in := c.Ingestion
	if in.ChunkSize <= 0 {
		add(invalid("ingestion.chunk_size must be positive"))
	}
	if in.ChunkOverlap < 0 || in.ChunkOverlap >= in.ChunkSize {
		add(invalid("ingestion.chunk_overlap must be within [0, chunk_size)"))
	}

	return errors.Join(errs...)
}

func (c CostConfig) tierNames() map[string]bool {
	names := make(map[string]bool, len(c.Tiers))
	for _, t := range c.Tiers {
		names[t.Name] = true
	}
	return names
}

func (c CostConfig) validate() error {
	var errs []error
	if c.SessionBudgetUSD != "" {
		if d, err := decimal.NewFromString(c.SessionBudgetUSD); err != nil || d.IsNegative() {
			errs = append(errs, invalid("cost.session_budget_usd must be a non-negative decimal"))
		}
	}
	if c.Tokenizer != "tiktoken" && c.Tokenizer != "heuristic" {
		errs = append(errs, invalid("cost.tokenizer must be tiktoken or heuristic, got %q", c.Tokenizer))
	}
	if c.DailyTokenBudget < 0 {
		errs = append(errs, invalid("cost.daily_token_budget must not be negative"))
	}
	if len(c.Tiers) == 0 {
		errs = append(errs, invalid("cost.tiers must not be empty"))
	}
	seen := map[string]bool{}
	for _, t := range c.Tiers {
		if t.Name == "" || t.Model == "" {
			errs = append(errs, invalid("cost tier needs a name and a model"))
			continue
		}
		if seen[t.Name] {
			errs = append(errs, invalid("duplicate cost tier %q", t.Name))
		}
		seen[t.Name] = true
		for _, price := range []string{t.InputPer1K, t.OutputPer1K} {
			if d, err := decimal.NewFromString(price); err != nil || d.IsNegative() {
				errs = append(errs, invalid("cost tier %q has invalid price %q", t.Name, price))
			}
		}
	}
	return errors.Join(errs...)
}

func (c ComplianceConfig) validate() error {
	var errs []error
	for _, e := range c.Entities {
		if e.Name == "" {
			errs = append(errs, invalid("compliance entity needs a name"))
			continue
		}
		if e.Action != "redact" && e.Action != "block" {
			errs = append(errs, invalid("compliance entity %q action must be redact or block", e.Name))
		}
		if len(e.Patterns) == 0 && len(e.Terms) == 0 {
			errs = append(errs, invalid("compliance entity %q needs patterns or terms", e.Name))
		}
		for _, p := range e.Patterns {
			if _, err := regexp.Compile(p); err != nil {
				errs = append(errs, invalid("compliance entity %q: %v", e.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (c RoutingConfig) validate(tiers map[string]bool) error {
	var errs []error
	if c.Threshold < 0 || c.Threshold > 1 {
		errs = append(errs, invalid("routing.threshold must be within [0,1]"))
	}

	tools := make(map[string]bool, len(c.Tools))
	for _, t := range c.Tools {
		if t.Name == "" {
			errs = append(errs, invalid("routing tool needs a name"))
			continue
		}
		if tools[t.Name] {
			errs = append(errs, invalid("duplicate routing tool %q", t.Name))
		}
		tools[t.Name] = true
	}

	ids := map[string]bool{}
	generalists := 0
	for _, a := range c.Agents {
		if a.ID == "" {
			errs = append(errs, invalid("routing agent needs an id"))
			continue
		}
		if ids[a.ID] {
			errs = append(errs, invalid("duplicate routing agent %q", a.ID))
		}
		ids[a.ID] = true

		var agentTools []string
		switch a.Type {
		case AgentSpecialist:
			if a.Specialist == nil || a.Generalist != nil {
				errs = append(errs, invalid("agent %q of type specialist takes only specialist options", a.ID))
				continue
			}
			if len(a.Specialist.Domains) == 0 && len(a.Specialist.Keywords) == 0 {
				errs = append(errs, invalid("specialist agent %q needs domains or keywords", a.ID))
			}
			if a.Specialist.Tier != "" && !tiers[a.Specialist.Tier] {
				errs = append(errs, invalid("agent %q references unknown tier %q", a.ID, a.Specialist.Tier))
			}
			agentTools = a.Specialist.Tools
		case AgentGeneralist:
			if a.Generalist == nil || a.Specialist != nil {
				errs = append(errs, invalid("agent %q of type generalist takes only generalist options", a.ID))
				continue
			}
			generalists++
			agentTools = a.Generalist.Tools
		default:
			errs = append(errs, invalid("agent %q has unknown type %q", a.ID, a.Type))
			continue
		}
		for _, name := range agentTools {
			if !tools[name] {
				errs = append(errs, invalid("agent %q references unknown tool %q", a.ID, name))
			}
		}
	}
	if generalists != 1 {
		errs = append(errs, invalid("routing needs exactly one generalist agent, found %d", generalists))
	}
	return errors.Join(errs...)
}
