package ragflow

import (
	"fmt"

	"github.com/poiesic/ragflow/ai"
	"github.com/poiesic/ragflow/compliance"
	"github.com/poiesic/ragflow/config"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/cost"
	"github.com/poiesic/ragflow/generation"
	"github.com/poiesic/ragflow/routing"
	"github.com/shopspring/decimal"
)

func buildTiers(c config.CostConfig) ([]cost.Tier, error) {
	tiers := make([]cost.Tier, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		tier, err := cost.ParseTier(t.Name, t.Model, t.InputPer1K, t.OutputPer1K)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}

func buildBudget(c config.CostConfig) (cost.Budget, error) {
	budget := cost.Budget{DailyTokens: c.DailyTokenBudget}
	if c.SessionBudgetUSD == "" {
		return budget, nil
	}
	usd, err := decimal.NewFromString(c.SessionBudgetUSD)
	if err != nil {
		return cost.Budget{}, fmt.Errorf("session budget %q: %w", c.SessionBudgetUSD, err)
	}
	budget.SessionUSD = usd
	return budget, nil
}

func buildRouter(c config.RoutingConfig) (*routing.Router, error) {
	agents := make([]routing.Agent, 0, len(c.Agents))
	for _, a := range c.Agents {
		agent := routing.Agent{ID: a.ID}
		switch a.Type {
		case config.AgentSpecialist:
			agent.Kind = routing.KindSpecialist
			if s := a.Specialist; s != nil {
				agent.Domains = s.Domains
				agent.Keywords = s.Keywords
				agent.Tools = s.Tools
				agent.SystemPrompt = s.SystemPrompt
				agent.Tier = s.Tier
				agent.Collection = s.Collection
			}
		case config.AgentGeneralist:
			agent.Kind = routing.KindGeneralist
			if g := a.Generalist; g != nil {
				agent.Tools = g.Tools
				agent.SystemPrompt = g.SystemPrompt
			}
		default:
			return nil, fmt.Errorf("%w: agent %s has unknown type %q", routing.ErrInvalidAgent, a.ID, a.Type)
		}
		agents = append(agents, agent)
	}

	tools := make([]routing.Tool, 0, len(c.Tools))
	for _, t := range c.Tools {
		tools = append(tools, routing.Tool{Name: t.Name, Description: t.Description, Roles: t.Roles})
	}

	registry, err := routing.NewRegistry(agents, tools)
	if err != nil {
		return nil, err
	}
	return routing.NewRouter(registry,
		routing.WithThreshold(c.Threshold),
		routing.WithHistoryTurns(c.HistoryTurns),
	)
}

func buildGenerator(c config.GenerationConfig, gen ai.Generator, counter cost.TokenCounter) (*generation.Stage, error) {
	return generation.NewStage(gen,
		generation.WithMaxConcurrent(c.MaxConcurrent),
		generation.WithRateLimit(c.RequestsPerSecond, c.Burst),
		generation.WithQueueSize(c.QueueSize),
		generation.WithTokenCounter(counter),
	)
}

func buildGate(c config.ComplianceConfig) (*compliance.Gate, error) {
	overrides := make([]compliance.Entity, 0, len(c.Entities))
	for _, ec := range c.Entities {
		severity := ec.Severity
		if severity == "" {
			severity = compliance.SeverityMedium
		}
		entity, err := compliance.NewEntity(ec.Name, ec.Patterns, ec.Terms, core.ComplianceAction(ec.Action), severity)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, entity)
	}
	return compliance.NewGate(compliance.MergeEntities(compliance.DefaultEntities(), overrides, c.Disabled))
}
