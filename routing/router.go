// Package routing selects the agent and tool set for a query.
//
// Routing is deterministic: each specialist is scored from the declared
// query domain and keyword hits in the query and recent history, the best
// score wins with ties broken by agent ID, and scores below the threshold
// fall back to the generalist.
package routing

import (
	"context"
	"log/slog"

	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/textutil"
)

const (
	// DefaultThreshold is the minimum specialist score.
	DefaultThreshold = 0.5

	// DefaultHistoryTurns is how many recent turns contribute keyword hits.
	DefaultHistoryTurns = 4

	domainWeight  = 0.5
	keywordWeight = 0.5
	// keyword hits needed for the full keyword weight
	keywordSaturation = 2.0
	historyHitWeight  = 0.5
)

// Decision is the outcome of routing one query.
type Decision struct {
	Agent    Agent
	Score    float64
	Tools    []string
	Fallback bool
}

// Router scores agents for queries.
type Router struct {
	registry     *Registry
	threshold    float64
	historyTurns int
	logger       *slog.Logger
}

// Option configures a Router.
type Option func(*Router) error

// WithThreshold sets the minimum specialist score.
func WithThreshold(threshold float64) Option {
	return func(r *Router) error {
		r.threshold = threshold
		return nil
	}
}

// WithHistoryTurns sets how many recent history turns are considered.
func WithHistoryTurns(n int) Option {
	return func(r *Router) error {
		r.historyTurns = n
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewRouter creates a router over registry.
func NewRouter(registry *Registry, opts ...Option) (*Router, error) {
	if registry == nil {
		return nil, ErrRegistryRequired
	}
	r := &Router{
		registry:     registry,
		threshold:    DefaultThreshold,
		historyTurns: DefaultHistoryTurns,
		logger:       slog.Default().With("component", "router"),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Route picks an agent for q given the session history.
func (r *Router) Route(ctx context.Context, q core.Query, history []core.Turn) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	recent := history
	if r.historyTurns >= 0 && len(recent) > r.historyTurns {
		recent = recent[len(recent)-r.historyTurns:]
	}

	best := Decision{Score: -1}
	for _, agent := range r.registry.specialists {
		score := r.score(agent, q, recent)
		// specialists are sorted by ID, so strict > keeps the lowest ID on ties
		if score > best.Score {
			best = Decision{Agent: agent, Score: score}
		}
	}

	if best.Score < r.threshold || best.Score <= 0 {
		r.logger.Debug("no specialist above threshold", "best", best.Agent.ID, "score", best.Score)
		return r.Fallback(q.Context.Role), nil
	}

	best.Tools = r.registry.AllowedTools(best.Agent, q.Context.Role)
	r.logger.Debug("routed query", "agent", best.Agent.ID, "score", best.Score)
	return best, nil
}

// Fallback returns the generalist decision used on low scores and routing failures.
func (r *Router) Fallback(role string) Decision {
	g := r.registry.Generalist()
	return Decision{
		Agent:    g,
		Tools:    r.registry.AllowedTools(g, role),
		Fallback: true,
	}
}

// Registry returns the router's agent registry.
func (r *Router) Registry() *Registry {
	return r.registry
}

func (r *Router) score(agent Agent, q core.Query, history []core.Turn) float64 {
	var score float64

	if domain := textutil.Normalize(q.Context.Domain); domain != "" {
		for _, d := range agent.Domains {
			if d == domain {
				score += domainWeight
				break
			}
		}
	}

	var hits float64
	for _, kw := range agent.Keywords {
		if textutil.ContainsPhrase(q.Text, kw) {
			hits++
			continue
		}
		for _, turn := range history {
			if textutil.ContainsPhrase(turn.Text, kw) {
				hits += historyHitWeight
				break
			}
		}
	}
	score += keywordWeight * min(1, hits/keywordSaturation)
	return score
}
