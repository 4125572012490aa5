package routing

import (
	"fmt"
	"slices"
	"strings"
)

// AgentKind distinguishes domain specialists from the fallback agent.
type AgentKind string

const (
	KindSpecialist AgentKind = "specialist"
	KindGeneralist AgentKind = "generalist"
)

// Agent is a routable agent. Domains and Keywords only apply to
// specialists. An agent with a Collection retrieves only from it.
type Agent struct {
	ID           string
	Kind         AgentKind
	Domains      []string
	Keywords     []string
	Tools        []string
	SystemPrompt string
	Tier         string
	Collection   string
}

// Tool is a capability an agent may use. An empty Roles list allows every role.
type Tool struct {
	Name        string
	Description string
	Roles       []string
}

func (t Tool) allows(role string) bool {
	return len(t.Roles) == 0 || slices.Contains(t.Roles, role)
}

// Registry is the closed set of agents and tools known to the router.
type Registry struct {
	specialists []Agent
	generalist  Agent
	tools       map[string]Tool
}

// NewRegistry validates and indexes agents and tools. Specialists are kept
// sorted by ID and their keywords lowercased.
func NewRegistry(agents []Agent, tools []Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name] = t
	}

	seen := map[string]bool{}
	generalists := 0
	for _, a := range agents {
		if a.ID == "" {
			return nil, fmt.Errorf("%w: missing id", ErrInvalidAgent)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidAgent, a.ID)
		}
		seen[a.ID] = true

		for _, name := range a.Tools {
			if _, ok := r.tools[name]; !ok {
				return nil, fmt.Errorf("%w: agent %q uses %q", ErrUnknownTool, a.ID, name)
			}
		}

		switch a.Kind {
		case KindSpecialist:
			a.Domains = lowerAll(a.Domains)
			a.Keywords = lowerAll(a.Keywords)
			r.specialists = append(r.specialists, a)
		case KindGeneralist:
			generalists++
			r.generalist = a
		default:
			return nil, fmt.Errorf("%w: agent %q has kind %q", ErrInvalidAgent, a.ID, a.Kind)
		}
	}
	if generalists != 1 {
		return nil, ErrNoGeneralist
	}

	slices.SortFunc(r.specialists, func(a, b Agent) int {
		return strings.Compare(a.ID, b.ID)
	})
	return r, nil
}

// Generalist returns the fallback agent.
func (r *Registry) Generalist() Agent {
	return r.generalist
}

// Agent looks up an agent by ID.
func (r *Registry) Agent(id string) (Agent, bool) {
	if id == r.generalist.ID {
		return r.generalist, true
	}
	for _, a := range r.specialists {
		if a.ID == id {
			return a, true
		}
	}
	return Agent{}, false
}

// AllowedTools returns the agent's tools usable by role, sorted by name.
func (r *Registry) AllowedTools(agent Agent, role string) []string {
	allowed := make([]string, 0, len(agent.Tools))
	for _, name := range agent.Tools {
		if t, ok := r.tools[name]; ok && t.allows(role) {
			allowed = append(allowed, name)
		}
	}
	slices.Sort(allowed)
	return slices.Compact(allowed)
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}
