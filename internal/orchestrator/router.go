package orchestrator

import (
	"errors"

	"github.com/agents-liminals/liminal/internal/agents"
)

// AgentCatalog is the read side of the agent catalog.
type AgentCatalog interface {
	Resolve(name string) (agents.Agent, error)
	List() []agents.Agent
}

// Router resolves an agent name to a consultable agent.
type Router struct {
	catalog AgentCatalog
}

// NewRouter creates a new Router.
func NewRouter(catalog AgentCatalog) *Router {
	return &Router{catalog: catalog}
}

// Route returns the agent or a KindInvalidInput error naming why it
// cannot be consulted.
func (r *Router) Route(name string) (agents.Agent, error) {
	a, err := r.catalog.Resolve(name)
	switch {
	case err == nil:
		return a, nil
	case errors.Is(err, agents.ErrAgentInactive):
		return agents.Agent{}, invalidInput(ReasonAgentInactive, err)
	default:
		return agents.Agent{}, invalidInput(ReasonUnknownAgent, err)
	}
}

// Agents lists the catalog.
func (r *Router) Agents() []agents.Agent {
	return r.catalog.List()
}
