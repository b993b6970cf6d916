package orchestrator

import (
	"sync"
)

// Registry stores agent capabilities keyed by id.
//
// Agents are kept in first-registration order so callers that iterate
// candidates (and the optimizer's tie-break) see a stable order.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]AgentCapability
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]AgentCapability),
	}
}

// Register inserts or overwrites an agent. An overwritten agent keeps its
// original position.
func (r *Registry) Register(capability AgentCapability) error {
	_, err := r.register(capability)
	return err
}

// register reports whether the id was new.
func (r *Registry) register(capability AgentCapability) (bool, error) {
	if err := capability.Validate(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.agents[capability.ID]
	if !exists {
		r.order = append(r.order, capability.ID)
	}
	r.agents[capability.ID] = capability.clone()
	return !exists, nil
}

// Get returns the agent registered under id.
func (r *Registry) Get(id string) (AgentCapability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[id]
	if !ok {
		return AgentCapability{}, false
	}
	return a.clone(), true
}

// List returns every registered agent.
func (r *Registry) List() []AgentCapability {
	return r.Snapshot()
}

// ListByCategory returns the agents in category.
func (r *Registry) ListByCategory(category Category) []AgentCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []AgentCapability
	for _, id := range r.order {
		if a := r.agents[id]; a.Category == category {
			out = append(out, a.clone())
		}
	}
	return out
}

// Snapshot returns a consistent copy of the registry in registration order.
func (r *Registry) Snapshot() []AgentCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AgentCapability, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id].clone())
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
