package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/browserflow/browserflow/pkg/logger"
	"github.com/browserflow/browserflow/pkg/task"
)

// Factory builds one agent instance from its descriptor config.
type Factory func(config map[string]interface{}) (Agent, error)

// registryFile is the on-disk shape: {"agents": {agent_id: descriptor}}.
type registryFile struct {
	Agents map[string]*Descriptor `json:"agents"`
}

// Registry maps task types to agent descriptors and their factories.
// Descriptors come from a JSON file loaded at startup; factories are a
// compile-time table. Factory resolution is deferred to first use and
// cached; a descriptor with no factory is logged and skipped, never fatal.
type Registry struct {
	mu          sync.RWMutex
	order       []string
	descriptors map[string]*Descriptor
	factories   map[string]Factory
	resolved    map[string]Factory
	logger      *slog.Logger
}

func NewRegistry(factories map[string]Factory) *Registry {
	if factories == nil {
		factories = BuiltinFactories()
	}
	return &Registry{
		descriptors: make(map[string]*Descriptor),
		factories:   factories,
		resolved:    make(map[string]Factory),
		logger:      logger.GetLogger(),
	}
}

// LoadFile reads the registry JSON file and registers every valid entry.
// Invalid entries are logged and skipped.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read agent registry file: %w", err)
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse agent registry file: %w", err)
	}

	// Map iteration order is random; sort ids for deterministic lookup.
	ids := make([]string, 0, len(file.Agents))
	for id := range file.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		desc := file.Agents[id]
		if desc == nil {
			r.logger.Warn("skipping null agent descriptor", "agent_id", id)
			continue
		}
		if desc.AgentID == "" {
			desc.AgentID = id
		}
		if err := r.Register(desc); err != nil {
			r.logger.Warn("skipping invalid agent descriptor", "agent_id", id, "error", err)
		}
	}

	r.logger.Info("agent registry loaded", "path", path, "agents", r.Count())
	return nil
}

// Register adds one descriptor. Duplicate ids are an error.
func (r *Registry) Register(desc *Descriptor) error {
	if err := desc.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[desc.AgentID]; exists {
		return fmt.Errorf("agent %q is already registered", desc.AgentID)
	}
	r.descriptors[desc.AgentID] = desc
	r.order = append(r.order, desc.AgentID)
	return nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

// Get returns the descriptor for an agent id.
func (r *Registry) Get(agentID string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.descriptors[agentID]
	return desc, ok
}

// LookupByTaskType returns the first registered descriptor supporting the
// task type together with its resolved factory. Descriptors whose factory
// cannot be resolved are skipped.
func (r *Registry) LookupByTaskType(t task.Type) (*Descriptor, Factory, error) {
	r.mu.RLock()
	order := append([]string(nil), r.order...)
	r.mu.RUnlock()

	for _, id := range order {
		desc, ok := r.Get(id)
		if !ok || !desc.Supports(t) {
			continue
		}
		factory, err := r.resolveFactory(id)
		if err != nil {
			r.logger.Warn("agent factory unresolvable, skipping",
				"agent_id", id, "task_type", t, "error", err)
			continue
		}
		return desc, factory, nil
	}
	return nil, nil, fmt.Errorf("no agent registered for task type %s", t)
}

// DiscoverParams filters descriptors by capability and task-type sets.
type DiscoverParams struct {
	Capabilities []string
	TaskTypes    []task.Type
}

// Discover returns every descriptor matching the requirements, in
// registration order.
func (r *Registry) Discover(params DiscoverParams) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Descriptor
	for _, id := range r.order {
		desc := r.descriptors[id]
		if !desc.HasCapabilities(params.Capabilities) {
			continue
		}
		match := len(params.TaskTypes) == 0
		for _, t := range params.TaskTypes {
			if desc.Supports(t) {
				match = true
				break
			}
		}
		if match {
			out = append(out, desc)
		}
	}
	return out
}

func (r *Registry) resolveFactory(agentID string) (Factory, error) {
	r.mu.RLock()
	factory, cached := r.resolved[agentID]
	r.mu.RUnlock()
	if cached {
		return factory, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if factory, cached = r.resolved[agentID]; cached {
		return factory, nil
	}
	factory, ok := r.factories[agentID]
	if !ok {
		return nil, fmt.Errorf("no factory for agent %q", agentID)
	}
	r.resolved[agentID] = factory
	return factory, nil
}
