package agent

import (
	"fmt"

	"github.com/browserflow/browserflow/pkg/task"
)

// Descriptor is one agent registry entry. The agent id doubles as the key
// into the static factory table; there is no dynamic class loading.
type Descriptor struct {
	AgentID             string                 `json:"agent_id"`
	SupportedTaskTypes  []task.Type            `json:"supported_task_types"`
	Capabilities        []string               `json:"capabilities,omitempty"`
	RequiredTools       []string               `json:"required_tools,omitempty"`
	RequiredToolServers []string               `json:"required_tool_servers,omitempty"`
	FallbackToolkits    []string               `json:"fallback_toolkits,omitempty"`
	UseFallbackProvider *bool                  `json:"use_fallback_provider,omitempty"`
	Description         string                 `json:"description,omitempty"`
	Config              map[string]interface{} `json:"config,omitempty"`
}

// UseFallback reports whether unsatisfied tools may be routed through the
// fallback gateway. Defaults to true when unset.
func (d *Descriptor) UseFallback() bool {
	if d.UseFallbackProvider == nil {
		return true
	}
	return *d.UseFallbackProvider
}

// Supports reports whether the descriptor handles the task type.
func (d *Descriptor) Supports(t task.Type) bool {
	for _, supported := range d.SupportedTaskTypes {
		if supported == t {
			return true
		}
	}
	return false
}

// HasCapabilities reports whether the descriptor carries every listed
// capability tag.
func (d *Descriptor) HasCapabilities(required []string) bool {
	tags := make(map[string]bool, len(d.Capabilities))
	for _, c := range d.Capabilities {
		tags[c] = true
	}
	for _, r := range required {
		if !tags[r] {
			return false
		}
	}
	return true
}

func (d *Descriptor) validate() error {
	if d.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if len(d.SupportedTaskTypes) == 0 {
		return fmt.Errorf("agent %q supports no task types", d.AgentID)
	}
	return nil
}
