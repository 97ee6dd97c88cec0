package config

import "fmt"

// OrchestratorConfig configures the orchestration pipeline.
type OrchestratorConfig struct {
	// RegistryPath is the JSON agent-registry file read at startup.
	RegistryPath string `yaml:"registry_path"`

	// DefaultTaskType is the safe fallback when classification is uncertain
	// or the reasoner names an unknown type.
	DefaultTaskType string `yaml:"default_task_type"`

	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// RequestTimeout bounds one orchestration end to end, in seconds.
	RequestTimeout int `yaml:"request_timeout"`
}

func (c *OrchestratorConfig) SetDefaults() {
	if c.RegistryPath == "" {
		c.RegistryPath = "./agents.json"
	}
	if c.DefaultTaskType == "" {
		c.DefaultTaskType = "ADD_TO_KNOWLEDGE_BASE"
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.5
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 180
	}
}

func (c *OrchestratorConfig) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0, 1], got %f", c.ConfidenceThreshold)
	}
	if c.RequestTimeout < 1 {
		return fmt.Errorf("request_timeout must be positive")
	}
	return nil
}
