package agent

import (
	"fmt"
	"strings"
)

// PromptManager holds an agent's system prompt and its named templates.
// Templates use {name} placeholders.
type PromptManager struct {
	system    string
	templates map[string]string
}

func NewPromptManager(system string) *PromptManager {
	return &PromptManager{
		system:    system,
		templates: make(map[string]string),
	}
}

func (m *PromptManager) System() string {
	return m.system
}

func (m *PromptManager) AddTemplate(name, template string) {
	m.templates[name] = template
}

// Render fills a named template. Unknown templates and unfilled
// placeholders are errors; templates never render partially.
func (m *PromptManager) Render(name string, vars map[string]string) (string, error) {
	template, ok := m.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", name)
	}

	out := template
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{"+key+"}", value)
	}

	if start := strings.Index(out, "{"); start >= 0 {
		if end := strings.Index(out[start:], "}"); end > 0 {
			return "", fmt.Errorf("template %q has unfilled placeholder %s",
				name, out[start:start+end+1])
		}
	}
	return out, nil
}
