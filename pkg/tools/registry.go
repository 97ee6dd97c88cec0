package tools

import (
	"fmt"
	"strings"

	"github.com/browserflow/browserflow/pkg/llms"
	"github.com/browserflow/browserflow/pkg/registry"
)

// QualifiedPrefix prefixes fully qualified tool names: svc.<server>.<tool>.
const QualifiedPrefix = "svc."

// QualifiedName builds the fully qualified name for a tool on a server.
func QualifiedName(server, tool string) string {
	return QualifiedPrefix + server + "." + tool
}

// ParseQualifiedName splits a qualified tool name into server and tool.
// Accepts "svc.<server>.<tool>", "<server>.<tool>", and the double
// underscore wire form "<server>__<tool>".
func ParseQualifiedName(name string) (server, tool string, ok bool) {
	name = strings.TrimPrefix(name, QualifiedPrefix)

	if idx := strings.Index(name, "__"); idx > 0 && idx+2 < len(name) {
		return name[:idx], name[idx+2:], true
	}
	if idx := strings.Index(name, "."); idx > 0 && idx+1 < len(name) {
		return name[:idx], name[idx+1:], true
	}
	return "", "", false
}

// RegistryError is a structured error for tool registry operations.
type RegistryError struct {
	Component string
	Action    string
	Message   string
	Err       error
}

func (e *RegistryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Component, e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Component, e.Action, e.Message)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

func newRegistryError(component, action, message string, err error) *RegistryError {
	return &RegistryError{Component: component, Action: action, Message: message, Err: err}
}

// Registry holds the long-lived built-in tool servers. Agent executions get
// read-only views; per-request servers (the fallback session) are composed
// on top, never registered here.
type Registry struct {
	servers *registry.BaseRegistry[llms.ToolServer]
}

func NewRegistry() *Registry {
	return &Registry{servers: registry.NewBaseRegistry[llms.ToolServer]()}
}

func (r *Registry) RegisterServer(server llms.ToolServer) error {
	if server == nil {
		return newRegistryError("ToolRegistry", "RegisterServer", "server cannot be nil", nil)
	}
	if err := r.servers.Register(server.Name(), server); err != nil {
		return newRegistryError("ToolRegistry", "RegisterServer",
			fmt.Sprintf("failed to register server %q", server.Name()), err)
	}
	return nil
}

func (r *Registry) Server(name string) (llms.ToolServer, bool) {
	return r.servers.Get(name)
}

func (r *Registry) ServerNames() []string {
	return r.servers.Names()
}
