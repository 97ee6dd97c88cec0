package llms

import "context"

// Message roles follow the chat-completions convention.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of a chat exchange.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a backend request to invoke a named tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// ToolDef describes a tool offered to the backend. Parameters is a JSON
// schema object.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Usage reports backend token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is one backend generation.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	Usage      *Usage
	StopReason string
}

// Provider is a chat-completion backend.
type Provider interface {
	Generate(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error)
	ModelName() string
	Close() error
}

// ToolServer exposes named tools that the reasoner can dispatch to during a
// tool dialogue.
type ToolServer interface {
	Name() string
	Tools(ctx context.Context) ([]ToolDef, error)
	Call(ctx context.Context, tool string, args map[string]interface{}) (string, error)
}
