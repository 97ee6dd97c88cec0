// Package agent defines the agent execution contract and the built-in
// specialised agents, plus the registry and spawner that produce isolated
// agent instances per orchestration.
package agent

import (
	"context"

	"github.com/browserflow/browserflow/pkg/task"
	"github.com/browserflow/browserflow/pkg/tools"
)

// Agent is the uniform execution contract. Execute never panics and never
// returns a Go error for domain failures; those are carried in the Result.
type Agent interface {
	Name() string
	Execute(ctx context.Context, input map[string]interface{}, execCtx *Context) *Result
}

// Result is the outcome of one agent execution.
type Result struct {
	Status           task.Status            `json:"status"`
	Result           map[string]interface{} `json:"result,omitempty"`
	FilePath         string                 `json:"file_path,omitempty"`
	Rows             []map[string]interface{} `json:"rows,omitempty"`
	ValidationErrors []string               `json:"validation_errors,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	Error            string                 `json:"error,omitempty"`
}

// Failed builds a failed result with the given message.
func Failed(message string) *Result {
	return &Result{Status: task.StatusFailed, Error: message}
}

// Completed builds a completed result with the given payload.
func Completed(payload map[string]interface{}) *Result {
	return &Result{Status: task.StatusCompleted, Result: payload}
}

// Failed reports whether the execution did not complete.
func (r *Result) Failed() bool {
	return r.Status == task.StatusFailed
}

// Capability interfaces. The spawner inspects which of these an agent
// implements and injects only the declared services.

// NeedsWriter is implemented by agents that write spreadsheet files.
type NeedsWriter interface {
	SetWriter(writer *tools.ExcelWriter)
}

// NeedsNotes is implemented by agents that talk to the notes service.
type NeedsNotes interface {
	SetNotes(client *tools.NotesClient)
}

// NeedsSurface is implemented by agents that drive tools through the
// reasoner and want the composed tool surface.
type NeedsSurface interface {
	SetSurface(surface *tools.Surface)
}
