package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/browserflow/browserflow/pkg/llms"
	"github.com/browserflow/browserflow/pkg/logger"
	"github.com/browserflow/browserflow/pkg/store"
	"github.com/browserflow/browserflow/pkg/tools"
)

// Core bundles the per-execution services every agent instance receives.
type Core struct {
	Reasoner  *llms.Reasoner
	Prompts   *PromptManager
	Evaluator *Evaluator
	Surface   *tools.Surface
	Contexts  *store.ContextStore
}

// coreBinder is implemented by BaseAgent; the spawner uses it to wire the
// per-execution core into any agent that embeds the base.
type coreBinder interface {
	bindCore(core Core)
}

// BaseAgent provides the shared agent machinery: tagged reasoning, direct
// tool dispatch, structural evaluation, and knowledge retrieval. Specialised
// agents embed it.
type BaseAgent struct {
	name   string
	core   Core
	logger *slog.Logger
}

func NewBaseAgent(name string) BaseAgent {
	return BaseAgent{name: name, logger: logger.GetLogger()}
}

func (a *BaseAgent) Name() string {
	return a.name
}

func (a *BaseAgent) bindCore(core Core) {
	// A prompt manager set by the agent's own constructor wins.
	if core.Prompts == nil {
		core.Prompts = a.core.Prompts
	}
	a.core = core
}

// SetPrompts installs the agent's prompt manager. Constructors call this
// before the spawner binds the execution core.
func (a *BaseAgent) SetPrompts(prompts *PromptManager) {
	a.core.Prompts = prompts
}

// Prompts returns the agent's prompt manager.
func (a *BaseAgent) Prompts() *PromptManager {
	return a.core.Prompts
}

// Reason runs a single-shot reasoning call without tools, tagged with the
// agent's name.
func (a *BaseAgent) Reason(ctx context.Context, prompt string, extra map[string]interface{}) llms.Result {
	return a.core.Reasoner.Reason(ctx, llms.Request{
		Prompt:  prompt,
		System:  a.systemPrompt(),
		Context: extra,
		Caller:  a.name,
	})
}

// ReasonWithTools runs a reasoning call with the composed tool surface
// attached, letting the backend drive tool calls.
func (a *BaseAgent) ReasonWithTools(ctx context.Context, prompt string, extra map[string]interface{}) llms.Result {
	req := llms.Request{
		Prompt:  prompt,
		System:  a.systemPrompt(),
		Context: extra,
		Caller:  a.name,
	}
	if a.core.Surface != nil {
		req.Servers = a.core.Surface.Servers
		req.Allowed = a.core.Surface.Allowed
	}
	return a.core.Reasoner.Reason(ctx, req)
}

// ReasonJSON runs a single-shot call and parses the first balanced JSON
// object from the answer.
func (a *BaseAgent) ReasonJSON(ctx context.Context, prompt string, extra map[string]interface{}) (map[string]interface{}, llms.Result) {
	return a.core.Reasoner.ReasonJSON(ctx, llms.Request{
		Prompt:  prompt,
		System:  a.systemPrompt(),
		Context: extra,
		Caller:  a.name,
	})
}

func (a *BaseAgent) systemPrompt() string {
	if a.core.Prompts == nil {
		return ""
	}
	return a.core.Prompts.System()
}

// UseTool dispatches one qualified tool name (svc.<server>.<tool>) directly
// against the composed surface, bypassing the reasoner.
func (a *BaseAgent) UseTool(ctx context.Context, qualified string, args map[string]interface{}) (string, error) {
	server, tool, ok := tools.ParseQualifiedName(qualified)
	if !ok {
		return "", fmt.Errorf("invalid tool name %q", qualified)
	}
	if a.core.Surface == nil {
		return "", fmt.Errorf("no tool surface composed for agent %s", a.name)
	}
	handle, ok := a.core.Surface.Servers[server]
	if !ok {
		return "", fmt.Errorf("server %q is not on the tool surface", server)
	}
	return handle.Call(ctx, tool, args)
}

// Evaluate validates a result map against an expectation.
func (a *BaseAgent) Evaluate(result map[string]interface{}, exp *Expectation) Evaluation {
	if a.core.Evaluator == nil {
		return Evaluation{Score: 1.0}
	}
	return a.core.Evaluator.Evaluate(result, exp)
}

// RetrieveKnowledge returns the user's most similar stored contexts.
func (a *BaseAgent) RetrieveKnowledge(ctx context.Context, userID, query string, k int) ([]store.ScoredContext, error) {
	if a.core.Contexts == nil {
		return nil, fmt.Errorf("context store is not available to agent %s", a.name)
	}
	return a.core.Contexts.SearchText(ctx, userID, query, k)
}
