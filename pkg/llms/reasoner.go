package llms

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/browserflow/browserflow/pkg/logger"
)

// Reasoner drives a chat backend, optionally through a multi-turn tool
// dialogue. Backend and tool failures are returned as data in the Result,
// never as an error.
type Reasoner struct {
	provider Provider
	sink     PromptSink
	logger   *slog.Logger
	maxTurns int
}

type ReasonerOption func(*Reasoner)

func WithSink(sink PromptSink) ReasonerOption {
	return func(r *Reasoner) { r.sink = sink }
}

func WithMaxToolTurns(n int) ReasonerOption {
	return func(r *Reasoner) {
		if n > 0 {
			r.maxTurns = n
		}
	}
}

func WithLogger(l *slog.Logger) ReasonerOption {
	return func(r *Reasoner) { r.logger = l }
}

func NewReasoner(provider Provider, opts ...ReasonerOption) *Reasoner {
	r := &Reasoner{
		provider: provider,
		sink:     NopSink{},
		logger:   logger.GetLogger(),
		maxTurns: 8,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Request is one reasoning call.
type Request struct {
	Prompt  string
	System  string
	Context map[string]interface{}
	Servers map[string]ToolServer
	Allowed []string
	Caller  string
}

// Result is the outcome of one reasoning call. A non-empty Err means the
// backend or dialogue failed; Text may still carry partial output.
type Result struct {
	Text         string
	Err          string
	StopReason   string
	Usage        *Usage
	ParseWarning bool
	Metadata     map[string]interface{}
}

// Failed reports whether the call produced an error.
func (r Result) Failed() bool {
	return r.Err != ""
}

// WireToolName flattens a server-qualified tool name for the chat wire,
// which does not allow dots.
func WireToolName(server, tool string) string {
	return server + "__" + tool
}

func splitWireName(name string) (server, tool string, ok bool) {
	parts := strings.SplitN(name, "__", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Reason runs one reasoning call. With tool servers present the backend may
// request tool invocations, which are dispatched and fed back until it
// produces a terminal answer or the turn budget runs out.
func (r *Reasoner) Reason(ctx context.Context, req Request) Result {
	return r.reason(ctx, req, "reason")
}

// ReasonJSON runs a reasoning call and parses the first balanced {...} in
// the answer. On parse failure the raw text is returned with ParseWarning
// set; JSON is never fabricated.
func (r *Reasoner) ReasonJSON(ctx context.Context, req Request) (map[string]interface{}, Result) {
	result := r.reason(ctx, req, "reason_json")
	if result.Failed() {
		return nil, result
	}

	obj, err := FirstJSONObject(result.Text)
	if err != nil {
		r.logger.Warn("reasoner output was not parseable JSON",
			"caller", req.Caller, "error", err)
		result.ParseWarning = true
		return nil, result
	}
	return obj, result
}

func (r *Reasoner) reason(ctx context.Context, req Request, method string) Result {
	caller := req.Caller
	if caller == "" {
		caller = "reasoner"
	}

	prompt := req.Prompt
	if len(req.Context) > 0 {
		prompt += renderContext(req.Context)
	}

	if req.System != "" {
		r.sink.Emit(fmt.Sprintf("%s_%s_system", caller, method), req.System,
			map[string]interface{}{"caller": caller, "kind": "system"})
	}
	r.sink.Emit(fmt.Sprintf("%s_%s_prompt", caller, method), prompt,
		map[string]interface{}{"caller": caller, "kind": "prompt"})

	messages := make([]Message, 0, 2)
	if req.System != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: req.System})
	}
	messages = append(messages, Message{Role: RoleUser, Content: prompt})

	tools, dispatch, err := r.collectTools(ctx, req)
	if err != nil {
		return Result{Err: err.Error(), Metadata: r.metadata("", nil)}
	}

	var lastText string
	var lastUsage *Usage
	for turn := 0; turn < r.maxTurns; turn++ {
		resp, err := r.provider.Generate(ctx, messages, tools)
		if err != nil {
			return Result{Err: err.Error(), Text: lastText, Metadata: r.metadata("", lastUsage)}
		}
		lastText = resp.Text
		lastUsage = mergeUsage(lastUsage, resp.Usage)

		if len(resp.ToolCalls) == 0 {
			return Result{
				Text:       resp.Text,
				StopReason: resp.StopReason,
				Usage:      lastUsage,
				Metadata:   r.metadata(resp.StopReason, lastUsage),
			}
		}

		messages = append(messages, Message{
			Role:      RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			output := r.dispatchCall(ctx, dispatch, call)
			messages = append(messages, Message{
				Role:       RoleTool,
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}

	return Result{
		Text:       lastText,
		StopReason: "max_tool_turns",
		Usage:      lastUsage,
		Metadata:   r.metadata("max_tool_turns", lastUsage),
	}
}

type toolDispatch struct {
	server ToolServer
	tool   string
}

func (r *Reasoner) collectTools(ctx context.Context, req Request) ([]ToolDef, map[string]toolDispatch, error) {
	if len(req.Servers) == 0 {
		return nil, nil, nil
	}

	allowed := make(map[string]bool, len(req.Allowed))
	for _, name := range req.Allowed {
		allowed[name] = true
	}

	// Stable server order keeps the tool list deterministic.
	names := make([]string, 0, len(req.Servers))
	for name := range req.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	var defs []ToolDef
	dispatch := make(map[string]toolDispatch)
	for _, serverName := range names {
		server := req.Servers[serverName]
		serverTools, err := server.Tools(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list tools on server %s: %w", serverName, err)
		}
		for _, def := range serverTools {
			wire := WireToolName(serverName, def.Name)
			if len(allowed) > 0 && !allowed[wire] && !allowed[def.Name] {
				continue
			}
			dispatch[wire] = toolDispatch{server: server, tool: def.Name}
			def.Name = wire
			defs = append(defs, def)
		}
	}
	return defs, dispatch, nil
}

func (r *Reasoner) dispatchCall(ctx context.Context, dispatch map[string]toolDispatch, call ToolCall) string {
	target, ok := dispatch[call.Name]
	if !ok {
		if server, tool, split := splitWireName(call.Name); split {
			// The model sometimes re-qualifies names; retry with the bare pair.
			if t, found := dispatch[WireToolName(server, tool)]; found {
				target, ok = t, true
			}
		}
	}
	if !ok {
		r.logger.Warn("backend requested unknown tool", "tool", call.Name)
		return fmt.Sprintf("error: unknown tool %q", call.Name)
	}

	output, err := target.server.Call(ctx, target.tool, call.Arguments)
	if err != nil {
		r.logger.Warn("tool call failed", "tool", call.Name, "error", err)
		return fmt.Sprintf("error: %v", err)
	}
	return output
}

func (r *Reasoner) metadata(stopReason string, usage *Usage) map[string]interface{} {
	md := map[string]interface{}{"model": r.provider.ModelName()}
	if stopReason != "" {
		md["stop_reason"] = stopReason
	}
	if usage != nil {
		md["usage"] = map[string]interface{}{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.TotalTokens,
		}
	}
	return md
}

func mergeUsage(acc, next *Usage) *Usage {
	if next == nil {
		return acc
	}
	if acc == nil {
		u := *next
		return &u
	}
	return &Usage{
		PromptTokens:     acc.PromptTokens + next.PromptTokens,
		CompletionTokens: acc.CompletionTokens + next.CompletionTokens,
		TotalTokens:      acc.TotalTokens + next.TotalTokens,
	}
}

func renderContext(ctx map[string]interface{}) string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("\n\nContext:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", k, ctx[k])
	}
	return b.String()
}
