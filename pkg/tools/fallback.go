package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/browserflow/browserflow/pkg/config"
	"github.com/browserflow/browserflow/pkg/llms"
	"github.com/browserflow/browserflow/pkg/logger"
)

// FallbackServerName is the server name every fallback session registers
// under, regardless of which toolkits back it.
const FallbackServerName = "fallback"

const protocolVersion = "2024-11-05"

// toolkitByServer maps a built-in server name to the gateway toolkits that
// cover the same capability when the built-in tool is unavailable.
var toolkitByServer = map[string][]string{
	"notes":  {"notes"},
	"board":  {"board"},
	"sheets": {"sheets"},
	"writer": {"sheets"},
}

// ToolkitsForMissing derives the gateway toolkits needed to cover the given
// unsatisfied tool names. Names may be qualified ("svc.notes.create_page"),
// wire-form ("notes__create_page"), or gateway-prefixed
// ("mcp__notes__create_page"). Unrecognised servers map to the general
// "fallback" toolkit.
func ToolkitsForMissing(missing []string) []string {
	seen := make(map[string]bool)
	var toolkits []string

	add := func(kit string) {
		if !seen[kit] {
			seen[kit] = true
			toolkits = append(toolkits, kit)
		}
	}

	for _, name := range missing {
		name = strings.TrimPrefix(name, "mcp__")
		server, _, ok := ParseQualifiedName(name)
		if !ok {
			add(FallbackServerName)
			continue
		}
		kits, found := toolkitByServer[server]
		if !found {
			add(FallbackServerName)
			continue
		}
		for _, kit := range kits {
			add(kit)
		}
	}

	sort.Strings(toolkits)
	return toolkits
}

// FallbackProvider manages MCP sessions against the external tool gateway.
// Sessions are keyed by user and toolkit set and reused across requests.
type FallbackProvider struct {
	cfg    *config.FallbackConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*FallbackServer
}

func NewFallbackProvider(cfg *config.FallbackConfig) (*FallbackProvider, error) {
	if cfg.Enabled && cfg.APIKey == "" {
		return nil, fmt.Errorf("fallback gateway API key is required")
	}
	return &FallbackProvider{
		cfg:      cfg,
		logger:   logger.GetLogger(),
		sessions: make(map[string]*FallbackServer),
	}, nil
}

// Enabled reports whether the gateway is configured for use.
func (p *FallbackProvider) Enabled() bool {
	return p.cfg.Enabled
}

// Session returns a connected tool server scoped to the user and toolkits,
// reusing an existing session when one is already live.
func (p *FallbackProvider) Session(ctx context.Context, userID string, toolkits []string) (*FallbackServer, error) {
	if !p.cfg.Enabled {
		return nil, fmt.Errorf("fallback gateway is disabled")
	}
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if len(toolkits) == 0 {
		toolkits = []string{FallbackServerName}
	}

	sorted := append([]string(nil), toolkits...)
	sort.Strings(sorted)
	key := userID + "|" + strings.Join(sorted, ",")

	p.mu.Lock()
	defer p.mu.Unlock()

	if session, ok := p.sessions[key]; ok {
		return session, nil
	}

	session, err := p.connect(ctx, userID, sorted)
	if err != nil {
		return nil, err
	}
	p.sessions[key] = session
	return session, nil
}

func (p *FallbackProvider) connect(ctx context.Context, userID string, toolkits []string) (*FallbackServer, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + p.cfg.APIKey,
		"X-User-Id":     userID,
		"X-Toolkits":    strings.Join(toolkits, ","),
	}

	mcpClient, err := client.NewStreamableHttpClient(p.cfg.BaseURL,
		transport.WithHTTPHeaders(headers))
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start gateway client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "browserflow",
		Version: "1.0.0",
	}
	initReq.Params.ProtocolVersion = protocolVersion

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("failed to initialize gateway session: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("failed to list gateway tools: %w", err)
	}

	tools := make([]llms.ToolDef, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		tools = append(tools, llms.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaToMap(t.InputSchema),
		})
	}

	p.logger.Info("fallback gateway session established",
		"user_id", userID, "toolkits", toolkits, "tools", len(tools))

	return &FallbackServer{client: mcpClient, tools: tools}, nil
}

// Close shuts down every live gateway session.
func (p *FallbackProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for key, session := range p.sessions {
		if err := session.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.sessions, key)
	}
	return firstErr
}

// FallbackServer is one gateway session exposed as a tool server.
type FallbackServer struct {
	client *client.Client
	tools  []llms.ToolDef
}

func (s *FallbackServer) Name() string {
	return FallbackServerName
}

func (s *FallbackServer) Tools(ctx context.Context) ([]llms.ToolDef, error) {
	return s.tools, nil
}

func (s *FallbackServer) Call(ctx context.Context, tool string, args map[string]interface{}) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	resp, err := s.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("gateway tool call failed: %w", err)
	}

	texts := contentTexts(resp.Content)
	if resp.IsError {
		if len(texts) > 0 {
			return "", fmt.Errorf("gateway tool %q failed: %s", tool, texts[0])
		}
		return "", fmt.Errorf("gateway tool %q failed", tool)
	}
	return strings.Join(texts, "\n"), nil
}

func contentTexts(content []mcp.Content) []string {
	var texts []string
	for _, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return texts
}

func schemaToMap(schema mcp.ToolInputSchema) map[string]interface{} {
	out := map[string]interface{}{"type": "object"}
	if schema.Type != "" {
		out["type"] = schema.Type
	}
	if len(schema.Properties) > 0 {
		out["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	return out
}
