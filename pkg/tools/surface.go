package tools

import (
	"context"
	"log/slog"
	"sort"

	"github.com/browserflow/browserflow/pkg/llms"
	"github.com/browserflow/browserflow/pkg/logger"
)

// ComposeParams describes the tool surface one agent execution needs.
type ComposeParams struct {
	UserID string

	// RequiredTools are qualified tool names (svc.<server>.<tool>). Only
	// these tools are exposed when the list is non-empty. A tool is
	// satisfied only when its server is in RequiredServers.
	RequiredTools []string

	// RequiredServers are exposed wholesale, every tool included.
	RequiredServers []string

	// UseFallback routes unsatisfied requirements through the gateway.
	UseFallback bool

	// FallbackToolkits overrides toolkit inference for the gateway
	// session when non-empty.
	FallbackToolkits []string
}

// Surface is the composed tool set handed to a reasoner: the servers to
// attach and the wire-form tool allowlist (empty means everything on the
// attached servers).
type Surface struct {
	Servers map[string]llms.ToolServer
	Allowed []string

	// Missing lists requirements left unsatisfied after composition.
	Missing []string
}

// Composer builds per-execution tool surfaces from the built-in server
// registry, bridging gaps through the fallback gateway.
type Composer struct {
	registry *Registry
	fallback *FallbackProvider
	logger   *slog.Logger
}

func NewComposer(reg *Registry, fallback *FallbackProvider) *Composer {
	return &Composer{
		registry: reg,
		fallback: fallback,
		logger:   logger.GetLogger(),
	}
}

// Compose resolves the requirements against the built-in servers first. Any
// requirement no built-in server satisfies is covered by a single fallback
// gateway session scoped to the user, when the gateway is enabled.
func (c *Composer) Compose(ctx context.Context, params ComposeParams) (*Surface, error) {
	surface := &Surface{Servers: make(map[string]llms.ToolServer)}
	restrict := len(params.RequiredTools) > 0

	var missingServers []string
	fallbackRequested := false

	for _, name := range params.RequiredServers {
		if name == FallbackServerName {
			fallbackRequested = true
			continue
		}
		server, ok := c.registry.Server(name)
		if !ok {
			missingServers = append(missingServers, name)
			surface.Missing = append(surface.Missing, name)
			continue
		}
		surface.Servers[name] = server
		if restrict {
			if err := c.allowAll(ctx, surface, name, server); err != nil {
				return nil, err
			}
		}
	}

	// A tool resolves only against the required-server set assembled
	// above; a tool on any other server counts as unsatisfied.
	var missingTools []string
	for _, qualified := range params.RequiredTools {
		server, tool, ok := ParseQualifiedName(qualified)
		if !ok {
			missingTools = append(missingTools, qualified)
			surface.Missing = append(surface.Missing, qualified)
			continue
		}
		if _, attached := surface.Servers[server]; !attached {
			missingTools = append(missingTools, qualified)
			surface.Missing = append(surface.Missing, qualified)
			continue
		}
		surface.Allowed = append(surface.Allowed, llms.WireToolName(server, tool))
	}

	needFallback := fallbackRequested || len(missingTools) > 0 || len(missingServers) > 0
	if !needFallback || !params.UseFallback {
		return surface, nil
	}
	if c.fallback == nil || !c.fallback.Enabled() {
		c.logger.Warn("tool requirements unsatisfied and fallback gateway unavailable",
			"user_id", params.UserID, "missing", surface.Missing)
		return surface, nil
	}

	toolkits := fallbackToolkits(params.FallbackToolkits, missingTools, missingServers)

	session, err := c.fallback.Session(ctx, params.UserID, toolkits)
	if err != nil {
		c.logger.Warn("fallback gateway session failed",
			"user_id", params.UserID, "toolkits", toolkits, "error", err)
		return surface, nil
	}

	surface.Servers[FallbackServerName] = session
	surface.Missing = nil
	if restrict {
		if err := c.allowAll(ctx, surface, FallbackServerName, session); err != nil {
			return nil, err
		}
	}
	return surface, nil
}

func (c *Composer) allowAll(ctx context.Context, surface *Surface, serverName string, server llms.ToolServer) error {
	defs, err := server.Tools(ctx)
	if err != nil {
		return newRegistryError("ToolComposer", "Compose",
			"failed to list tools on server "+serverName, err)
	}
	for _, def := range defs {
		surface.Allowed = append(surface.Allowed, llms.WireToolName(serverName, def.Name))
	}
	return nil
}

// fallbackToolkits picks the gateway session's toolkits: the descriptor
// override when present, otherwise inference from the unsatisfied names.
func fallbackToolkits(override, missingTools, missingServers []string) []string {
	if len(override) > 0 {
		return mergeToolkits(nil, override)
	}

	toolkits := ToolkitsForMissing(missingTools)
	for _, server := range missingServers {
		kits, ok := toolkitByServer[server]
		if !ok {
			kits = []string{FallbackServerName}
		}
		toolkits = mergeToolkits(toolkits, kits)
	}
	if len(toolkits) == 0 {
		return []string{FallbackServerName}
	}
	return toolkits
}

func mergeToolkits(existing, more []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, kit := range existing {
		seen[kit] = true
	}
	for _, kit := range more {
		if !seen[kit] {
			seen[kit] = true
			existing = append(existing, kit)
		}
	}
	sort.Strings(existing)
	return existing
}
