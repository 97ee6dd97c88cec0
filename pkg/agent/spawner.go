package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/browserflow/browserflow/pkg/config"
	"github.com/browserflow/browserflow/pkg/llms"
	"github.com/browserflow/browserflow/pkg/logger"
	"github.com/browserflow/browserflow/pkg/store"
	"github.com/browserflow/browserflow/pkg/task"
	"github.com/browserflow/browserflow/pkg/tools"
)

// IntegrationSource resolves per-user integration credentials.
type IntegrationSource interface {
	GetIntegration(ctx context.Context, userID, integration string) (*store.IntegrationToken, error)
}

// SpawnerDeps bundles the long-lived services the spawner wires into agent
// instances.
type SpawnerDeps struct {
	Registry     *Registry
	Composer     *tools.Composer
	Provider     llms.Provider
	Sink         llms.PromptSink
	MaxToolTurns int
	Contexts     *store.ContextStore
	Writer       *tools.ExcelWriter
	Notes        *tools.NotesClient
	NotesConfig  *config.NotesConfig
	Integrations IntegrationSource
}

// Spawner builds an isolated agent instance per execution: a fresh
// reasoner and evaluator, a freshly composed tool surface, and only the
// services the agent's capability interfaces declare.
type Spawner struct {
	deps   SpawnerDeps
	logger *slog.Logger
}

func NewSpawner(deps SpawnerDeps) (*Spawner, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("agent registry is required")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("llm provider is required")
	}
	if deps.Sink == nil {
		deps.Sink = llms.NopSink{}
	}
	return &Spawner{deps: deps, logger: logger.GetLogger()}, nil
}

// Spawn instantiates the registered agent for the task type, scoped to the
// user. The returned agent is used for exactly one execution.
func (s *Spawner) Spawn(ctx context.Context, taskType task.Type, userID string) (Agent, *Descriptor, error) {
	desc, factory, err := s.deps.Registry.LookupByTaskType(taskType)
	if err != nil {
		return nil, nil, err
	}

	instance, err := factory(desc.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to construct agent %s: %w", desc.AgentID, err)
	}

	surface, err := s.composeSurface(ctx, desc, userID)
	if err != nil {
		return nil, nil, err
	}

	reasoner := llms.NewReasoner(s.deps.Provider,
		llms.WithSink(s.deps.Sink),
		llms.WithMaxToolTurns(s.deps.MaxToolTurns))

	if binder, ok := instance.(coreBinder); ok {
		binder.bindCore(Core{
			Reasoner:  reasoner,
			Evaluator: NewEvaluator(),
			Surface:   surface,
			Contexts:  s.deps.Contexts,
		})
	}

	if needs, ok := instance.(NeedsWriter); ok && s.deps.Writer != nil {
		needs.SetWriter(s.deps.Writer)
	}
	if needs, ok := instance.(NeedsNotes); ok {
		if client := s.notesForUser(ctx, userID); client != nil {
			needs.SetNotes(client)
		}
	}
	if needs, ok := instance.(NeedsSurface); ok && surface != nil {
		needs.SetSurface(surface)
	}

	s.logger.Debug("agent spawned",
		"agent_id", desc.AgentID, "task_type", taskType, "user_id", userID)
	return instance, desc, nil
}

func (s *Spawner) composeSurface(ctx context.Context, desc *Descriptor, userID string) (*tools.Surface, error) {
	if s.deps.Composer == nil {
		return nil, nil
	}
	surface, err := s.deps.Composer.Compose(ctx, tools.ComposeParams{
		UserID:           userID,
		RequiredTools:    desc.RequiredTools,
		RequiredServers:  desc.RequiredToolServers,
		UseFallback:      desc.UseFallback(),
		FallbackToolkits: desc.FallbackToolkits,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compose tool surface for %s: %w", desc.AgentID, err)
	}
	return surface, nil
}

// notesForUser prefers the user's stored notes credential over the
// service-wide token. Without a service client, a stored credential still
// yields a per-user client built from the notes config.
func (s *Spawner) notesForUser(ctx context.Context, userID string) *tools.NotesClient {
	client := s.deps.Notes
	if s.deps.Integrations == nil || userID == "" {
		return client
	}

	token, err := s.deps.Integrations.GetIntegration(ctx, userID, "notes")
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to look up notes credential", "user_id", userID, "error", err)
		}
		return client
	}
	if token.Secret == "" {
		return client
	}
	if client != nil {
		return client.WithToken(token.Secret)
	}

	cfg := config.NotesConfig{}
	if s.deps.NotesConfig != nil {
		cfg = *s.deps.NotesConfig
	}
	cfg.Token = token.Secret
	cfg.SetDefaults()

	fresh, err := tools.NewNotesClient(&cfg)
	if err != nil {
		s.logger.Warn("failed to build notes client from stored credential",
			"user_id", userID, "error", err)
		return nil
	}
	return fresh
}
