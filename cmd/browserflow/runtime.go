package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/browserflow/browserflow/pkg/agent"
	"github.com/browserflow/browserflow/pkg/config"
	"github.com/browserflow/browserflow/pkg/embedders"
	"github.com/browserflow/browserflow/pkg/llms"
	"github.com/browserflow/browserflow/pkg/logger"
	"github.com/browserflow/browserflow/pkg/orchestrator"
	"github.com/browserflow/browserflow/pkg/server"
	"github.com/browserflow/browserflow/pkg/store"
	"github.com/browserflow/browserflow/pkg/task"
	"github.com/browserflow/browserflow/pkg/tools"
)

// Runtime holds the assembled service and everything that needs closing.
type Runtime struct {
	Server  *server.Server
	closers []func() error
}

func (r *Runtime) Close() {
	log := logger.GetLogger()
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			log.Warn("shutdown cleanup failed", "error", err)
		}
	}
}

// buildRuntime wires the full service from configuration: stores, the
// reasoning backend, tool servers, the agent registry, and the
// orchestration pipeline behind the HTTP server.
func buildRuntime(cfg *config.Config) (*Runtime, error) {
	log := logger.GetLogger()
	rt := &Runtime{}

	if cfg.Store.Driver == "sqlite" {
		if dir := filepath.Dir(cfg.Store.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create store directory: %w", err)
			}
		}
	}
	sqlStore, err := store.Open(&cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	rt.closers = append(rt.closers, sqlStore.Close)

	vectors, err := store.NewVectorIndex(cfg.Store.VectorDir)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	embedder, err := embedders.NewEmbedderFromConfig(&cfg.Embedder)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build embedder: %w", err)
	}
	rt.closers = append(rt.closers, embedder.Close)

	contexts := store.NewContextStore(sqlStore, vectors, embedder, &cfg.Store)

	provider, err := llms.NewProviderFromConfig(&cfg.LLM)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build llm provider: %w", err)
	}
	rt.closers = append(rt.closers, provider.Close)

	writer, err := tools.NewExcelWriter(&cfg.Tools.Excel)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build spreadsheet writer: %w", err)
	}

	toolReg := tools.NewRegistry()
	if err := toolReg.RegisterServer(tools.NewWriterServer(writer)); err != nil {
		rt.Close()
		return nil, err
	}
	webServer := tools.NewWebServer()
	if err := toolReg.RegisterServer(webServer); err != nil {
		rt.Close()
		return nil, err
	}

	var notesClient *tools.NotesClient
	if cfg.Tools.Notes.Token != "" {
		notesClient, err = tools.NewNotesClient(&cfg.Tools.Notes)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to build notes client: %w", err)
		}
		if err := toolReg.RegisterServer(tools.NewNotesServer(notesClient)); err != nil {
			rt.Close()
			return nil, err
		}
	} else {
		log.Warn("notes token not configured, note taking requires a per-user integration")
	}

	fallback, err := tools.NewFallbackProvider(&cfg.Tools.Fallback)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build fallback gateway: %w", err)
	}
	rt.closers = append(rt.closers, fallback.Close)

	agentReg := agent.NewRegistry(nil)
	if err := agentReg.LoadFile(cfg.Orchestrator.RegistryPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			rt.Close()
			return nil, err
		}
		log.Warn("agent registry file not found, using built-in descriptors",
			"path", cfg.Orchestrator.RegistryPath)
		if err := registerDefaults(agentReg); err != nil {
			rt.Close()
			return nil, err
		}
	}

	spawner, err := agent.NewSpawner(agent.SpawnerDeps{
		Registry:     agentReg,
		Composer:     tools.NewComposer(toolReg, fallback),
		Provider:     provider,
		Sink:         llms.NewLogSink(log),
		MaxToolTurns: cfg.LLM.MaxToolTurns,
		Contexts:     contexts,
		Writer:       writer,
		Notes:        notesClient,
		NotesConfig:  &cfg.Tools.Notes,
		Integrations: sqlStore,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	reasoner := llms.NewReasoner(provider, llms.WithSink(llms.NewLogSink(log)))
	orch := orchestrator.New(&cfg.Orchestrator,
		orchestrator.NewIngestor(contexts, reasoner, webServer),
		orchestrator.NewIdentifier(reasoner, &cfg.Orchestrator),
		spawner, sqlStore)

	rt.Server = server.New(&cfg.Server, orch, contexts, sqlStore, writer)
	return rt, nil
}

// registerDefaults covers the built-in agents when no registry file is
// shipped alongside the binary.
func registerDefaults(reg *agent.Registry) error {
	descriptors := []*agent.Descriptor{
		{
			AgentID:             agent.DataExtractionAgentID,
			SupportedTaskTypes:  []task.Type{task.TypeAddToGoogleSheets},
			Capabilities:        []string{"data_extraction", "spreadsheet"},
			RequiredToolServers: []string{tools.WriterServerName},
			Description:         "Extracts structured rows from text and writes them to a spreadsheet.",
		},
		{
			AgentID:             agent.NoteTakingAgentID,
			SupportedTaskTypes:  []task.Type{task.TypeNoteTaking},
			Capabilities:        []string{"note_taking"},
			RequiredToolServers: []string{"notes"},
			Description:         "Searches, creates, and appends to collaborative note pages.",
		},
	}
	for _, desc := range descriptors {
		if err := reg.Register(desc); err != nil {
			return err
		}
	}
	return nil
}
