// Package server is the HTTP boundary: request routing, header extraction,
// and pagination over the orchestrator and stores.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/browserflow/browserflow/pkg/config"
	"github.com/browserflow/browserflow/pkg/logger"
	"github.com/browserflow/browserflow/pkg/orchestrator"
	"github.com/browserflow/browserflow/pkg/store"
	"github.com/browserflow/browserflow/pkg/task"
	"github.com/browserflow/browserflow/pkg/tools"
)

// userHeader carries the per-request user identifier.
const userHeader = "X-User-Guest-ID"

const defaultPageSize = 20

// Server wires the HTTP routes to the orchestration core.
type Server struct {
	cfg      *config.ServerConfig
	orch     *orchestrator.Orchestrator
	contexts *store.ContextStore
	sql      *store.SQLStore
	writer   *tools.ExcelWriter
	router   chi.Router
	http     *http.Server
	logger   *slog.Logger
}

func New(cfg *config.ServerConfig, orch *orchestrator.Orchestrator, contexts *store.ContextStore, sqlStore *store.SQLStore, writer *tools.ExcelWriter) *Server {
	s := &Server{
		cfg:      cfg,
		orch:     orch,
		contexts: contexts,
		sql:      sqlStore,
		writer:   writer,
		logger:   logger.GetLogger(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.handleCreateTask)
		r.Get("/", s.handleListTasks)
		r.Get("/{id}", s.handleGetTask)
	})

	r.Route("/contexts", func(r chi.Router) {
		r.Get("/", s.handleListContexts)
		r.Get("/graph", s.handleContextGraph)
		r.Get("/{id}", s.handleGetContext)
	})

	r.Get("/files/excel/*", s.handleExcelFile)

	r.Route("/integrations", func(r chi.Router) {
		r.Get("/", s.handleListIntegrations)
		r.Post("/", s.handleUpsertIntegration)
		r.Delete("/{integration}", s.handleDeleteIntegration)
	})

	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until the context is cancelled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// ----------------------------------------------------------------------------
// Handlers
// ----------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createTaskRequest struct {
	TaskType     string   `json:"task_type,omitempty"`
	URLs         []string `json:"urls,omitempty"`
	SelectedText string   `json:"selected_text,omitempty"`
	UserContext  string   `json:"user_context,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	var body createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.orch.Orchestrate(r.Context(), orchestrator.Request{
		UserID:           userID,
		SelectedText:     body.SelectedText,
		UserContext:      body.UserContext,
		URLs:             body.URLs,
		ExplicitTaskType: body.TaskType,
	})
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respond(w, http.StatusOK, result)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	params := store.ListTasksParams{
		UserID:   userID,
		Search:   r.URL.Query().Get("search"),
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "page_size", defaultPageSize),
	}
	if raw := r.URL.Query().Get("task_type"); raw != "" {
		parsed, known := task.ParseType(raw)
		if !known {
			s.respondError(w, http.StatusBadRequest, "unknown task_type "+raw)
			return
		}
		params.TaskType = parsed
	}

	tasks, total, err := s.sql.ListTasks(r.Context(), params)
	if err != nil {
		s.internalError(w, "failed to list tasks", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{
		"tasks":     tasks,
		"total":     total,
		"page":      params.Page,
		"page_size": params.PageSize,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	t, err := s.sql.GetTask(r.Context(), userID, chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.internalError(w, "failed to get task", err)
		return
	}
	s.respond(w, http.StatusOK, t)
}

func (s *Server) handleListContexts(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	contexts, err := s.contexts.ListByUser(r.Context(), userID)
	if err != nil {
		s.internalError(w, "failed to list contexts", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"contexts": contexts})
}

func (s *Server) handleContextGraph(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	graph, err := s.contexts.BuildGraph(r.Context(), userID)
	if err != nil {
		s.internalError(w, "failed to build context graph", err)
		return
	}
	s.respond(w, http.StatusOK, graph)
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	c, err := s.contexts.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "context not found")
		return
	}
	if err != nil {
		s.internalError(w, "failed to get context", err)
		return
	}
	if c.UserID != userID {
		s.respondError(w, http.StatusNotFound, "context not found")
		return
	}
	s.respond(w, http.StatusOK, c)
}

func (s *Server) handleExcelFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")

	path, err := s.writer.ResolvePath(name)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.writer.Exists(name) {
		s.respondError(w, http.StatusNotFound, "file not found")
		return
	}

	w.Header().Set("Content-Type",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	http.ServeFile(w, r, path)
}

type upsertIntegrationRequest struct {
	Integration string                 `json:"integration"`
	Secret      string                 `json:"secret"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

func (s *Server) handleUpsertIntegration(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	var body upsertIntegrationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.Integration) == "" {
		s.respondError(w, http.StatusBadRequest, "integration name is required")
		return
	}

	token, err := s.sql.UpsertIntegration(r.Context(), userID, body.Integration, body.Secret, body.Metadata)
	if err != nil {
		s.internalError(w, "failed to upsert integration", err)
		return
	}
	s.respond(w, http.StatusOK, token)
}

func (s *Server) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	tokens, err := s.sql.ListIntegrations(r.Context(), userID)
	if err != nil {
		s.internalError(w, "failed to list integrations", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"integrations": tokens})
}

func (s *Server) handleDeleteIntegration(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	err := s.sql.SoftDeleteIntegration(r.Context(), userID, chi.URLParam(r, "integration"))
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "integration not found")
		return
	}
	if err != nil {
		s.internalError(w, "failed to delete integration", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

func (s *Server) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(userHeader))
	if userID == "" {
		s.respondError(w, http.StatusBadRequest, userHeader+" header is required")
		return "", false
	}
	return userID, true
}

func (s *Server) respond(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respond(w, status, map[string]string{"error": message})
}

func (s *Server) internalError(w http.ResponseWriter, message string, err error) {
	s.logger.Error(message, "error", err)
	s.respondError(w, http.StatusInternalServerError, message)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
