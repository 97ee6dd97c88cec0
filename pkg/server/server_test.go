package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserflow/browserflow/pkg/agent"
	"github.com/browserflow/browserflow/pkg/config"
	"github.com/browserflow/browserflow/pkg/llms"
	"github.com/browserflow/browserflow/pkg/orchestrator"
	"github.com/browserflow/browserflow/pkg/store"
	"github.com/browserflow/browserflow/pkg/task"
	"github.com/browserflow/browserflow/pkg/tools"
)

type scriptedProvider struct {
	responses []string
	calls     int
}

func (p *scriptedProvider) Generate(ctx context.Context, messages []llms.Message, tools []llms.ToolDef) (*llms.Response, error) {
	if p.calls >= len(p.responses) {
		return nil, fmt.Errorf("no scripted response for call %d", p.calls+1)
	}
	text := p.responses[p.calls]
	p.calls++
	return &llms.Response{Text: text, StopReason: "stop"}, nil
}

func (p *scriptedProvider) ModelName() string { return "scripted" }
func (p *scriptedProvider) Close() error      { return nil }

type nilEmbedder struct{}

func (nilEmbedder) Embed(ctx context.Context, text string) ([]float32, error) { return nil, nil }
func (nilEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}
func (nilEmbedder) Dimension() int    { return 3 }
func (nilEmbedder) ModelName() string { return "nil" }
func (nilEmbedder) Close() error      { return nil }

type testEnv struct {
	server *Server
	sql    *store.SQLStore
	writer *tools.ExcelWriter
}

func newTestServer(t *testing.T, provider llms.Provider) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	sqlStore, err := store.NewSQLStore(db, "sqlite")
	require.NoError(t, err)
	vectors, err := store.NewVectorIndex("")
	require.NoError(t, err)

	storeCfg := &config.StoreConfig{}
	storeCfg.SetDefaults()
	contexts := store.NewContextStore(sqlStore, vectors, nilEmbedder{}, storeCfg)

	excelCfg := &config.ExcelConfig{Dir: t.TempDir()}
	excelCfg.SetDefaults()
	excelCfg.Dir = t.TempDir()
	writer, err := tools.NewExcelWriter(excelCfg)
	require.NoError(t, err)

	toolReg := tools.NewRegistry()
	require.NoError(t, toolReg.RegisterServer(tools.NewWriterServer(writer)))

	agentReg := agent.NewRegistry(nil)
	require.NoError(t, agentReg.Register(&agent.Descriptor{
		AgentID:             agent.DataExtractionAgentID,
		SupportedTaskTypes:  []task.Type{task.TypeAddToGoogleSheets},
		RequiredToolServers: []string{"writer"},
	}))

	spawner, err := agent.NewSpawner(agent.SpawnerDeps{
		Registry: agentReg,
		Composer: tools.NewComposer(toolReg, nil),
		Provider: provider,
		Writer:   writer,
		Contexts: contexts,
	})
	require.NoError(t, err)

	orchCfg := &config.OrchestratorConfig{}
	orchCfg.SetDefaults()
	reasoner := llms.NewReasoner(provider)
	orch := orchestrator.New(orchCfg,
		orchestrator.NewIngestor(contexts, reasoner, nil),
		orchestrator.NewIdentifier(reasoner, orchCfg),
		spawner, sqlStore)

	serverCfg := &config.ServerConfig{}
	serverCfg.SetDefaults()

	return &testEnv{
		server: New(serverCfg, orch, contexts, sqlStore, writer),
		sql:    sqlStore,
		writer: writer,
	}
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("X-User-Guest-ID", userID)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_CreateTask(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`not json`,
		`{"task_type": "ADD_TO_GOOGLE_SHEETS", "confidence": 0.9,
		  "input": {"columns": ["name"], "selected_text": "Ada Lovelace"}}`,
		`[{"name": "Ada Lovelace"}]`,
	}}
	env := newTestServer(t, provider)

	rec := env.do(t, http.MethodPost, "/tasks", "user-1", map[string]interface{}{
		"selected_text": "Ada Lovelace",
		"user_context":  "track this person",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "ADD_TO_GOOGLE_SHEETS", body["task_type"])
	assert.Equal(t, "completed", body["execution_status"])
	assert.NotEmpty(t, body["task_id"])
	assert.NotEmpty(t, body["context_ids"])
}

func TestServer_CreateTaskValidation(t *testing.T) {
	env := newTestServer(t, &scriptedProvider{})

	// Missing user header.
	rec := env.do(t, http.MethodPost, "/tasks", "", map[string]interface{}{"selected_text": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Empty body fields.
	rec = env.do(t, http.MethodPost, "/tasks", "user-1", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// No pending writes after rejected requests.
	tasks, total, err := env.sql.ListTasks(context.Background(), store.ListTasksParams{UserID: "user-1"})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, tasks)
}

func TestServer_ListAndGetTasks(t *testing.T) {
	env := newTestServer(t, &scriptedProvider{})

	require.NoError(t, env.sql.InsertTask(context.Background(), &store.Task{
		ID: "t1", UserID: "user-1", TaskType: task.TypeNoteTaking,
		Input: map[string]interface{}{"text": "aurora"}, Status: task.StatusCompleted,
	}))

	rec := env.do(t, http.MethodGet, "/tasks?task_type=NOTE_TAKING", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["total"])

	rec = env.do(t, http.MethodGet, "/tasks?task_type=BOGUS", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/tasks/t1", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Tasks are scoped to their user.
	rec = env.do(t, http.MethodGet, "/tasks/t1", "user-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Contexts(t *testing.T) {
	env := newTestServer(t, &scriptedProvider{})

	require.NoError(t, env.sql.CommitContexts(context.Background(), []*store.Context{{
		ID: "c1", UserID: "user-1", RawContent: "aurora notes",
		Tags: []string{"aurora"}, Kind: store.KindText,
	}}))

	rec := env.do(t, http.MethodGet, "/contexts", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["contexts"], 1)

	rec = env.do(t, http.MethodGet, "/contexts/graph", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	graph := decodeBody(t, rec)
	assert.Len(t, graph["nodes"], 1)

	rec = env.do(t, http.MethodGet, "/contexts/c1", "user-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Another user's context is invisible.
	rec = env.do(t, http.MethodGet, "/contexts/c1", "user-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/contexts/nope", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ExcelFiles(t *testing.T) {
	env := newTestServer(t, &scriptedProvider{})

	_, err := env.writer.Write("report", "", []string{"a"},
		[]map[string]interface{}{{"a": "1"}})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/files/excel/report.xlsx", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")

	rec = env.do(t, http.MethodGet, "/files/excel/missing.xlsx", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/files/excel/..%2Fescape.xlsx", "user-1", nil)
	assert.NotEqual(t, http.StatusOK, rec.Code, "traversal is rejected")
}

func TestServer_Integrations(t *testing.T) {
	env := newTestServer(t, &scriptedProvider{})

	rec := env.do(t, http.MethodPost, "/integrations", "user-1", map[string]interface{}{
		"integration": "Notes",
		"secret":      "tok-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	created := decodeBody(t, rec)
	assert.Equal(t, "notes", created["integration"])

	rec = env.do(t, http.MethodPost, "/integrations", "user-1", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/integrations", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["integrations"], 1)

	rec = env.do(t, http.MethodDelete, "/integrations/notes", "user-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/integrations/notes", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Health(t *testing.T) {
	env := newTestServer(t, &scriptedProvider{})
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ok"))
}
