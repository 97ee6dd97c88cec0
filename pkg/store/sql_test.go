package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserflow/browserflow/pkg/task"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// A pooled :memory: connection would open a fresh empty database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewSQLStore(db, "sqlite")
	require.NoError(t, err)
	return s
}

func testContext(userID string, tags []string, parent *string) *Context {
	return &Context{
		ID:         "ctx-" + userID + "-" + tags[0],
		UserID:     userID,
		RawContent: "content about " + tags[0],
		Tags:       tags,
		Kind:       KindText,
		ParentID:   parent,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestNormalizeTags(t *testing.T) {
	in := []string{" aurora ", "database", "aurora", "", "  ", "cloud"}
	want := []string{"aurora", "database", "cloud"}

	got := NormalizeTags(in)
	assert.Equal(t, want, got)
	// Idempotent.
	assert.Equal(t, want, NormalizeTags(got))
}

func TestTagOverlap(t *testing.T) {
	assert.Equal(t, 2, TagOverlap([]string{"a", "b", "c"}, []string{"b", "c", "d"}))
	assert.Equal(t, 0, TagOverlap([]string{"a"}, []string{"b"}))
	assert.Equal(t, 0, TagOverlap(nil, []string{"a"}))
}

func TestSQLStore_CommitAndGetContexts(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	c1 := testContext("u1", []string{"aurora", "database"}, nil)
	c1.Embedding = []float32{0.1, 0.2, 0.3}
	c1.URL = "https://example.com/aurora"
	c2 := testContext("u1", []string{"golang"}, &c1.ID)

	require.NoError(t, s.CommitContexts(ctx, []*Context{c1, c2}))

	got, err := s.GetContext(ctx, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, c1.RawContent, got.RawContent)
	assert.Equal(t, []string{"aurora", "database"}, got.Tags)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got.Embedding)
	assert.Equal(t, "https://example.com/aurora", got.URL)
	assert.Nil(t, got.ParentID)

	child, err := s.GetContext(ctx, c2.ID)
	require.NoError(t, err)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, c1.ID, *child.ParentID)

	_, err = s.GetContext(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_ListRootContexts(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	root := testContext("u1", []string{"aurora"}, nil)
	child := testContext("u1", []string{"detail"}, &root.ID)
	other := testContext("u2", []string{"unrelated"}, nil)
	require.NoError(t, s.CommitContexts(ctx, []*Context{root, child, other}))

	roots, err := s.ListRootContexts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, root.ID, roots[0].ID)
}

func TestSQLStore_DeleteContextOrphansChildren(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	root := testContext("u1", []string{"aurora"}, nil)
	child := testContext("u1", []string{"detail"}, &root.ID)
	require.NoError(t, s.CommitContexts(ctx, []*Context{root, child}))

	require.NoError(t, s.DeleteContext(ctx, root.ID))

	_, err := s.GetContext(ctx, root.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetContext(ctx, child.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ParentID, "child survives with parent cleared")
}

func TestSQLStore_Tasks(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	for i, tt := range []task.Type{task.TypeNoteTaking, task.TypeAddToGoogleSheets, task.TypeNoteTaking} {
		require.NoError(t, s.InsertTask(ctx, &Task{
			ID:         "task-" + string(rune('a'+i)),
			UserID:     "u1",
			TaskType:   tt,
			Input:      map[string]interface{}{"idx": float64(i), "text": "aurora notes"},
			Output:     map[string]interface{}{"ok": true},
			ContextIDs: []string{"ctx-1"},
			Status:     task.StatusCompleted,
			CreatedAt:  time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := s.GetTask(ctx, "u1", "task-a")
	require.NoError(t, err)
	assert.Equal(t, task.TypeNoteTaking, got.TaskType)
	assert.Equal(t, []string{"ctx-1"}, got.ContextIDs)
	assert.Equal(t, map[string]interface{}{"ok": true}, got.Output)

	_, err = s.GetTask(ctx, "u2", "task-a")
	assert.ErrorIs(t, err, ErrNotFound, "tasks are scoped to their user")

	tasks, total, err := s.ListTasks(ctx, ListTasksParams{UserID: "u1", TaskType: task.TypeNoteTaking})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, tasks, 2)
	assert.Equal(t, "task-c", tasks[0].ID, "newest first")

	tasks, total, err = s.ListTasks(ctx, ListTasksParams{UserID: "u1", Search: "aurora"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	tasks, total, err = s.ListTasks(ctx, ListTasksParams{UserID: "u1", Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, tasks, 1)
}

func TestSQLStore_IntegrationUpsertIdempotent(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	first, err := s.UpsertIntegration(ctx, "u1", "Notes", "secret-1", map[string]interface{}{"workspace": "w1"})
	require.NoError(t, err)
	assert.Equal(t, "notes", first.Integration, "integration names are lowercased")

	second, err := s.UpsertIntegration(ctx, "u1", "notes", "secret-2", nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "upsert reuses the existing row")

	live, err := s.ListIntegrations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, live, 1, "exactly one live row per (user, integration)")
	assert.Equal(t, "secret-2", live[0].Secret)
	assert.False(t, live[0].Deleted)
}

func TestSQLStore_IntegrationSoftDeleteAndRevive(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	_, err := s.UpsertIntegration(ctx, "u1", "board", "tok", nil)
	require.NoError(t, err)

	require.NoError(t, s.SoftDeleteIntegration(ctx, "u1", "board"))

	_, err = s.GetIntegration(ctx, "u1", "board")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SoftDeleteIntegration(ctx, "u1", "board"), ErrNotFound)

	// Upsert revives the soft-deleted row.
	revived, err := s.UpsertIntegration(ctx, "u1", "board", "tok-2", nil)
	require.NoError(t, err)

	got, err := s.GetIntegration(ctx, "u1", "board")
	require.NoError(t, err)
	assert.Equal(t, revived.ID, got.ID)
	assert.Equal(t, "tok-2", got.Secret)
}
