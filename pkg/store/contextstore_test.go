package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserflow/browserflow/pkg/config"
)

// stubEmbedder maps content substrings to fixed vectors.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	for key, vec := range e.vectors {
		if strings.Contains(text, key) {
			return vec, nil
		}
	}
	return nil, nil
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (e *stubEmbedder) Dimension() int    { return 3 }
func (e *stubEmbedder) ModelName() string { return "stub" }
func (e *stubEmbedder) Close() error      { return nil }

func newTestContextStore(t *testing.T, embedder *stubEmbedder) *ContextStore {
	t.Helper()
	sqlStore := newTestSQLStore(t)
	vectors, err := NewVectorIndex("")
	require.NoError(t, err)

	cfg := &config.StoreConfig{}
	cfg.SetDefaults()
	return NewContextStore(sqlStore, vectors, embedder, cfg)
}

func TestContextStore_CreateAndCommit(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{"aurora": {1, 0, 0}}}
	s := newTestContextStore(t, embedder)
	ctx := context.Background()

	batch := s.NewBatch()
	c, err := s.Create(ctx, CreateContextParams{
		RawContent: "aurora is a managed database",
		Tags:       []string{" aurora ", "database", "aurora"},
		UserID:     "u1",
	}, batch)
	require.NoError(t, err)
	assert.Equal(t, []string{"aurora", "database"}, c.Tags)
	assert.Equal(t, []float32{1, 0, 0}, c.Embedding)

	// Nothing is durable before commit.
	_, err = s.Get(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Commit(ctx, batch))

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.RawContent, got.RawContent)
	assert.Empty(t, batch.Contexts(), "commit drains the batch")
}

func TestContextStore_ParentLinkingBySimilarity(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"aurora storage engine": {0.9, 0.1, 0},
		"aurora pricing":        {0.85, 0.15, 0},
		"cooking pasta":         {0, 0, 1},
		"aurora":                {1, 0, 0},
	}}
	s := newTestContextStore(t, embedder)
	ctx := context.Background()

	batch := s.NewBatch()
	first, err := s.Create(ctx, CreateContextParams{
		RawContent: "aurora storage engine deep dive",
		Tags:       []string{"aurora", "database"},
		UserID:     "u1",
		FindParent: true,
	}, batch)
	require.NoError(t, err)
	assert.Nil(t, first.ParentID, "no candidates yet")
	require.NoError(t, s.Commit(ctx, batch))

	batch = s.NewBatch()
	second, err := s.Create(ctx, CreateContextParams{
		RawContent: "aurora pricing comparison",
		Tags:       []string{"aurora", "cost"},
		UserID:     "u1",
		FindParent: true,
	}, batch)
	require.NoError(t, err)
	require.NotNil(t, second.ParentID)
	assert.Equal(t, first.ID, *second.ParentID)
	require.NoError(t, s.Commit(ctx, batch))

	// Acyclicity: a linked parent is always a root.
	parent, err := s.Get(ctx, *second.ParentID)
	require.NoError(t, err)
	assert.Nil(t, parent.ParentID)
}

func TestContextStore_ParentOnlyRootsQualify(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{"aurora": {1, 0, 0}}}
	s := newTestContextStore(t, embedder)
	ctx := context.Background()

	// Build a root and a child sharing the same tags.
	batch := s.NewBatch()
	root, err := s.Create(ctx, CreateContextParams{
		RawContent: "aurora overview", Tags: []string{"aurora"}, UserID: "u1", FindParent: true,
	}, batch)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, batch))

	batch = s.NewBatch()
	child, err := s.Create(ctx, CreateContextParams{
		RawContent: "aurora replication", Tags: []string{"aurora"}, UserID: "u1", FindParent: true,
	}, batch)
	require.NoError(t, err)
	require.NotNil(t, child.ParentID)
	require.NoError(t, s.Commit(ctx, batch))

	// The third context must link to the root, never to the child.
	batch = s.NewBatch()
	third, err := s.Create(ctx, CreateContextParams{
		RawContent: "aurora backups", Tags: []string{"aurora"}, UserID: "u1", FindParent: true,
	}, batch)
	require.NoError(t, err)
	require.NotNil(t, third.ParentID)
	assert.Equal(t, root.ID, *third.ParentID)
}

func TestContextStore_ParentTagFallbackWithoutEmbedding(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{"known": {1, 0, 0}}}
	s := newTestContextStore(t, embedder)
	ctx := context.Background()

	batch := s.NewBatch()
	first, err := s.Create(ctx, CreateContextParams{
		RawContent: "known topic", Tags: []string{"shared"}, UserID: "u1",
	}, batch)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, batch))

	// Unknown content embeds to nil; linking falls back to tag order.
	batch = s.NewBatch()
	second, err := s.Create(ctx, CreateContextParams{
		RawContent: "mystery content", Tags: []string{"shared"}, UserID: "u1", FindParent: true,
	}, batch)
	require.NoError(t, err)
	require.NotNil(t, second.ParentID)
	assert.Equal(t, first.ID, *second.ParentID)
}

func TestContextStore_ParentScopedToUser(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{"aurora": {1, 0, 0}}}
	s := newTestContextStore(t, embedder)
	ctx := context.Background()

	batch := s.NewBatch()
	_, err := s.Create(ctx, CreateContextParams{
		RawContent: "aurora notes", Tags: []string{"aurora"}, UserID: "other-user",
	}, batch)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, batch))

	batch = s.NewBatch()
	c, err := s.Create(ctx, CreateContextParams{
		RawContent: "aurora notes", Tags: []string{"aurora"}, UserID: "u1", FindParent: true,
	}, batch)
	require.NoError(t, err)
	assert.Nil(t, c.ParentID, "other users' contexts never qualify as parents")
}

func TestContextStore_SearchSimilar(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"aurora":  {1, 0, 0},
		"cooking": {0, 0, 1},
	}}
	s := newTestContextStore(t, embedder)
	ctx := context.Background()

	batch := s.NewBatch()
	aurora, err := s.Create(ctx, CreateContextParams{
		RawContent: "aurora database", Tags: []string{"aurora"}, UserID: "u1",
	}, batch)
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateContextParams{
		RawContent: "cooking pasta", Tags: []string{"food"}, UserID: "u1",
	}, batch)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, batch))

	hits, err := s.SearchText(ctx, "u1", "aurora performance", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, aurora.ID, hits[0].Context.ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
}

func TestContextStore_BuildGraph(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{"aurora": {1, 0, 0}}}
	s := newTestContextStore(t, embedder)
	ctx := context.Background()

	batch := s.NewBatch()
	root, err := s.Create(ctx, CreateContextParams{
		RawContent: "aurora overview", Tags: []string{"aurora"}, UserID: "u1",
	}, batch)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, batch))

	batch = s.NewBatch()
	child, err := s.Create(ctx, CreateContextParams{
		RawContent: "aurora details", Tags: []string{"aurora"}, UserID: "u1", FindParent: true,
	}, batch)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, batch))

	g, err := s.BuildGraph(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 2)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, child.ID, g.Edges[0].From)
	assert.Equal(t, root.ID, g.Edges[0].To)
	assert.Equal(t, []string{root.ID}, g.Roots)
}
