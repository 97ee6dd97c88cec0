package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/browserflow/browserflow/pkg/config"
	"github.com/browserflow/browserflow/pkg/embedders"
	"github.com/browserflow/browserflow/pkg/logger"
)

// ContextStore combines the relational store, the vector index, and the
// embedding client into the context persistence service.
type ContextStore struct {
	sql      *SQLStore
	vectors  *VectorIndex
	embedder embedders.Embedder
	logger   *slog.Logger

	minTagOverlap       int
	similarityThreshold float64
	searchLimit         int
}

func NewContextStore(sqlStore *SQLStore, vectors *VectorIndex, embedder embedders.Embedder, cfg *config.StoreConfig) *ContextStore {
	return &ContextStore{
		sql:                 sqlStore,
		vectors:             vectors,
		embedder:            embedder,
		logger:              logger.GetLogger(),
		minTagOverlap:       cfg.ParentMinTagOverlap,
		similarityThreshold: cfg.ParentSimilarity,
		searchLimit:         cfg.SearchLimit,
	}
}

// Batch stages context creations for a single transactional commit.
type Batch struct {
	contexts []*Context
}

func (s *ContextStore) NewBatch() *Batch {
	return &Batch{}
}

// Contexts returns the staged rows in creation order.
func (b *Batch) Contexts() []*Context {
	return b.contexts
}

// Discard drops all staged rows.
func (b *Batch) Discard() {
	b.contexts = nil
}

// CreateContextParams describes one context to create.
type CreateContextParams struct {
	RawContent  string
	UserSummary string
	Tags        []string
	UserID      string
	URL         string
	Kind        Kind
	FindParent  bool
}

// Create computes the embedding and optional parent link, then stages the
// row on the batch. Nothing is written until Commit. A failed Create leaves
// the batch exactly as it was.
func (s *ContextStore) Create(ctx context.Context, params CreateContextParams, batch *Batch) (*Context, error) {
	if params.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if params.RawContent == "" {
		return nil, fmt.Errorf("raw content is required")
	}

	kind := params.Kind
	if kind == "" {
		kind = KindText
	}

	embedding, err := s.embedder.Embed(ctx, params.RawContent)
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}

	c := &Context{
		ID:          uuid.NewString(),
		UserID:      params.UserID,
		RawContent:  params.RawContent,
		UserSummary: params.UserSummary,
		Tags:        NormalizeTags(params.Tags),
		Embedding:   embedding,
		URL:         params.URL,
		Kind:        kind,
		CreatedAt:   time.Now().UTC(),
	}

	if params.FindParent {
		parentID, err := s.findParent(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve parent topic: %w", err)
		}
		c.ParentID = parentID
	}

	batch.contexts = append(batch.contexts, c)
	return c, nil
}

// findParent picks the parent topic for a new context. Candidates are the
// user's root contexts sharing at least minTagOverlap tags, in stable
// creation order. With an embedding, the best candidate at or above the
// similarity threshold wins; otherwise the first candidate does. Only roots
// qualify, which keeps the graph two levels deep and acyclic.
func (s *ContextStore) findParent(ctx context.Context, c *Context) (*string, error) {
	if len(c.Tags) == 0 {
		return nil, nil
	}

	roots, err := s.sql.ListRootContexts(ctx, c.UserID)
	if err != nil {
		return nil, err
	}

	var candidates []*Context
	for _, root := range roots {
		if TagOverlap(root.Tags, c.Tags) >= s.minTagOverlap {
			candidates = append(candidates, root)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	if c.Embedding != nil {
		var best *Context
		bestScore := 0.0
		for _, candidate := range candidates {
			if candidate.Embedding == nil {
				continue
			}
			score := embedders.Cosine(c.Embedding, candidate.Embedding)
			if score >= s.similarityThreshold && score > bestScore {
				best = candidate
				bestScore = score
			}
		}
		if best != nil {
			s.logger.Debug("parent topic matched by similarity",
				"context", c.ID, "parent", best.ID, "similarity", bestScore)
			return &best.ID, nil
		}
	}

	// Tag-match fallback: first candidate in stable order.
	return &candidates[0].ID, nil
}

// Commit writes the staged contexts in one transaction, then indexes their
// embeddings. Index failures are logged, not fatal: the rows are already
// durable and the index can be rebuilt.
func (s *ContextStore) Commit(ctx context.Context, batch *Batch) error {
	if len(batch.contexts) == 0 {
		return nil
	}

	if err := s.sql.CommitContexts(ctx, batch.contexts); err != nil {
		return err
	}

	for _, c := range batch.contexts {
		if c.Embedding == nil {
			continue
		}
		if err := s.vectors.Add(ctx, c.UserID, c.ID, c.Embedding); err != nil {
			s.logger.Warn("failed to index context embedding",
				"context", c.ID, "error", err)
		}
	}

	batch.contexts = nil
	return nil
}

func (s *ContextStore) Get(ctx context.Context, id string) (*Context, error) {
	return s.sql.GetContext(ctx, id)
}

func (s *ContextStore) GetByIDs(ctx context.Context, ids []string) ([]*Context, error) {
	return s.sql.GetContextsByIDs(ctx, ids)
}

func (s *ContextStore) ListByUser(ctx context.Context, userID string) ([]*Context, error) {
	return s.sql.ListContextsByUser(ctx, userID)
}

// SearchSimilar returns up to k of the user's contexts nearest to the query
// vector, each carrying its cosine similarity.
func (s *ContextStore) SearchSimilar(ctx context.Context, userID string, vector []float32, k int) ([]ScoredContext, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = s.searchLimit
	}

	hits, err := s.vectors.Query(ctx, userID, vector, k)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	similarity := make(map[string]float64, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ContextID
		similarity[hit.ContextID] = hit.Similarity
	}

	contexts, err := s.sql.GetContextsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Context, len(contexts))
	for _, c := range contexts {
		byID[c.ID] = c
	}

	out := make([]ScoredContext, 0, len(hits))
	for _, hit := range hits {
		c, ok := byID[hit.ContextID]
		if !ok {
			// Index and store can drift; skip dangling ids.
			s.logger.Debug("vector hit without a stored row", "context", hit.ContextID)
			continue
		}
		out = append(out, ScoredContext{Context: c, Similarity: hit.Similarity})
	}
	return out, nil
}

// SearchText embeds the query text and searches by similarity.
func (s *ContextStore) SearchText(ctx context.Context, userID, query string, k int) ([]ScoredContext, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if vector == nil {
		return nil, nil
	}
	return s.SearchSimilar(ctx, userID, vector, k)
}

// GraphNode is one context in the user's topic graph.
type GraphNode struct {
	ID          string   `json:"context_id"`
	UserSummary string   `json:"user_summary,omitempty"`
	Tags        []string `json:"tags"`
	Kind        Kind     `json:"kind"`
	URL         string   `json:"url,omitempty"`
}

// GraphEdge links a child context to its parent topic.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is the user's parent-topic graph.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
	Roots []string    `json:"roots"`
}

// BuildGraph assembles the topic graph for one user.
func (s *ContextStore) BuildGraph(ctx context.Context, userID string) (*Graph, error) {
	contexts, err := s.sql.ListContextsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	g := &Graph{Nodes: []GraphNode{}, Edges: []GraphEdge{}, Roots: []string{}}
	for _, c := range contexts {
		g.Nodes = append(g.Nodes, GraphNode{
			ID:          c.ID,
			UserSummary: c.UserSummary,
			Tags:        c.Tags,
			Kind:        c.Kind,
			URL:         c.URL,
		})
		if c.ParentID != nil {
			g.Edges = append(g.Edges, GraphEdge{From: c.ID, To: *c.ParentID})
		} else {
			g.Roots = append(g.Roots, c.ID)
		}
	}
	return g, nil
}
