package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// VectorIndex is an embedded cosine-similarity index over context
// embeddings, one collection per user. Vectors arrive pre-computed; the
// embedding function is never invoked.
type VectorIndex struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[string]*chromem.Collection

	embeddingFunc chromem.EmbeddingFunc
}

// NewVectorIndex opens the index. With a persist directory the index is
// stored on disk and reloaded across restarts; empty keeps it in memory.
func NewVectorIndex(persistDir string) (*VectorIndex, error) {
	var db *chromem.DB
	var err error

	if persistDir != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(persistDir, "vectors"), false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector index: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	return &VectorIndex{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		embeddingFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, fmt.Errorf("vectors must be pre-computed")
		},
	}, nil
}

func collectionName(userID string) string {
	return "user-" + userID
}

func (v *VectorIndex) collection(userID string) (*chromem.Collection, error) {
	name := collectionName(userID)

	v.mu.RLock()
	if col, ok := v.collections[name]; ok {
		v.mu.RUnlock()
		return col, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	if col, ok := v.collections[name]; ok {
		return col, nil
	}

	col, err := v.db.GetOrCreateCollection(name, nil, v.embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %q: %w", name, err)
	}
	v.collections[name] = col
	return col, nil
}

// Add indexes one context embedding.
func (v *VectorIndex) Add(ctx context.Context, userID, contextID string, embedding []float32) error {
	if len(embedding) == 0 {
		return nil
	}
	col, err := v.collection(userID)
	if err != nil {
		return err
	}

	doc := chromem.Document{ID: contextID, Content: contextID, Embedding: embedding}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("failed to index embedding: %w", err)
	}
	return nil
}

// Hit is one similarity-search result.
type Hit struct {
	ContextID  string
	Similarity float64
}

// Query returns up to k context ids nearest to the query vector, most
// similar first.
func (v *VectorIndex) Query(ctx context.Context, userID string, vector []float32, k int) ([]Hit, error) {
	col, err := v.collection(userID)
	if err != nil {
		return nil, err
	}

	// chromem rejects k larger than the collection size.
	if count := col.Count(); k > count {
		k = count
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{ContextID: r.ID, Similarity: float64(r.Similarity)})
	}
	return hits, nil
}

// Remove drops a context embedding from the index.
func (v *VectorIndex) Remove(ctx context.Context, userID, contextID string) error {
	col, err := v.collection(userID)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, contextID); err != nil {
		return fmt.Errorf("failed to remove embedding: %w", err)
	}
	return nil
}
