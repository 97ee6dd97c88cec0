package store

import (
	"strings"
	"time"

	"github.com/browserflow/browserflow/pkg/task"
)

// Kind classifies a context's content.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Context is one ingested unit of user content.
type Context struct {
	ID          string    `json:"context_id"`
	UserID      string    `json:"user_id"`
	RawContent  string    `json:"raw_content"`
	UserSummary string    `json:"user_summary,omitempty"`
	Tags        []string  `json:"tags"`
	Embedding   []float32 `json:"-"`
	URL         string    `json:"url,omitempty"`
	Kind        Kind      `json:"kind"`
	ParentID    *string   `json:"parent_context_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ScoredContext is a similarity-search hit.
type ScoredContext struct {
	Context    *Context `json:"context"`
	Similarity float64  `json:"similarity"`
}

// Task is one persisted orchestration outcome.
type Task struct {
	ID         string                 `json:"task_id"`
	UserID     string                 `json:"user_id"`
	TaskType   task.Type              `json:"task_type"`
	Input      map[string]interface{} `json:"input,omitempty"`
	Output     map[string]interface{} `json:"output,omitempty"`
	ContextIDs []string               `json:"context_ids"`
	Status     task.Status            `json:"status"`
	CreatedAt  time.Time              `json:"created_at"`
}

// IntegrationToken is a per-user credential for an external integration.
// At most one non-deleted row exists per (user, integration).
type IntegrationToken struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"user_id"`
	Integration string                 `json:"integration"`
	Secret      string                 `json:"-"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Deleted     bool                   `json:"deleted"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// NormalizeTags trims whitespace, drops empties, and removes duplicates
// while preserving insertion order. The operation is idempotent.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// TagOverlap counts tags present in both sets.
func TagOverlap(a, b []string) int {
	set := make(map[string]bool, len(a))
	for _, tag := range a {
		set[tag] = true
	}
	count := 0
	for _, tag := range b {
		if set[tag] {
			count++
		}
	}
	return count
}
