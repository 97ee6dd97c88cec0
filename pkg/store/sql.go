package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/browserflow/browserflow/pkg/config"
	"github.com/browserflow/browserflow/pkg/logger"
	"github.com/browserflow/browserflow/pkg/task"

	// Database drivers
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a row does not exist or belongs to another user.
var ErrNotFound = errors.New("not found")

// SQLStore persists contexts, tasks, and integration credentials over
// database/sql. Supported dialects: postgres, sqlite.
type SQLStore struct {
	db      *sql.DB
	dialect string
	logger  *slog.Logger
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS user_contexts (
    id VARCHAR(255) PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    raw_content TEXT NOT NULL,
    user_summary TEXT,
    tags TEXT,
    embedding TEXT,
    url TEXT,
    kind VARCHAR(20) NOT NULL,
    parent_context_id VARCHAR(255),
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_user_contexts_user_id ON user_contexts(user_id);
CREATE INDEX IF NOT EXISTS idx_user_contexts_parent ON user_contexts(parent_context_id);

CREATE TABLE IF NOT EXISTS user_tasks (
    id VARCHAR(255) PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    task_type VARCHAR(64) NOT NULL,
    input TEXT,
    output TEXT,
    context_ids TEXT,
    status VARCHAR(20) NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_user_tasks_user_id ON user_tasks(user_id);
CREATE INDEX IF NOT EXISTS idx_user_tasks_task_type ON user_tasks(task_type);

CREATE TABLE IF NOT EXISTS user_integration_tokens (
    id VARCHAR(255) PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    integration VARCHAR(64) NOT NULL,
    secret TEXT,
    metadata TEXT,
    is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_integration_tokens_user ON user_integration_tokens(user_id, integration);
`

// NewSQLStore wraps an open connection. The schema is created if missing.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect, logger: logger.GetLogger()}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Open connects using the store configuration, configures the pool, and
// verifies connectivity.
func Open(cfg *config.StoreConfig) (*SQLStore, error) {
	// Config says "sqlite" but the driver registers as "sqlite3".
	driverName := cfg.Driver
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewSQLStore(db, cfg.Driver)
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

// ----------------------------------------------------------------------------
// Contexts
// ----------------------------------------------------------------------------

// CommitContexts inserts all rows in one transaction.
func (s *SQLStore) CommitContexts(ctx context.Context, contexts []*Context) error {
	if len(contexts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := s.rebind(`
INSERT INTO user_contexts (id, user_id, raw_content, user_summary, tags, embedding, url, kind, parent_context_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	for _, c := range contexts {
		tags, err := json.Marshal(c.Tags)
		if err != nil {
			return fmt.Errorf("failed to encode tags: %w", err)
		}
		var embedding interface{}
		if c.Embedding != nil {
			data, err := json.Marshal(c.Embedding)
			if err != nil {
				return fmt.Errorf("failed to encode embedding: %w", err)
			}
			embedding = string(data)
		}
		var parent interface{}
		if c.ParentID != nil {
			parent = *c.ParentID
		}

		if _, err := tx.ExecContext(ctx, query,
			c.ID, c.UserID, c.RawContent, c.UserSummary, string(tags),
			embedding, c.URL, string(c.Kind), parent, c.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert context %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit contexts: %w", err)
	}
	return nil
}

const contextColumns = `id, user_id, raw_content, user_summary, tags, embedding, url, kind, parent_context_id, created_at`

func scanContext(scanner interface {
	Scan(dest ...interface{}) error
}) (*Context, error) {
	var c Context
	var summary, tags, embedding, url, parent sql.NullString
	var kind string

	err := scanner.Scan(&c.ID, &c.UserID, &c.RawContent, &summary, &tags,
		&embedding, &url, &kind, &parent, &c.CreatedAt)
	if err != nil {
		return nil, err
	}

	c.UserSummary = summary.String
	c.URL = url.String
	c.Kind = Kind(kind)
	if parent.Valid {
		p := parent.String
		c.ParentID = &p
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &c.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
	}
	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &c.Embedding); err != nil {
			return nil, fmt.Errorf("failed to decode embedding: %w", err)
		}
	}
	return &c, nil
}

func (s *SQLStore) GetContext(ctx context.Context, id string) (*Context, error) {
	query := s.rebind(`SELECT ` + contextColumns + ` FROM user_contexts WHERE id = ?`)
	c, err := scanContext(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("context %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query context: %w", err)
	}
	return c, nil
}

// GetContextsByIDs fetches the given ids, skipping any that do not exist.
func (s *SQLStore) GetContextsByIDs(ctx context.Context, ids []string) ([]*Context, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	query := s.rebind(`SELECT ` + contextColumns + ` FROM user_contexts WHERE id IN (` + placeholders + `) ORDER BY created_at`)

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.queryContexts(ctx, query, args...)
}

func (s *SQLStore) ListContextsByUser(ctx context.Context, userID string) ([]*Context, error) {
	query := s.rebind(`SELECT ` + contextColumns + ` FROM user_contexts WHERE user_id = ? ORDER BY created_at`)
	return s.queryContexts(ctx, query, userID)
}

// ListRootContexts returns the user's contexts with no parent, oldest first.
// Only these are eligible as parent topics.
func (s *SQLStore) ListRootContexts(ctx context.Context, userID string) ([]*Context, error) {
	query := s.rebind(`SELECT ` + contextColumns + ` FROM user_contexts WHERE user_id = ? AND parent_context_id IS NULL ORDER BY created_at`)
	return s.queryContexts(ctx, query, userID)
}

func (s *SQLStore) queryContexts(ctx context.Context, query string, args ...interface{}) ([]*Context, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contexts: %w", err)
	}
	defer rows.Close()

	var out []*Context
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan context: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteContext removes a context. Children are orphaned, not deleted: their
// parent reference is cleared first.
func (s *SQLStore) DeleteContext(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		s.rebind(`UPDATE user_contexts SET parent_context_id = NULL WHERE parent_context_id = ?`), id); err != nil {
		return fmt.Errorf("failed to orphan children: %w", err)
	}

	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM user_contexts WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete context: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("context %s: %w", id, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Tasks
// ----------------------------------------------------------------------------

func (s *SQLStore) InsertTask(ctx context.Context, t *Task) error {
	input, err := json.Marshal(t.Input)
	if err != nil {
		return fmt.Errorf("failed to encode task input: %w", err)
	}
	output, err := json.Marshal(t.Output)
	if err != nil {
		return fmt.Errorf("failed to encode task output: %w", err)
	}
	contextIDs, err := json.Marshal(t.ContextIDs)
	if err != nil {
		return fmt.Errorf("failed to encode context ids: %w", err)
	}

	query := s.rebind(`
INSERT INTO user_tasks (id, user_id, task_type, input, output, context_ids, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = s.db.ExecContext(ctx, query,
		t.ID, t.UserID, string(t.TaskType), string(input), string(output),
		string(contextIDs), string(t.Status), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

const taskColumns = `id, user_id, task_type, input, output, context_ids, status, created_at`

func scanTask(scanner interface {
	Scan(dest ...interface{}) error
}) (*Task, error) {
	var t Task
	var taskType, status string
	var input, output, contextIDs sql.NullString

	err := scanner.Scan(&t.ID, &t.UserID, &taskType, &input, &output, &contextIDs, &status, &t.CreatedAt)
	if err != nil {
		return nil, err
	}

	t.TaskType = task.Type(taskType)
	t.Status = task.Status(status)
	if input.Valid && input.String != "" {
		if err := json.Unmarshal([]byte(input.String), &t.Input); err != nil {
			return nil, fmt.Errorf("failed to decode task input: %w", err)
		}
	}
	if output.Valid && output.String != "" {
		if err := json.Unmarshal([]byte(output.String), &t.Output); err != nil {
			return nil, fmt.Errorf("failed to decode task output: %w", err)
		}
	}
	if contextIDs.Valid && contextIDs.String != "" {
		if err := json.Unmarshal([]byte(contextIDs.String), &t.ContextIDs); err != nil {
			return nil, fmt.Errorf("failed to decode context ids: %w", err)
		}
	}
	return &t, nil
}

func (s *SQLStore) GetTask(ctx context.Context, userID, id string) (*Task, error) {
	query := s.rebind(`SELECT ` + taskColumns + ` FROM user_tasks WHERE id = ? AND user_id = ?`)
	t, err := scanTask(s.db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return t, nil
}

// ListTasksParams filters and paginates task listings.
type ListTasksParams struct {
	UserID   string
	TaskType task.Type
	Search   string
	Page     int
	PageSize int
}

// ListTasks returns one page of the user's tasks, newest first, plus the
// total match count. Search matches a substring of the stored input or
// output JSON.
func (s *SQLStore) ListTasks(ctx context.Context, p ListTasksParams) ([]*Task, int, error) {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 20
	}

	where := `WHERE user_id = ?`
	args := []interface{}{p.UserID}
	if p.TaskType != "" {
		where += ` AND task_type = ?`
		args = append(args, string(p.TaskType))
	}
	if p.Search != "" {
		where += ` AND (input LIKE ? OR output LIKE ?)`
		pattern := "%" + p.Search + "%"
		args = append(args, pattern, pattern)
	}

	var total int
	countQuery := s.rebind(`SELECT COUNT(*) FROM user_tasks ` + where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	query := s.rebind(`SELECT ` + taskColumns + ` FROM user_tasks ` + where +
		` ORDER BY created_at DESC LIMIT ? OFFSET ?`)
	args = append(args, p.PageSize, (p.Page-1)*p.PageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// ----------------------------------------------------------------------------
// Integration credentials
// ----------------------------------------------------------------------------

// UpsertIntegration stores a credential for (user, integration). An existing
// row is overwritten and revived; the live-row uniqueness invariant holds
// either way.
func (s *SQLStore) UpsertIntegration(ctx context.Context, userID, integration, secret string, metadata map[string]interface{}) (*IntegrationToken, error) {
	integration = strings.ToLower(strings.TrimSpace(integration))
	if integration == "" {
		return nil, fmt.Errorf("integration name is required")
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing IntegrationToken
	err = tx.QueryRowContext(ctx,
		s.rebind(`SELECT id, created_at FROM user_integration_tokens WHERE user_id = ? AND integration = ?`),
		userID, integration,
	).Scan(&existing.ID, &existing.CreatedAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing.ID = uuid.NewString()
		existing.CreatedAt = now
		_, err = tx.ExecContext(ctx, s.rebind(`
INSERT INTO user_integration_tokens (id, user_id, integration, secret, metadata, is_deleted, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			existing.ID, userID, integration, secret, string(metadataJSON), false, now, now)
	case err == nil:
		_, err = tx.ExecContext(ctx, s.rebind(`
UPDATE user_integration_tokens SET secret = ?, metadata = ?, is_deleted = ?, updated_at = ? WHERE id = ?`),
			secret, string(metadataJSON), false, now, existing.ID)
	default:
		return nil, fmt.Errorf("failed to query integration: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert integration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit upsert: %w", err)
	}

	return &IntegrationToken{
		ID:          existing.ID,
		UserID:      userID,
		Integration: integration,
		Secret:      secret,
		Metadata:    metadata,
		CreatedAt:   existing.CreatedAt,
		UpdatedAt:   now,
	}, nil
}

// GetIntegration returns the live credential for (user, integration).
func (s *SQLStore) GetIntegration(ctx context.Context, userID, integration string) (*IntegrationToken, error) {
	integration = strings.ToLower(strings.TrimSpace(integration))
	query := s.rebind(`
SELECT id, user_id, integration, secret, metadata, is_deleted, created_at, updated_at
FROM user_integration_tokens
WHERE user_id = ? AND integration = ? AND is_deleted = ?`)

	t, err := scanIntegration(s.db.QueryRowContext(ctx, query, userID, integration, false))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("integration %s: %w", integration, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query integration: %w", err)
	}
	return t, nil
}

// ListIntegrations returns the user's live credentials.
func (s *SQLStore) ListIntegrations(ctx context.Context, userID string) ([]*IntegrationToken, error) {
	query := s.rebind(`
SELECT id, user_id, integration, secret, metadata, is_deleted, created_at, updated_at
FROM user_integration_tokens
WHERE user_id = ? AND is_deleted = ?
ORDER BY integration`)

	rows, err := s.db.QueryContext(ctx, query, userID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to query integrations: %w", err)
	}
	defer rows.Close()

	var out []*IntegrationToken
	for rows.Next() {
		t, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan integration: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SoftDeleteIntegration marks the credential deleted without removing it.
func (s *SQLStore) SoftDeleteIntegration(ctx context.Context, userID, integration string) error {
	integration = strings.ToLower(strings.TrimSpace(integration))
	res, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE user_integration_tokens SET is_deleted = ?, updated_at = ?
WHERE user_id = ? AND integration = ? AND is_deleted = ?`),
		true, time.Now().UTC(), userID, integration, false)
	if err != nil {
		return fmt.Errorf("failed to delete integration: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("integration %s: %w", integration, ErrNotFound)
	}
	return nil
}

func scanIntegration(scanner interface {
	Scan(dest ...interface{}) error
}) (*IntegrationToken, error) {
	var t IntegrationToken
	var secret, metadata sql.NullString

	err := scanner.Scan(&t.ID, &t.UserID, &t.Integration, &secret, &metadata,
		&t.Deleted, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Secret = secret.String
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &t, nil
}
