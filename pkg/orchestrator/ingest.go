package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/browserflow/browserflow/pkg/llms"
	"github.com/browserflow/browserflow/pkg/logger"
	"github.com/browserflow/browserflow/pkg/store"
)

const ingestSystemPrompt = `You split user-provided content into knowledge contexts.
Respond with ONLY a JSON array of entries:
[{"url": ..., "title": ..., "tags": [...], "content": ..., "short_summary": ...}]
Tags are short lowercase topic words. Content is the full relevant text.
When given URLs, fetch each one and produce one entry per URL.`

// fallbackTag marks the context created from raw input when the splitting
// call produces nothing usable.
const fallbackTag = "user_input"

// Ingestor turns a request's raw input into committed contexts. The
// splitting reasoner's output stays in memory between the call and the
// store writes.
type Ingestor struct {
	contexts *store.ContextStore
	reasoner *llms.Reasoner

	// webServer, when set, gives the splitting call a fetch tool for
	// URL-bearing requests.
	webServer llms.ToolServer
	logger    *slog.Logger
}

func NewIngestor(contexts *store.ContextStore, reasoner *llms.Reasoner, webServer llms.ToolServer) *Ingestor {
	return &Ingestor{
		contexts:  contexts,
		reasoner:  reasoner,
		webServer: webServer,
		logger:    logger.GetLogger(),
	}
}

// IngestResult carries the committed context ids and the union of their
// tags, in first-seen order.
type IngestResult struct {
	ContextIDs []string
	Tags       []string
}

// Ingest splits the input into contexts and commits them in one batch.
// Per-entry failures are logged and skipped; if nothing survives, a single
// fallback context is built from the raw input. Only a commit failure is
// returned as an error.
func (in *Ingestor) Ingest(ctx context.Context, userID, selectedText, userContext string, urls []string) (*IngestResult, error) {
	entries := in.splitEntries(ctx, selectedText, userContext, urls)

	batch := in.contexts.NewBatch()
	result := &IngestResult{}
	tagSeen := make(map[string]bool)

	for _, entry := range entries {
		summary := entry.summary
		if summary == "" {
			summary = entry.title
		}
		created, err := in.contexts.Create(ctx, store.CreateContextParams{
			RawContent:  entry.content,
			UserSummary: summary,
			Tags:        entry.tags,
			UserID:      userID,
			URL:         entry.url,
			Kind:        store.KindText,
			FindParent:  true,
		}, batch)
		if err != nil {
			in.logger.Warn("context creation failed, skipping entry",
				"user_id", userID, "error", err)
			continue
		}
		result.ContextIDs = append(result.ContextIDs, created.ID)
		for _, tag := range created.Tags {
			if !tagSeen[tag] {
				tagSeen[tag] = true
				result.Tags = append(result.Tags, tag)
			}
		}
	}

	if len(result.ContextIDs) == 0 {
		raw := strings.TrimSpace(strings.Join(
			nonEmpty(selectedText, userContext, strings.Join(urls, "\n")), "\n\n"))
		created, err := in.contexts.Create(ctx, store.CreateContextParams{
			RawContent: raw,
			Tags:       []string{fallbackTag},
			UserID:     userID,
			Kind:       store.KindText,
		}, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to create fallback context: %w", err)
		}
		result.ContextIDs = []string{created.ID}
		result.Tags = []string{fallbackTag}
	}

	if err := in.contexts.Commit(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to commit ingested contexts: %w", err)
	}
	return result, nil
}

type ingestEntry struct {
	url     string
	title   string
	tags    []string
	content string
	summary string
}

// splitEntries runs the context-processing reasoner call. Any failure
// yields an empty list; the caller falls back to the raw input.
func (in *Ingestor) splitEntries(ctx context.Context, selectedText, userContext string, urls []string) []ingestEntry {
	req := llms.Request{
		System: ingestSystemPrompt,
		Caller: "context_ingest",
	}

	if len(urls) > 0 {
		req.Prompt = "Produce one context entry per URL:\n" + strings.Join(urls, "\n")
		if in.webServer != nil {
			req.Servers = map[string]llms.ToolServer{in.webServer.Name(): in.webServer}
		}
	} else {
		req.Prompt = "Split this content into context entries:\n\n" +
			strings.Join(nonEmpty(selectedText, userContext), "\n\n")
	}

	result := in.reasoner.Reason(ctx, req)
	if result.Failed() {
		in.logger.Warn("context splitting failed", "error", result.Err)
		return nil
	}

	arr, err := llms.FirstJSONArray(result.Text)
	if err != nil {
		in.logger.Warn("context splitting produced no JSON array", "error", err)
		return nil
	}

	var entries []ingestEntry
	for _, raw := range arr {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		entry := ingestEntry{}
		entry.url, _ = m["url"].(string)
		entry.title, _ = m["title"].(string)
		entry.content, _ = m["content"].(string)
		entry.summary, _ = m["short_summary"].(string)
		if rawTags, ok := m["tags"].([]interface{}); ok {
			for _, t := range rawTags {
				if s, ok := t.(string); ok {
					entry.tags = append(entry.tags, s)
				}
			}
		}
		if strings.TrimSpace(entry.content) == "" {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
