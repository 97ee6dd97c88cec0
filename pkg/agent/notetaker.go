package agent

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/browserflow/browserflow/pkg/task"
	"github.com/browserflow/browserflow/pkg/tools"
)

// NoteTakingAgentID is the factory key for the note-taking agent.
const NoteTakingAgentID = "note_taking_agent"

const noteSystemPrompt = `You prepare API payloads for a collaborative notes service.
Always answer with ONLY one JSON object matching the requested payload shape.
Content blocks use {"type": ..., "text": ...} with types: paragraph, heading_1,
heading_2, to_do (with "checked"), bulleted_list_item, numbered_list_item,
quote, code (with "language"), divider.`

const previewLimit = 200

// NoteTakingAgent saves content to the notes service in three phases:
// search for a matching page, then either append blocks to the best match
// or create a new page. The reasoner only produces API payloads; all calls
// go through the notes client.
type NoteTakingAgent struct {
	BaseAgent
	notes *tools.NotesClient
}

func NewNoteTakingAgent(config map[string]interface{}) (Agent, error) {
	a := &NoteTakingAgent{BaseAgent: NewBaseAgent(NoteTakingAgentID)}
	a.SetPrompts(NewPromptManager(noteSystemPrompt))
	return a, nil
}

func (a *NoteTakingAgent) SetNotes(client *tools.NotesClient) {
	a.notes = client
}

func (a *NoteTakingAgent) Execute(ctx context.Context, input map[string]interface{}, execCtx *Context) *Result {
	if a.notes == nil {
		return Failed("notes client is not configured")
	}

	content := noteContent(input, execCtx)
	if strings.TrimSpace(content) == "" {
		return Failed("no content to save")
	}
	intent := noteIntent(input, execCtx)

	page, failure := a.searchPhase(ctx, content, intent)
	if failure != nil {
		return failure
	}
	if page != nil {
		return a.appendPhase(ctx, page, content, intent)
	}
	return a.createPhase(ctx, content, intent)
}

// searchPhase asks the reasoner for a search payload and runs it. A nil
// page with nil failure means no match was found.
func (a *NoteTakingAgent) searchPhase(ctx context.Context, content, intent string) (*tools.Page, *Result) {
	payload, result := a.ReasonJSON(ctx,
		"Produce a search payload {\"query\": ..., \"page_size\"?: ...} to find an "+
			"existing page this content belongs to.",
		map[string]interface{}{"content": content, "user_request": intent})
	if result.Failed() {
		return nil, Failed("reasoner error during search: " + result.Err)
	}
	if payload == nil {
		return nil, Failed("search phase produced no JSON payload")
	}
	query, _ := payload["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, Failed("search payload is missing the query field")
	}

	search := tools.SearchPayload{Query: query}
	if n, ok := payload["page_size"].(float64); ok {
		search.PageSize = int(n)
	}
	if filter, ok := payload["filter"].(map[string]interface{}); ok {
		search.Filter = filter
	}

	pages, err := a.notes.Search(ctx, search)
	if err != nil {
		return nil, Failed(fmt.Sprintf("notes search failed: %v", err))
	}
	if len(pages) == 0 {
		return nil, nil
	}
	return &pages[0], nil
}

func (a *NoteTakingAgent) appendPhase(ctx context.Context, page *tools.Page, content, intent string) *Result {
	payload, result := a.ReasonJSON(ctx,
		"Produce an append payload {\"page_id\": ..., \"blocks\": [...]} adding this "+
			"content to the existing page.",
		map[string]interface{}{
			"content":      content,
			"user_request": intent,
			"page_id":      page.ID,
			"page_title":   page.TitlePlain,
		})
	if result.Failed() {
		return Failed("reasoner error during append: " + result.Err)
	}
	if payload == nil {
		return Failed("append phase produced no JSON payload")
	}

	rawBlocks, _ := payload["blocks"].([]interface{})
	blocks := tools.BlocksFromSpecs(rawBlocks)
	if len(blocks) == 0 {
		return Failed("append payload is missing content blocks")
	}
	pageID, _ := payload["page_id"].(string)
	if pageID == "" {
		pageID = page.ID
	}

	updated, err := a.notes.AppendBlocks(ctx, pageID, blocks)
	if err != nil {
		return Failed(fmt.Sprintf("failed to append to page: %v", err))
	}

	return &Result{
		Status: task.StatusCompleted,
		Result: map[string]interface{}{
			"page_id":         updated.ID,
			"url":             updated.URL,
			"summary":         fmt.Sprintf("appended %d blocks to %q", len(blocks), page.TitlePlain),
			"content_preview": preview(content),
		},
	}
}

func (a *NoteTakingAgent) createPhase(ctx context.Context, content, intent string) *Result {
	payload, result := a.ReasonJSON(ctx,
		"No existing page matched. Produce a create payload {\"title\": ..., "+
			"\"children\": [...], \"parent_page_id\"?: ...} for a new page holding this content.",
		map[string]interface{}{"content": content, "user_request": intent})
	if result.Failed() {
		return Failed("reasoner error during create: " + result.Err)
	}
	if payload == nil {
		return Failed("create phase produced no JSON payload")
	}

	title, _ := payload["title"].(string)
	if strings.TrimSpace(title) == "" {
		return Failed("create payload is missing the title field")
	}
	children, _ := payload["children"].([]interface{})
	parentID, _ := payload["parent_page_id"].(string)

	blocks := tools.BlocksFromSpecs(children)
	if len(blocks) == 0 {
		blocks = []tools.Block{tools.ParagraphBlock(content)}
	}

	page, err := a.notes.CreatePage(ctx, tools.CreatePageParams{
		ParentPageID: parentID,
		Title:        title,
		Children:     blocks,
	})
	if err != nil {
		return Failed(fmt.Sprintf("failed to create page: %v", err))
	}

	return &Result{
		Status: task.StatusCompleted,
		Result: map[string]interface{}{
			"page_id":         page.ID,
			"url":             page.URL,
			"summary":         fmt.Sprintf("created page %q", title),
			"content_preview": preview(content),
		},
	}
}

func noteContent(input map[string]interface{}, execCtx *Context) string {
	for _, key := range []string{"selected_text", "content", "text"} {
		if s, ok := input[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	if execCtx != nil {
		return execCtx.UserText
	}
	return ""
}

func noteIntent(input map[string]interface{}, execCtx *Context) string {
	for _, key := range []string{"user_context", "intent", "instruction"} {
		if s, ok := input[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	if execCtx != nil && execCtx.Identification != nil {
		return execCtx.Identification.Reasoning
	}
	return ""
}

func preview(content string) string {
	content = strings.TrimSpace(content)
	if len(content) <= previewLimit {
		return content
	}
	cut := previewLimit
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}
