package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/browserflow/browserflow/pkg/config"
	"github.com/browserflow/browserflow/pkg/llms"
	"github.com/browserflow/browserflow/pkg/logger"
)

// Page is the normalised shape every notes API call returns.
type Page struct {
	ID         string `json:"page_id"`
	URL        string `json:"url,omitempty"`
	TitlePlain string `json:"title_plain,omitempty"`
}

// Block is one content block in the notes service's taxonomy.
type Block map[string]interface{}

func richText(text string) []interface{} {
	return []interface{}{
		map[string]interface{}{
			"type": "text",
			"text": map[string]interface{}{"content": text},
		},
	}
}

func textBlock(blockType, text string) Block {
	return Block{
		"object":  "block",
		"type":    blockType,
		blockType: map[string]interface{}{"rich_text": richText(text)},
	}
}

func ParagraphBlock(text string) Block { return textBlock("paragraph", text) }
func Heading1Block(text string) Block  { return textBlock("heading_1", text) }
func Heading2Block(text string) Block  { return textBlock("heading_2", text) }
func QuoteBlock(text string) Block     { return textBlock("quote", text) }

func BulletedItemBlock(text string) Block { return textBlock("bulleted_list_item", text) }
func NumberedItemBlock(text string) Block { return textBlock("numbered_list_item", text) }

func TodoBlock(text string, checked bool) Block {
	return Block{
		"object": "block",
		"type":   "to_do",
		"to_do": map[string]interface{}{
			"rich_text": richText(text),
			"checked":   checked,
		},
	}
}

func CodeBlock(text, language string) Block {
	if language == "" {
		language = "plain text"
	}
	return Block{
		"object": "block",
		"type":   "code",
		"code": map[string]interface{}{
			"rich_text": richText(text),
			"language":  language,
		},
	}
}

func DividerBlock() Block {
	return Block{"object": "block", "type": "divider", "divider": map[string]interface{}{}}
}

// BlockFromSpec builds a Block from a loose {type, text, checked, language}
// description, as produced by reasoner payloads. Unknown types fall back to
// paragraph.
func BlockFromSpec(spec map[string]interface{}) Block {
	blockType, _ := spec["type"].(string)
	text, _ := spec["text"].(string)
	if text == "" {
		text, _ = spec["content"].(string)
	}

	switch blockType {
	case "heading_1":
		return Heading1Block(text)
	case "heading_2":
		return Heading2Block(text)
	case "to_do":
		checked, _ := spec["checked"].(bool)
		return TodoBlock(text, checked)
	case "bulleted_list_item":
		return BulletedItemBlock(text)
	case "numbered_list_item":
		return NumberedItemBlock(text)
	case "quote":
		return QuoteBlock(text)
	case "code":
		language, _ := spec["language"].(string)
		return CodeBlock(text, language)
	case "divider":
		return DividerBlock()
	default:
		return ParagraphBlock(text)
	}
}

// BlocksFromSpecs converts a list of loose block descriptions.
func BlocksFromSpecs(specs []interface{}) []Block {
	out := make([]Block, 0, len(specs))
	for _, raw := range specs {
		if m, ok := raw.(map[string]interface{}); ok {
			out = append(out, BlockFromSpec(m))
		}
	}
	return out
}

// NotesClient talks to the external collaborative-notes API.
type NotesClient struct {
	baseURL string
	token   string
	version string
	client  *http.Client
	logger  *slog.Logger
}

func NewNotesClient(cfg *config.NotesConfig) (*NotesClient, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("notes API token is required")
	}
	return &NotesClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		version: cfg.Version,
		client:  &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		logger:  logger.GetLogger(),
	}, nil
}

// WithToken returns a client bound to a different credential, for per-user
// integration tokens.
func (c *NotesClient) WithToken(token string) *NotesClient {
	clone := *c
	clone.token = token
	return &clone
}

func (c *NotesClient) request(ctx context.Context, method, path string, payload interface{}) (map[string]interface{}, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.version)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call notes API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		message, _ := out["message"].(string)
		return nil, fmt.Errorf("notes API returned status %d: %s", resp.StatusCode, message)
	}
	return out, nil
}

// SearchPayload narrows a page search.
type SearchPayload struct {
	Query       string                 `json:"query"`
	Filter      map[string]interface{} `json:"filter,omitempty"`
	Sort        map[string]interface{} `json:"sort,omitempty"`
	PageSize    int                    `json:"page_size,omitempty"`
	StartCursor string                 `json:"start_cursor,omitempty"`
}

// Search returns matching pages, most relevant first.
func (c *NotesClient) Search(ctx context.Context, payload SearchPayload) ([]Page, error) {
	if payload.PageSize == 0 {
		payload.PageSize = 10
	}
	out, err := c.request(ctx, http.MethodPost, "/search", payload)
	if err != nil {
		return nil, err
	}

	results, _ := out["results"].([]interface{})
	pages := make([]Page, 0, len(results))
	for _, raw := range results {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		pages = append(pages, normalisePage(m))
	}
	return pages, nil
}

// CreatePageParams creates a new page, optionally under a parent page and
// with initial content blocks.
type CreatePageParams struct {
	ParentPageID string
	Title        string
	Children     []Block
}

func (c *NotesClient) CreatePage(ctx context.Context, params CreatePageParams) (*Page, error) {
	if strings.TrimSpace(params.Title) == "" {
		return nil, fmt.Errorf("page title is required")
	}

	var parent map[string]interface{}
	if params.ParentPageID != "" {
		parent = map[string]interface{}{"type": "page_id", "page_id": params.ParentPageID}
	} else {
		parent = map[string]interface{}{"type": "workspace", "workspace": true}
	}

	payload := map[string]interface{}{
		"parent": parent,
		"properties": map[string]interface{}{
			"title": map[string]interface{}{"title": richText(params.Title)},
		},
	}
	if len(params.Children) > 0 {
		payload["children"] = params.Children
	}

	out, err := c.request(ctx, http.MethodPost, "/pages", payload)
	if err != nil {
		return nil, err
	}
	page := normalisePage(out)
	if page.TitlePlain == "" {
		page.TitlePlain = params.Title
	}
	return &page, nil
}

// AppendBlocks adds blocks to the end of an existing page.
func (c *NotesClient) AppendBlocks(ctx context.Context, pageID string, blocks []Block) (*Page, error) {
	if pageID == "" {
		return nil, fmt.Errorf("page id is required")
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("at least one block is required")
	}

	_, err := c.request(ctx, http.MethodPatch, "/blocks/"+pageID+"/children",
		map[string]interface{}{"children": blocks})
	if err != nil {
		return nil, err
	}
	return c.GetPage(ctx, pageID)
}

// GetPage fetches one page in the normalised shape.
func (c *NotesClient) GetPage(ctx context.Context, pageID string) (*Page, error) {
	out, err := c.request(ctx, http.MethodGet, "/pages/"+pageID, nil)
	if err != nil {
		return nil, err
	}
	page := normalisePage(out)
	return &page, nil
}

func normalisePage(m map[string]interface{}) Page {
	page := Page{}
	page.ID, _ = m["id"].(string)
	page.URL, _ = m["url"].(string)

	properties, _ := m["properties"].(map[string]interface{})
	for _, raw := range properties {
		prop, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if propType, _ := prop["type"].(string); propType != "title" {
			continue
		}
		items, _ := prop["title"].([]interface{})
		var b strings.Builder
		for _, item := range items {
			if im, ok := item.(map[string]interface{}); ok {
				if plain, ok := im["plain_text"].(string); ok {
					b.WriteString(plain)
				}
			}
		}
		page.TitlePlain = b.String()
		break
	}
	return page
}

// ----------------------------------------------------------------------------
// Tool server adapter
// ----------------------------------------------------------------------------

// NotesServerName is the built-in notes server name.
const NotesServerName = "notes"

// NotesServer exposes the notes client as a tool server.
type NotesServer struct {
	client *NotesClient
}

func NewNotesServer(client *NotesClient) *NotesServer {
	return &NotesServer{client: client}
}

func (s *NotesServer) Name() string {
	return NotesServerName
}

func (s *NotesServer) Tools(ctx context.Context) ([]llms.ToolDef, error) {
	blocksSchema := map[string]interface{}{
		"type":  "array",
		"items": map[string]interface{}{"type": "object"},
	}

	return []llms.ToolDef{
		{
			Name:        "search_pages",
			Description: "Search pages by free-text query. Returns pages with page_id, url and title_plain.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query":     map[string]interface{}{"type": "string"},
					"page_size": map[string]interface{}{"type": "integer"},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "create_page",
			Description: "Create a new page with a title and optional content blocks.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title":          map[string]interface{}{"type": "string"},
					"parent_page_id": map[string]interface{}{"type": "string"},
					"children":       blocksSchema,
				},
				"required": []string{"title"},
			},
		},
		{
			Name:        "append_blocks",
			Description: "Append content blocks to an existing page.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"page_id": map[string]interface{}{"type": "string"},
					"blocks":  blocksSchema,
				},
				"required": []string{"page_id", "blocks"},
			},
		},
	}, nil
}

func (s *NotesServer) Call(ctx context.Context, tool string, args map[string]interface{}) (string, error) {
	switch tool {
	case "search_pages":
		query, _ := args["query"].(string)
		pageSize := 0
		if n, ok := args["page_size"].(float64); ok {
			pageSize = int(n)
		}
		pages, err := s.client.Search(ctx, SearchPayload{Query: query, PageSize: pageSize})
		if err != nil {
			return "", err
		}
		return marshalResult(map[string]interface{}{"results": pages})

	case "create_page":
		title, _ := args["title"].(string)
		parentID, _ := args["parent_page_id"].(string)
		children, _ := args["children"].([]interface{})
		page, err := s.client.CreatePage(ctx, CreatePageParams{
			ParentPageID: parentID,
			Title:        title,
			Children:     BlocksFromSpecs(children),
		})
		if err != nil {
			return "", err
		}
		return marshalResult(page)

	case "append_blocks":
		pageID, _ := args["page_id"].(string)
		blocks, _ := args["blocks"].([]interface{})
		page, err := s.client.AppendBlocks(ctx, pageID, BlocksFromSpecs(blocks))
		if err != nil {
			return "", err
		}
		return marshalResult(page)

	default:
		return "", fmt.Errorf("unknown tool: %s", tool)
	}
}
