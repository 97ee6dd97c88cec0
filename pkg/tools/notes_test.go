package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserflow/browserflow/pkg/config"
)

func newTestNotesClient(t *testing.T, handler http.HandlerFunc) *NotesClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.NotesConfig{BaseURL: server.URL, Token: "test-token"}
	cfg.SetDefaults()
	cfg.BaseURL = server.URL
	cfg.Token = "test-token"

	client, err := NewNotesClient(cfg)
	require.NoError(t, err)
	return client
}

func TestNotesClient_Search(t *testing.T) {
	client := newTestNotesClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "2022-06-28", r.Header.Get("Notion-Version"))

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "groceries", payload["query"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []interface{}{
				map[string]interface{}{
					"id":  "page-1",
					"url": "https://notes.example/page-1",
					"properties": map[string]interface{}{
						"title": map[string]interface{}{
							"type": "title",
							"title": []interface{}{
								map[string]interface{}{"plain_text": "Groceries "},
								map[string]interface{}{"plain_text": "2026"},
							},
						},
					},
				},
			},
		})
	})

	pages, err := client.Search(context.Background(), SearchPayload{Query: "groceries"})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "page-1", pages[0].ID)
	assert.Equal(t, "Groceries 2026", pages[0].TitlePlain)
}

func TestNotesClient_CreatePage(t *testing.T) {
	client := newTestNotesClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pages", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		parent := payload["parent"].(map[string]interface{})
		assert.Equal(t, "parent-1", parent["page_id"])
		assert.Len(t, payload["children"], 2)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "page-2", "url": "https://notes.example/page-2",
		})
	})

	page, err := client.CreatePage(context.Background(), CreatePageParams{
		ParentPageID: "parent-1",
		Title:        "Trip plan",
		Children:     []Block{Heading1Block("Day 1"), ParagraphBlock("Arrive")},
	})
	require.NoError(t, err)
	assert.Equal(t, "page-2", page.ID)
	assert.Equal(t, "Trip plan", page.TitlePlain)

	_, err = client.CreatePage(context.Background(), CreatePageParams{Title: "  "})
	assert.Error(t, err)
}

func TestNotesClient_AppendBlocks(t *testing.T) {
	client := newTestNotesClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPatch:
			assert.Equal(t, "/blocks/page-3/children", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]interface{}{"results": []interface{}{}})
		case r.Method == http.MethodGet:
			assert.Equal(t, "/pages/page-3", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"id": "page-3", "url": "https://notes.example/page-3",
			})
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	})

	page, err := client.AppendBlocks(context.Background(), "page-3",
		[]Block{TodoBlock("buy milk", false)})
	require.NoError(t, err)
	assert.Equal(t, "page-3", page.ID)

	_, err = client.AppendBlocks(context.Background(), "", []Block{ParagraphBlock("x")})
	assert.Error(t, err)
	_, err = client.AppendBlocks(context.Background(), "page-3", nil)
	assert.Error(t, err)
}

func TestNotesClient_APIError(t *testing.T) {
	client := newTestNotesClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{"message": "invalid parent"})
	})

	_, err := client.CreatePage(context.Background(), CreatePageParams{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid parent")
}

func TestBlockFromSpec(t *testing.T) {
	b := BlockFromSpec(map[string]interface{}{"type": "to_do", "text": "call bank", "checked": true})
	assert.Equal(t, "to_do", b["type"])
	todo := b["to_do"].(map[string]interface{})
	assert.Equal(t, true, todo["checked"])

	b = BlockFromSpec(map[string]interface{}{"type": "code", "content": "x := 1", "language": "go"})
	code := b["code"].(map[string]interface{})
	assert.Equal(t, "go", code["language"])

	// Unknown types degrade to paragraph.
	b = BlockFromSpec(map[string]interface{}{"type": "hologram", "text": "hi"})
	assert.Equal(t, "paragraph", b["type"])

	b = BlockFromSpec(map[string]interface{}{"type": "divider"})
	assert.Equal(t, "divider", b["type"])
}

func TestNotesServer_Tools(t *testing.T) {
	client := newTestNotesClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"results": []interface{}{}})
	})
	server := NewNotesServer(client)

	assert.Equal(t, "notes", server.Name())

	defs, err := server.Tools(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{"search_pages", "create_page", "append_blocks"}, names)

	out, err := server.Call(context.Background(), "search_pages",
		map[string]interface{}{"query": "anything"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"results":[]}`, out)

	_, err = server.Call(context.Background(), "nope", nil)
	assert.Error(t, err)
}
