package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserflow/browserflow/pkg/llms"
)

type stubServer struct {
	name  string
	tools []string
}

func (s *stubServer) Name() string { return s.name }

func (s *stubServer) Tools(ctx context.Context) ([]llms.ToolDef, error) {
	defs := make([]llms.ToolDef, 0, len(s.tools))
	for _, name := range s.tools {
		defs = append(defs, llms.ToolDef{Name: name})
	}
	return defs, nil
}

func (s *stubServer) Call(ctx context.Context, tool string, args map[string]interface{}) (string, error) {
	return "ok", nil
}

func TestParseQualifiedName(t *testing.T) {
	for _, tc := range []struct {
		in           string
		server, tool string
		ok           bool
	}{
		{"svc.notes.create_page", "notes", "create_page", true},
		{"notes.create_page", "notes", "create_page", true},
		{"notes__create_page", "notes", "create_page", true},
		{"justaname", "", "", false},
		{"", "", "", false},
	} {
		server, tool, ok := ParseQualifiedName(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.server, server, tc.in)
		assert.Equal(t, tc.tool, tool, tc.in)
	}

	assert.Equal(t, "svc.writer.write_rows", QualifiedName("writer", "write_rows"))
}

func TestToolkitsForMissing(t *testing.T) {
	kits := ToolkitsForMissing([]string{
		"svc.notes.create_page",
		"mcp__notes__search_pages",
		"svc.writer.write_rows",
		"svc.unknown.thing",
		"bareword",
	})
	assert.Equal(t, []string{"fallback", "notes", "sheets"}, kits)

	assert.Empty(t, ToolkitsForMissing(nil))
}

func TestComposer_BuiltinsOnly(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterServer(&stubServer{name: "writer", tools: []string{"write_rows", "read_sheet"}}))
	require.NoError(t, reg.RegisterServer(&stubServer{name: "notes", tools: []string{"create_page"}}))

	c := NewComposer(reg, nil)
	surface, err := c.Compose(context.Background(), ComposeParams{
		UserID:          "u1",
		RequiredServers: []string{"writer", "notes"},
		RequiredTools:   []string{"svc.writer.write_rows", "svc.notes.create_page"},
	})
	require.NoError(t, err)

	assert.Len(t, surface.Servers, 2)
	assert.Contains(t, surface.Allowed, "writer__write_rows")
	assert.Contains(t, surface.Allowed, "notes__create_page")
	assert.Empty(t, surface.Missing)
}

func TestComposer_ToolOutsideRequiredServers(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterServer(&stubServer{name: "writer", tools: []string{"write_rows"}}))
	require.NoError(t, reg.RegisterServer(&stubServer{name: "notes", tools: []string{"create_page"}}))

	c := NewComposer(reg, nil)
	surface, err := c.Compose(context.Background(), ComposeParams{
		UserID:          "u1",
		RequiredServers: []string{"notes"},
		RequiredTools:   []string{"svc.writer.write_rows"},
		UseFallback:     true,
	})
	require.NoError(t, err)

	// The writer server is registered but not required, so its tool stays
	// unsatisfied instead of being resolved from the full registry.
	assert.NotContains(t, surface.Servers, "writer")
	assert.Contains(t, surface.Servers, "notes")
	assert.Equal(t, []string{"svc.writer.write_rows"}, surface.Missing)
	assert.NotContains(t, surface.Allowed, "writer__write_rows")
}

func TestFallbackToolkits(t *testing.T) {
	// Inference from the unsatisfied names.
	kits := fallbackToolkits(nil, []string{"svc.writer.write_rows"}, []string{"board"})
	assert.Equal(t, []string{"board", "sheets"}, kits)

	// A descriptor override wins over inference.
	kits = fallbackToolkits([]string{"crm", "sheets", "crm"},
		[]string{"svc.writer.write_rows"}, []string{"board"})
	assert.Equal(t, []string{"crm", "sheets"}, kits)

	assert.Equal(t, []string{FallbackServerName}, fallbackToolkits(nil, nil, nil))
}

func TestComposer_WholesaleServer(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterServer(&stubServer{name: "writer", tools: []string{"write_rows", "read_sheet"}}))

	c := NewComposer(reg, nil)
	surface, err := c.Compose(context.Background(), ComposeParams{
		UserID:          "u1",
		RequiredServers: []string{"writer"},
	})
	require.NoError(t, err)

	assert.Len(t, surface.Servers, 1)
	assert.Empty(t, surface.Allowed, "no restriction without required tools")
}

func TestComposer_MissingWithoutFallback(t *testing.T) {
	c := NewComposer(NewRegistry(), nil)

	surface, err := c.Compose(context.Background(), ComposeParams{
		UserID:        "u1",
		RequiredTools: []string{"svc.board.create_card"},
		UseFallback:   true,
	})
	require.NoError(t, err)

	assert.Empty(t, surface.Servers)
	assert.Equal(t, []string{"svc.board.create_card"}, surface.Missing)
}
