package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserflow/browserflow/pkg/config"
)

func newTestWriter(t *testing.T) *ExcelWriter {
	t.Helper()
	cfg := &config.ExcelConfig{Dir: t.TempDir()}
	cfg.SetDefaults()
	cfg.Dir = t.TempDir()

	w, err := NewExcelWriter(cfg)
	require.NoError(t, err)
	return w
}

func TestExcelWriter_ResolvePath(t *testing.T) {
	w := newTestWriter(t)

	path, err := w.ResolvePath("report")
	require.NoError(t, err)
	assert.Contains(t, path, "report.xlsx")

	_, err = w.ResolvePath("../escape.xlsx")
	assert.Error(t, err)

	_, err = w.ResolvePath("/etc/passwd")
	assert.Error(t, err)

	_, err = w.ResolvePath("  ")
	assert.Error(t, err)
}

func TestExcelWriter_WriteAppendRead(t *testing.T) {
	w := newTestWriter(t)

	columns := []string{"name", "price"}
	_, err := w.Write("items", "Inventory", columns, []map[string]interface{}{
		{"name": "keyboard", "price": 49.9},
	})
	require.NoError(t, err)
	assert.True(t, w.Exists("items"))

	// Appended rows follow the existing header even with extra keys.
	_, err = w.Append("items", "Inventory", nil, []map[string]interface{}{
		{"name": "mouse", "price": 19, "ignored": "x"},
	})
	require.NoError(t, err)

	cols, rows, err := w.Read("items", "Inventory")
	require.NoError(t, err)
	assert.Equal(t, columns, cols)
	require.Len(t, rows, 2)
	assert.Equal(t, "keyboard", rows[0]["name"])
	assert.Equal(t, "mouse", rows[1]["name"])
	assert.Equal(t, "19", rows[1]["price"])
}

func TestExcelWriter_AppendMissingFile(t *testing.T) {
	w := newTestWriter(t)

	_, err := w.Append("absent", "", []string{"a"}, []map[string]interface{}{{"a": "1"}})
	assert.Error(t, err)
}

func TestWriterServer_Call(t *testing.T) {
	server := NewWriterServer(newTestWriter(t))
	ctx := context.Background()

	assert.Equal(t, "writer", server.Name())

	defs, err := server.Tools(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{"write_rows", "append_rows", "read_sheet"}, names)

	out, err := server.Call(ctx, "write_rows", map[string]interface{}{
		"file_name": "calls",
		"columns":   []interface{}{"city"},
		"rows":      []interface{}{map[string]interface{}{"city": "Lisbon"}},
	})
	require.NoError(t, err)

	var written map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &written))
	assert.Contains(t, written["file_path"], "calls.xlsx")

	out, err = server.Call(ctx, "read_sheet", map[string]interface{}{"file_name": "calls"})
	require.NoError(t, err)

	var read struct {
		Columns []string            `json:"columns"`
		Rows    []map[string]string `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &read))
	assert.Equal(t, []string{"city"}, read.Columns)
	require.Len(t, read.Rows, 1)
	assert.Equal(t, "Lisbon", read.Rows[0]["city"])

	_, err = server.Call(ctx, "nope", nil)
	assert.Error(t, err)
}
