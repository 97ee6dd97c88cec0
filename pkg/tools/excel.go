package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/browserflow/browserflow/pkg/config"
	"github.com/browserflow/browserflow/pkg/llms"
	"github.com/browserflow/browserflow/pkg/logger"
)

// ExcelWriter owns the on-disk spreadsheet tree and creates, appends to, and
// reads .xlsx files. All paths are confined to the configured directory.
type ExcelWriter struct {
	dir          string
	defaultSheet string
	logger       *slog.Logger
}

func NewExcelWriter(cfg *config.ExcelConfig) (*ExcelWriter, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create excel directory: %w", err)
	}
	return &ExcelWriter{
		dir:          cfg.Dir,
		defaultSheet: cfg.DefaultSheet,
		logger:       logger.GetLogger(),
	}, nil
}

// ResolvePath sandboxes a file name under the writer's directory. Absolute
// paths and traversal are rejected; a missing .xlsx extension is added.
func (w *ExcelWriter) ResolvePath(fileName string) (string, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return "", fmt.Errorf("file name is required")
	}
	if filepath.IsAbs(fileName) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", fileName)
	}
	if !strings.HasSuffix(strings.ToLower(fileName), ".xlsx") {
		fileName += ".xlsx"
	}

	full := filepath.Join(w.dir, fileName)
	rel, err := filepath.Rel(w.dir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes storage directory: %s", fileName)
	}
	return full, nil
}

// Exists reports whether the spreadsheet file is already on disk.
func (w *ExcelWriter) Exists(fileName string) bool {
	path, err := w.ResolvePath(fileName)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func (w *ExcelWriter) sheetOrDefault(sheetName string) string {
	if strings.TrimSpace(sheetName) == "" {
		return w.defaultSheet
	}
	return sheetName
}

func cellString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Write creates a new spreadsheet with a header row and one row per entry.
// An existing file is replaced. Returns the file path.
func (w *ExcelWriter) Write(fileName, sheetName string, columns []string, rows []map[string]interface{}) (string, error) {
	path, err := w.ResolvePath(fileName)
	if err != nil {
		return "", err
	}
	sheet := w.sheetOrDefault(sheetName)
	if len(columns) == 0 {
		return "", fmt.Errorf("columns are required")
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if sheet != "Sheet1" {
		if _, err := f.NewSheet(sheet); err != nil {
			return "", fmt.Errorf("failed to create sheet %q: %w", sheet, err)
		}
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return "", fmt.Errorf("failed to drop default sheet: %w", err)
		}
	}

	if err := writeRow(f, sheet, 1, columns); err != nil {
		return "", err
	}
	for i, row := range rows {
		values := make([]string, len(columns))
		for j, col := range columns {
			values[j] = cellString(row[col])
		}
		if err := writeRow(f, sheet, i+2, values); err != nil {
			return "", err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save spreadsheet: %w", err)
	}
	w.logger.Info("spreadsheet written", "file", path, "rows", len(rows))
	return path, nil
}

// Append adds rows to an existing spreadsheet. With no explicit columns the
// file's header row decides the column order.
func (w *ExcelWriter) Append(fileName, sheetName string, columns []string, rows []map[string]interface{}) (string, error) {
	path, err := w.ResolvePath(fileName)
	if err != nil {
		return "", err
	}
	sheet := w.sheetOrDefault(sheetName)

	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer func() { _ = f.Close() }()

	existing, err := f.GetRows(sheet)
	if err != nil {
		return "", fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	if len(existing) > 0 && len(existing[0]) > 0 {
		columns = existing[0]
	} else if len(columns) == 0 {
		return "", fmt.Errorf("no header row and no columns given")
	}

	start := len(existing) + 1
	for i, row := range rows {
		values := make([]string, len(columns))
		for j, col := range columns {
			values[j] = cellString(row[col])
		}
		if err := writeRow(f, sheet, start+i, values); err != nil {
			return "", err
		}
	}

	if err := f.Save(); err != nil {
		return "", fmt.Errorf("failed to save spreadsheet: %w", err)
	}
	w.logger.Info("spreadsheet appended", "file", path, "rows", len(rows))
	return path, nil
}

// Read returns the header row and the data rows keyed by column name.
func (w *ExcelWriter) Read(fileName, sheetName string) ([]string, []map[string]string, error) {
	path, err := w.ResolvePath(fileName)
	if err != nil {
		return nil, nil, err
	}
	sheet := w.sheetOrDefault(sheetName)

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer func() { _ = f.Close() }()

	all, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}

	columns := all[0]
	rows := make([]map[string]string, 0, len(all)-1)
	for _, raw := range all[1:] {
		row := make(map[string]string, len(columns))
		for j, col := range columns {
			if j < len(raw) {
				row[col] = raw[j]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}

func writeRow(f *excelize.File, sheet string, rowNum int, values []string) error {
	for col, value := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, rowNum)
		if err != nil {
			return fmt.Errorf("failed to build cell reference: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			return fmt.Errorf("failed to set cell %s: %w", cell, err)
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// Tool server adapter
// ----------------------------------------------------------------------------

// WriterServerName is the built-in spreadsheet server name.
const WriterServerName = "writer"

// WriterServer exposes the spreadsheet writer as a tool server.
type WriterServer struct {
	writer *ExcelWriter
}

func NewWriterServer(writer *ExcelWriter) *WriterServer {
	return &WriterServer{writer: writer}
}

func (s *WriterServer) Name() string {
	return WriterServerName
}

func (s *WriterServer) Tools(ctx context.Context) ([]llms.ToolDef, error) {
	rowsSchema := map[string]interface{}{
		"type":  "array",
		"items": map[string]interface{}{"type": "object"},
	}
	columnsSchema := map[string]interface{}{
		"type":  "array",
		"items": map[string]interface{}{"type": "string"},
	}

	return []llms.ToolDef{
		{
			Name:        "write_rows",
			Description: "Create a spreadsheet file with the given columns and rows. Replaces an existing file.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"rows":       rowsSchema,
					"columns":    columnsSchema,
					"file_name":  map[string]interface{}{"type": "string"},
					"sheet_name": map[string]interface{}{"type": "string"},
				},
				"required": []string{"rows", "columns", "file_name"},
			},
		},
		{
			Name:        "append_rows",
			Description: "Append rows to an existing spreadsheet file, following its header row.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"rows":       rowsSchema,
					"columns":    columnsSchema,
					"file_name":  map[string]interface{}{"type": "string"},
					"sheet_name": map[string]interface{}{"type": "string"},
				},
				"required": []string{"rows", "file_name"},
			},
		},
		{
			Name:        "read_sheet",
			Description: "Read a spreadsheet file back as columns and rows.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"file_name":  map[string]interface{}{"type": "string"},
					"sheet_name": map[string]interface{}{"type": "string"},
				},
				"required": []string{"file_name"},
			},
		},
	}, nil
}

func (s *WriterServer) Call(ctx context.Context, tool string, args map[string]interface{}) (string, error) {
	fileName, _ := args["file_name"].(string)
	sheetName, _ := args["sheet_name"].(string)
	columns := toStringSlice(args["columns"])
	rows := toRowMaps(args["rows"])

	switch tool {
	case "write_rows":
		path, err := s.writer.Write(fileName, sheetName, columns, rows)
		if err != nil {
			return "", err
		}
		return marshalResult(map[string]interface{}{"file_path": path})

	case "append_rows":
		path, err := s.writer.Append(fileName, sheetName, columns, rows)
		if err != nil {
			return "", err
		}
		return marshalResult(map[string]interface{}{"file_path": path})

	case "read_sheet":
		cols, data, err := s.writer.Read(fileName, sheetName)
		if err != nil {
			return "", err
		}
		return marshalResult(map[string]interface{}{"columns": cols, "rows": data})

	default:
		return "", fmt.Errorf("unknown tool: %s", tool)
	}
}

func marshalResult(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data), nil
}

func toStringSlice(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			out = append(out, cellString(item))
		}
		return out
	default:
		return nil
	}
}

func toRowMaps(v interface{}) []map[string]interface{} {
	switch vv := v.(type) {
	case []map[string]interface{}:
		return vv
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(vv))
		for _, item := range vv {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}
