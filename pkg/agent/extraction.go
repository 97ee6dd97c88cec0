package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/browserflow/browserflow/pkg/llms"
	"github.com/browserflow/browserflow/pkg/task"
	"github.com/browserflow/browserflow/pkg/tools"
)

// DataExtractionAgentID is the factory key for the data-extraction agent.
const DataExtractionAgentID = "data_extraction_agent"

const extractionSystemPrompt = `You extract structured tabular data from free-form text.
Given text and a list of column names, return ONLY a JSON array of row objects.
Every object must use exactly the given column names as keys with string values.
Do not invent data that is not present in the text.`

var columnKeys = []string{"columns", "fields", "headers"}
var sheetKeys = []string{"sheet_name", "sheet", "worksheet", "tab_name"}
var fileKeys = []string{"file_name", "filename", "file", "excel_file_name"}

// DataExtractionAgent turns free-form text into spreadsheet rows: resolve
// the target columns and file, ask the reasoner for row objects, normalise
// them, and write or append through the spreadsheet writer.
type DataExtractionAgent struct {
	BaseAgent
	writer *tools.ExcelWriter
}

func NewDataExtractionAgent(config map[string]interface{}) (Agent, error) {
	a := &DataExtractionAgent{BaseAgent: NewBaseAgent(DataExtractionAgentID)}
	a.SetPrompts(NewPromptManager(extractionSystemPrompt))
	return a, nil
}

func (a *DataExtractionAgent) SetWriter(writer *tools.ExcelWriter) {
	a.writer = writer
}

func (a *DataExtractionAgent) Execute(ctx context.Context, input map[string]interface{}, execCtx *Context) *Result {
	if a.writer == nil {
		return Failed("spreadsheet writer is not configured")
	}

	columns := resolveColumns(input)
	sheetName := firstStringValue(input, sheetKeys)
	fileName := firstStringValue(input, fileKeys)
	if fileName == "" {
		fileName = sheetName
	}
	if fileName == "" {
		fileName = "extracted_data"
	}

	text := extractionText(input, execCtx)
	if strings.TrimSpace(text) == "" {
		return Failed("no text to extract data from")
	}

	rows, failure := a.extractRows(ctx, text, columns)
	if failure != nil {
		return failure
	}

	if len(columns) == 0 && len(rows) > 0 {
		columns = rowColumns(rows[0])
	}
	if len(columns) == 0 {
		columns = []string{"data"}
	}
	normalised := normaliseRows(rows, columns)

	var filePath string
	var err error
	if a.writer.Exists(fileName) {
		filePath, err = a.writer.Append(fileName, sheetName, columns, normalised)
	} else {
		filePath, err = a.writer.Write(fileName, sheetName, columns, normalised)
	}
	if err != nil {
		return Failed(fmt.Sprintf("failed to write spreadsheet: %v", err))
	}

	eval := Evaluation{Score: 1.0}
	if len(normalised) > 0 {
		eval = a.Evaluate(normalised[0], &Expectation{
			RequiredFields: columns,
			FieldTypes:     AllStringFields(columns),
		})
	}

	return &Result{
		Status: task.StatusCompleted,
		Result: map[string]interface{}{
			"file_path": filePath,
			"columns":   columns,
			"row_count": len(normalised),
			"score":     eval.Score,
		},
		FilePath:         filePath,
		Rows:             normalised,
		ValidationErrors: eval.Errors,
		Metadata:         map[string]interface{}{"warnings": eval.Warnings},
	}
}

func (a *DataExtractionAgent) extractRows(ctx context.Context, text string, columns []string) ([]map[string]interface{}, *Result) {
	prompt := "Extract rows from the following text.\n\nText:\n" + text
	if len(columns) > 0 {
		prompt += "\n\nColumns: " + strings.Join(columns, ", ")
	} else {
		prompt += "\n\nChoose sensible column names from the data itself."
	}
	prompt += "\n\nReturn ONLY the JSON array."

	result := a.Reason(ctx, prompt, nil)
	if result.Failed() {
		return nil, Failed("reasoner error: " + result.Err)
	}

	arr, err := llms.FirstJSONArray(result.Text)
	if err != nil {
		return nil, Failed(fmt.Sprintf("reasoner output contained no JSON array: %v", err))
	}

	rows := make([]map[string]interface{}, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]interface{}); ok {
			rows = append(rows, m)
		}
	}
	if len(rows) == 0 {
		return nil, Failed("reasoner produced no row objects")
	}
	return rows, nil
}

// resolveColumns searches the well-known input keys for a column list and
// normalises it: trimmed, deduplicated preserving order, empties dropped.
func resolveColumns(input map[string]interface{}) []string {
	var raw []string
	for _, key := range columnKeys {
		if v, ok := input[key]; ok {
			raw = toStrings(v)
			if len(raw) > 0 {
				break
			}
		}
	}

	seen := make(map[string]bool, len(raw))
	var columns []string
	for _, c := range raw {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		columns = append(columns, c)
	}
	return columns
}

func normaliseRows(rows []map[string]interface{}, columns []string) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		normalised := make(map[string]interface{}, len(columns))
		for _, col := range columns {
			value, ok := row[col]
			if !ok || value == nil {
				normalised[col] = ""
				continue
			}
			if s, isString := value.(string); isString {
				normalised[col] = s
			} else {
				normalised[col] = fmt.Sprint(value)
			}
		}
		// Last-resort single column: stringify the whole row.
		if len(columns) == 1 && columns[0] == "data" && normalised["data"] == "" {
			normalised["data"] = fmt.Sprint(row)
		}
		out = append(out, normalised)
	}
	return out
}

func rowColumns(row map[string]interface{}) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	// Deterministic order for inferred columns.
	sort.Strings(keys)
	return keys
}

func extractionText(input map[string]interface{}, execCtx *Context) string {
	for _, key := range []string{"selected_text", "text", "content"} {
		if s, ok := input[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	if execCtx != nil {
		return execCtx.UserText
	}
	return ""
}

func firstStringValue(input map[string]interface{}, keys []string) string {
	for _, key := range keys {
		if s, ok := input[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func toStrings(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		parts := strings.Split(vv, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out
	default:
		return nil
	}
}
