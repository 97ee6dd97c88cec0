// Package orchestrator drives the request pipeline: ingest contexts,
// identify the task, spawn the agent, execute, persist.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/browserflow/browserflow/pkg/config"
	"github.com/browserflow/browserflow/pkg/llms"
	"github.com/browserflow/browserflow/pkg/logger"
	"github.com/browserflow/browserflow/pkg/task"
)

// identificationPayload mirrors the JSON object the classifier must return.
// Its reflected schema is embedded in the system prompt.
type identificationPayload struct {
	TaskType         string                 `json:"task_type" jsonschema:"required"`
	Confidence       float64                `json:"confidence" jsonschema:"required"`
	Reasoning        string                 `json:"reasoning"`
	AlternativeTypes []string               `json:"alternative_types"`
	Input            map[string]interface{} `json:"input"`
	Output           map[string]interface{} `json:"output"`
}

var identificationSchema = func() string {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&identificationPayload{})
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}()

// Identifier classifies free-form user input into a task type. It never
// returns an error: uncertain or failed classifications fall back to the
// configured safe default.
type Identifier struct {
	reasoner    *llms.Reasoner
	defaultType task.Type
	threshold   float64
	logger      *slog.Logger
}

func NewIdentifier(reasoner *llms.Reasoner, cfg *config.OrchestratorConfig) *Identifier {
	defaultType, ok := task.ParseType(cfg.DefaultTaskType)
	if !ok {
		defaultType = task.TypeAddToKnowledgeBase
	}
	return &Identifier{
		reasoner:    reasoner,
		defaultType: defaultType,
		threshold:   cfg.ConfidenceThreshold,
		logger:      logger.GetLogger(),
	}
}

func (i *Identifier) systemPrompt() string {
	types := task.AllTypes()
	names := make([]string, len(types))
	for idx, t := range types {
		names[idx] = string(t)
	}

	return fmt.Sprintf(`You classify a user's request into exactly one task type.

Valid task types: %s

Respond with ONLY one JSON object matching this schema:
%s

The input map carries everything the selected agent needs (text, columns,
file names, page titles). The output map describes the expected result
shape. Confidence is your certainty in [0, 1].`,
		strings.Join(names, ", "), identificationSchema)
}

// Identify classifies the user text. Metadata (urls, tags) is passed to the
// reasoner as context.
func (i *Identifier) Identify(ctx context.Context, userText string, metadata map[string]interface{}) *task.Identification {
	payload, result := i.reasoner.ReasonJSON(ctx, llms.Request{
		Prompt:  "Classify this request:\n\n" + userText,
		System:  i.systemPrompt(),
		Context: metadata,
		Caller:  "task_identifier",
	})
	if result.Failed() {
		i.logger.Warn("task identification failed, using default",
			"default", i.defaultType, "error", result.Err)
		return i.fallback("classification failed: " + result.Err)
	}
	if payload == nil {
		return i.fallback("classifier returned no JSON object")
	}
	return i.parse(payload)
}

func (i *Identifier) parse(payload map[string]interface{}) *task.Identification {
	rawType, _ := payload["task_type"].(string)
	confidence, _ := payload["confidence"].(float64)
	reasoning, _ := payload["reasoning"].(string)

	taskType, known := task.ParseType(rawType)
	if !known {
		return i.fallback(fmt.Sprintf("unknown task type %q", rawType))
	}
	if confidence < i.threshold {
		ident := i.fallback(fmt.Sprintf(
			"confidence %.2f below threshold %.2f for %s", confidence, i.threshold, taskType))
		ident.Alternatives = []task.Type{taskType}
		return ident
	}

	ident := &task.Identification{
		TaskType:   taskType,
		Confidence: clamp01(confidence),
		Reasoning:  reasoning,
	}

	// Maps only; anything else is dropped.
	if input, ok := payload["input"].(map[string]interface{}); ok {
		ident.Input = input
	}
	if output, ok := payload["output"].(map[string]interface{}); ok {
		ident.Output = output
	}

	ident.Alternatives = parseAlternatives(payload["alternative_types"], taskType)
	return ident
}

// parseAlternatives de-duplicates the alternatives, drops the primary type
// and unknown names, and keeps at most three.
func parseAlternatives(raw interface{}, primary task.Type) []task.Type {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	seen := map[task.Type]bool{primary: true}
	var out []task.Type
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		t, known := task.ParseType(s)
		if !known || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == 3 {
			break
		}
	}
	return out
}

func (i *Identifier) fallback(reason string) *task.Identification {
	return &task.Identification{
		TaskType:   i.defaultType,
		Confidence: 0.5,
		Reasoning:  reason + "; defaulted to " + string(i.defaultType),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
