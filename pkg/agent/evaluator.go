package agent

import (
	"fmt"
)

// Rule is a named custom validation check over a result map.
type Rule struct {
	Name  string
	Check func(result map[string]interface{}) error
}

// Expectation describes the structural requirements a result must meet.
type Expectation struct {
	RequiredFields []string
	// FieldTypes maps field name to one of: string, number, bool, map, list.
	FieldTypes map[string]string
	Rules      []Rule
}

// Evaluation is the outcome of structural validation.
type Evaluation struct {
	Score    float64  `json:"score"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Evaluator scores results against expectations. Missing required fields
// and failed rules cost 0.1 each, type mismatches 0.05; the score is
// clamped to [0, 1].
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

func (e *Evaluator) Evaluate(result map[string]interface{}, exp *Expectation) Evaluation {
	eval := Evaluation{Score: 1.0}
	if exp == nil {
		return eval
	}
	if result == nil {
		result = map[string]interface{}{}
	}

	for _, field := range exp.RequiredFields {
		if _, ok := result[field]; !ok {
			eval.Errors = append(eval.Errors, fmt.Sprintf("missing required field %q", field))
			eval.Score -= 0.1
		}
	}

	for field, want := range exp.FieldTypes {
		value, ok := result[field]
		if !ok {
			continue
		}
		if got := typeName(value); got != want {
			eval.Warnings = append(eval.Warnings,
				fmt.Sprintf("field %q has type %s, expected %s", field, got, want))
			eval.Score -= 0.05
		}
	}

	for _, rule := range exp.Rules {
		if err := rule.Check(result); err != nil {
			eval.Errors = append(eval.Errors, fmt.Sprintf("rule %q failed: %v", rule.Name, err))
			eval.Score -= 0.1
		}
	}

	if eval.Score < 0 {
		eval.Score = 0
	}
	return eval
}

func typeName(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, float32, int, int32, int64:
		return "number"
	case bool:
		return "bool"
	case map[string]interface{}:
		return "map"
	case []interface{}, []string, []map[string]interface{}:
		return "list"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}

// AllStringFields builds a FieldTypes map expecting every listed field to
// be a string.
func AllStringFields(fields []string) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		out[f] = "string"
	}
	return out
}
