package task

import "strings"

// Type identifies what the user wants done. Values are stored verbatim in
// the database enum, so the set is append-only.
type Type string

const (
	TypeNoteTaking              Type = "NOTE_TAKING"
	TypeAddToKnowledgeBase      Type = "ADD_TO_KNOWLEDGE_BASE"
	TypeQuestionAnswer          Type = "QUESTION_ANSWER"
	TypeCreateTodo              Type = "CREATE_TODO"
	TypeCreateDiagrams          Type = "CREATE_DIAGRAMS"
	TypeAddToGoogleSheets       Type = "ADD_TO_GOOGLE_SHEETS"
	TypeCreateLocationMap       Type = "CREATE_LOCATION_MAP"
	TypeCompareShoppingPrices   Type = "COMPARE_SHOPPING_PRICES"
	TypeCreateActionFromContext Type = "CREATE_ACTION_FROM_CONTEXT"
	TypeAddToContext            Type = "ADD_TO_CONTEXT"
)

// AllTypes returns every task type in declaration order.
func AllTypes() []Type {
	return []Type{
		TypeNoteTaking,
		TypeAddToKnowledgeBase,
		TypeQuestionAnswer,
		TypeCreateTodo,
		TypeCreateDiagrams,
		TypeAddToGoogleSheets,
		TypeCreateLocationMap,
		TypeCompareShoppingPrices,
		TypeCreateActionFromContext,
		TypeAddToContext,
	}
}

// ParseType normalises a free-form task-type string (uppercase, hyphens and
// spaces to underscores) and matches it against the known types.
func ParseType(s string) (Type, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")

	for _, t := range AllTypes() {
		if string(t) == normalized {
			return t, true
		}
	}
	return "", false
}

// Status of a task record or an agent execution.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusPartial    Status = "partial"
)

// NormalizeStatus maps a free-form status string onto the enum, defaulting
// to failed for anything unrecognised.
func NormalizeStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending
	case StatusInProgress, "in-progress":
		return StatusInProgress
	case StatusCompleted, "success":
		return StatusCompleted
	case StatusPartial:
		return StatusPartial
	default:
		return StatusFailed
	}
}

// Identification is the outcome of classifying free-form user input.
type Identification struct {
	TaskType     Type                   `json:"task_type"`
	Confidence   float64                `json:"confidence"`
	Reasoning    string                 `json:"reasoning"`
	Alternatives []Type                 `json:"alternative_types,omitempty"`
	Input        map[string]interface{} `json:"input,omitempty"`
	Output       map[string]interface{} `json:"output,omitempty"`
}
