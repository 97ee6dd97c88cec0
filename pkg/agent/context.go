package agent

import (
	"github.com/browserflow/browserflow/pkg/task"
)

// Context carries the per-execution state an agent sees: the original user
// text, the identification that selected it, and shared state for
// multi-agent plans.
type Context struct {
	UserID         string
	UserText       string
	Identification *task.Identification
	Metadata       map[string]interface{}
	ContextIDs     []string
	Shared         *State
}

// MetaStrings reads a string-list metadata entry, tolerating both []string
// and []interface{} encodings.
func (c *Context) MetaStrings(key string) []string {
	if c.Metadata == nil {
		return nil
	}
	switch v := c.Metadata[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
