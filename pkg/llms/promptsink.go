package llms

import (
	"log/slog"
	"sync"
)

// PromptSink receives prompts for observability. Names follow
// "<caller>_<method>_<kind>".
type PromptSink interface {
	Emit(name, prompt string, metadata map[string]interface{})
}

// NopSink discards everything. It is the default sink.
type NopSink struct{}

func (NopSink) Emit(string, string, map[string]interface{}) {}

// LogSink writes prompts to the debug log. System prompts are emitted at
// most once per caller per process.
type LogSink struct {
	logger *slog.Logger

	mu          sync.Mutex
	seenSystems map[string]bool
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger, seenSystems: make(map[string]bool)}
}

func (s *LogSink) Emit(name, prompt string, metadata map[string]interface{}) {
	if kind, _ := metadata["kind"].(string); kind == "system" {
		caller, _ := metadata["caller"].(string)
		s.mu.Lock()
		seen := s.seenSystems[caller]
		s.seenSystems[caller] = true
		s.mu.Unlock()
		if seen {
			return
		}
	}

	s.logger.Debug("prompt emitted", "name", name, "chars", len(prompt))
}
