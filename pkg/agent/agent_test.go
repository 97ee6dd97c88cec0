package agent

import (
	"context"
	"fmt"

	"github.com/browserflow/browserflow/pkg/llms"
)

// scriptedProvider returns canned responses in order.
type scriptedProvider struct {
	responses []string
	calls     int
	err       error
}

func (p *scriptedProvider) Generate(ctx context.Context, messages []llms.Message, tools []llms.ToolDef) (*llms.Response, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.calls >= len(p.responses) {
		return nil, fmt.Errorf("no scripted response for call %d", p.calls+1)
	}
	text := p.responses[p.calls]
	p.calls++
	return &llms.Response{Text: text, StopReason: "stop"}, nil
}

func (p *scriptedProvider) ModelName() string { return "scripted" }
func (p *scriptedProvider) Close() error      { return nil }

// bindTestCore wires a scripted reasoner into an agent for tests.
func bindTestCore(a Agent, provider llms.Provider) {
	if binder, ok := a.(coreBinder); ok {
		binder.bindCore(Core{
			Reasoner:  llms.NewReasoner(provider),
			Evaluator: NewEvaluator(),
		})
	}
}
