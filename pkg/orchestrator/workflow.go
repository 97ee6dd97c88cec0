package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/browserflow/browserflow/pkg/agent"
	"github.com/browserflow/browserflow/pkg/task"
)

// PlanStep is one step of a multi-agent workflow plan.
type PlanStep struct {
	ID        string                 `json:"id"`
	TaskType  task.Type              `json:"task_type"`
	Input     map[string]interface{} `json:"input,omitempty"`
	DependsOn []string               `json:"depends_on,omitempty"`
}

// StepResult pairs a plan step with its agent result.
type StepResult struct {
	StepID   string        `json:"step_id"`
	TaskType task.Type     `json:"task_type"`
	Result   *agent.Result `json:"result"`
}

// WorkflowExecutor runs a multi-step plan: independent steps concurrently,
// then one pass over dependent steps whose dependencies completed. Steps
// share state through a hub.
type WorkflowExecutor struct {
	spawner *agent.Spawner
}

func NewWorkflowExecutor(spawner *agent.Spawner) *WorkflowExecutor {
	return &WorkflowExecutor{spawner: spawner}
}

// Execute runs the plan for one user. Step failures do not abort the plan;
// a dependent step whose dependency failed is marked failed without
// running.
func (w *WorkflowExecutor) Execute(ctx context.Context, userID string, steps []PlanStep, base *agent.Context) []StepResult {
	hub := agent.NewHub(len(steps) * 4)
	results := make([]StepResult, len(steps))
	done := make(map[string]task.Status, len(steps))

	var independent, dependent []int
	for i, step := range steps {
		if len(step.DependsOn) == 0 {
			independent = append(independent, i)
		} else {
			dependent = append(dependent, i)
		}
	}

	var g errgroup.Group
	for _, idx := range independent {
		g.Go(func() error {
			results[idx] = w.runStep(ctx, userID, steps[idx], base, hub)
			return nil
		})
	}
	// Step failures are carried in results, never as group errors.
	_ = g.Wait()

	for _, idx := range independent {
		done[steps[idx].ID] = results[idx].Result.Status
	}

	for _, idx := range dependent {
		step := steps[idx]
		if blocked := unmetDependency(step, done); blocked != "" {
			results[idx] = StepResult{
				StepID:   step.ID,
				TaskType: step.TaskType,
				Result:   agent.Failed(fmt.Sprintf("dependency %q did not complete", blocked)),
			}
		} else {
			results[idx] = w.runStep(ctx, userID, step, base, hub)
		}
		done[step.ID] = results[idx].Result.Status
	}

	return results
}

func (w *WorkflowExecutor) runStep(ctx context.Context, userID string, step PlanStep, base *agent.Context, hub *agent.Hub) StepResult {
	out := StepResult{StepID: step.ID, TaskType: step.TaskType}

	instance, _, err := w.spawner.Spawn(ctx, step.TaskType, userID)
	if err != nil {
		out.Result = agent.Failed(fmt.Sprintf("no agent for step %q: %v", step.ID, err))
		return out
	}

	execCtx := &agent.Context{
		UserID:         userID,
		UserText:       base.UserText,
		Identification: base.Identification,
		Metadata:       base.Metadata,
		ContextIDs:     base.ContextIDs,
		Shared:         hub.State(),
	}

	out.Result = instance.Execute(ctx, step.Input, execCtx)
	if out.Result == nil {
		out.Result = agent.Failed(fmt.Sprintf("step %q returned no result", step.ID))
	}
	return out
}

// unmetDependency returns the first dependency that is missing or did not
// complete, or "" when all are satisfied. The single-pass model means a
// dependency on a later dependent step can never be satisfied.
func unmetDependency(step PlanStep, done map[string]task.Status) string {
	for _, dep := range step.DependsOn {
		if status, ok := done[dep]; !ok || status != task.StatusCompleted {
			return dep
		}
	}
	return ""
}
