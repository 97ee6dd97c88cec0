package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/browserflow/browserflow/pkg/agent"
	"github.com/browserflow/browserflow/pkg/config"
	"github.com/browserflow/browserflow/pkg/logger"
	"github.com/browserflow/browserflow/pkg/store"
	"github.com/browserflow/browserflow/pkg/task"
)

// ErrInvalidInput is the only failure the orchestrator surfaces as a Go
// error; everything past the precondition check becomes result data.
var ErrInvalidInput = fmt.Errorf("at least one of urls, selected_text, user_context is required")

// Request is one orchestration call.
type Request struct {
	UserID           string   `json:"user_id"`
	SelectedText     string   `json:"selected_text,omitempty"`
	UserContext      string   `json:"user_context,omitempty"`
	URLs             []string `json:"urls,omitempty"`
	ExplicitTaskType string   `json:"task_type,omitempty"`
}

func (r *Request) validate() error {
	if r.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if r.SelectedText == "" && r.UserContext == "" && len(r.URLs) == 0 {
		return ErrInvalidInput
	}
	return nil
}

// TaskResult is the orchestration outcome returned to the caller.
type TaskResult struct {
	TaskID          string                 `json:"task_id"`
	TaskType        task.Type              `json:"task_type"`
	ContextIDs      []string               `json:"context_ids"`
	Identification  *task.Identification   `json:"task_identification,omitempty"`
	ExecutionResult map[string]interface{} `json:"execution_result,omitempty"`
	ExecutionStatus task.Status            `json:"execution_status"`
	Error           string                 `json:"error,omitempty"`
}

// TaskStore persists task records.
type TaskStore interface {
	InsertTask(ctx context.Context, t *store.Task) error
}

// Orchestrator drives one request end to end: ingest, identify, spawn,
// execute, persist. It is the last boundary where a failure may surface as
// an error; past the precondition check everything is carried in the
// TaskResult.
type Orchestrator struct {
	cfg        *config.OrchestratorConfig
	ingestor   *Ingestor
	identifier *Identifier
	spawner    *agent.Spawner
	workflow   *WorkflowExecutor
	tasks      TaskStore
	logger     *slog.Logger
}

func New(cfg *config.OrchestratorConfig, ingestor *Ingestor, identifier *Identifier, spawner *agent.Spawner, tasks TaskStore) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		ingestor:   ingestor,
		identifier: identifier,
		spawner:    spawner,
		workflow:   NewWorkflowExecutor(spawner),
		tasks:      tasks,
		logger:     logger.GetLogger(),
	}
}

// isAtomic decides single- vs multi-agent execution. Reserved for future
// policy; every identification is currently atomic.
func isAtomic(identification *task.Identification) bool {
	return true
}

// Orchestrate runs the pipeline. The returned error is non-nil only for
// invalid input; agent and persistence failures are reported in the result.
func (o *Orchestrator) Orchestrate(ctx context.Context, req Request) (*TaskResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if o.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(o.cfg.RequestTimeout)*time.Second)
		defer cancel()
	}

	result := &TaskResult{TaskID: uuid.NewString()}

	ingested, err := o.ingestor.Ingest(ctx, req.UserID, req.SelectedText, req.UserContext, req.URLs)
	if err != nil {
		// Commit failures are not fatal to the task; the agent can still run.
		o.logger.Warn("context ingestion failed", "user_id", req.UserID, "error", err)
		ingested = &IngestResult{}
	}
	result.ContextIDs = ingested.ContextIDs

	identification := o.identify(ctx, req, ingested)
	result.Identification = identification
	result.TaskType = identification.TaskType

	agentResult := o.execute(ctx, req, identification, ingested)
	result.ExecutionStatus = agentResult.Status
	result.ExecutionResult = agentResult.Result
	result.Error = agentResult.Error

	o.persist(ctx, req.UserID, result, identification)
	return result, nil
}

func (o *Orchestrator) identify(ctx context.Context, req Request, ingested *IngestResult) *task.Identification {
	if req.ExplicitTaskType != "" {
		if explicit, ok := task.ParseType(req.ExplicitTaskType); ok {
			return &task.Identification{
				TaskType:   explicit,
				Confidence: 1.0,
				Reasoning:  "task type supplied by caller",
				Input:      requestInput(req),
			}
		}
		o.logger.Warn("explicit task type is unknown, classifying instead",
			"task_type", req.ExplicitTaskType)
	}

	metadata := map[string]interface{}{}
	if len(req.URLs) > 0 {
		metadata["urls"] = req.URLs
	}
	if len(ingested.Tags) > 0 {
		metadata["tags"] = ingested.Tags
	}

	identification := o.identifier.Identify(ctx, userText(req), metadata)
	if identification.Input == nil {
		identification.Input = requestInput(req)
	}
	return identification
}

func (o *Orchestrator) execute(ctx context.Context, req Request, identification *task.Identification, ingested *IngestResult) *agent.Result {
	execCtx := &agent.Context{
		UserID:         req.UserID,
		UserText:       userText(req),
		Identification: identification,
		ContextIDs:     ingested.ContextIDs,
		Metadata: map[string]interface{}{
			"urls": req.URLs,
			"tags": ingested.Tags,
		},
		Shared: agent.NewState(),
	}

	if !isAtomic(identification) {
		return o.executePlan(ctx, req, identification, execCtx)
	}

	instance, _, err := o.spawner.Spawn(ctx, identification.TaskType, req.UserID)
	if err != nil {
		return agent.Failed(fmt.Sprintf("no agent available for %s: %v", identification.TaskType, err))
	}

	result := o.runAgent(ctx, instance, identification.Input, execCtx)

	if err := ctx.Err(); err != nil && result.Status != task.StatusCompleted {
		return agent.Failed("cancelled: " + err.Error())
	}
	return result
}

// executePlan runs the non-atomic branch: a one-step plan per task type,
// aggregated into a single result.
func (o *Orchestrator) executePlan(ctx context.Context, req Request, identification *task.Identification, execCtx *agent.Context) *agent.Result {
	steps := []PlanStep{{
		ID:       "step-1",
		TaskType: identification.TaskType,
		Input:    identification.Input,
	}}

	results := o.workflow.Execute(ctx, req.UserID, steps, execCtx)

	aggregate := make([]interface{}, 0, len(results))
	status := task.StatusCompleted
	var firstErr string
	for _, step := range results {
		aggregate = append(aggregate, step)
		if step.Result.Failed() {
			status = task.StatusPartial
			if firstErr == "" {
				firstErr = step.Result.Error
			}
		}
	}
	if len(results) > 0 && results[0].Result.Failed() && len(results) == 1 {
		status = task.StatusFailed
	}

	return &agent.Result{
		Status: status,
		Result: map[string]interface{}{"agent_results": aggregate},
		Error:  firstErr,
	}
}

// runAgent contains agent panics; past this point every failure is data.
func (o *Orchestrator) runAgent(ctx context.Context, instance agent.Agent, input map[string]interface{}, execCtx *agent.Context) (result *agent.Result) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("agent panicked", "agent", instance.Name(), "panic", r)
			result = agent.Failed(fmt.Sprintf("agent %s panicked: %v", instance.Name(), r))
		}
	}()

	result = instance.Execute(ctx, input, execCtx)
	if result == nil {
		result = agent.Failed(fmt.Sprintf("agent %s returned no result", instance.Name()))
	}
	return result
}

// persist writes the task record. Failure is logged, never surfaced; the
// in-memory result stands.
func (o *Orchestrator) persist(ctx context.Context, userID string, result *TaskResult, identification *task.Identification) {
	record := &store.Task{
		ID:         result.TaskID,
		UserID:     userID,
		TaskType:   result.TaskType,
		Input:      identification.Input,
		Output:     result.ExecutionResult,
		ContextIDs: result.ContextIDs,
		Status:     result.ExecutionStatus,
		CreatedAt:  time.Now().UTC(),
	}

	// A timed-out request still gets its record; detach from the request
	// context before writing.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := o.tasks.InsertTask(persistCtx, record); err != nil {
		o.logger.Warn("failed to persist task record",
			"task_id", result.TaskID, "user_id", userID, "error", err)
	}
}

func userText(req Request) string {
	switch {
	case req.SelectedText != "" && req.UserContext != "":
		return req.UserContext + "\n\n" + req.SelectedText
	case req.SelectedText != "":
		return req.SelectedText
	default:
		return req.UserContext
	}
}

func requestInput(req Request) map[string]interface{} {
	input := map[string]interface{}{}
	if req.SelectedText != "" {
		input["selected_text"] = req.SelectedText
	}
	if req.UserContext != "" {
		input["user_context"] = req.UserContext
	}
	if len(req.URLs) > 0 {
		input["urls"] = req.URLs
	}
	return input
}
