package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lunagrove/sqlforge/internal/bus"
	"github.com/lunagrove/sqlforge/internal/llm"
	"github.com/lunagrove/sqlforge/internal/protocol"
	"github.com/lunagrove/sqlforge/internal/shared"
)

// GenerateQuery runs the plan-and-execute path for a natural-language query
// request. The plan is fixed because the client already told us the task
// shape; no classification call is spent.
func (o *Orchestrator) GenerateQuery(ctx context.Context, em *protocol.Emitter, req QueryRequest) {
	ec := NewContext(req.NaturalLanguage, req.DatabaseType, req.Schema, req.Options)
	o.execute(ctx, em, protocol.KindGenerateQuery, queryPlan(), ec)
}

// ExecuteTask plans a free-form task with the completion service, sends the
// resulting plan to the client as an informational frame, then executes it.
func (o *Orchestrator) ExecuteTask(ctx context.Context, em *protocol.Emitter, req TaskRequest) {
	kind := protocol.KindExecuteTask
	ec := NewContext(req.Prompt, req.DatabaseType, req.Schema, req.Options)

	plan, err := o.planTask(ctx, ec)
	if err != nil {
		o.publish(bus.TopicTaskFailed, bus.TaskEvent{
			ConnID:    shared.ConnID(ctx),
			RequestID: em.RequestID(),
			Kind:      kind,
			Dialect:   req.DatabaseType,
			Status:    "failed",
			Detail:    err.Error(),
		})
		o.fail(ctx, em, kind, fmt.Sprintf("planning failed: %v", err), err)
		return
	}

	views := make([]protocol.PlanStepView, len(plan.Steps))
	for i, s := range plan.Steps {
		views[i] = protocol.PlanStepView{Name: s.Name, Action: s.Action}
	}
	em.Plan(ctx, protocol.PlanPayload{TaskID: plan.TaskID, Steps: views})

	o.execute(ctx, em, kind, plan, ec)
}

// execute runs a plan's steps strictly in order. Before each step it emits a
// progress frame with the step's 1-based index; a step failure aborts the
// remainder and the terminal error names the failing step.
func (o *Orchestrator) execute(ctx context.Context, em *protocol.Emitter, kind string, plan Plan, ec Context) {
	start := time.Now()
	ctx = shared.WithTaskID(ctx, plan.TaskID)
	total := len(plan.Steps)

	o.publish(bus.TopicTaskStarted, bus.TaskEvent{
		TaskID:    plan.TaskID,
		ConnID:    shared.ConnID(ctx),
		RequestID: em.RequestID(),
		Kind:      kind,
		Dialect:   ec.Dialect,
	})

	for i, step := range plan.Steps {
		em.Progress(ctx, i+1, total, step.Name, nil)

		output, err := o.runAction(ctx, step.Action, ec)
		if err != nil {
			stepErr := fmt.Errorf("step %q (%s) failed: %w", step.Name, step.Action, err)
			o.publishTerminal(ctx, em, kind, ec.Dialect, plan.TaskID, start, stepErr)
			o.fail(ctx, em, kind, stepErr.Error(), err)
			return
		}
		ec = ec.WithOutput(step.Name, output)

		if o.metrics != nil {
			o.metrics.PlanStepsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("action", step.Action)))
		}
		o.publish(bus.TopicTaskStep, bus.TaskEvent{
			TaskID:    plan.TaskID,
			ConnID:    shared.ConnID(ctx),
			RequestID: em.RequestID(),
			Kind:      kind,
			Dialect:   ec.Dialect,
			Step:      step.Name,
		})
	}

	o.publishTerminal(ctx, em, kind, ec.Dialect, plan.TaskID, start, nil)
	em.Result(ctx, TaskResult{
		TaskID:  plan.TaskID,
		Result:  ec.LastOutput(),
		Outputs: ec.Outputs(),
		Dialect: ec.Dialect,
	})
}

func schemaServiceRequest(ec Context) llm.SchemaRequest {
	return llm.SchemaRequest{
		Description: ec.Prompt,
		Dialect:     ec.Dialect,
		Options:     ec.Options,
	}
}

// runAction invokes one step action against the execution context.
func (o *Orchestrator) runAction(ctx context.Context, action string, ec Context) (string, error) {
	switch action {
	case ActionGenerateSchema:
		result, err := o.svc.GenerateSchema(ctx, schemaServiceRequest(ec))
		if err != nil {
			return "", err
		}
		return string(result.Schema), nil
	case ActionGenerateSQL:
		return o.svc.GenerateSQL(ctx, ec.Prompt, ec.Schema, ec.Dialect)
	case ActionAnalyzeQuery:
		return o.svc.AnalyzeQuery(ctx, ec.workingQuery(), ec.Dialect)
	case ActionOptimizeQuery:
		return o.svc.OptimizeQuery(ctx, ec.workingQuery(), ec.Dialect)
	case ActionExplainQuery:
		return o.svc.ExplainQuery(ctx, ec.workingQuery(), ec.Dialect)
	case ActionSuggestIndexes:
		return o.svc.SuggestIndexes(ctx, ec.workingSchema(), ec.Dialect)
	default:
		// Unreachable after Plan.Validate, kept as a guard.
		return "", fmt.Errorf("unknown action %q", action)
	}
}
