package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lunagrove/sqlforge/internal/bus"
	"github.com/lunagrove/sqlforge/internal/cache"
	"github.com/lunagrove/sqlforge/internal/llm"
	"github.com/lunagrove/sqlforge/internal/protocol"
	"github.com/lunagrove/sqlforge/internal/schemaspec"
	"github.com/lunagrove/sqlforge/internal/shared"
)

const schemaPipelineSteps = 3

// GenerateSchema runs the fixed schema pipeline: cache check, then generate,
// validate-and-format, store. Its steps never vary, so no planning call is
// spent on it. A cache hit skips straight to the terminal result with
// fromCache set.
func (o *Orchestrator) GenerateSchema(ctx context.Context, em *protocol.Emitter, req SchemaRequest) {
	kind := protocol.KindGenerateSchema
	start := time.Now()
	key := cache.Key(kind, req.DatabaseType, req.Description)

	if cached, ok := o.cache.Get(key); ok {
		// Only a value of the expected shape counts as a hit; anything else
		// under our key is treated as a miss and regenerated.
		if result, ok := cached.(SchemaResult); ok {
			o.countCache(ctx, true, kind)
			o.publishCache(bus.TopicCacheHit, key, kind)
			result.FromCache = true
			em.Result(ctx, result)
			return
		}
	}
	o.countCache(ctx, false, kind)
	o.publishCache(bus.TopicCacheMiss, key, kind)

	o.publish(bus.TopicTaskStarted, bus.TaskEvent{
		ConnID:    shared.ConnID(ctx),
		RequestID: em.RequestID(),
		Kind:      kind,
		Dialect:   req.DatabaseType,
	})

	em.Progress(ctx, 1, schemaPipelineSteps, "Generating schema", nil)
	generated, err := o.svc.GenerateSchema(ctx, llm.SchemaRequest{
		Description: req.Description,
		Dialect:     req.DatabaseType,
		Options:     req.Options,
	})
	if err != nil {
		o.publishTerminal(ctx, em, kind, req.DatabaseType, "", start, err)
		o.fail(ctx, em, kind, fmt.Sprintf("schema generation failed: %v", err), err)
		return
	}

	em.Progress(ctx, 2, schemaPipelineSteps, "Validating schema", nil)
	if err := o.validator.Validate(generated.Schema); err != nil {
		o.publishTerminal(ctx, em, kind, req.DatabaseType, "", start, err)
		o.fail(ctx, em, kind, fmt.Sprintf("generated schema is invalid: %v", err), err)
		return
	}
	formatted, err := schemaspec.Format(generated.Schema)
	if err != nil {
		o.publishTerminal(ctx, em, kind, req.DatabaseType, "", start, err)
		o.fail(ctx, em, kind, fmt.Sprintf("format schema: %v", err), err)
		return
	}

	em.Progress(ctx, 3, schemaPipelineSteps, "Caching result", nil)
	result := SchemaResult{
		Schema:  formatted,
		Notes:   generated.Notes,
		Dialect: req.DatabaseType,
	}
	o.cache.Set(key, result, o.ttl())

	o.publishTerminal(ctx, em, kind, req.DatabaseType, "", start, nil)
	em.Result(ctx, result)
}

func (o *Orchestrator) countCache(ctx context.Context, hit bool, kind string) {
	if o.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	if hit {
		o.metrics.CacheHits.Add(ctx, 1, attrs)
	} else {
		o.metrics.CacheMisses.Add(ctx, 1, attrs)
	}
}

// publishTerminal reports a task's outcome on the bus.
func (o *Orchestrator) publishTerminal(ctx context.Context, em *protocol.Emitter, kind, dialect, taskID string, start time.Time, err error) {
	ev := bus.TaskEvent{
		TaskID:     taskID,
		ConnID:     shared.ConnID(ctx),
		RequestID:  em.RequestID(),
		Kind:       kind,
		Dialect:    dialect,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		ev.Status = "failed"
		ev.Detail = err.Error()
		o.publish(bus.TopicTaskFailed, ev)
		return
	}
	ev.Status = "completed"
	o.publish(bus.TopicTaskCompleted, ev)
}
