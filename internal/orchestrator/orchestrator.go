// Package orchestrator turns inbound task frames into plans, executes them
// step by step against the completion service, and reports progress, stream
// chunks, and exactly one terminal frame per request over the emitter.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/lunagrove/sqlforge/internal/bus"
	"github.com/lunagrove/sqlforge/internal/cache"
	"github.com/lunagrove/sqlforge/internal/llm"
	sfotel "github.com/lunagrove/sqlforge/internal/otel"
	"github.com/lunagrove/sqlforge/internal/protocol"
	"github.com/lunagrove/sqlforge/internal/schemaspec"
	"github.com/lunagrove/sqlforge/internal/shared"
)

// Orchestrator owns task execution. One instance is constructed at process
// start and shared by all connections; it holds no per-task state.
type Orchestrator struct {
	svc       llm.CompletionService
	cache     *cache.Cache
	validator *schemaspec.Validator
	bus       *bus.Bus
	metrics   *sfotel.Metrics
	logger    *slog.Logger

	mu       sync.RWMutex
	cacheTTL time.Duration
}

// New constructs an orchestrator. bus and metrics may be nil in tests.
func New(svc llm.CompletionService, c *cache.Cache, cacheTTL time.Duration, validator *schemaspec.Validator, b *bus.Bus, metrics *sfotel.Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		svc:       svc,
		cache:     c,
		cacheTTL:  cacheTTL,
		validator: validator,
		bus:       b,
		metrics:   metrics,
		logger:    logger,
	}
}

// SchemaRequest is the generateSchema inbound payload.
type SchemaRequest struct {
	Description  string         `json:"description"`
	DatabaseType string         `json:"databaseType"`
	Options      map[string]any `json:"options,omitempty"`
}

// QueryRequest is the generateQuery inbound payload.
type QueryRequest struct {
	NaturalLanguage string         `json:"naturalLanguage"`
	Schema          string         `json:"schema,omitempty"`
	DatabaseType    string         `json:"databaseType"`
	Options         map[string]any `json:"options,omitempty"`
}

// TaskRequest is the executeTask inbound payload.
type TaskRequest struct {
	Prompt       string         `json:"prompt"`
	DatabaseType string         `json:"databaseType"`
	Schema       string         `json:"schema,omitempty"`
	Options      map[string]any `json:"options,omitempty"`
}

// SetCacheTTL changes the TTL applied to new cache entries, for config
// reloads. Entries already stored keep the TTL they were written with.
func (o *Orchestrator) SetCacheTTL(ttl time.Duration) {
	o.mu.Lock()
	o.cacheTTL = ttl
	o.mu.Unlock()
}

func (o *Orchestrator) ttl() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cacheTTL
}

// ChatRequest is the chat inbound payload.
type ChatRequest struct {
	Prompt  string `json:"prompt"`
	Context string `json:"context,omitempty"`
}

// SchemaResult is the terminal payload for generateSchema.
type SchemaResult struct {
	Schema    json.RawMessage `json:"schema"`
	Notes     string          `json:"notes,omitempty"`
	Dialect   string          `json:"dialect,omitempty"`
	FromCache bool            `json:"fromCache"`
}

// TaskResult is the terminal payload for plan-and-execute tasks.
type TaskResult struct {
	TaskID  string            `json:"taskId"`
	Result  string            `json:"result"`
	Outputs map[string]string `json:"outputs"`
	Dialect string            `json:"dialect,omitempty"`
}

// fail emits the terminal error frame for a task. External-service failures
// carry one of the backoff codes; everything else gets the bare message.
func (o *Orchestrator) fail(ctx context.Context, em *protocol.Emitter, kind, msg string, err error) {
	o.logger.Warn("task failed",
		"kind", kind,
		"requestId", em.RequestID(),
		"connId", shared.ConnID(ctx),
		"error", err,
	)
	em.Error(ctx, protocol.ErrorPayload{
		Message: msg,
		Type:    kind,
		Code:    llm.Classify(err),
	})
}

func (o *Orchestrator) publish(topic string, ev bus.TaskEvent) {
	if o.bus != nil {
		o.bus.Publish(topic, ev)
	}
}

func (o *Orchestrator) publishCache(topic, key, kind string) {
	if o.bus != nil {
		o.bus.Publish(topic, bus.CacheEvent{Key: key, Kind: kind})
	}
}
