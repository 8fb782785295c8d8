// Package llm defines the completion-service boundary: the slow, unreliable
// external text-generation collaborator every orchestrated task ultimately
// calls into, plus the error classification clients use for backoff guidance.
package llm

import (
	"context"
	"encoding/json"
)

// Chunk is one item of a streaming generation. The channel is closed after
// the Done chunk (or an Err chunk); consumers forward items in order.
type Chunk struct {
	Text string
	Done bool
	Err  error
}

// SchemaRequest asks for a structured database schema from a natural-language
// description.
type SchemaRequest struct {
	Description string
	Dialect     string
	Options     map[string]any
}

// SchemaResult is the structured schema produced by the service.
type SchemaResult struct {
	Schema json.RawMessage `json:"schema"`
	Notes  string          `json:"notes,omitempty"`
}

// CompletionService is the external AI collaborator. All methods may take
// many seconds and must be called with a cancellable context, though closing
// a client connection does not abort an in-flight call — the result is
// simply discarded.
type CompletionService interface {
	// Generate returns the full completion for a prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// StreamGenerate returns a channel of chunks for incremental output.
	// The channel is closed after a Done or Err chunk.
	StreamGenerate(ctx context.Context, prompt string) (<-chan Chunk, error)

	// GenerateSchema produces a structured schema for the request.
	GenerateSchema(ctx context.Context, req SchemaRequest) (*SchemaResult, error)

	// Query assistance operations used as plan step actions.
	GenerateSQL(ctx context.Context, naturalLanguage, schema, dialect string) (string, error)
	AnalyzeQuery(ctx context.Context, query, dialect string) (string, error)
	OptimizeQuery(ctx context.Context, query, dialect string) (string, error)
	ExplainQuery(ctx context.Context, query, dialect string) (string, error)
	SuggestIndexes(ctx context.Context, schema, dialect string) (string, error)
}
