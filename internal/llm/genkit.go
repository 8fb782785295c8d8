package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	sfotel "github.com/lunagrove/sqlforge/internal/otel"
)

// Config selects and configures the underlying provider.
type Config struct {
	// Provider is the LLM provider: "google", "anthropic", "openai",
	// "openai_compatible". Empty defaults to "google".
	Provider string

	// Model is the model name for the configured provider.
	Model string

	// APIKey is the API key for the LLM provider.
	APIKey string

	// OpenAICompatible config.
	OpenAICompatibleProvider string
	OpenAICompatibleBaseURL  string
}

// GenkitService implements CompletionService on top of Genkit.
type GenkitService struct {
	g       *genkit.Genkit
	cfg     Config
	llmOn   bool
	metrics *sfotel.Metrics
}

// NewGenkitService initializes Genkit with the configured provider.
// With no API key available the service stays constructed but every call
// returns ErrNotConfigured.
func NewGenkitService(ctx context.Context, cfg Config, metrics *sfotel.Metrics) *GenkitService {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	cfg.Provider = provider

	modelID := strings.TrimSpace(cfg.Model)
	if modelID == "" {
		modelID = defaultModelForProvider(provider)
	}
	cfg.Model = modelID

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = envAPIKeyForProvider(provider)
	}

	var g *genkit.Genkit
	llmOn := false

	switch provider {
	case "anthropic":
		if apiKey != "" {
			anthropicPlugin := &anthropic.Anthropic{
				APIKey:  apiKey,
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			}
			g = genkit.Init(ctx, genkit.WithPlugins(anthropicPlugin))
			llmOn = true
			slog.Info("completion service initialized", "provider", "anthropic", "model", modelID)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("Anthropic API key missing; completion service disabled")
		}

	case "openai":
		if apiKey != "" {
			openaiPlugin := &compat_oai.OpenAICompatible{
				Provider: "openai",
				APIKey:   apiKey,
				BaseURL:  os.Getenv("OPENAI_BASE_URL"),
			}
			g = genkit.Init(ctx, genkit.WithPlugins(openaiPlugin))
			llmOn = true
			slog.Info("completion service initialized", "provider", "openai", "model", modelID)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("OpenAI API key missing; completion service disabled")
		}

	case "openai_compatible":
		if apiKey != "" {
			openaiCompatPlugin := &compat_oai.OpenAICompatible{
				Provider: cfg.OpenAICompatibleProvider,
				APIKey:   apiKey,
				BaseURL:  cfg.OpenAICompatibleBaseURL,
			}
			g = genkit.Init(ctx, genkit.WithPlugins(openaiCompatPlugin))
			llmOn = true
			slog.Info("completion service initialized", "provider", "openai_compatible", "model", modelID)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("OpenAI compatible API key missing; completion service disabled")
		}

	case "google":
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx,
				genkit.WithPlugins(&googlegenai.GoogleAI{}),
				genkit.WithDefaultModel("googleai/"+modelID),
			)
			llmOn = true
			slog.Info("completion service initialized", "provider", "google", "model", "googleai/"+modelID)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("Google API key missing; completion service disabled")
		}

	default:
		g = genkit.Init(ctx)
		slog.Warn("unknown LLM provider; completion service disabled", "provider", provider)
	}

	return &GenkitService{g: g, cfg: cfg, llmOn: llmOn, metrics: metrics}
}

func defaultModelForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5"
	case "openai", "openai_compatible":
		return "gpt-4o"
	default:
		return "gemini-2.5-flash"
	}
}

func envAPIKeyForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai", "openai_compatible":
		return os.Getenv("OPENAI_API_KEY")
	case "google", "":
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}

func modelNameForProvider(provider, model string) string {
	switch provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai":
		return "openai/" + model
	case "openai_compatible":
		return model
	default:
		return "googleai/" + model
	}
}

const systemPrompt = "You are a database engineering assistant. You design schemas, write SQL for the requested dialect, and explain query behavior. Answer precisely; when asked for JSON, reply with JSON only."

// Generate returns the full completion for a prompt.
func (s *GenkitService) Generate(ctx context.Context, prompt string) (string, error) {
	if !s.llmOn {
		return "", ErrNotConfigured
	}
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return "", fmt.Errorf("empty prompt")
	}

	start := time.Now()
	resp, err := genkit.Generate(ctx, s.g,
		ai.WithModelName(modelNameForProvider(s.cfg.Provider, s.cfg.Model)),
		ai.WithSystem(escapePercent(systemPrompt)),
		ai.WithPrompt(trimmed),
	)
	s.recordDuration(ctx, start)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return resp.Text(), nil
}

// StreamGenerate returns a channel of chunks for incremental output. The
// goroutine draining Genkit's stream iterator owns the channel and closes it
// after the Done (or Err) chunk.
func (s *GenkitService) StreamGenerate(ctx context.Context, prompt string) (<-chan Chunk, error) {
	if !s.llmOn {
		return nil, ErrNotConfigured
	}
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return nil, fmt.Errorf("empty prompt")
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		start := time.Now()
		stream := genkit.GenerateStream(ctx, s.g,
			ai.WithModelName(modelNameForProvider(s.cfg.Provider, s.cfg.Model)),
			ai.WithSystem(escapePercent(systemPrompt)),
			ai.WithPrompt(trimmed),
		)
		for streamVal, err := range stream {
			if err != nil {
				s.recordDuration(ctx, start)
				out <- Chunk{Err: fmt.Errorf("stream: %w", err)}
				return
			}
			if streamVal.Chunk != nil {
				for _, part := range streamVal.Chunk.Content {
					if part.Kind == ai.PartText && part.Text != "" {
						select {
						case out <- Chunk{Text: part.Text}:
						case <-ctx.Done():
							return
						}
					}
				}
			}
		}
		s.recordDuration(ctx, start)
		out <- Chunk{Done: true}
	}()
	return out, nil
}

// GenerateSchema produces a structured schema for the request. The model is
// asked for JSON; the reply is unfenced with ExtractJSON before decoding.
func (s *GenkitService) GenerateSchema(ctx context.Context, req SchemaRequest) (*SchemaResult, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Design a relational database schema for the %s dialect from this description:\n\n%s\n\n", dialectOrDefault(req.Dialect), req.Description)
	sb.WriteString(`Reply with a single JSON object of the form {"tables": [{"name": ..., "columns": [{"name": ..., "type": ..., "nullable": ..., "primaryKey": ...}], "indexes": [...]}], "notes": ...}. No prose outside the JSON.`)

	raw, err := s.Generate(ctx, sb.String())
	if err != nil {
		return nil, err
	}
	jsonStr := ExtractJSON(raw)
	if jsonStr == "" {
		return nil, fmt.Errorf("schema response contains no JSON")
	}
	var parsed struct {
		Notes string `json:"notes"`
	}
	_ = json.Unmarshal([]byte(jsonStr), &parsed)
	return &SchemaResult{Schema: json.RawMessage(jsonStr), Notes: parsed.Notes}, nil
}

// GenerateSQL writes a query for the dialect from natural language.
func (s *GenkitService) GenerateSQL(ctx context.Context, naturalLanguage, schema, dialect string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write a %s query for this request:\n\n%s\n", dialectOrDefault(dialect), naturalLanguage)
	if strings.TrimSpace(schema) != "" {
		fmt.Fprintf(&sb, "\nThe database schema is:\n%s\n", schema)
	}
	sb.WriteString("\nReply with the SQL statement only.")
	return s.Generate(ctx, sb.String())
}

// AnalyzeQuery reports correctness and performance concerns for a query.
func (s *GenkitService) AnalyzeQuery(ctx context.Context, query, dialect string) (string, error) {
	return s.Generate(ctx, fmt.Sprintf("Analyze this %s query for correctness and performance issues:\n\n%s", dialectOrDefault(dialect), query))
}

// OptimizeQuery rewrites a query for performance.
func (s *GenkitService) OptimizeQuery(ctx context.Context, query, dialect string) (string, error) {
	return s.Generate(ctx, fmt.Sprintf("Rewrite this %s query for better performance, keeping results identical. Reply with the SQL statement only:\n\n%s", dialectOrDefault(dialect), query))
}

// ExplainQuery explains what a query does in plain language.
func (s *GenkitService) ExplainQuery(ctx context.Context, query, dialect string) (string, error) {
	return s.Generate(ctx, fmt.Sprintf("Explain in plain language what this %s query does:\n\n%s", dialectOrDefault(dialect), query))
}

// SuggestIndexes recommends indexes for a schema.
func (s *GenkitService) SuggestIndexes(ctx context.Context, schema, dialect string) (string, error) {
	return s.Generate(ctx, fmt.Sprintf("Suggest useful indexes for this %s schema, with a one-line rationale each:\n\n%s", dialectOrDefault(dialect), schema))
}

func (s *GenkitService) recordDuration(ctx context.Context, start time.Time) {
	if s.metrics != nil {
		s.metrics.LLMCallDuration.Record(ctx, time.Since(start).Seconds())
	}
}

func dialectOrDefault(dialect string) string {
	d := strings.TrimSpace(dialect)
	if d == "" {
		return "ANSI SQL"
	}
	return d
}

// escapePercent prevents fmt verb corruption inside ai.WithSystem.
func escapePercent(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}
