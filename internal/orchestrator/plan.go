package orchestrator

import (
	"fmt"
)

// Plan step actions. The set is closed: the planner rejects any action the
// completion service invents that is not listed here.
const (
	ActionGenerateSchema = "generateSchema"
	ActionGenerateSQL    = "generateSQL"
	ActionAnalyzeQuery   = "analyzeQuery"
	ActionOptimizeQuery  = "optimizeQuery"
	ActionExplainQuery   = "explainQuery"
	ActionSuggestIndexes = "suggestIndexes"
)

var knownActions = map[string]bool{
	ActionGenerateSchema: true,
	ActionGenerateSQL:    true,
	ActionAnalyzeQuery:   true,
	ActionOptimizeQuery:  true,
	ActionExplainQuery:   true,
	ActionSuggestIndexes: true,
}

// Step is a single step in a plan.
type Step struct {
	Name   string `json:"name"`
	Action string `json:"action"`
}

// Plan is an ordered sequence of steps produced for one task. Steps execute
// strictly in order; no step begins before all earlier steps have completed.
type Plan struct {
	TaskID string
	Steps  []Step
}

// Validate checks that the plan is well-formed.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	for i, s := range p.Steps {
		if s.Name == "" {
			return fmt.Errorf("step %d has empty name", i+1)
		}
		if !knownActions[s.Action] {
			return fmt.Errorf("step %q has unknown action %q", s.Name, s.Action)
		}
	}
	return nil
}

// Context carries a task's original inputs plus the accumulated outputs of
// completed steps. It is an immutable value: each step receives the context
// produced by its predecessor and WithOutput returns an updated copy, so
// steps never share mutable state.
type Context struct {
	Prompt  string
	Dialect string
	Schema  string
	Options map[string]any

	outputs map[string]string
	last    string
}

// NewContext builds the initial execution context for a task.
func NewContext(prompt, dialect, schema string, options map[string]any) Context {
	return Context{
		Prompt:  prompt,
		Dialect: dialect,
		Schema:  schema,
		Options: options,
	}
}

// WithOutput returns a copy of the context with one step's output merged in.
// The receiving context is unchanged.
func (c Context) WithOutput(step, output string) Context {
	merged := make(map[string]string, len(c.outputs)+1)
	for k, v := range c.outputs {
		merged[k] = v
	}
	merged[step] = output
	c.outputs = merged
	c.last = output
	return c
}

// Output returns a completed step's output.
func (c Context) Output(step string) (string, bool) {
	v, ok := c.outputs[step]
	return v, ok
}

// Outputs returns a copy of all accumulated step outputs.
func (c Context) Outputs() map[string]string {
	out := make(map[string]string, len(c.outputs))
	for k, v := range c.outputs {
		out[k] = v
	}
	return out
}

// LastOutput returns the most recent step output, or "" before any step has
// completed. Query-shaped actions chain through it: analyze/optimize/explain
// operate on the previous step's SQL when one exists, else on the prompt.
func (c Context) LastOutput() string {
	return c.last
}

// workingQuery is the SQL a query-shaped action should operate on.
func (c Context) workingQuery() string {
	if c.last != "" {
		return c.last
	}
	return c.Prompt
}

// workingSchema is the schema text a schema-shaped action should operate on.
func (c Context) workingSchema() string {
	if c.Schema != "" {
		return c.Schema
	}
	if c.last != "" {
		return c.last
	}
	return c.Prompt
}
