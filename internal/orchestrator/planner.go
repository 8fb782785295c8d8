package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lunagrove/sqlforge/internal/llm"
)

const planPromptTemplate = `Break this database task into an ordered list of steps.

Task: %s
Target dialect: %s

Each step has a short human-readable "name" and an "action". Allowed actions:
- generateSchema: design a database schema from a description
- generateSQL: write a SQL query from natural language
- analyzeQuery: analyze a query for correctness and performance issues
- optimizeQuery: rewrite a query for better performance
- explainQuery: explain what a query does in plain language
- suggestIndexes: recommend indexes for a schema

Reply with a JSON array only, e.g.
[{"name": "Write the query", "action": "generateSQL"}, {"name": "Check performance", "action": "analyzeQuery"}]
Use the fewest steps that complete the task. Never use an action outside the list.`

// planTask asks the completion service to decompose a free-form task into
// ordered steps. Planning itself is a completion call and can fail; the
// caller reports that as a terminal error.
func (o *Orchestrator) planTask(ctx context.Context, ec Context) (Plan, error) {
	prompt := fmt.Sprintf(planPromptTemplate, ec.Prompt, dialectLabel(ec.Dialect))
	raw, err := o.svc.Generate(ctx, prompt)
	if err != nil {
		return Plan{}, fmt.Errorf("plan task: %w", err)
	}

	jsonStr := llm.ExtractJSON(raw)
	if jsonStr == "" {
		return Plan{}, fmt.Errorf("plan task: response contains no JSON")
	}

	var steps []Step
	if err := json.Unmarshal([]byte(jsonStr), &steps); err != nil {
		return Plan{}, fmt.Errorf("plan task: decode steps: %w", err)
	}

	plan := Plan{TaskID: uuid.New().String(), Steps: steps}
	if err := plan.Validate(); err != nil {
		return Plan{}, fmt.Errorf("plan task: %w", err)
	}
	return plan, nil
}

// queryPlan is the fixed single-step plan used when the client already told
// us the task shape (generateQuery). No classification call is needed.
func queryPlan() Plan {
	return Plan{
		TaskID: uuid.New().String(),
		Steps: []Step{
			{Name: "Generate SQL", Action: ActionGenerateSQL},
		},
	}
}

func dialectLabel(dialect string) string {
	d := strings.TrimSpace(dialect)
	if d == "" {
		return "ANSI SQL"
	}
	return d
}
