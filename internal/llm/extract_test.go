package llm

import "testing"

func TestExtractJSON_FencedBlock(t *testing.T) {
	text := "Here is the schema:\n```json\n{\"tables\": []}\n```\nLet me know if you need changes."
	got := ExtractJSON(text)
	if got != `{"tables": []}` {
		t.Fatalf("got %q", got)
	}
}

func TestExtractJSON_GenericFence(t *testing.T) {
	text := "```\n[1, 2, 3]\n```"
	got := ExtractJSON(text)
	if got != "[1, 2, 3]" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractJSON_RawObjectInProse(t *testing.T) {
	text := `The result is {"name": "users", "columns": 3} as requested.`
	got := ExtractJSON(text)
	if got != `{"name": "users", "columns": 3}` {
		t.Fatalf("got %q", got)
	}
}

func TestExtractJSON_BracesInsideStrings(t *testing.T) {
	text := `{"sql": "SELECT '{' FROM t", "note": "braces \"}\" inside strings"}`
	got := ExtractJSON(text)
	if got != text {
		t.Fatalf("got %q, want whole object", got)
	}
}

func TestExtractJSON_NoJSON(t *testing.T) {
	if got := ExtractJSON("no structured content here"); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestExtractJSON_UnbalancedIgnored(t *testing.T) {
	if got := ExtractJSON(`prefix {"open": true`); got != "" {
		t.Fatalf("got %q, want empty for unbalanced object", got)
	}
}
