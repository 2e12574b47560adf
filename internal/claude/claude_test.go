package claude

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kamlesh9876/devium/internal/graph"
)

func TestStripJSONFences_Clean(t *testing.T) {
	input := `{"edges": [], "summary": "no deps"}`
	got := stripJSONFences(input)
	if got != input {
		t.Errorf("expected unchanged, got %q", got)
	}
}

func TestStripJSONFences_WithJSONTag(t *testing.T) {
	input := "```json\n{\"edges\": []}\n```"
	got := stripJSONFences(input)
	if got != `{"edges": []}` {
		t.Errorf("expected clean JSON, got %q", got)
	}
}

func TestStripJSONFences_WithWhitespace(t *testing.T) {
	input := "  \n```json\n{\"edges\": []}\n```\n  "
	got := stripJSONFences(input)
	if got != `{"edges": []}` {
		t.Errorf("expected clean JSON, got %q", got)
	}
}

func TestSummaries_SkipsDoneTasks(t *testing.T) {
	tasks := []graph.Task{
		{ID: "T1", Title: "Setup DB", Status: graph.StatusDone, Priority: graph.PriorityHigh},
		{ID: "T2", Title: "Add API", Status: graph.StatusTodo, Priority: graph.PriorityMedium, AssigneeName: "Ada", Description: strings.Repeat("x", 400)},
	}
	got := Summaries(tasks)
	if len(got) != 1 || got[0].ID != "T2" {
		t.Fatalf("expected only T2, got %+v", got)
	}
	if got[0].Priority != "medium" || got[0].Assignee != "Ada" {
		t.Errorf("unexpected summary %+v", got[0])
	}
	if len(got[0].Description) != 280 {
		t.Errorf("expected description truncated to 280, got %d", len(got[0].Description))
	}
}

func TestSummaries_TruncatesOnRuneBoundary(t *testing.T) {
	desc := strings.Repeat("é", 100) + strings.Repeat("日本", 150)
	got := Summaries([]graph.Task{{ID: "T1", Status: graph.StatusTodo, Description: desc}})
	d := got[0].Description
	if !utf8.ValidString(d) {
		t.Fatalf("expected valid UTF-8, got %q", d)
	}
	if n := utf8.RuneCountInString(d); n != 280 {
		t.Errorf("expected 280 runes, got %d", n)
	}
	if !strings.HasSuffix(d, "日...") {
		t.Errorf("expected whole runes before the ellipsis, got %q", d[len(d)-12:])
	}

	short := strings.Repeat("日", 280)
	if got := Summaries([]graph.Task{{ID: "T2", Status: graph.StatusTodo, Description: short}}); got[0].Description != short {
		t.Error("expected 280-rune description kept whole")
	}
}

func TestBuildPrompt_ContainsTaskData(t *testing.T) {
	tasks := []TaskSummary{
		{ID: "T1", Title: "Setup DB", Priority: "high", Status: "todo"},
		{ID: "T2", Title: "Add API", Priority: "medium", Status: "todo"},
	}
	prompt, err := buildPrompt(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(prompt, "T1") || !strings.Contains(prompt, "Setup DB") {
		t.Error("prompt should contain task IDs and titles")
	}
	if !strings.Contains(prompt, "T2") || !strings.Contains(prompt, "Add API") {
		t.Error("prompt should contain all tasks")
	}
	if !strings.Contains(prompt, "strong causal reason") {
		t.Error("prompt should contain dependency rules")
	}
}

func TestParseInferDeps(t *testing.T) {
	raw := "```json\n" + `{
		"edges": [
			{"blocked_id": "T2", "blocker_id": "T1", "reason": "API needs DB"}
		],
		"summary": "T2 depends on T1"
	}` + "\n```"
	result, err := parseInferDeps(raw)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(result.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(result.Edges))
	}
	if result.Edges[0].BlockedID != "T2" || result.Edges[0].BlockerID != "T1" {
		t.Errorf("unexpected edge %+v", result.Edges[0])
	}
	if result.Summary != "T2 depends on T1" {
		t.Errorf("unexpected summary: %s", result.Summary)
	}

	if _, err := parseInferDeps("not json"); err == nil {
		t.Error("expected error for non-JSON response")
	}
}

func TestValid_FiltersEdges(t *testing.T) {
	tasks := []graph.Task{
		{ID: "T1"},
		{ID: "T2"},
		{ID: "T3", BlockedBy: []string{"T1"}},
	}
	result := &InferDepsResult{Edges: []DepEdge{
		{BlockedID: "T2", BlockerID: "T1"},
		{BlockedID: "T2", BlockerID: "T1"}, // duplicate
		{BlockedID: "T2", BlockerID: "T2"}, // self
		{BlockedID: "T9", BlockerID: "T1"}, // unknown blocked
		{BlockedID: "T2", BlockerID: "T9"}, // unknown blocker
		{BlockedID: "T3", BlockerID: "T1"}, // already present
		{BlockedID: "T3", BlockerID: "T2"},
	}}
	got := result.Valid(tasks)
	if len(got) != 2 {
		t.Fatalf("expected 2 valid edges, got %+v", got)
	}
	if got[0].BlockedID != "T2" || got[1].BlockedID != "T3" || got[1].BlockerID != "T2" {
		t.Errorf("unexpected edges %+v", got)
	}
}
