package graph

import (
	"testing"
	"time"
)

func TestBuild_SimpleDAG(t *testing.T) {
	// A -> B -> D
	// A -> C -> D
	tasks := []Task{
		{ID: "a", Title: "Task A", Blocks: []string{"b", "c"}},
		{ID: "b", Title: "Task B", Blocks: []string{"d"}, BlockedBy: []string{"a"}},
		{ID: "c", Title: "Task C", Blocks: []string{"d"}, BlockedBy: []string{"a"}},
		{ID: "d", Title: "Task D", BlockedBy: []string{"b", "c"}},
	}

	g := Build(tasks)

	if g.TaskCount() != 4 {
		t.Errorf("expected 4 tasks, got %d", g.TaskCount())
	}
	if len(g.Roots) != 1 || g.Roots[0] != "a" {
		t.Errorf("expected roots=[a], got %v", g.Roots)
	}
	if len(g.Leaves) != 1 || g.Leaves[0] != "d" {
		t.Errorf("expected leaves=[d], got %v", g.Leaves)
	}
	if adj := g.Adj["a"]; len(adj) != 2 {
		t.Errorf("expected a to block 2 tasks, got %v", adj)
	}
	if rev := g.RevAdj["d"]; len(rev) != 2 {
		t.Errorf("expected d to be blocked by 2 tasks, got %v", rev)
	}
}

func TestBuild_OneSidedEdge(t *testing.T) {
	// Only b records the edge; the graph still has it.
	g := Build([]Task{
		{ID: "a"},
		{ID: "b", BlockedBy: []string{"a"}},
	})
	if len(g.Adj["a"]) != 1 || g.Adj["a"][0] != "b" {
		t.Errorf("expected a -> b, got %v", g.Adj["a"])
	}
}

func TestBuild_CycleDoesNotFail(t *testing.T) {
	// A -> B -> C -> A
	g := Build([]Task{
		{ID: "a", Blocks: []string{"b"}},
		{ID: "b", Blocks: []string{"c"}},
		{ID: "c", Blocks: []string{"a"}},
		{ID: "d"},
	})
	cycle := g.DetectCycle()
	if len(cycle) != 4 || cycle[0] != cycle[len(cycle)-1] {
		t.Fatalf("expected closed cycle of 3 tasks, got %v", cycle)
	}
	cyclic := g.CyclicTasks()
	if len(cyclic) != 3 || cyclic["d"] {
		t.Errorf("expected a, b, c cyclic, got %v", cyclic)
	}
}

func TestBuild_ExternalAndSelfEdgesIgnored(t *testing.T) {
	g := Build([]Task{
		{ID: "a", Blocks: []string{"z", "a"}},
		{ID: "b"},
	})
	if len(g.Adj["a"]) != 0 {
		t.Errorf("expected no adj for a, got %v", g.Adj["a"])
	}
	if g.DetectCycle() != nil {
		t.Error("self edge must not count as a cycle")
	}
}

func TestDetectCycle_NoCycle(t *testing.T) {
	g := &TaskGraph{
		Tasks: map[string]*Task{
			"a": {ID: "a"},
			"b": {ID: "b"},
		},
		Adj: map[string][]string{
			"a": {"b"},
		},
		RevAdj: map[string][]string{
			"b": {"a"},
		},
	}
	if cycle := g.DetectCycle(); cycle != nil {
		t.Errorf("expected no cycle, got %v", cycle)
	}
	if len(g.CyclicTasks()) != 0 {
		t.Errorf("expected no cyclic tasks, got %v", g.CyclicTasks())
	}
}

func TestReachable(t *testing.T) {
	g := Build([]Task{
		{ID: "a", Blocks: []string{"b"}},
		{ID: "b", Blocks: []string{"c"}},
		{ID: "c"},
	})
	if !g.Reachable("a", "c") {
		t.Error("expected c reachable from a")
	}
	if g.Reachable("c", "a") {
		t.Error("expected a unreachable from c")
	}
}

func TestFilter(t *testing.T) {
	g := Build([]Task{
		{ID: "a", Status: StatusDone, Blocks: []string{"b"}},
		{ID: "b", Status: StatusTodo, BlockedBy: []string{"a"}},
	})
	open := g.Filter(func(t *Task) bool { return !t.IsDone() })
	if open.TaskCount() != 1 {
		t.Fatalf("expected 1 open task, got %d", open.TaskCount())
	}
	if len(open.RevAdj["b"]) != 0 {
		t.Errorf("expected edge to filtered task dropped, got %v", open.RevAdj["b"])
	}
}

func TestTaskFromPayload_Total(t *testing.T) {
	task := TaskFromPayload("t1", map[string]any{
		"title":          "Ship it",
		"status":         "in_progress",
		"priority":       "HIGH",
		"assignedTo":     "u1",
		"estimatedHours": 8.0,
		"actualHours":    "3",
		"progress":       150.0,
		"dueDate":        "2026-01-10",
		"tags":           []any{"api", "", "api", "backend"},
		"blockedBy":      map[string]any{"t0": true},
		"blocks":         "not-a-list",
		"dependencies":   []any{map[string]any{"taskId": "t0", "isBlocking": true}, map[string]any{}},
	})

	if task.Status != StatusInProgress {
		t.Errorf("expected in-progress, got %s", task.Status)
	}
	if task.Priority != PriorityHigh {
		t.Errorf("expected high, got %s", task.Priority)
	}
	if task.EstimatedHours != 8 || task.ActualHours != 3 {
		t.Errorf("expected hours 8/3, got %v/%v", task.EstimatedHours, task.ActualHours)
	}
	if task.Progress != 100 {
		t.Errorf("expected progress clamped to 100, got %d", task.Progress)
	}
	if !task.DueDate.Equal(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected due date %v", task.DueDate)
	}
	if len(task.Tags) != 2 || task.Tags[0] != "api" || task.Tags[1] != "backend" {
		t.Errorf("expected tags [api backend], got %v", task.Tags)
	}
	if len(task.BlockedBy) != 1 || task.BlockedBy[0] != "t0" {
		t.Errorf("expected blockedBy [t0], got %v", task.BlockedBy)
	}
	if len(task.Blocks) != 0 {
		t.Errorf("expected mistyped blocks to decode empty, got %v", task.Blocks)
	}
	if len(task.Dependencies) != 1 || !task.Dependencies[0].IsBlocking {
		t.Errorf("expected one blocking dependency, got %+v", task.Dependencies)
	}
}

func TestTaskFromPayload_Defaults(t *testing.T) {
	task := TaskFromPayload("t2", nil)
	if task.ID != "t2" || task.Status != StatusTodo || task.Priority != PriorityMedium {
		t.Errorf("unexpected defaults: %+v", task)
	}
	if task.HasDueDate() {
		t.Error("expected no due date")
	}
}

func TestPayloadRoundTripKeepsEdges(t *testing.T) {
	in := Task{
		ID:        "t1",
		Title:     "A",
		Status:    StatusBlocked,
		Priority:  PriorityCritical,
		BlockedBy: []string{"t0"},
		Blocks:    []string{"t2", "t3"},
		DueDate:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	out := TaskFromPayload("t1", ToPayload(in))
	if out.Status != StatusBlocked || out.Priority != PriorityCritical {
		t.Errorf("unexpected status/priority: %s/%s", out.Status, out.Priority)
	}
	if len(out.Blocks) != 2 || len(out.BlockedBy) != 1 {
		t.Errorf("expected edges kept, got blocks=%v blockedBy=%v", out.Blocks, out.BlockedBy)
	}
	if !out.DueDate.Equal(in.DueDate) {
		t.Errorf("expected due date %v, got %v", in.DueDate, out.DueDate)
	}
}
