package cpm

import (
	"math"
	"testing"

	"github.com/kamlesh9876/devium/internal/graph"
)

func TestAnalyze_LinearChain(t *testing.T) {
	// A -> B -> C (each duration 1)
	g := graph.Build([]graph.Task{
		{ID: "a", Blocks: []string{"b"}},
		{ID: "b", Blocks: []string{"c"}, BlockedBy: []string{"a"}},
		{ID: "c", BlockedBy: []string{"b"}},
	})

	result, err := Analyze(g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.TotalDuration != 3 {
		t.Errorf("expected total duration 3, got %v", result.TotalDuration)
	}
	if len(result.CriticalPath) != 3 {
		t.Errorf("expected 3 tasks on critical path, got %d: %v", len(result.CriticalPath), result.CriticalPath)
	}
	if len(result.Waves) != 3 {
		t.Errorf("expected 3 waves, got %d", len(result.Waves))
	}

	assertSchedule(t, result.Tasks["a"], 0, 1, 0, 1, 0, true)
	assertSchedule(t, result.Tasks["b"], 1, 2, 1, 2, 0, true)
	assertSchedule(t, result.Tasks["c"], 2, 3, 2, 3, 0, true)
}

func TestAnalyze_WithEstimates(t *testing.T) {
	// A(5) -> B(1) -> D(1)
	// A(5) -> C(10) -> D(1)
	// Critical path should be A -> C -> D (total 16)
	g := graph.Build([]graph.Task{
		{ID: "a", EstimatedHours: 5, Blocks: []string{"b", "c"}},
		{ID: "b", EstimatedHours: 1, Blocks: []string{"d"}, BlockedBy: []string{"a"}},
		{ID: "c", EstimatedHours: 10, Blocks: []string{"d"}, BlockedBy: []string{"a"}},
		{ID: "d", EstimatedHours: 1, BlockedBy: []string{"b", "c"}},
	})

	result, err := Analyze(g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.TotalDuration != 16 {
		t.Errorf("expected total duration 16, got %v", result.TotalDuration)
	}
	if result.Tasks["b"].IsCritical {
		t.Error("expected task B to NOT be critical")
	}
	if result.Tasks["b"].Slack != 9 {
		t.Errorf("expected B slack=9, got %v", result.Tasks["b"].Slack)
	}
	want := []string{"a", "c", "d"}
	if len(result.CriticalPath) != len(want) {
		t.Fatalf("expected critical path %v, got %v", want, result.CriticalPath)
	}
	for i, id := range want {
		if result.CriticalPath[i] != id {
			t.Errorf("expected critical path %v, got %v", want, result.CriticalPath)
			break
		}
	}
}

func TestAnalyze_RemainingWork(t *testing.T) {
	// Done tasks take no time; partly spent estimates shrink.
	g := graph.Build([]graph.Task{
		{ID: "a", Status: graph.StatusDone, EstimatedHours: 40, Blocks: []string{"b"}},
		{ID: "b", EstimatedHours: 10, ActualHours: 4, BlockedBy: []string{"a"}},
	})
	result, err := Analyze(g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalDuration != 6 {
		t.Errorf("expected total duration 6, got %v", result.TotalDuration)
	}
}

func TestAnalyze_ParallelIndependent(t *testing.T) {
	g := graph.Build([]graph.Task{{ID: "a"}, {ID: "b"}, {ID: "c"}})

	result, err := Analyze(g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Waves) != 1 {
		t.Errorf("expected 1 wave, got %d", len(result.Waves))
	}
	if len(result.Waves[0].TaskIDs) != 3 {
		t.Errorf("expected 3 tasks in wave 0, got %d", len(result.Waves[0].TaskIDs))
	}
	if result.TotalDuration != 1 {
		t.Errorf("expected total duration 1, got %v", result.TotalDuration)
	}
}

func TestAnalyze_CycleIsAnError(t *testing.T) {
	g := graph.Build([]graph.Task{
		{ID: "a", Blocks: []string{"b"}},
		{ID: "b", Blocks: []string{"a"}},
	})
	if _, err := Analyze(g); err == nil {
		t.Fatal("expected cycle error, got nil")
	}
}

func TestAnalyze_WideDAG(t *testing.T) {
	//     A
	//   / | \
	//  B  C  D
	//   \ | /
	//     E
	g := graph.Build([]graph.Task{
		{ID: "a", Blocks: []string{"b", "c", "d"}},
		{ID: "b", Blocks: []string{"e"}},
		{ID: "c", Blocks: []string{"e"}},
		{ID: "d", Blocks: []string{"e"}},
		{ID: "e"},
	})

	result, err := Analyze(g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Waves) != 3 {
		t.Errorf("expected 3 waves, got %d", len(result.Waves))
	}
	if len(result.Waves) >= 2 && len(result.Waves[1].TaskIDs) != 3 {
		t.Errorf("expected 3 tasks in wave 1, got %d", len(result.Waves[1].TaskIDs))
	}
}

func assertSchedule(t *testing.T, ts *TaskSchedule, es, ef, ls, lf, slack float64, critical bool) {
	t.Helper()
	check := func(name string, want, got float64) {
		if math.Abs(want-got) > 1e-9 {
			t.Errorf("task %s: expected %s=%v, got %v", ts.TaskID, name, want, got)
		}
	}
	check("ES", es, ts.ES)
	check("EF", ef, ts.EF)
	check("LS", ls, ts.LS)
	check("LF", lf, ts.LF)
	check("slack", slack, ts.Slack)
	if ts.IsCritical != critical {
		t.Errorf("task %s: expected critical=%v, got %v", ts.TaskID, critical, ts.IsCritical)
	}
}
