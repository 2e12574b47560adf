package workload

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/kamlesh9876/devium/internal/alert"
	"github.com/kamlesh9876/devium/internal/graph"
)

func TestScore(t *testing.T) {
	if got := Score(3, 1, 1); got != 60 {
		t.Errorf("expected 60, got %d", got)
	}
	if got := Score(5, 3, 2); got != 100 {
		t.Errorf("expected score capped at 100, got %d", got)
	}
	if got := Score(0, 0, 0); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestEfficiency(t *testing.T) {
	tests := []struct {
		est, act float64
		want     int
	}{
		{10, 50, 100},
		{10, 5, 50},
		{0, 12, 100},
		{8, 0, 0},
	}
	for _, tt := range tests {
		if got := Efficiency(tt.est, tt.act); got != tt.want {
			t.Errorf("Efficiency(%v, %v): expected %d, got %d", tt.est, tt.act, tt.want, got)
		}
	}
}

func TestCompute(t *testing.T) {
	members := []Member{{UID: "u1", Name: "Ada"}, {UID: "u2", Name: "Grace"}}
	tasks := []graph.Task{
		{ID: "1", Assignee: "u1", Status: graph.StatusTodo, EstimatedHours: 4, ActualHours: 2},
		{ID: "2", Assignee: "u1", Status: graph.StatusInProgress, EstimatedHours: 6, ActualHours: 3},
		{ID: "3", Assignee: "u1", Status: graph.StatusBlocked},
		{ID: "4", Assignee: "u3", AssigneeName: "Linus", Status: graph.StatusDone},
		{ID: "5"},
	}

	metrics := Compute(members, tasks)
	if len(metrics) != 3 {
		t.Fatalf("expected 3 metrics, got %d", len(metrics))
	}
	u1, u2, u3 := metrics[0], metrics[1], metrics[2]
	if u1.WorkloadScore != 60 || u1.TotalTasks != 3 || u1.InProgressTasks != 1 || u1.BlockedTasks != 1 {
		t.Errorf("unexpected u1 metric: %+v", u1)
	}
	if u1.Efficiency != 50 {
		t.Errorf("expected u1 efficiency 50, got %v", u1.Efficiency)
	}
	if u2.WorkloadScore != 0 || u2.Efficiency != 100 {
		t.Errorf("expected idle u2, got %+v", u2)
	}
	if u3.UserName != "Linus" || u3.CompletedTasks != 1 {
		t.Errorf("expected unlisted assignee scored, got %+v", u3)
	}
}

func TestBestAssignee(t *testing.T) {
	metrics := []Metric{
		{UserID: "busy", WorkloadScore: 90, Efficiency: 100},
		{UserID: "slow", WorkloadScore: 20, Efficiency: 40},
		{UserID: "fast", WorkloadScore: 20, Efficiency: 95},
	}
	if got := BestAssignee(metrics, ""); got != "fast" {
		t.Errorf("expected fast, got %q", got)
	}
	if got := BestAssignee(metrics, "fast"); got != "slow" {
		t.Errorf("expected slow, got %q", got)
	}
	if got := BestAssignee([]Metric{{UserID: "only"}}, "only"); got != "" {
		t.Errorf("expected no suggestion, got %q", got)
	}
}

func TestBestAssignee_UnroundedEfficiency(t *testing.T) {
	tasks := []graph.Task{
		{ID: "1", Assignee: "a", Status: graph.StatusTodo, EstimatedHours: 10, ActualHours: 9.96},
		{ID: "2", Assignee: "b", Status: graph.StatusTodo, EstimatedHours: 10, ActualHours: 9.99},
	}
	metrics := Compute(nil, tasks)
	if Efficiency(10, 9.96) != Efficiency(10, 9.99) {
		t.Fatal("expected both to display as the same rounded efficiency")
	}
	if got := BestAssignee(metrics, ""); got != "b" {
		t.Errorf("expected b with 99.9%% efficiency, got %q", got)
	}
}

type fakeTasks struct {
	tasks    map[string]graph.Task
	assigned map[string]string
}

func (f *fakeTasks) Get(id string) (graph.Task, error) {
	return f.tasks[id], nil
}

func (f *fakeTasks) Assign(_ context.Context, id, uid, name string) error {
	f.assigned[id] = uid + "/" + name
	return nil
}

func TestBalancer_ReassignAndAlerts(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTasks{
		tasks:    map[string]graph.Task{"t1": {ID: "t1", Assignee: "u1"}},
		assigned: make(map[string]string),
	}
	var alerts []alert.Alert
	n := alert.NotifierFunc(func(_ context.Context, a alert.Alert) error {
		alerts = append(alerts, a)
		return nil
	})
	b := NewBalancer(ft, n, 0, log.New(io.Discard, "", 0))

	members := []Member{{UID: "u1", Name: "Ada"}, {UID: "u2", Name: "Grace"}}
	var tasks []graph.Task
	for i := 0; i < 4; i++ {
		tasks = append(tasks, graph.Task{ID: string(rune('a' + i)), Assignee: "u1", Status: graph.StatusInProgress})
	}
	b.Recompute(ctx, members, tasks)

	if len(alerts) != 1 || alerts[0].UserID != "u1" {
		t.Fatalf("expected one overload alert for u1, got %+v", alerts)
	}

	uid, err := b.Reassign(ctx, "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uid != "u2" || ft.assigned["t1"] != "u2/Grace" {
		t.Errorf("expected t1 moved to u2/Grace, got %q %q", uid, ft.assigned["t1"])
	}
}

func TestBalancer_ReassignWithoutCandidates(t *testing.T) {
	ft := &fakeTasks{
		tasks:    map[string]graph.Task{"t1": {ID: "t1", Assignee: "u1"}},
		assigned: make(map[string]string),
	}
	b := NewBalancer(ft, nil, 0, log.New(io.Discard, "", 0))
	b.Recompute(context.Background(), []Member{{UID: "u1"}}, nil)

	uid, err := b.Reassign(context.Background(), "t1")
	if err != nil || uid != "" {
		t.Errorf("expected no suggestion and no error, got %q %v", uid, err)
	}
	if len(ft.assigned) != 0 {
		t.Errorf("expected no write, got %v", ft.assigned)
	}
}

func TestMembersFromDocs(t *testing.T) {
	members := MembersFromDocs(map[string]map[string]any{
		"u2": {"email": "g@x.io"},
		"u1": {"displayName": "Ada", "role": "admin"},
	})
	if len(members) != 2 || members[0].Name != "Ada" || members[0].Role != "admin" || members[1].Name != "g@x.io" {
		t.Errorf("unexpected members: %+v", members)
	}
}
