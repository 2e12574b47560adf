package tasks

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/kamlesh9876/devium/internal/datasync"
	"github.com/kamlesh9876/devium/internal/graph"
	"github.com/kamlesh9876/devium/internal/identity"
	"github.com/kamlesh9876/devium/internal/remote"
)

func newTestRepo(t *testing.T) (*Repository, *remote.Memory) {
	t.Helper()
	m := remote.NewMemory()
	eng := datasync.New(datasync.Config{
		Store:    m,
		Identity: identity.NewStatic(identity.User{UID: "u1"}),
		Logger:   log.New(io.Discard, "", 0),
	})
	t.Cleanup(eng.Close)
	return New(eng), m
}

// assertSymmetric checks B in A.blockedBy <=> A in B.blocks for every pair.
func assertSymmetric(t *testing.T, list []graph.Task) {
	t.Helper()
	byID := make(map[string]graph.Task)
	for _, task := range list {
		byID[task.ID] = task
	}
	for _, a := range list {
		for _, b := range a.BlockedBy {
			if !contains(byID[b].Blocks, a.ID) {
				t.Errorf("%s blockedBy %s but %s.blocks=%v", a.ID, b, b, byID[b].Blocks)
			}
		}
		for _, b := range a.Blocks {
			if !contains(byID[b].BlockedBy, a.ID) {
				t.Errorf("%s blocks %s but %s.blockedBy=%v", a.ID, b, b, byID[b].BlockedBy)
			}
		}
	}
}

func TestDependency_AddRemoveKeepsSymmetry(t *testing.T) {
	ctx := context.Background()
	r, m := newTestRepo(t)
	r.Create(ctx, graph.Task{ID: "a", Title: "Schema"})
	r.Create(ctx, graph.Task{ID: "b", Title: "API"})
	r.Create(ctx, graph.Task{ID: "c", Title: "UI"})

	if err := r.AddDependency(ctx, "b", "a"); err != nil {
		t.Fatalf("add b<-a: %v", err)
	}
	if err := r.AddDependency(ctx, "c", "b"); err != nil {
		t.Fatalf("add c<-b: %v", err)
	}
	assertSymmetric(t, r.List())

	b, _ := r.Get("b")
	if len(b.BlockedBy) != 1 || b.BlockedBy[0] != "a" {
		t.Errorf("expected b.blockedBy=[a], got %v", b.BlockedBy)
	}
	if len(b.Dependencies) != 1 || b.Dependencies[0].TaskName != "Schema" || !b.Dependencies[0].IsBlocking {
		t.Errorf("expected blocking dependency on Schema, got %+v", b.Dependencies)
	}

	// The remote copy carries both ends too.
	v, _ := m.Get(ctx, "tasks/a/blocks")
	if blocks, _ := v.([]any); len(blocks) != 1 || blocks[0] != "b" {
		t.Errorf("expected remote a.blocks=[b], got %v", v)
	}

	if err := r.RemoveDependency(ctx, "b", "a"); err != nil {
		t.Fatalf("remove b<-a: %v", err)
	}
	assertSymmetric(t, r.List())
	a, _ := r.Get("a")
	if len(a.Blocks) != 0 {
		t.Errorf("expected a.blocks empty, got %v", a.Blocks)
	}
	b, _ = r.Get("b")
	if len(b.BlockedBy) != 0 || len(b.Dependencies) != 0 {
		t.Errorf("expected b edges cleared, got %v %+v", b.BlockedBy, b.Dependencies)
	}
}

func TestAddDependency_Rejections(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)
	r.Create(ctx, graph.Task{ID: "a"})
	r.Create(ctx, graph.Task{ID: "b"})
	if err := r.AddDependency(ctx, "b", "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := r.AddDependency(ctx, "a", "a"); !errors.Is(err, ErrSelfReference) {
		t.Errorf("expected ErrSelfReference, got %v", err)
	}
	if err := r.AddDependency(ctx, "a", "b"); !errors.Is(err, ErrCycle) {
		t.Errorf("expected ErrCycle, got %v", err)
	}
	if err := r.AddDependency(ctx, "a", "zzz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	assertSymmetric(t, r.List())
}

func TestDelete_StripsNeighbourEdges(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)
	r.Create(ctx, graph.Task{ID: "a"})
	r.Create(ctx, graph.Task{ID: "b"})
	r.Create(ctx, graph.Task{ID: "c"})
	_ = r.AddDependency(ctx, "b", "a")
	_ = r.AddDependency(ctx, "c", "b")

	if err := r.Delete(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.Get("b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected b gone, got %v", err)
	}
	a, _ := r.Get("a")
	c, _ := r.Get("c")
	if len(a.Blocks) != 0 || len(c.BlockedBy) != 0 {
		t.Errorf("expected dangling edges removed, got a.blocks=%v c.blockedBy=%v", a.Blocks, c.BlockedBy)
	}
}

func TestSetStatusAndAssign(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)
	r.Create(ctx, graph.Task{ID: "a", Title: "Keep me"})

	if err := r.SetStatus(ctx, "a", graph.StatusDone); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := r.Assign(ctx, "a", "u2", "Grace"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	a, _ := r.Get("a")
	if a.Status != graph.StatusDone || a.Progress != 100 {
		t.Errorf("expected done at 100%%, got %s %d", a.Status, a.Progress)
	}
	if a.Assignee != "u2" || a.AssigneeName != "Grace" || a.Title != "Keep me" {
		t.Errorf("unexpected task after merge: %+v", a)
	}
	if err := r.SetStatus(ctx, "missing", graph.StatusDone); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)
	due := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	r.Create(ctx, graph.Task{ID: "a", Title: "Fix login page", Status: graph.StatusInProgress, Assignee: "u1", Tags: []string{"auth"}, DueDate: due})
	r.Create(ctx, graph.Task{ID: "b", Title: "Write release notes", Priority: graph.PriorityHigh, Assignee: "u2"})
	r.Create(ctx, graph.Task{ID: "c", Title: "Fix logn page", Assignee: "u1"})

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"empty", Filter{}, []string{"a", "b", "c"}},
		{"substring", Filter{Query: "release"}, []string{"b"}},
		{"fuzzy", Filter{Query: "fix login page"}, []string{"a", "c"}},
		{"assignee", Filter{Assignee: "u1"}, []string{"a", "c"}},
		{"status", Filter{Statuses: []graph.Status{graph.StatusInProgress}}, []string{"a"}},
		{"priority", Filter{Priorities: []graph.Priority{graph.PriorityHigh}}, []string{"b"}},
		{"tag", Filter{Tags: []string{"auth"}}, []string{"a"}},
		{"due range", Filter{DueAfter: due.AddDate(0, 0, -1), DueBefore: due.AddDate(0, 0, 1)}, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Search(tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %d tasks", tt.want, len(got))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("expected %v, got %s at %d", tt.want, got[i].ID, i)
				}
			}
		})
	}
}
