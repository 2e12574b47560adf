package outbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// queues returns every implementation so the same behaviour is checked on each.
func queues(t *testing.T) map[string]Queue {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]Queue{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func entry(doc string, payload map[string]any) Entry {
	return Entry{Op: OpUpdate, Collection: "tasks", DocumentID: doc, Payload: payload, QueuedAt: time.Now()}
}

func TestQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := q.Enqueue(ctx, entry("t1", map[string]any{"n": "A"})); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			q.Enqueue(ctx, entry("t1", map[string]any{"n": "B"}))
			q.Enqueue(ctx, entry("t1", map[string]any{"n": "C"}))

			var order []string
			for {
				head, err := q.Next(ctx)
				if err != nil {
					t.Fatalf("next: %v", err)
				}
				if len(head) == 0 {
					break
				}
				order = append(order, head[0].Payload["n"].(string))
				if err := q.Ack(ctx, head[0].Seq); err != nil {
					t.Fatalf("ack: %v", err)
				}
			}
			if len(order) != 3 || order[0] != "A" || order[1] != "B" || order[2] != "C" {
				t.Errorf("expected [A B C], got %v", order)
			}
		})
	}
}

func TestQueue_GroupReturnedTogether(t *testing.T) {
	ctx := context.Background()
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			a := entry("a", nil)
			b := entry("b", nil)
			a.Group, b.Group = "g1", "g1"
			q.Enqueue(ctx, a, b)
			q.Enqueue(ctx, entry("c", nil))

			head, err := q.Next(ctx)
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			if len(head) != 2 || head[0].DocumentID != "a" || head[1].DocumentID != "b" {
				t.Fatalf("expected group [a b], got %+v", head)
			}
		})
	}
}

func TestQueue_FailKeepsEntryAndBuryMovesIt(t *testing.T) {
	ctx := context.Background()
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			got, _ := q.Enqueue(ctx, entry("t1", map[string]any{"x": 1.0}))
			seq := got[0].Seq

			if err := q.Fail(ctx, "timeout", seq); err != nil {
				t.Fatalf("fail: %v", err)
			}
			live, _ := q.List(ctx)
			if len(live) != 1 || live[0].Attempts != 1 || live[0].LastError != "timeout" {
				t.Fatalf("expected entry kept with 1 attempt, got %+v", live)
			}

			if err := q.Bury(ctx, "invalid", seq); err != nil {
				t.Fatalf("bury: %v", err)
			}
			if n, _ := q.Len(ctx); n != 0 {
				t.Errorf("expected empty live queue, got %d", n)
			}
			dead, _ := q.Dead(ctx)
			if len(dead) != 1 || dead[0].Attempts != 2 || dead[0].LastError != "invalid" {
				t.Errorf("expected one dead letter with 2 attempts, got %+v", dead)
			}
		})
	}
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "outbox.db")
	q, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	e := entry("t9", map[string]any{"title": "offline edit"})
	e.Merge = true
	q.Enqueue(ctx, e)
	q.Close()

	q, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer q.Close()
	list, err := q.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 entry after reopen, got %d", len(list))
	}
	got := list[0]
	if got.DocumentID != "t9" || !got.Merge || got.Payload["title"] != "offline edit" {
		t.Errorf("unexpected entry: %+v", got)
	}
}
