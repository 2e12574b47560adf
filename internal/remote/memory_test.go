package remote

import (
	"context"
	"errors"
	"testing"
)

func TestMemory_SubscribeFiresImmediatelyAndOnChange(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Set(ctx, "tasks/t1", map[string]any{"title": "first"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got []Snapshot
	cancel, err := m.Subscribe(ctx, "tasks", func(s Snapshot) { got = append(got, s) })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if len(got) != 1 {
		t.Fatalf("expected 1 initial snapshot, got %d", len(got))
	}

	if err := m.Update(ctx, "tasks/t1", map[string]any{"status": "done"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(got))
	}
	doc := got[1].Value.(map[string]any)["t1"].(map[string]any)
	if doc["title"] != "first" || doc["status"] != "done" {
		t.Errorf("expected merged doc, got %v", doc)
	}

	// Writes elsewhere do not wake the listener.
	if err := m.Set(ctx, "users/u1", map[string]any{"name": "A"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected no delivery for unrelated path, got %d snapshots", len(got))
	}
}

func TestMemory_CancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	calls := 0
	cancel, err := m.Subscribe(ctx, "a", func(Snapshot) { calls++ })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	cancel()
	if err := m.Set(ctx, "a/b", "x"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected only the initial delivery, got %d", calls)
	}
}

func TestMemory_MultiUpdateIsAtomic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, "tasks/a", map[string]any{"title": "A"})

	err := m.MultiUpdate(ctx, map[string]any{
		"tasks/a/blocks":    []string{"b"},
		"tasks/b/blockedBy": []string{"a"},
		"tasks/c":           nil,
		"tasks/bad.key":     "x",
	})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	v, _ := m.Get(ctx, "tasks/a/blocks")
	if v != nil {
		t.Errorf("expected no partial write, got %v", v)
	}

	err = m.MultiUpdate(ctx, map[string]any{
		"tasks/a/blocks":    []string{"b"},
		"tasks/b/blockedBy": []string{"a"},
	})
	if err != nil {
		t.Fatalf("multi update: %v", err)
	}
	v, _ = m.Get(ctx, "tasks/b/blockedBy")
	list, ok := v.([]any)
	if !ok || len(list) != 1 || list[0] != "a" {
		t.Errorf("expected [a], got %v", v)
	}
}

func TestMemory_DeletePrunesEmptyParents(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, "systemNotifications/n1", map[string]any{"target": "all"})
	if err := m.Delete(ctx, "systemNotifications/n1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	v, err := m.Get(ctx, "systemNotifications")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != nil {
		t.Errorf("expected empty collection to vanish, got %v", v)
	}
}

func TestMemory_ServerTimestampIsMonotonic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, "a", map[string]any{"at": ServerTimestamp})
	_ = m.Set(ctx, "b", map[string]any{"at": ServerTimestamp})

	a, _ := m.Get(ctx, "a/at")
	b, _ := m.Get(ctx, "b/at")
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if !aok || !bok {
		t.Fatalf("expected resolved timestamps, got %v and %v", a, b)
	}
	if bf <= af {
		t.Errorf("expected %v > %v", bf, af)
	}
}

func TestMemory_Unavailable(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SetUnavailable(true)
	if err := m.Set(ctx, "a", 1); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if _, err := m.Subscribe(ctx, "a", func(Snapshot) {}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable on subscribe, got %v", err)
	}
	m.SetUnavailable(false)
	if err := m.Set(ctx, "a", 1); err != nil {
		t.Errorf("expected recovery, got %v", err)
	}
}

func TestMemory_PushKeysAreOrdered(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	k1, err := m.Push(ctx, "events", map[string]any{"n": 1})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	k2, _ := m.Push(ctx, "events", map[string]any{"n": 2})
	if k1 >= k2 {
		t.Errorf("expected %s < %s", k1, k2)
	}
}

func TestMemory_ListenerMayWriteBack(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	// Consume-and-delete: the listener removes whatever arrives.
	var seen []any
	cancel, _ := m.Subscribe(ctx, "inbox", func(s Snapshot) {
		seen = append(seen, s.Value)
		if obj, ok := s.Value.(map[string]any); ok {
			for id := range obj {
				_ = m.Delete(ctx, Join("inbox", id))
			}
		}
	})
	defer cancel()

	_ = m.Set(ctx, "inbox/x", map[string]any{"msg": "hi"})
	v, _ := m.Get(ctx, "inbox")
	if v != nil {
		t.Errorf("expected inbox drained, got %v", v)
	}
	// initial nil, the write, then the drained nil
	if len(seen) != 3 || seen[2] != nil {
		t.Errorf("unexpected delivery sequence: %v", seen)
	}
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path string
		ok   bool
	}{
		{"tasks/t1", true},
		{"/tasks/t1/", true},
		{"", false},
		{"blockedIPs/10.0.0.1", false},
		{"a/$b", false},
	}
	for _, tt := range tests {
		err := ValidatePath(tt.path)
		if (err == nil) != tt.ok {
			t.Errorf("ValidatePath(%q) = %v, want ok=%v", tt.path, err, tt.ok)
		}
	}
}
