package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/kamlesh9876/devium/internal/graph"
)

const boardJSON = `{
  "users": {"u1": {"name": "Ada", "isOnline": true}},
  "tasks": {
    "t1": {"title": "Ship login", "status": "todo", "assignedTo": "u1"},
    "t2": {"title": "Write docs", "status": "done", "assignedTo": "u1"}
  }
}`

func writeBoard(t *testing.T) string {
	t.Helper()
	for _, k := range []string{"DEVSYNC_FIREBASE_URL", "DEVSYNC_OUTBOX", "DEVSYNC_MONGO_URI", "DEVSYNC_ID_TOKEN"} {
		t.Setenv(k, "")
	}
	path := filepath.Join(t.TempDir(), "board.json")
	if err := os.WriteFile(path, []byte(boardJSON), 0644); err != nil {
		t.Fatalf("write board: %v", err)
	}
	flagSnapshot = path
	t.Cleanup(func() { flagSnapshot = "" })
	return path
}

func TestStartEnv_Snapshot(t *testing.T) {
	path := writeBoard(t)
	ctx := context.Background()

	e, err := startEnv(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer e.Close()

	if e.source != path {
		t.Errorf("expected source %s, got %s", path, e.source)
	}
	if n := len(e.svc.Tasks().List()); n != 2 {
		t.Errorf("expected 2 tasks, got %d", n)
	}
	snap := e.svc.Snapshot(ctx)
	if snap.OpenTasks != 1 {
		t.Errorf("expected 1 open task, got %d", snap.OpenTasks)
	}
	if len(snap.Workload) != 1 || snap.Workload[0].UserID != "u1" {
		t.Errorf("expected workload for u1, got %+v", snap.Workload)
	}
}

func TestSaveSnapshot_WritesBack(t *testing.T) {
	path := writeBoard(t)
	ctx := context.Background()

	e, err := startEnv(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer e.Close()

	if err := e.svc.Tasks().SetStatus(ctx, "t1", graph.StatusDone); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := e.saveSnapshot(); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read board: %v", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		t.Fatalf("parse board: %v", err)
	}
	t1 := tree["tasks"].(map[string]any)["t1"].(map[string]any)
	if t1["status"] != "done" {
		t.Errorf("expected t1 done, got %v", t1["status"])
	}
}

func TestOpenEnv_BadSnapshot(t *testing.T) {
	writeBoard(t)
	flagSnapshot = filepath.Join(t.TempDir(), "missing.json")

	if _, err := openEnv(context.Background(), false); err == nil {
		t.Fatal("expected error for missing snapshot, got nil")
	}
}
