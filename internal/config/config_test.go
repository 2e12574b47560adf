package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DEVSYNC_FIREBASE_URL", "GOOGLE_APPLICATION_CREDENTIALS", "DEVSYNC_OUTBOX", "DEVSYNC_MONGO_URI", "DEVSYNC_ID_TOKEN"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devsync.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Security.SweepInterval != 30*time.Second || cfg.Security.SweepWindow != time.Hour {
		t.Errorf("unexpected sweep defaults: %+v", cfg.Security)
	}
	if cfg.Security.BruteForceThreshold != 5 {
		t.Errorf("expected threshold 5, got %d", cfg.Security.BruteForceThreshold)
	}
	if cfg.Health.Interval != time.Minute {
		t.Errorf("expected health interval 1m, got %v", cfg.Health.Interval)
	}
	if cfg.Notify.Rate != 5 || cfg.Notify.Burst != 10 || cfg.Notify.DedupTTL != 10*time.Minute || cfg.Notify.DedupSize != 512 {
		t.Errorf("unexpected notify defaults: %+v", cfg.Notify)
	}
	if cfg.Workload.OverloadThreshold != 80 {
		t.Errorf("expected overload threshold 80, got %d", cfg.Workload.OverloadThreshold)
	}
	if cfg.Sync.MaxErrors != 50 || cfg.Store.PollInterval != 2*time.Second {
		t.Errorf("unexpected sync/store defaults: %+v %+v", cfg.Sync, cfg.Store)
	}
	if cfg.Audit.Sink != AuditRemote {
		t.Errorf("expected remote audit sink, got %s", cfg.Audit.Sink)
	}
	if !cfg.UseSnapshot() {
		t.Error("expected in-memory store without a database URL")
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
store:
  databaseUrl: https://team.firebaseio.com
  pollInterval: 5s
identity:
  uid: u1
  name: Ada
security:
  sweepInterval: 1m
  bruteForceThreshold: 3
workload:
  overloadThreshold: 70
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.DatabaseURL != "https://team.firebaseio.com" || cfg.Store.PollInterval != 5*time.Second {
		t.Errorf("unexpected store: %+v", cfg.Store)
	}
	if cfg.Identity.UID != "u1" || cfg.Identity.Name != "Ada" || cfg.Identity.Role != "member" {
		t.Errorf("unexpected identity: %+v", cfg.Identity)
	}
	if cfg.Security.SweepInterval != time.Minute || cfg.Security.BruteForceThreshold != 3 {
		t.Errorf("unexpected security: %+v", cfg.Security)
	}
	if cfg.Security.SweepWindow != time.Hour {
		t.Errorf("expected default window kept, got %v", cfg.Security.SweepWindow)
	}
	if cfg.Workload.OverloadThreshold != 70 {
		t.Errorf("expected 70, got %d", cfg.Workload.OverloadThreshold)
	}
	if cfg.UseSnapshot() {
		t.Error("expected the remote database to be used")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEVSYNC_FIREBASE_URL", "https://env.firebaseio.com")
	t.Setenv("DEVSYNC_OUTBOX", "/tmp/outbox.db")
	t.Setenv("DEVSYNC_MONGO_URI", "mongodb://localhost:27017")

	path := writeConfig(t, "store:\n  databaseUrl: https://file.firebaseio.com\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.DatabaseURL != "https://env.firebaseio.com" {
		t.Errorf("expected env URL to win, got %s", cfg.Store.DatabaseURL)
	}
	if cfg.Outbox.Path != "/tmp/outbox.db" {
		t.Errorf("expected env outbox, got %s", cfg.Outbox.Path)
	}
	if cfg.Audit.Sink != AuditBoth || cfg.Audit.MongoURI == "" {
		t.Errorf("expected mongo audit enabled, got %+v", cfg.Audit)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit file")
	}
	if _, err := Load(writeConfig(t, "store: [unclosed")); err == nil {
		t.Error("expected parse error")
	}
	_, err := Load(writeConfig(t, "audit:\n  sink: mongo\n"))
	if err == nil || !strings.Contains(err.Error(), "mongoUri") {
		t.Errorf("expected mongo URI error, got %v", err)
	}
	if _, err := Load(writeConfig(t, "workload:\n  overloadThreshold: 150\n")); err == nil {
		t.Error("expected threshold error")
	}
}
