package reporter

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/kamlesh9876/devium/internal/alert"
	"github.com/kamlesh9876/devium/internal/bottleneck"
	"github.com/kamlesh9876/devium/internal/dashboard"
	"github.com/kamlesh9876/devium/internal/datasync"
	"github.com/kamlesh9876/devium/internal/health"
	"github.com/kamlesh9876/devium/internal/security"
	"github.com/kamlesh9876/devium/internal/state"
	"github.com/kamlesh9876/devium/internal/workload"
)

func makeSnapshot() *dashboard.Snapshot {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ada := workload.Metric{UserID: "u1", UserName: "Ada", TotalTasks: 5, InProgressTasks: 2, WorkloadScore: 90, Efficiency: 80}
	return &dashboard.Snapshot{
		GeneratedAt: now,
		Tasks:       6,
		OpenTasks:   5,
		Bottlenecks: &bottleneck.Report{
			Bottlenecks: []bottleneck.Bottleneck{{
				TaskID:          "t2",
				TaskTitle:       "Build API",
				Type:            bottleneck.TypeDependency,
				Severity:        alert.SeverityHigh,
				Description:     "Task is blocked by 2 incomplete task(s)",
				SuggestedAction: "Complete blocking tasks or remove dependencies",
			}},
			CriticalPath: []string{"t1", "t2"},
			TotalHours:   12,
		},
		Workload:   []workload.Metric{ada, {UserID: "u2", UserName: "Bob", WorkloadScore: 10, Efficiency: 100}},
		Overloaded: []workload.Metric{ada},
		Security: security.Metrics{
			TotalEvents:    4,
			CriticalEvents: 1,
			ActiveThreats:  1,
			RiskScore:      40,
			TopAttackSources: []security.SourceCount{
				{IP: "9.9.9.9", Count: 3},
			},
		},
		ActiveThreats: []security.Threat{{ID: "th1", Name: "Brute Force Attack", Severity: alert.SeverityCritical, Status: security.ThreatActive}},
		Health: health.Report{
			Status:       health.StatusWarning,
			OverallScore: 72,
			Checks:       map[string]health.Check{"store": {Name: "store", Status: health.CheckOK, Score: 100}},
		},
		Sync: datasync.Status{
			Online:            false,
			PendingOperations: 2,
			Errors:            []datasync.SyncError{{Op: "sync", Collection: "tasks", DocumentID: "t9", Message: "unavailable"}},
		},
	}
}

func TestPrintStatus(t *testing.T) {
	rpt := New(makeSnapshot())

	var buf bytes.Buffer
	rpt.PrintStatus(&buf)
	output := buf.String()

	for _, want := range []string{"devsync", "offline", "5 open of 6 tasks", "2 pending", "bottlenecks 1", "1 active"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected status to contain %q, got:\n%s", want, output)
		}
	}
}

func TestPrintSummaryReport(t *testing.T) {
	rpt := New(makeSnapshot())

	var buf bytes.Buffer
	out := rpt.PrintSummaryReport(&buf)
	if out != buf.String() {
		t.Error("expected returned report to match written output")
	}
	for _, want := range []string{"Build API", "t1 → t2", "Ada", "Brute Force Attack", "9.9.9.9", "HEALTH", "Sync errors", "unavailable"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected report to contain %q", want)
		}
	}
}

func TestPrintBottlenecks_Empty(t *testing.T) {
	snap := makeSnapshot()
	snap.Bottlenecks = &bottleneck.Report{}
	var buf bytes.Buffer
	New(snap).PrintBottlenecks(&buf)
	if !strings.Contains(buf.String(), "none") {
		t.Errorf("expected 'none', got %q", buf.String())
	}
}

func TestJSON(t *testing.T) {
	data, err := New(makeSnapshot()).JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	output := string(data)
	for _, want := range []string{`"bottleneckType": "dependency"`, `"criticalPath"`, `"riskScore": 40`, `"pendingOperations": 2`} {
		if !strings.Contains(output, want) {
			t.Errorf("expected JSON to contain %s", want)
		}
	}
}

func TestPrintState(t *testing.T) {
	defer os.RemoveAll(".devsync")

	st, err := state.New("https://example.firebaseio.com")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if err := makeSnapshot().Persist(st); err != nil {
		t.Fatalf("persist: %v", err)
	}

	var buf bytes.Buffer
	PrintState(&buf, st, st.UpdatedAt)
	out := buf.String()
	for _, want := range []string{"watching", "2 pending", "t1 → t2", "u1", "warning"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected state output to contain %q, got:\n%s", want, out)
		}
	}

	buf.Reset()
	PrintState(&buf, st, st.UpdatedAt.Add(time.Hour))
	if !strings.Contains(buf.String(), "stale") {
		t.Error("expected an old watching state to show as stale")
	}
}
