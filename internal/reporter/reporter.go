package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/kamlesh9876/devium/internal/dashboard"
	"github.com/kamlesh9876/devium/internal/state"
	"github.com/kamlesh9876/devium/internal/ui"
)

// Reporter renders a dashboard snapshot.
type Reporter struct {
	Snap *dashboard.Snapshot
	// Titles maps task ids to titles for display. Optional.
	Titles map[string]string
}

// New creates a new Reporter.
func New(snap *dashboard.Snapshot) *Reporter {
	return &Reporter{Snap: snap, Titles: make(map[string]string)}
}

// PrintStatus writes a one-screen overview: sync, health and counts.
func (r *Reporter) PrintStatus(w io.Writer) {
	s := r.Snap
	online := ui.Green("online")
	if !s.Sync.Online {
		online = ui.Yellow("offline")
	}
	fmt.Fprintf(w, "%s %s %s  %d open of %d tasks",
		ui.BoldCyan("📡 devsync"), ui.Dim("—"), online, s.OpenTasks, s.Tasks)
	if s.Sync.PendingOperations > 0 {
		fmt.Fprintf(w, " %s", ui.Yellow(fmt.Sprintf("(%d pending)", s.Sync.PendingOperations)))
	}
	if s.Sync.DeadLetters > 0 {
		fmt.Fprintf(w, " %s", ui.Red(fmt.Sprintf("(%d dead letters)", s.Sync.DeadLetters)))
	}
	fmt.Fprintln(w)

	if !s.Sync.LastSyncTime.IsZero() {
		fmt.Fprintf(w, "  last sync   %s\n", ui.Dim(s.Sync.LastSyncTime.Format(time.RFC3339)))
	}
	if s.Health.Status != "" {
		fmt.Fprintf(w, "  health      %s %s\n", ui.Health(string(s.Health.Status)), ui.Dim(fmt.Sprintf("(%.0f)", s.Health.OverallScore)))
	}
	bn := 0
	if s.Bottlenecks != nil {
		bn = len(s.Bottlenecks.Bottlenecks)
	}
	fmt.Fprintf(w, "  bottlenecks %d\n", bn)
	fmt.Fprintf(w, "  overloaded  %d\n", len(s.Overloaded))
	fmt.Fprintf(w, "  threats     %d active, risk %s\n", s.Security.ActiveThreats, riskLabel(s.Security.RiskScore))
	if s.Unread > 0 {
		fmt.Fprintf(w, "  inbox       %s\n", ui.Bold(fmt.Sprintf("%d unread", s.Unread)))
	}
}

// PrintBottlenecks writes the bottleneck list and the critical path.
func (r *Reporter) PrintBottlenecks(w io.Writer) {
	rep := r.Snap.Bottlenecks
	fmt.Fprintf(w, "  🚧 %s\n", ui.BoldWhite("BOTTLENECKS"))
	if rep == nil || len(rep.Bottlenecks) == 0 {
		fmt.Fprintf(w, "    %s\n", ui.Dim("none"))
	} else {
		for _, b := range rep.Bottlenecks {
			title := b.TaskTitle
			if title == "" {
				title = r.title(b.TaskID)
			}
			fmt.Fprintf(w, "    %-8s %-10s %s %s\n", ui.Severity(string(b.Severity)), b.Type, ui.BoldMagenta(b.TaskID), truncate(title, 40))
			fmt.Fprintf(w, "             %s\n", ui.Dim(b.Description+". "+b.SuggestedAction))
		}
	}
	if rep == nil {
		return
	}
	if len(rep.CriticalPath) > 0 {
		fmt.Fprintf(w, "  Critical:  %s %s\n",
			ui.BoldYellow("⚡ "+strings.Join(rep.CriticalPath, " → ")),
			ui.Dim(fmt.Sprintf("[%.1fh]", rep.TotalHours)))
	}
	if len(rep.Cycle) > 0 {
		fmt.Fprintf(w, "  %s %s\n", ui.BoldRed("Cycle:"), strings.Join(rep.Cycle, " → "))
	}
	if len(rep.Skipped) > 0 {
		fmt.Fprintf(w, "  %s %s\n", ui.Yellow("Skipped:"), strings.Join(rep.Skipped, ", "))
	}
}

// PrintWorkload writes one line per member.
func (r *Reporter) PrintWorkload(w io.Writer) {
	fmt.Fprintf(w, "  👥 %s\n", ui.BoldWhite("WORKLOAD"))
	if len(r.Snap.Workload) == 0 {
		fmt.Fprintf(w, "    %s\n", ui.Dim("no members"))
		return
	}
	over := make(map[string]bool, len(r.Snap.Overloaded))
	for _, m := range r.Snap.Overloaded {
		over[m.UserID] = true
	}
	for _, m := range r.Snap.Workload {
		name := m.UserName
		if name == "" {
			name = m.UserID
		}
		score := scoreBar(m.WorkloadScore)
		if over[m.UserID] {
			score = ui.BoldRed(score)
		}
		fmt.Fprintf(w, "    %-20s %s %3d  %d/%d done  %d blocked  eff %.0f%%\n",
			truncate(name, 20), score, m.WorkloadScore, m.CompletedTasks, m.TotalTasks, m.BlockedTasks, m.Efficiency)
	}
}

// PrintSecurity writes the security metrics and active threats.
func (r *Reporter) PrintSecurity(w io.Writer) {
	m := r.Snap.Security
	fmt.Fprintf(w, "  🛡  %s  risk %s\n", ui.BoldWhite("SECURITY"), riskLabel(m.RiskScore))
	fmt.Fprintf(w, "    events %d (%s critical, %s high, %d medium, %d low), %d resolved\n",
		m.TotalEvents, ui.Red(fmt.Sprint(m.CriticalEvents)), ui.Yellow(fmt.Sprint(m.HighEvents)),
		m.MediumEvents, m.LowEvents, m.ResolvedEvents)
	if m.BlockedAttempts > 0 || m.SuccessfulAttacks > 0 {
		fmt.Fprintf(w, "    blocked attempts %d, successful attacks %d\n", m.BlockedAttempts, m.SuccessfulAttacks)
	}
	for i, src := range m.TopAttackSources {
		if i == 3 {
			break
		}
		fmt.Fprintf(w, "    source %-15s %d\n", src.IP, src.Count)
	}
	for _, th := range r.Snap.ActiveThreats {
		fmt.Fprintf(w, "    %s %-8s %s %s\n", ui.StatusIcon(string(th.Status)), ui.Severity(string(th.Severity)), ui.Bold(th.Name), ui.Dim(th.Description))
	}
}

// PrintSummaryReport writes every section to w. The output is also
// returned as a string for reuse (e.g. as context for the digest).
func (r *Reporter) PrintSummaryReport(w io.Writer) string {
	var b strings.Builder
	mw := io.MultiWriter(w, &b)

	fmt.Fprintf(mw, "\n%s\n", ui.BoldCyan("devsync report"))
	fmt.Fprintf(mw, "%s\n", ui.Cyan("══════════════"))
	fmt.Fprintf(mw, "Generated: %s\n\n", ui.Dim(r.Snap.GeneratedAt.Format(time.RFC3339)))
	r.PrintStatus(mw)
	fmt.Fprintln(mw)
	r.PrintBottlenecks(mw)
	fmt.Fprintln(mw)
	r.PrintWorkload(mw)
	fmt.Fprintln(mw)
	r.PrintSecurity(mw)

	if len(r.Snap.Health.Checks) > 0 {
		fmt.Fprintf(mw, "\n  🩺 %s\n", ui.BoldWhite("HEALTH"))
		for _, name := range sortedKeys(r.Snap.Health.Checks) {
			c := r.Snap.Health.Checks[name]
			fmt.Fprintf(mw, "    %s %-8s %3d %s\n", ui.StatusIcon(string(c.Status)), name, c.Score, ui.Dim(c.Detail))
		}
	}
	if len(r.Snap.Sync.Errors) > 0 {
		fmt.Fprintf(mw, "\n%s\n", ui.BoldRed("Sync errors:"))
		for _, e := range r.Snap.Sync.Errors {
			fmt.Fprintf(mw, "  %s %s %s/%s %s\n", ui.Red("✗"), e.Op, e.Collection, e.DocumentID, ui.Dim(e.Message))
		}
	}
	return b.String()
}

// JSON returns the snapshot as indented JSON.
func (r *Reporter) JSON() ([]byte, error) {
	return json.MarshalIndent(r.Snap, "", "  ")
}

// PrintState writes the persisted state of a watch process.
func PrintState(w io.Writer, st *state.SyncState, now time.Time) {
	status := ui.BoldGreen(string(st.Status))
	switch {
	case st.Stale(2*time.Minute, now):
		status = ui.Yellow("stale")
	case st.Status == state.StatusFailed:
		status = ui.BoldRed(string(st.Status))
	case st.Status == state.StatusStopped:
		status = ui.Dim(string(st.Status))
	}
	fmt.Fprintf(w, "%s %s %s\n", ui.BoldCyan("📡 devsync"), status, ui.Dim(st.Source))
	fmt.Fprintf(w, "  updated     %s\n", ui.Dim(st.UpdatedAt.Format(time.RFC3339)))
	online := "offline"
	if st.Online {
		online = "online"
	}
	fmt.Fprintf(w, "  sync        %s, %d pending, %d dead letters, %d errors\n", online, st.Pending, st.DeadLetter, st.SyncErrors)
	if st.LastSync != nil {
		fmt.Fprintf(w, "  last sync   %s\n", st.LastSync.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "  tasks       %d open of %d, %d bottlenecks\n", st.OpenTasks, st.Tasks, st.Bottlenecks)
	if len(st.CriticalPath) > 0 {
		fmt.Fprintf(w, "  critical    %s\n", ui.BoldYellow(strings.Join(st.CriticalPath, " → ")))
	}
	if len(st.Overloaded) > 0 {
		fmt.Fprintf(w, "  overloaded  %s\n", strings.Join(st.Overloaded, ", "))
	}
	fmt.Fprintf(w, "  security    %d active threats, risk %s\n", st.ActiveThreats, riskLabel(st.RiskScore))
	if st.Health != "" {
		fmt.Fprintf(w, "  health      %s (%.0f)\n", ui.Health(st.Health), st.HealthScore)
	}
}

func (r *Reporter) title(id string) string {
	if t, ok := r.Titles[id]; ok {
		return t
	}
	return ""
}

func riskLabel(score int) string {
	label := fmt.Sprintf("%d", score)
	switch {
	case score >= 75:
		return ui.BoldRed(label)
	case score >= 50:
		return ui.Red(label)
	case score >= 25:
		return ui.Yellow(label)
	}
	return ui.Green(label)
}

func scoreBar(score int) string {
	n := score / 10
	return strings.Repeat("█", n) + strings.Repeat("░", 10-n)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
