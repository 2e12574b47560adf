package bottleneck

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/kamlesh9876/devium/internal/alert"
	"github.com/kamlesh9876/devium/internal/cpm"
	"github.com/kamlesh9876/devium/internal/graph"
)

// Report is the output of one analysis run.
type Report struct {
	Bottlenecks  []Bottleneck `json:"bottlenecks"`
	CriticalPath []string     `json:"criticalPath"`
	TotalHours   float64      `json:"totalHours"`
	Cycle        []string     `json:"cycle,omitempty"`
	Skipped      []string     `json:"skipped,omitempty"`
	GeneratedAt  time.Time    `json:"generatedAt"`

	schedule *cpm.CPMResult
}

// Schedule returns the critical path analysis behind the report, or nil
// when there were no open tasks.
func (r *Report) Schedule() *cpm.CPMResult {
	return r.schedule
}

// Count returns the number of findings of type t.
func (r *Report) Count(t Type) int {
	n := 0
	for _, b := range r.Bottlenecks {
		if b.Type == t {
			n++
		}
	}
	return n
}

// Analyze produces a full report for tasks at time now. The critical path
// covers open tasks that are not on a cycle.
func Analyze(tasks []graph.Task, now time.Time) *Report {
	found, skipped := Detect(tasks, now)
	r := &Report{
		Bottlenecks: found,
		Skipped:     skipped,
		GeneratedAt: now,
	}

	g := graph.Build(tasks)
	r.Cycle = g.DetectCycle()
	open := g.Filter(func(t *graph.Task) bool { return !t.IsDone() }).Without(g.CyclicTasks())
	if open.TaskCount() == 0 {
		return r
	}
	if res, err := cpm.Analyze(open); err == nil {
		r.schedule = res
		r.CriticalPath = res.CriticalPath
		r.TotalHours = res.TotalDuration
	}
	return r
}

// Analyzer keeps the latest report and alerts on severe findings.
type Analyzer struct {
	notifier alert.Notifier
	logger   *log.Logger
	now      func() time.Time

	mu     sync.RWMutex
	latest *Report
}

// NewAnalyzer creates an analyzer. notifier may be nil.
func NewAnalyzer(notifier alert.Notifier, logger *log.Logger) *Analyzer {
	if notifier == nil {
		notifier = alert.Discard
	}
	if logger == nil {
		logger = log.New(os.Stderr, "bottleneck: ", log.LstdFlags)
	}
	return &Analyzer{notifier: notifier, logger: logger, now: time.Now}
}

// Recompute discards the previous report, analyzes tasks and raises an
// alert for every high or critical finding.
func (a *Analyzer) Recompute(ctx context.Context, tasks []graph.Task) *Report {
	r := Analyze(tasks, a.now())
	a.mu.Lock()
	a.latest = r
	a.mu.Unlock()

	if len(r.Cycle) > 0 {
		a.logger.Printf("warning: dependency cycle %v skipped", r.Cycle)
	}

	for _, b := range r.Bottlenecks {
		if !b.Severity.AtLeast(alert.SeverityHigh) {
			continue
		}
		title := b.TaskTitle
		if title == "" {
			title = b.TaskID
		}
		al := alert.Alert{
			Source:    "bottleneck",
			Key:       fmt.Sprintf("bottleneck:%s:%s:%s", b.Type, b.TaskID, b.Severity),
			Title:     fmt.Sprintf("Bottleneck: %s", title),
			Message:   fmt.Sprintf("%s. %s", b.Description, b.SuggestedAction),
			Severity:  b.Severity,
			Broadcast: true,
			ActionURL: "/tasks/" + b.TaskID,
		}
		if err := a.notifier.Notify(ctx, al); err != nil {
			a.logger.Printf("warning: bottleneck alert for %s: %v", b.TaskID, err)
		}
	}
	return r
}

// Latest returns the last report, or nil before the first run.
func (a *Analyzer) Latest() *Report {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}
