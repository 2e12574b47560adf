// Package bottleneck finds tasks that hold up the rest of the project.
// Detection is a pure function of the current task set; every run starts
// from scratch.
package bottleneck

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kamlesh9876/devium/internal/alert"
	"github.com/kamlesh9876/devium/internal/graph"
)

// Type is the class of a bottleneck.
type Type string

const (
	TypeDependency Type = "dependency"
	TypeTime       Type = "time"
	TypeResource   Type = "resource"
)

// FanOutLimit is the number of blocked tasks above which a task is a
// resource bottleneck.
const FanOutLimit = 5

const (
	actionDependency = "Complete blocking tasks or remove dependencies"
	actionTime       = "Reassign task or adjust timeline"
	actionResource   = "Prioritize this task to unblock dependent tasks"
)

// Bottleneck is one finding.
type Bottleneck struct {
	TaskID          string         `json:"taskId"`
	TaskTitle       string         `json:"taskTitle,omitempty"`
	Type            Type           `json:"bottleneckType"`
	Severity        alert.Severity `json:"severity"`
	Description     string         `json:"description"`
	AffectedTasks   []string       `json:"affectedTasks"`
	SuggestedAction string         `json:"suggestedAction"`
	DetectedAt      time.Time      `json:"detectedAt"`
}

// Detect runs the three detectors over tasks. Tasks whose edges are
// malformed (listing themselves, or lying on a dependency cycle) are left
// out and returned in skipped.
func Detect(tasks []graph.Task, now time.Time) (found []Bottleneck, skipped []string) {
	byID := make(map[string]*graph.Task, len(tasks))
	for i := range tasks {
		byID[tasks[i].ID] = &tasks[i]
	}
	cyclic := graph.Build(tasks).CyclicTasks()

	for i := range tasks {
		t := &tasks[i]
		if selfReferencing(t) || cyclic[t.ID] {
			skipped = append(skipped, t.ID)
			continue
		}
		if b, ok := dependencyBottleneck(t, byID, now); ok {
			found = append(found, b)
		}
		if b, ok := timeBottleneck(t, now); ok {
			found = append(found, b)
		}
		if b, ok := resourceBottleneck(t, now); ok {
			found = append(found, b)
		}
	}
	sortFindings(found)
	sort.Strings(skipped)
	return found, skipped
}

func selfReferencing(t *graph.Task) bool {
	for _, id := range t.BlockedBy {
		if id == t.ID {
			return true
		}
	}
	for _, id := range t.Blocks {
		if id == t.ID {
			return true
		}
	}
	return false
}

// dependencyBottleneck flags a task with unfinished blockers. Blockers
// that no longer exist are ignored.
func dependencyBottleneck(t *graph.Task, byID map[string]*graph.Task, now time.Time) (Bottleneck, bool) {
	var open []string
	for _, id := range t.BlockedBy {
		if b, ok := byID[id]; ok && !b.IsDone() {
			open = append(open, id)
		}
	}
	if len(open) == 0 {
		return Bottleneck{}, false
	}
	sev := alert.SeverityMedium
	switch {
	case len(open) > 2:
		sev = alert.SeverityCritical
	case len(open) == 2:
		sev = alert.SeverityHigh
	}
	return Bottleneck{
		TaskID:          t.ID,
		TaskTitle:       t.Title,
		Type:            TypeDependency,
		Severity:        sev,
		Description:     fmt.Sprintf("Task is blocked by %d incomplete dependencies", len(open)),
		AffectedTasks:   open,
		SuggestedAction: actionDependency,
		DetectedAt:      now,
	}, true
}

// DaysOverdue returns whole days between due and now, or 0 when not late.
func DaysOverdue(due, now time.Time) int {
	if due.IsZero() || !now.After(due) {
		return 0
	}
	return int(math.Floor(now.Sub(due).Hours() / 24))
}

func timeBottleneck(t *graph.Task, now time.Time) (Bottleneck, bool) {
	if t.IsDone() || !t.HasDueDate() || !now.After(t.DueDate) {
		return Bottleneck{}, false
	}
	days := DaysOverdue(t.DueDate, now)
	sev := alert.SeverityMedium
	switch {
	case days > 7:
		sev = alert.SeverityCritical
	case days > 3:
		sev = alert.SeverityHigh
	}
	return Bottleneck{
		TaskID:          t.ID,
		TaskTitle:       t.Title,
		Type:            TypeTime,
		Severity:        sev,
		Description:     fmt.Sprintf("Task is %d days overdue", days),
		AffectedTasks:   []string{t.ID},
		SuggestedAction: actionTime,
		DetectedAt:      now,
	}, true
}

func resourceBottleneck(t *graph.Task, now time.Time) (Bottleneck, bool) {
	if len(t.Blocks) <= FanOutLimit {
		return Bottleneck{}, false
	}
	sev := alert.SeverityHigh
	if len(t.Blocks) > 10 {
		sev = alert.SeverityCritical
	}
	return Bottleneck{
		TaskID:          t.ID,
		TaskTitle:       t.Title,
		Type:            TypeResource,
		Severity:        sev,
		Description:     fmt.Sprintf("Task is blocking %d other tasks", len(t.Blocks)),
		AffectedTasks:   append([]string(nil), t.Blocks...),
		SuggestedAction: actionResource,
		DetectedAt:      now,
	}, true
}

// sortFindings orders by severity (most severe first), then task id and type.
func sortFindings(bs []Bottleneck) {
	sort.SliceStable(bs, func(i, j int) bool {
		if ri, rj := bs[i].Severity.Rank(), bs[j].Severity.Rank(); ri != rj {
			return ri > rj
		}
		if bs[i].TaskID != bs[j].TaskID {
			return bs[i].TaskID < bs[j].TaskID
		}
		return bs[i].Type < bs[j].Type
	})
}
