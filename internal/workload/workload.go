// Package workload scores how busy each assignee is and suggests who should
// take over a task.
package workload

import (
	"math"
	"sort"

	"github.com/kamlesh9876/devium/internal/graph"
)

// Member is a potential assignee.
type Member struct {
	UID   string `json:"uid"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Metric is the derived load of one assignee.
type Metric struct {
	UserID          string  `json:"userId"`
	UserName        string  `json:"userName"`
	TotalTasks      int     `json:"totalTasks"`
	CompletedTasks  int     `json:"completedTasks"`
	InProgressTasks int     `json:"inProgressTasks"`
	BlockedTasks    int     `json:"blockedTasks"`
	EstimatedHours  float64 `json:"estimatedHours"`
	ActualHours     float64 `json:"actualHours"`
	WorkloadScore   int     `json:"workloadScore"`
	Efficiency      float64 `json:"efficiency"` // unrounded; see Efficiency for display
}

// Score is min(100, total*10 + inProgress*20 + blocked*30).
func Score(total, inProgress, blocked int) int {
	return min(100, total*10+inProgress*20+blocked*30)
}

// Ratio is actual/estimated hours as a percentage, capped at 100.
// Without an estimate the member counts as on budget.
func Ratio(estimated, actual float64) float64 {
	if estimated <= 0 {
		return 100
	}
	return math.Min(100, actual/estimated*100)
}

// Efficiency is Ratio rounded for display.
func Efficiency(estimated, actual float64) int {
	return int(math.Round(Ratio(estimated, actual)))
}

// Compute derives one Metric per member plus one per assignee that appears
// on a task but not in members. Members without tasks score 0. The result
// is ordered by user id.
func Compute(members []Member, tasks []graph.Task) []Metric {
	byUser := make(map[string]*Metric)
	for _, m := range members {
		if m.UID == "" {
			continue
		}
		byUser[m.UID] = &Metric{UserID: m.UID, UserName: m.Name}
	}
	for _, t := range tasks {
		if t.Assignee == "" {
			continue
		}
		m, ok := byUser[t.Assignee]
		if !ok {
			m = &Metric{UserID: t.Assignee, UserName: t.AssigneeName}
			byUser[t.Assignee] = m
		}
		m.TotalTasks++
		switch t.Status {
		case graph.StatusDone:
			m.CompletedTasks++
		case graph.StatusInProgress:
			m.InProgressTasks++
		case graph.StatusBlocked:
			m.BlockedTasks++
		}
		m.EstimatedHours += t.EstimatedHours
		m.ActualHours += t.ActualHours
	}

	out := make([]Metric, 0, len(byUser))
	for _, m := range byUser {
		m.WorkloadScore = Score(m.TotalTasks, m.InProgressTasks, m.BlockedTasks)
		m.Efficiency = Ratio(m.EstimatedHours, m.ActualHours)
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// BestAssignee returns the least loaded user, preferring higher efficiency
// on equal scores. exclude is skipped. It returns "" when no candidate is
// left.
func BestAssignee(metrics []Metric, exclude string) string {
	candidates := make([]Metric, 0, len(metrics))
	for _, m := range metrics {
		if m.UserID != exclude {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].WorkloadScore != candidates[j].WorkloadScore {
			return candidates[i].WorkloadScore < candidates[j].WorkloadScore
		}
		return candidates[i].Efficiency > candidates[j].Efficiency
	})
	return candidates[0].UserID
}

// Overloaded returns the metrics at or above threshold.
func Overloaded(metrics []Metric, threshold int) []Metric {
	var out []Metric
	for _, m := range metrics {
		if m.WorkloadScore >= threshold {
			out = append(out, m)
		}
	}
	return out
}
