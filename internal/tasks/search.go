package tasks

import (
	"strings"
	"time"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/kamlesh9876/devium/internal/graph"
)

// MinQueryScore is the fuzzy ratio a title or description needs to match
// a query it does not contain literally.
const MinQueryScore = 70

// Filter selects tasks. Zero-valued fields match everything.
type Filter struct {
	Query      string
	Statuses   []graph.Status
	Priorities []graph.Priority
	Assignee   string
	ProjectID  string
	Tags       []string // all must be present
	DueAfter   time.Time
	DueBefore  time.Time
}

// Search returns the cached tasks matching f, ordered by id.
func (r *Repository) Search(f Filter) []graph.Task {
	var out []graph.Task
	for _, t := range r.List() {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

// Match reports whether t passes every criterion of f.
func (f Filter) Match(t graph.Task) bool {
	if len(f.Statuses) > 0 && !oneOf(t.Status, f.Statuses) {
		return false
	}
	if len(f.Priorities) > 0 && !oneOf(t.Priority, f.Priorities) {
		return false
	}
	if f.Assignee != "" && t.Assignee != f.Assignee {
		return false
	}
	if f.ProjectID != "" && t.ProjectID != f.ProjectID {
		return false
	}
	for _, tag := range f.Tags {
		if !contains(t.Tags, tag) {
			return false
		}
	}
	if !f.DueAfter.IsZero() && (!t.HasDueDate() || t.DueDate.Before(f.DueAfter)) {
		return false
	}
	if !f.DueBefore.IsZero() && (!t.HasDueDate() || t.DueDate.After(f.DueBefore)) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		return matchesQuery(q, t)
	}
	return true
}

func matchesQuery(q string, t graph.Task) bool {
	for _, field := range []string{t.Title, t.Description} {
		field = strings.ToLower(field)
		if field == "" {
			continue
		}
		if strings.Contains(field, q) || fuzzy.Ratio(q, field) >= MinQueryScore {
			return true
		}
	}
	for _, tag := range t.Tags {
		if strings.EqualFold(tag, q) {
			return true
		}
	}
	return false
}

func oneOf[T comparable](v T, set []T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
