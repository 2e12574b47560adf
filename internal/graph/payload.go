package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// TaskFromPayload decodes a stored task document. Decoding is total: missing
// or mistyped fields take their zero value, unknown statuses fall back to
// todo and unknown priorities to medium.
func TaskFromPayload(id string, payload map[string]any) Task {
	data, err := json.Marshal(payload)
	if err != nil {
		return Task{ID: id, Status: StatusTodo, Priority: PriorityMedium}
	}
	t, _ := ParseTask(id, data)
	return t
}

// ParseTask decodes a raw JSON task document. It returns an error only when
// raw is not a JSON object; the returned task is usable either way.
func ParseTask(id string, raw []byte) (Task, error) {
	t := Task{ID: id, Status: StatusTodo, Priority: PriorityMedium}
	if !gjson.ValidBytes(raw) {
		return t, fmt.Errorf("task %s: invalid JSON", id)
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return t, fmt.Errorf("task %s: not an object", id)
	}

	if t.ID == "" {
		t.ID = doc.Get("id").String()
	}
	t.Title = doc.Get("title").String()
	t.Description = doc.Get("description").String()
	t.Status = ParseStatus(doc.Get("status").String())
	t.Priority = ParsePriority(doc.Get("priority").String())
	t.ProjectID = doc.Get("projectId").String()
	t.ProjectName = doc.Get("projectName").String()
	t.Assignee = doc.Get("assignedTo").String()
	t.AssigneeName = doc.Get("assignedToName").String()
	t.CreatedBy = doc.Get("createdBy").String()
	t.EstimatedHours = nonNegative(doc.Get("estimatedHours").Float())
	t.ActualHours = nonNegative(doc.Get("actualHours").Float())
	t.Progress = clampInt(int(doc.Get("progress").Int()), 0, 100)
	t.DueDate = parseTime(doc.Get("dueDate"))
	t.CreatedAt = parseTime(doc.Get("createdAt"))
	t.UpdatedAt = parseTime(doc.Get("updatedAt"))
	t.Tags = stringSet(doc.Get("tags"))
	t.BlockedBy = stringSet(doc.Get("blockedBy"))
	t.Blocks = stringSet(doc.Get("blocks"))

	doc.Get("dependencies").ForEach(func(_, v gjson.Result) bool {
		if tid := v.Get("taskId").String(); tid != "" {
			t.Dependencies = append(t.Dependencies, Dependency{
				TaskID:     tid,
				TaskName:   v.Get("taskName").String(),
				IsBlocking: v.Get("isBlocking").Bool(),
			})
		}
		return true
	})
	return t, nil
}

// ToPayload encodes t as a stored task document.
func ToPayload(t Task) map[string]any {
	deps := make([]any, 0, len(t.Dependencies))
	for _, d := range t.Dependencies {
		deps = append(deps, map[string]any{"taskId": d.TaskID, "taskName": d.TaskName, "isBlocking": d.IsBlocking})
	}
	p := map[string]any{
		"title":          t.Title,
		"description":    t.Description,
		"status":         string(t.Status),
		"priority":       string(t.Priority),
		"projectId":      t.ProjectID,
		"projectName":    t.ProjectName,
		"assignedTo":     t.Assignee,
		"assignedToName": t.AssigneeName,
		"createdBy":      t.CreatedBy,
		"estimatedHours": t.EstimatedHours,
		"actualHours":    t.ActualHours,
		"progress":       t.Progress,
		"tags":           StringList(t.Tags),
		"dependencies":   deps,
		"blockedBy":      StringList(t.BlockedBy),
		"blocks":         StringList(t.Blocks),
	}
	if t.HasDueDate() {
		p["dueDate"] = t.DueDate.UTC().Format(time.RFC3339)
	}
	if !t.CreatedAt.IsZero() {
		p["createdAt"] = t.CreatedAt.UTC().Format(time.RFC3339)
	}
	return p
}

// StringList converts ids to the []any form stored documents use.
func StringList(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

// ParseStatus maps stored status strings onto Status.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in-progress", "in_progress", "inprogress":
		return StatusInProgress
	case "blocked":
		return StatusBlocked
	case "done", "completed":
		return StatusDone
	default:
		return StatusTodo
	}
}

// ParsePriority maps stored priority strings onto Priority.
func ParsePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityLow:
		return PriorityLow
	case PriorityHigh:
		return PriorityHigh
	case PriorityCritical:
		return PriorityCritical
	default:
		return PriorityMedium
	}
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04", "2006-01-02"}

// parseTime accepts RFC 3339 strings, bare dates and epoch milliseconds.
func parseTime(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.Number:
		if v.Int() <= 0 {
			return time.Time{}
		}
		return time.UnixMilli(v.Int())
	case gjson.String:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, v.String()); err == nil {
				return ts
			}
		}
	}
	return time.Time{}
}

// stringSet reads an array of strings, or the keys of an object, dropping
// blanks and duplicates. The result is sorted.
func stringSet(v gjson.Result) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	switch {
	case v.IsArray():
		for _, item := range v.Array() {
			if item.Type == gjson.String {
				add(item.String())
			}
		}
	case v.IsObject():
		v.ForEach(func(k, _ gjson.Result) bool {
			add(k.String())
			return true
		})
	}
	sort.Strings(out)
	return out
}

func nonNegative(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
