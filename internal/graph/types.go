package graph

import "time"

// Status is the workflow state of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
)

// Priority of a task, lowest first.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Dependency is an entry of a task's dependency list.
type Dependency struct {
	TaskID     string `json:"taskId"`
	TaskName   string `json:"taskName,omitempty"`
	IsBlocking bool   `json:"isBlocking"`
}

// Task is a unit of project work as stored in the tasks collection.
type Task struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	Description    string       `json:"description"`
	Status         Status       `json:"status"`
	Priority       Priority     `json:"priority"`
	ProjectID      string       `json:"projectId,omitempty"`
	ProjectName    string       `json:"projectName,omitempty"`
	Assignee       string       `json:"assignedTo,omitempty"`
	AssigneeName   string       `json:"assignedToName,omitempty"`
	CreatedBy      string       `json:"createdBy,omitempty"`
	EstimatedHours float64      `json:"estimatedHours,omitempty"`
	ActualHours    float64      `json:"actualHours,omitempty"`
	Progress       int          `json:"progress"`
	DueDate        time.Time    `json:"-"` // zero when unset
	Tags           []string     `json:"tags"`
	Dependencies   []Dependency `json:"dependencies"`
	BlockedBy      []string     `json:"blockedBy"` // tasks that must finish first
	Blocks         []string     `json:"blocks"`    // tasks waiting on this one
	CreatedAt      time.Time    `json:"-"`
	UpdatedAt      time.Time    `json:"-"`
}

// IsDone reports whether the task is finished.
func (t *Task) IsDone() bool {
	return t.Status == StatusDone
}

// HasDueDate reports whether a due date is set.
func (t *Task) HasDueDate() bool {
	return !t.DueDate.IsZero()
}

// TaskGraph is the dependency graph of a task set. Edges point from a
// blocker to the task it blocks. The graph may contain cycles when the
// stored data is inconsistent; DetectCycle reports them.
type TaskGraph struct {
	Tasks  map[string]*Task
	Adj    map[string][]string // task -> tasks it blocks
	RevAdj map[string][]string // task -> tasks that block it
	Roots  []string            // tasks with no blockers
	Leaves []string            // tasks that block nothing
}
