package workload

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/kamlesh9876/devium/internal/alert"
	"github.com/kamlesh9876/devium/internal/graph"
)

// UsersCollection holds the member documents.
const UsersCollection = "users"

// DefaultOverloadThreshold is the score at which a member is reported as
// overloaded.
const DefaultOverloadThreshold = 80

// TaskWriter is the part of the task repository the balancer mutates.
type TaskWriter interface {
	Get(id string) (graph.Task, error)
	Assign(ctx context.Context, id, uid, name string) error
}

// Balancer keeps the latest metrics and performs reassignments.
type Balancer struct {
	tasks     TaskWriter
	notifier  alert.Notifier
	threshold int
	logger    *log.Logger

	mu      sync.RWMutex
	members map[string]Member
	metrics []Metric
}

// NewBalancer creates a balancer. notifier may be nil; threshold <= 0 uses
// DefaultOverloadThreshold.
func NewBalancer(tasks TaskWriter, notifier alert.Notifier, threshold int, logger *log.Logger) *Balancer {
	if notifier == nil {
		notifier = alert.Discard
	}
	if threshold <= 0 {
		threshold = DefaultOverloadThreshold
	}
	if logger == nil {
		logger = log.New(os.Stderr, "workload: ", log.LstdFlags)
	}
	return &Balancer{
		tasks:     tasks,
		notifier:  notifier,
		threshold: threshold,
		logger:    logger,
		members:   make(map[string]Member),
	}
}

// Recompute replaces the metrics with ones derived from members and tasks
// and raises an alert for every overloaded member.
func (b *Balancer) Recompute(ctx context.Context, members []Member, tasks []graph.Task) []Metric {
	metrics := Compute(members, tasks)

	b.mu.Lock()
	b.members = make(map[string]Member, len(members))
	for _, m := range members {
		b.members[m.UID] = m
	}
	b.metrics = metrics
	b.mu.Unlock()

	for _, m := range Overloaded(metrics, b.threshold) {
		name := m.UserName
		if name == "" {
			name = m.UserID
		}
		a := alert.Alert{
			Source:   "workload",
			Key:      fmt.Sprintf("workload:%s:%d", m.UserID, m.WorkloadScore),
			Title:    "Workload alert",
			Message:  fmt.Sprintf("%s is at workload score %d (%d open tasks)", name, m.WorkloadScore, m.TotalTasks-m.CompletedTasks),
			UserID:   m.UserID,
			Severity: alert.SeverityHigh,
		}
		if err := b.notifier.Notify(ctx, a); err != nil {
			b.logger.Printf("warning: workload alert for %s: %v", m.UserID, err)
		}
	}
	return metrics
}

// Threshold is the score at which a member counts as overloaded.
func (b *Balancer) Threshold() int {
	return b.threshold
}

// Metrics returns the last computed metrics.
func (b *Balancer) Metrics() []Metric {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Metric(nil), b.metrics...)
}

// BestAssignee applies BestAssignee to the last computed metrics.
func (b *Balancer) BestAssignee(exclude string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BestAssignee(b.metrics, exclude)
}

// Reassign moves a task to the best assignee other than its current one
// and returns the new assignee. It returns "" and no error when nobody
// else is available.
func (b *Balancer) Reassign(ctx context.Context, taskID string) (string, error) {
	t, err := b.tasks.Get(taskID)
	if err != nil {
		return "", fmt.Errorf("reassign %s: %w", taskID, err)
	}
	uid := b.BestAssignee(t.Assignee)
	if uid == "" {
		return "", nil
	}
	if err := b.tasks.Assign(ctx, taskID, uid, b.nameOf(uid)); err != nil {
		return "", fmt.Errorf("reassign %s: %w", taskID, err)
	}
	return uid, nil
}

func (b *Balancer) nameOf(uid string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if m, ok := b.members[uid]; ok && m.Name != "" {
		return m.Name
	}
	for _, m := range b.metrics {
		if m.UserID == uid {
			return m.UserName
		}
	}
	return ""
}

// MembersFromDocs decodes the users collection. Documents without a name
// fall back to displayName, then email.
func MembersFromDocs(docs map[string]map[string]any) []Member {
	out := make([]Member, 0, len(docs))
	for id, doc := range docs {
		m := Member{UID: id}
		m.Name = firstString(doc, "name", "displayName", "email")
		m.Email, _ = doc["email"].(string)
		m.Role, _ = doc["role"].(string)
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

func firstString(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := doc[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
