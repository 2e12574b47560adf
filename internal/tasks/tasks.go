// Package tasks reads and edits the tasks collection through the sync
// engine. Dependency edits update both ends of an edge in one batch.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kamlesh9876/devium/internal/datasync"
	"github.com/kamlesh9876/devium/internal/graph"
)

// Collection is the remote collection holding task documents.
const Collection = "tasks"

var (
	ErrNotFound      = errors.New("task not found")
	ErrCycle         = errors.New("dependency would create a cycle")
	ErrSelfReference = errors.New("task cannot depend on itself")
)

// Repository is a typed view over the cached tasks collection.
type Repository struct {
	eng *datasync.Engine
	now func() time.Time
}

// New creates a repository backed by eng.
func New(eng *datasync.Engine) *Repository {
	return &Repository{eng: eng, now: time.Now}
}

// Watch subscribes to the tasks collection and calls fn with the decoded
// task set on every change, local edits included. It returns the
// subscription id, or "" when the store refused the subscription.
func (r *Repository) Watch(ctx context.Context, fn func([]graph.Task)) string {
	return r.eng.Watch(ctx, Collection, func(s datasync.Snapshot) {
		if fn != nil {
			fn(decodeAll(s.Docs()))
		}
	})
}

// List returns every cached task ordered by id.
func (r *Repository) List() []graph.Task {
	return decodeAll(r.eng.CachedCollection(Collection))
}

func decodeAll(docs map[string]map[string]any) []graph.Task {
	out := make([]graph.Task, 0, len(docs))
	for id, doc := range docs {
		out = append(out, graph.TaskFromPayload(id, doc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the cached task with the given id.
func (r *Repository) Get(id string) (graph.Task, error) {
	doc, ok := r.eng.Cached(Collection, id)
	if !ok {
		return graph.Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return graph.TaskFromPayload(id, doc), nil
}

// Create stores a new task. An id is generated when t.ID is empty; status
// and priority default to todo and medium.
func (r *Repository) Create(ctx context.Context, t graph.Task) graph.Task {
	if t.ID == "" {
		t.ID = uuid.Must(uuid.NewV7()).String()
	}
	if t.Status == "" {
		t.Status = graph.StatusTodo
	}
	if t.Priority == "" {
		t.Priority = graph.PriorityMedium
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.now().UTC().Truncate(time.Second)
	}
	r.eng.SyncData(ctx, Collection, t.ID, graph.ToPayload(t), datasync.Options{})
	return t
}

// Save replaces the stored document of an existing task.
func (r *Repository) Save(ctx context.Context, t graph.Task) error {
	if _, err := r.Get(t.ID); err != nil {
		return err
	}
	r.eng.SyncData(ctx, Collection, t.ID, graph.ToPayload(t), datasync.Options{})
	return nil
}

// SetStatus changes a task's status. Marking a task done sets its progress
// to 100.
func (r *Repository) SetStatus(ctx context.Context, id string, status graph.Status) error {
	if _, err := r.Get(id); err != nil {
		return err
	}
	fields := map[string]any{"status": string(status)}
	if status == graph.StatusDone {
		fields["progress"] = 100
	}
	r.eng.SyncData(ctx, Collection, id, fields, datasync.Options{Merge: true})
	return nil
}

// Assign sets a task's assignee fields.
func (r *Repository) Assign(ctx context.Context, id, uid, name string) error {
	if _, err := r.Get(id); err != nil {
		return err
	}
	r.eng.SyncData(ctx, Collection, id, map[string]any{
		"assignedTo":     uid,
		"assignedToName": name,
	}, datasync.Options{Merge: true})
	return nil
}

// AddDependency records that taskID cannot proceed until blockerID is done.
// Both documents are updated in one atomic batch.
func (r *Repository) AddDependency(ctx context.Context, taskID, blockerID string) error {
	if taskID == blockerID {
		return fmt.Errorf("%w: %s", ErrSelfReference, taskID)
	}
	task, err := r.Get(taskID)
	if err != nil {
		return err
	}
	blocker, err := r.Get(blockerID)
	if err != nil {
		return err
	}
	// blocker -> task closes a cycle when task already reaches blocker.
	if graph.Build(r.List()).Reachable(taskID, blockerID) {
		return fmt.Errorf("%w: %s -> %s", ErrCycle, blockerID, taskID)
	}

	task.BlockedBy = addID(task.BlockedBy, blockerID)
	task.Dependencies = addDependency(task.Dependencies, graph.Dependency{TaskID: blockerID, TaskName: blocker.Title, IsBlocking: true})
	blocker.Blocks = addID(blocker.Blocks, taskID)
	r.eng.BatchSync(ctx, edgeOps(task, blocker))
	return nil
}

// RemoveDependency reverses AddDependency. Removing an edge that does not
// exist is not an error; any one-sided remnant is cleaned up.
func (r *Repository) RemoveDependency(ctx context.Context, taskID, blockerID string) error {
	task, err := r.Get(taskID)
	if err != nil {
		return err
	}
	blocker, err := r.Get(blockerID)
	if err != nil {
		return err
	}
	task.BlockedBy = removeID(task.BlockedBy, blockerID)
	task.Dependencies = removeDependency(task.Dependencies, blockerID)
	blocker.Blocks = removeID(blocker.Blocks, taskID)
	r.eng.BatchSync(ctx, edgeOps(task, blocker))
	return nil
}

func edgeOps(task, blocker graph.Task) []datasync.Operation {
	deps := make([]any, 0, len(task.Dependencies))
	for _, d := range task.Dependencies {
		deps = append(deps, map[string]any{"taskId": d.TaskID, "taskName": d.TaskName, "isBlocking": d.IsBlocking})
	}
	return []datasync.Operation{
		{
			Type:       datasync.OpUpdate,
			Collection: Collection,
			DocumentID: task.ID,
			Payload: map[string]any{
				"blockedBy":    graph.StringList(task.BlockedBy),
				"dependencies": deps,
			},
			Merge: true,
		},
		{
			Type:       datasync.OpUpdate,
			Collection: Collection,
			DocumentID: blocker.ID,
			Payload:    map[string]any{"blocks": graph.StringList(blocker.Blocks)},
			Merge:      true,
		},
	}
}

// Delete removes a task and strips it from the edge lists of its
// neighbours in the same batch.
func (r *Repository) Delete(ctx context.Context, id string) error {
	task, err := r.Get(id)
	if err != nil {
		return err
	}
	ops := []datasync.Operation{{Type: datasync.OpDelete, Collection: Collection, DocumentID: id}}
	for _, other := range r.List() {
		if other.ID == id {
			continue
		}
		fields := make(map[string]any)
		if contains(other.Blocks, id) || contains(task.BlockedBy, other.ID) {
			fields["blocks"] = graph.StringList(removeID(other.Blocks, id))
		}
		if contains(other.BlockedBy, id) || contains(task.Blocks, other.ID) {
			fields["blockedBy"] = graph.StringList(removeID(other.BlockedBy, id))
			deps := make([]any, 0, len(other.Dependencies))
			for _, d := range removeDependency(other.Dependencies, id) {
				deps = append(deps, map[string]any{"taskId": d.TaskID, "taskName": d.TaskName, "isBlocking": d.IsBlocking})
			}
			fields["dependencies"] = deps
		}
		if len(fields) > 0 {
			ops = append(ops, datasync.Operation{Type: datasync.OpUpdate, Collection: Collection, DocumentID: other.ID, Payload: fields, Merge: true})
		}
	}
	if len(ops) == 1 {
		r.eng.DeleteData(ctx, Collection, id)
		return nil
	}
	r.eng.BatchSync(ctx, ops)
	return nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func addID(ids []string, id string) []string {
	if contains(ids, id) {
		return ids
	}
	out := append(append([]string(nil), ids...), id)
	sort.Strings(out)
	return out
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func addDependency(deps []graph.Dependency, d graph.Dependency) []graph.Dependency {
	for _, existing := range deps {
		if existing.TaskID == d.TaskID {
			return deps
		}
	}
	return append(append([]graph.Dependency(nil), deps...), d)
}

func removeDependency(deps []graph.Dependency, taskID string) []graph.Dependency {
	out := make([]graph.Dependency, 0, len(deps))
	for _, d := range deps {
		if d.TaskID != taskID {
			out = append(out, d)
		}
	}
	return out
}
