package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store. Listeners are called synchronously on the
// writer's goroutine after the write is applied, and only when the value at
// their path actually changed. No lock is held while a listener runs, so
// listeners may write back into the store.
type Memory struct {
	mu          sync.Mutex
	root        map[string]any
	subs        map[int]*memSub
	nextSub     int
	unavailable bool
	now         func() time.Time
	lastStamp   int64
}

type memSub struct {
	path   string
	fn     Listener
	last   any
	active bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		root: make(map[string]any),
		subs: make(map[int]*memSub),
		now:  time.Now,
	}
}

// SetUnavailable makes every subsequent operation fail with ErrUnavailable
// until called again with false.
func (m *Memory) SetUnavailable(down bool) {
	m.mu.Lock()
	m.unavailable = down
	m.mu.Unlock()
}

// Load replaces the whole tree, e.g. with a JSON export of a database.
func (m *Memory) Load(tree map[string]any) error {
	norm, err := m.normalize(tree)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if obj, ok := norm.(map[string]any); ok {
		m.root = obj
	} else {
		m.root = make(map[string]any)
	}
	m.mu.Unlock()
	m.notify()
	return nil
}

// Export returns a deep copy of the whole tree.
func (m *Memory) Export() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Clone(m.root).(map[string]any)
}

func (m *Memory) Subscribe(ctx context.Context, path string, fn Listener) (func(), error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.unavailable {
		m.mu.Unlock()
		return nil, ErrUnavailable
	}
	id := m.nextSub
	m.nextSub++
	sub := &memSub{path: path, fn: fn, active: true}
	m.subs[id] = sub
	sub.last = Clone(getAt(m.root, Split(path)))
	initial := Snapshot{Path: path, Value: Clone(sub.last)}
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			sub.active = false
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
	context.AfterFunc(ctx, cancel)

	fn(initial)
	return cancel, nil
}

func (m *Memory) Get(ctx context.Context, path string) (any, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return nil, ErrUnavailable
	}
	return Clone(getAt(m.root, Split(path))), nil
}

func (m *Memory) Set(ctx context.Context, path string, value any) error {
	return m.MultiUpdate(ctx, map[string]any{path: value})
}

func (m *Memory) Update(ctx context.Context, path string, fields map[string]any) error {
	updates := make(map[string]any, len(fields))
	for k, v := range fields {
		updates[Join(path, k)] = v
	}
	if len(updates) == 0 {
		return ValidatePath(path)
	}
	return m.MultiUpdate(ctx, updates)
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	return m.MultiUpdate(ctx, map[string]any{path: nil})
}

func (m *Memory) MultiUpdate(ctx context.Context, updates map[string]any) error {
	paths := make([]string, 0, len(updates))
	for p := range updates {
		if err := ValidatePath(p); err != nil {
			return err
		}
		paths = append(paths, p)
	}
	// Shorter paths first so a child write is not clobbered by its parent.
	sort.Slice(paths, func(i, j int) bool {
		if len(Split(paths[i])) != len(Split(paths[j])) {
			return len(Split(paths[i])) < len(Split(paths[j]))
		}
		return paths[i] < paths[j]
	})

	m.mu.Lock()
	if m.unavailable {
		m.mu.Unlock()
		return ErrUnavailable
	}
	stamp := m.stampLocked()
	values := make(map[string]any, len(paths))
	for _, p := range paths {
		v, err := normalizeValue(updates[p], stamp)
		if err != nil {
			m.mu.Unlock()
			return fmt.Errorf("write %s: %w", p, err)
		}
		values[p] = v
	}
	for _, p := range paths {
		setAt(m.root, Split(p), values[p])
	}
	m.mu.Unlock()

	m.notify()
	return nil
}

func (m *Memory) Push(ctx context.Context, path string, value any) (string, error) {
	key, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	id := key.String()
	if err := m.Set(ctx, Join(path, id), value); err != nil {
		return "", err
	}
	return id, nil
}

// stampLocked returns a strictly increasing millisecond timestamp.
func (m *Memory) stampLocked() int64 {
	ts := m.now().UnixMilli()
	if ts <= m.lastStamp {
		ts = m.lastStamp + 1
	}
	m.lastStamp = ts
	return ts
}

func (m *Memory) normalize(v any) (any, error) {
	m.mu.Lock()
	stamp := m.stampLocked()
	m.mu.Unlock()
	return normalizeValue(v, stamp)
}

// notify delivers the current value to every listener whose path changed.
// Values are read at delivery time, so a write made by an earlier listener
// is never followed by a stale delivery.
func (m *Memory) notify() {
	m.mu.Lock()
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Ints(ids)

	for _, id := range ids {
		m.mu.Lock()
		sub, ok := m.subs[id]
		if !ok || !sub.active {
			m.mu.Unlock()
			continue
		}
		cur := getAt(m.root, Split(sub.path))
		if reflect.DeepEqual(cur, sub.last) {
			m.mu.Unlock()
			continue
		}
		sub.last = Clone(cur)
		snap := Snapshot{Path: sub.path, Value: Clone(cur)}
		m.mu.Unlock()
		sub.fn(snap)
	}
}

// normalizeValue round-trips v through JSON and resolves ServerTimestamp
// sentinels.
func normalizeValue(v any, stamp int64) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return resolve(out, float64(stamp))
}

func resolve(v any, stamp float64) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 && t[".sv"] == "timestamp" {
			return stamp, nil
		}
		for k, child := range t {
			if !validKey(k) {
				return nil, fmt.Errorf("%w: illegal key %q", ErrInvalid, k)
			}
			r, err := resolve(child, stamp)
			if err != nil {
				return nil, err
			}
			if r == nil {
				delete(t, k)
				continue
			}
			t[k] = r
		}
		if len(t) == 0 {
			return nil, nil
		}
		return t, nil
	case []any:
		for i, child := range t {
			r, err := resolve(child, stamp)
			if err != nil {
				return nil, err
			}
			t[i] = r
		}
		return t, nil
	default:
		return v, nil
	}
}

func getAt(root map[string]any, segs []string) any {
	var cur any = root
	for _, s := range segs {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = obj[s]
		if !ok {
			return nil
		}
	}
	if obj, ok := cur.(map[string]any); ok && len(obj) == 0 {
		return nil
	}
	return cur
}

// setAt writes v at segs, creating parents as needed. A nil v deletes the
// node and prunes parents left empty.
func setAt(root map[string]any, segs []string, v any) {
	if len(segs) == 0 {
		return
	}
	if v == nil {
		deleteAt(root, segs)
		return
	}
	cur := root
	for _, s := range segs[:len(segs)-1] {
		next, ok := cur[s].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[s] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = v
}

func deleteAt(node map[string]any, segs []string) bool {
	if len(segs) == 1 {
		delete(node, segs[0])
		return len(node) == 0
	}
	child, ok := node[segs[0]].(map[string]any)
	if !ok {
		return len(node) == 0
	}
	if deleteAt(child, segs[1:]) {
		delete(node, segs[0])
	}
	return len(node) == 0
}

// Clone deep-copies a JSON-like value.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = Clone(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = Clone(child)
		}
		return out
	default:
		return v
	}
}
