package outbox

import (
	"context"
	"sync"
)

// Memory is a Queue that lives only as long as the process.
type Memory struct {
	mu      sync.Mutex
	live    []Entry
	dead    []Entry
	nextSeq int64
	closed  bool
}

// NewMemory returns an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{nextSeq: 1}
}

func (m *Memory) Enqueue(ctx context.Context, entries ...Entry) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		e.Seq = m.nextSeq
		m.nextSeq++
		out[i] = e
	}
	m.live = append(m.live, out...)
	return out, nil
}

func (m *Memory) Next(ctx context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if len(m.live) == 0 {
		return nil, nil
	}
	head := m.live[0]
	if head.Group == "" {
		return []Entry{head}, nil
	}
	var group []Entry
	for _, e := range m.live {
		if e.Group == head.Group {
			group = append(group, e)
		}
	}
	return group, nil
}

func (m *Memory) Ack(ctx context.Context, seqs ...int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	set := seqSet(seqs)
	kept := m.live[:0]
	for _, e := range m.live {
		if !set[e.Seq] {
			kept = append(kept, e)
		}
	}
	m.live = kept
	return nil
}

func (m *Memory) Fail(ctx context.Context, reason string, seqs ...int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	set := seqSet(seqs)
	for i := range m.live {
		if set[m.live[i].Seq] {
			m.live[i].Attempts++
			m.live[i].LastError = reason
		}
	}
	return nil
}

func (m *Memory) Bury(ctx context.Context, reason string, seqs ...int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	set := seqSet(seqs)
	kept := m.live[:0]
	for _, e := range m.live {
		if set[e.Seq] {
			e.Attempts++
			e.LastError = reason
			m.dead = append(m.dead, e)
			continue
		}
		kept = append(kept, e)
	}
	m.live = kept
	return nil
}

func (m *Memory) Len(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live), nil
}

func (m *Memory) List(ctx context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.live...), nil
}

func (m *Memory) Dead(ctx context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.dead...), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
