// Package outbox stores writes that could not reach the remote store so they
// can be replayed, in order, once it is reachable again.
package outbox

import (
	"context"
	"errors"
	"time"
)

// Op is the kind of write an entry replays.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Entry is one queued write. Entries sharing a non-empty Group were enqueued
// by a single batch and must be replayed together.
type Entry struct {
	Seq        int64          `json:"seq"`
	Group      string         `json:"group,omitempty"`
	Op         Op             `json:"op"`
	Collection string         `json:"collection"`
	DocumentID string         `json:"documentId"`
	Payload    map[string]any `json:"payload,omitempty"`
	Merge      bool           `json:"merge,omitempty"`
	QueuedAt   time.Time      `json:"queuedAt"`
	Attempts   int            `json:"attempts"`
	LastError  string         `json:"lastError,omitempty"`
}

// Queue is a FIFO of pending writes. Entries leave the live queue only
// through Ack (delivered) or Bury (moved to the dead-letter list).
type Queue interface {
	// Enqueue appends entries atomically and returns them with Seq set.
	Enqueue(ctx context.Context, entries ...Entry) ([]Entry, error)
	// Next returns the head entry, or every entry of the head's group.
	// It returns nil when the queue is empty.
	Next(ctx context.Context) ([]Entry, error)
	Ack(ctx context.Context, seqs ...int64) error
	// Fail records a failed attempt and leaves the entries in place.
	Fail(ctx context.Context, reason string, seqs ...int64) error
	// Bury moves entries to the dead-letter list.
	Bury(ctx context.Context, reason string, seqs ...int64) error
	Len(ctx context.Context) (int, error)
	List(ctx context.Context) ([]Entry, error)
	Dead(ctx context.Context) ([]Entry, error)
	Close() error
}

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("outbox closed")

func seqSet(seqs []int64) map[int64]bool {
	set := make(map[int64]bool, len(seqs))
	for _, s := range seqs {
		set[s] = true
	}
	return set
}
