package datasync

import (
	"context"
	"time"

	"github.com/kamlesh9876/devium/internal/outbox"
)

// OpType is the kind of write recorded in events and pending operations.
type OpType = outbox.Op

const (
	OpCreate = outbox.OpCreate
	OpUpdate = outbox.OpUpdate
	OpDelete = outbox.OpDelete
)

// SyncRecord is the cached copy of one remote document.
type SyncRecord struct {
	Collection    string
	DocumentID    string
	Payload       map[string]any
	LastWriter    string
	LastWriteTime time.Time
}

// SyncEvent is an audit entry for a write acknowledged by the remote store.
// Events are never modified after creation.
type SyncEvent struct {
	ID         string         `json:"id" bson:"_id"`
	Type       OpType         `json:"type" bson:"type"`
	Collection string         `json:"collection" bson:"collection"`
	DocumentID string         `json:"documentId" bson:"documentId"`
	Payload    map[string]any `json:"payload,omitempty" bson:"payload,omitempty"`
	Actor      string         `json:"actor" bson:"actor"`
	Timestamp  time.Time      `json:"timestamp" bson:"timestamp"`
}

// Operation is one element of a batch write.
type Operation struct {
	Type       OpType
	Collection string
	DocumentID string
	Payload    map[string]any
	Merge      bool
}

// Options tunes a single write.
type Options struct {
	// Merge shallow-merges the payload into the existing document instead
	// of replacing it.
	Merge bool
}

// SyncError is a recorded remote failure.
type SyncError struct {
	Time       time.Time `json:"time"`
	Op         string    `json:"op"`
	Collection string    `json:"collection"`
	DocumentID string    `json:"documentId,omitempty"`
	Message    string    `json:"message"`
	Permanent  bool      `json:"permanent"`
}

// Status summarizes the engine for an online/offline indicator.
type Status struct {
	Online            bool        `json:"online"`
	PendingOperations int         `json:"pendingOperations"`
	DeadLetters       int         `json:"deadLetters"`
	LastSyncTime      time.Time   `json:"lastSyncTime"`
	Errors            []SyncError `json:"errors,omitempty"`
}

// Snapshot is what a subscriber receives on every remote change.
type Snapshot struct {
	Collection string
	DocumentID string // empty for collection subscriptions
	Value      any
}

// Docs returns the documents of a collection snapshot keyed by id.
// Children that are not objects are skipped.
func (s Snapshot) Docs() map[string]map[string]any {
	out := make(map[string]map[string]any)
	obj, ok := s.Value.(map[string]any)
	if !ok {
		return out
	}
	for id, v := range obj {
		if doc, ok := v.(map[string]any); ok {
			out[id] = doc
		}
	}
	return out
}

// Doc returns the document of a single-document snapshot, or nil.
func (s Snapshot) Doc() map[string]any {
	doc, _ := s.Value.(map[string]any)
	return doc
}

// Callback receives snapshots for a subscription.
type Callback func(Snapshot)

// AuditSink stores SyncEvents outside the engine.
type AuditSink interface {
	Append(ctx context.Context, ev SyncEvent) error
}
