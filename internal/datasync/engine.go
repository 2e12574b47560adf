// Package datasync mirrors remote collections into a local cache and routes
// writes to the remote store, queueing them while offline.
package datasync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/kamlesh9876/devium/internal/identity"
	"github.com/kamlesh9876/devium/internal/outbox"
	"github.com/kamlesh9876/devium/internal/pubsub"
	"github.com/kamlesh9876/devium/internal/remote"
)

// Metadata fields stamped on every document the engine writes.
const (
	FieldUpdatedAt = "updatedAt"
	FieldUpdatedBy = "updatedBy"
)

const systemActor = "system"

// Config holds the engine's collaborators. Store is required.
type Config struct {
	Store     remote.Store
	Queue     outbox.Queue      // default: in-memory queue
	Identity  identity.Provider // default: nobody signed in
	Audit     AuditSink         // optional
	MaxErrors int               // default 50
	Offline   bool              // start in offline mode
	Logger    *log.Logger
	Now       func() time.Time
}

// Engine is the single owner of remote-mirrored state. All methods are safe
// for concurrent use. Write methods never return remote errors; failures
// are recorded and exposed through Errors and Status.
type Engine struct {
	store     remote.Store
	queue     outbox.Queue
	ident     identity.Provider
	audit     AuditSink
	maxErrors int
	logger    *log.Logger
	now       func() time.Time

	mu       sync.RWMutex
	cache    map[string]map[string]*SyncRecord
	subs     map[string]func()
	online   bool
	lastSync time.Time
	errs     []SyncError

	replayMu sync.Mutex
	events   pubsub.Registry[SyncEvent]
	local    pubsub.Registry[string] // collection names touched by local writes
}

// New creates an engine. Defaults are applied for zero-valued fields.
func New(cfg Config) *Engine {
	if cfg.Queue == nil {
		cfg.Queue = outbox.NewMemory()
	}
	if cfg.Identity == nil {
		cfg.Identity = identity.Anonymous()
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "datasync: ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		store:     cfg.Store,
		queue:     cfg.Queue,
		ident:     cfg.Identity,
		audit:     cfg.Audit,
		maxErrors: cfg.MaxErrors,
		logger:    cfg.Logger,
		now:       cfg.Now,
		cache:     make(map[string]map[string]*SyncRecord),
		subs:      make(map[string]func()),
		online:    !cfg.Offline,
	}
}

// SyncData writes payload to collection/documentID. The cache is updated
// before the remote write starts, so readers see the new value at once.
// If the remote write fails with a transient error, or the engine is
// offline, the write is queued for replay. A write the store rejects
// outright goes straight to the dead-letter list.
func (e *Engine) SyncData(ctx context.Context, collection, documentID string, payload map[string]any, opts Options) {
	op := Operation{Collection: collection, DocumentID: documentID, Payload: payload, Merge: opts.Merge}
	actor := e.actor()
	op.Type = e.applyLocal(op, actor)
	e.changed([]Operation{op})
	e.dispatch(ctx, "sync", actor, []Operation{op})
}

// Push stores payload under a new time-ordered id in collection and
// returns the id. The id is generated locally so the write can be queued
// while offline.
func (e *Engine) Push(ctx context.Context, collection string, payload map[string]any) string {
	id := uuid.Must(uuid.NewV7()).String()
	e.SyncData(ctx, collection, id, payload, Options{})
	return id
}

// DeleteData removes collection/documentID. The cache entry is dropped
// immediately.
func (e *Engine) DeleteData(ctx context.Context, collection, documentID string) {
	op := Operation{Type: OpDelete, Collection: collection, DocumentID: documentID}
	actor := e.actor()
	e.applyLocal(op, actor)
	e.changed([]Operation{op})
	e.dispatch(ctx, "delete", actor, []Operation{op})
}

// BatchSync applies ops as one atomic multi-path update. Merge operations
// are expanded to field paths so they do not replace whole documents.
// While offline the batch is queued as a single group.
func (e *Engine) BatchSync(ctx context.Context, ops []Operation) {
	if len(ops) == 0 {
		return
	}
	actor := e.actor()
	applied := make([]Operation, len(ops))
	for i, op := range ops {
		op.Type = e.applyLocal(op, actor)
		applied[i] = op
	}
	e.changed(applied)
	e.dispatch(ctx, "batch", actor, applied)
}

func (e *Engine) dispatch(ctx context.Context, name, actor string, ops []Operation) {
	if !e.IsOnline() || e.backlogged(ctx) {
		e.enqueue(ctx, ops)
		return
	}
	var err error
	if len(ops) == 1 {
		err = e.write(ctx, ops[0], actor)
	} else {
		err = e.store.MultiUpdate(ctx, batchUpdates(ops, actor))
	}
	if err != nil {
		e.recordError(name, ops[0].Collection, ops[0].DocumentID, err)
		queued := e.enqueue(ctx, ops)
		if remote.IsPermanent(err) && len(queued) > 0 {
			e.logger.Printf("warning: %s of %s/%s rejected, moved to dead letters: %v", name, ops[0].Collection, ops[0].DocumentID, err)
			if berr := e.queue.Bury(ctx, err.Error(), seqsOf(queued)...); berr != nil {
				e.recordError("bury", ops[0].Collection, ops[0].DocumentID, berr)
			}
		}
		return
	}
	e.acknowledged(ctx, actor, ops)
}

// backlogged drains the outbox and reports whether writes are still
// waiting. A new write must not overtake older queued writes. While a
// replay is running (including writes made from its callbacks) the queue
// counts as backlogged and the replay picks the new write up.
func (e *Engine) backlogged(ctx context.Context) bool {
	n, err := e.queue.Len(ctx)
	if err != nil {
		e.logger.Printf("warning: count outbox: %v", err)
		return true
	}
	if n == 0 {
		return false
	}
	if !e.replayMu.TryLock() {
		return true
	}
	err = e.replay(ctx)
	e.replayMu.Unlock()
	if err != nil {
		e.logger.Printf("warning: replay before write: %v", err)
	}
	n, err = e.queue.Len(ctx)
	return err != nil || n > 0
}

func seqsOf(entries []outbox.Entry) []int64 {
	seqs := make([]int64, len(entries))
	for i, en := range entries {
		seqs[i] = en.Seq
	}
	return seqs
}

func (e *Engine) write(ctx context.Context, op Operation, actor string) error {
	path := remote.Join(op.Collection, op.DocumentID)
	switch {
	case op.Type == OpDelete:
		return e.store.Delete(ctx, path)
	case op.Merge:
		return e.store.Update(ctx, path, withMeta(op.Payload, actor))
	default:
		return e.store.Set(ctx, path, withMeta(op.Payload, actor))
	}
}

func batchUpdates(ops []Operation, actor string) map[string]any {
	updates := make(map[string]any)
	for _, op := range ops {
		path := remote.Join(op.Collection, op.DocumentID)
		switch {
		case op.Type == OpDelete:
			updates[path] = nil
		case op.Merge:
			for k, v := range withMeta(op.Payload, actor) {
				updates[remote.Join(path, k)] = v
			}
		default:
			updates[path] = withMeta(op.Payload, actor)
		}
	}
	return updates
}

func withMeta(payload map[string]any, actor string) map[string]any {
	out := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		out[k] = v
	}
	out[FieldUpdatedAt] = remote.ServerTimestamp
	out[FieldUpdatedBy] = actor
	return out
}

func (e *Engine) enqueue(ctx context.Context, ops []Operation) []outbox.Entry {
	group := ""
	if len(ops) > 1 {
		group = uuid.NewString()
	}
	queuedAt := e.now()
	entries := make([]outbox.Entry, len(ops))
	for i, op := range ops {
		entries[i] = outbox.Entry{
			Group:      group,
			Op:         op.Type,
			Collection: op.Collection,
			DocumentID: op.DocumentID,
			Payload:    op.Payload,
			Merge:      op.Merge,
			QueuedAt:   queuedAt,
		}
	}
	queued, err := e.queue.Enqueue(ctx, entries...)
	if err != nil {
		e.recordError("enqueue", ops[0].Collection, ops[0].DocumentID, err)
		e.logger.Printf("warning: could not queue write to %s/%s: %v", ops[0].Collection, ops[0].DocumentID, err)
	}
	return queued
}

func (e *Engine) acknowledged(ctx context.Context, actor string, ops []Operation) {
	now := e.now()
	e.mu.Lock()
	e.lastSync = now
	e.mu.Unlock()

	for _, op := range ops {
		ev := SyncEvent{
			ID:         uuid.Must(uuid.NewV7()).String(),
			Type:       op.Type,
			Collection: op.Collection,
			DocumentID: op.DocumentID,
			Payload:    cloneDoc(op.Payload),
			Actor:      actor,
			Timestamp:  now,
		}
		if e.audit != nil {
			if err := e.audit.Append(ctx, ev); err != nil {
				e.logger.Printf("warning: audit %s %s/%s: %v", ev.Type, ev.Collection, ev.DocumentID, err)
			}
		}
		e.events.Publish(ev)
	}
}

// changed tells local watchers which collections ops touched, once each.
func (e *Engine) changed(ops []Operation) {
	seen := make(map[string]bool, len(ops))
	for _, op := range ops {
		if seen[op.Collection] {
			continue
		}
		seen[op.Collection] = true
		e.local.Publish(op.Collection)
	}
}

// applyLocal updates the cache for op and returns whether it created or
// updated the document.
func (e *Engine) applyLocal(op Operation, actor string) OpType {
	e.mu.Lock()
	defer e.mu.Unlock()

	docs := e.cache[op.Collection]
	if op.Type == OpDelete {
		if docs != nil {
			delete(docs, op.DocumentID)
		}
		return OpDelete
	}
	if docs == nil {
		docs = make(map[string]*SyncRecord)
		e.cache[op.Collection] = docs
	}

	rec, exists := docs[op.DocumentID]
	payload := cloneDoc(op.Payload)
	if op.Merge && exists {
		merged := cloneDoc(rec.Payload)
		for k, v := range payload {
			if v == nil {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}
		payload = merged
	}
	docs[op.DocumentID] = &SyncRecord{
		Collection:    op.Collection,
		DocumentID:    op.DocumentID,
		Payload:       payload,
		LastWriter:    actor,
		LastWriteTime: e.now(),
	}
	if exists {
		return OpUpdate
	}
	return OpCreate
}

// Subscribe opens a live feed on a whole collection and returns its id, or
// "" if the store refused the subscription (the error is recorded). Every
// delivery replaces the cached collection before cb runs.
func (e *Engine) Subscribe(ctx context.Context, collection string, cb Callback) string {
	return e.subscribe(ctx, collection, "", false, cb)
}

// SubscribeDocument is Subscribe for a single document.
func (e *Engine) SubscribeDocument(ctx context.Context, collection, documentID string, cb Callback) string {
	return e.subscribe(ctx, collection, documentID, false, cb)
}

// Watch is Subscribe that also calls cb after every local write to
// collection, online or not. Those snapshots carry the cached collection.
// Unsubscribe releases both feeds.
func (e *Engine) Watch(ctx context.Context, collection string, cb Callback) string {
	return e.subscribe(ctx, collection, "", true, cb)
}

func (e *Engine) subscribe(ctx context.Context, collection, documentID string, local bool, cb Callback) string {
	path := remote.Join(collection, documentID)
	cancel, err := e.store.Subscribe(ctx, path, func(s remote.Snapshot) {
		e.applyRemote(collection, documentID, s.Value)
		if cb != nil {
			cb(Snapshot{Collection: collection, DocumentID: documentID, Value: s.Value})
		}
	})
	if err != nil {
		e.recordError("subscribe", collection, documentID, err)
		return ""
	}
	if local && cb != nil {
		dispose := e.local.Add(func(c string) {
			if c == collection {
				cb(Snapshot{Collection: collection, Value: e.cachedValue(collection)})
			}
		})
		stop := cancel
		cancel = func() {
			dispose()
			stop()
		}
	}
	id := uuid.NewString()
	e.mu.Lock()
	e.subs[id] = cancel
	e.mu.Unlock()
	return id
}

// Unsubscribe releases a subscription. Unknown or already released ids are
// ignored.
func (e *Engine) Unsubscribe(id string) {
	e.mu.Lock()
	cancel, ok := e.subs[id]
	delete(e.subs, id)
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// Subscriptions returns the number of live subscriptions.
func (e *Engine) Subscriptions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

func (e *Engine) applyRemote(collection, documentID string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if documentID != "" {
		doc, ok := value.(map[string]any)
		if !ok {
			if docs := e.cache[collection]; docs != nil {
				delete(docs, documentID)
			}
			return
		}
		if e.cache[collection] == nil {
			e.cache[collection] = make(map[string]*SyncRecord)
		}
		e.cache[collection][documentID] = recordFromRemote(collection, documentID, doc)
		return
	}

	docs := make(map[string]*SyncRecord)
	if obj, ok := value.(map[string]any); ok {
		for id, v := range obj {
			if doc, ok := v.(map[string]any); ok {
				docs[id] = recordFromRemote(collection, id, doc)
			}
		}
	}
	e.cache[collection] = docs
}

func recordFromRemote(collection, id string, doc map[string]any) *SyncRecord {
	rec := &SyncRecord{Collection: collection, DocumentID: id, Payload: doc}
	if by, ok := doc[FieldUpdatedBy].(string); ok {
		rec.LastWriter = by
	}
	if at, ok := doc[FieldUpdatedAt].(float64); ok {
		rec.LastWriteTime = time.UnixMilli(int64(at))
	}
	return rec
}

// Cached returns a copy of the cached document.
func (e *Engine) Cached(collection, documentID string) (map[string]any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.cache[collection][documentID]
	if !ok {
		return nil, false
	}
	return cloneDoc(rec.Payload), true
}

// Record returns the cached record with its write metadata.
func (e *Engine) Record(collection, documentID string) (SyncRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.cache[collection][documentID]
	if !ok {
		return SyncRecord{}, false
	}
	out := *rec
	out.Payload = cloneDoc(rec.Payload)
	return out, true
}

// CachedCollection returns copies of every cached document in collection.
func (e *Engine) CachedCollection(collection string) map[string]map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]map[string]any, len(e.cache[collection]))
	for id, rec := range e.cache[collection] {
		out[id] = cloneDoc(rec.Payload)
	}
	return out
}

func (e *Engine) cachedValue(collection string) map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]any, len(e.cache[collection]))
	for id, rec := range e.cache[collection] {
		out[id] = cloneDoc(rec.Payload)
	}
	return out
}

// ClearCache evicts one collection, or everything when collection is "".
func (e *Engine) ClearCache(collection string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if collection == "" {
		e.cache = make(map[string]map[string]*SyncRecord)
		return
	}
	delete(e.cache, collection)
}

// ResolveConflict is the package-level ResolveConflict with logging. The
// manual strategy falls back to the remote version.
func (e *Engine) ResolveConflict(local, remoteDoc map[string]any, strategy Strategy) (map[string]any, error) {
	out, err := ResolveConflict(local, remoteDoc, strategy)
	if errors.Is(err, ErrManualResolution) {
		e.logger.Printf("warning: %v; using remote version", err)
	}
	return out, err
}

// SetOnline records the connectivity signal. Going from offline to online
// replays the queue before returning.
func (e *Engine) SetOnline(ctx context.Context, online bool) {
	e.mu.Lock()
	was := e.online
	e.online = online
	e.mu.Unlock()

	if online && !was {
		if err := e.Replay(ctx); err != nil {
			e.logger.Printf("warning: replay after reconnect: %v", err)
		}
	}
}

// IsOnline reports the last connectivity signal.
func (e *Engine) IsOnline() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.online
}

// Replay sends queued writes in enqueue order. An entry leaves the queue
// only after the store acknowledges it. Replay stops at the first
// transient failure; writes the store rejects permanently are moved to the
// dead-letter list and replay continues.
func (e *Engine) Replay(ctx context.Context) error {
	e.replayMu.Lock()
	defer e.replayMu.Unlock()
	return e.replay(ctx)
}

func (e *Engine) replay(ctx context.Context) error {
	var result *multierror.Error
	for e.IsOnline() {
		entries, err := e.queue.Next(ctx)
		if err != nil {
			return multierror.Append(result, fmt.Errorf("read outbox: %w", err)).ErrorOrNil()
		}
		if len(entries) == 0 {
			break
		}

		ops := make([]Operation, len(entries))
		for i, en := range entries {
			ops[i] = Operation{Type: en.Op, Collection: en.Collection, DocumentID: en.DocumentID, Payload: en.Payload, Merge: en.Merge}
		}
		seqs := seqsOf(entries)

		actor := e.actor()
		var werr error
		if len(entries) == 1 && entries[0].Group == "" {
			werr = e.write(ctx, ops[0], actor)
		} else {
			werr = e.store.MultiUpdate(ctx, batchUpdates(ops, actor))
		}

		if werr == nil {
			if err := e.queue.Ack(ctx, seqs...); err != nil {
				return multierror.Append(result, fmt.Errorf("ack replayed write: %w", err)).ErrorOrNil()
			}
			e.acknowledged(ctx, actor, ops)
			continue
		}

		e.recordError("replay", ops[0].Collection, ops[0].DocumentID, werr)
		result = multierror.Append(result, fmt.Errorf("replay %s/%s: %w", ops[0].Collection, ops[0].DocumentID, werr))
		if remote.IsPermanent(werr) {
			if err := e.queue.Bury(ctx, werr.Error(), seqs...); err != nil {
				return multierror.Append(result, fmt.Errorf("move to dead letters: %w", err)).ErrorOrNil()
			}
			continue
		}
		if err := e.queue.Fail(ctx, werr.Error(), seqs...); err != nil {
			result = multierror.Append(result, fmt.Errorf("record failed attempt: %w", err))
		}
		break
	}
	return result.ErrorOrNil()
}

// PendingOperations returns the writes waiting for replay, oldest first.
func (e *Engine) PendingOperations(ctx context.Context) []outbox.Entry {
	list, err := e.queue.List(ctx)
	if err != nil {
		e.logger.Printf("warning: list outbox: %v", err)
	}
	return list
}

// DeadLetters returns writes the store rejected during replay.
func (e *Engine) DeadLetters(ctx context.Context) []outbox.Entry {
	list, err := e.queue.Dead(ctx)
	if err != nil {
		e.logger.Printf("warning: list dead letters: %v", err)
	}
	return list
}

// LastSyncTime is the time of the last acknowledged write.
func (e *Engine) LastSyncTime() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSync
}

// Errors returns the recorded failures, oldest first.
func (e *Engine) Errors() []SyncError {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]SyncError(nil), e.errs...)
}

// ClearErrors empties the error list.
func (e *Engine) ClearErrors() {
	e.mu.Lock()
	e.errs = nil
	e.mu.Unlock()
}

// Status returns a summary for display.
func (e *Engine) Status(ctx context.Context) Status {
	pending, err := e.queue.Len(ctx)
	if err != nil {
		e.logger.Printf("warning: count outbox: %v", err)
	}
	dead := len(e.DeadLetters(ctx))
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Status{
		Online:            e.online,
		PendingOperations: pending,
		DeadLetters:       dead,
		LastSyncTime:      e.lastSync,
		Errors:            append([]SyncError(nil), e.errs...),
	}
}

// OnSyncEvent registers fn for every acknowledged write.
func (e *Engine) OnSyncEvent(fn func(SyncEvent)) (dispose func()) {
	return e.events.Add(fn)
}

// Close releases every subscription.
func (e *Engine) Close() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	sort.Strings(ids)
	for _, id := range ids {
		e.Unsubscribe(id)
	}
}

func (e *Engine) recordError(op, collection, documentID string, err error) {
	se := SyncError{
		Time:       e.now(),
		Op:         op,
		Collection: collection,
		DocumentID: documentID,
		Message:    err.Error(),
		Permanent:  remote.IsPermanent(err),
	}
	e.mu.Lock()
	e.errs = append(e.errs, se)
	if len(e.errs) > e.maxErrors {
		e.errs = append([]SyncError(nil), e.errs[len(e.errs)-e.maxErrors:]...)
	}
	e.mu.Unlock()
}

func (e *Engine) actor() string {
	return identity.UID(e.ident, systemActor)
}

func cloneDoc(m map[string]any) map[string]any {
	if m == nil {
		return make(map[string]any)
	}
	out, _ := remote.Clone(m).(map[string]any)
	return out
}
