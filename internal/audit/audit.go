// Package audit stores the append-only log of acknowledged sync writes.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kamlesh9876/devium/internal/datasync"
	"github.com/kamlesh9876/devium/internal/remote"
)

// Collection is the remote path events are pushed under.
const Collection = "syncEvents"

// Remote appends events to the remote store next to the data they describe.
// It writes through the store directly so audit writes are not themselves
// audited.
type Remote struct {
	Store remote.Store
}

func (r Remote) Append(ctx context.Context, ev datasync.SyncEvent) error {
	rec := map[string]any{
		"type":       string(ev.Type),
		"collection": ev.Collection,
		"documentId": ev.DocumentID,
		"actor":      ev.Actor,
		"timestamp":  ev.Timestamp.UnixMilli(),
	}
	if len(ev.Payload) > 0 {
		rec["payload"] = ev.Payload
	}
	if err := r.Store.Set(ctx, remote.Join(Collection, ev.ID), rec); err != nil {
		return fmt.Errorf("append sync event: %w", err)
	}
	return nil
}

// Mongo appends events to a MongoDB collection.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// ConnectMongo connects to uri and returns a sink writing to
// database.collection.
func ConnectMongo(ctx context.Context, uri, database, collection string) (*Mongo, error) {
	if uri == "" {
		return nil, errors.New("mongo URI not set")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if collection == "" {
		collection = Collection
	}
	return &Mongo{client: client, coll: client.Database(database).Collection(collection)}, nil
}

func (m *Mongo) Append(ctx context.Context, ev datasync.SyncEvent) error {
	if _, err := m.coll.InsertOne(ctx, ev); err != nil {
		return fmt.Errorf("insert sync event: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Multi fans an event out to several sinks and reports every failure.
type Multi []datasync.AuditSink

func (ms Multi) Append(ctx context.Context, ev datasync.SyncEvent) error {
	var errs []error
	for _, s := range ms {
		if err := s.Append(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
