package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnavailable is returned when the store cannot be reached. Writes that
	// fail with it are safe to retry.
	ErrUnavailable = errors.New("remote store unavailable")

	// ErrInvalid is returned for writes the store rejects outright (bad path,
	// value that cannot be encoded). Retrying will not help.
	ErrInvalid = errors.New("invalid remote write")
)

// ServerTimestamp is the sentinel value a store replaces with its own
// monotonic write time (milliseconds since the epoch).
var ServerTimestamp = map[string]any{".sv": "timestamp"}

// Snapshot is the full value stored at Path at the time of delivery.
// A nil Value means nothing exists at Path.
type Snapshot struct {
	Path  string
	Value any
}

// Exists reports whether the snapshot holds a value.
func (s Snapshot) Exists() bool {
	return s.Value != nil
}

// Listener receives snapshots for a subscribed path.
type Listener func(Snapshot)

// Store is a key-path addressable document store. Values are JSON-like:
// map[string]any, []any, string, float64, bool or nil.
type Store interface {
	// Subscribe delivers the current value at path immediately, then again
	// on every change. The returned cancel func is idempotent.
	Subscribe(ctx context.Context, path string, fn Listener) (cancel func(), err error)
	Get(ctx context.Context, path string) (any, error)
	// Set replaces the value at path.
	Set(ctx context.Context, path string, value any) error
	// Update merges fields into the value at path. Field keys may be
	// relative paths.
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	// MultiUpdate applies every path/value pair atomically. A nil value
	// deletes the path.
	MultiUpdate(ctx context.Context, updates map[string]any) error
	// Push stores value under a new time-ordered child key of path and
	// returns the key.
	Push(ctx context.Context, path string, value any) (string, error)
}

// Join builds a store path from segments, ignoring empty ones.
func Join(parts ...string) string {
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			segs = append(segs, p)
		}
	}
	return strings.Join(segs, "/")
}

// Split breaks a store path into its segments.
func Split(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// IsPermanent reports whether err means the write can never succeed as-is.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalid)
}

// validKey rejects the characters Realtime Database forbids in keys.
func validKey(seg string) bool {
	return seg != "" && !strings.ContainsAny(seg, ".$#[]")
}

// ValidatePath returns ErrInvalid if any segment of path is not a legal key.
func ValidatePath(path string) error {
	segs := Split(path)
	if len(segs) == 0 {
		return fmt.Errorf("%w: empty path", ErrInvalid)
	}
	for _, s := range segs {
		if !validKey(s) {
			return fmt.Errorf("%w: illegal key %q", ErrInvalid, s)
		}
	}
	return nil
}
