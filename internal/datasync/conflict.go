package datasync

import (
	"errors"
	"fmt"
)

// Strategy selects how a local and a remote version of a document are
// reconciled.
type Strategy string

const (
	LastWriteWins  Strategy = "last_write_wins"
	FirstWriteWins Strategy = "first_write_wins"
	Merge          Strategy = "merge"
	Manual         Strategy = "manual"
)

// ErrManualResolution is returned for the Manual strategy, which has no
// resolution flow yet. The accompanying value is the remote version.
var ErrManualResolution = errors.New("manual conflict resolution is not implemented")

// ResolveConflict reconciles two versions of a document. The remote version
// already includes other writers' changes, so it wins under LastWriteWins
// and on key collisions under Merge. Inputs are not modified.
func ResolveConflict(local, remote map[string]any, strategy Strategy) (map[string]any, error) {
	switch strategy {
	case LastWriteWins:
		return clone(remote), nil
	case FirstWriteWins:
		return clone(local), nil
	case Merge:
		out := clone(local)
		if out == nil {
			out = make(map[string]any, len(remote))
		}
		for k, v := range remote {
			out[k] = v
		}
		return out, nil
	case Manual:
		return clone(remote), ErrManualResolution
	default:
		return clone(remote), fmt.Errorf("unknown conflict strategy %q", strategy)
	}
}

func clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
