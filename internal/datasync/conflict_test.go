package datasync

import (
	"errors"
	"testing"
)

func TestResolveConflict(t *testing.T) {
	local := map[string]any{"title": "local", "status": "todo"}
	remote := map[string]any{"title": "remote", "priority": "high"}

	tests := []struct {
		strategy Strategy
		want     map[string]any
		wantErr  error
	}{
		{LastWriteWins, map[string]any{"title": "remote", "priority": "high"}, nil},
		{FirstWriteWins, map[string]any{"title": "local", "status": "todo"}, nil},
		{Merge, map[string]any{"title": "remote", "status": "todo", "priority": "high"}, nil},
		{Manual, map[string]any{"title": "remote", "priority": "high"}, ErrManualResolution},
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			got, err := ResolveConflict(local, remote, tt.strategy)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("key %s: expected %v, got %v", k, v, got[k])
				}
			}
		})
	}

	if local["title"] != "local" || remote["title"] != "remote" {
		t.Error("inputs must not be modified")
	}
}

func TestResolveConflict_UnknownStrategy(t *testing.T) {
	got, err := ResolveConflict(nil, map[string]any{"a": 1}, Strategy("coin_flip"))
	if err == nil {
		t.Fatal("expected error for unknown strategy")
	}
	if got["a"] != 1 {
		t.Errorf("expected remote fallback, got %v", got)
	}
}
