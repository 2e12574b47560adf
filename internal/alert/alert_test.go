package alert

import (
	"context"
	"testing"
)

func TestSeverityRank(t *testing.T) {
	if !SeverityCritical.AtLeast(SeverityHigh) {
		t.Error("expected critical >= high")
	}
	if SeverityMedium.AtLeast(SeverityHigh) {
		t.Error("expected medium < high")
	}
	if Severity("bogus").Rank() != -1 {
		t.Error("expected unknown severity rank -1")
	}
}

func TestParseSeverity(t *testing.T) {
	tests := map[string]Severity{
		"CRITICAL": SeverityCritical,
		" high ":   SeverityHigh,
		"medium":   SeverityMedium,
		"":         SeverityLow,
		"urgent":   SeverityLow,
	}
	for in, want := range tests {
		if got := ParseSeverity(in); got != want {
			t.Errorf("ParseSeverity(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestNotifierFunc(t *testing.T) {
	var got Alert
	n := NotifierFunc(func(_ context.Context, a Alert) error {
		got = a
		return nil
	})
	if err := n.Notify(context.Background(), Alert{Key: "k"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Key != "k" {
		t.Errorf("expected key k, got %q", got.Key)
	}
	if err := Discard.Notify(context.Background(), Alert{}); err != nil {
		t.Errorf("expected Discard to succeed, got %v", err)
	}
}
