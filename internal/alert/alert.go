// Package alert defines the findings the analytics engines hand to the
// notification fan-out.
package alert

import (
	"context"
	"strings"
)

// Severity orders alerts and findings.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns 0..3 for known severities and -1 otherwise.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// AtLeast reports whether s is as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// ParseSeverity maps free-form input onto a Severity, defaulting to low.
func ParseSeverity(s string) Severity {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return sev
	}
	return SeverityLow
}

// Alert is a derived finding addressed to one user or to everyone.
type Alert struct {
	Source    string // workload, bottleneck, security, health
	Key       string // stable identity used for deduplication
	Title     string
	Message   string
	UserID    string // ignored when Broadcast is set
	Severity  Severity
	Broadcast bool
	ActionURL string
}

// Notifier accepts alerts. Engines receive one at construction time.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, a Alert) error

func (f NotifierFunc) Notify(ctx context.Context, a Alert) error {
	return f(ctx, a)
}

// Discard drops every alert.
var Discard Notifier = NotifierFunc(func(context.Context, Alert) error { return nil })
