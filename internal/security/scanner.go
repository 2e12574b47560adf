package security

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/kamlesh9876/devium/internal/alert"
	"github.com/kamlesh9876/devium/internal/datasync"
	"github.com/kamlesh9876/devium/internal/remote"
)

// Scanner inspects some part of the system and reports suspicious findings
// as events. Returned events need only Type, Severity, Description and
// Details; the engine fills in the rest.
type Scanner interface {
	Name() string
	Scan(ctx context.Context) ([]Event, error)
}

// Input is a piece of user-supplied text to inspect.
type Input struct {
	Ref    string // where the text came from, e.g. tasks/t1/title
	UserID string
	Text   string
}

type pattern struct {
	typ      EventType
	severity alert.Severity
	label    string
	re       *regexp.Regexp
}

var patterns = []pattern{
	{EventXSSAttempt, alert.SeverityMedium, "script tag", regexp.MustCompile(`(?i)<\s*script\b`)},
	{EventXSSAttempt, alert.SeverityMedium, "inline event handler", regexp.MustCompile(`(?i)\bon(error|load|click|mouseover)\s*=`)},
	{EventXSSAttempt, alert.SeverityMedium, "javascript url", regexp.MustCompile(`(?i)javascript\s*:`)},
	{EventSQLInjection, alert.SeverityHigh, "union select", regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`)},
	{EventSQLInjection, alert.SeverityHigh, "tautology", regexp.MustCompile(`(?i)'\s*or\s+'?\d+'?\s*=\s*'?\d+`)},
	{EventSQLInjection, alert.SeverityHigh, "stacked drop", regexp.MustCompile(`(?i);\s*drop\s+table\b`)},
}

// PatternScanner matches stored user input against known injection
// patterns. Each (ref, pattern) pair is reported once per scanner.
type PatternScanner struct {
	Source func() []Input

	mu   sync.Mutex
	seen map[string]bool
}

// NewPatternScanner creates a scanner over the inputs returned by source.
func NewPatternScanner(source func() []Input) *PatternScanner {
	return &PatternScanner{Source: source, seen: make(map[string]bool)}
}

func (s *PatternScanner) Name() string { return "patterns" }

func (s *PatternScanner) Scan(ctx context.Context) ([]Event, error) {
	if s.Source == nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}

	var out []Event
	for _, in := range s.Source() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		for _, p := range patterns {
			match := p.re.FindString(in.Text)
			if match == "" {
				continue
			}
			key := in.Ref + "|" + p.label
			if s.seen[key] {
				continue
			}
			s.seen[key] = true
			out = append(out, Event{
				Type:        p.typ,
				Severity:    p.severity,
				UserID:      in.UserID,
				Description: fmt.Sprintf("Potential %s in %s (%s)", describe(p.typ), in.Ref, p.label),
				Details:     map[string]any{"pattern": match, "ref": in.Ref},
			})
		}
	}
	return out, nil
}

func describe(t EventType) string {
	switch t {
	case EventXSSAttempt:
		return "XSS attempt"
	case EventSQLInjection:
		return "SQL injection"
	}
	return string(t)
}

// DocumentSource returns a scanner source over the string fields of every
// cached document in collections. The author is taken from updatedBy.
func DocumentSource(eng *datasync.Engine, collections []string, fields ...string) func() []Input {
	if len(fields) == 0 {
		fields = []string{"title", "description"}
	}
	return func() []Input {
		var out []Input
		for _, coll := range collections {
			docs := eng.CachedCollection(coll)
			ids := make([]string, 0, len(docs))
			for id := range docs {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				doc := docs[id]
				author, _ := doc[datasync.FieldUpdatedBy].(string)
				for _, f := range fields {
					text, ok := doc[f].(string)
					if !ok || text == "" {
						continue
					}
					out = append(out, Input{Ref: remote.Join(coll, id, f), UserID: author, Text: text})
				}
			}
		}
		return out
	}
}
