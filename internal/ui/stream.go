package ui

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Stream writes a live feed of sync events and alerts to dest, one
// prefixed line per item. It is safe for concurrent use.
type Stream struct {
	dest io.Writer
	mu   sync.Mutex
	now  func() time.Time
}

// NewStream creates a Stream writing to dest.
func NewStream(dest io.Writer) *Stream {
	return &Stream{dest: dest, now: time.Now}
}

// Event writes one acknowledged write.
func (s *Stream) Event(op, collection, documentID, actor string) {
	icon := Green("+")
	switch op {
	case "update":
		icon = Cyan("~")
	case "delete":
		icon = Red("-")
	}
	s.line(Prefix(collection), fmt.Sprintf("%s %s %s", icon, documentID, Dim("by "+actor)))
}

// Alert writes one alert.
func (s *Stream) Alert(severity, title, message string) {
	s.line(Prefix("alert"), fmt.Sprintf("%s %s %s", Severity(severity), Bold(title), Dim(message)))
}

// Info writes a free-form status line.
func (s *Stream) Info(format string, args ...any) {
	s.line(Prefix("devsync"), fmt.Sprintf(format, args...))
}

func (s *Stream) line(prefix, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.dest, "%s %s %s\n", Dim(s.now().Format("15:04:05")), prefix, body)
}
