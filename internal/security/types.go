// Package security records security events, derives threats from them with
// a small rule engine and keeps an aggregate risk score.
package security

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kamlesh9876/devium/internal/alert"
)

// Remote collections owned by the engine.
const (
	EventsCollection     = "securityEvents"
	ThreatsCollection    = "securityThreats"
	BlockedIPsCollection = "blockedIPs"
)

// EventType classifies a security event.
type EventType string

const (
	EventLoginAttempt       EventType = "login_attempt"
	EventFailedLogin        EventType = "failed_login"
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventDataBreach         EventType = "data_breach"
	EventMalwareDetected    EventType = "malware_detected"
	EventUnauthorizedAccess EventType = "unauthorized_access"
	EventBruteForce         EventType = "brute_force"
	EventSessionHijack      EventType = "session_hijack"
	EventXSSAttempt         EventType = "xss_attempt"
	EventSQLInjection       EventType = "sql_injection"
	EventCSRFAttack         EventType = "csrf_attack"
)

// UnknownIP marks events whose source address is not known.
const UnknownIP = "unknown"

// Location is the coarse origin of an event.
type Location struct {
	Country string `json:"country"`
	City    string `json:"city"`
}

// Event is an append-only audit record. Only the resolution fields change
// after creation.
type Event struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Type          EventType      `json:"type"`
	Severity      alert.Severity `json:"severity"`
	UserID        string         `json:"userId,omitempty"`
	IPAddress     string         `json:"ipAddress"`
	UserAgent     string         `json:"userAgent,omitempty"`
	Location      *Location      `json:"location,omitempty"`
	Description   string         `json:"description"`
	Details       map[string]any `json:"details,omitempty"`
	Resolved      bool           `json:"resolved"`
	ResolvedAt    time.Time      `json:"resolvedAt,omitzero"`
	ResolvedBy    string         `json:"resolvedBy,omitempty"`
	FalsePositive bool           `json:"falsePositive"`
}

// ThreatStatus is the lifecycle state of a threat. It only moves forward.
type ThreatStatus string

const (
	ThreatActive    ThreatStatus = "active"
	ThreatMitigated ThreatStatus = "mitigated"
	ThreatResolved  ThreatStatus = "resolved"
)

func (s ThreatStatus) rank() int {
	switch s {
	case ThreatMitigated:
		return 1
	case ThreatResolved:
		return 2
	}
	return 0
}

// Threat is a finding synthesized from one or more events.
type Threat struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Severity        alert.Severity `json:"severity"`
	DetectedAt      time.Time      `json:"detectedAt"`
	Status          ThreatStatus   `json:"status"`
	AffectedUsers   []string       `json:"affectedUsers"`
	MitigationSteps []string       `json:"mitigationSteps"`
	AppliedSteps    []string       `json:"appliedSteps,omitempty"`
	RiskScore       int            `json:"riskScore"`
	SourceIP        string         `json:"sourceIp,omitempty"`
	ResolvedBy      string         `json:"resolvedBy,omitempty"`
}

// HourCount is one bucket of Metrics.EventsByHour.
type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// SourceCount is one entry of Metrics.TopAttackSources.
type SourceCount struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

// Metrics is the aggregate view of the current events and threats.
type Metrics struct {
	TotalEvents       int               `json:"totalEvents"`
	CriticalEvents    int               `json:"criticalEvents"`
	HighEvents        int               `json:"highEvents"`
	MediumEvents      int               `json:"mediumEvents"`
	LowEvents         int               `json:"lowEvents"`
	ResolvedEvents    int               `json:"resolvedEvents"`
	ActiveThreats     int               `json:"activeThreats"`
	RiskScore         int               `json:"riskScore"`
	EventsByType      map[EventType]int `json:"eventsByType"`
	EventsByHour      []HourCount       `json:"eventsByHour"`
	TopAttackSources  []SourceCount     `json:"topAttackSources"`
	BlockedAttempts   int               `json:"blockedAttempts"`
	SuccessfulAttacks int               `json:"successfulAttacks"`
}

// EventFromPayload decodes a stored event. Missing fields take zero values.
func EventFromPayload(id string, doc map[string]any) Event {
	ev := Event{ID: id, Severity: alert.SeverityLow}
	raw, err := json.Marshal(doc)
	if err != nil {
		return ev
	}
	r := gjson.ParseBytes(raw)
	ev.Timestamp = parseTime(r.Get("timestamp"))
	ev.Type = EventType(r.Get("type").String())
	ev.Severity = alert.ParseSeverity(r.Get("severity").String())
	ev.UserID = r.Get("userId").String()
	ev.IPAddress = r.Get("ipAddress").String()
	ev.UserAgent = r.Get("userAgent").String()
	ev.Description = r.Get("description").String()
	if loc := r.Get("location"); loc.IsObject() {
		ev.Location = &Location{Country: loc.Get("country").String(), City: loc.Get("city").String()}
	}
	if d, ok := doc["details"].(map[string]any); ok {
		ev.Details = d
	}
	ev.Resolved = r.Get("resolved").Bool()
	ev.ResolvedAt = parseTime(r.Get("resolvedAt"))
	ev.ResolvedBy = r.Get("resolvedBy").String()
	ev.FalsePositive = r.Get("falsePositive").Bool()
	return ev
}

// ThreatFromPayload decodes a stored threat. Unknown statuses read as
// active.
func ThreatFromPayload(id string, doc map[string]any) Threat {
	th := Threat{ID: id, Status: ThreatActive, Severity: alert.SeverityLow}
	raw, err := json.Marshal(doc)
	if err != nil {
		return th
	}
	r := gjson.ParseBytes(raw)
	th.Type = r.Get("type").String()
	th.Name = r.Get("name").String()
	th.Description = r.Get("description").String()
	th.Severity = alert.ParseSeverity(r.Get("severity").String())
	th.DetectedAt = parseTime(r.Get("detectedAt"))
	switch s := ThreatStatus(r.Get("status").String()); s {
	case ThreatMitigated, ThreatResolved:
		th.Status = s
	}
	th.AffectedUsers = stringsAt(r.Get("affectedUsers"))
	th.MitigationSteps = stringsAt(r.Get("mitigationSteps"))
	th.AppliedSteps = stringsAt(r.Get("appliedSteps"))
	th.RiskScore = int(r.Get("riskScore").Int())
	th.SourceIP = r.Get("sourceIp").String()
	th.ResolvedBy = r.Get("resolvedBy").String()
	return th
}

func eventPayload(ev Event) map[string]any {
	p := map[string]any{
		"timestamp":     ev.Timestamp.UnixMilli(),
		"type":          string(ev.Type),
		"severity":      string(ev.Severity),
		"ipAddress":     ev.IPAddress,
		"userAgent":     ev.UserAgent,
		"description":   ev.Description,
		"resolved":      ev.Resolved,
		"falsePositive": ev.FalsePositive,
	}
	if ev.UserID != "" {
		p["userId"] = ev.UserID
	}
	if ev.Location != nil {
		p["location"] = map[string]any{"country": ev.Location.Country, "city": ev.Location.City}
	}
	if len(ev.Details) > 0 {
		p["details"] = ev.Details
	}
	return p
}

func threatPayload(th Threat) map[string]any {
	p := map[string]any{
		"type":            th.Type,
		"name":            th.Name,
		"description":     th.Description,
		"severity":        string(th.Severity),
		"detectedAt":      th.DetectedAt.UnixMilli(),
		"status":          string(th.Status),
		"affectedUsers":   stringList(th.AffectedUsers),
		"mitigationSteps": stringList(th.MitigationSteps),
		"riskScore":       th.RiskScore,
	}
	if th.SourceIP != "" {
		p["sourceIp"] = th.SourceIP
	}
	return p
}

func parseTime(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.Number:
		if v.Int() > 0 {
			return time.UnixMilli(v.Int())
		}
	case gjson.String:
		if ts, err := time.Parse(time.RFC3339Nano, v.String()); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func stringsAt(v gjson.Result) []string {
	var out []string
	for _, item := range v.Array() {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stringList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func sortEvents(evs []Event) {
	sort.SliceStable(evs, func(i, j int) bool {
		if !evs[i].Timestamp.Equal(evs[j].Timestamp) {
			return evs[i].Timestamp.After(evs[j].Timestamp)
		}
		return evs[i].ID > evs[j].ID
	})
}

func sortThreats(ths []Threat) {
	sort.SliceStable(ths, func(i, j int) bool {
		if !ths[i].DetectedAt.Equal(ths[j].DetectedAt) {
			return ths[i].DetectedAt.After(ths[j].DetectedAt)
		}
		return ths[i].ID > ths[j].ID
	})
}
