package security

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kamlesh9876/devium/internal/alert"
)

// Threat types emitted by the rule engine.
const (
	ThreatBruteForce = "brute_force"
	ThreatDataBreach = "data_breach"
)

// MaxLoginAttempts is the attempts count above which a single failed login
// event is treated as a brute force attack.
const MaxLoginAttempts = 5

var (
	bruteForceSteps = []string{
		"Block IP address temporarily",
		"Require additional authentication",
		"Notify user of suspicious activity",
	}
	dataBreachSteps = []string{
		"Immediate user notification",
		"Force password reset",
		"Review access logs",
		"Enable additional monitoring",
	}
)

// Analyze evaluates the per-event rules. It returns nil when ev does not
// indicate a threat.
func Analyze(ev Event, now time.Time) *Threat {
	var affected []string
	if ev.UserID != "" {
		affected = []string{ev.UserID}
	}

	switch {
	case ev.Type == EventFailedLogin && attempts(ev.Details) > MaxLoginAttempts:
		return &Threat{
			Type:            ThreatBruteForce,
			Name:            "Brute Force Attack Detected",
			Description:     fmt.Sprintf("Multiple failed login attempts from %s", ev.IPAddress),
			Severity:        alert.SeverityHigh,
			DetectedAt:      now,
			Status:          ThreatActive,
			AffectedUsers:   affected,
			MitigationSteps: append([]string(nil), bruteForceSteps...),
			RiskScore:       75,
			SourceIP:        ev.IPAddress,
		}
	case ev.Type == EventSuspiciousActivity && ev.Severity == alert.SeverityCritical:
		return &Threat{
			Type:            ThreatDataBreach,
			Name:            "Potential Data Breach",
			Description:     ev.Description,
			Severity:        alert.SeverityCritical,
			DetectedAt:      now,
			Status:          ThreatActive,
			AffectedUsers:   affected,
			MitigationSteps: append([]string(nil), dataBreachSteps...),
			RiskScore:       95,
			SourceIP:        ev.IPAddress,
		}
	}
	return nil
}

// attempts reads details.attempts, accepting numbers and numeric strings.
func attempts(details map[string]any) float64 {
	switch v := details["attempts"].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f
	}
	return 0
}

// BruteForceSweep groups failed logins inside window by source address and
// returns one threat per address with at least threshold failures.
func BruteForceSweep(events []Event, now time.Time, window time.Duration, threshold int) []Threat {
	type source struct {
		count int
		users map[string]bool
	}
	since := now.Add(-window)
	bySource := make(map[string]*source)
	for _, ev := range events {
		if ev.Type != EventFailedLogin || ev.Timestamp.Before(since) || ev.Timestamp.After(now) {
			continue
		}
		s, ok := bySource[ev.IPAddress]
		if !ok {
			s = &source{users: make(map[string]bool)}
			bySource[ev.IPAddress] = s
		}
		s.count++
		if ev.UserID != "" {
			s.users[ev.UserID] = true
		}
	}

	ips := make([]string, 0, len(bySource))
	for ip := range bySource {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	var out []Threat
	for _, ip := range ips {
		s := bySource[ip]
		if s.count < threshold {
			continue
		}
		users := make([]string, 0, len(s.users))
		for u := range s.users {
			users = append(users, u)
		}
		sort.Strings(users)
		out = append(out, Threat{
			Type:            ThreatBruteForce,
			Name:            "Brute Force Attack Detected",
			Description:     fmt.Sprintf("Brute force attack detected from %s (%d failed logins in %s)", ip, s.count, window),
			Severity:        alert.SeverityHigh,
			DetectedAt:      now,
			Status:          ThreatActive,
			AffectedUsers:   users,
			MitigationSteps: append([]string(nil), bruteForceSteps...),
			RiskScore:       75,
			SourceIP:        ip,
		})
	}
	return out
}

// RiskScore is min(100, round((critical*25 + high*15 + medium*10 +
// activeThreats*20) / max(1, totalEvents))).
func RiskScore(critical, high, medium, activeThreats, totalEvents int) int {
	weighted := float64(critical*25 + high*15 + medium*10 + activeThreats*20)
	return int(math.Min(100, math.Round(weighted/float64(max(1, totalEvents)))))
}

// ComputeMetrics derives the aggregate view. Hour buckets cover the
// calendar day of now in now's location.
func ComputeMetrics(events []Event, threats []Threat, now time.Time) Metrics {
	m := Metrics{
		TotalEvents:  len(events),
		EventsByType: make(map[EventType]int),
		EventsByHour: make([]HourCount, 24),
	}
	for h := range m.EventsByHour {
		m.EventsByHour[h].Hour = h
	}
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	sources := make(map[string]int)

	for _, ev := range events {
		switch ev.Severity {
		case alert.SeverityCritical:
			m.CriticalEvents++
		case alert.SeverityHigh:
			m.HighEvents++
		case alert.SeverityMedium:
			m.MediumEvents++
		default:
			m.LowEvents++
		}
		if ev.Resolved {
			m.ResolvedEvents++
		}
		m.EventsByType[ev.Type]++
		switch ev.Type {
		case EventUnauthorizedAccess:
			m.BlockedAttempts++
		case EventDataBreach:
			m.SuccessfulAttacks++
		}
		if ts := ev.Timestamp.In(now.Location()); !ts.Before(dayStart) && ts.Before(dayEnd) {
			m.EventsByHour[ts.Hour()].Count++
		}
		if ev.IPAddress != "" && ev.IPAddress != UnknownIP {
			sources[ev.IPAddress]++
		}
	}
	for _, th := range threats {
		if th.Status == ThreatActive {
			m.ActiveThreats++
		}
	}
	m.RiskScore = RiskScore(m.CriticalEvents, m.HighEvents, m.MediumEvents, m.ActiveThreats, m.TotalEvents)

	for ip, n := range sources {
		m.TopAttackSources = append(m.TopAttackSources, SourceCount{IP: ip, Count: n})
	}
	sort.Slice(m.TopAttackSources, func(i, j int) bool {
		a, b := m.TopAttackSources[i], m.TopAttackSources[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.IP < b.IP
	})
	if len(m.TopAttackSources) > 10 {
		m.TopAttackSources = m.TopAttackSources[:10]
	}
	return m
}
