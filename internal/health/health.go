// Package health runs periodic checks against the store and the sync
// engine and publishes an overall status.
package health

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kamlesh9876/devium/internal/alert"
	"github.com/kamlesh9876/devium/internal/datasync"
	"github.com/kamlesh9876/devium/internal/remote"
)

// Remote location of the published report.
const (
	Collection = "systemHealth"
	DocumentID = "current"
)

// CheckStatus is the outcome of one probe.
type CheckStatus string

const (
	CheckOK      CheckStatus = "ok"
	CheckWarning CheckStatus = "warning"
	CheckError   CheckStatus = "error"
)

// Status is the overall health.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Check is the result of one probe. Score is 0..100.
type Check struct {
	Name      string      `json:"name"`
	Status    CheckStatus `json:"status"`
	Score     int         `json:"score"`
	Value     float64     `json:"value"`
	Detail    string      `json:"detail,omitempty"`
	LastCheck time.Time   `json:"lastCheck"`
}

// Report is one health run.
type Report struct {
	Status       Status           `json:"status"`
	OverallScore float64          `json:"overallScore"`
	Checks       map[string]Check `json:"checks"`
	LastUpdated  time.Time        `json:"lastUpdated"`
}

// Probe measures one aspect of the system.
type Probe interface {
	Name() string
	Check(ctx context.Context) Check
}

// StatusFor maps a mean score onto a status.
func StatusFor(score float64) Status {
	switch {
	case score >= 80:
		return StatusHealthy
	case score >= 50:
		return StatusWarning
	}
	return StatusCritical
}

// Config holds the monitor's collaborators. Sync is required; when Probes
// is empty the default probes are used.
type Config struct {
	Sync     *datasync.Engine
	Store    remote.Store
	Probes   []Probe
	Notifier alert.Notifier
	Interval time.Duration // default 60s
	Logger   *log.Logger
	Now      func() time.Time
}

// Monitor runs probes and publishes reports.
type Monitor struct {
	sync     *datasync.Engine
	probes   []Probe
	notifier alert.Notifier
	interval time.Duration
	logger   *log.Logger
	now      func() time.Time

	mu   sync.RWMutex
	last Report
}

// New creates a monitor.
func New(cfg Config) *Monitor {
	if cfg.Notifier == nil {
		cfg.Notifier = alert.Discard
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "health: ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.Probes) == 0 {
		cfg.Probes = DefaultProbes(cfg.Store, cfg.Sync, cfg.Now)
	}
	return &Monitor{
		sync:     cfg.Sync,
		probes:   cfg.Probes,
		notifier: cfg.Notifier,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// RunOnce runs every probe concurrently, publishes the report and alerts
// when the system is critical. Overlapping runs are allowed; the last
// write wins.
func (m *Monitor) RunOnce(ctx context.Context) Report {
	checks := make([]Check, len(m.probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range m.probes {
		i, p := i, p
		g.Go(func() error {
			c := p.Check(gctx)
			c.Name = p.Name()
			if c.LastCheck.IsZero() {
				c.LastCheck = m.now()
			}
			checks[i] = c
			return nil
		})
	}
	_ = g.Wait()

	r := Report{Checks: make(map[string]Check, len(checks)), LastUpdated: m.now()}
	total := 0
	for _, c := range checks {
		r.Checks[c.Name] = c
		total += c.Score
	}
	if len(checks) > 0 {
		r.OverallScore = float64(total) / float64(len(checks))
	}
	r.Status = StatusFor(r.OverallScore)

	m.mu.Lock()
	m.last = r
	m.mu.Unlock()

	if m.sync != nil {
		m.sync.SyncData(ctx, Collection, DocumentID, payload(r), datasync.Options{})
	}
	if r.Status == StatusCritical {
		a := alert.Alert{
			Source:    "health",
			Key:       "health:critical",
			Title:     "System health critical",
			Message:   fmt.Sprintf("Overall health score %.0f: %s", r.OverallScore, failing(r)),
			Severity:  alert.SeverityCritical,
			Broadcast: true,
			ActionURL: "/monitoring",
		}
		if err := m.notifier.Notify(ctx, a); err != nil {
			m.logger.Printf("warning: health alert: %v", err)
		}
	}
	return r
}

func failing(r Report) string {
	var names []string
	for name, c := range r.Checks {
		if c.Status == CheckError {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "no single check failing"
	}
	sort.Strings(names)
	return fmt.Sprintf("failing checks %v", names)
}

func payload(r Report) map[string]any {
	checks := make(map[string]any, len(r.Checks))
	for name, c := range r.Checks {
		checks[name] = map[string]any{
			"status":    string(c.Status),
			"score":     c.Score,
			"value":     c.Value,
			"detail":    c.Detail,
			"lastCheck": c.LastCheck.UTC().Format(time.RFC3339),
		}
	}
	return map[string]any{
		"status":       string(r.Status),
		"overallScore": r.OverallScore,
		"checks":       checks,
		"lastUpdated":  r.LastUpdated.UTC().Format(time.RFC3339),
	}
}

// Last returns the most recent report.
func (m *Monitor) Last() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Run checks once immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.RunOnce(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// DefaultProbes returns the standard checks. Probes whose collaborator is
// nil are left out.
func DefaultProbes(store remote.Store, eng *datasync.Engine, now func() time.Time) []Probe {
	var probes []Probe
	if store != nil {
		probes = append(probes, StoreLatency{Store: store}, Sessions{Store: store})
	}
	probes = append(probes, Memory{})
	if eng != nil {
		probes = append(probes, SyncErrors{Sync: eng, Now: now}, Backlog{Sync: eng})
	}
	return probes
}

// StoreLatency times a read of the connection marker.
type StoreLatency struct {
	Store remote.Store
	Path  string // default systemHealth
}

func (StoreLatency) Name() string { return "store" }

func (p StoreLatency) Check(ctx context.Context) Check {
	path := p.Path
	if path == "" {
		path = Collection
	}
	start := time.Now()
	_, err := p.Store.Get(ctx, path)
	latency := time.Since(start)
	if err != nil {
		return Check{Status: CheckError, Score: 0, Detail: err.Error()}
	}
	ms := float64(latency.Milliseconds())
	c := Check{Status: CheckOK, Value: ms}
	switch {
	case latency < 500*time.Millisecond:
		c.Score = 100
	case latency < time.Second:
		c.Score = 70
		c.Status = CheckWarning
	default:
		c.Score = 30
		c.Status = CheckError
	}
	return c
}

// Memory reports heap usage as a share of the heap obtained from the OS.
type Memory struct{}

func (Memory) Name() string { return "memory" }

func (Memory) Check(context.Context) Check {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	usage := 0.0
	if ms.HeapSys > 0 {
		usage = float64(ms.HeapAlloc) / float64(ms.HeapSys) * 100
	}
	return MemoryCheck(usage)
}

// MemoryCheck scores a usage percentage.
func MemoryCheck(usage float64) Check {
	c := Check{Value: usage}
	switch {
	case usage < 50:
		c.Score, c.Status = 100, CheckOK
	case usage < 70:
		c.Score, c.Status = 80, CheckWarning
	case usage < 85:
		c.Score, c.Status = 50, CheckWarning
	default:
		c.Score, c.Status = 20, CheckError
	}
	return c
}

// CountCheck scores a backlog: none is ideal, five or more is an error.
func CountCheck(n int) Check {
	c := Check{Value: float64(n)}
	switch {
	case n == 0:
		c.Score, c.Status = 100, CheckOK
	case n < 3:
		c.Score, c.Status = 80, CheckWarning
	case n < 5:
		c.Score, c.Status = 50, CheckWarning
	default:
		c.Score, c.Status = 20, CheckError
	}
	return c
}

// SyncErrors counts sync errors recorded in the last hour.
type SyncErrors struct {
	Sync *datasync.Engine
	Now  func() time.Time
}

func (SyncErrors) Name() string { return "errors" }

func (p SyncErrors) Check(context.Context) Check {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	since := now().Add(-time.Hour)
	n := 0
	for _, e := range p.Sync.Errors() {
		if e.Time.After(since) {
			n++
		}
	}
	return CountCheck(n)
}

// Backlog counts writes waiting for replay.
type Backlog struct {
	Sync *datasync.Engine
}

func (Backlog) Name() string { return "outbox" }

func (p Backlog) Check(ctx context.Context) Check {
	c := CountCheck(len(p.Sync.PendingOperations(ctx)))
	if dead := len(p.Sync.DeadLetters(ctx)); dead > 0 {
		c.Detail = fmt.Sprintf("%d dead letter(s)", dead)
	}
	return c
}

// Sessions counts users whose session is online.
type Sessions struct {
	Store remote.Store
}

func (Sessions) Name() string { return "users" }

func (p Sessions) Check(ctx context.Context) Check {
	v, err := p.Store.Get(ctx, "sessions")
	if err != nil {
		return Check{Status: CheckError, Score: 0, Detail: err.Error()}
	}
	active := 0
	if sessions, ok := v.(map[string]any); ok {
		for _, s := range sessions {
			if doc, ok := s.(map[string]any); ok && doc["status"] == "online" {
				active++
			}
		}
	}
	if active > 0 {
		return Check{Status: CheckOK, Score: 100, Value: float64(active)}
	}
	return Check{Status: CheckWarning, Score: 50}
}
