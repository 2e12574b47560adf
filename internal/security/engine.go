package security

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/kamlesh9876/devium/internal/alert"
	"github.com/kamlesh9876/devium/internal/datasync"
	"github.com/kamlesh9876/devium/internal/identity"
	"github.com/kamlesh9876/devium/internal/pubsub"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid threat transition")
	ErrNoMitigationSteps = errors.New("mitigation requires at least one step")
)

// DefaultBlockDuration applies when BlockIP is given no duration.
const DefaultBlockDuration = time.Hour

// Config holds the engine's collaborators and tuning. Sync is required.
type Config struct {
	Sync                *datasync.Engine
	Identity            identity.Provider
	Notifier            alert.Notifier
	Scanners            []Scanner
	SweepInterval       time.Duration // default 30s
	SweepWindow         time.Duration // default 1h
	BruteForceThreshold int           // default 5
	UserAgent           string
	Logger              *log.Logger
	Now                 func() time.Time
}

// Engine owns the security collections.
type Engine struct {
	sync      *datasync.Engine
	ident     identity.Provider
	notifier  alert.Notifier
	scanners  []Scanner
	interval  time.Duration
	window    time.Duration
	threshold int
	userAgent string
	logger    *log.Logger
	now       func() time.Time

	mu          sync.Mutex
	subs        []string
	metrics     Metrics
	seenThreats map[string]bool
	alerted     map[string]bool

	threats pubsub.Registry[Threat]
}

// New creates an engine. Defaults are applied for zero-valued fields.
func New(cfg Config) *Engine {
	if cfg.Identity == nil {
		cfg.Identity = identity.Anonymous()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = alert.Discard
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.SweepWindow <= 0 {
		cfg.SweepWindow = time.Hour
	}
	if cfg.BruteForceThreshold <= 0 {
		cfg.BruteForceThreshold = 5
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "devsync"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "security: ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		sync:        cfg.Sync,
		ident:       cfg.Identity,
		notifier:    cfg.Notifier,
		scanners:    cfg.Scanners,
		interval:    cfg.SweepInterval,
		window:      cfg.SweepWindow,
		threshold:   cfg.BruteForceThreshold,
		userAgent:   cfg.UserAgent,
		logger:      cfg.Logger,
		now:         cfg.Now,
		seenThreats: make(map[string]bool),
		alerted:     make(map[string]bool),
	}
}

// Start subscribes to the event and threat collections. Every change
// recomputes the metrics.
func (e *Engine) Start(ctx context.Context) error {
	for _, coll := range []string{EventsCollection, ThreatsCollection} {
		id := e.sync.Subscribe(ctx, coll, func(datasync.Snapshot) { e.Refresh(ctx) })
		if id == "" {
			e.Close()
			return fmt.Errorf("subscribe %s: refused by store", coll)
		}
		e.mu.Lock()
		e.subs = append(e.subs, id)
		e.mu.Unlock()
	}
	return nil
}

// Close releases the subscriptions opened by Start.
func (e *Engine) Close() {
	e.mu.Lock()
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()
	for _, id := range subs {
		e.sync.Unsubscribe(id)
	}
}

// Events returns the cached events, newest first.
func (e *Engine) Events() []Event {
	docs := e.sync.CachedCollection(EventsCollection)
	out := make([]Event, 0, len(docs))
	for id, doc := range docs {
		out = append(out, EventFromPayload(id, doc))
	}
	sortEvents(out)
	return out
}

// Threats returns the cached threats, newest first.
func (e *Engine) Threats() []Threat {
	docs := e.sync.CachedCollection(ThreatsCollection)
	out := make([]Threat, 0, len(docs))
	for id, doc := range docs {
		out = append(out, ThreatFromPayload(id, doc))
	}
	sortThreats(out)
	return out
}

// Metrics returns the metrics of the last Refresh.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

// Refresh recomputes the metrics from the cache, fires OnThreat listeners
// for active threats not seen before and alerts on unresolved critical
// events and new threats.
func (e *Engine) Refresh(ctx context.Context) Metrics {
	events := e.Events()
	threats := e.Threats()
	m := ComputeMetrics(events, threats, e.now())

	var fresh []Threat
	var alerts []alert.Alert
	e.mu.Lock()
	e.metrics = m
	for _, th := range threats {
		if th.Status != ThreatActive || e.seenThreats[th.ID] {
			continue
		}
		e.seenThreats[th.ID] = true
		fresh = append(fresh, th)
		alerts = append(alerts, alert.Alert{
			Source:    "security",
			Key:       "security:threat:" + th.ID,
			Title:     "Security Threat Detected: " + th.Name,
			Message:   th.Description,
			Severity:  th.Severity,
			Broadcast: true,
			ActionURL: "/security",
		})
	}
	for _, ev := range events {
		if ev.Severity != alert.SeverityCritical || ev.Resolved || e.alerted[ev.ID] {
			continue
		}
		e.alerted[ev.ID] = true
		alerts = append(alerts, alert.Alert{
			Source:    "security",
			Key:       "security:event:" + ev.ID,
			Title:     "Critical security event",
			Message:   ev.Description,
			Severity:  alert.SeverityCritical,
			Broadcast: true,
			ActionURL: "/security",
		})
	}
	e.mu.Unlock()

	for _, th := range fresh {
		e.threats.Publish(th)
	}
	for _, a := range alerts {
		if err := e.notifier.Notify(ctx, a); err != nil {
			e.logger.Printf("warning: security alert %s: %v", a.Key, err)
		}
	}
	return m
}

// OnThreat registers fn for every active threat the first time it is
// observed.
func (e *Engine) OnThreat(fn func(Threat)) (dispose func()) {
	return e.threats.Add(fn)
}

// TrackEvent records ev and runs the per-event rules on it. It returns the
// new event id.
func (e *Engine) TrackEvent(ctx context.Context, ev Event) string {
	ev.Timestamp = e.now()
	ev.Resolved = false
	ev.FalsePositive = false
	if ev.IPAddress == "" {
		ev.IPAddress = UnknownIP
	}
	if ev.Severity == "" {
		ev.Severity = alert.SeverityLow
	}
	id := e.sync.Push(ctx, EventsCollection, eventPayload(ev))
	ev.ID = id

	if th := Analyze(ev, e.now()); th != nil {
		e.CreateThreat(ctx, *th)
		return id
	}
	e.Refresh(ctx)
	return id
}

// ReportSuspiciousActivity records a suspicious_activity event on behalf of
// the current user.
func (e *Engine) ReportSuspiciousActivity(ctx context.Context, description string, severity alert.Severity, details map[string]any) string {
	return e.TrackEvent(ctx, Event{
		Type:        EventSuspiciousActivity,
		Severity:    severity,
		UserID:      identity.UID(e.ident, ""),
		IPAddress:   UnknownIP,
		UserAgent:   e.userAgent,
		Description: description,
		Details:     details,
	})
}

// CreateThreat stores th as a new active threat and returns its id.
func (e *Engine) CreateThreat(ctx context.Context, th Threat) string {
	th.ID = uuid.Must(uuid.NewV7()).String()
	th.Status = ThreatActive
	if th.DetectedAt.IsZero() {
		th.DetectedAt = e.now()
	}
	e.sync.SyncData(ctx, ThreatsCollection, th.ID, threatPayload(th), datasync.Options{})
	e.Refresh(ctx)
	return th.ID
}

// ResolveEvent marks an event resolved, optionally as a false positive.
func (e *Engine) ResolveEvent(ctx context.Context, id string, falsePositive bool) error {
	if _, ok := e.sync.Cached(EventsCollection, id); !ok {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	e.sync.SyncData(ctx, EventsCollection, id, map[string]any{
		"resolved":      true,
		"resolvedAt":    e.now().UnixMilli(),
		"resolvedBy":    identity.UID(e.ident, "system"),
		"falsePositive": falsePositive,
	}, datasync.Options{Merge: true})
	e.Refresh(ctx)
	return nil
}

func (e *Engine) threat(id string) (Threat, error) {
	doc, ok := e.sync.Cached(ThreatsCollection, id)
	if !ok {
		return Threat{}, fmt.Errorf("threat %s: %w", id, ErrNotFound)
	}
	return ThreatFromPayload(id, doc), nil
}

// MitigateThreat moves an active threat to mitigated, recording the steps
// actually taken.
func (e *Engine) MitigateThreat(ctx context.Context, id string, steps []string) error {
	if len(steps) == 0 {
		return ErrNoMitigationSteps
	}
	th, err := e.threat(id)
	if err != nil {
		return err
	}
	if th.Status != ThreatActive {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, th.Status, ThreatMitigated)
	}
	e.sync.SyncData(ctx, ThreatsCollection, id, map[string]any{
		"status":       string(ThreatMitigated),
		"appliedSteps": stringList(steps),
		"mitigatedAt":  e.now().UnixMilli(),
		"mitigatedBy":  identity.UID(e.ident, "system"),
	}, datasync.Options{Merge: true})
	e.Refresh(ctx)
	return nil
}

// ResolveThreat moves an active or mitigated threat to resolved.
func (e *Engine) ResolveThreat(ctx context.Context, id string) error {
	th, err := e.threat(id)
	if err != nil {
		return err
	}
	if th.Status.rank() >= ThreatResolved.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, th.Status, ThreatResolved)
	}
	e.sync.SyncData(ctx, ThreatsCollection, id, map[string]any{
		"status":     string(ThreatResolved),
		"resolvedAt": e.now().UnixMilli(),
		"resolvedBy": identity.UID(e.ident, "system"),
	}, datasync.Options{Merge: true})
	e.Refresh(ctx)
	return nil
}

// BlockIP records a temporary block for ip.
func (e *Engine) BlockIP(ctx context.Context, ip string, duration time.Duration) error {
	ip = strings.TrimSpace(ip)
	if ip == "" || ip == UnknownIP {
		return fmt.Errorf("block ip: invalid address %q", ip)
	}
	if duration <= 0 {
		duration = DefaultBlockDuration
	}
	e.sync.SyncData(ctx, BlockedIPsCollection, ipKey(ip), map[string]any{
		"ipAddress": ip,
		"blockedAt": e.now().UnixMilli(),
		"duration":  duration.Milliseconds(),
		"blockedBy": identity.UID(e.ident, "system"),
	}, datasync.Options{})
	return nil
}

// IsBlocked reports whether ip has an unexpired block in the cache.
func (e *Engine) IsBlocked(ip string) bool {
	doc, ok := e.sync.Cached(BlockedIPsCollection, ipKey(ip))
	if !ok {
		return false
	}
	at, _ := toFloat(doc["blockedAt"])
	dur, _ := toFloat(doc["duration"])
	until := time.UnixMilli(int64(at)).Add(time.Duration(dur) * time.Millisecond)
	return e.now().Before(until)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// ipKey turns an address into a legal document key.
func ipKey(ip string) string {
	return strings.NewReplacer(".", "_", ":", "_", "/", "_").Replace(ip)
}

// Sweep runs the brute force detector over the cached events and records
// a threat per offending address.
func (e *Engine) Sweep(ctx context.Context) []Threat {
	found := BruteForceSweep(e.Events(), e.now(), e.window, e.threshold)
	for i := range found {
		found[i].ID = e.CreateThreat(ctx, found[i])
	}
	return found
}

// RunScan runs every scanner and records their findings. Scanner failures
// are collected; the other scanners still run.
func (e *Engine) RunScan(ctx context.Context) ([]string, error) {
	var ids []string
	var result *multierror.Error
	for _, s := range e.scanners {
		events, err := s.Scan(ctx)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("scanner %s: %w", s.Name(), err))
		}
		for _, ev := range events {
			if ev.IPAddress == "" {
				ev.IPAddress = "scan.local"
			}
			if ev.UserAgent == "" {
				ev.UserAgent = "Security Scanner"
			}
			ids = append(ids, e.TrackEvent(ctx, ev))
		}
	}
	return ids, result.ErrorOrNil()
}

// Run sweeps every interval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if found := e.Sweep(ctx); len(found) > 0 {
				e.logger.Printf("warning: sweep found %d brute force source(s)", len(found))
			}
		}
	}
}
