// Package dashboard wires the sync engine to the analytics engines and
// keeps their derived state current as remote data changes.
package dashboard

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kamlesh9876/devium/internal/alert"
	"github.com/kamlesh9876/devium/internal/bottleneck"
	"github.com/kamlesh9876/devium/internal/datasync"
	"github.com/kamlesh9876/devium/internal/graph"
	"github.com/kamlesh9876/devium/internal/health"
	"github.com/kamlesh9876/devium/internal/identity"
	"github.com/kamlesh9876/devium/internal/notify"
	"github.com/kamlesh9876/devium/internal/remote"
	"github.com/kamlesh9876/devium/internal/security"
	"github.com/kamlesh9876/devium/internal/state"
	"github.com/kamlesh9876/devium/internal/tasks"
	"github.com/kamlesh9876/devium/internal/workload"
)

// Config holds the service's collaborators and tuning. Sync is required.
// Store, when set, is probed by the health monitor.
type Config struct {
	Sync     *datasync.Engine
	Store    remote.Store
	Identity identity.Provider
	Alerter  notify.Alerter
	Scanners []security.Scanner

	// OnAlert, when set, sees every alert the notification service accepts.
	OnAlert func(alert.Alert)

	OverloadThreshold   int
	SweepInterval       time.Duration
	SweepWindow         time.Duration
	BruteForceThreshold int
	HealthInterval      time.Duration
	NotifyRate          float64
	NotifyBurst         int
	DedupTTL            time.Duration
	DedupSize           int

	Logger *log.Logger
	Now    func() time.Time
}

// Service owns one instance of every engine.
type Service struct {
	sync     *datasync.Engine
	tasks    *tasks.Repository
	notify   *notify.Service
	balancer *workload.Balancer
	analyzer *bottleneck.Analyzer
	security *security.Engine
	health   *health.Monitor
	logger   *log.Logger
	now      func() time.Time

	mu      sync.Mutex
	subs    []string
	members []workload.Member
}

// New creates a service and its engines. Nothing is subscribed until Start.
func New(cfg Config) *Service {
	if cfg.Identity == nil {
		cfg.Identity = identity.Anonymous()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "dashboard: ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Service{
		sync:   cfg.Sync,
		tasks:  tasks.New(cfg.Sync),
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	s.notify = notify.New(notify.Config{
		Sync:      cfg.Sync,
		Identity:  cfg.Identity,
		Alerter:   cfg.Alerter,
		OnDeliver: cfg.OnAlert,
		Rate:      cfg.NotifyRate,
		Burst:     cfg.NotifyBurst,
		DedupTTL:  cfg.DedupTTL,
		DedupSize: cfg.DedupSize,
		Logger:    cfg.Logger,
		Now:       cfg.Now,
	})
	notifier := s.notify

	s.balancer = workload.NewBalancer(s.tasks, notifier, cfg.OverloadThreshold, cfg.Logger)
	s.analyzer = bottleneck.NewAnalyzer(notifier, cfg.Logger)
	s.security = security.New(security.Config{
		Sync:                cfg.Sync,
		Identity:            cfg.Identity,
		Notifier:            notifier,
		Scanners:            cfg.Scanners,
		SweepInterval:       cfg.SweepInterval,
		SweepWindow:         cfg.SweepWindow,
		BruteForceThreshold: cfg.BruteForceThreshold,
		Logger:              cfg.Logger,
		Now:                 cfg.Now,
	})
	s.health = health.New(health.Config{
		Sync:     cfg.Sync,
		Store:    cfg.Store,
		Notifier: notifier,
		Interval: cfg.HealthInterval,
		Logger:   cfg.Logger,
		Now:      cfg.Now,
	})
	return s
}

// Start subscribes to tasks, users, security and notification data. Every
// task or user change recomputes workload and bottlenecks.
func (s *Service) Start(ctx context.Context) error {
	id := s.sync.Subscribe(ctx, workload.UsersCollection, func(snap datasync.Snapshot) {
		members := workload.MembersFromDocs(snap.Docs())
		s.mu.Lock()
		s.members = members
		s.mu.Unlock()
		s.recompute(ctx, s.tasks.List())
	})
	if id == "" {
		return fmt.Errorf("subscribe %s: refused by store", workload.UsersCollection)
	}
	s.track(id)

	id = s.tasks.Watch(ctx, func(ts []graph.Task) { s.recompute(ctx, ts) })
	if id == "" {
		s.Close()
		return fmt.Errorf("subscribe %s: refused by store", tasks.Collection)
	}
	s.track(id)

	if err := s.security.Start(ctx); err != nil {
		s.Close()
		return fmt.Errorf("start security: %w", err)
	}
	if err := s.notify.Start(ctx); err != nil {
		s.Close()
		return fmt.Errorf("start notifications: %w", err)
	}
	return nil
}

func (s *Service) track(id string) {
	s.mu.Lock()
	s.subs = append(s.subs, id)
	s.mu.Unlock()
}

func (s *Service) recompute(ctx context.Context, ts []graph.Task) {
	s.mu.Lock()
	members := append([]workload.Member(nil), s.members...)
	s.mu.Unlock()
	s.balancer.Recompute(ctx, members, ts)
	s.analyzer.Recompute(ctx, ts)
}

// Run drives the periodic work: the brute force sweep and health checks.
// It returns when ctx is done or a loop fails.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.security.Run(gctx) })
	g.Go(func() error { return s.health.Run(gctx) })
	return g.Wait()
}

// SetOnline forwards a connectivity change to the sync engine.
func (s *Service) SetOnline(ctx context.Context, online bool) {
	s.sync.SetOnline(ctx, online)
}

// Close releases every subscription.
func (s *Service) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, id := range subs {
		s.sync.Unsubscribe(id)
	}
	s.security.Close()
	s.notify.Close()
}

// Tasks returns the task repository.
func (s *Service) Tasks() *tasks.Repository {
	return s.tasks
}

func (s *Service) Workload() *workload.Balancer {
	return s.balancer
}

func (s *Service) Bottlenecks() *bottleneck.Analyzer {
	return s.analyzer
}

func (s *Service) Security() *security.Engine {
	return s.security
}

func (s *Service) Notifications() *notify.Service {
	return s.notify
}

func (s *Service) Health() *health.Monitor {
	return s.health
}

func (s *Service) Sync() *datasync.Engine {
	return s.sync
}

// Snapshot is a point-in-time view of every engine.
type Snapshot struct {
	GeneratedAt   time.Time          `json:"generatedAt"`
	Tasks         int                `json:"tasks"`
	OpenTasks     int                `json:"openTasks"`
	Bottlenecks   *bottleneck.Report `json:"bottlenecks"`
	Workload      []workload.Metric  `json:"workload"`
	Overloaded    []workload.Metric  `json:"overloaded,omitempty"`
	Security      security.Metrics   `json:"security"`
	ActiveThreats []security.Threat  `json:"activeThreats,omitempty"`
	Health        health.Report      `json:"health"`
	Sync          datasync.Status    `json:"sync"`
	Unread        int                `json:"unreadNotifications"`
}

// Snapshot collects the latest results. Bottlenecks are computed on demand
// when no task change has been observed yet.
func (s *Service) Snapshot(ctx context.Context) Snapshot {
	ts := s.tasks.List()
	snap := Snapshot{
		GeneratedAt: s.now(),
		Tasks:       len(ts),
		Bottlenecks: s.analyzer.Latest(),
		Workload:    s.balancer.Metrics(),
		Security:    s.security.Metrics(),
		Health:      s.health.Last(),
		Sync:        s.sync.Status(ctx),
		Unread:      s.notify.UnreadCount(),
	}
	for _, t := range ts {
		if !t.IsDone() {
			snap.OpenTasks++
		}
	}
	if snap.Bottlenecks == nil {
		snap.Bottlenecks = bottleneck.Analyze(ts, snap.GeneratedAt)
	}
	snap.Overloaded = workload.Overloaded(snap.Workload, s.balancer.Threshold())
	for _, th := range s.security.Threats() {
		if th.Status == security.ThreatActive {
			snap.ActiveThreats = append(snap.ActiveThreats, th)
		}
	}
	return snap
}

// Persist records the snapshot in st.
func (snap Snapshot) Persist(st *state.SyncState) error {
	return st.Update(func(st *state.SyncState) {
		st.Online = snap.Sync.Online
		st.Pending = snap.Sync.PendingOperations
		st.DeadLetter = snap.Sync.DeadLetters
		st.SyncErrors = len(snap.Sync.Errors)
		st.LastSync = nil
		if !snap.Sync.LastSyncTime.IsZero() {
			t := snap.Sync.LastSyncTime
			st.LastSync = &t
		}
		st.Tasks = snap.Tasks
		st.OpenTasks = snap.OpenTasks
		st.Bottlenecks = 0
		st.CriticalPath = nil
		if snap.Bottlenecks != nil {
			st.Bottlenecks = len(snap.Bottlenecks.Bottlenecks)
			st.CriticalPath = snap.Bottlenecks.CriticalPath
		}
		st.Overloaded = nil
		for _, m := range snap.Overloaded {
			st.Overloaded = append(st.Overloaded, m.UserID)
		}
		st.ActiveThreats = snap.Security.ActiveThreats
		st.RiskScore = snap.Security.RiskScore
		st.Health = string(snap.Health.Status)
		st.HealthScore = snap.Health.OverallScore
	})
}
