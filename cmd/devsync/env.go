package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/kamlesh9876/devium/internal/alert"
	"github.com/kamlesh9876/devium/internal/audit"
	"github.com/kamlesh9876/devium/internal/config"
	"github.com/kamlesh9876/devium/internal/dashboard"
	"github.com/kamlesh9876/devium/internal/datasync"
	"github.com/kamlesh9876/devium/internal/identity"
	"github.com/kamlesh9876/devium/internal/outbox"
	"github.com/kamlesh9876/devium/internal/remote"
	"github.com/kamlesh9876/devium/internal/remote/firebasedb"
	"github.com/kamlesh9876/devium/internal/security"
	"github.com/kamlesh9876/devium/internal/ui"
)

// env is everything one command invocation needs, opened from config.
type env struct {
	cfg    *config.Config
	source string
	store  remote.Store
	fb     *firebasedb.Store
	mem    *remote.Memory
	queue  outbox.Queue
	mongo  *audit.Mongo
	sync   *datasync.Engine
	svc    *dashboard.Service
	stream *ui.Stream
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagSnapshot != "" {
		cfg.Store.Snapshot = flagSnapshot
	}
	return cfg, nil
}

// openEnv connects the store, queue, audit sinks and identity, and builds
// the dashboard service. The service is not started. With streamAlerts set,
// every accepted alert is also written to stderr.
func openEnv(ctx context.Context, streamAlerts bool) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, stream: ui.NewStream(os.Stderr)}
	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	ident, err := e.openStore(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.Outbox.Path != "" {
		q, err := outbox.OpenSQLite(cfg.Outbox.Path)
		if err != nil {
			return nil, fmt.Errorf("open outbox: %w", err)
		}
		e.queue = q
	} else {
		e.queue = outbox.NewMemory()
	}

	sink, err := e.openAudit(ctx)
	if err != nil {
		return nil, err
	}

	logger := log.New(os.Stderr, "devsync: ", log.LstdFlags)
	e.sync = datasync.New(datasync.Config{
		Store:     e.store,
		Queue:     e.queue,
		Identity:  ident,
		Audit:     sink,
		MaxErrors: cfg.Sync.MaxErrors,
		Offline:   cfg.Sync.Offline,
		Logger:    logger,
	})

	var alerter *termAlerter
	if cfg.Notify.Desktop {
		alerter = &termAlerter{stream: e.stream}
	}
	dcfg := dashboard.Config{
		Sync:                e.sync,
		Store:               e.store,
		Identity:            ident,
		Scanners:            []security.Scanner{security.NewPatternScanner(security.DocumentSource(e.sync, cfg.Security.ScanCollections))},
		OverloadThreshold:   cfg.Workload.OverloadThreshold,
		SweepInterval:       cfg.Security.SweepInterval,
		SweepWindow:         cfg.Security.SweepWindow,
		BruteForceThreshold: cfg.Security.BruteForceThreshold,
		HealthInterval:      cfg.Health.Interval,
		NotifyRate:          cfg.Notify.Rate,
		NotifyBurst:         cfg.Notify.Burst,
		DedupTTL:            cfg.Notify.DedupTTL,
		DedupSize:           cfg.Notify.DedupSize,
		Logger:              logger,
	}
	if alerter != nil {
		dcfg.Alerter = alerter
	}
	if streamAlerts {
		dcfg.OnAlert = func(a alert.Alert) {
			e.stream.Alert(string(a.Severity), a.Title, a.Message)
		}
	}
	e.svc = dashboard.New(dcfg)
	ok = true
	return e, nil
}

func (e *env) openStore(ctx context.Context) (identity.Provider, error) {
	cfg := e.cfg
	var ident identity.Provider = identity.Anonymous()
	if cfg.Identity.UID != "" {
		ident = identity.NewStatic(cfg.Identity.User)
	}

	if cfg.UseSnapshot() {
		m := remote.NewMemory()
		e.source = "memory"
		if cfg.Store.Snapshot != "" {
			data, err := os.ReadFile(cfg.Store.Snapshot)
			if err != nil {
				return nil, fmt.Errorf("read snapshot: %w", err)
			}
			var tree map[string]any
			if err := json.Unmarshal(data, &tree); err != nil {
				return nil, fmt.Errorf("parse snapshot: %w", err)
			}
			if err := m.Load(tree); err != nil {
				return nil, fmt.Errorf("load snapshot: %w", err)
			}
			e.source = cfg.Store.Snapshot
		}
		e.store = m
		e.mem = m
		return ident, nil
	}

	app, err := firebasedb.NewApp(ctx, firebasedb.Config{
		DatabaseURL:     cfg.Store.DatabaseURL,
		CredentialsFile: cfg.Store.CredentialsFile,
		PollInterval:    cfg.Store.PollInterval,
	})
	if err != nil {
		return nil, err
	}
	fb, err := firebasedb.New(ctx, app, cfg.Store.PollInterval)
	if err != nil {
		return nil, err
	}
	e.fb = fb
	e.store = fb
	e.source = cfg.Store.DatabaseURL

	if cfg.Identity.IDToken != "" {
		client, err := app.Auth(ctx)
		if err != nil {
			return nil, fmt.Errorf("init auth client: %w", err)
		}
		u, err := identity.FromIDToken(ctx, client, cfg.Identity.IDToken)
		if err != nil {
			return nil, err
		}
		ident = identity.NewStatic(u)
	}
	return ident, nil
}

func (e *env) openAudit(ctx context.Context) (datasync.AuditSink, error) {
	cfg := e.cfg.Audit
	var sinks audit.Multi
	if cfg.Sink == config.AuditRemote || cfg.Sink == config.AuditBoth {
		sinks = append(sinks, audit.Remote{Store: e.store})
	}
	if cfg.Sink == config.AuditMongo || cfg.Sink == config.AuditBoth {
		m, err := audit.ConnectMongo(ctx, cfg.MongoURI, cfg.Database, cfg.Collection)
		if err != nil {
			return nil, err
		}
		e.mongo = m
		sinks = append(sinks, m)
	}
	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	}
	return sinks, nil
}

// start opens the service subscriptions.
func (e *env) start(ctx context.Context) error {
	if err := e.svc.Start(ctx); err != nil {
		return fmt.Errorf("start dashboard: %w", err)
	}
	return nil
}

// saveSnapshot writes the in-memory store back to the snapshot file it was
// loaded from. It does nothing against a live database.
func (e *env) saveSnapshot() error {
	if e.mem == nil || e.cfg.Store.Snapshot == "" {
		return nil
	}
	data, err := json.MarshalIndent(e.mem.Export(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(e.cfg.Store.Snapshot, data, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Close releases everything openEnv acquired.
func (e *env) Close() {
	if e.svc != nil {
		e.svc.Close()
	}
	if e.sync != nil {
		e.sync.Close()
	}
	if e.queue != nil {
		if err := e.queue.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "%s close outbox: %v\n", ui.Yellow("⚠️  Warning:"), err)
		}
	}
	if e.mongo != nil {
		if err := e.mongo.Close(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "%s close audit: %v\n", ui.Yellow("⚠️  Warning:"), err)
		}
	}
	if e.fb != nil {
		e.fb.Close()
	}
}

// termAlerter shows feed notifications for the signed-in user on the
// terminal.
type termAlerter struct {
	stream *ui.Stream
}

func (a *termAlerter) Alert(title, message string) error {
	a.stream.Alert("info", "🔔 "+title, message)
	return nil
}
