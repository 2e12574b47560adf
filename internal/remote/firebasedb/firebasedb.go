// Package firebasedb implements remote.Store on Firebase Realtime Database
// through the Admin SDK.
package firebasedb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"reflect"
	"sync"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"firebase.google.com/go/v4/errorutils"
	"google.golang.org/api/option"

	"github.com/kamlesh9876/devium/internal/remote"
)

// Config selects the database and credentials.
type Config struct {
	DatabaseURL     string
	CredentialsFile string        // service account JSON; falls back to GOOGLE_APPLICATION_CREDENTIALS
	CredentialsJSON []byte        // takes precedence over CredentialsFile
	PollInterval    time.Duration // Subscribe polling period, default 2s
}

// NewApp initializes a Firebase app from cfg. The same app serves the
// database adapter and ID token verification.
func NewApp(ctx context.Context, cfg Config) (*firebase.App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("firebase database URL not set")
	}
	var opts []option.ClientOption
	switch {
	case len(cfg.CredentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "":
		opts = append(opts, option.WithCredentialsFile(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: cfg.DatabaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	return app, nil
}

// Store is a remote.Store backed by a Realtime Database client. The Admin
// SDK has no streaming listeners, so Subscribe polls.
type Store struct {
	client   *db.Client
	interval time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	cancels map[int]context.CancelFunc
	nextID  int
}

// New opens the database of app.
func New(ctx context.Context, app *firebase.App, pollInterval time.Duration) (*Store, error) {
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Store{
		client:   client,
		interval: pollInterval,
		logger:   log.New(os.Stderr, "firebasedb: ", log.LstdFlags),
		cancels:  make(map[int]context.CancelFunc),
	}, nil
}

func (s *Store) Subscribe(ctx context.Context, path string, fn remote.Listener) (func(), error) {
	if err := remote.ValidatePath(path); err != nil {
		return nil, err
	}
	first, err := s.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	pollCtx, cancelPoll := context.WithCancel(ctx)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.cancels[id] = cancelPoll
	s.mu.Unlock()

	fn(remote.Snapshot{Path: path, Value: first})

	go func() {
		last := first
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
			}
			cur, err := s.Get(pollCtx, path)
			if err != nil {
				if pollCtx.Err() == nil {
					s.logger.Printf("warning: poll %s: %v", path, err)
				}
				continue
			}
			if reflect.DeepEqual(cur, last) {
				continue
			}
			last = cur
			fn(remote.Snapshot{Path: path, Value: cur})
		}
	}()

	return func() {
		s.mu.Lock()
		delete(s.cancels, id)
		s.mu.Unlock()
		cancelPoll()
	}, nil
}

func (s *Store) Get(ctx context.Context, path string) (any, error) {
	var v any
	if err := s.client.NewRef(path).Get(ctx, &v); err != nil {
		return nil, classify("get", path, err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	if err := remote.ValidatePath(path); err != nil {
		return err
	}
	if err := s.client.NewRef(path).Set(ctx, value); err != nil {
		return classify("set", path, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := remote.ValidatePath(path); err != nil {
		return err
	}
	if err := s.client.NewRef(path).Update(ctx, fields); err != nil {
		return classify("update", path, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := remote.ValidatePath(path); err != nil {
		return err
	}
	if err := s.client.NewRef(path).Delete(ctx); err != nil {
		return classify("delete", path, err)
	}
	return nil
}

func (s *Store) MultiUpdate(ctx context.Context, updates map[string]any) error {
	for p := range updates {
		if err := remote.ValidatePath(p); err != nil {
			return err
		}
	}
	if err := s.client.NewRef("/").Update(ctx, updates); err != nil {
		return classify("multi-path update", "/", err)
	}
	return nil
}

func (s *Store) Push(ctx context.Context, path string, value any) (string, error) {
	if err := remote.ValidatePath(path); err != nil {
		return "", err
	}
	ref, err := s.client.NewRef(path).Push(ctx, value)
	if err != nil {
		return "", classify("push", path, err)
	}
	return ref.Key, nil
}

// Close stops every polling subscription.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
}

// classify maps SDK errors onto the remote error kinds.
func classify(op, path string, err error) error {
	switch {
	case errorutils.IsInvalidArgument(err), errorutils.IsPermissionDenied(err):
		return fmt.Errorf("%s %s: %w: %v", op, path, remote.ErrInvalid, err)
	default:
		return fmt.Errorf("%s %s: %w: %v", op, path, remote.ErrUnavailable, err)
	}
}
