// Package config loads devsync settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kamlesh9876/devium/internal/identity"
)

// DefaultFile is read when no path is given and it exists.
const DefaultFile = "devsync.yaml"

// Audit sink selections.
const (
	AuditRemote = "remote"
	AuditMongo  = "mongo"
	AuditBoth   = "both"
	AuditNone   = "none"
)

type Config struct {
	Store    Store    `yaml:"store"`
	Outbox   Outbox   `yaml:"outbox"`
	Audit    Audit    `yaml:"audit"`
	Identity Identity `yaml:"identity"`
	Sync     Sync     `yaml:"sync"`
	Security Security `yaml:"security"`
	Health   Health   `yaml:"health"`
	Notify   Notify   `yaml:"notify"`
	Workload Workload `yaml:"workload"`
	Claude   Claude   `yaml:"claude"`
}

// Store selects the remote database. Snapshot, when set, loads a JSON
// export into an in-memory store instead.
type Store struct {
	DatabaseURL     string        `yaml:"databaseUrl"`
	CredentialsFile string        `yaml:"credentialsFile"`
	PollInterval    time.Duration `yaml:"pollInterval"`
	Snapshot        string        `yaml:"snapshot"`
}

// Outbox selects where offline writes are queued. An empty path keeps them
// in memory.
type Outbox struct {
	Path string `yaml:"path"`
}

type Audit struct {
	Sink       string `yaml:"sink"` // remote, mongo, both, none
	MongoURI   string `yaml:"mongoUri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// Identity is the user devsync acts as. IDToken, when set, is verified
// against Firebase Auth and replaces the static fields.
type Identity struct {
	identity.User `yaml:",inline"`
	IDToken       string `yaml:"idToken"`
}

type Sync struct {
	MaxErrors int  `yaml:"maxErrors"`
	Offline   bool `yaml:"offline"`
}

type Security struct {
	SweepInterval       time.Duration `yaml:"sweepInterval"`
	SweepWindow         time.Duration `yaml:"sweepWindow"`
	BruteForceThreshold int           `yaml:"bruteForceThreshold"`
	// ScanCollections are task-like collections whose text fields the
	// pattern scanner inspects.
	ScanCollections []string `yaml:"scanCollections"`
}

type Health struct {
	Interval time.Duration `yaml:"interval"`
}

type Notify struct {
	Rate      float64       `yaml:"rate"`
	Burst     int           `yaml:"burst"`
	DedupTTL  time.Duration `yaml:"dedupTtl"`
	DedupSize int           `yaml:"dedupSize"`
	Desktop   bool          `yaml:"desktop"`
}

type Workload struct {
	OverloadThreshold int `yaml:"overloadThreshold"`
}

type Claude struct {
	Model string `yaml:"model"`
}

// Load reads path, applies environment overrides and fills defaults. An
// empty path reads DefaultFile when present and otherwise starts from
// defaults alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("DEVSYNC_FIREBASE_URL")); v != "" {
		c.Store.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")); v != "" && c.Store.CredentialsFile == "" {
		c.Store.CredentialsFile = v
	}
	if v := strings.TrimSpace(os.Getenv("DEVSYNC_OUTBOX")); v != "" {
		c.Outbox.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("DEVSYNC_MONGO_URI")); v != "" {
		c.Audit.MongoURI = v
		if c.Audit.Sink == "" {
			c.Audit.Sink = AuditBoth
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEVSYNC_ID_TOKEN")); v != "" {
		c.Identity.IDToken = v
	}
}

func (c *Config) applyDefaults() {
	if c.Store.PollInterval <= 0 {
		c.Store.PollInterval = 2 * time.Second
	}
	if c.Audit.Sink == "" {
		c.Audit.Sink = AuditRemote
	}
	if c.Audit.Database == "" {
		c.Audit.Database = "devsync"
	}
	if c.Audit.Collection == "" {
		c.Audit.Collection = "syncEvents"
	}
	if c.Identity.Role == "" && c.Identity.UID != "" {
		c.Identity.Role = "member"
	}
	if c.Sync.MaxErrors <= 0 {
		c.Sync.MaxErrors = 50
	}
	if c.Security.SweepInterval <= 0 {
		c.Security.SweepInterval = 30 * time.Second
	}
	if c.Security.SweepWindow <= 0 {
		c.Security.SweepWindow = time.Hour
	}
	if c.Security.BruteForceThreshold <= 0 {
		c.Security.BruteForceThreshold = 5
	}
	if len(c.Security.ScanCollections) == 0 {
		c.Security.ScanCollections = []string{"tasks"}
	}
	if c.Health.Interval <= 0 {
		c.Health.Interval = time.Minute
	}
	if c.Notify.Rate <= 0 {
		c.Notify.Rate = 5
	}
	if c.Notify.Burst <= 0 {
		c.Notify.Burst = 10
	}
	if c.Notify.DedupTTL <= 0 {
		c.Notify.DedupTTL = 10 * time.Minute
	}
	if c.Notify.DedupSize <= 0 {
		c.Notify.DedupSize = 512
	}
	if c.Workload.OverloadThreshold <= 0 {
		c.Workload.OverloadThreshold = 80
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Audit.Sink {
	case AuditRemote, AuditNone:
	case AuditMongo, AuditBoth:
		if c.Audit.MongoURI == "" {
			return fmt.Errorf("audit sink %q needs audit.mongoUri or DEVSYNC_MONGO_URI", c.Audit.Sink)
		}
	default:
		return fmt.Errorf("unknown audit sink %q", c.Audit.Sink)
	}
	if c.Workload.OverloadThreshold > 100 {
		return fmt.Errorf("workload.overloadThreshold must be at most 100, got %d", c.Workload.OverloadThreshold)
	}
	return nil
}

// UseSnapshot reports whether the in-memory store should be used.
func (c *Config) UseSnapshot() bool {
	return c.Store.Snapshot != "" || c.Store.DatabaseURL == ""
}
