package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const stateDir = ".devsync"
const stateFile = "state.json"

// WatchStatus is the lifecycle of a watch process.
type WatchStatus string

const (
	StatusWatching WatchStatus = "watching"
	StatusStopped  WatchStatus = "stopped"
	StatusFailed   WatchStatus = "failed"
)

// SyncState is the persisted view of the last known sync and analysis
// results, written by `devsync watch` and read by `devsync status`.
type SyncState struct {
	Source     string      `json:"source"` // database URL or snapshot file
	StartedAt  time.Time   `json:"started_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Status     WatchStatus `json:"status"`
	PID        int         `json:"pid,omitempty"`
	Online     bool        `json:"online"`
	LastSync   *time.Time  `json:"last_sync,omitempty"`
	Pending    int         `json:"pending_operations"`
	DeadLetter int         `json:"dead_letters"`
	SyncErrors int         `json:"sync_errors"`

	Tasks         int      `json:"tasks"`
	OpenTasks     int      `json:"open_tasks"`
	Bottlenecks   int      `json:"bottlenecks"`
	CriticalPath  []string `json:"critical_path,omitempty"`
	Overloaded    []string `json:"overloaded,omitempty"`
	ActiveThreats int      `json:"active_threats"`
	RiskScore     int      `json:"risk_score"`
	Health        string   `json:"health,omitempty"`
	HealthScore   float64  `json:"health_score"`

	mu   sync.Mutex
	path string
}

// New creates a new SyncState and persists it.
func New(source string) (*SyncState, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	now := time.Now()
	s := &SyncState{
		Source:    source,
		StartedAt: now,
		UpdatedAt: now,
		Status:    StatusWatching,
		PID:       os.Getpid(),
		path:      filepath.Join(stateDir, stateFile),
	}

	if err := s.Save(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads existing state from disk.
func Load() (*SyncState, error) {
	path := filepath.Join(stateDir, stateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s SyncState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	s.path = path
	return &s, nil
}

// Exists checks if a state file exists.
func Exists() bool {
	_, err := os.Stat(filepath.Join(stateDir, stateFile))
	return err == nil
}

// Save persists the current state to disk.
func (s *SyncState) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return os.WriteFile(s.path, data, 0644)
}

// Update applies fn under the state lock, stamps UpdatedAt and saves.
func (s *SyncState) Update(fn func(*SyncState)) error {
	s.mu.Lock()
	fn(s)
	s.UpdatedAt = time.Now()
	s.mu.Unlock()
	return s.Save()
}

// SetStatus updates the watch status and saves.
func (s *SyncState) SetStatus(status WatchStatus) error {
	return s.Update(func(s *SyncState) { s.Status = status })
}

// Stale reports whether the state has not been refreshed within maxAge.
func (s *SyncState) Stale(maxAge time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status == StatusWatching && now.Sub(s.UpdatedAt) > maxAge
}

// Clean removes the state directory.
func Clean() error {
	return os.RemoveAll(stateDir)
}
