// Package notify delivers alerts to per-user notification feeds and to a
// broadcast channel that every online client fans out into its own feed.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/kamlesh9876/devium/internal/alert"
	"github.com/kamlesh9876/devium/internal/datasync"
	"github.com/kamlesh9876/devium/internal/identity"
	"github.com/kamlesh9876/devium/internal/remote"
)

// Remote layout: notifications/{uid}/{id} and systemNotifications/{id}.
const (
	FeedRoot            = "notifications"
	BroadcastCollection = "systemNotifications"
	TargetAll           = "all"
)

// consumedTTL bounds how long a consumed broadcast id is remembered.
const consumedTTL = time.Hour

// ErrRateLimited is returned by Notify when alerts arrive faster than the
// configured rate.
var ErrRateLimited = errors.New("notification rate limit exceeded")

// Type is the display class of a notification.
type Type string

const (
	TypeInfo        Type = "info"
	TypeSuccess     Type = "success"
	TypeWarning     Type = "warning"
	TypeError       Type = "error"
	TypeSystemAlert Type = "system_alert"
)

// Notification is one entry of a user's feed.
type Notification struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	Type       Type           `json:"type"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Timestamp  time.Time      `json:"timestamp"`
	Read       bool           `json:"read"`
	ActionURL  string         `json:"actionUrl,omitempty"`
	ActionText string         `json:"actionText,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Alerter shows a notification outside the feed, e.g. on the desktop.
type Alerter interface {
	Alert(title, message string) error
}

// Config holds the service's collaborators and tuning. Sync is required.
type Config struct {
	Sync      *datasync.Engine
	Identity  identity.Provider
	Alerter   Alerter // optional
	Rate      float64 // alerts per second, default 5
	Burst     int     // default 10
	DedupTTL  time.Duration
	DedupSize int

	// OnDeliver, when set, sees every alert that passed dedup and rate
	// limiting.
	OnDeliver func(alert.Alert)

	Logger *log.Logger
	Now    func() time.Time
}

// Service is the notification fan-out for the signed-in user.
type Service struct {
	sync    *datasync.Engine
	ident   identity.Provider
	alerter Alerter
	deliver func(alert.Alert)
	limiter *rate.Limiter
	dedup   *expirable.LRU[string, struct{}]
	logger  *log.Logger
	now     func() time.Time

	mu       sync.Mutex
	subs     []string
	consumed *expirable.LRU[string, struct{}] // broadcast ids already copied to the feed
}

// New creates a service. Defaults are applied for zero-valued fields.
func New(cfg Config) *Service {
	if cfg.Identity == nil {
		cfg.Identity = identity.Anonymous()
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = 512
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "notify: ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		sync:     cfg.Sync,
		ident:    cfg.Identity,
		alerter:  cfg.Alerter,
		deliver:  cfg.OnDeliver,
		limiter:  rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		dedup:    expirable.NewLRU[string, struct{}](cfg.DedupSize, nil, cfg.DedupTTL),
		logger:   cfg.Logger,
		now:      cfg.Now,
		consumed: expirable.NewLRU[string, struct{}](cfg.DedupSize, nil, consumedTTL),
	}
}

func (s *Service) uid() string {
	return identity.UID(s.ident, "")
}

func feedPath(uid string) string {
	return remote.Join(FeedRoot, uid)
}

// Start subscribes to the user's feed and to the broadcast channel. With
// nobody signed in only the broadcast channel is watched, and broadcasts
// stay in place for other clients.
func (s *Service) Start(ctx context.Context) error {
	if uid := s.uid(); uid != "" {
		if err := s.watch(ctx, feedPath(uid), nil); err != nil {
			return err
		}
	}
	return s.watch(ctx, BroadcastCollection, func(snap datasync.Snapshot) {
		s.consume(ctx, snap.Docs())
	})
}

func (s *Service) watch(ctx context.Context, path string, cb datasync.Callback) error {
	id := s.sync.Subscribe(ctx, path, cb)
	if id == "" {
		s.Close()
		return fmt.Errorf("subscribe %s: refused by store", path)
	}
	s.mu.Lock()
	s.subs = append(s.subs, id)
	s.mu.Unlock()
	return nil
}

// Close releases the subscriptions opened by Start.
func (s *Service) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, id := range subs {
		s.sync.Unsubscribe(id)
	}
}

// consume copies broadcasts addressed to the current user into their feed
// and deletes the shared record. Another client may consume the same
// record first; the copy is then made twice, which is accepted.
func (s *Service) consume(ctx context.Context, docs map[string]map[string]any) {
	uid := s.uid()
	if uid == "" {
		return
	}
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		doc := docs[id]
		target, _ := doc["target"].(string)
		targetUser, _ := doc["targetUserId"].(string)
		if target != TargetAll && targetUser != uid {
			continue
		}
		s.mu.Lock()
		done := s.consumed.Contains(id)
		s.consumed.Add(id, struct{}{})
		s.mu.Unlock()
		if done {
			continue
		}

		n := decode(id, doc)
		n.UserID = uid
		s.AddNotification(ctx, n)
		s.sync.DeleteData(ctx, BroadcastCollection, id)
	}
}

// AddNotification appends n to the feed of n.UserID, or of the current
// user when n.UserID is empty, and returns the new id. It returns "" when
// there is no recipient.
func (s *Service) AddNotification(ctx context.Context, n Notification) string {
	if n.UserID == "" {
		n.UserID = s.uid()
	}
	if n.UserID == "" {
		return ""
	}
	if n.Type == "" {
		n.Type = TypeInfo
	}
	payload := map[string]any{
		"userId":    n.UserID,
		"type":      string(n.Type),
		"title":     n.Title,
		"message":   n.Message,
		"timestamp": s.now().UnixMilli(),
		"read":      false,
	}
	if n.ActionURL != "" {
		payload["actionUrl"] = n.ActionURL
	}
	if n.ActionText != "" {
		payload["actionText"] = n.ActionText
	}
	if len(n.Metadata) > 0 {
		payload["metadata"] = n.Metadata
	}
	id := s.sync.Push(ctx, feedPath(n.UserID), payload)

	if s.alerter != nil && n.UserID == s.uid() {
		if err := s.alerter.Alert(n.Title, n.Message); err != nil {
			s.logger.Printf("warning: desktop alert: %v", err)
		}
	}
	return id
}

// SendSystemNotification writes a broadcast addressed to every user.
func (s *Service) SendSystemNotification(ctx context.Context, title, message string, typ Type) string {
	return s.broadcast(ctx, map[string]any{"target": TargetAll}, title, message, typ, nil)
}

// SendTo writes a broadcast addressed to one user. It is delivered by that
// user's client the next time it is online.
func (s *Service) SendTo(ctx context.Context, userID, title, message string, typ Type) string {
	return s.broadcast(ctx, map[string]any{"targetUserId": userID}, title, message, typ, nil)
}

func (s *Service) broadcast(ctx context.Context, target map[string]any, title, message string, typ Type, extra map[string]any) string {
	if typ == "" {
		typ = TypeInfo
	}
	payload := map[string]any{
		"title":     title,
		"message":   message,
		"type":      string(typ),
		"timestamp": s.now().UnixMilli(),
	}
	for k, v := range target {
		payload[k] = v
	}
	for k, v := range extra {
		payload[k] = v
	}
	return s.sync.Push(ctx, BroadcastCollection, payload)
}

// Notifications returns the current user's feed, newest first.
func (s *Service) Notifications() []Notification {
	uid := s.uid()
	if uid == "" {
		return nil
	}
	docs := s.sync.CachedCollection(feedPath(uid))
	out := make([]Notification, 0, len(docs))
	for id, doc := range docs {
		out = append(out, decode(id, doc))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// UnreadCount returns the number of unread notifications in the feed.
func (s *Service) UnreadCount() int {
	n := 0
	for _, item := range s.Notifications() {
		if !item.Read {
			n++
		}
	}
	return n
}

// MarkAsRead flips the read flag of one notification.
func (s *Service) MarkAsRead(ctx context.Context, id string) {
	uid := s.uid()
	if uid == "" {
		return
	}
	s.sync.SyncData(ctx, feedPath(uid), id, map[string]any{"read": true}, datasync.Options{Merge: true})
}

// MarkAllAsRead flips every unread notification in one atomic update and
// returns how many were changed.
func (s *Service) MarkAllAsRead(ctx context.Context) int {
	uid := s.uid()
	if uid == "" {
		return 0
	}
	var ops []datasync.Operation
	for _, n := range s.Notifications() {
		if n.Read {
			continue
		}
		ops = append(ops, datasync.Operation{
			Type:       datasync.OpUpdate,
			Collection: feedPath(uid),
			DocumentID: n.ID,
			Payload:    map[string]any{"read": true},
			Merge:      true,
		})
	}
	s.sync.BatchSync(ctx, ops)
	return len(ops)
}

// ClearNotification deletes one notification.
func (s *Service) ClearNotification(ctx context.Context, id string) {
	uid := s.uid()
	if uid == "" {
		return
	}
	s.sync.DeleteData(ctx, feedPath(uid), id)
}

// ClearAllNotifications deletes the whole feed.
func (s *Service) ClearAllNotifications(ctx context.Context) {
	uid := s.uid()
	if uid == "" {
		return
	}
	s.sync.DeleteData(ctx, FeedRoot, uid)
	s.sync.ClearCache(feedPath(uid))
}

// Notify delivers an alert. Alerts with a key seen within the dedup TTL
// are dropped silently; alerts over the rate limit return ErrRateLimited.
func (s *Service) Notify(ctx context.Context, a alert.Alert) error {
	if a.Key != "" && s.dedup.Contains(a.Key) {
		return nil
	}
	if !s.limiter.Allow() {
		return fmt.Errorf("%w: %s", ErrRateLimited, a.Key)
	}
	if a.Key != "" {
		s.dedup.Add(a.Key, struct{}{})
	}
	if s.deliver != nil {
		s.deliver(a)
	}

	typ := typeFor(a.Severity)
	meta := map[string]any{"source": a.Source, "severity": string(a.Severity)}
	if a.Broadcast {
		extra := map[string]any{"metadata": meta}
		if a.ActionURL != "" {
			extra["actionUrl"] = a.ActionURL
		}
		s.broadcast(ctx, map[string]any{"target": TargetAll}, a.Title, a.Message, typ, extra)
		return nil
	}
	if s.AddNotification(ctx, Notification{
		UserID:    a.UserID,
		Type:      typ,
		Title:     a.Title,
		Message:   a.Message,
		ActionURL: a.ActionURL,
		Metadata:  meta,
	}) == "" {
		return fmt.Errorf("notify %s: no recipient", a.Key)
	}
	return nil
}

func typeFor(sev alert.Severity) Type {
	switch sev {
	case alert.SeverityCritical:
		return TypeSystemAlert
	case alert.SeverityHigh:
		return TypeError
	case alert.SeverityMedium:
		return TypeWarning
	}
	return TypeInfo
}

func decode(id string, doc map[string]any) Notification {
	n := Notification{ID: id}
	n.UserID, _ = doc["userId"].(string)
	if t, ok := doc["type"].(string); ok && t != "" {
		n.Type = Type(t)
	} else {
		n.Type = TypeInfo
	}
	n.Title, _ = doc["title"].(string)
	n.Message, _ = doc["message"].(string)
	n.Read, _ = doc["read"].(bool)
	n.ActionURL, _ = doc["actionUrl"].(string)
	n.ActionText, _ = doc["actionText"].(string)
	if m, ok := doc["metadata"].(map[string]any); ok {
		n.Metadata = m
	}
	n.Timestamp = timestamp(doc["timestamp"])
	return n
}

func timestamp(v any) time.Time {
	switch t := v.(type) {
	case float64:
		return time.UnixMilli(int64(t))
	case int64:
		return time.UnixMilli(t)
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts
		}
	}
	return time.Time{}
}
