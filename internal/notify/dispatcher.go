// Package notify records notifications and forwards pushes while applying
// tier rules, quiet hours, a daily push cap and duplicate suppression.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
	_ "time/tzdata"

	"github.com/kalambet/missiond/internal/push"
	"github.com/kalambet/missiond/internal/storage"
)

// DedupWindow is how long a notification about an entity suppresses
// further notifications about it.
const DedupWindow = 60 * time.Minute

// Store is the persistence the dispatcher needs.
type Store interface {
	HasRecentNotification(ctx context.Context, userID, entityID string, since time.Time) (bool, error)
	CountPushSince(ctx context.Context, userID string, since time.Time) (int, error)
	InsertNotification(ctx context.Context, n storage.Notification) (storage.Notification, error)
	GetUserSettings(ctx context.Context, userID string) (storage.UserSettings, error)
}

// Payload describes one notification request.
type Payload struct {
	UserID     string
	Tier       Tier
	Title      string
	Body       string
	EntityID   string
	EntityType string
	Data       map[string]any
}

// Settings are the anti-noise rules for one user.
type Settings struct {
	MaxPushPerDay int
	QuietStart    int
	QuietEnd      int
	Location      *time.Location
}

// DefaultSettings applies to users without stored settings.
func DefaultSettings() Settings {
	return Settings{MaxPushPerDay: 3, QuietStart: 22, QuietEnd: 7, Location: time.UTC}
}

// Dispatcher applies the anti-noise rules and records notifications.
type Dispatcher struct {
	store    Store
	gateway  push.Gateway
	defaults Settings
	now      func() time.Time
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. defaults apply to users with no
// stored settings.
func NewDispatcher(store Store, gateway push.Gateway, defaults Settings) *Dispatcher {
	if defaults.Location == nil {
		defaults.Location = time.UTC
	}
	return &Dispatcher{
		store:    store,
		gateway:  gateway,
		defaults: defaults,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// Dispatch records a notification for p and pushes it when allowed. It
// never fails: store and gateway errors are logged.
func (d *Dispatcher) Dispatch(ctx context.Context, p Payload) {
	log := d.logger.With("user", p.UserID, "tier", p.Tier, "entity", p.EntityID)
	if !p.Tier.Valid() {
		log.Warn("notification dropped: unknown tier")
		return
	}
	now := d.now()

	if p.EntityID != "" {
		dup, err := d.store.HasRecentNotification(ctx, p.UserID, p.EntityID, now.Add(-DedupWindow))
		if err != nil {
			log.Warn("notification dedup check failed", "error", err)
		} else if dup {
			log.Debug("notification suppressed as duplicate")
			return
		}
	}

	set := d.settingsFor(ctx, p.UserID)
	local := now.In(set.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, set.Location)

	pushed, err := d.store.CountPushSince(ctx, p.UserID, midnight)
	if err != nil {
		log.Warn("push count failed, treating cap as reached", "error", err)
		pushed = set.MaxPushPerDay
	}

	quiet := InQuietHours(local.Hour(), set.QuietStart, set.QuietEnd)

	n := storage.Notification{
		UserID:     p.UserID,
		Tier:       string(p.Tier),
		Title:      p.Title,
		Body:       p.Body,
		EntityID:   p.EntityID,
		EntityType: p.EntityType,
		Data:       encodeData(p.Data, log),
		PushSent:   ShouldPush(p.Tier, quiet, pushed, set.MaxPushPerDay),
		EmailSent:  p.Tier.emails(),
		CreatedAt:  now.UTC(),
	}
	n, err = d.store.InsertNotification(ctx, n)
	if err != nil {
		log.Error("recording notification failed", "error", err)
		return
	}

	if !n.PushSent || d.gateway == nil {
		return
	}
	err = d.gateway.Push(ctx, push.Message{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Title:          n.Title,
		Body:           n.Body,
		Priority:       p.Tier.pushPriority(),
		EntityID:       n.EntityID,
		CreatedAt:      n.CreatedAt,
	})
	if err != nil {
		log.Warn("push delivery failed", "notification", n.ID, "error", err)
	}
}

// SettingsFor resolves the anti-noise settings for a user.
func (d *Dispatcher) SettingsFor(ctx context.Context, userID string) Settings {
	return d.settingsFor(ctx, userID)
}

func (d *Dispatcher) settingsFor(ctx context.Context, userID string) Settings {
	u, err := d.store.GetUserSettings(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			d.logger.Warn("loading user settings failed, using defaults", "user", userID, "error", err)
		}
		return d.defaults
	}

	s := Settings{
		MaxPushPerDay: u.MaxPushPerDay,
		QuietStart:    u.QuietStart,
		QuietEnd:      u.QuietEnd,
		Location:      d.defaults.Location,
	}
	if u.Timezone != "" {
		loc, err := time.LoadLocation(u.Timezone)
		if err != nil {
			d.logger.Warn("unknown user timezone, using default", "user", userID, "timezone", u.Timezone)
		} else {
			s.Location = loc
		}
	}
	return s
}

func encodeData(data map[string]any, log *slog.Logger) string {
	if len(data) == 0 {
		return "{}"
	}
	b, err := json.Marshal(data)
	if err != nil {
		log.Warn("notification data not encodable", "error", err)
		return "{}"
	}
	return string(b)
}
