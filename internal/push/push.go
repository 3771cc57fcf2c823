// Package push forwards notification pushes to the device-push service.
package push

import (
	"context"
	"log/slog"
	"time"
)

// Message is one push delivery request.
type Message struct {
	NotificationID string    `json:"notification_id"`
	UserID         string    `json:"user_id"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	Priority       string    `json:"priority"` // "high", "normal", "low"
	EntityID       string    `json:"entity_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Gateway delivers push messages.
type Gateway interface {
	Push(ctx context.Context, m Message) error
}

// LogGateway only logs pushes. It is used when no push transport is configured.
type LogGateway struct {
	logger *slog.Logger
}

func NewLogGateway() *LogGateway {
	return &LogGateway{logger: slog.Default()}
}

func (g *LogGateway) Push(ctx context.Context, m Message) error {
	g.logger.Info("push", "user", m.UserID, "notification", m.NotificationID, "priority", m.Priority, "title", m.Title)
	return nil
}
