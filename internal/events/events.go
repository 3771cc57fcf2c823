// Package events connects the router to the NATS event bus: audit records
// are published as they are written, and envelopes published on the ingress
// subject are routed like HTTP deliveries.
package events

import (
	"time"

	"github.com/kalambet/missiond/internal/storage"
)

// MissionRecord is the wire form of an audit record, shared by the bus and
// the archive export.
type MissionRecord struct {
	Seq        int64     `json:"seq"`
	ID         string    `json:"id"`
	Event      string    `json:"event"`
	Mission    string    `json:"mission,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	ResourceID string    `json:"resource_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewMissionRecord converts a stored audit record.
func NewMissionRecord(l storage.MissionLog) MissionRecord {
	return MissionRecord{
		Seq:        l.Seq,
		ID:         l.ID,
		Event:      l.Event,
		Mission:    l.Handler,
		Status:     l.Status,
		Error:      l.Error,
		ResourceID: l.ResourceID,
		UserID:     l.UserID,
		CreatedAt:  l.CreatedAt.UTC(),
	}
}

// MissionSubject returns the subject an audit record with status is
// published on.
func MissionSubject(prefix, status string) string {
	if prefix == "" {
		prefix = "missiond"
	}
	return prefix + ".missions." + status
}
