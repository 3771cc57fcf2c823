package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kalambet/missiond/internal/storage"
)

// Connect dials NATS with automatic reconnection. Extra options are
// appended to the defaults.
func Connect(url string, opts ...nats.Option) (*nats.Conn, error) {
	defaults := []nats.Option{
		nats.Name("missiond"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher publishes audit records to <prefix>.missions.<status>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

func NewNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix, logger: slog.Default()}
}

// PublishMission publishes l. Failures are logged, never returned.
func (p *NATSPublisher) PublishMission(ctx context.Context, l storage.MissionLog) {
	data, err := json.Marshal(NewMissionRecord(l))
	if err != nil {
		p.logger.Warn("encoding mission record", "id", l.ID, "error", err)
		return
	}
	subject := MissionSubject(p.prefix, l.Status)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("publishing mission record", "subject", subject, "id", l.ID, "error", err)
	}
}

// NoopPublisher drops every record. It is used when NATS is not configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishMission(ctx context.Context, l storage.MissionLog) {}
