package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/kalambet/missiond/internal/router"
)

// IngressQueue is the queue group ingress subscribers join, so several
// missiond instances share one subject without routing an envelope twice.
const IngressQueue = "missiond"

// Router routes envelopes.
type Router interface {
	Route(ctx context.Context, env router.Envelope) router.Result
}

// Ingress routes envelopes received on a NATS subject. When the publisher
// used request/reply, the route result is sent back as JSON.
type Ingress struct {
	conn    *nats.Conn
	subject string
	router  Router
	logger  *slog.Logger
}

func NewIngress(conn *nats.Conn, subject string, r Router) *Ingress {
	return &Ingress{conn: conn, subject: subject, router: r, logger: slog.Default()}
}

// Start subscribes to the ingress subject. Handlers run with ctx. Call
// stop to unsubscribe; a message already being handled still completes.
func (i *Ingress) Start(ctx context.Context) (stop func(), err error) {
	sub, err := i.conn.QueueSubscribe(i.subject, IngressQueue, func(msg *nats.Msg) {
		i.handle(ctx, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", i.subject, err)
	}
	if err := i.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flushing subscription: %w", err)
	}
	i.logger.Info("event ingress started", "subject", i.subject)

	var once sync.Once
	stop = func() {
		once.Do(func() { _ = sub.Unsubscribe() })
	}
	return stop, nil
}

func (i *Ingress) handle(ctx context.Context, msg *nats.Msg) {
	var env router.Envelope
	decodeErr := json.Unmarshal(msg.Data, &env)
	if decodeErr != nil {
		i.logger.Warn("invalid envelope on ingress", "subject", msg.Subject, "error", decodeErr)
		env = router.Envelope{}
	}
	res := i.router.Route(ctx, env)
	if decodeErr != nil {
		res.Error = "invalid envelope: " + decodeErr.Error()
	}

	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		i.logger.Warn("encoding route result", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		i.logger.Warn("replying to ingress request", "reply", msg.Reply, "error", err)
	}
}
