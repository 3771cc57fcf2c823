// Package missions implements the handlers the router dispatches to.
//
// Every handler is safe to run more than once for the same envelope: state
// changes are guarded by the record's current status or by a recency check,
// so a redelivered event or a repeated timer firing does not duplicate work.
package missions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/missiond/internal/notify"
	"github.com/kalambet/missiond/internal/pipeline"
	"github.com/kalambet/missiond/internal/router"
	"github.com/kalambet/missiond/internal/storage"
)

// JobReplySend is the queue job type consumed by the outbound worker.
const JobReplySend = "reply_send"

const (
	followupDedupWindow = 24 * time.Hour
	criticalOverdueDays = 7
	reminderWindow      = 48 * time.Hour
	atRiskWindow        = 3 * 24 * time.Hour
)

// ErrWrongOwner is returned when an envelope names a resource that belongs
// to a different user.
var ErrWrongOwner = errors.New("resource belongs to another user")

// Processor runs the message pipeline.
type Processor interface {
	Run(ctx context.Context, messageID string) (pipeline.Result, error)
}

// Notifier records notifications. It never fails.
type Notifier interface {
	Dispatch(ctx context.Context, p notify.Payload)
}

// Handlers implements router.Missions on top of the data store.
type Handlers struct {
	store    *storage.Store
	pipeline Processor
	notifier Notifier
	digester *Digester
	now      func() time.Time
	logger   *slog.Logger
}

var _ router.Missions = (*Handlers)(nil)

// New creates Handlers. digester may be nil, in which case a UTC digester
// over store is used.
func New(store *storage.Store, p Processor, n Notifier, digester *Digester) *Handlers {
	if digester == nil {
		digester = NewDigester(store, nil)
	}
	return &Handlers{
		store:    store,
		pipeline: p,
		notifier: n,
		digester: digester,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// ProcessMessage runs the five-stage pipeline for the message.
func (h *Handlers) ProcessMessage(ctx context.Context, env router.Envelope) error {
	msg, err := h.store.GetMessage(ctx, env.ResourceID)
	if err != nil {
		return fmt.Errorf("loading message %s: %w", env.ResourceID, err)
	}
	if err := checkOwner("message", msg.ID, msg.UserID, env.UserID); err != nil {
		return err
	}
	res, err := h.pipeline.Run(ctx, msg.ID)
	if err != nil {
		return err
	}
	h.logger.Debug("message processed",
		"message_id", msg.ID,
		"priority", res.Score.Priority,
		"lead_id", res.LeadID,
		"draft_id", res.DraftID,
		"duration", res.Duration,
	)
	return nil
}

func checkOwner(kind, id, owner, user string) error {
	if owner != user {
		return fmt.Errorf("%s %s: %w", kind, id, ErrWrongOwner)
	}
	return nil
}
