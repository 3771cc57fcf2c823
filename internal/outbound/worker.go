// Package outbound delivers approved reply drafts to clients.
package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/missiond/internal/channels"
	"github.com/kalambet/missiond/internal/missions"
	"github.com/kalambet/missiond/internal/storage"
)

// JobStore abstracts the job queue and the records a delivery touches.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	GetDraft(ctx context.Context, id string) (storage.Draft, error)
	SetDraftStatus(ctx context.Context, id, status, externalID string) error
	GetConversation(ctx context.Context, id string) (storage.Conversation, error)
	GetClient(ctx context.Context, id string) (storage.Client, error)
	SaveMessage(ctx context.Context, m storage.Message) (storage.Message, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
}

// Senders resolves the sender for a channel.
type Senders interface {
	Lookup(channel string) (channels.Sender, error)
}

// Worker processes reply_send jobs from the SQLite job queue.
type Worker struct {
	store   JobStore
	senders Senders
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, senders Senders, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		senders: senders,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("outbound iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single reply_send job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{missions.JobReplySend})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("reply delivery failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		if job.Attempts+1 >= job.MaxAttempts {
			w.markDraftFailed(ctx, job)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload missions.ReplyJob
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	draft, err := w.store.GetDraft(ctx, payload.DraftID)
	if err != nil {
		return fmt.Errorf("loading draft %s: %w", payload.DraftID, err)
	}
	if draft.Status != storage.DraftApproved {
		w.logger.Info("draft no longer approved, skipping", "draft_id", draft.ID, "status", draft.Status)
		return nil
	}

	conv, err := w.store.GetConversation(ctx, draft.ConversationID)
	if err != nil {
		return fmt.Errorf("loading conversation %s: %w", draft.ConversationID, err)
	}
	client, err := w.store.GetClient(ctx, conv.ClientID)
	if err != nil {
		return fmt.Errorf("loading client %s: %w", conv.ClientID, err)
	}

	sender, err := w.senders.Lookup(conv.Channel)
	if errors.Is(err, channels.ErrNoSender) {
		// Retrying cannot help until the channel is configured.
		w.logger.Warn("no sender for channel", "draft_id", draft.ID, "channel", conv.Channel)
		return w.store.SetDraftStatus(ctx, draft.ID, storage.DraftFailed, "")
	}
	if err != nil {
		return err
	}

	msg := replyFor(conv.Channel, client, draft)
	externalID, err := sender.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending via %s: %w", conv.Channel, err)
	}

	if err := w.store.SetDraftStatus(ctx, draft.ID, storage.DraftSent, externalID); err != nil {
		return fmt.Errorf("marking draft %s sent: %w", draft.ID, err)
	}

	sentAt := time.Now().UTC()
	if _, err := w.store.SaveMessage(ctx, storage.Message{
		ConversationID: conv.ID,
		ClientID:       client.ID,
		UserID:         draft.UserID,
		Direction:      "outbound",
		Text:           msg.Text,
		SentAt:         sentAt,
	}); err != nil {
		w.logger.Warn("recording outbound message", "draft_id", draft.ID, "error", err)
	} else if err := w.store.TouchConversation(ctx, conv.ID, sentAt); err != nil {
		w.logger.Warn("touching conversation", "conversation_id", conv.ID, "error", err)
	}

	w.logger.Info("reply sent", "draft_id", draft.ID, "channel", conv.Channel, "external_id", externalID)
	return nil
}

// replyFor picks the reply text for a channel. Email gets the detailed
// variant; chat channels get the short one.
func replyFor(channel string, client storage.Client, d storage.Draft) channels.Outgoing {
	short, detailed := d.ShortReply, d.DetailedReply
	if short == "" {
		short = detailed
	}
	if detailed == "" {
		detailed = short
	}
	msg := channels.Outgoing{To: client.ExternalID, Text: short}
	if channel == channels.Email {
		msg.Text = detailed
		msg.Subject = "Re: your message"
	}
	return msg
}

func (w *Worker) markDraftFailed(ctx context.Context, job *storage.Job) {
	var payload missions.ReplyJob
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil || payload.DraftID == "" {
		return
	}
	if err := w.store.SetDraftStatus(ctx, payload.DraftID, storage.DraftFailed, ""); err != nil {
		w.logger.Error("marking draft failed", "draft_id", payload.DraftID, "error", err)
	}
}
