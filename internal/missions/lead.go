package missions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kalambet/missiond/internal/notify"
	"github.com/kalambet/missiond/internal/router"
	"github.com/kalambet/missiond/internal/storage"
)

// ConvertLead turns a lead into an active project and alerts the user.
// Converting a lead twice is a no-op.
func (h *Handlers) ConvertLead(ctx context.Context, env router.Envelope) error {
	lead, err := h.store.GetLead(ctx, env.ResourceID)
	if err != nil {
		return fmt.Errorf("loading lead %s: %w", env.ResourceID, err)
	}
	if err := checkOwner("lead", lead.ID, lead.UserID, env.UserID); err != nil {
		return err
	}
	if lead.Status == storage.LeadConverted {
		h.logger.Debug("lead already converted", "lead_id", lead.ID, "project_id", lead.ConvertedToProjectID)
		return nil
	}

	name, err := h.projectName(ctx, lead)
	if err != nil {
		return err
	}
	project, created, err := h.store.ConvertLead(ctx, lead.ID, storage.Project{Name: name})
	if err != nil {
		return fmt.Errorf("converting lead %s: %w", lead.ID, err)
	}
	if !created {
		return nil
	}

	h.logger.Info("lead converted", "lead_id", lead.ID, "project_id", project.ID)
	h.notifier.Dispatch(ctx, notify.Payload{
		UserID:     project.UserID,
		Tier:       notify.TierProjectAlert,
		Title:      "New project: " + project.Name,
		Body:       fmt.Sprintf("Lead %s was converted (score %.2f).", lead.ID, lead.Score),
		EntityID:   project.ID,
		EntityType: "project",
		Data: map[string]any{
			"lead_id":   lead.ID,
			"client_id": project.ClientID,
		},
	})
	return nil
}

func (h *Handlers) projectName(ctx context.Context, lead storage.Lead) (string, error) {
	if lead.Summary != "" {
		return truncate(lead.Summary, 120), nil
	}
	client, err := h.store.GetClient(ctx, lead.ClientID)
	if errors.Is(err, storage.ErrNotFound) {
		return "Project " + lead.ID, nil
	}
	if err != nil {
		return "", fmt.Errorf("loading client %s: %w", lead.ClientID, err)
	}
	return "Project for " + client.Name, nil
}

// ReplyJob is the payload of a reply_send job.
type ReplyJob struct {
	DraftID string `json:"draft_id"`
	UserID  string `json:"user_id"`
}

// SendReply queues a pending draft for delivery by the outbound worker.
// The draft moves to approved so a redelivered event does not queue it twice.
func (h *Handlers) SendReply(ctx context.Context, env router.Envelope) error {
	draft, err := h.store.GetDraft(ctx, env.ResourceID)
	if err != nil {
		return fmt.Errorf("loading draft %s: %w", env.ResourceID, err)
	}
	if err := checkOwner("draft", draft.ID, draft.UserID, env.UserID); err != nil {
		return err
	}
	switch draft.Status {
	case storage.DraftPending:
	case storage.DraftApproved, storage.DraftSent:
		h.logger.Debug("draft already queued", "draft_id", draft.ID, "status", draft.Status)
		return nil
	default:
		return fmt.Errorf("draft %s is %s: %w", draft.ID, draft.Status, storage.ErrInvalidTransition)
	}

	payload, err := json.Marshal(ReplyJob{DraftID: draft.ID, UserID: draft.UserID})
	if err != nil {
		return fmt.Errorf("encoding reply job: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobReplySend,
		PayloadJSON: string(payload),
	}
	if err := h.store.EnqueueJob(ctx, job); err != nil {
		return fmt.Errorf("enqueueing reply job: %w", err)
	}
	if err := h.store.SetDraftStatus(ctx, draft.ID, storage.DraftApproved, ""); err != nil {
		return fmt.Errorf("approving draft %s: %w", draft.ID, err)
	}
	h.logger.Info("reply queued", "draft_id", draft.ID, "job_id", job.ID)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
