package missions

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/missiond/internal/notify"
	"github.com/kalambet/missiond/internal/router"
	"github.com/kalambet/missiond/internal/storage"
)

// MilestoneReminder opens one reminder task per incomplete milestone due in
// the next 48 hours. A milestone that already got a reminder in the last
// 48 hours is skipped.
//
// The check and the insert are not atomic; two concurrent firings for the
// same user can both insert. Timer firings for one user are serialized by
// the scheduler, so this only matters for manually emitted timer events.
func (h *Handlers) MilestoneReminder(ctx context.Context, env router.Envelope) error {
	now := h.now().UTC()
	due, err := h.store.ListDueMilestones(ctx, env.UserID, now, now.Add(reminderWindow))
	if err != nil {
		return fmt.Errorf("listing due milestones: %w", err)
	}

	created := 0
	for _, m := range due {
		title := reminderTitle(m)
		exists, err := h.store.HasRecentTaskLike(ctx, env.UserID, title, now.Add(-reminderWindow))
		if err != nil {
			return fmt.Errorf("checking reminders for milestone %s: %w", m.ID, err)
		}
		if exists {
			continue
		}
		if _, err := h.store.InsertTask(ctx, storage.Task{
			UserID:      env.UserID,
			Title:       title,
			Description: fmt.Sprintf("Milestone %q is due %s.", m.Title, m.DueAt.Format(time.RFC1123)),
			Priority:    "high",
			EntityID:    m.ID,
			DueAt:       m.DueAt,
		}); err != nil {
			return fmt.Errorf("creating reminder for milestone %s: %w", m.ID, err)
		}
		created++

		h.notifier.Dispatch(ctx, notify.Payload{
			UserID:     env.UserID,
			Tier:       notify.TierFollowUp,
			Title:      title,
			Body:       fmt.Sprintf("Due in %s.", m.DueAt.Sub(now).Round(time.Hour)),
			EntityID:   m.ID,
			EntityType: "milestone",
			Data:       map[string]any{"project_id": m.ProjectID},
		})
	}
	h.logger.Info("milestone reminders", "user_id", env.UserID, "due", len(due), "created", created)
	return nil
}

// reminderTitle includes the milestone id so the dedup substring is unique
// per milestone even when titles repeat across projects.
func reminderTitle(m storage.Milestone) string {
	return fmt.Sprintf("Milestone due: %s [%s]", m.Title, m.ID)
}

// ProjectStatusCheck recomputes the health of every active project and
// writes only the ones whose status changed.
func (h *Handlers) ProjectStatusCheck(ctx context.Context, env router.Envelope) error {
	now := h.now().UTC()
	projects, err := h.store.ListActiveProjects(ctx, env.UserID)
	if err != nil {
		return fmt.Errorf("listing active projects: %w", err)
	}

	changed := 0
	for _, p := range projects {
		next, err := h.projectStatus(ctx, p, now)
		if err != nil {
			return err
		}
		if next == p.Status {
			continue
		}
		if err := h.store.UpdateProjectStatus(ctx, p.ID, next); err != nil {
			return fmt.Errorf("updating project %s: %w", p.ID, err)
		}
		changed++
		h.logger.Info("project status changed", "project_id", p.ID, "from", p.Status, "to", next)

		if next == storage.StatusOnTrack {
			continue
		}
		title := fmt.Sprintf("Project %s is %s", p.Name, statusLabel(next))
		if _, err := h.store.InsertTask(ctx, storage.Task{
			UserID:      env.UserID,
			Title:       title,
			Description: fmt.Sprintf("Status changed from %s to %s. Deadline %s.", p.Status, next, p.Deadline.Format("2006-01-02")),
			Priority:    "high",
			EntityID:    p.ID,
		}); err != nil {
			return fmt.Errorf("creating status task for project %s: %w", p.ID, err)
		}
		h.notifier.Dispatch(ctx, notify.Payload{
			UserID:     env.UserID,
			Tier:       notify.TierProjectAlert,
			Title:      title,
			Body:       fmt.Sprintf("Deadline %s.", p.Deadline.Format("Jan 2")),
			EntityID:   p.ID,
			EntityType: "project",
			Data:       map[string]any{"from": p.Status, "to": next},
		})
	}
	h.logger.Info("project status check", "user_id", env.UserID, "projects", len(projects), "changed", changed)
	return nil
}

// projectStatus applies the health rule: a passed deadline is overdue, a
// deadline within three days with open milestones is at risk, anything else
// is on track. Projects without a deadline are always on track.
func (h *Handlers) projectStatus(ctx context.Context, p storage.Project, now time.Time) (string, error) {
	if p.Deadline.IsZero() {
		return storage.StatusOnTrack, nil
	}
	if now.After(p.Deadline) {
		return storage.StatusOverdue, nil
	}
	if p.Deadline.Sub(now) > atRiskWindow {
		return storage.StatusOnTrack, nil
	}
	open, err := h.store.HasIncompleteMilestones(ctx, p.ID)
	if err != nil {
		return "", fmt.Errorf("checking milestones of project %s: %w", p.ID, err)
	}
	if open {
		return storage.StatusAtRisk, nil
	}
	return storage.StatusOnTrack, nil
}

func statusLabel(status string) string {
	if status == storage.StatusAtRisk {
		return "at risk"
	}
	return status
}
