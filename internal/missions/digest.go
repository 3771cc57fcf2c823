package missions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/missiond/internal/notify"
	"github.com/kalambet/missiond/internal/router"
	"github.com/kalambet/missiond/internal/scoring"
	"github.com/kalambet/missiond/internal/storage"
)

const (
	digestTaskLimit = 5
	digestLeadLimit = 10
	momentumActive  = 6 * time.Hour
	momentumIdle    = 3 * 24 * time.Hour
)

// Digest is the read-only daily summary for one user. Amounts are in cents.
type Digest struct {
	UserID      string          `json:"user_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Tasks       []DigestTask    `json:"tasks"`
	Leads       []DigestLead    `json:"leads"`
	Projects    []DigestProject `json:"projects"`
	Revenue     Revenue         `json:"revenue"`
	Momentum    Momentum        `json:"momentum"`
}

type DigestTask struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Priority string    `json:"priority"`
	DueAt    time.Time `json:"due_at,omitzero"`
}

type DigestLead struct {
	ID       string  `json:"id"`
	Score    float64 `json:"score"`
	Priority string  `json:"priority"`
	Summary  string  `json:"summary"`
}

type DigestProject struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Status   string    `json:"status"`
	Deadline time.Time `json:"deadline,omitzero"`
}

// Revenue holds month-to-date invoice totals.
type Revenue struct {
	Paid        int64 `json:"paid_cents"`
	Outstanding int64 `json:"outstanding_cents"`
	Overdue     int64 `json:"overdue_cents"`
	Expected    int64 `json:"expected_cents"`
}

// Momentum counts conversations with recent activity and those gone quiet.
type Momentum struct {
	Active int `json:"active"`
	Idle   int `json:"idle"`
}

// Locator resolves a user's notification settings, used here for the
// user's timezone.
type Locator interface {
	SettingsFor(ctx context.Context, userID string) notify.Settings
}

// Digester builds digests. It never writes.
type Digester struct {
	store   *storage.Store
	locator Locator
}

// NewDigester creates a Digester. A nil locator computes month boundaries in UTC.
func NewDigester(store *storage.Store, locator Locator) *Digester {
	return &Digester{store: store, locator: locator}
}

// Build assembles the digest for userID as of now.
func (d *Digester) Build(ctx context.Context, userID string, now time.Time) (Digest, error) {
	ctx, span := otel.Tracer("github.com/kalambet/missiond/internal/missions").Start(ctx, "build digest")
	defer span.End()

	loc := time.UTC
	if d.locator != nil {
		if l := d.locator.SettingsFor(ctx, userID).Location; l != nil {
			loc = l
		}
	}
	local := now.In(loc)
	monthStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	monthEnd := monthStart.AddDate(0, 1, 0)

	dg := Digest{UserID: userID, GeneratedAt: now.UTC()}
	var (
		tasks    []storage.Task
		leads    []storage.Lead
		projects []storage.Project
		totals   storage.InvoiceTotals
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tasks, err = d.store.ListPendingTasks(gctx, userID, digestTaskLimit)
		if err != nil {
			return fmt.Errorf("listing tasks: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		leads, err = d.store.ListLeads(gctx, userID, storage.LeadOpen, digestLeadLimit)
		if err != nil {
			return fmt.Errorf("listing leads: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		projects, err = d.store.ListActiveProjects(gctx, userID)
		if err != nil {
			return fmt.Errorf("listing projects: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		totals, err = d.store.InvoiceTotals(gctx, userID, monthStart, monthEnd)
		if err != nil {
			return fmt.Errorf("summing invoices: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		active, idle, err := d.store.ConversationMomentum(gctx, userID, now.Add(-momentumActive), now.Add(-momentumIdle))
		if err != nil {
			return fmt.Errorf("counting conversations: %w", err)
		}
		dg.Momentum = Momentum{Active: active, Idle: idle}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Digest{}, err
	}

	dg.Tasks = make([]DigestTask, 0, len(tasks))
	for _, t := range tasks {
		dg.Tasks = append(dg.Tasks, DigestTask{ID: t.ID, Title: t.Title, Priority: t.Priority, DueAt: t.DueAt})
	}
	dg.Leads = make([]DigestLead, 0, len(leads))
	for _, l := range leads {
		if l.Score < scoring.WarmThreshold {
			continue
		}
		dg.Leads = append(dg.Leads, DigestLead{ID: l.ID, Score: l.Score, Priority: l.Priority, Summary: l.Summary})
	}
	dg.Projects = make([]DigestProject, 0, len(projects))
	for _, p := range projects {
		dg.Projects = append(dg.Projects, DigestProject{ID: p.ID, Name: p.Name, Status: p.Status, Deadline: p.Deadline})
	}
	dg.Revenue = Revenue(totals)
	return dg, nil
}

// Summary renders the digest as a short notification body.
func (dg Digest) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d open tasks, %d warm leads, %d active projects.", len(dg.Tasks), len(dg.Leads), len(dg.Projects))
	fmt.Fprintf(&b, " Paid this month %s, outstanding %s", formatAmount(dg.Revenue.Paid, ""), formatAmount(dg.Revenue.Outstanding, ""))
	if dg.Revenue.Overdue > 0 {
		fmt.Fprintf(&b, " (%s overdue)", formatAmount(dg.Revenue.Overdue, ""))
	}
	b.WriteString(".")
	if dg.Momentum.Idle > 0 {
		fmt.Fprintf(&b, " %d conversations idle for 3+ days.", dg.Momentum.Idle)
	}
	return b.String()
}

// DailyDigest builds the user's digest and dispatches it as one
// daily_digest notification.
func (h *Handlers) DailyDigest(ctx context.Context, env router.Envelope) error {
	now := h.now()
	dg, err := h.digester.Build(ctx, env.UserID, now)
	if err != nil {
		return fmt.Errorf("building digest: %w", err)
	}
	h.notifier.Dispatch(ctx, notify.Payload{
		UserID:     env.UserID,
		Tier:       notify.TierDailyDigest,
		Title:      "Your daily digest",
		Body:       dg.Summary(),
		EntityID:   "digest-" + now.UTC().Format("2006-01-02"),
		EntityType: "digest",
		Data: map[string]any{
			"tasks":             len(dg.Tasks),
			"leads":             len(dg.Leads),
			"projects":          len(dg.Projects),
			"paid_cents":        dg.Revenue.Paid,
			"outstanding_cents": dg.Revenue.Outstanding,
			"expected_cents":    dg.Revenue.Expected,
			"active":            dg.Momentum.Active,
			"idle":              dg.Momentum.Idle,
		},
	})
	return nil
}
