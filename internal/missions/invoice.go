package missions

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/missiond/internal/notify"
	"github.com/kalambet/missiond/internal/router"
	"github.com/kalambet/missiond/internal/storage"
)

// InvoiceFollowup marks an unpaid invoice overdue, opens a follow-up task
// and notifies the user. Paid invoices are left alone.
func (h *Handlers) InvoiceFollowup(ctx context.Context, env router.Envelope) error {
	inv, err := h.store.GetInvoice(ctx, env.ResourceID)
	if err != nil {
		return fmt.Errorf("loading invoice %s: %w", env.ResourceID, err)
	}
	if err := checkOwner("invoice", inv.ID, inv.UserID, env.UserID); err != nil {
		return err
	}
	if inv.Status == storage.InvoicePaid {
		h.logger.Debug("invoice already paid", "invoice_id", inv.ID)
		return nil
	}
	if err := h.store.MarkInvoiceOverdue(ctx, inv.ID); err != nil {
		return fmt.Errorf("marking invoice %s overdue (status %s): %w", inv.ID, inv.Status, err)
	}

	now := h.now().UTC()
	days := daysOverdue(inv.DueAt, now)
	tier := notify.TierFollowUp
	priority := "medium"
	if days >= criticalOverdueDays {
		tier = notify.TierCritical
		priority = "high"
	}

	exists, err := h.store.HasRecentTaskForEntity(ctx, inv.UserID, inv.ID, now.Add(-followupDedupWindow))
	if err != nil {
		return fmt.Errorf("checking follow-up tasks: %w", err)
	}
	if !exists {
		_, err := h.store.InsertTask(ctx, storage.Task{
			UserID:      inv.UserID,
			Title:       fmt.Sprintf("Follow up on invoice %s", invoiceLabel(inv)),
			Description: fmt.Sprintf("%s outstanding, %d days past due", formatAmount(inv.AmountCents, inv.Currency), days),
			Priority:    priority,
			EntityID:    inv.ID,
			DueAt:       now.Add(24 * time.Hour),
		})
		if err != nil {
			return fmt.Errorf("creating follow-up task: %w", err)
		}
	}

	h.notifier.Dispatch(ctx, notify.Payload{
		UserID:     inv.UserID,
		Tier:       tier,
		Title:      fmt.Sprintf("Invoice %s is overdue", invoiceLabel(inv)),
		Body:       fmt.Sprintf("%s was due %d days ago.", formatAmount(inv.AmountCents, inv.Currency), days),
		EntityID:   inv.ID,
		EntityType: "invoice",
		Data: map[string]any{
			"amount_cents": inv.AmountCents,
			"currency":     inv.Currency,
			"days_overdue": days,
		},
	})
	return nil
}

// daysOverdue counts whole days since due. An invoice with no due date, or
// one not yet due, is zero days overdue.
func daysOverdue(due, now time.Time) int {
	if due.IsZero() || !now.After(due) {
		return 0
	}
	return int(now.Sub(due) / (24 * time.Hour))
}

func invoiceLabel(inv storage.Invoice) string {
	if inv.Number != "" {
		return "#" + inv.Number
	}
	return inv.ID
}

func formatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	if currency == "" {
		currency = "USD"
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}
