package storage

import (
	"context"
	"testing"
	"time"
)

func TestTasks_PendingOrderAndDedupQueries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	nowT := time.Now().UTC()

	tasks := []Task{
		{UserID: "u1", Title: "Low chore", Priority: "low"},
		{UserID: "u1", Title: "Milestone due: Beta", Priority: "high", EntityID: "ms-1", DueAt: nowT.Add(24 * time.Hour)},
		{UserID: "u1", Title: "Follow up invoice 7", Priority: "high", EntityID: "inv-7", DueAt: nowT.Add(2 * time.Hour)},
		{UserID: "u1", Title: "Done thing", Status: "done"},
	}
	for _, tk := range tasks {
		if _, err := s.InsertTask(ctx, tk); err != nil {
			t.Fatalf("InsertTask: %v", err)
		}
	}

	pending, err := s.ListPendingTasks(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListPendingTasks: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
	if pending[0].EntityID != "inv-7" || pending[2].Title != "Low chore" {
		t.Errorf("order = %q, %q, %q", pending[0].Title, pending[1].Title, pending[2].Title)
	}

	since := nowT.Add(-48 * time.Hour)
	if ok, err := s.HasRecentTaskLike(ctx, "u1", "Beta", since); err != nil || !ok {
		t.Errorf("HasRecentTaskLike(Beta) = %v, %v", ok, err)
	}
	if ok, err := s.HasRecentTaskLike(ctx, "u2", "Beta", since); err != nil || ok {
		t.Errorf("HasRecentTaskLike(other user) = %v, %v", ok, err)
	}
	if ok, err := s.HasRecentTaskForEntity(ctx, "u1", "inv-7", since); err != nil || !ok {
		t.Errorf("HasRecentTaskForEntity = %v, %v", ok, err)
	}
	if ok, err := s.HasRecentTaskForEntity(ctx, "u1", "inv-7", nowT.Add(time.Hour)); err != nil || ok {
		t.Errorf("HasRecentTaskForEntity(future since) = %v, %v", ok, err)
	}
}

func TestProjectsAndMilestones(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	nowT := time.Now().UTC()

	p, err := s.InsertProject(ctx, Project{UserID: "u1", ClientID: "cl-1", Name: "App", Deadline: nowT.Add(48 * time.Hour)})
	if err != nil {
		t.Fatalf("InsertProject: %v", err)
	}
	if _, err := s.InsertProject(ctx, Project{UserID: "u1", ClientID: "cl-1", Name: "Old", State: ProjectCompleted}); err != nil {
		t.Fatalf("InsertProject completed: %v", err)
	}

	active, err := s.ListActiveProjects(ctx, "u1")
	if err != nil {
		t.Fatalf("ListActiveProjects: %v", err)
	}
	if len(active) != 1 || active[0].ID != p.ID {
		t.Fatalf("active = %+v, want only %q", active, p.ID)
	}
	if active[0].Status != StatusOnTrack {
		t.Errorf("Status = %q, want %q", active[0].Status, StatusOnTrack)
	}

	if err := s.UpdateProjectStatus(ctx, p.ID, StatusAtRisk); err != nil {
		t.Fatalf("UpdateProjectStatus: %v", err)
	}
	got, err := s.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Status != StatusAtRisk {
		t.Errorf("Status = %q, want %q", got.Status, StatusAtRisk)
	}

	m, err := s.InsertMilestone(ctx, Milestone{ProjectID: p.ID, UserID: "u1", Title: "Beta", DueAt: nowT.Add(24 * time.Hour)})
	if err != nil {
		t.Fatalf("InsertMilestone: %v", err)
	}
	if _, err := s.InsertMilestone(ctx, Milestone{ProjectID: p.ID, UserID: "u1", Title: "Launch", DueAt: nowT.Add(10 * 24 * time.Hour)}); err != nil {
		t.Fatalf("InsertMilestone: %v", err)
	}

	due, err := s.ListDueMilestones(ctx, "u1", nowT, nowT.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("ListDueMilestones: %v", err)
	}
	if len(due) != 1 || due[0].Title != "Beta" {
		t.Errorf("due = %+v, want only Beta", due)
	}

	if ok, err := s.HasIncompleteMilestones(ctx, p.ID); err != nil || !ok {
		t.Errorf("HasIncompleteMilestones = %v, %v", ok, err)
	}
	if err := s.CompleteMilestone(ctx, m.ID); err != nil {
		t.Fatalf("CompleteMilestone: %v", err)
	}
	due, err = s.ListDueMilestones(ctx, "u1", nowT, nowT.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("ListDueMilestones: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("completed milestone still due: %+v", due)
	}
}

func TestInvoices_StatusAndTotals(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	invoices := []Invoice{
		{UserID: "u1", ClientID: "cl-1", Number: "1", AmountCents: 10000, Status: InvoicePaid, DueAt: start, PaidAt: start.Add(48 * time.Hour)},
		{UserID: "u1", ClientID: "cl-1", Number: "2", AmountCents: 5000, Status: InvoicePaid, DueAt: start.AddDate(0, -1, 0), PaidAt: start.Add(-time.Hour)},
		{UserID: "u1", ClientID: "cl-1", Number: "3", AmountCents: 20000, Status: InvoiceOverdue, DueAt: start.Add(-72 * time.Hour)},
		{UserID: "u1", ClientID: "cl-1", Number: "4", AmountCents: 7000, DueAt: start.AddDate(0, 0, 20)},
		{UserID: "u1", ClientID: "cl-1", Number: "5", AmountCents: 3000, DueAt: end.AddDate(0, 0, 5)},
	}
	var sent Invoice
	for _, inv := range invoices {
		stored, err := s.InsertInvoice(ctx, inv)
		if err != nil {
			t.Fatalf("InsertInvoice: %v", err)
		}
		if inv.Number == "4" {
			sent = stored
		}
	}

	totals, err := s.InvoiceTotals(ctx, "u1", start, end)
	if err != nil {
		t.Fatalf("InvoiceTotals: %v", err)
	}
	want := InvoiceTotals{Paid: 10000, Outstanding: 30000, Overdue: 20000, Expected: 27000}
	if totals != want {
		t.Errorf("totals = %+v, want %+v", totals, want)
	}

	if err := s.MarkInvoiceOverdue(ctx, sent.ID); err != nil {
		t.Fatalf("MarkInvoiceOverdue: %v", err)
	}
	if err := s.MarkInvoiceOverdue(ctx, sent.ID); err != nil {
		t.Errorf("MarkInvoiceOverdue twice: %v", err)
	}
	got, err := s.GetInvoice(ctx, sent.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if got.Status != InvoiceOverdue {
		t.Errorf("Status = %q, want %q", got.Status, InvoiceOverdue)
	}

	if err := s.MarkInvoicePaid(ctx, sent.ID, start.Add(time.Hour)); err != nil {
		t.Fatalf("MarkInvoicePaid: %v", err)
	}
	if err := s.MarkInvoiceOverdue(ctx, sent.ID); err != ErrInvalidTransition {
		t.Errorf("MarkInvoiceOverdue(paid) = %v, want ErrInvalidTransition", err)
	}
}

func TestCountBilledInvoicesForClient_IgnoresDrafts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	due := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.InsertInvoice(ctx, Invoice{UserID: "u1", ClientID: "cl-1", Number: "1", AmountCents: 100, Status: InvoiceDraft, DueAt: due}); err != nil {
		t.Fatalf("InsertInvoice: %v", err)
	}
	n, err := s.CountBilledInvoicesForClient(ctx, "cl-1")
	if err != nil {
		t.Fatalf("CountBilledInvoicesForClient: %v", err)
	}
	if n != 0 {
		t.Errorf("billed = %d, want 0 with only a draft", n)
	}

	if _, err := s.InsertInvoice(ctx, Invoice{UserID: "u1", ClientID: "cl-1", Number: "2", AmountCents: 100, Status: InvoicePaid, DueAt: due}); err != nil {
		t.Fatalf("InsertInvoice: %v", err)
	}
	if n, _ = s.CountBilledInvoicesForClient(ctx, "cl-1"); n != 1 {
		t.Errorf("billed = %d, want 1", n)
	}
	if n, _ = s.CountBilledInvoicesForClient(ctx, "cl-2"); n != 0 {
		t.Errorf("billed for other client = %d, want 0", n)
	}
}
