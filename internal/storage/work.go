package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kalambet/missiond/internal/idgen"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// --- Tasks ---

const taskColumns = `id, user_id, title, description, priority, status, entity_id, due_at, created_at`

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var dueAt, createdAt string
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Priority, &t.Status, &t.EntityID, &dueAt, &createdAt)
	if err == sql.ErrNoRows {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, err
	}
	if t.DueAt, err = parseTime("due_at", dueAt); err != nil {
		return Task{}, err
	}
	if t.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *Store) InsertTask(ctx context.Context, t Task) (Task, error) {
	if t.ID == "" {
		t.ID = idgen.Must(idgen.PrefixTask)
	}
	if t.Priority == "" {
		t.Priority = "medium"
	}
	if t.Status == "" {
		t.Status = "pending"
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, user_id, title, description, priority, status, entity_id, due_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Title, t.Description, t.Priority, t.Status, t.EntityID, formatTime(t.DueAt), formatTime(t.CreatedAt),
	)
	if err != nil {
		return Task{}, fmt.Errorf("inserting task: %w", err)
	}
	return t, nil
}

// ListPendingTasks returns pending tasks, high priority and earliest due first.
func (s *Store) ListPendingTasks(ctx context.Context, userID string, limit int) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE user_id = ? AND status = 'pending'
		ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END,
			CASE WHEN due_at = '' THEN 1 ELSE 0 END, due_at ASC, created_at ASC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// HasRecentTaskLike reports whether a task whose title contains substr was
// created for the user at or after since.
func (s *Store) HasRecentTaskLike(ctx context.Context, userID, substr string, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE user_id = ? AND instr(title, ?) > 0 AND created_at >= ?`,
		userID, substr, formatTime(since),
	).Scan(&n)
	return n > 0, err
}

// HasRecentTaskForEntity reports whether a task referencing entityID was
// created for the user at or after since.
func (s *Store) HasRecentTaskForEntity(ctx context.Context, userID, entityID string, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE user_id = ? AND entity_id = ? AND created_at >= ?`,
		userID, entityID, formatTime(since),
	).Scan(&n)
	return n > 0, err
}

// CountTasks returns the number of tasks a user has, in any status.
func (s *Store) CountTasks(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// --- Projects ---

const projectColumns = `id, user_id, client_id, name, state, status, deadline, source_lead_id, created_at, updated_at`

func scanProject(row rowScanner) (Project, error) {
	var p Project
	var deadline, createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.UserID, &p.ClientID, &p.Name, &p.State, &p.Status, &deadline, &p.SourceLeadID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, err
	}
	if p.Deadline, err = parseTime("deadline", deadline); err != nil {
		return Project{}, err
	}
	if p.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Project{}, err
	}
	if p.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Project{}, err
	}
	return p, nil
}

func insertProject(ctx context.Context, db execer, p Project) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO projects (id, user_id, client_id, name, state, status, deadline, source_lead_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.ClientID, p.Name, p.State, p.Status, formatTime(p.Deadline), p.SourceLeadID,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting project: %w", err)
	}
	return nil
}

func (s *Store) InsertProject(ctx context.Context, p Project) (Project, error) {
	if p.ID == "" {
		p.ID = idgen.Must(idgen.PrefixProject)
	}
	if p.State == "" {
		p.State = ProjectActive
	}
	if p.Status == "" {
		p.Status = StatusOnTrack
	}
	t := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = t
	}
	p.UpdatedAt = t
	if err := insertProject(ctx, s.db, p); err != nil {
		return Project{}, err
	}
	return p, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (Project, error) {
	return scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
}

// ListActiveProjects returns a user's active projects, nearest deadline first.
func (s *Store) ListActiveProjects(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects
		WHERE user_id = ? AND state = 'active'
		ORDER BY CASE WHEN deadline = '' THEN 1 ELSE 0 END, deadline ASC, created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdateProjectStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`, status, now(), id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// CountProjectsForClient returns how many projects a client has had.
func (s *Store) CountProjectsForClient(ctx context.Context, clientID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE client_id = ?`, clientID).Scan(&n)
	return n, err
}

// CountBilledInvoicesForClient returns how many non-draft invoices a client
// has been issued.
func (s *Store) CountBilledInvoicesForClient(ctx context.Context, clientID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invoices WHERE client_id = ? AND status != ?`, clientID, InvoiceDraft,
	).Scan(&n)
	return n, err
}

// --- Milestones ---

const milestoneColumns = `id, project_id, user_id, title, due_at, completed, created_at`

func scanMilestone(row rowScanner) (Milestone, error) {
	var m Milestone
	var dueAt, createdAt string
	err := row.Scan(&m.ID, &m.ProjectID, &m.UserID, &m.Title, &dueAt, &m.Completed, &createdAt)
	if err == sql.ErrNoRows {
		return Milestone{}, ErrNotFound
	}
	if err != nil {
		return Milestone{}, err
	}
	if m.DueAt, err = parseTime("due_at", dueAt); err != nil {
		return Milestone{}, err
	}
	if m.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Milestone{}, err
	}
	return m, nil
}

func (s *Store) InsertMilestone(ctx context.Context, m Milestone) (Milestone, error) {
	if m.ID == "" {
		m.ID = idgen.Must(idgen.PrefixMilestone)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO milestones (id, project_id, user_id, title, due_at, completed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, m.UserID, m.Title, formatTime(m.DueAt), boolToInt(m.Completed), formatTime(m.CreatedAt),
	)
	if err != nil {
		return Milestone{}, fmt.Errorf("inserting milestone: %w", err)
	}
	return m, nil
}

// ListDueMilestones returns a user's incomplete milestones due in [from, to].
func (s *Store) ListDueMilestones(ctx context.Context, userID string, from, to time.Time) ([]Milestone, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+milestoneColumns+` FROM milestones
		WHERE user_id = ? AND completed = 0 AND due_at >= ? AND due_at <= ?
		ORDER BY due_at ASC`, userID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// HasIncompleteMilestones reports whether a project has any open milestone.
func (s *Store) HasIncompleteMilestones(ctx context.Context, projectID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM milestones WHERE project_id = ? AND completed = 0`, projectID).Scan(&n)
	return n > 0, err
}

func (s *Store) CompleteMilestone(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE milestones SET completed = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// --- Invoices ---

const invoiceColumns = `id, user_id, client_id, project_id, number, amount_cents, currency, status, due_at, paid_at, created_at`

func scanInvoice(row rowScanner) (Invoice, error) {
	var inv Invoice
	var dueAt, paidAt, createdAt string
	err := row.Scan(&inv.ID, &inv.UserID, &inv.ClientID, &inv.ProjectID, &inv.Number, &inv.AmountCents,
		&inv.Currency, &inv.Status, &dueAt, &paidAt, &createdAt)
	if err == sql.ErrNoRows {
		return Invoice{}, ErrNotFound
	}
	if err != nil {
		return Invoice{}, err
	}
	if inv.DueAt, err = parseTime("due_at", dueAt); err != nil {
		return Invoice{}, err
	}
	if inv.PaidAt, err = parseTime("paid_at", paidAt); err != nil {
		return Invoice{}, err
	}
	if inv.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

func (s *Store) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	if inv.ID == "" {
		inv.ID = idgen.Must(idgen.PrefixInvoice)
	}
	if inv.Currency == "" {
		inv.Currency = "USD"
	}
	if inv.Status == "" {
		inv.Status = InvoiceSent
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, user_id, client_id, project_id, number, amount_cents, currency, status, due_at, paid_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.UserID, inv.ClientID, inv.ProjectID, inv.Number, inv.AmountCents, inv.Currency, inv.Status,
		formatTime(inv.DueAt), formatTime(inv.PaidAt), formatTime(inv.CreatedAt),
	)
	if err != nil {
		return Invoice{}, fmt.Errorf("inserting invoice: %w", err)
	}
	return inv, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	return scanInvoice(s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id))
}

// MarkInvoiceOverdue moves a sent invoice to overdue. It is a no-op for
// invoices already overdue and ErrInvalidTransition for paid or draft ones.
func (s *Store) MarkInvoiceOverdue(ctx context.Context, id string) error {
	inv, err := s.GetInvoice(ctx, id)
	if err != nil {
		return err
	}
	switch inv.Status {
	case InvoiceOverdue:
		return nil
	case InvoiceSent:
	default:
		return ErrInvalidTransition
	}
	_, err = s.db.ExecContext(ctx, `UPDATE invoices SET status = 'overdue' WHERE id = ? AND status = 'sent'`, id)
	return err
}

func (s *Store) MarkInvoicePaid(ctx context.Context, id string, paidAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE invoices SET status = 'paid', paid_at = ? WHERE id = ?`, formatTime(paidAt), id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// InvoiceTotals sums a user's invoices for the period [start, end).
// Outstanding and overdue are point-in-time and ignore the period.
func (s *Store) InvoiceTotals(ctx context.Context, userID string, start, end time.Time) (InvoiceTotals, error) {
	var t InvoiceTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'paid' AND paid_at >= ? AND paid_at < ? THEN amount_cents END), 0),
			COALESCE(SUM(CASE WHEN status IN ('sent', 'overdue') THEN amount_cents END), 0),
			COALESCE(SUM(CASE WHEN status = 'overdue' THEN amount_cents END), 0),
			COALESCE(SUM(CASE WHEN status IN ('sent', 'overdue') AND due_at < ? THEN amount_cents END), 0)
		FROM invoices WHERE user_id = ?`,
		formatTime(start), formatTime(end), formatTime(end), userID,
	).Scan(&t.Paid, &t.Outstanding, &t.Overdue, &t.Expected)
	return t, err
}
