package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kalambet/missiond/internal/idgen"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// --- Leads ---

const leadColumns = `id, user_id, conversation_id, client_id, score, priority, classification, summary,
	status, converted_to_project_id, converted_at, created_at, updated_at`

func scanLead(row rowScanner) (Lead, error) {
	var l Lead
	var convertedAt, createdAt, updatedAt string
	err := row.Scan(&l.ID, &l.UserID, &l.ConversationID, &l.ClientID, &l.Score, &l.Priority, &l.Classification,
		&l.Summary, &l.Status, &l.ConvertedToProjectID, &convertedAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, err
	}
	if l.ConvertedAt, err = parseTime("converted_at", convertedAt); err != nil {
		return Lead{}, err
	}
	if l.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Lead{}, err
	}
	if l.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Lead{}, err
	}
	return l, nil
}

func (s *Store) GetLead(ctx context.Context, id string) (Lead, error) {
	return scanLead(s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id))
}

// GetLeadByConversation returns the single lead attached to a conversation.
func (s *Store) GetLeadByConversation(ctx context.Context, conversationID string) (Lead, error) {
	return scanLead(s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE conversation_id = ?`, conversationID))
}

// InsertLead creates a lead unless the conversation already has one. It
// returns the stored lead and whether this call created it.
func (s *Store) InsertLead(ctx context.Context, l Lead) (Lead, bool, error) {
	if l.ID == "" {
		l.ID = idgen.Must(idgen.PrefixLead)
	}
	if l.Status == "" {
		l.Status = LeadOpen
	}
	ts := now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (id, user_id, conversation_id, client_id, score, priority, classification, summary, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO NOTHING`,
		l.ID, l.UserID, l.ConversationID, l.ClientID, l.Score, l.Priority, l.Classification, l.Summary, l.Status, ts, ts,
	)
	if err != nil {
		return Lead{}, false, fmt.Errorf("inserting lead: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Lead{}, false, err
	}
	stored, err := s.GetLeadByConversation(ctx, l.ConversationID)
	if err != nil {
		return Lead{}, false, err
	}
	return stored, n == 1, nil
}

// UpdateLeadScore refreshes the scoring fields of an open lead. Converted
// leads are left untouched and yield ErrInvalidTransition.
func (s *Store) UpdateLeadScore(ctx context.Context, id string, score float64, priority, classification, summary string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET score = ?, priority = ?, classification = ?,
			summary = CASE WHEN ? != '' THEN ? ELSE summary END, updated_at = ?
		WHERE id = ? AND status != 'converted'`,
		score, priority, classification, summary, summary, now(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetLead(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// ListLeads returns a user's leads, highest score first. An empty status
// matches every status.
func (s *Store) ListLeads(ctx context.Context, userID, status string, limit int) ([]Lead, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+leadColumns+` FROM leads
		WHERE user_id = ? AND (? = '' OR status = ?)
		ORDER BY score DESC, created_at DESC LIMIT ?`,
		userID, status, status, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ConvertLead creates a project from a lead and marks the lead converted in
// one transaction. Converting an already converted lead returns the project
// created the first time and created=false.
func (s *Store) ConvertLead(ctx context.Context, leadID string, p Project) (Project, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Project{}, false, fmt.Errorf("beginning convert transaction: %w", err)
	}
	defer tx.Rollback()

	lead, err := scanLead(tx.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, leadID))
	if err != nil {
		return Project{}, false, err
	}
	if lead.Status == LeadConverted {
		existing, err := scanProject(tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, lead.ConvertedToProjectID))
		if err != nil {
			return Project{}, false, fmt.Errorf("loading converted project: %w", err)
		}
		return existing, false, nil
	}

	if p.ID == "" {
		p.ID = idgen.Must(idgen.PrefixProject)
	}
	p.UserID = lead.UserID
	p.ClientID = lead.ClientID
	p.SourceLeadID = lead.ID
	if p.State == "" {
		p.State = ProjectActive
	}
	if p.Status == "" {
		p.Status = StatusOnTrack
	}
	t := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = t, t
	if err := insertProject(ctx, tx, p); err != nil {
		return Project{}, false, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE leads SET status = 'converted', converted_to_project_id = ?, converted_at = ?, updated_at = ?
		WHERE id = ?`, p.ID, formatTime(t), formatTime(t), lead.ID); err != nil {
		return Project{}, false, fmt.Errorf("marking lead converted: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Project{}, false, fmt.Errorf("committing conversion: %w", err)
	}
	return p, true, nil
}

// --- Drafts ---

const draftColumns = `id, user_id, conversation_id, message_id, short_reply, detailed_reply, confidence,
	status, external_message_id, created_at, updated_at`

func scanDraft(row rowScanner) (Draft, error) {
	var d Draft
	var createdAt, updatedAt string
	err := row.Scan(&d.ID, &d.UserID, &d.ConversationID, &d.MessageID, &d.ShortReply, &d.DetailedReply,
		&d.Confidence, &d.Status, &d.ExternalMessageID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Draft{}, ErrNotFound
	}
	if err != nil {
		return Draft{}, err
	}
	if d.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Draft{}, err
	}
	if d.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Draft{}, err
	}
	return d, nil
}

// InsertDraft stores a reply draft unless one already exists for the same
// message. It returns the stored draft and whether this call created it.
func (s *Store) InsertDraft(ctx context.Context, d Draft) (Draft, bool, error) {
	if d.ID == "" {
		d.ID = idgen.Must(idgen.PrefixDraft)
	}
	if d.Status == "" {
		d.Status = DraftPending
	}
	ts := now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO drafts (id, user_id, conversation_id, message_id, short_reply, detailed_reply, confidence, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		d.ID, d.UserID, d.ConversationID, d.MessageID, d.ShortReply, d.DetailedReply, d.Confidence, d.Status, ts, ts,
	)
	if err != nil {
		return Draft{}, false, fmt.Errorf("inserting draft: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Draft{}, false, err
	}
	stored, err := scanDraft(s.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE message_id = ?`, d.MessageID))
	if err != nil {
		return Draft{}, false, err
	}
	return stored, n == 1, nil
}

func (s *Store) GetDraft(ctx context.Context, id string) (Draft, error) {
	return scanDraft(s.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id = ?`, id))
}

// DraftExistsForMessage reports whether a draft was already generated for a message.
func (s *Store) DraftExistsForMessage(ctx context.Context, messageID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM drafts WHERE message_id = ?`, messageID).Scan(&n)
	return n > 0, err
}

// SetDraftStatus moves a draft to status. externalID is recorded when non-empty.
func (s *Store) SetDraftStatus(ctx context.Context, id, status, externalID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE drafts SET status = ?,
			external_message_id = CASE WHEN ? != '' THEN ? ELSE external_message_id END,
			updated_at = ?
		WHERE id = ?`, status, externalID, externalID, now(), id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// ListDrafts returns a user's drafts, newest first. An empty status matches all.
func (s *Store) ListDrafts(ctx context.Context, userID, status string, limit int) ([]Draft, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+draftColumns+` FROM drafts
		WHERE user_id = ? AND (? = '' OR status = ?)
		ORDER BY created_at DESC LIMIT ?`,
		userID, status, status, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
