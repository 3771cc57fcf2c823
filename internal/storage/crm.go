package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kalambet/missiond/internal/idgen"
)

// --- Clients ---

// UpsertClient returns the client identified by (user, channel, external id),
// creating it when absent. A non-empty name refreshes the stored one.
func (s *Store) UpsertClient(ctx context.Context, c Client) (Client, error) {
	if c.ID == "" {
		c.ID = idgen.Must(idgen.PrefixClient)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, user_id, channel, external_id, name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, channel, external_id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE clients.name END`,
		c.ID, c.UserID, c.Channel, c.ExternalID, c.Name, formatTime(c.CreatedAt),
	)
	if err != nil {
		return Client{}, fmt.Errorf("upserting client: %w", err)
	}
	return s.scanClient(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, channel, external_id, name, created_at
		FROM clients WHERE user_id = ? AND channel = ? AND external_id = ?`,
		c.UserID, c.Channel, c.ExternalID))
}

func (s *Store) GetClient(ctx context.Context, id string) (Client, error) {
	return s.scanClient(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, channel, external_id, name, created_at
		FROM clients WHERE id = ?`, id))
}

func (s *Store) scanClient(row *sql.Row) (Client, error) {
	var c Client
	var createdAt string
	err := row.Scan(&c.ID, &c.UserID, &c.Channel, &c.ExternalID, &c.Name, &createdAt)
	if err == sql.ErrNoRows {
		return Client{}, ErrNotFound
	}
	if err != nil {
		return Client{}, err
	}
	if c.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Client{}, err
	}
	return c, nil
}

// --- Conversations ---

// UpsertConversation returns the conversation for (client, channel),
// creating it when absent.
func (s *Store) UpsertConversation(ctx context.Context, c Conversation) (Conversation, error) {
	if c.ID == "" {
		c.ID = idgen.Must(idgen.PrefixConversation)
	}
	ts := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = ts
	}
	if c.LastMessageAt.IsZero() {
		c.LastMessageAt = ts
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, client_id, channel, last_message_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id, channel) DO NOTHING`,
		c.ID, c.UserID, c.ClientID, c.Channel, formatTime(c.LastMessageAt), formatTime(c.CreatedAt),
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("upserting conversation: %w", err)
	}
	return s.scanConversation(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, client_id, channel, last_message_at, created_at
		FROM conversations WHERE client_id = ? AND channel = ?`, c.ClientID, c.Channel))
}

func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	return s.scanConversation(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, client_id, channel, last_message_at, created_at
		FROM conversations WHERE id = ?`, id))
}

// TouchConversation advances last_message_at; it never moves it backwards.
func (s *Store) TouchConversation(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = MAX(last_message_at, ?) WHERE id = ?`,
		formatTime(at), id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *Store) scanConversation(row *sql.Row) (Conversation, error) {
	var c Conversation
	var lastAt, createdAt string
	err := row.Scan(&c.ID, &c.UserID, &c.ClientID, &c.Channel, &lastAt, &createdAt)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	if c.LastMessageAt, err = parseTime("last_message_at", lastAt); err != nil {
		return Conversation{}, err
	}
	if c.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// --- Messages ---

func (s *Store) SaveMessage(ctx context.Context, m Message) (Message, error) {
	if m.ID == "" {
		m.ID = idgen.Must(idgen.PrefixMessage)
	}
	if m.Direction == "" {
		m.Direction = "inbound"
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, client_id, user_id, direction, text, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.ClientID, m.UserID, m.Direction, m.Text, formatTime(m.SentAt),
	)
	if err != nil {
		return Message{}, fmt.Errorf("saving message: %w", err)
	}
	return m, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (Message, error) {
	var m Message
	var sentAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, client_id, user_id, direction, text, sent_at
		FROM messages WHERE id = ?`, id,
	).Scan(&m.ID, &m.ConversationID, &m.ClientID, &m.UserID, &m.Direction, &m.Text, &sentAt)
	if err == sql.ErrNoRows {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}
	if m.SentAt, err = parseTime("sent_at", sentAt); err != nil {
		return Message{}, err
	}
	return m, nil
}

// RecentMessages returns up to limit messages of a conversation, oldest
// first. When beforeID is set only messages that precede it are returned,
// so reprocessing an old message never sees later turns as history.
func (s *Store) RecentMessages(ctx context.Context, conversationID, beforeID string, limit int) ([]Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if beforeID == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, conversation_id, client_id, user_id, direction, text, sent_at FROM (
				SELECT *, rowid AS seq FROM messages
				WHERE conversation_id = ?
				ORDER BY sent_at DESC, rowid DESC LIMIT ?
			) ORDER BY sent_at ASC, seq ASC`,
			conversationID, limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, conversation_id, client_id, user_id, direction, text, sent_at FROM (
				SELECT m.*, m.rowid AS seq FROM messages m
				JOIN messages cur ON cur.id = ?
				WHERE m.conversation_id = ? AND m.id != cur.id
				  AND (m.sent_at < cur.sent_at OR (m.sent_at = cur.sent_at AND m.rowid < cur.rowid))
				ORDER BY m.sent_at DESC, m.rowid DESC LIMIT ?
			) ORDER BY sent_at ASC, seq ASC`,
			beforeID, conversationID, limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var sentAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.ClientID, &m.UserID, &m.Direction, &m.Text, &sentAt); err != nil {
			return nil, err
		}
		if m.SentAt, err = parseTime("sent_at", sentAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
