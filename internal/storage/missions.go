package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/missiond/internal/idgen"
)

const missionLogColumns = `rowid, id, event, handler, status, error, resource_id, user_id, created_at`

func scanMissionLog(row rowScanner) (MissionLog, error) {
	var l MissionLog
	var createdAt string
	if err := row.Scan(&l.Seq, &l.ID, &l.Event, &l.Handler, &l.Status, &l.Error, &l.ResourceID, &l.UserID, &createdAt); err != nil {
		return MissionLog{}, err
	}
	var err error
	if l.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return MissionLog{}, err
	}
	return l, nil
}

// SaveMissionLog appends one audit record. Records are never updated.
func (s *Store) SaveMissionLog(ctx context.Context, l MissionLog) (MissionLog, error) {
	if l.ID == "" {
		l.ID = idgen.Must(idgen.PrefixMissionLog)
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO mission_logs (id, event, handler, status, error, resource_id, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Event, l.Handler, l.Status, l.Error, l.ResourceID, l.UserID, formatTime(l.CreatedAt),
	)
	if err != nil {
		return MissionLog{}, fmt.Errorf("saving mission log: %w", err)
	}
	if l.Seq, err = res.LastInsertId(); err != nil {
		return MissionLog{}, err
	}
	return l, nil
}

// ListMissionLogs returns audit records newest first.
func (s *Store) ListMissionLogs(ctx context.Context, limit, offset int) ([]MissionLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+missionLogColumns+` FROM mission_logs
		ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MissionLog
	for rows.Next() {
		l, err := scanMissionLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// MissionLogsAfter returns audit records with Seq greater than afterSeq,
// in insertion order.
func (s *Store) MissionLogsAfter(ctx context.Context, afterSeq int64, limit int) ([]MissionLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+missionLogColumns+` FROM mission_logs
		WHERE rowid > ? ORDER BY rowid ASC LIMIT ?`, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MissionLog
	for rows.Next() {
		l, err := scanMissionLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CountMissionLogs returns the number of audit records per status.
func (s *Store) CountMissionLogs(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM mission_logs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
