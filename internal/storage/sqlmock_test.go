package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestCountPushSince_PropagatesQueryError(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("disk I/O error")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM notifications")).WillReturnError(boom)

	if _, err := s.CountPushSince(context.Background(), "u1", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestConvertLead_RollsBackOnProjectInsertFailure(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("constraint failed")

	cols := []string{"id", "user_id", "conversation_id", "client_id", "score", "priority", "classification", "summary",
		"status", "converted_to_project_id", "converted_at", "created_at", "updated_at"}
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM leads WHERE id = ?")).
		WithArgs("ld-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("ld-1", "u1", "cv-1", "cl-1", 0.9, "HOT", "hot_lead", "",
			"open", "", "", "2025-01-01T00:00:00Z", "2025-01-01T00:00:00Z"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO projects")).WillReturnError(boom)
	mock.ExpectRollback()

	_, _, err := s.ConvertLead(context.Background(), "ld-1", Project{Name: "Site"})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSaveMissionLog_WrapsExecError(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("database is locked")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO mission_logs")).WillReturnError(boom)

	_, err := s.SaveMissionLog(context.Background(), MissionLog{Event: "x", Status: MissionError})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}
}
