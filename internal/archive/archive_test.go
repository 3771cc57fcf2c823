package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/missiond/internal/events"
	"github.com/kalambet/missiond/internal/storage"
)

type memDestination struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (m *memDestination) Write(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func saveLogs(t *testing.T, s *storage.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := s.SaveMissionLog(context.Background(), storage.MissionLog{
			Event: "message.received", Handler: "process_message", Status: storage.MissionDispatched,
			ResourceID: "msg-1", UserID: "u1",
		}); err != nil {
			t.Fatalf("SaveMissionLog: %v", err)
		}
	}
}

func decodeLines(t *testing.T, data []byte) []events.MissionRecord {
	t.Helper()
	var out []events.MissionRecord
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var rec events.MissionRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("decoding line %q: %v", sc.Text(), err)
		}
		out = append(out, rec)
	}
	return out
}

func TestExport_Incremental(t *testing.T) {
	s := openStore(t)
	dest := &memDestination{}
	e := NewExporter(s, dest, "audit/prod")
	e.batch = 2
	e.now = func() time.Time { return time.Date(2026, 6, 1, 0, 15, 0, 0, time.UTC) }
	ctx := context.Background()

	saveLogs(t, s, 5)
	res, err := e.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if res.Records != 5 || res.Key != "audit/prod/missions-20260601T001500Z.jsonl" {
		t.Fatalf("result = %+v", res)
	}
	recs := decodeLines(t, dest.objects[res.Key])
	if len(recs) != 5 {
		t.Fatalf("exported %d lines, want 5", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Seq <= recs[i-1].Seq {
			t.Errorf("records out of order: %d after %d", recs[i].Seq, recs[i-1].Seq)
		}
	}
	if recs[0].Mission != "process_message" || recs[0].Status != storage.MissionDispatched {
		t.Errorf("record = %+v", recs[0])
	}

	// Nothing new: no object, cursor unchanged.
	res, err = e.Export(ctx)
	if err != nil || res.Records != 0 || res.Key != "" {
		t.Fatalf("second Export = %+v, %v", res, err)
	}

	saveLogs(t, s, 1)
	e.now = func() time.Time { return time.Date(2026, 6, 2, 0, 15, 0, 0, time.UTC) }
	res, err = e.Export(ctx)
	if err != nil {
		t.Fatalf("third Export: %v", err)
	}
	if res.Records != 1 || res.LastSeq != recs[4].Seq+1 {
		t.Errorf("third export = %+v, want only the new record", res)
	}
	if len(dest.objects) != 2 {
		t.Errorf("objects = %d, want 2", len(dest.objects))
	}
}

func TestExport_FailedUploadKeepsCursor(t *testing.T) {
	s := openStore(t)
	dest := &memDestination{err: errors.New("bucket unavailable")}
	e := NewExporter(s, dest, "")
	ctx := context.Background()
	saveLogs(t, s, 3)

	if _, err := e.Export(ctx); err == nil {
		t.Fatal("expected upload error")
	}
	if _, err := s.GetCursor(ctx, CursorName); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("cursor advanced after failed upload: %v", err)
	}

	dest.err = nil
	res, err := e.Export(ctx)
	if err != nil {
		t.Fatalf("retry Export: %v", err)
	}
	if res.Records != 3 || !strings.HasPrefix(res.Key, "missions-") {
		t.Errorf("retry result = %+v", res)
	}
}

func TestExport_BadCursor(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	if err := s.SetCursor(ctx, CursorName, "not-a-number"); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	if _, err := NewExporter(s, &memDestination{}, "").Export(ctx); err == nil {
		t.Error("expected cursor parse error")
	}
}

func TestS3Destination_PutObject(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "credentials"))

	var mu sync.Mutex
	var method, path, contentType string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		method, path, contentType = r.Method, r.URL.Path, r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	dest, err := NewS3Destination(ctx, "audit", "us-east-1", srv.URL)
	if err != nil {
		t.Fatalf("NewS3Destination: %v", err)
	}
	if err := dest.Write(ctx, "prod/missions-1.jsonl", []byte("{\"seq\":1}\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut || path != "/audit/prod/missions-1.jsonl" {
		t.Errorf("request = %s %s", method, path)
	}
	if contentType != "application/x-ndjson" {
		t.Errorf("content type = %q", contentType)
	}
	if !bytes.Contains(body, []byte(`{"seq":1}`)) {
		t.Errorf("body = %q", body)
	}
}
