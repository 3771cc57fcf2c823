package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kalambet/missiond/internal/channels"
	"github.com/kalambet/missiond/internal/missions"
	"github.com/kalambet/missiond/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockSender struct {
	mu     sync.Mutex
	sent   []channels.Outgoing
	sendFn func(msg channels.Outgoing) (string, error)
}

func (m *mockSender) Send(ctx context.Context, msg channels.Outgoing) (string, error) {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	if m.sendFn != nil {
		return m.sendFn(msg)
	}
	return "ext-1", nil
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedApprovedDraft stores a client, conversation, message and approved
// draft on channel and enqueues its reply_send job.
func seedApprovedDraft(t *testing.T, store *storage.Store, channel string) (storage.Draft, string) {
	t.Helper()
	ctx := context.Background()
	c, err := store.UpsertClient(ctx, storage.Client{UserID: "u1", Channel: channel, ExternalID: "chat-42", Name: "Ana"})
	if err != nil {
		t.Fatalf("UpsertClient: %v", err)
	}
	conv, err := store.UpsertConversation(ctx, storage.Conversation{UserID: "u1", ClientID: c.ID, Channel: channel})
	if err != nil {
		t.Fatalf("UpsertConversation: %v", err)
	}
	m, err := store.SaveMessage(ctx, storage.Message{ConversationID: conv.ID, ClientID: c.ID, UserID: "u1", Text: "Price?"})
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	d, _, err := store.InsertDraft(ctx, storage.Draft{
		UserID: "u1", ConversationID: conv.ID, MessageID: m.ID,
		ShortReply: "About $5k.", DetailedReply: "Hi Ana,\nthe project would be about $5k.",
		Status: storage.DraftApproved,
	})
	if err != nil {
		t.Fatalf("InsertDraft: %v", err)
	}

	payload, _ := json.Marshal(missions.ReplyJob{DraftID: d.ID, UserID: "u1"})
	jobID := "job-" + d.ID
	if err := store.EnqueueJob(ctx, storage.Job{ID: jobID, Type: missions.JobReplySend, PayloadJSON: string(payload)}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return d, jobID
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID); err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func jobStatus(t *testing.T, store *storage.Store, jobID string) (string, int) {
	t.Helper()
	var status string
	var attempts int
	if err := store.DB().QueryRow(`SELECT status, attempts FROM jobs WHERE id = ?`, jobID).Scan(&status, &attempts); err != nil {
		t.Fatalf("query job: %v", err)
	}
	return status, attempts
}

func registryWith(channel string, s channels.Sender) *channels.Registry {
	r := channels.NewRegistry()
	r.Register(channel, s)
	return r
}

func TestWorker_SendsReply(t *testing.T) {
	store := openTestStore(t)
	d, jobID := seedApprovedDraft(t, store, channels.Telegram)
	sender := &mockSender{}
	w := NewWorker(store, registryWith(channels.Telegram, sender), 0)

	ctx := context.Background()
	didWork, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	if sender.count() != 1 {
		t.Fatalf("sent %d messages, want 1", sender.count())
	}
	if got := sender.sent[0]; got.To != "chat-42" || got.Text != "About $5k." {
		t.Errorf("sent = %+v", got)
	}

	got, _ := store.GetDraft(ctx, d.ID)
	if got.Status != storage.DraftSent || got.ExternalMessageID != "ext-1" {
		t.Errorf("draft = %q/%q, want sent/ext-1", got.Status, got.ExternalMessageID)
	}
	if status, _ := jobStatus(t, store, jobID); status != "completed" {
		t.Errorf("job status = %q, want completed", status)
	}

	history, err := store.RecentMessages(ctx, d.ConversationID, "", 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	outbound := 0
	for _, m := range history {
		if m.Direction == "outbound" && m.Text == "About $5k." {
			outbound++
		}
	}
	if len(history) != 2 || outbound != 1 {
		t.Errorf("history = %+v, want outbound reply recorded", history)
	}
}

func TestWorker_EmailUsesDetailedReply(t *testing.T) {
	store := openTestStore(t)
	seedApprovedDraft(t, store, channels.Email)
	sender := &mockSender{}
	w := NewWorker(store, registryWith(channels.Email, sender), 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("sent %d, want 1", sender.count())
	}
	if got := sender.sent[0]; got.Subject == "" || got.Text != "Hi Ana,\nthe project would be about $5k." {
		t.Errorf("sent = %+v", got)
	}
}

func TestWorker_SkipsDraftNoLongerApproved(t *testing.T) {
	store := openTestStore(t)
	d, jobID := seedApprovedDraft(t, store, channels.Slack)
	ctx := context.Background()
	if err := store.SetDraftStatus(ctx, d.ID, storage.DraftDismissed, ""); err != nil {
		t.Fatalf("SetDraftStatus: %v", err)
	}
	sender := &mockSender{}
	w := NewWorker(store, registryWith(channels.Slack, sender), 0)

	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sender.count() != 0 {
		t.Error("dismissed draft was sent")
	}
	if status, _ := jobStatus(t, store, jobID); status != "completed" {
		t.Errorf("job status = %q, want completed", status)
	}
}

func TestWorker_NoSenderFailsDraft(t *testing.T) {
	store := openTestStore(t)
	d, jobID := seedApprovedDraft(t, store, channels.WhatsApp)
	w := NewWorker(store, channels.NewRegistry(), 0)

	ctx := context.Background()
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	got, _ := store.GetDraft(ctx, d.ID)
	if got.Status != storage.DraftFailed {
		t.Errorf("draft status = %q, want failed", got.Status)
	}
	if status, _ := jobStatus(t, store, jobID); status != "completed" {
		t.Errorf("job status = %q, want completed", status)
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	d, jobID := seedApprovedDraft(t, store, channels.Slack)

	calls := 0
	sender := &mockSender{sendFn: func(channels.Outgoing) (string, error) {
		calls++
		if calls == 1 {
			return "", fmt.Errorf("transient error")
		}
		return "ext-2", nil
	}}
	w := NewWorker(store, registryWith(channels.Slack, sender), 0)
	ctx := context.Background()

	// 1st attempt fails and is rescheduled.
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce 1: %v", err)
	}
	status, attempts := jobStatus(t, store, jobID)
	if status != "pending" || attempts != 1 {
		t.Errorf("after 1st fail: status=%q attempts=%d, want pending/1", status, attempts)
	}
	if got, _ := store.GetDraft(ctx, d.ID); got.Status != storage.DraftApproved {
		t.Errorf("draft status after transient failure = %q, want approved", got.Status)
	}

	resetRunAfter(t, store, jobID)

	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce 2: %v", err)
	}
	if status, _ := jobStatus(t, store, jobID); status != "completed" {
		t.Errorf("after 2nd attempt: status=%q, want completed", status)
	}
	if got, _ := store.GetDraft(ctx, d.ID); got.Status != storage.DraftSent || got.ExternalMessageID != "ext-2" {
		t.Errorf("draft = %+v", got)
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	d, jobID := seedApprovedDraft(t, store, channels.Slack)
	sender := &mockSender{sendFn: func(channels.Outgoing) (string, error) {
		return "", errors.New("permanent error")
	}}
	w := NewWorker(store, registryWith(channels.Slack, sender), 0)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		if i < 3 {
			resetRunAfter(t, store, jobID)
		}
	}

	if status, _ := jobStatus(t, store, jobID); status != "failed" {
		t.Errorf("final status = %q, want failed", status)
	}
	if got, _ := store.GetDraft(ctx, d.ID); got.Status != storage.DraftFailed {
		t.Errorf("draft status = %q, want failed", got.Status)
	}
}

func TestWorker_EmptyQueue(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, channels.NewRegistry(), 0)
	didWork, err := w.RunOnce(context.Background())
	if err != nil || didWork {
		t.Errorf("RunOnce = %v, %v; want false, nil", didWork, err)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	seedApprovedDraft(t, store, channels.Slack)
	sender := &mockSender{}
	w := NewWorker(store, registryWith(channels.Slack, sender), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if sender.count() != 1 {
		t.Errorf("sent %d, want 1", sender.count())
	}
}
