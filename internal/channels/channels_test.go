package channels

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/missiond/internal/config"
)

func TestRegistry_FromConfig(t *testing.T) {
	r := FromConfig(config.ChannelsConfig{
		SlackWebhookURL: "https://hooks.slack.test/x",
		TelegramToken:   "tok",
		WhatsAppToken:   "wa",
		// Phone id missing: WhatsApp stays unconfigured.
		SMTPAddr: "smtp.example.com:587",
		SMTPFrom: "me@example.com",
	})

	if diff := cmp.Diff([]string{Email, Slack, Telegram}, r.Channels()); diff != "" {
		t.Errorf("channels mismatch (-want +got):\n%s", diff)
	}
	if _, err := r.Lookup(WhatsApp); !errors.Is(err, ErrNoSender) {
		t.Errorf("Lookup(whatsapp) err = %v, want ErrNoSender", err)
	}
	if _, err := r.Lookup(Slack); err != nil {
		t.Errorf("Lookup(slack): %v", err)
	}
}

func TestSlackSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	id, err := NewSlackSender(srv.URL).Send(context.Background(), Outgoing{Text: "Hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["text"] != "Hello" {
		t.Errorf("payload = %v", got)
	}
	if !strings.HasPrefix(id, "slack-") {
		t.Errorf("id = %q", id)
	}
}

func TestSlackSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewSlackSender(srv.URL).Send(context.Background(), Outgoing{Text: "Hello"})
	if err == nil || !strings.Contains(err.Error(), "invalid_token") {
		t.Errorf("err = %v, want body in error", err)
	}
}

func TestTelegramSender(t *testing.T) {
	var path string
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"ok":true,"result":{"message_id":4711}}`))
	}))
	defer srv.Close()

	id, err := NewTelegramSender("T0K", srv.URL).Send(context.Background(), Outgoing{To: "12345", Text: "Hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "4711" {
		t.Errorf("id = %q, want 4711", id)
	}
	if path != "/botT0K/sendMessage" {
		t.Errorf("path = %q", path)
	}
	if body["chat_id"] != "12345" || body["text"] != "Hi" {
		t.Errorf("body = %v", body)
	}
}

func TestTelegramSender_NotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	_, err := NewTelegramSender("T0K", srv.URL).Send(context.Background(), Outgoing{To: "1", Text: "Hi"})
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("err = %v", err)
	}
}

func TestWhatsAppSender(t *testing.T) {
	var auth, path string
	var req whatsAppRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&req)
		w.Write([]byte(`{"messages":[{"id":"wamid.ABC"}]}`))
	}))
	defer srv.Close()

	id, err := NewWhatsAppSender("secret", "555", srv.URL).Send(context.Background(), Outgoing{To: "+15550001", Text: "Hola"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "wamid.ABC" {
		t.Errorf("id = %q", id)
	}
	if auth != "Bearer secret" || path != "/555/messages" {
		t.Errorf("auth = %q, path = %q", auth, path)
	}
	if req.MessagingProduct != "whatsapp" || req.To != "+15550001" || req.Text.Body != "Hola" {
		t.Errorf("request = %+v", req)
	}
}

func TestWhatsAppSender_NoMessageID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"messages":[]}`))
	}))
	defer srv.Close()

	if _, err := NewWhatsAppSender("s", "1", srv.URL).Send(context.Background(), Outgoing{To: "x", Text: "y"}); err == nil {
		t.Error("expected error for empty messages")
	}
}

func TestEmailSender(t *testing.T) {
	s := NewEmailSender("smtp.example.com:587", "me@example.com", "me", "pw")
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg string
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		if a == nil {
			t.Error("auth not configured")
		}
		return nil
	}

	id, err := s.Send(context.Background(), Outgoing{To: "ana@example.com", Subject: "Re: app", Text: "line1\nline2"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.HasPrefix(id, "<") || !strings.HasSuffix(id, "@example.com>") {
		t.Errorf("message id = %q", id)
	}
	if gotAddr != "smtp.example.com:587" || gotFrom != "me@example.com" || len(gotTo) != 1 || gotTo[0] != "ana@example.com" {
		t.Errorf("envelope = %q %q %v", gotAddr, gotFrom, gotTo)
	}
	for _, want := range []string{"Subject: Re: app\r\n", "Message-ID: " + id + "\r\n", "\r\n\r\nline1\r\nline2"} {
		if !strings.Contains(gotMsg, want) {
			t.Errorf("message missing %q:\n%s", want, gotMsg)
		}
	}
}

func TestEmailSender_RejectsHeaderInjection(t *testing.T) {
	s := NewEmailSender("localhost:25", "me@example.com", "", "")
	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("sendMail called")
		return nil
	}
	if _, err := s.Send(context.Background(), Outgoing{To: "a@b.c\r\nBcc: x@y.z", Text: "hi"}); err == nil {
		t.Error("expected error")
	}
}
