// Package channels delivers outbound replies to clients over the messaging
// channel their conversation came from.
package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/kalambet/missiond/internal/config"
)

// Channel names as stored on clients and conversations.
const (
	Slack    = "slack"
	Telegram = "telegram"
	WhatsApp = "whatsapp"
	Email    = "email"
)

// ErrNoSender is returned for a channel with no configured sender.
var ErrNoSender = errors.New("no sender configured for channel")

// Outgoing is one message to a client. To is the client's identifier on
// the channel: a chat id, phone number or email address.
type Outgoing struct {
	To      string
	Subject string
	Text    string
}

// Sender delivers a message and returns the channel's id for it.
type Sender interface {
	Send(ctx context.Context, msg Outgoing) (externalID string, err error)
}

// Registry maps channel names to senders.
type Registry struct {
	senders map[string]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[string]Sender)}
}

// FromConfig registers a sender for every channel that has credentials.
func FromConfig(cfg config.ChannelsConfig) *Registry {
	r := NewRegistry()
	if cfg.SlackWebhookURL != "" {
		r.Register(Slack, NewSlackSender(cfg.SlackWebhookURL))
	}
	if cfg.TelegramToken != "" {
		r.Register(Telegram, NewTelegramSender(cfg.TelegramToken, ""))
	}
	if cfg.WhatsAppToken != "" && cfg.WhatsAppPhoneID != "" {
		r.Register(WhatsApp, NewWhatsAppSender(cfg.WhatsAppToken, cfg.WhatsAppPhoneID, ""))
	}
	if cfg.SMTPAddr != "" && cfg.SMTPFrom != "" {
		r.Register(Email, NewEmailSender(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUsername, cfg.SMTPPassword))
	}
	return r
}

func (r *Registry) Register(channel string, s Sender) {
	r.senders[channel] = s
}

// Lookup returns the sender for channel, or ErrNoSender.
func (r *Registry) Lookup(channel string) (Sender, error) {
	s, ok := r.senders[channel]
	if !ok {
		return nil, fmt.Errorf("%s: %w", channel, ErrNoSender)
	}
	return s, nil
}

// Channels returns the configured channel names, sorted.
func (r *Registry) Channels() []string {
	out := make([]string, 0, len(r.senders))
	for name := range r.senders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var defaultHTTPClient = &http.Client{Timeout: 15 * time.Second}

// postJSON posts body as JSON and decodes a 2xx response into out when out
// is non-nil. Non-2xx responses are returned as errors carrying the body.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, respBody)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
