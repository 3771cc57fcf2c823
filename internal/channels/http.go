package channels

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

// SlackSender posts to an incoming webhook. Webhooks return no message id,
// so Send returns a locally generated one.
type SlackSender struct {
	webhookURL string
	httpClient *http.Client
}

func NewSlackSender(webhookURL string) *SlackSender {
	return &SlackSender{webhookURL: webhookURL, httpClient: defaultHTTPClient}
}

func (s *SlackSender) Send(ctx context.Context, msg Outgoing) (string, error) {
	if err := postJSON(ctx, s.httpClient, s.webhookURL, nil, map[string]string{"text": msg.Text}, nil); err != nil {
		return "", fmt.Errorf("slack: %w", err)
	}
	return "slack-" + uuid.New().String(), nil
}

const telegramBaseURL = "https://api.telegram.org"

// TelegramSender calls the Bot API sendMessage method.
type TelegramSender struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewTelegramSender creates a sender. An empty baseURL uses the public Bot API.
func NewTelegramSender(token, baseURL string) *TelegramSender {
	if baseURL == "" {
		baseURL = telegramBaseURL
	}
	return &TelegramSender{token: token, baseURL: baseURL, httpClient: defaultHTTPClient}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (s *TelegramSender) Send(ctx context.Context, msg Outgoing) (string, error) {
	body := map[string]string{"chat_id": msg.To, "text": msg.Text}
	var resp telegramResponse
	url := s.baseURL + "/bot" + s.token + "/sendMessage"
	if err := postJSON(ctx, s.httpClient, url, nil, body, &resp); err != nil {
		return "", fmt.Errorf("telegram: %w", err)
	}
	if !resp.OK {
		return "", fmt.Errorf("telegram: %s", resp.Description)
	}
	return strconv.FormatInt(resp.Result.MessageID, 10), nil
}

const whatsAppBaseURL = "https://graph.facebook.com/v21.0"

// WhatsAppSender sends text messages through the WhatsApp Cloud API.
type WhatsAppSender struct {
	token      string
	phoneID    string
	baseURL    string
	httpClient *http.Client
}

// NewWhatsAppSender creates a sender for the business phone number phoneID.
// An empty baseURL uses the Graph API.
func NewWhatsAppSender(token, phoneID, baseURL string) *WhatsAppSender {
	if baseURL == "" {
		baseURL = whatsAppBaseURL
	}
	return &WhatsAppSender{token: token, phoneID: phoneID, baseURL: baseURL, httpClient: defaultHTTPClient}
}

type whatsAppRequest struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (s *WhatsAppSender) Send(ctx context.Context, msg Outgoing) (string, error) {
	req := whatsAppRequest{MessagingProduct: "whatsapp", To: msg.To, Type: "text"}
	req.Text.Body = msg.Text

	var resp whatsAppResponse
	headers := map[string]string{"Authorization": "Bearer " + s.token}
	if err := postJSON(ctx, s.httpClient, s.baseURL+"/"+s.phoneID+"/messages", headers, req, &resp); err != nil {
		return "", fmt.Errorf("whatsapp: %w", err)
	}
	if len(resp.Messages) == 0 {
		return "", fmt.Errorf("whatsapp: response has no message id")
	}
	return resp.Messages[0].ID, nil
}
