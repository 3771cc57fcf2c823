package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/missiond/internal/router"
	"github.com/kalambet/missiond/internal/storage"
)

func handleEvent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		// An undecodable body is still routed, as an empty envelope, so the
		// rejection lands in the audit log.
		var env router.Envelope
		decodeErr := json.NewDecoder(r.Body).Decode(&env)
		if decodeErr != nil {
			slog.Warn("invalid event envelope", "remote", r.RemoteAddr, "error", decodeErr)
			env = router.Envelope{}
		}

		res := deps.Router.Route(r.Context(), env)
		if decodeErr != nil {
			res.Error = "invalid envelope: " + decodeErr.Error()
		}
		writeJSON(w, statusFor(res), res)
	}
}

// MessageRequest is an inbound client message from a channel webhook.
type MessageRequest struct {
	UserID     string    `json:"user_id"`
	Channel    string    `json:"channel"`
	ExternalID string    `json:"external_id"`
	ClientName string    `json:"client_name"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sent_at"`
}

type messageResponse struct {
	MessageID      string        `json:"message_id"`
	ConversationID string        `json:"conversation_id"`
	ClientID       string        `json:"client_id"`
	Result         router.Result `json:"result"`
}

func (m MessageRequest) missing() string {
	switch {
	case m.UserID == "":
		return "user_id"
	case m.Channel == "":
		return "channel"
	case m.ExternalID == "":
		return "external_id"
	case strings.TrimSpace(m.Text) == "":
		return "text"
	}
	return ""
}

// handleMessage stores an inbound message under its client and conversation,
// then routes message.received for it. The response status follows the
// routing result; the message stays stored when its mission fails.
func handleMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req MessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		req.Channel = strings.ToLower(strings.TrimSpace(req.Channel))
		if field := req.missing(); field != "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s is required", field)
			return
		}
		if req.SentAt.IsZero() {
			req.SentAt = time.Now().UTC()
		}

		ctx := r.Context()
		client, err := deps.Store.UpsertClient(ctx, storage.Client{
			UserID:     req.UserID,
			Channel:    req.Channel,
			ExternalID: req.ExternalID,
			Name:       req.ClientName,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save client: %v", err)
			return
		}
		conv, err := deps.Store.UpsertConversation(ctx, storage.Conversation{
			UserID:        req.UserID,
			ClientID:      client.ID,
			Channel:       req.Channel,
			LastMessageAt: req.SentAt,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save conversation: %v", err)
			return
		}
		msg, err := deps.Store.SaveMessage(ctx, storage.Message{
			ConversationID: conv.ID,
			ClientID:       client.ID,
			UserID:         req.UserID,
			Direction:      "inbound",
			Text:           req.Text,
			SentAt:         req.SentAt,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save message: %v", err)
			return
		}
		if err := deps.Store.TouchConversation(ctx, conv.ID, req.SentAt); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update conversation: %v", err)
			return
		}

		res := deps.Router.Route(ctx, router.Envelope{
			Event:      string(router.EventMessageReceived),
			ResourceID: msg.ID,
			UserID:     req.UserID,
			Timestamp:  time.Now().UTC(),
		})
		writeJSON(w, statusFor(res), messageResponse{
			MessageID:      msg.ID,
			ConversationID: conv.ID,
			ClientID:       client.ID,
			Result:         res,
		})
	}
}
