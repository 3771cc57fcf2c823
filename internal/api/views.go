package api

import (
	"encoding/json"
	"time"

	"github.com/kalambet/missiond/internal/storage"
)

// JSON views of storage records. Storage types carry no wire tags.

type missionView struct {
	Seq        int64     `json:"seq"`
	ID         string    `json:"id"`
	Event      string    `json:"event"`
	Mission    string    `json:"mission,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	ResourceID string    `json:"resource_id"`
	UserID     string    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func newMissionViews(logs []storage.MissionLog) []missionView {
	out := make([]missionView, len(logs))
	for i, l := range logs {
		out[i] = missionView{
			Seq:        l.Seq,
			ID:         l.ID,
			Event:      l.Event,
			Mission:    l.Handler,
			Status:     l.Status,
			Error:      l.Error,
			ResourceID: l.ResourceID,
			UserID:     l.UserID,
			CreatedAt:  l.CreatedAt,
		}
	}
	return out
}

type notificationView struct {
	ID         string          `json:"id"`
	Tier       string          `json:"tier"`
	Title      string          `json:"title"`
	Body       string          `json:"body"`
	EntityID   string          `json:"entity_id,omitempty"`
	EntityType string          `json:"entity_type,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	PushSent   bool            `json:"push_sent"`
	Read       bool            `json:"read"`
	CreatedAt  time.Time       `json:"created_at"`
}

func newNotificationViews(ns []storage.Notification) []notificationView {
	out := make([]notificationView, len(ns))
	for i, n := range ns {
		v := notificationView{
			ID:         n.ID,
			Tier:       n.Tier,
			Title:      n.Title,
			Body:       n.Body,
			EntityID:   n.EntityID,
			EntityType: n.EntityType,
			PushSent:   n.PushSent,
			Read:       n.Read,
			CreatedAt:  n.CreatedAt,
		}
		if json.Valid([]byte(n.Data)) {
			v.Data = json.RawMessage(n.Data)
		}
		out[i] = v
	}
	return out
}

type leadView struct {
	ID                   string    `json:"id"`
	ConversationID       string    `json:"conversation_id"`
	ClientID             string    `json:"client_id"`
	Score                float64   `json:"score"`
	Priority             string    `json:"priority"`
	Classification       string    `json:"classification"`
	Summary              string    `json:"summary"`
	Status               string    `json:"status"`
	ConvertedToProjectID string    `json:"converted_to_project_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func newLeadViews(leads []storage.Lead) []leadView {
	out := make([]leadView, len(leads))
	for i, l := range leads {
		out[i] = leadView{
			ID:                   l.ID,
			ConversationID:       l.ConversationID,
			ClientID:             l.ClientID,
			Score:                l.Score,
			Priority:             l.Priority,
			Classification:       l.Classification,
			Summary:              l.Summary,
			Status:               l.Status,
			ConvertedToProjectID: l.ConvertedToProjectID,
			CreatedAt:            l.CreatedAt,
			UpdatedAt:            l.UpdatedAt,
		}
	}
	return out
}

type draftView struct {
	ID                string    `json:"id"`
	ConversationID    string    `json:"conversation_id"`
	MessageID         string    `json:"message_id"`
	ShortReply        string    `json:"short_reply"`
	DetailedReply     string    `json:"detailed_reply"`
	Confidence        float64   `json:"confidence"`
	Status            string    `json:"status"`
	ExternalMessageID string    `json:"external_message_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func newDraftView(d storage.Draft) draftView {
	return draftView{
		ID:                d.ID,
		ConversationID:    d.ConversationID,
		MessageID:         d.MessageID,
		ShortReply:        d.ShortReply,
		DetailedReply:     d.DetailedReply,
		Confidence:        d.Confidence,
		Status:            d.Status,
		ExternalMessageID: d.ExternalMessageID,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func newDraftViews(drafts []storage.Draft) []draftView {
	out := make([]draftView, len(drafts))
	for i, d := range drafts {
		out[i] = newDraftView(d)
	}
	return out
}

type settingsView struct {
	UserID        string `json:"user_id"`
	MaxPushPerDay int    `json:"max_push_per_day"`
	QuietStart    int    `json:"quiet_start"`
	QuietEnd      int    `json:"quiet_end"`
	Timezone      string `json:"timezone"`
}
