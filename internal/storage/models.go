package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a status change is not allowed from
// the record's current state (for example converting an already converted lead).
var ErrInvalidTransition = errors.New("invalid status transition")

type Client struct {
	ID         string
	UserID     string
	Channel    string
	ExternalID string
	Name       string
	CreatedAt  time.Time
}

type Conversation struct {
	ID            string
	UserID        string
	ClientID      string
	Channel       string
	LastMessageAt time.Time
	CreatedAt     time.Time
}

type Message struct {
	ID             string
	ConversationID string
	ClientID       string
	UserID         string
	Direction      string // "inbound", "outbound"
	Text           string
	SentAt         time.Time
}

// Lead statuses.
const (
	LeadOpen      = "open"
	LeadConverted = "converted"
)

type Lead struct {
	ID                   string
	UserID               string
	ConversationID       string
	ClientID             string
	Score                float64
	Priority             string
	Classification       string
	Summary              string
	Status               string
	ConvertedToProjectID string
	ConvertedAt          time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Draft statuses.
const (
	DraftPending   = "pending"
	DraftApproved  = "approved"
	DraftSent      = "sent"
	DraftDismissed = "dismissed"
	DraftFailed    = "failed"
)

type Draft struct {
	ID                string
	UserID            string
	ConversationID    string
	MessageID         string
	ShortReply        string
	DetailedReply     string
	Confidence        float64
	Status            string
	ExternalMessageID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Task struct {
	ID          string
	UserID      string
	Title       string
	Description string
	Priority    string // "low", "medium", "high"
	Status      string // "pending", "done"
	EntityID    string
	DueAt       time.Time
	CreatedAt   time.Time
}

// Project lifecycle states and health statuses.
const (
	ProjectActive    = "active"
	ProjectCompleted = "completed"

	StatusOnTrack = "on_track"
	StatusAtRisk  = "at_risk"
	StatusOverdue = "overdue"
)

type Project struct {
	ID           string
	UserID       string
	ClientID     string
	Name         string
	State        string
	Status       string
	Deadline     time.Time // zero when the project has no deadline
	SourceLeadID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Milestone struct {
	ID        string
	ProjectID string
	UserID    string
	Title     string
	DueAt     time.Time
	Completed bool
	CreatedAt time.Time
}

// Invoice statuses.
const (
	InvoiceDraft   = "draft"
	InvoiceSent    = "sent"
	InvoicePaid    = "paid"
	InvoiceOverdue = "overdue"
)

type Invoice struct {
	ID          string
	UserID      string
	ClientID    string
	ProjectID   string
	Number      string
	AmountCents int64
	Currency    string
	Status      string
	DueAt       time.Time
	PaidAt      time.Time
	CreatedAt   time.Time
}

// InvoiceTotals aggregates invoice amounts for a user, in cents.
type InvoiceTotals struct {
	Paid        int64 // paid since the period start
	Outstanding int64 // sent or overdue
	Overdue     int64
	Expected    int64 // unpaid, due before the period end
}

type Notification struct {
	ID         string
	UserID     string
	Tier       string
	Title      string
	Body       string
	EntityID   string
	EntityType string
	Data       string // JSON object stored as text
	PushSent   bool
	EmailSent  bool
	Read       bool
	CreatedAt  time.Time
}

// Mission log statuses.
const (
	MissionDispatched   = "dispatched"
	MissionError        = "error"
	MissionUnknownEvent = "unknown_event"
)

type MissionLog struct {
	Seq        int64 // insertion order, assigned by the store
	ID         string
	Event      string
	Handler    string
	Status     string
	Error      string
	ResourceID string
	UserID     string
	CreatedAt  time.Time
}

// UserSettings holds per-user notification preferences.
type UserSettings struct {
	UserID        string
	MaxPushPerDay int
	QuietStart    int // hour 0-23
	QuietEnd      int // hour 0-23
	Timezone      string
	UpdatedAt     time.Time
}

// DefaultUserSettings returns the settings applied when a user has no row.
func DefaultUserSettings(userID string) UserSettings {
	return UserSettings{
		UserID:        userID,
		MaxPushPerDay: 3,
		QuietStart:    22,
		QuietEnd:      7,
	}
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
