package router

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Event is an inbound event type.
type Event string

const (
	EventMessageReceived         Event = "message.received"
	EventInvoiceOverdue          Event = "invoice.overdue"
	EventLeadConverted           Event = "lead.converted"
	EventDraftApproved           Event = "draft.approved"
	EventTimerDailyDigest        Event = "timer.daily_digest"
	EventTimerMilestoneReminder  Event = "timer.milestone_reminder"
	EventTimerProjectStatusCheck Event = "timer.project_status_check"
)

// Events lists every event type the router accepts.
var Events = []Event{
	EventMessageReceived,
	EventInvoiceOverdue,
	EventLeadConverted,
	EventDraftApproved,
	EventTimerDailyDigest,
	EventTimerMilestoneReminder,
	EventTimerProjectStatusCheck,
}

// Mission names, one per event type.
const (
	MissionProcessMessage     = "process_message"
	MissionInvoiceFollowup    = "invoice_followup"
	MissionConvertLead        = "convert_lead"
	MissionSendReply          = "send_reply"
	MissionDailyDigest        = "daily_digest"
	MissionMilestoneReminder  = "milestone_reminder"
	MissionProjectStatusCheck = "project_status_check"
)

// Envelope is an inbound event. Any field may be empty until validated.
type Envelope struct {
	Event      string    `json:"event"`
	ResourceID string    `json:"resource_id"`
	UserID     string    `json:"user_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// UnmarshalJSON accepts the timestamp as an RFC 3339 string or as Unix
// seconds or milliseconds. Numeric ids are taken as their decimal text.
// A field of any other type is left empty and reported by validation, so
// only a body that is not a JSON object fails to decode.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Event = stringField(raw["event"])
	e.ResourceID = stringField(raw["resource_id"])
	e.UserID = stringField(raw["user_id"])
	e.Timestamp = parseTimestamp(raw["timestamp"])
	return nil
}

func stringField(v json.RawMessage) string {
	if len(v) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return ""
}

func parseTimestamp(v json.RawMessage) time.Time {
	if len(v) == 0 || string(v) == "null" {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		s = strings.TrimSpace(s)
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		v = json.RawMessage(s)
	}
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// missing lists the names of empty required fields in wire order.
func (e Envelope) missing() []string {
	var out []string
	if e.Event == "" {
		out = append(out, "event")
	}
	if e.ResourceID == "" {
		out = append(out, "resource_id")
	}
	if e.UserID == "" {
		out = append(out, "user_id")
	}
	if e.Timestamp.IsZero() {
		out = append(out, "timestamp")
	}
	return out
}
