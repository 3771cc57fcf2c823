// Package intelligence turns free-form client messages into structured
// conversation intelligence and reply candidates using an engine.Engine.
package intelligence

import "strings"

// Intent classifies what a client message is about.
type Intent string

const (
	IntentProjectInquiry  Intent = "project_inquiry"
	IntentScopeChange     Intent = "scope_change"
	IntentPaymentQuestion Intent = "payment_question"
	IntentScheduling      Intent = "scheduling"
	IntentFeedback        Intent = "feedback"
	IntentComplaint       Intent = "complaint"
	IntentCasualChat      Intent = "casual_chat"
	IntentUnknown         Intent = "unknown"
)

var intents = []Intent{
	IntentProjectInquiry,
	IntentScopeChange,
	IntentPaymentQuestion,
	IntentScheduling,
	IntentFeedback,
	IntentComplaint,
	IntentCasualChat,
	IntentUnknown,
}

// ParseIntent maps a loosely formatted intent label onto the closed set.
// Anything unrecognised becomes IntentUnknown.
func ParseIntent(s string) Intent {
	s = normalizeLabel(s)
	for _, in := range intents {
		if string(in) == s {
			return in
		}
	}
	return IntentUnknown
}

// Action is a follow-up the model suggests for a message.
type Action string

const (
	ActionCreateLead      Action = "create_lead"
	ActionDraftReply      Action = "draft_reply"
	ActionScheduleMeeting Action = "schedule_meeting"
	ActionCreateTask      Action = "create_task"
	ActionSendInvoice     Action = "send_invoice"
	ActionUpdateProject   Action = "update_project"
	ActionFlagUrgent      Action = "flag_urgent"
)

var actions = []Action{
	ActionCreateLead,
	ActionDraftReply,
	ActionScheduleMeeting,
	ActionCreateTask,
	ActionSendInvoice,
	ActionUpdateProject,
	ActionFlagUrgent,
}

// ParseAction maps a label onto the closed action set. ok is false for
// labels outside it.
func ParseAction(s string) (Action, bool) {
	s = normalizeLabel(s)
	for _, a := range actions {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// Entities are the business facts pulled out of a message. Empty strings
// mean the fact was not mentioned.
type Entities struct {
	Budget       string   `json:"budget,omitempty"`
	Timeline     string   `json:"timeline,omitempty"`
	Deliverables []string `json:"deliverables"`
	Dates        []string `json:"dates"`
	PaymentTerms string   `json:"paymentTerms,omitempty"`
}

// ProjectSignals describe how the message relates to project work.
// StageChangeDetected is empty when no stage change was seen.
type ProjectSignals struct {
	IsNewProject        bool   `json:"isNewProject"`
	StageChangeDetected string `json:"stageChangeDetected,omitempty"`
}

// Intelligence is the normalized analysis of one inbound message.
type Intelligence struct {
	Summary          string         `json:"summary"`
	Intent           Intent         `json:"intent"`
	Urgency          float64        `json:"urgency"`
	Entities         Entities       `json:"entities"`
	SuggestedActions []Action       `json:"suggestedActions"`
	ProjectSignals   ProjectSignals `json:"projectSignals"`
}

// DefaultUrgency is used when the model gives no usable urgency.
const DefaultUrgency = 0.5

// Default returns the value substituted for every field the model omits.
func Default() Intelligence {
	return Intelligence{
		Intent:           IntentUnknown,
		Urgency:          DefaultUrgency,
		Entities:         Entities{Deliverables: []string{}, Dates: []string{}},
		SuggestedActions: []Action{},
	}
}

// Reply holds the two reply candidates generated for a message.
type Reply struct {
	Short      string  `json:"short"`
	Detailed   string  `json:"detailed"`
	Confidence float64 `json:"confidence"`
}

// Turn is one prior message in a conversation, oldest first.
type Turn struct {
	Inbound bool
	Text    string
}

// AnalysisRequest carries the message and context for Analyze.
type AnalysisRequest struct {
	Text       string
	Channel    string
	ClientName string
	History    []Turn
}

// ReplyRequest carries the message and its analysis for GenerateReply.
type ReplyRequest struct {
	Text         string
	Channel      string
	ClientName   string
	History      []Turn
	Intelligence Intelligence
}
