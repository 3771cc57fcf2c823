package intelligence

import (
	"fmt"
	"strings"

	"github.com/kalambet/missiond/internal/engine"
)

// MaxHistory is the number of prior turns included in a prompt.
const MaxHistory = 5

const analysisPrompt = `You analyze messages that clients send to a freelancer. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Fields:
- "summary": one sentence describing what the client wants
- "intent": one of project_inquiry, scope_change, payment_question, scheduling, feedback, complaint, casual_chat, unknown
- "urgency": number from 0 (can wait) to 1 (needs an answer now)
- "entities": {"budget", "timeline", "deliverables": [], "dates": [], "paymentTerms"}; omit facts that are not stated
- "suggestedActions": ordered list from create_lead, draft_reply, schedule_meeting, create_task, send_invoice, update_project, flag_urgent
- "projectSignals": {"isNewProject": bool, "stageChangeDetected": string or null}

Rules:
- Use project_inquiry only when the sender is asking for new work.
- Quote budget and timeline as the client wrote them.`

const replyPrompt = `You draft replies from a freelancer to a client. Your output must be ONLY a single valid JSON object with:
- "short": a reply of one or two sentences
- "detailed": a complete reply that addresses every question in the message
- "confidence": number from 0 to 1, how sure you are the reply is appropriate to send as is

Match the client's language and tone. Never invent prices, dates, or commitments that are not in the conversation.`

// BuildAnalysisPrompt constructs the chat messages for message analysis.
func BuildAnalysisPrompt(req AnalysisRequest) []engine.Message {
	messages := []engine.Message{{Role: "system", Content: analysisPrompt}}
	messages = append(messages, historyMessages(req.History)...)
	messages = append(messages, engine.Message{
		Role:    "user",
		Content: framedMessage(req.Channel, req.ClientName, req.Text),
	})
	return messages
}

// BuildReplyPrompt constructs the chat messages for reply generation.
func BuildReplyPrompt(req ReplyRequest) []engine.Message {
	var sb strings.Builder
	sb.WriteString(replyPrompt)

	in := req.Intelligence
	fmt.Fprintf(&sb, "\n\n[Analysis]\nintent: %s\nurgency: %.2f", in.Intent, in.Urgency)
	if in.Summary != "" {
		fmt.Fprintf(&sb, "\nsummary: %s", in.Summary)
	}
	if in.Entities.Budget != "" {
		fmt.Fprintf(&sb, "\nbudget: %s", in.Entities.Budget)
	}
	if in.Entities.Timeline != "" {
		fmt.Fprintf(&sb, "\ntimeline: %s", in.Entities.Timeline)
	}
	if len(in.Entities.Deliverables) > 0 {
		fmt.Fprintf(&sb, "\ndeliverables: %s", strings.Join(in.Entities.Deliverables, "; "))
	}

	messages := []engine.Message{{Role: "system", Content: sb.String()}}
	messages = append(messages, historyMessages(req.History)...)
	messages = append(messages, engine.Message{
		Role:    "user",
		Content: framedMessage(req.Channel, req.ClientName, req.Text),
	})
	return messages
}

// historyMessages keeps the last MaxHistory turns. Client turns become user
// messages and the freelancer's own become assistant messages.
func historyMessages(history []Turn) []engine.Message {
	if len(history) > MaxHistory {
		history = history[len(history)-MaxHistory:]
	}
	out := make([]engine.Message, 0, len(history))
	for _, t := range history {
		role := "assistant"
		if t.Inbound {
			role = "user"
		}
		out = append(out, engine.Message{Role: role, Content: t.Text})
	}
	return out
}

func framedMessage(channel, client, text string) string {
	if client == "" {
		client = "unknown"
	}
	if channel == "" {
		channel = "unknown"
	}
	return fmt.Sprintf("[Channel: %s] [Client: %s]\n%s", channel, client, text)
}

func analysisSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"summary":          {Type: "string", Description: "One sentence summary"},
			"intent":           {Type: "string", Description: "Message intent from the closed list"},
			"urgency":          {Type: "number", Description: "0 to 1"},
			"entities":         {Type: "object", Description: "budget, timeline, deliverables, dates, paymentTerms"},
			"suggestedActions": {Type: "array", Description: "Ordered follow-up actions"},
			"projectSignals":   {Type: "object", Description: "isNewProject and stageChangeDetected"},
		},
		Required: []string{"summary", "intent", "urgency", "entities", "suggestedActions", "projectSignals"},
	}
}

func replySchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"short":      {Type: "string", Description: "Short reply"},
			"detailed":   {Type: "string", Description: "Detailed reply"},
			"confidence": {Type: "number", Description: "0 to 1"},
		},
		Required: []string{"short", "detailed", "confidence"},
	}
}
