// Package pipeline runs the five-stage processing of one inbound client
// message: analysis, scoring, lead upsert, reply drafting and notification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/missiond/internal/intelligence"
	"github.com/kalambet/missiond/internal/notify"
	"github.com/kalambet/missiond/internal/scoring"
	"github.com/kalambet/missiond/internal/storage"
)

// Store is the persistence the pipeline reads and writes.
type Store interface {
	GetMessage(ctx context.Context, id string) (storage.Message, error)
	GetConversation(ctx context.Context, id string) (storage.Conversation, error)
	GetClient(ctx context.Context, id string) (storage.Client, error)
	RecentMessages(ctx context.Context, conversationID, excludeID string, limit int) ([]storage.Message, error)
	CountProjectsForClient(ctx context.Context, clientID string) (int, error)
	CountBilledInvoicesForClient(ctx context.Context, clientID string) (int, error)
	InsertLead(ctx context.Context, l storage.Lead) (storage.Lead, bool, error)
	UpdateLeadScore(ctx context.Context, id string, score float64, priority, classification, summary string) error
	InsertDraft(ctx context.Context, d storage.Draft) (storage.Draft, bool, error)
}

// Analyzer is the intelligence backend.
type Analyzer interface {
	Analyze(ctx context.Context, req intelligence.AnalysisRequest) (intelligence.Intelligence, error)
	GenerateReply(ctx context.Context, req intelligence.ReplyRequest) (intelligence.Reply, error)
}

// Notifier records notifications. It never fails.
type Notifier interface {
	Dispatch(ctx context.Context, p notify.Payload)
}

// Result summarizes one pipeline run.
type Result struct {
	MessageID       string
	Intelligence    intelligence.Intelligence
	Score           scoring.Result
	LeadID          string
	LeadCreated     bool
	DraftID         string
	// NotifyRequested means the HOT branch handed a payload to the
	// notifier. The notifier may still suppress it as a duplicate.
	NotifyRequested bool
	Duration        time.Duration
}

// Pipeline processes inbound messages.
type Pipeline struct {
	store    Store
	analyzer Analyzer
	notifier Notifier
	logger   *slog.Logger
}

// New creates a Pipeline.
func New(store Store, analyzer Analyzer, notifier Notifier) *Pipeline {
	return &Pipeline{store: store, analyzer: analyzer, notifier: notifier, logger: slog.Default()}
}

// messageContext is everything stage 1 reads before calling the backend.
type messageContext struct {
	message      storage.Message
	conversation storage.Conversation
	client       storage.Client
	history      []storage.Message
	projects     int
	invoices     int
}

// Run processes the message with the given id:
//  1. Analyze the message with the intelligence backend
//  2. Score it as a lead
//  3. Create or update the conversation's lead when the score qualifies
//  4. Draft a reply unless the message is casual chat
//  5. Notify the user about HOT leads
//
// Failures in stages 1 and 2 abort the run. A stage 3 failure is returned
// after stages 4 and 5 have run. Stage 4 and 5 failures are only logged.
// Once analysis starts, cancellation of ctx no longer interrupts the run.
func (p *Pipeline) Run(ctx context.Context, messageID string) (res Result, err error) {
	start := time.Now()
	res.MessageID = messageID
	defer func() { res.Duration = time.Since(start) }()

	mc, err := p.load(ctx, messageID)
	if err != nil {
		return res, err
	}
	log := p.logger.With("message", messageID, "conversation", mc.conversation.ID, "user", mc.message.UserID)

	ctx = context.WithoutCancel(ctx)

	// 1. Conversation intelligence.
	history := turns(mc.history)
	in, err := p.analyzer.Analyze(ctx, intelligence.AnalysisRequest{
		Text:       mc.message.Text,
		Channel:    mc.conversation.Channel,
		ClientName: mc.client.Name,
		History:    history,
	})
	if err != nil {
		return res, fmt.Errorf("stage intelligence: %w", err)
	}
	res.Intelligence = in

	// 2. Lead scoring.
	score := scoring.Score(scoring.Input{
		Intelligence:        in,
		MessageLength:       len([]rune(mc.message.Text)),
		IsRepeatClient:      mc.invoices > 0,
		Channel:             mc.conversation.Channel,
		HasExistingProjects: mc.projects > 0,
	})
	res.Score = score

	// 3. Create or update lead.
	var leadErr error
	if score.Qualifies() {
		res.LeadID, res.LeadCreated, leadErr = p.upsertLead(ctx, mc, in, score)
		if leadErr != nil {
			log.Error("lead stage failed", "error", leadErr)
		}
	}

	// 4. Generate reply.
	if in.Intent != intelligence.IntentCasualChat {
		draftID, err := p.draftReply(ctx, mc, history, in)
		if err != nil {
			log.Warn("reply stage failed", "error", err)
		}
		res.DraftID = draftID
	}

	// 5. Notify.
	if score.Priority == scoring.PriorityHot {
		p.notifyHot(ctx, mc, in, score, res.LeadID)
		res.NotifyRequested = true
	}

	log.Debug("message processed",
		"intent", in.Intent,
		"score", score.Score,
		"priority", score.Priority,
		"lead", res.LeadID,
		"draft", res.DraftID,
	)

	if leadErr != nil {
		return res, fmt.Errorf("stage lead: %w", leadErr)
	}
	return res, nil
}

// load fetches the message and then, concurrently, the reads that depend
// only on it.
func (p *Pipeline) load(ctx context.Context, messageID string) (messageContext, error) {
	var mc messageContext
	msg, err := p.store.GetMessage(ctx, messageID)
	if err != nil {
		return mc, fmt.Errorf("loading message %s: %w", messageID, err)
	}
	mc.message = msg

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		conv, err := p.store.GetConversation(gCtx, msg.ConversationID)
		if err != nil {
			return fmt.Errorf("loading conversation %s: %w", msg.ConversationID, err)
		}
		mc.conversation = conv
		return nil
	})
	g.Go(func() error {
		cl, err := p.store.GetClient(gCtx, msg.ClientID)
		if err != nil {
			return fmt.Errorf("loading client %s: %w", msg.ClientID, err)
		}
		mc.client = cl
		return nil
	})
	g.Go(func() error {
		h, err := p.store.RecentMessages(gCtx, msg.ConversationID, msg.ID, intelligence.MaxHistory)
		if err != nil {
			return fmt.Errorf("loading history: %w", err)
		}
		mc.history = h
		return nil
	})
	g.Go(func() error {
		n, err := p.store.CountProjectsForClient(gCtx, msg.ClientID)
		if err != nil {
			return fmt.Errorf("counting projects: %w", err)
		}
		mc.projects = n
		return nil
	})
	g.Go(func() error {
		n, err := p.store.CountBilledInvoicesForClient(gCtx, msg.ClientID)
		if err != nil {
			return fmt.Errorf("counting invoices: %w", err)
		}
		mc.invoices = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return mc, err
	}
	return mc, nil
}

// upsertLead inserts the conversation's lead or refreshes the existing one.
// A converted lead keeps its final score.
func (p *Pipeline) upsertLead(ctx context.Context, mc messageContext, in intelligence.Intelligence, score scoring.Result) (string, bool, error) {
	lead, created, err := p.store.InsertLead(ctx, storage.Lead{
		UserID:         mc.message.UserID,
		ConversationID: mc.conversation.ID,
		ClientID:       mc.client.ID,
		Score:          score.Score,
		Priority:       string(score.Priority),
		Classification: score.Classification,
		Summary:        in.Summary,
	})
	if err != nil {
		return "", false, err
	}
	if created {
		return lead.ID, true, nil
	}

	err = p.store.UpdateLeadScore(ctx, lead.ID, score.Score, string(score.Priority), score.Classification, in.Summary)
	if errors.Is(err, storage.ErrInvalidTransition) {
		p.logger.Debug("lead already converted, score not updated", "lead", lead.ID)
		return lead.ID, false, nil
	}
	if err != nil {
		return lead.ID, false, fmt.Errorf("updating lead %s: %w", lead.ID, err)
	}
	return lead.ID, false, nil
}

func (p *Pipeline) draftReply(ctx context.Context, mc messageContext, history []intelligence.Turn, in intelligence.Intelligence) (string, error) {
	reply, err := p.analyzer.GenerateReply(ctx, intelligence.ReplyRequest{
		Text:         mc.message.Text,
		Channel:      mc.conversation.Channel,
		ClientName:   mc.client.Name,
		History:      history,
		Intelligence: in,
	})
	if err != nil {
		return "", err
	}

	d, created, err := p.store.InsertDraft(ctx, storage.Draft{
		UserID:         mc.message.UserID,
		ConversationID: mc.conversation.ID,
		MessageID:      mc.message.ID,
		ShortReply:     reply.Short,
		DetailedReply:  reply.Detailed,
		Confidence:     reply.Confidence,
	})
	if err != nil {
		return "", fmt.Errorf("saving draft: %w", err)
	}
	if !created {
		p.logger.Debug("draft already exists for message", "message", mc.message.ID, "draft", d.ID)
	}
	return d.ID, nil
}

func (p *Pipeline) notifyHot(ctx context.Context, mc messageContext, in intelligence.Intelligence, score scoring.Result, leadID string) {
	entityID, entityType := leadID, "lead"
	if entityID == "" {
		entityID, entityType = mc.conversation.ID, "conversation"
	}
	name := mc.client.Name
	if name == "" {
		name = mc.client.ExternalID
	}
	body := in.Summary
	if body == "" {
		body = truncate(mc.message.Text, 140)
	}
	p.notifier.Dispatch(ctx, notify.Payload{
		UserID:     mc.message.UserID,
		Tier:       notify.TierOpportunity,
		Title:      "Hot lead: " + name,
		Body:       body,
		EntityID:   entityID,
		EntityType: entityType,
		Data: map[string]any{
			"score":           score.Score,
			"conversation_id": mc.conversation.ID,
			"message_id":      mc.message.ID,
		},
	})
}

func turns(msgs []storage.Message) []intelligence.Turn {
	out := make([]intelligence.Turn, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, intelligence.Turn{Inbound: m.Direction != "outbound", Text: m.Text})
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
