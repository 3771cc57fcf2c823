package storage

import (
	"context"
	"errors"
	"testing"
)

func TestInsertLead_OnePerConversation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c, conv := seedConversation(t, s, "u1", "a@example.com")

	first, created, err := s.InsertLead(ctx, Lead{
		UserID: "u1", ConversationID: conv.ID, ClientID: c.ID,
		Score: 0.7, Priority: "WARM", Classification: "warm_lead",
	})
	if err != nil {
		t.Fatalf("InsertLead: %v", err)
	}
	if !created {
		t.Error("first InsertLead reported created=false")
	}

	second, created, err := s.InsertLead(ctx, Lead{
		UserID: "u1", ConversationID: conv.ID, ClientID: c.ID,
		Score: 0.9, Priority: "HOT", Classification: "hot_lead",
	})
	if err != nil {
		t.Fatalf("InsertLead again: %v", err)
	}
	if created {
		t.Error("second InsertLead reported created=true")
	}
	if second.ID != first.ID {
		t.Errorf("lead id = %q, want %q", second.ID, first.ID)
	}
	if second.Score != 0.7 {
		t.Errorf("Score = %v, want 0.7 (insert must not overwrite)", second.Score)
	}
}

func TestUpdateLeadScore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c, conv := seedConversation(t, s, "u1", "a@example.com")

	lead, _, err := s.InsertLead(ctx, Lead{UserID: "u1", ConversationID: conv.ID, ClientID: c.ID,
		Score: 0.6, Priority: "WARM", Classification: "warm_lead", Summary: "site redesign"})
	if err != nil {
		t.Fatalf("InsertLead: %v", err)
	}

	if err := s.UpdateLeadScore(ctx, lead.ID, 0.88, "HOT", "hot_lead", ""); err != nil {
		t.Fatalf("UpdateLeadScore: %v", err)
	}
	got, err := s.GetLead(ctx, lead.ID)
	if err != nil {
		t.Fatalf("GetLead: %v", err)
	}
	if got.Score != 0.88 || got.Priority != "HOT" {
		t.Errorf("got score=%v priority=%q, want 0.88 HOT", got.Score, got.Priority)
	}
	if got.Summary != "site redesign" {
		t.Errorf("Summary = %q, empty update must keep it", got.Summary)
	}

	if err := s.UpdateLeadScore(ctx, "ld-missing", 0.5, "COLD", "cold_lead", ""); err != ErrNotFound {
		t.Errorf("UpdateLeadScore(missing) = %v, want ErrNotFound", err)
	}
}

func TestConvertLead_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c, conv := seedConversation(t, s, "u1", "a@example.com")

	lead, _, err := s.InsertLead(ctx, Lead{UserID: "u1", ConversationID: conv.ID, ClientID: c.ID,
		Score: 0.9, Priority: "HOT", Classification: "hot_lead"})
	if err != nil {
		t.Fatalf("InsertLead: %v", err)
	}

	p, created, err := s.ConvertLead(ctx, lead.ID, Project{Name: "Website"})
	if err != nil {
		t.Fatalf("ConvertLead: %v", err)
	}
	if !created {
		t.Error("first ConvertLead reported created=false")
	}
	if p.ClientID != c.ID || p.SourceLeadID != lead.ID {
		t.Errorf("project client=%q lead=%q, want %q %q", p.ClientID, p.SourceLeadID, c.ID, lead.ID)
	}

	again, created, err := s.ConvertLead(ctx, lead.ID, Project{Name: "Website"})
	if err != nil {
		t.Fatalf("ConvertLead again: %v", err)
	}
	if created {
		t.Error("second ConvertLead reported created=true")
	}
	if again.ID != p.ID {
		t.Errorf("project id = %q, want %q", again.ID, p.ID)
	}

	got, err := s.GetLead(ctx, lead.ID)
	if err != nil {
		t.Fatalf("GetLead: %v", err)
	}
	if got.Status != LeadConverted || got.ConvertedToProjectID != p.ID || got.ConvertedAt.IsZero() {
		t.Errorf("lead after conversion = %+v", got)
	}

	n, err := s.CountProjectsForClient(ctx, c.ID)
	if err != nil {
		t.Fatalf("CountProjectsForClient: %v", err)
	}
	if n != 1 {
		t.Errorf("projects = %d, want 1", n)
	}

	err = s.UpdateLeadScore(ctx, lead.ID, 0.1, "COLD", "none", "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("UpdateLeadScore on converted lead = %v, want ErrInvalidTransition", err)
	}
}

func TestListLeads_ByScore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, score := range []float64{0.65, 0.95, 0.8} {
		c, conv := seedConversation(t, s, "u1", string(rune('a'+i))+"@example.com")
		if _, _, err := s.InsertLead(ctx, Lead{UserID: "u1", ConversationID: conv.ID, ClientID: c.ID,
			Score: score, Priority: "WARM", Classification: "warm_lead"}); err != nil {
			t.Fatalf("InsertLead: %v", err)
		}
	}

	got, err := s.ListLeads(ctx, "u1", "", 10)
	if err != nil {
		t.Fatalf("ListLeads: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Score != 0.95 || got[2].Score != 0.65 {
		t.Errorf("order = %v, %v, %v", got[0].Score, got[1].Score, got[2].Score)
	}
}

func TestInsertDraft_UniquePerMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, conv := seedConversation(t, s, "u1", "a@example.com")

	d := Draft{UserID: "u1", ConversationID: conv.ID, MessageID: "msg-1", ShortReply: "Thanks!", DetailedReply: "Thanks, I'll look.", Confidence: 0.8}
	first, created, err := s.InsertDraft(ctx, d)
	if err != nil {
		t.Fatalf("InsertDraft: %v", err)
	}
	if !created || first.Status != DraftPending {
		t.Errorf("first draft created=%v status=%q", created, first.Status)
	}
	if _, created, err = s.InsertDraft(ctx, d); err != nil || created {
		t.Errorf("redelivered draft created=%v err=%v, want false nil", created, err)
	}

	d.MessageID = "msg-2"
	if _, created, err = s.InsertDraft(ctx, d); err != nil || !created {
		t.Errorf("second message draft created=%v err=%v, want true nil", created, err)
	}

	exists, err := s.DraftExistsForMessage(ctx, "msg-1")
	if err != nil || !exists {
		t.Errorf("DraftExistsForMessage = %v, %v", exists, err)
	}

	pending, err := s.ListDrafts(ctx, "u1", DraftPending, 10)
	if err != nil {
		t.Fatalf("ListDrafts: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending drafts = %d, want 2", len(pending))
	}
}

func TestSetDraftStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, conv := seedConversation(t, s, "u1", "a@example.com")

	d, _, err := s.InsertDraft(ctx, Draft{UserID: "u1", ConversationID: conv.ID, MessageID: "msg-1", ShortReply: "ok"})
	if err != nil {
		t.Fatalf("InsertDraft: %v", err)
	}
	if err := s.SetDraftStatus(ctx, d.ID, DraftSent, "ext-42"); err != nil {
		t.Fatalf("SetDraftStatus: %v", err)
	}
	got, err := s.GetDraft(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	if got.Status != DraftSent || got.ExternalMessageID != "ext-42" {
		t.Errorf("draft = %+v", got)
	}
	if err := s.SetDraftStatus(ctx, "dr-missing", DraftSent, ""); err != ErrNotFound {
		t.Errorf("SetDraftStatus(missing) = %v, want ErrNotFound", err)
	}
}
