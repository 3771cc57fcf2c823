// Package scoring ranks client conversations as sales leads. It is a pure
// function of the message analysis and relationship facts.
package scoring

import (
	"math"

	"github.com/kalambet/missiond/internal/intelligence"
)

// Signal weights. They sum to 1.0.
const (
	WeightBudget         = 0.25
	WeightTimeline       = 0.20
	WeightDeliverables   = 0.15
	WeightDecisionMaker  = 0.15
	WeightExistingClient = 0.10
	WeightUrgency        = 0.10
	WeightChannelIntent  = 0.05
)

// Tier thresholds, inclusive.
const (
	HotThreshold  = 0.85
	WarmThreshold = 0.60
	ColdThreshold = 0.35
)

// Priority is the lead tier derived from the score.
type Priority string

const (
	PriorityHot  Priority = "HOT"
	PriorityWarm Priority = "WARM"
	PriorityCold Priority = "COLD"
	PriorityNone Priority = "NONE"
)

// Classification labels stored with a lead.
const (
	ClassHot  = "hot_lead"
	ClassWarm = "warm_lead"
	ClassCold = "cold_lead"
	ClassNone = "none"
)

var channelIntent = map[string]float64{
	"email":    1.0,
	"slack":    0.7,
	"whatsapp": 0.5,
	"telegram": 0.4,
}

// ChannelIntent is how strongly the channel a message arrived on suggests
// business intent. Unknown channels score 0.5.
func ChannelIntent(channel string) float64 {
	if v, ok := channelIntent[channel]; ok {
		return v
	}
	return 0.5
}

// Input is everything the score depends on.
type Input struct {
	Intelligence        intelligence.Intelligence
	MessageLength       int
	// IsRepeatClient is set for clients that have already been billed.
	IsRepeatClient      bool
	Channel             string
	HasExistingProjects bool
}

// Signals are the weighted inputs of a score. MessageLength is recorded
// for display and carries no weight.
type Signals struct {
	BudgetMentioned    bool    `json:"budgetMentioned"`
	TimelineMentioned  bool    `json:"timelineMentioned"`
	DeliverablesListed bool    `json:"deliverablesListed"`
	DecisionMaker      bool    `json:"decisionMaker"`
	ExistingClient     bool    `json:"existingClient"`
	Urgency            float64 `json:"urgency"`
	ChannelIntent      float64 `json:"channelIntent"`
	MessageLength      int     `json:"messageLength"`
}

// Result is the outcome of scoring one message.
type Result struct {
	Score          float64  `json:"score"`
	Priority       Priority `json:"priority"`
	Classification string   `json:"classification"`
	Signals        Signals  `json:"signals"`
}

// Qualifies reports whether the result is strong enough to hold a lead.
func (r Result) Qualifies() bool { return r.Score >= WarmThreshold }

// Extract derives the scoring signals from in.
func Extract(in Input) Signals {
	e := in.Intelligence.Entities
	return Signals{
		BudgetMentioned:    e.Budget != "",
		TimelineMentioned:  e.Timeline != "",
		DeliverablesListed: len(e.Deliverables) > 0,
		DecisionMaker:      in.Intelligence.Intent == intelligence.IntentProjectInquiry,
		ExistingClient:     in.IsRepeatClient || in.HasExistingProjects,
		Urgency:            in.Intelligence.Urgency,
		ChannelIntent:      ChannelIntent(in.Channel),
		MessageLength:      in.MessageLength,
	}
}

// Score computes the lead score for in.
func Score(in Input) Result {
	return FromSignals(Extract(in))
}

// FromSignals computes the weighted score and tier for s. Continuous
// signals are clamped to [0,1] before weighting and the total is rounded to
// four decimals so the inclusive thresholds compare exactly.
func FromSignals(s Signals) Result {
	score := WeightBudget*flag(s.BudgetMentioned) +
		WeightTimeline*flag(s.TimelineMentioned) +
		WeightDeliverables*flag(s.DeliverablesListed) +
		WeightDecisionMaker*flag(s.DecisionMaker) +
		WeightExistingClient*flag(s.ExistingClient) +
		WeightUrgency*clamp(s.Urgency) +
		WeightChannelIntent*clamp(s.ChannelIntent)
	score = clamp(math.Round(score*10000) / 10000)

	p, class := Tier(score)
	return Result{Score: score, Priority: p, Classification: class, Signals: s}
}

// Tier maps a score onto its priority and classification.
func Tier(score float64) (Priority, string) {
	switch {
	case score >= HotThreshold:
		return PriorityHot, ClassHot
	case score >= WarmThreshold:
		return PriorityWarm, ClassWarm
	case score >= ColdThreshold:
		return PriorityCold, ClassCold
	default:
		return PriorityNone, ClassNone
	}
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Max(0, math.Min(1, f))
}
