package notify

// Tier is a notification priority class.
type Tier string

const (
	TierCritical     Tier = "critical"
	TierOpportunity  Tier = "opportunity"
	TierReplyPrompt  Tier = "reply_prompt"
	TierProjectAlert Tier = "project_alert"
	TierFollowUp     Tier = "follow_up"
	TierDailyDigest  Tier = "daily_digest"
)

// Valid reports whether t is one of the six tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierCritical, TierOpportunity, TierReplyPrompt, TierProjectAlert, TierFollowUp, TierDailyDigest:
		return true
	}
	return false
}

// pushesByDefault reports whether a non-critical tier pushes when under
// the daily cap and outside quiet hours.
func (t Tier) pushesByDefault() bool {
	switch t {
	case TierOpportunity, TierProjectAlert, TierReplyPrompt:
		return true
	}
	return false
}

// emails reports whether the tier is also delivered by email.
func (t Tier) emails() bool {
	return t == TierCritical || t == TierDailyDigest
}

func (t Tier) pushPriority() string {
	switch t {
	case TierCritical:
		return "high"
	case TierOpportunity, TierProjectAlert, TierReplyPrompt:
		return "normal"
	}
	return "low"
}

// InQuietHours reports whether hour falls in the [start, end) window. The
// window may wrap past midnight. start == end means no quiet hours.
func InQuietHours(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// ShouldPush decides push eligibility. Critical pushes unless quiet; other
// tiers also need to be under the daily cap and push by default.
func ShouldPush(t Tier, quiet bool, pushedToday, maxPerDay int) bool {
	if quiet {
		return false
	}
	if t == TierCritical {
		return true
	}
	return pushedToday < maxPerDay && t.pushesByDefault()
}
