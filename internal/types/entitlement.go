package types

// Feature is a usage-gated capability key.
type Feature string

const (
	FeatureReports      Feature = "reports"
	FeatureChatMessages Feature = "chat_messages"
	FeatureWebSearches  Feature = "web_searches"
	FeatureAgents       Feature = "agents"
)

// Unlimited is the sentinel limit meaning "no cap for this tier".
const Unlimited = -1

// DenialReason identifies which gate blocked a request.
type DenialReason string

const (
	DenialMonthlyLimit DenialReason = "monthly_limit_reached"
	DenialDailyLimit   DenialReason = "daily_limit_reached"
	DenialTierRequired DenialReason = "tier_required"
)

// AccessDecision is the evaluator's answer to "may user U do X right now".
// When Allowed is false, Reason says which limit was hit so the caller can
// return an actionable upgrade prompt instead of a bare failure.
type AccessDecision struct {
	Allowed      bool         `json:"allowed"`
	Feature      Feature      `json:"feature"`
	Tier         PlanTier     `json:"tier"`
	Limit        int          `json:"limit"`
	CurrentUsage int          `json:"currentUsage"`
	Reason       DenialReason `json:"reason,omitempty"`
}

// QuotaStat is one feature's consumption snapshot in the stats payload.
// Remaining is -1 when the limit is Unlimited.
type QuotaStat struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// ChatQuotaStat splits chat consumption into its monthly and daily gates.
type ChatQuotaStat struct {
	UsedPremium      int `json:"usedPremium"`
	UsedFree         int `json:"usedFree"`
	UsedDaily        int `json:"usedDaily"`
	LimitDaily       int `json:"limitDaily"`
	LimitMonthly     int `json:"limitMonthly"`
	RemainingDaily   int `json:"remainingDaily"`
	RemainingMonthly int `json:"remainingMonthly"`
}

// AgentsStat reports the tier-gated agent library access.
type AgentsStat struct {
	Enabled bool `json:"enabled"`
}

// UsageStats is the normalized read surface consumed by the UI.
type UsageStats struct {
	Tier  PlanTier `json:"tier"`
	Usage struct {
		Reports      QuotaStat     `json:"reports"`
		ChatMessages ChatQuotaStat `json:"chatMessages"`
		WebSearches  QuotaStat     `json:"webSearches"`
		Agents       AgentsStat    `json:"agents"`
	} `json:"usage"`
}

// Remaining computes limit - used clamped at zero, passing the Unlimited
// sentinel through untouched.
func Remaining(limit, used int) int {
	if limit == Unlimited {
		return Unlimited
	}
	if r := limit - used; r > 0 {
		return r
	}
	return 0
}
