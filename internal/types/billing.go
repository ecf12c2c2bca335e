package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PlanTier is a subscription level. Tiers are ordered: free < premium < business.
type PlanTier string

const (
	PlanFree     PlanTier = "free"
	PlanPremium  PlanTier = "premium"
	PlanBusiness PlanTier = "business"
)

var tierOrder = map[PlanTier]int{
	PlanFree:     0,
	PlanPremium:  1,
	PlanBusiness: 2,
}

// IsUpgradeFrom reports whether t is a strictly higher tier than old.
func (t PlanTier) IsUpgradeFrom(old PlanTier) bool {
	return tierOrder[t] > tierOrder[old]
}

// NormalizePlanTier maps raw plan strings from billing metadata to a tier.
// Interval-suffixed values ("premium_monthly", "business_annual") collapse to
// their base tier; anything unrecognized is free.
func NormalizePlanTier(raw string) PlanTier {
	switch s := strings.ToLower(strings.TrimSpace(raw)); {
	case strings.HasPrefix(s, "business"):
		return PlanBusiness
	case strings.HasPrefix(s, "premium"):
		return PlanPremium
	default:
		return PlanFree
	}
}

// SubscriptionStatus mirrors the billing provider's subscription status.
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// Entitled reports whether this status grants the paid tier's benefits.
func (s SubscriptionStatus) Entitled() bool {
	return s == StatusActive || s == StatusTrialing
}

// Subscription is the one-row-per-user billing aggregate. Absence of a row is
// equivalent to the free tier. Rows are never hard-deleted; cancellation sets
// Status to canceled and keeps tier fields for the historical record.
type Subscription struct {
	ID                   uuid.UUID          `json:"id"`
	UserID               uuid.UUID          `json:"user_id"`
	StripeCustomerID     string             `json:"stripe_customer_id"`
	StripeSubscriptionID string             `json:"stripe_subscription_id"`
	Status               SubscriptionStatus `json:"status"`
	PlanType             PlanTier           `json:"plan_type"`
	ScheduledPlanType    *PlanTier          `json:"scheduled_plan_type,omitempty"`
	CurrentPeriodStart   time.Time          `json:"current_period_start"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// EffectiveTier resolves the tier a subscription currently grants. The
// scheduled tier is deliberately ignored until a period rollover commits it.
func (s *Subscription) EffectiveTier() PlanTier {
	if s == nil || !s.Status.Entitled() {
		return PlanFree
	}
	return s.PlanType
}

// CreateSubscriptionParams carries the fields set at first successful checkout.
type CreateSubscriptionParams struct {
	UserID               uuid.UUID
	StripeCustomerID     string
	StripeSubscriptionID string
	Status               SubscriptionStatus
	PlanType             PlanTier
	CurrentPeriodStart   time.Time
	CurrentPeriodEnd     time.Time
}

// UpdateSubscriptionParams is a partial update applied by the webhook
// reconciler, keyed by stripe_subscription_id. Nil fields are left untouched.
// ClearScheduledPlan distinguishes "set scheduled_plan_type to NULL" from
// "don't touch it".
type UpdateSubscriptionParams struct {
	Status             *SubscriptionStatus
	PlanType           *PlanTier
	ScheduledPlanType  *PlanTier
	ClearScheduledPlan bool
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  *bool
}

// ScheduledDowngrade is the pending-downgrade notice rendered to the user.
type ScheduledDowngrade struct {
	CurrentTier   PlanTier  `json:"currentTier"`
	ScheduledTier PlanTier  `json:"scheduledTier"`
	EffectiveDate time.Time `json:"effectiveDate"`
}
