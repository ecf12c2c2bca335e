package billing

import (
	"github.com/rooftops-ai/entitlements/config"
	"github.com/rooftops-ai/entitlements/internal/types"
)

// TierLimits is a tier's monthly allowances. types.Unlimited (-1) means no
// cap. ChatDailyLimit applies on top of the monthly chat cap; the paid tiers
// have no daily gate.
type TierLimits struct {
	Reports        int
	ChatMessages   int
	ChatDailyLimit int
	WebSearches    int
	Agents         bool
	ChatModelTier  types.ModelTier
}

// planCatalog is the single authority on what each tier allows. Admission
// decisions, the stats endpoint, and denial messages all read from here.
var planCatalog = map[types.PlanTier]TierLimits{
	types.PlanFree: {
		Reports:        1,
		ChatMessages:   20,
		ChatDailyLimit: 5,
		WebSearches:    5,
		Agents:         false,
		ChatModelTier:  types.ModelTierFree,
	},
	types.PlanPremium: {
		Reports:        10,
		ChatMessages:   1000,
		ChatDailyLimit: types.Unlimited,
		WebSearches:    types.Unlimited,
		Agents:         true,
		ChatModelTier:  types.ModelTierPremium,
	},
	types.PlanBusiness: {
		Reports:        types.Unlimited,
		ChatMessages:   5000,
		ChatDailyLimit: types.Unlimited,
		WebSearches:    types.Unlimited,
		Agents:         true,
		ChatModelTier:  types.ModelTierPremium,
	},
}

// LimitsFor returns the allowances for a tier, defaulting unknown values to
// the free tier.
func LimitsFor(tier types.PlanTier) TierLimits {
	if l, ok := planCatalog[tier]; ok {
		return l
	}
	return planCatalog[types.PlanFree]
}

// PriceCatalog maps Stripe price IDs to tiers and back. Built from config so
// deployments can rotate prices without code changes.
type PriceCatalog struct {
	byPrice map[string]types.PlanTier
	monthly map[types.PlanTier]string
	annual  map[types.PlanTier]string
}

func NewPriceCatalog(cfg config.StripeConfig) *PriceCatalog {
	c := &PriceCatalog{
		byPrice: make(map[string]types.PlanTier),
		monthly: make(map[types.PlanTier]string),
		annual:  make(map[types.PlanTier]string),
	}
	add := func(priceID string, tier types.PlanTier, annual bool) {
		if priceID == "" {
			return
		}
		c.byPrice[priceID] = tier
		if annual {
			c.annual[tier] = priceID
		} else {
			c.monthly[tier] = priceID
		}
	}
	add(cfg.PriceIDs.PremiumMonthly, types.PlanPremium, false)
	add(cfg.PriceIDs.PremiumAnnual, types.PlanPremium, true)
	add(cfg.PriceIDs.BusinessMonthly, types.PlanBusiness, false)
	add(cfg.PriceIDs.BusinessAnnual, types.PlanBusiness, true)
	return c
}

// TierForPrice resolves a price ID to its tier. Unknown price IDs resolve to
// free so a stray product never grants paid access.
func (c *PriceCatalog) TierForPrice(priceID string) types.PlanTier {
	if tier, ok := c.byPrice[priceID]; ok {
		return tier
	}
	return types.PlanFree
}

// PriceFor returns the price ID for a tier and billing interval, empty when
// the tier is not purchasable.
func (c *PriceCatalog) PriceFor(tier types.PlanTier, annual bool) string {
	if annual {
		return c.annual[tier]
	}
	return c.monthly[tier]
}
