package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rooftops-ai/entitlements/config"
	"github.com/rooftops-ai/entitlements/internal/types"
)

func testStripeConfig() config.StripeConfig {
	cfg := config.StripeConfig{}
	cfg.PriceIDs.PremiumMonthly = "price_premium_monthly"
	cfg.PriceIDs.PremiumAnnual = "price_premium_annual"
	cfg.PriceIDs.BusinessMonthly = "price_business_monthly"
	cfg.PriceIDs.BusinessAnnual = "price_business_annual"
	return cfg
}

func TestLimitsForKnownTiers(t *testing.T) {
	free := LimitsFor(types.PlanFree)
	assert.Equal(t, 1, free.Reports)
	assert.Equal(t, 20, free.ChatMessages)
	assert.Equal(t, 5, free.ChatDailyLimit)
	assert.Equal(t, 5, free.WebSearches)
	assert.False(t, free.Agents)
	assert.Equal(t, types.ModelTierFree, free.ChatModelTier)

	premium := LimitsFor(types.PlanPremium)
	assert.Equal(t, 10, premium.Reports)
	assert.Equal(t, 1000, premium.ChatMessages)
	assert.Equal(t, types.Unlimited, premium.ChatDailyLimit)
	assert.Equal(t, types.Unlimited, premium.WebSearches)
	assert.True(t, premium.Agents)
	assert.Equal(t, types.ModelTierPremium, premium.ChatModelTier)

	business := LimitsFor(types.PlanBusiness)
	assert.Equal(t, types.Unlimited, business.Reports)
	assert.Equal(t, 5000, business.ChatMessages)
	assert.True(t, business.Agents)
}

func TestLimitsForUnknownTierFallsBackToFree(t *testing.T) {
	limits := LimitsFor(types.PlanTier("enterprise"))
	assert.Equal(t, LimitsFor(types.PlanFree), limits)
}

func TestPriceCatalogRoundTrip(t *testing.T) {
	catalog := NewPriceCatalog(testStripeConfig())

	assert.Equal(t, types.PlanPremium, catalog.TierForPrice("price_premium_monthly"))
	assert.Equal(t, types.PlanPremium, catalog.TierForPrice("price_premium_annual"))
	assert.Equal(t, types.PlanBusiness, catalog.TierForPrice("price_business_monthly"))

	assert.Equal(t, "price_premium_monthly", catalog.PriceFor(types.PlanPremium, false))
	assert.Equal(t, "price_business_annual", catalog.PriceFor(types.PlanBusiness, true))
}

func TestPriceCatalogUnknownPriceResolvesFree(t *testing.T) {
	catalog := NewPriceCatalog(testStripeConfig())
	assert.Equal(t, types.PlanFree, catalog.TierForPrice("price_someone_elses_product"))
	assert.Empty(t, catalog.PriceFor(types.PlanFree, false))
}
