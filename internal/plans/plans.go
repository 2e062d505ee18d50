package plans

import (
	"strings"

	"viraloop/internal/config"
)

// Plan is the closed set of plan names. Stripe price ids and free-form plan
// strings (e.g. "Growth (monthly)") normalize into one of these.
type Plan string

const (
	PlanStarter Plan = "starter"
	PlanGrowth  Plan = "growth"
	PlanScale   Plan = "scale"
	PlanTrial   Plan = "trial"
	PlanUnknown Plan = ""
)

// Limits are the monthly feature caps a plan entitles a team to.
type Limits struct {
	Influencers    int
	ImagesPerMonth int
	VideosPerMonth int
	Platforms      []string
}

var allPlatforms = []string{"tiktok", "instagram", "youtube"}

var planLimits = map[Plan]Limits{
	PlanStarter: {Influencers: 1, ImagesPerMonth: 50, VideosPerMonth: 10, Platforms: []string{"tiktok"}},
	PlanGrowth:  {Influencers: 3, ImagesPerMonth: 200, VideosPerMonth: 50, Platforms: allPlatforms},
	PlanScale:   {Influencers: 10, ImagesPerMonth: 1000, VideosPerMonth: 250, Platforms: allPlatforms},
	// Trial is a one-time payment tier: it grants limits but no ledger credits.
	PlanTrial: {Influencers: 1, ImagesPerMonth: 20, VideosPerMonth: 5, Platforms: []string{"tiktok"}},
}

// planMonthlyCredits is the closed map consulted by the recurring credits
// job. Plans absent here (trial, unknown) are skipped by the job.
var planMonthlyCredits = map[Plan]int{
	PlanStarter: 300,
	PlanGrowth:  1000,
	PlanScale:   3000,
}

// Normalize maps a stored plan string onto the closed Plan set. Matching is
// case-insensitive and any parenthetical period suffix such as "(monthly)"
// is stripped before lookup.
func Normalize(name string) Plan {
	n := strings.ToLower(strings.TrimSpace(name))
	if i := strings.Index(n, "("); i >= 0 {
		n = strings.TrimSpace(n[:i])
	}
	switch Plan(n) {
	case PlanStarter, PlanGrowth, PlanScale, PlanTrial:
		return Plan(n)
	}
	return PlanUnknown
}

// MonthlyCredits returns the recurring credit amount for a plan. The second
// return is false for plans with no recurring grant.
func MonthlyCredits(p Plan) (int, bool) {
	c, ok := planMonthlyCredits[p]
	return c, ok
}

// LimitsFor returns the feature limits for a plan.
func LimitsFor(p Plan) (Limits, bool) {
	l, ok := planLimits[p]
	return l, ok
}

// Catalog resolves Stripe price ids to plans. Price ids come from config so
// test, staging and live environments can point at different prices without
// touching the plan table.
type Catalog struct {
	byPriceID map[string]Plan
}

func NewCatalog(cfg *config.Config) *Catalog {
	return &Catalog{byPriceID: map[string]Plan{
		cfg.StripePriceStarter: PlanStarter,
		cfg.StripePriceGrowth:  PlanGrowth,
		cfg.StripePriceScale:   PlanScale,
		cfg.StripePriceTrial:   PlanTrial,
	}}
}

// PlanFromPriceID maps a Stripe price id to its plan, PlanUnknown otherwise.
func (c *Catalog) PlanFromPriceID(priceID string) Plan {
	if p, ok := c.byPriceID[priceID]; ok {
		return p
	}
	return PlanUnknown
}

// LimitsFromPriceID recomputes feature limits from a price id. This is a
// pure function: webhook handlers always overwrite limits with its result
// and never adjust limits relative to a previous value.
func (c *Catalog) LimitsFromPriceID(priceID string) (Limits, bool) {
	return LimitsFor(c.PlanFromPriceID(priceID))
}

// PriceIDFor returns the Stripe price id for a plan, "" if none configured.
func (c *Catalog) PriceIDFor(p Plan) string {
	for id, plan := range c.byPriceID {
		if plan == p {
			return id
		}
	}
	return ""
}
