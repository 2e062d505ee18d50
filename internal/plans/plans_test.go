package plans

import (
	"testing"

	"viraloop/internal/config"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want Plan
	}{
		{"starter", PlanStarter},
		{"Starter", PlanStarter},
		{"growth", PlanGrowth},
		{"Growth (monthly)", PlanGrowth},
		{"scale (yearly)", PlanScale},
		{"  Scale  ", PlanScale},
		{"trial", PlanTrial},
		{"enterprise", PlanUnknown},
		{"", PlanUnknown},
		{"(monthly)", PlanUnknown},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMonthlyCredits(t *testing.T) {
	cases := []struct {
		plan    Plan
		credits int
		ok      bool
	}{
		{PlanStarter, 300, true},
		{PlanGrowth, 1000, true},
		{PlanScale, 3000, true},
		{PlanTrial, 0, false},
		{PlanUnknown, 0, false},
	}
	for _, c := range cases {
		got, ok := MonthlyCredits(c.plan)
		if got != c.credits || ok != c.ok {
			t.Errorf("MonthlyCredits(%q) = (%d, %v), want (%d, %v)", c.plan, got, ok, c.credits, c.ok)
		}
	}
}

func testCatalog() *Catalog {
	return NewCatalog(&config.Config{
		StripePriceStarter: "price_starter",
		StripePriceGrowth:  "price_growth",
		StripePriceScale:   "price_scale",
		StripePriceTrial:   "price_trial",
	})
}

func TestCatalogPlanFromPriceID(t *testing.T) {
	c := testCatalog()

	if got := c.PlanFromPriceID("price_growth"); got != PlanGrowth {
		t.Errorf("PlanFromPriceID(price_growth) = %q, want %q", got, PlanGrowth)
	}
	if got := c.PlanFromPriceID("price_bogus"); got != PlanUnknown {
		t.Errorf("PlanFromPriceID(price_bogus) = %q, want unknown", got)
	}
}

func TestLimitsFromPriceIDIsPure(t *testing.T) {
	c := testCatalog()

	first, ok := c.LimitsFromPriceID("price_scale")
	if !ok {
		t.Fatal("expected limits for price_scale")
	}
	second, _ := c.LimitsFromPriceID("price_scale")
	if first.Influencers != second.Influencers ||
		first.ImagesPerMonth != second.ImagesPerMonth ||
		first.VideosPerMonth != second.VideosPerMonth {
		t.Errorf("LimitsFromPriceID not stable: %+v vs %+v", first, second)
	}
	if first.Influencers != 10 || first.ImagesPerMonth != 1000 || first.VideosPerMonth != 250 {
		t.Errorf("unexpected scale limits: %+v", first)
	}

	if _, ok := c.LimitsFromPriceID("price_bogus"); ok {
		t.Error("expected no limits for unknown price id")
	}
}

func TestPriceIDFor(t *testing.T) {
	c := testCatalog()
	if got := c.PriceIDFor(PlanStarter); got != "price_starter" {
		t.Errorf("PriceIDFor(starter) = %q", got)
	}
	if got := c.PriceIDFor(PlanUnknown); got != "" {
		t.Errorf("PriceIDFor(unknown) = %q, want empty", got)
	}
}
