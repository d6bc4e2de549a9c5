package service_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/service"

	"github.com/shopspring/decimal"
)

func mustCatalog(t *testing.T) *service.Catalog {
	t.Helper()
	c, err := service.LoadCatalog(map[string]string{
		"growth_month":        "price_growth_m",
		"growth_year":         "price_growth_y",
		"starter_month":       "price_starter_m",
		"extra_business":      "price_biz_m",
		"extra_seat":          "price_seat_m",
		"extra_business_year": "price_biz_y",
	})
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return c
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLoadCatalog_Embedded(t *testing.T) {
	c := mustCatalog(t)
	plans := c.Plans()
	if len(plans) != 3 {
		t.Fatalf("expected 3 plans, got %d", len(plans))
	}
	want := []string{"starter", "growth", "agency"}
	for i, id := range want {
		if plans[i].ID != id {
			t.Errorf("plan %d: expected %s, got %s", i, id, plans[i].ID)
		}
	}
	growth, _ := c.Plan("growth")
	if growth.StripePriceMonthly != "price_growth_m" || growth.StripePriceAnnual != "price_growth_y" {
		t.Errorf("stripe prices not attached: %+v", growth)
	}
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := map[string]string{
		"empty": `plans: []`,
		"negative price": `
plans:
  - {id: x, name: X, monthly_price: "-1", annual_price: "10", included_businesses: 1, included_seats: 1,
     business_tiers: [{up_to: null, unit_price: "5"}]}`,
		"bounded last tier": `
plans:
  - {id: x, name: X, monthly_price: "1", annual_price: "10", included_businesses: 1, included_seats: 1,
     business_tiers: [{up_to: 5, unit_price: "5"}]}`,
		"descending tiers": `
plans:
  - {id: x, name: X, monthly_price: "1", annual_price: "10", included_businesses: 1, included_seats: 1,
     business_tiers: [{up_to: 5, unit_price: "5"}, {up_to: 3, unit_price: "4"}, {up_to: null, unit_price: "3"}]}`,
		"unbounded middle tier": `
plans:
  - {id: x, name: X, monthly_price: "1", annual_price: "10", included_businesses: 1, included_seats: 1,
     business_tiers: [{up_to: null, unit_price: "5"}, {up_to: null, unit_price: "4"}]}`,
		"duplicate id": `
plans:
  - {id: x, name: X, monthly_price: "1", annual_price: "10", included_businesses: 1, included_seats: 1,
     business_tiers: [{up_to: null, unit_price: "5"}]}
  - {id: x, name: X, monthly_price: "1", annual_price: "10", included_businesses: 1, included_seats: 1,
     business_tiers: [{up_to: null, unit_price: "5"}]}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := service.ParseCatalog([]byte(doc), nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestQuote(t *testing.T) {
	c := mustCatalog(t)
	tests := []struct {
		name       string
		req        domain.QuoteRequest
		wantTotal  string
		wantMonthly string
		wantLines  int
	}{
		{"base only", domain.QuoteRequest{PlanID: "growth"}, "99", "99", 1},
		{"included quantities", domain.QuoteRequest{PlanID: "growth", Businesses: 3, Seats: 3}, "99", "99", 1},
		// 2 extra businesses at 25 + 1 extra seat at 12
		{"extras monthly", domain.QuoteRequest{PlanID: "growth", Businesses: 5, Seats: 4}, "161", "161", 3},
		// 9 extra: 7 at 25, 2 at 19
		{"graduated tiers", domain.QuoteRequest{PlanID: "growth", Businesses: 12}, "312", "312", 3},
		// 990 + 12 * 2 * 25
		{"annual add-ons", domain.QuoteRequest{PlanID: "growth", Interval: "year", Businesses: 5}, "1590", "132.5", 2},
		{"annual base", domain.QuoteRequest{PlanID: "starter", Interval: "annual"}, "490", "40.83", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q, err := c.Quote(&tc.req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !q.Total.Equal(dec(tc.wantTotal)) {
				t.Errorf("total: expected %s, got %s", tc.wantTotal, q.Total)
			}
			if !q.MonthlyEquivalent.Equal(dec(tc.wantMonthly)) {
				t.Errorf("monthly equivalent: expected %s, got %s", tc.wantMonthly, q.MonthlyEquivalent)
			}
			if len(q.Lines) != tc.wantLines {
				t.Errorf("expected %d lines, got %+v", tc.wantLines, q.Lines)
			}
			sum := decimal.Zero
			for _, l := range q.Lines {
				sum = sum.Add(l.Amount)
			}
			if !sum.Round(2).Equal(q.Total) {
				t.Errorf("lines sum %s != total %s", sum, q.Total)
			}
		})
	}
}

func TestQuote_TierLineDescriptions(t *testing.T) {
	q, err := mustCatalog(t).Quote(&domain.QuoteRequest{PlanID: "agency", Businesses: 60})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 50 extra: 15 @19, 25 @15, 10 @12
	var descs []string
	for _, l := range q.Lines[1:] {
		descs = append(descs, l.Description)
	}
	if got := strings.Join(descs, "|"); got != "Additional businesses 1-15|Additional businesses 16-40|Additional businesses 41-50" {
		t.Errorf("unexpected tier lines %q", got)
	}
	if !q.Total.Equal(dec("1029")) {
		t.Errorf("expected 1029, got %s", q.Total)
	}
}

func TestQuote_Validation(t *testing.T) {
	c := mustCatalog(t)
	bad := []domain.QuoteRequest{
		{PlanID: "enterprise"},
		{PlanID: "growth", Interval: "weekly"},
		{PlanID: "growth", Businesses: -1},
		{PlanID: "growth", Seats: 501},
	}
	for _, req := range bad {
		_, err := c.Quote(&req)
		var ve *domain.ErrValidation
		if !errors.As(err, &ve) {
			t.Errorf("%+v: expected validation error, got %v", req, err)
		}
	}
}

func TestPlanForPrice(t *testing.T) {
	c := mustCatalog(t)
	p, interval, ok := c.PlanForPrice("price_growth_y")
	if !ok || p.ID != "growth" || interval != domain.IntervalYear {
		t.Errorf("unexpected lookup: %v %v %v", p, interval, ok)
	}
	if _, _, ok := c.PlanForPrice("price_unknown"); ok {
		t.Error("unknown price should not match")
	}
	if _, _, ok := c.PlanForPrice(""); ok {
		t.Error("empty price should not match")
	}
	if got := c.AddOnPrice("extra_business", domain.IntervalYear); got != "price_biz_y" {
		t.Errorf("expected annual add-on price, got %q", got)
	}
	if got := c.AddOnPrice("extra_seat", domain.IntervalYear); got != "price_seat_m" {
		t.Errorf("expected fallback to monthly add-on price, got %q", got)
	}
}

func TestRevenue(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(10 * 24 * time.Hour)

	subs := []domain.Subscription{
		{PlanID: "growth", Status: domain.SubscriptionActive, Interval: domain.IntervalMonth, Amount: dec("99")},
		{PlanID: "growth", Status: domain.SubscriptionPastDue, Interval: domain.IntervalMonth, Amount: dec("161")},
		{PlanID: "agency", Status: domain.SubscriptionActive, Interval: domain.IntervalYear, Amount: dec("2490")},
		{PlanID: "starter", Status: domain.SubscriptionTrialing, Interval: domain.IntervalMonth, Amount: dec("49")},
		{PlanID: "starter", Status: domain.SubscriptionCanceled, Interval: domain.IntervalMonth, Amount: dec("49")},
		{PlanID: "starter", Status: domain.SubscriptionActive, Interval: domain.IntervalMonth, Amount: dec("49"), CancelAtPeriodEnd: true, CurrentPeriodEnd: &past},
		{PlanID: "starter", Status: domain.SubscriptionActive, Interval: domain.IntervalMonth, Amount: dec("49"), CancelAtPeriodEnd: true, CurrentPeriodEnd: &future},
		{PlanID: "starter", Status: domain.SubscriptionIncomplete, Interval: domain.IntervalMonth, Amount: dec("49")},
	}

	r := service.Revenue(subs, now)

	// 99 + 161 + 2490/12 + 49
	if !r.MRR.Equal(dec("516.5")) {
		t.Errorf("MRR: expected 516.50, got %s", r.MRR)
	}
	if !r.ARR.Equal(dec("6198")) {
		t.Errorf("ARR: expected 6198, got %s", r.ARR)
	}
	if !r.ARPA.Equal(dec("129.13")) {
		t.Errorf("ARPA: expected 129.13, got %s", r.ARPA)
	}
	if r.Active != 3 || r.PastDue != 1 || r.Trialing != 1 || r.Canceled != 2 {
		t.Errorf("unexpected counts %+v", r)
	}
	if g := r.ByPlan["growth"]; g.Subscriptions != 2 || !g.MRR.Equal(dec("260")) {
		t.Errorf("growth: %+v", g)
	}
	if a := r.ByPlan["agency"]; !a.MRR.Equal(dec("207.5")) {
		t.Errorf("agency: %+v", a)
	}
	if ids := service.SortedPlanIDs(r); strings.Join(ids, ",") != "agency,growth,starter" {
		t.Errorf("unexpected plan ids %v", ids)
	}
}

func TestRevenue_Empty(t *testing.T) {
	r := service.Revenue(nil, time.Now())
	if !r.MRR.IsZero() || !r.ARPA.IsZero() || len(r.ByPlan) != 0 {
		t.Errorf("unexpected summary %+v", r)
	}
}
