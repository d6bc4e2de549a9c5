package service

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed plans.yaml
var defaultPlans []byte

const (
	maxQuoteBusinesses = 500
	maxQuoteSeats      = 500
)

var (
	twelve  = decimal.NewFromInt(12)
	zeroUSD = decimal.Zero
)

// Catalog is the validated set of sellable plans plus their Stripe prices.
type Catalog struct {
	plans  map[string]*domain.Plan
	order  []string
	prices map[string]string
}

type catalogFile struct {
	Plans []domain.Plan `yaml:"plans"`
}

// LoadCatalog parses the embedded plan list and attaches Stripe price ids.
func LoadCatalog(prices map[string]string) (*Catalog, error) {
	return ParseCatalog(defaultPlans, prices)
}

// ParseCatalog parses and validates a YAML plan list.
func ParseCatalog(data []byte, prices map[string]string) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse plans: %w", err)
	}
	if len(f.Plans) == 0 {
		return nil, errors.New("plans: catalog is empty")
	}
	if prices == nil {
		prices = map[string]string{}
	}

	c := &Catalog{plans: make(map[string]*domain.Plan, len(f.Plans)), prices: prices}
	for i := range f.Plans {
		p := f.Plans[i]
		if err := validatePlan(&p); err != nil {
			return nil, err
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("plans: duplicate id %q", p.ID)
		}
		p.StripePriceMonthly = prices[p.ID+"_month"]
		p.StripePriceAnnual = prices[p.ID+"_year"]
		c.plans[p.ID] = &p
		c.order = append(c.order, p.ID)
	}
	return c, nil
}

func validatePlan(p *domain.Plan) error {
	if p.ID == "" {
		return errors.New("plans: plan without id")
	}
	if !p.MonthlyPrice.IsPositive() || !p.AnnualPrice.IsPositive() {
		return fmt.Errorf("plans: %s: prices must be positive", p.ID)
	}
	if p.IncludedBusinesses < 1 || p.IncludedSeats < 1 {
		return fmt.Errorf("plans: %s: must include at least one business and one seat", p.ID)
	}
	if p.SeatPrice.IsNegative() {
		return fmt.Errorf("plans: %s: seat price is negative", p.ID)
	}
	if len(p.BusinessTiers) == 0 {
		return fmt.Errorf("plans: %s: no business tiers", p.ID)
	}
	prev := 0
	for i, t := range p.BusinessTiers {
		if !t.UnitPrice.IsPositive() {
			return fmt.Errorf("plans: %s: tier %d price must be positive", p.ID, i)
		}
		last := i == len(p.BusinessTiers)-1
		switch {
		case t.UpTo == nil && !last:
			return fmt.Errorf("plans: %s: only the last tier may be unbounded", p.ID)
		case t.UpTo != nil && last:
			return fmt.Errorf("plans: %s: last tier must be unbounded", p.ID)
		case t.UpTo != nil && *t.UpTo <= prev:
			return fmt.Errorf("plans: %s: tiers must be ascending", p.ID)
		}
		if t.UpTo != nil {
			prev = *t.UpTo
		}
	}
	return nil
}

// Plans returns every plan in catalog order.
func (c *Catalog) Plans() []domain.Plan {
	out := make([]domain.Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.plans[id])
	}
	return out
}

// Plan looks up a plan by id.
func (c *Catalog) Plan(id string) (*domain.Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return nil, &domain.ErrValidation{Field: "plan_id", Message: "unknown plan: " + id}
	}
	return p, nil
}

// PlanForPrice finds the plan and interval a Stripe price id belongs to.
func (c *Catalog) PlanForPrice(priceID string) (*domain.Plan, domain.Interval, bool) {
	if priceID == "" {
		return nil, "", false
	}
	for _, id := range c.order {
		p := c.plans[id]
		switch priceID {
		case p.StripePriceMonthly:
			return p, domain.IntervalMonth, true
		case p.StripePriceAnnual:
			return p, domain.IntervalYear, true
		}
	}
	return nil, "", false
}

// AddOnPrice returns the Stripe price id for extra businesses or seats
// ("extra_business" / "extra_seat"). Annual subscriptions prefer the
// "_year" variant.
func (c *Catalog) AddOnPrice(kind string, interval domain.Interval) string {
	if interval == domain.IntervalYear {
		if id := c.prices[kind+"_year"]; id != "" {
			return id
		}
	}
	return c.prices[kind]
}

// ============================================================
// Quotes
// ============================================================

// Quote prices a plan configuration for one billing interval.
func (c *Catalog) Quote(req *domain.QuoteRequest) (*domain.PriceQuote, error) {
	plan, err := c.Plan(req.PlanID)
	if err != nil {
		return nil, err
	}
	interval, err := domain.ParseInterval(req.Interval)
	if err != nil {
		return nil, err
	}
	businesses, seats := req.Businesses, req.Seats
	if businesses == 0 {
		businesses = 1
	}
	if seats == 0 {
		seats = 1
	}
	if businesses < 1 || businesses > maxQuoteBusinesses {
		return nil, &domain.ErrValidation{Field: "businesses", Message: fmt.Sprintf("must be between 1 and %d", maxQuoteBusinesses)}
	}
	if seats < 1 || seats > maxQuoteSeats {
		return nil, &domain.ErrValidation{Field: "seats", Message: fmt.Sprintf("must be between 1 and %d", maxQuoteSeats)}
	}

	// Add-ons are priced per month; an annual term bills twelve of them.
	months := decimal.NewFromInt(1)
	if interval == domain.IntervalYear {
		months = twelve
	}

	q := &domain.PriceQuote{
		PlanID:     plan.ID,
		Interval:   interval,
		Businesses: businesses,
		Seats:      seats,
	}
	base := plan.BasePrice(interval)
	q.Lines = append(q.Lines, domain.QuoteLine{
		Description: plan.Name + " plan",
		Quantity:    1,
		Amount:      base,
	})
	total := base

	for _, line := range extraBusinessLines(plan, businesses-plan.IncludedBusinesses) {
		line.Amount = line.Amount.Mul(months)
		q.Lines = append(q.Lines, line)
		total = total.Add(line.Amount)
	}

	if extra := seats - plan.IncludedSeats; extra > 0 && plan.SeatPrice.IsPositive() {
		amt := plan.SeatPrice.Mul(decimal.NewFromInt(int64(extra))).Mul(months)
		q.Lines = append(q.Lines, domain.QuoteLine{
			Description: "Additional seats",
			Quantity:    extra,
			Amount:      amt,
		})
		total = total.Add(amt)
	}

	q.Total = total.Round(2)
	if interval == domain.IntervalYear {
		q.MonthlyEquivalent = total.Div(twelve).Round(2)
	} else {
		q.MonthlyEquivalent = q.Total
	}
	return q, nil
}

// extraBusinessLines prices extra businesses through the plan's graduated
// tiers. Tier bounds count extra businesses, not the total.
func extraBusinessLines(plan *domain.Plan, extra int) []domain.QuoteLine {
	if extra <= 0 {
		return nil
	}
	var lines []domain.QuoteLine
	from := 1
	for _, tier := range plan.BusinessTiers {
		if from > extra {
			break
		}
		to := extra
		if tier.UpTo != nil && *tier.UpTo < extra {
			to = *tier.UpTo
		}
		if to < from {
			continue
		}
		n := to - from + 1
		lines = append(lines, domain.QuoteLine{
			Description: fmt.Sprintf("Additional businesses %d-%d", from, to),
			Quantity:    n,
			Amount:      tier.UnitPrice.Mul(decimal.NewFromInt(int64(n))),
		})
		from = to + 1
	}
	return lines
}

// ============================================================
// Revenue
// ============================================================

// Revenue summarises recurring revenue over subs as of asOf. MRR counts
// active and past_due subscriptions; annual amounts are spread over twelve
// months. Trials, cancellations and periods that ended with
// cancel_at_period_end contribute nothing.
func Revenue(subs []domain.Subscription, asOf time.Time) *domain.RevenueSummary {
	sum := &domain.RevenueSummary{
		AsOf:   asOf.UTC(),
		MRR:    zeroUSD,
		ByPlan: make(map[string]domain.PlanRevenue),
	}
	mrr := decimal.Zero
	paying := 0

	for _, s := range subs {
		ended := s.CancelAtPeriodEnd && s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.Before(asOf)
		switch {
		case s.Status == domain.SubscriptionCanceled || ended:
			sum.Canceled++
			continue
		case s.Status == domain.SubscriptionTrialing:
			sum.Trialing++
			continue
		case s.Status == domain.SubscriptionActive:
			sum.Active++
		case s.Status == domain.SubscriptionPastDue:
			sum.PastDue++
		default:
			continue
		}

		monthly := s.Amount
		if s.Interval == domain.IntervalYear {
			monthly = monthly.Div(twelve)
		}
		mrr = mrr.Add(monthly)
		paying++

		pr := sum.ByPlan[s.PlanID]
		pr.Subscriptions++
		pr.MRR = pr.MRR.Add(monthly)
		sum.ByPlan[s.PlanID] = pr
	}

	for id, pr := range sum.ByPlan {
		pr.MRR = pr.MRR.Round(2)
		sum.ByPlan[id] = pr
	}
	sum.MRR = mrr.Round(2)
	sum.ARR = mrr.Mul(twelve).Round(2)
	if paying > 0 {
		sum.ARPA = mrr.Div(decimal.NewFromInt(int64(paying))).Round(2)
	} else {
		sum.ARPA = zeroUSD
	}
	return sum
}

// SortedPlanIDs returns the ByPlan keys in a stable order for reports.
func SortedPlanIDs(r *domain.RevenueSummary) []string {
	ids := make([]string, 0, len(r.ByPlan))
	for id := range r.ByPlan {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
