package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Plans & pricing
// ============================================================

// Interval is a billing cadence.
type Interval string

const (
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// ParseInterval validates a billing interval, defaulting to monthly.
func ParseInterval(s string) (Interval, error) {
	switch s {
	case "", "month", "monthly":
		return IntervalMonth, nil
	case "year", "annual", "yearly":
		return IntervalYear, nil
	}
	return "", &ErrValidation{Field: "interval", Message: "must be month or year"}
}

// PriceTier is one band of graduated pricing. UpTo nil means unbounded.
type PriceTier struct {
	UpTo      *int            `json:"up_to" yaml:"up_to"`
	UnitPrice decimal.Decimal `json:"unit_price" yaml:"unit_price"`
}

// Plan is a sellable subscription tier.
type Plan struct {
	ID                 string          `json:"id" yaml:"id"`
	Name               string          `json:"name" yaml:"name"`
	MonthlyPrice       decimal.Decimal `json:"monthly_price" yaml:"monthly_price"`
	AnnualPrice        decimal.Decimal `json:"annual_price" yaml:"annual_price"`
	IncludedBusinesses int             `json:"included_businesses" yaml:"included_businesses"`
	IncludedSeats      int             `json:"included_seats" yaml:"included_seats"`
	SeatPrice          decimal.Decimal `json:"seat_price" yaml:"seat_price"`
	BusinessTiers      []PriceTier     `json:"business_tiers" yaml:"business_tiers"`
	Features           []string        `json:"features" yaml:"features"`
	StripePriceMonthly string          `json:"-" yaml:"-"`
	StripePriceAnnual  string          `json:"-" yaml:"-"`
}

// BasePrice returns the plan price for one billing interval.
func (p *Plan) BasePrice(i Interval) decimal.Decimal {
	if i == IntervalYear {
		return p.AnnualPrice
	}
	return p.MonthlyPrice
}

// QuoteLine is one priced component of a quote.
type QuoteLine struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
}

// PriceQuote is the price of a plan configuration for one interval.
type PriceQuote struct {
	PlanID            string          `json:"plan_id"`
	Interval          Interval        `json:"interval"`
	Businesses        int             `json:"businesses"`
	Seats             int             `json:"seats"`
	Lines             []QuoteLine     `json:"lines"`
	Total             decimal.Decimal `json:"total"`
	MonthlyEquivalent decimal.Decimal `json:"monthly_equivalent"`
}

// QuoteRequest is the body for pricing and checkout.
type QuoteRequest struct {
	PlanID     string `json:"plan_id"`
	Interval   string `json:"interval"`
	Businesses int    `json:"businesses"`
	Seats      int    `json:"seats"`
	BusinessID string `json:"business_id,omitempty"`
}

// ============================================================
// Subscriptions
// ============================================================

// Subscription status values mirror Stripe's.
const (
	SubscriptionActive     = "active"
	SubscriptionTrialing   = "trialing"
	SubscriptionPastDue    = "past_due"
	SubscriptionCanceled   = "canceled"
	SubscriptionIncomplete = "incomplete"
	SubscriptionUnpaid     = "unpaid"
)

// Subscription is the stored billing state of a user.
type Subscription struct {
	ID                   string          `json:"id,omitempty"`
	UserID               string          `json:"user_id"`
	BusinessID           string          `json:"business_id,omitempty"`
	StripeSubscriptionID string          `json:"stripe_subscription_id"`
	StripeCustomerID     string          `json:"stripe_customer_id"`
	PlanID               string          `json:"plan_id"`
	Status               string          `json:"status"`
	Interval             Interval        `json:"interval"`
	Amount               decimal.Decimal `json:"amount"` // per interval, all line items
	Businesses           int             `json:"businesses"`
	Seats                int             `json:"seats"`
	CurrentPeriodEnd     *time.Time      `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool            `json:"cancel_at_period_end"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// PlanRevenue is the MRR attributable to one plan.
type PlanRevenue struct {
	Subscriptions int             `json:"subscriptions"`
	MRR           decimal.Decimal `json:"mrr"`
}

// RevenueSummary is the recurring revenue snapshot over all subscriptions.
type RevenueSummary struct {
	AsOf     time.Time              `json:"as_of"`
	MRR      decimal.Decimal        `json:"mrr"`
	ARR      decimal.Decimal        `json:"arr"`
	ARPA     decimal.Decimal        `json:"arpa"`
	Active   int                    `json:"active"`
	Trialing int                    `json:"trialing"`
	PastDue  int                    `json:"past_due"`
	Canceled int                    `json:"canceled"`
	ByPlan   map[string]PlanRevenue `json:"by_plan"`
}

// CheckoutResponse carries a hosted Stripe page URL.
type CheckoutResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id,omitempty"`
}

// StripeCustomer links a JetSuite user to a Stripe customer.
type StripeCustomer struct {
	UserID           string    `json:"user_id"`
	StripeCustomerID string    `json:"stripe_customer_id"`
	Email            string    `json:"email,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
