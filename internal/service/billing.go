package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/observability"
	"github.com/jetsuite/jetsuite-api/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var billingTracer = otel.Tracer("service/billing")

const webhookSourceStripe = "stripe"

// Stripe metadata keys written at checkout and read back from webhooks.
const (
	metaUserID     = "user_id"
	metaBusinessID = "business_id"
	metaPlanID     = "plan_id"
	metaInterval   = "interval"
	metaBusinesses = "businesses"
	metaSeats      = "seats"
)

// BillingService sells plans through Stripe and keeps subscriptions in sync.
type BillingService struct {
	store      port.BillingStore
	gateway    port.PaymentGateway // nil when Stripe is not configured
	catalog    *Catalog
	businesses *BusinessService
	messenger  *Messenger
	appURL     string
	now        func() time.Time
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewBillingService creates a new billing service. gateway may be nil.
func NewBillingService(
	store port.BillingStore,
	gateway port.PaymentGateway,
	catalog *Catalog,
	businesses *BusinessService,
	messenger *Messenger,
	appURL string,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *BillingService {
	return &BillingService{
		store:      store,
		gateway:    gateway,
		catalog:    catalog,
		businesses: businesses,
		messenger:  messenger,
		appURL:     strings.TrimRight(appURL, "/"),
		now:        time.Now,
		metrics:    metrics,
		logger:     logger,
	}
}

// Catalog exposes the plan catalog for the pricing endpoints.
func (s *BillingService) Catalog() *Catalog { return s.catalog }

func (s *BillingService) requireGateway() error {
	if s.gateway == nil {
		return &domain.ErrNotConfigured{Feature: "billing"}
	}
	return nil
}

// ============================================================
// Checkout & portal
// ============================================================

// CreateCheckout opens a hosted checkout for the requested configuration.
func (s *BillingService) CreateCheckout(ctx context.Context, user *domain.User, req *domain.QuoteRequest) (*domain.CheckoutResponse, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.CreateCheckout")
	defer span.End()
	span.SetAttributes(attribute.String("plan.id", req.PlanID))

	if err := s.requireGateway(); err != nil {
		return nil, err
	}
	if req.BusinessID != "" {
		if _, err := s.businesses.Authorize(ctx, user.ID, req.BusinessID); err != nil {
			return nil, err
		}
	}

	quote, err := s.catalog.Quote(req)
	if err != nil {
		return nil, err
	}
	plan, _ := s.catalog.Plan(quote.PlanID)
	items, err := s.lineItems(plan, quote)
	if err != nil {
		return nil, err
	}

	params := &port.CheckoutParams{
		LineItems:   items,
		SuccessURL:  s.appURL + "/dashboard/billing?checkout=success&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   s.appURL + "/pricing?checkout=cancelled",
		ReferenceID: user.ID,
		Metadata: map[string]string{
			metaUserID:     user.ID,
			metaPlanID:     plan.ID,
			metaInterval:   string(quote.Interval),
			metaBusinesses: strconv.Itoa(quote.Businesses),
			metaSeats:      strconv.Itoa(quote.Seats),
		},
	}
	if req.BusinessID != "" {
		params.Metadata[metaBusinessID] = req.BusinessID
	}

	customer, err := s.store.GetStripeCustomer(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if customer != nil {
		params.CustomerID = customer.StripeCustomerID
	} else {
		params.CustomerEmail = user.Email
	}

	resp, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		s.metrics.IncrExternalError("stripe")
		return nil, err
	}
	s.logger.Info("checkout session created",
		zap.String("user_id", user.ID),
		zap.String("plan_id", plan.ID),
		zap.String("interval", string(quote.Interval)),
		zap.String("session_id", resp.SessionID),
	)
	return resp, nil
}

func (s *BillingService) lineItems(plan *domain.Plan, q *domain.PriceQuote) ([]port.LineItem, error) {
	planPrice := plan.StripePriceMonthly
	if q.Interval == domain.IntervalYear {
		planPrice = plan.StripePriceAnnual
	}
	if planPrice == "" {
		return nil, &domain.ErrNotConfigured{Feature: fmt.Sprintf("stripe price for %s/%s", plan.ID, q.Interval)}
	}
	items := []port.LineItem{{PriceID: planPrice, Quantity: 1}}

	addOns := []struct {
		kind  string
		extra int
	}{
		{"extra_business", q.Businesses - plan.IncludedBusinesses},
		{"extra_seat", q.Seats - plan.IncludedSeats},
	}
	for _, a := range addOns {
		if a.extra <= 0 {
			continue
		}
		id := s.catalog.AddOnPrice(a.kind, q.Interval)
		if id == "" {
			return nil, &domain.ErrNotConfigured{Feature: "stripe price for " + a.kind}
		}
		items = append(items, port.LineItem{PriceID: id, Quantity: int64(a.extra)})
	}
	return items, nil
}

// CreatePortal opens the Stripe billing portal for the user.
func (s *BillingService) CreatePortal(ctx context.Context, userID string) (*domain.CheckoutResponse, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.CreatePortal")
	defer span.End()

	if err := s.requireGateway(); err != nil {
		return nil, err
	}
	customer, err := s.store.GetStripeCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, &domain.ErrNotFound{Resource: "stripe customer", ID: userID}
	}
	url, err := s.gateway.CreatePortalSession(ctx, customer.StripeCustomerID, s.appURL+"/dashboard/billing")
	if err != nil {
		s.metrics.IncrExternalError("stripe")
		return nil, err
	}
	return &domain.CheckoutResponse{URL: url}, nil
}

// GetSubscription returns the user's current subscription.
func (s *BillingService) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.GetSubscription")
	defer span.End()

	sub, err := s.store.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, &domain.ErrNotFound{Resource: "subscription", ID: userID}
	}
	return sub, nil
}

// Revenue reports MRR over every stored subscription.
func (s *BillingService) Revenue(ctx context.Context) (*domain.RevenueSummary, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.Revenue")
	defer span.End()

	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	return Revenue(subs, s.now()), nil
}

// ============================================================
// Webhooks
// ============================================================

// HandleWebhook verifies and applies a Stripe event. Each event id is applied
// once; when applying fails the claim is released so Stripe's retry is
// processed again.
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ctx, span := billingTracer.Start(ctx, "BillingService.HandleWebhook")
	defer span.End()

	if err := s.requireGateway(); err != nil {
		return err
	}
	evt, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		s.metrics.IncrWebhook(webhookSourceStripe, "invalid_signature")
		return err
	}
	span.SetAttributes(attribute.String("stripe.event_type", evt.Type))

	fresh, err := s.store.MarkWebhookProcessed(ctx, webhookSourceStripe, evt.ID, evt.Type)
	if err != nil {
		return err
	}
	if !fresh {
		s.metrics.IncrWebhook(webhookSourceStripe, "duplicate")
		s.logger.Info("stripe event already processed", zap.String("event_id", evt.ID))
		return nil
	}

	if err := s.applyEvent(ctx, evt); err != nil {
		s.metrics.IncrWebhook(webhookSourceStripe, "failed")
		if rerr := s.store.ReleaseWebhook(ctx, webhookSourceStripe, evt.ID); rerr != nil {
			s.logger.Error("failed to release stripe event",
				zap.String("event_id", evt.ID),
				zap.Error(rerr),
			)
		}
		return err
	}

	s.metrics.IncrWebhook(webhookSourceStripe, evt.Type)
	s.logger.Info("stripe event processed",
		zap.String("event_id", evt.ID),
		zap.String("type", evt.Type),
	)
	return nil
}

func (s *BillingService) applyEvent(ctx context.Context, evt *port.WebhookEvent) error {
	switch evt.Type {
	case "checkout.session.completed":
		if evt.Checkout == nil {
			return nil
		}
		return s.onCheckoutCompleted(ctx, evt.Checkout)
	case "customer.subscription.created", "customer.subscription.updated":
		if evt.Subscription == nil {
			return nil
		}
		return s.onSubscriptionChanged(ctx, evt.Subscription)
	case "customer.subscription.deleted":
		if evt.Subscription == nil {
			return nil
		}
		return s.store.UpdateSubscriptionStatus(ctx, evt.Subscription.SubscriptionID, domain.SubscriptionCanceled)
	case "invoice.payment_failed":
		if evt.Invoice == nil {
			return nil
		}
		return s.onPaymentFailed(ctx, evt.Invoice)
	}
	s.logger.Debug("stripe event ignored", zap.String("type", evt.Type))
	return nil
}

func (s *BillingService) onCheckoutCompleted(ctx context.Context, c *port.CheckoutCompleted) error {
	userID := c.ReferenceID
	if userID == "" {
		userID = c.Metadata[metaUserID]
	}
	if userID == "" || c.CustomerID == "" {
		s.logger.Warn("checkout completed without user or customer",
			zap.String("session_id", c.SessionID),
		)
		return nil
	}
	if err := s.store.SaveStripeCustomer(ctx, &domain.StripeCustomer{
		UserID:           userID,
		StripeCustomerID: c.CustomerID,
		Email:            c.CustomerEmail,
	}); err != nil {
		return err
	}

	if c.CustomerEmail != "" && s.messenger.EmailEnabled() {
		planName := c.Metadata[metaPlanID]
		if p, err := s.catalog.Plan(planName); err == nil {
			planName = p.Name
		}
		data := map[string]string{
			"Plan":         planName,
			"DashboardURL": s.appURL + "/dashboard",
		}
		if _, err := s.messenger.SendTemplate(ctx, c.CustomerEmail, "Welcome to JetSuite", TemplateWelcome, data); err != nil {
			s.logger.Warn("welcome email failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

func (s *BillingService) onSubscriptionChanged(ctx context.Context, sc *port.SubscriptionChange) error {
	userID := sc.Metadata[metaUserID]
	if userID == "" && sc.CustomerID != "" {
		customer, err := s.store.GetStripeCustomerByStripeID(ctx, sc.CustomerID)
		if err != nil {
			return err
		}
		if customer != nil {
			userID = customer.UserID
		}
	}
	if userID == "" {
		s.logger.Warn("subscription without a known user",
			zap.String("subscription_id", sc.SubscriptionID),
			zap.String("customer_id", sc.CustomerID),
		)
		return nil
	}

	sub := &domain.Subscription{
		UserID:               userID,
		BusinessID:           sc.Metadata[metaBusinessID],
		StripeSubscriptionID: sc.SubscriptionID,
		StripeCustomerID:     sc.CustomerID,
		PlanID:               sc.Metadata[metaPlanID],
		Status:               sc.Status,
		Interval:             sc.Interval,
		Amount:               decimal.New(sc.AmountCents, -2),
		CancelAtPeriodEnd:    sc.CancelAtPeriodEnd,
	}
	if !sc.CurrentPeriodEnd.IsZero() {
		end := sc.CurrentPeriodEnd
		sub.CurrentPeriodEnd = &end
	}
	s.fillQuantities(sub, sc)

	return s.store.UpsertSubscription(ctx, sub)
}

// fillQuantities derives plan, businesses and seats from the subscription
// items when checkout metadata is missing, e.g. after a portal plan change.
func (s *BillingService) fillQuantities(sub *domain.Subscription, sc *port.SubscriptionChange) {
	var plan *domain.Plan
	extraBiz, extraSeats := 0, 0
	for _, item := range sc.Items {
		if p, _, ok := s.catalog.PlanForPrice(item.PriceID); ok {
			plan = p
			continue
		}
		switch item.PriceID {
		case s.catalog.AddOnPrice("extra_business", sub.Interval):
			extraBiz += int(item.Quantity)
		case s.catalog.AddOnPrice("extra_seat", sub.Interval):
			extraSeats += int(item.Quantity)
		}
	}
	sub.Businesses, _ = strconv.Atoi(sc.Metadata[metaBusinesses])
	sub.Seats, _ = strconv.Atoi(sc.Metadata[metaSeats])
	if plan != nil {
		sub.PlanID = plan.ID
		sub.Businesses = plan.IncludedBusinesses + extraBiz
		sub.Seats = plan.IncludedSeats + extraSeats
	}
}

func (s *BillingService) onPaymentFailed(ctx context.Context, inv *port.InvoiceFailed) error {
	if inv.SubscriptionID != "" {
		if err := s.store.UpdateSubscriptionStatus(ctx, inv.SubscriptionID, domain.SubscriptionPastDue); err != nil {
			return err
		}
	}

	to := inv.CustomerEmail
	if to == "" && inv.CustomerID != "" {
		customer, err := s.store.GetStripeCustomerByStripeID(ctx, inv.CustomerID)
		if err != nil {
			return err
		}
		if customer != nil {
			to = customer.Email
		}
	}
	if to == "" || !s.messenger.EmailEnabled() {
		return nil
	}
	data := map[string]string{
		"Amount":     "$" + decimal.New(inv.AmountDueCents, -2).StringFixed(2),
		"InvoiceURL": inv.HostedURL,
	}
	if _, err := s.messenger.SendTemplate(ctx, to, "Action needed: payment failed", TemplatePaymentFailed, data); err != nil {
		s.logger.Warn("payment failed email not sent",
			zap.String("invoice_id", inv.InvoiceID),
			zap.Error(err),
		)
	}
	return nil
}
