package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/resilience"
	"github.com/jetsuite/jetsuite-api/internal/port"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/stripe/stripe-go/v81"
	stripeclient "github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

// StripeGateway is the Stripe implementation of port.PaymentGateway.
type StripeGateway struct {
	api           *stripeclient.API
	webhookSecret string
	cb            *gobreaker.CircuitBreaker
	cfg           resilience.Config
}

// NewStripeGateway creates a gateway. backends may be nil for the defaults.
func NewStripeGateway(secretKey, webhookSecret string, backends *stripe.Backends, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *StripeGateway {
	api := &stripeclient.API{}
	api.Init(secretKey, backends)
	return &StripeGateway{api: api, webhookSecret: webhookSecret, cb: cb, cfg: cfg}
}

// CreateCheckoutSession opens a hosted subscription checkout.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p *port.CheckoutParams) (*domain.CheckoutResponse, error) {
	ctx, span := tracer.Start(ctx, "StripeGateway.CreateCheckoutSession")
	defer span.End()

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
		ClientReferenceID: stripe.String(p.ReferenceID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: p.Metadata,
		},
		AllowPromotionCodes: stripe.Bool(true),
	}
	params.Context = ctx
	params.Metadata = p.Metadata
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	} else if p.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(p.CustomerEmail)
	}
	for _, li := range p.LineItems {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(li.PriceID),
			Quantity: stripe.Int64(li.Quantity),
		})
	}

	// One key for every retry of this call, so Stripe never opens two sessions.
	params.SetIdempotencyKey(uuid.NewString())

	var sess *stripe.CheckoutSession
	err := g.execute(ctx, func() error {
		s, err := g.api.CheckoutSessions.New(params)
		if err != nil {
			return err
		}
		sess = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &domain.CheckoutResponse{URL: sess.URL, SessionID: sess.ID}, nil
}

// CreatePortalSession opens the Stripe billing portal for a customer.
func (g *StripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	ctx, span := tracer.Start(ctx, "StripeGateway.CreatePortalSession")
	defer span.End()

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	var url string
	err := g.execute(ctx, func() error {
		s, err := g.api.BillingPortalSessions.New(params)
		if err != nil {
			return err
		}
		url = s.URL
		return nil
	})
	return url, err
}

// ParseWebhook verifies the Stripe-Signature header and decodes the events
// billing reacts to. Other event types come back with only ID and Type set.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*port.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, &domain.ErrInvalidSignature{Source: "stripe"}
	}

	out := &port.WebhookEvent{ID: event.ID, Type: string(event.Type)}
	switch out.Type {
	case "checkout.session.completed":
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, &domain.ErrValidation{Field: "payload", Message: "invalid checkout session"}
		}
		out.Checkout = toCheckoutCompleted(&s)
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var s stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, &domain.ErrValidation{Field: "payload", Message: "invalid subscription"}
		}
		out.Subscription = toSubscriptionChange(&s)
	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, &domain.ErrValidation{Field: "payload", Message: "invalid invoice"}
		}
		out.Invoice = toInvoiceFailed(&inv)
	}
	return out, nil
}

func toCheckoutCompleted(s *stripe.CheckoutSession) *port.CheckoutCompleted {
	cc := &port.CheckoutCompleted{
		SessionID:   s.ID,
		ReferenceID: s.ClientReferenceID,
		Metadata:    s.Metadata,
	}
	if s.Customer != nil {
		cc.CustomerID = s.Customer.ID
	}
	if s.CustomerDetails != nil {
		cc.CustomerEmail = s.CustomerDetails.Email
	}
	if s.Subscription != nil {
		cc.SubscriptionID = s.Subscription.ID
	}
	return cc
}

func toSubscriptionChange(s *stripe.Subscription) *port.SubscriptionChange {
	sc := &port.SubscriptionChange{
		SubscriptionID:    s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Metadata:          s.Metadata,
		Interval:          domain.IntervalMonth,
	}
	if s.CurrentPeriodEnd > 0 {
		sc.CurrentPeriodEnd = time.Unix(s.CurrentPeriodEnd, 0).UTC()
	}
	if s.Customer != nil {
		sc.CustomerID = s.Customer.ID
	}
	if s.Items != nil {
		for _, item := range s.Items.Data {
			if item.Price == nil {
				continue
			}
			sc.Items = append(sc.Items, port.LineItem{PriceID: item.Price.ID, Quantity: item.Quantity})
			sc.AmountCents += item.Price.UnitAmount * item.Quantity
			if item.Price.Recurring != nil && item.Price.Recurring.Interval == stripe.PriceRecurringIntervalYear {
				sc.Interval = domain.IntervalYear
			}
		}
	}
	return sc
}

func toInvoiceFailed(inv *stripe.Invoice) *port.InvoiceFailed {
	f := &port.InvoiceFailed{
		InvoiceID:      inv.ID,
		CustomerEmail:  inv.CustomerEmail,
		AmountDueCents: inv.AmountDue,
		HostedURL:      inv.HostedInvoiceURL,
	}
	if inv.Customer != nil {
		f.CustomerID = inv.Customer.ID
	}
	if inv.Subscription != nil {
		f.SubscriptionID = inv.Subscription.ID
	}
	return f
}

func (g *StripeGateway) execute(ctx context.Context, fn func() error) error {
	err := resilience.Execute(ctx, g.cb, g.cfg, func() error {
		err := fn()
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode < http.StatusInternalServerError && serr.HTTPStatusCode != http.StatusTooManyRequests {
			return resilience.Permanent(err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if resilience.IsCircuitOpen(err) {
		return &domain.ErrCircuitOpen{Service: "stripe"}
	}
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.Type == stripe.ErrorTypeInvalidRequest {
		return &domain.ErrValidation{Field: serr.Param, Message: fmt.Sprintf("stripe: %s", serr.Msg)}
	}
	return &domain.ErrExternalService{Service: "stripe", Err: err}
}
