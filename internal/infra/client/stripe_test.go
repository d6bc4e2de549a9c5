package client

import (
	"errors"
	"testing"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/resilience"

	"github.com/stripe/stripe-go/v81/webhook"
)

const testWebhookSecret = "whsec_test"

func newTestGateway() *StripeGateway {
	return NewStripeGateway("sk_test_x", testWebhookSecret, nil, resilience.NewCircuitBreaker("stripe"), resilience.Config{})
}

func signed(payload string) (string, []byte) {
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return sp.Header, sp.Payload
}

func TestParseWebhook_Subscription(t *testing.T) {
	header, payload := signed(`{
		"id": "evt_1", "object": "event", "type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_1", "object": "subscription", "status": "past_due", "customer": "cus_1",
			"current_period_end": 1767225600, "cancel_at_period_end": true,
			"metadata": {"plan_id": "growth", "user_id": "u1"},
			"items": {"object": "list", "data": [
				{"id": "si_1", "quantity": 1, "price": {"id": "price_growth_y", "unit_amount": 99000, "recurring": {"interval": "year"}}},
				{"id": "si_2", "quantity": 2, "price": {"id": "price_seat_y", "unit_amount": 12000, "recurring": {"interval": "year"}}}
			]}
		}}
	}`)

	ev, err := newTestGateway().ParseWebhook(payload, header)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.ID != "evt_1" || ev.Subscription == nil {
		t.Fatalf("unexpected event: %+v", ev)
	}
	s := ev.Subscription
	if s.Status != "past_due" || s.CustomerID != "cus_1" || !s.CancelAtPeriodEnd {
		t.Errorf("unexpected subscription: %+v", s)
	}
	if s.Interval != domain.IntervalYear {
		t.Errorf("interval = %q", s.Interval)
	}
	if s.AmountCents != 99000+2*12000 {
		t.Errorf("amount = %d", s.AmountCents)
	}
	if len(s.Items) != 2 || s.Metadata["plan_id"] != "growth" {
		t.Errorf("items = %v metadata = %v", s.Items, s.Metadata)
	}
}

func TestParseWebhook_Checkout(t *testing.T) {
	header, payload := signed(`{
		"id": "evt_2", "object": "event", "type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1", "object": "checkout.session", "customer": "cus_9", "subscription": "sub_9",
			"client_reference_id": "u1", "customer_details": {"email": "owner@example.com"},
			"metadata": {"user_id": "u1"}
		}}
	}`)

	ev, err := newTestGateway().ParseWebhook(payload, header)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	c := ev.Checkout
	if c == nil || c.CustomerID != "cus_9" || c.SubscriptionID != "sub_9" || c.CustomerEmail != "owner@example.com" || c.ReferenceID != "u1" {
		t.Errorf("unexpected checkout: %+v", c)
	}
}

func TestParseWebhook_UnknownTypeAcknowledged(t *testing.T) {
	header, payload := signed(`{"id": "evt_3", "object": "event", "type": "charge.refunded", "data": {"object": {"id": "ch_1"}}}`)

	ev, err := newTestGateway().ParseWebhook(payload, header)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.Type != "charge.refunded" || ev.Subscription != nil || ev.Checkout != nil || ev.Invoice != nil {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParseWebhook_BadSignature(t *testing.T) {
	_, payload := signed(`{"id": "evt_4", "object": "event", "type": "charge.refunded", "data": {"object": {}}}`)

	_, err := newTestGateway().ParseWebhook(payload, "t=1,v1=deadbeef")
	var sig *domain.ErrInvalidSignature
	if !errors.As(err, &sig) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
