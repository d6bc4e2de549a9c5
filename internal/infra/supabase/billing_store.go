package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/domain"
)

// ============================================================
// BillingStore implementation: subscriptions, stripe_customers, webhook_events
// ============================================================

func (c *Client) GetSubscriptionByUser(ctx context.Context, userID string) (*domain.Subscription, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetSubscriptionByUser")
	defer span.End()

	var rows []domain.Subscription
	path := fmt.Sprintf("subscriptions?%s&order=updated_at.desc&limit=1", eq("user_id", userID))
	if err := c.selectRows(ctx, path, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (c *Client) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListSubscriptions")
	defer span.End()

	var rows []domain.Subscription
	if err := c.selectRows(ctx, "subscriptions?order=updated_at.desc", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// UpsertSubscription writes the subscription keyed by its Stripe id.
func (c *Client) UpsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertSubscription")
	defer span.End()

	row := map[string]any{
		"user_id":                sub.UserID,
		"stripe_subscription_id": sub.StripeSubscriptionID,
		"stripe_customer_id":     sub.StripeCustomerID,
		"plan_id":                sub.PlanID,
		"status":                 sub.Status,
		"interval":               sub.Interval,
		"amount":                 sub.Amount,
		"businesses":             sub.Businesses,
		"seats":                  sub.Seats,
		"current_period_end":     sub.CurrentPeriodEnd,
		"cancel_at_period_end":   sub.CancelAtPeriodEnd,
		"updated_at":             time.Now().UTC(),
	}
	if sub.BusinessID != "" {
		row["business_id"] = sub.BusinessID
	}

	return c.insertRow(ctx, "subscriptions?on_conflict=stripe_subscription_id", row,
		"resolution=merge-duplicates,return=minimal", nil)
}

func (c *Client) UpdateSubscriptionStatus(ctx context.Context, stripeSubscriptionID, status string) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateSubscriptionStatus")
	defer span.End()

	return c.patch(ctx, fmt.Sprintf("subscriptions?%s", eq("stripe_subscription_id", stripeSubscriptionID)),
		map[string]any{"status": status, "updated_at": time.Now().UTC()}, nil)
}

func (c *Client) GetStripeCustomer(ctx context.Context, userID string) (*domain.StripeCustomer, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetStripeCustomer")
	defer span.End()

	return c.getStripeCustomer(ctx, eq("user_id", userID))
}

func (c *Client) GetStripeCustomerByStripeID(ctx context.Context, stripeCustomerID string) (*domain.StripeCustomer, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetStripeCustomerByStripeID")
	defer span.End()

	return c.getStripeCustomer(ctx, eq("stripe_customer_id", stripeCustomerID))
}

func (c *Client) getStripeCustomer(ctx context.Context, filter string) (*domain.StripeCustomer, error) {
	var rows []domain.StripeCustomer
	if err := c.selectRows(ctx, "stripe_customers?"+filter+"&limit=1", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (c *Client) SaveStripeCustomer(ctx context.Context, sc *domain.StripeCustomer) error {
	ctx, span := tracer.Start(ctx, "Supabase.SaveStripeCustomer")
	defer span.End()

	row := map[string]any{
		"user_id":            sc.UserID,
		"stripe_customer_id": sc.StripeCustomerID,
		"email":              sc.Email,
	}
	return c.insertRow(ctx, "stripe_customers?on_conflict=user_id", row,
		"resolution=merge-duplicates,return=minimal", nil)
}

// MarkWebhookProcessed inserts the event id; a unique violation means the
// event was seen before.
func (c *Client) MarkWebhookProcessed(ctx context.Context, source, eventID, eventType string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.MarkWebhookProcessed")
	defer span.End()

	row := map[string]any{
		"source":     source,
		"event_id":   eventID,
		"event_type": eventType,
	}
	err := c.insertRow(ctx, "webhook_events", row, "return=minimal", nil)
	if err != nil {
		if isConflict(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Client) ReleaseWebhook(ctx context.Context, source, eventID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.ReleaseWebhook")
	defer span.End()

	_, err := c.remove(ctx, fmt.Sprintf("webhook_events?%s&%s", eq("source", source), eq("event_id", eventID)))
	return err
}
