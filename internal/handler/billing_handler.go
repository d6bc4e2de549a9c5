package handler

import (
	"net/http"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Billing: plans, quotes, Stripe checkout & webhooks
// ============================================================

func listPlansHandler(svc *service.BillingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": svc.Catalog().Plans()})
	}
}

func quoteHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/billing/quote")
		defer span.End()

		var req domain.QuoteRequest
		if !decodeBody(w, r, &req) {
			return
		}
		span.SetAttributes(attribute.String("plan.id", req.PlanID))

		quote, err := svc.Catalog().Quote(&req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, quote)
	}
}

func checkoutHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/billing/checkout")
		defer span.End()

		var req domain.QuoteRequest
		if !decodeBody(w, r, &req) {
			return
		}

		resp, err := svc.CreateCheckout(ctx, UserFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func portalHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/billing/portal")
		defer span.End()

		resp, err := svc.CreatePortal(ctx, userID(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func subscriptionHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/billing/subscription")
		defer span.End()

		sub, err := svc.GetSubscription(ctx, userID(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

// stripeWebhookHandler acknowledges with 200 only once the event is applied,
// so any failure makes Stripe retry.
func stripeWebhookHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/webhooks/stripe")
		defer span.End()

		payload, ok := readRawBody(w, r)
		if !ok {
			return
		}

		if err := svc.HandleWebhook(ctx, payload, r.Header.Get("Stripe-Signature")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

func revenueHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/revenue")
		defer span.End()

		summary, err := svc.Revenue(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}
