package handler

import (
	"net/http"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Leads, review requests & appointments
// ============================================================

func submitLeadHandler(svc *service.LeadService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/public/businesses/{businessId}/leads")
		defer span.End()

		businessID := chi.URLParam(r, "businessId")
		span.SetAttributes(attribute.String("business.id", businessID))

		var req domain.LeadRequest
		if !decodeBody(w, r, &req) {
			return
		}

		lead, err := svc.Submit(ctx, businessID, clientIP(r), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, domain.SuccessResponse{Message: "thanks, we will be in touch", ID: lead.ID})
	}
}

func listLeadsHandler(svc *service.LeadService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/businesses/{businessId}/leads")
		defer span.End()

		businessID := chi.URLParam(r, "businessId")
		p := parsePagination(r)

		leads, err := svc.List(ctx, userID(r), businessID, p)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if leads == nil {
			leads = []domain.Lead{}
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Lead]{
			Data:     leads,
			Page:     p.Page,
			PageSize: p.PageSize,
			HasMore:  len(leads) == p.PageSize,
		})
	}
}

func reviewRequestHandler(svc *service.ReviewService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/businesses/{businessId}/review-requests")
		defer span.End()

		businessID := chi.URLParam(r, "businessId")

		var in domain.ReviewRequestInput
		if !decodeBody(w, r, &in) {
			return
		}

		rr, err := svc.SendReviewRequest(ctx, userID(r), businessID, &in)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, rr)
	}
}

func listAppointmentsHandler(svc *service.BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/businesses/{businessId}/appointments")
		defer span.End()

		businessID := chi.URLParam(r, "businessId")

		appts, err := svc.ListAppointments(ctx, userID(r), businessID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if appts == nil {
			appts = []domain.Appointment{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": appts})
	}
}

func calcomWebhookHandler(svc *service.BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/webhooks/calcom/{businessId}")
		defer span.End()

		businessID := chi.URLParam(r, "businessId")
		span.SetAttributes(attribute.String("business.id", businessID))

		body, ok := readRawBody(w, r)
		if !ok {
			return
		}

		if err := svc.HandleWebhook(ctx, businessID, body, r.Header.Get("X-Cal-Signature-256")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}
