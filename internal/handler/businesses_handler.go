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
// Businesses
// ============================================================

func listBusinessesHandler(svc *service.BusinessService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/businesses")
		defer span.End()

		businesses, err := svc.List(ctx, userID(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if businesses == nil {
			businesses = []domain.Business{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": businesses})
	}
}

func createBusinessHandler(svc *service.BusinessService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/businesses")
		defer span.End()

		var in domain.BusinessInput
		if !decodeBody(w, r, &in) {
			return
		}

		created, err := svc.Create(ctx, userID(r), &in)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func getBusinessHandler(svc *service.BusinessService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/businesses/{businessId}")
		defer span.End()

		businessID := chi.URLParam(r, "businessId")
		span.SetAttributes(attribute.String("business.id", businessID))

		biz, err := svc.Get(ctx, userID(r), businessID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, biz)
	}
}

func updateBusinessHandler(svc *service.BusinessService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/businesses/{businessId}")
		defer span.End()

		businessID := chi.URLParam(r, "businessId")
		span.SetAttributes(attribute.String("business.id", businessID))

		var in domain.BusinessInput
		if !decodeBody(w, r, &in) {
			return
		}

		updated, err := svc.Update(ctx, userID(r), businessID, &in)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}
