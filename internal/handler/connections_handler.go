package handler

import (
	"net/http"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Social connections & OAuth
// ============================================================

const defaultRefreshWindow = 24 * time.Hour

func listConnectionsHandler(svc *service.ConnectionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/businesses/{businessId}/connections")
		defer span.End()

		businessID := chi.URLParam(r, "businessId")
		span.SetAttributes(attribute.String("business.id", businessID))

		statuses, err := svc.ListConnections(ctx, userID(r), businessID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": statuses})
	}
}

func startConnectHandler(svc *service.ConnectionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/businesses/{businessId}/connections/{platform}/connect")
		defer span.End()

		businessID := chi.URLParam(r, "businessId")
		platform := chi.URLParam(r, "platform")
		span.SetAttributes(
			attribute.String("business.id", businessID),
			attribute.String("platform", platform),
		)

		var req domain.ConnectRequest
		if !decodeOptionalBody(w, r, &req) {
			return
		}

		resp, err := svc.StartConnect(ctx, userID(r), businessID, platform, req.ReturnTo)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// oauthCallbackHandler is hit by the browser coming back from the provider.
// It always redirects to the front end.
func oauthCallbackHandler(svc *service.ConnectionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/oauth/{platform}/callback")
		defer span.End()

		platform := chi.URLParam(r, "platform")
		span.SetAttributes(attribute.String("platform", platform))

		q := r.URL.Query()
		target := svc.HandleCallback(ctx, platform, q.Get("state"), q.Get("code"), q.Get("error"))
		http.Redirect(w, r, target, http.StatusFound)
	}
}

func setTargetHandler(svc *service.ConnectionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/businesses/{businessId}/connections/{platform}/target")
		defer span.End()

		businessID := chi.URLParam(r, "businessId")
		platform := chi.URLParam(r, "platform")

		var req domain.SetTargetRequest
		if !decodeBody(w, r, &req) {
			return
		}

		if err := svc.SetTarget(ctx, userID(r), businessID, platform, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "target updated"})
	}
}

func disconnectHandler(svc *service.ConnectionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/businesses/{businessId}/connections/{platform}")
		defer span.End()

		businessID := chi.URLParam(r, "businessId")
		platform := chi.URLParam(r, "platform")

		if err := svc.Disconnect(ctx, userID(r), businessID, platform); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func refreshTokensHandler(svc *service.ConnectionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/internal/cron/refresh-tokens")
		defer span.End()

		window := defaultRefreshWindow
		if v := r.URL.Query().Get("window"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				writeError(w, http.StatusBadRequest, "window must be a positive duration such as 24h")
				return
			}
			window = d
		}

		result, err := svc.RefreshExpiring(ctx, window)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
