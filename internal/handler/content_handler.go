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
// AI content, publishing & reviews
// ============================================================

func generatePostHandler(svc *service.ContentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/businesses/{businessId}/content/post")
		defer span.End()

		businessID := chi.URLParam(r, "businessId")

		var req domain.PostDraftRequest
		if !decodeBody(w, r, &req) {
			return
		}
		span.SetAttributes(attribute.String("platform", string(req.Platform)))

		out, err := svc.GeneratePost(ctx, userID(r), businessID, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func generateReviewReplyHandler(svc *service.ContentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/businesses/{businessId}/content/review-reply")
		defer span.End()

		businessID := chi.URLParam(r, "businessId")

		var req domain.ReviewReplyRequest
		if !decodeBody(w, r, &req) {
			return
		}

		out, err := svc.GenerateReviewReply(ctx, userID(r), businessID, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func chatHandler(svc *service.ContentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/public/businesses/{businessId}/chat")
		defer span.End()

		businessID := chi.URLParam(r, "businessId")
		span.SetAttributes(attribute.String("business.id", businessID))

		var req domain.ChatRequest
		if !decodeBody(w, r, &req) {
			return
		}

		resp, err := svc.Chat(ctx, businessID, clientIP(r), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func publishHandler(svc *service.PublishingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/businesses/{businessId}/posts")
		defer span.End()

		businessID := chi.URLParam(r, "businessId")

		var req domain.PublishRequest
		if !decodeBody(w, r, &req) {
			return
		}

		post, err := svc.Publish(ctx, userID(r), businessID, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		// 207 when only some platforms accepted the post.
		status := http.StatusCreated
		for _, res := range post.Results {
			if res.Status != service.StatusPublished {
				status = http.StatusMultiStatus
				break
			}
		}
		writeJSON(w, status, post)
	}
}

func listReviewsHandler(svc *service.ReviewService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/businesses/{businessId}/reviews")
		defer span.End()

		businessID := chi.URLParam(r, "businessId")

		reviews, err := svc.ListReviews(ctx, userID(r), businessID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if reviews == nil {
			reviews = []domain.Review{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": reviews})
	}
}

func replyReviewHandler(svc *service.ReviewService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/businesses/{businessId}/reviews/{reviewId}/reply")
		defer span.End()

		businessID := chi.URLParam(r, "businessId")
		reviewID := chi.URLParam(r, "reviewId")

		var body struct {
			Comment string `json:"comment"`
		}
		if !decodeBody(w, r, &body) {
			return
		}

		if err := svc.ReplyToReview(ctx, userID(r), businessID, reviewID, body.Comment); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "reply posted", ID: reviewID})
	}
}
