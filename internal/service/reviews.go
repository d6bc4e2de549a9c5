package service

import (
	"context"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/observability"
	"github.com/jetsuite/jetsuite-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var reviewTracer = otel.Tracer("service/reviews")

const maxReplyLength = 4096

// ReviewService asks customers for reviews and manages Google reviews.
type ReviewService struct {
	businesses  *BusinessService
	connections *ConnectionService
	store       port.EngagementStore
	reviews     port.ReviewsClient
	messenger   *Messenger
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// NewReviewService creates a new review service.
func NewReviewService(
	businesses *BusinessService,
	connections *ConnectionService,
	store port.EngagementStore,
	reviews port.ReviewsClient,
	messenger *Messenger,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *ReviewService {
	return &ReviewService{
		businesses:  businesses,
		connections: connections,
		store:       store,
		reviews:     reviews,
		messenger:   messenger,
		metrics:     metrics,
		logger:      logger,
	}
}

// SendReviewRequest texts the customer when a phone is given, otherwise
// e-mails them, and records the request.
func (s *ReviewService) SendReviewRequest(ctx context.Context, userID, businessID string, in *domain.ReviewRequestInput) (*domain.ReviewRequest, error) {
	ctx, span := reviewTracer.Start(ctx, "ReviewService.SendReviewRequest")
	defer span.End()
	span.SetAttributes(attribute.String("business.id", businessID))

	biz, err := s.businesses.Authorize(ctx, userID, businessID)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.CustomerName)
	if name == "" {
		return nil, &domain.ErrValidation{Field: "customer_name", Message: "required"}
	}

	rr := &domain.ReviewRequest{BusinessID: biz.ID, CustomerName: name, Status: "sent"}
	link := s.reviewLink(ctx, biz)

	switch {
	case strings.TrimSpace(in.Phone) != "":
		phone, err := NormalizePhone(in.Phone)
		if err != nil {
			return nil, err
		}
		body := fmt.Sprintf("Hi %s, thanks for choosing %s! Would you leave us a quick review? %s", name, biz.Name, link)
		sid, err := s.messenger.SendSMS(ctx, phone, body)
		if err != nil {
			return nil, err
		}
		rr.Channel, rr.Destination, rr.ExternalID = "sms", phone, sid

	case strings.TrimSpace(in.Email) != "":
		addr, err := mail.ParseAddress(strings.TrimSpace(in.Email))
		if err != nil {
			return nil, &domain.ErrValidation{Field: "email", Message: "invalid email address"}
		}
		data := map[string]string{
			"CustomerName": name,
			"Business":     biz.Name,
			"ReviewURL":    link,
		}
		id, err := s.messenger.SendTemplate(ctx, addr.Address, "How was your visit to "+biz.Name+"?", TemplateReviewRequest, data)
		if err != nil {
			return nil, err
		}
		rr.Channel, rr.Destination, rr.ExternalID = "email", strings.ToLower(addr.Address), id

	default:
		return nil, &domain.ErrValidation{Field: "phone", Message: "phone or email is required"}
	}

	created, err := s.store.CreateReviewRequest(ctx, rr)
	if err != nil {
		return nil, err
	}
	s.logger.Info("review request sent",
		zap.String("business_id", biz.ID),
		zap.String("channel", rr.Channel),
	)
	return created, nil
}

// reviewLink prefers the link saved on the Google connection and falls back
// to a Google search for the business.
func (s *ReviewService) reviewLink(ctx context.Context, biz *domain.Business) string {
	if link := s.connections.ReviewURL(ctx, biz.ID); link != "" {
		return link
	}
	q := strings.TrimSpace(biz.Name + " " + biz.City + " reviews")
	return "https://www.google.com/search?q=" + url.QueryEscape(q)
}

// ListReviews returns the Google reviews of the connected location.
func (s *ReviewService) ListReviews(ctx context.Context, userID, businessID string) ([]domain.Review, error) {
	ctx, span := reviewTracer.Start(ctx, "ReviewService.ListReviews")
	defer span.End()

	token, location, err := s.googleLocation(ctx, userID, businessID)
	if err != nil {
		return nil, err
	}
	reviews, err := s.reviews.ListReviews(ctx, token, location)
	if err != nil {
		s.metrics.IncrExternalError(string(domain.PlatformGoogleBusiness))
		return nil, err
	}
	if reviews == nil {
		reviews = []domain.Review{}
	}
	return reviews, nil
}

// ReplyToReview posts or replaces the owner reply on a review.
func (s *ReviewService) ReplyToReview(ctx context.Context, userID, businessID, reviewID, comment string) error {
	ctx, span := reviewTracer.Start(ctx, "ReviewService.ReplyToReview")
	defer span.End()

	comment = strings.TrimSpace(comment)
	if reviewID == "" {
		return &domain.ErrValidation{Field: "review_id", Message: "required"}
	}
	if comment == "" {
		return &domain.ErrValidation{Field: "comment", Message: "required"}
	}
	if utf8.RuneCountInString(comment) > maxReplyLength {
		return &domain.ErrValidation{Field: "comment", Message: fmt.Sprintf("must be at most %d characters", maxReplyLength)}
	}

	token, location, err := s.googleLocation(ctx, userID, businessID)
	if err != nil {
		return err
	}
	if err := s.reviews.ReplyToReview(ctx, token, location, reviewID, comment); err != nil {
		s.metrics.IncrExternalError(string(domain.PlatformGoogleBusiness))
		return err
	}
	s.logger.Info("review reply posted",
		zap.String("business_id", businessID),
		zap.String("review_id", reviewID),
	)
	return nil
}

func (s *ReviewService) googleLocation(ctx context.Context, userID, businessID string) (string, string, error) {
	if _, err := s.businesses.Authorize(ctx, userID, businessID); err != nil {
		return "", "", err
	}
	token, conn, err := s.connections.AccessToken(ctx, businessID, domain.PlatformGoogleBusiness)
	if err != nil {
		return "", "", err
	}
	location := conn.Metadata[domain.TargetGoogleLocation]
	if location == "" {
		return "", "", &domain.ErrValidation{Field: domain.TargetGoogleLocation, Message: "select a Google Business location first"}
	}
	return token, location, nil
}
