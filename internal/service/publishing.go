package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/observability"
	"github.com/jetsuite/jetsuite-api/internal/infra/resilience"
	"github.com/jetsuite/jetsuite-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var publishTracer = otel.Tracer("service/publishing")

const (
	StatusPublished = "published"
	StatusFailed    = "failed"
)

// PublishingService fans a post out to the business's connected platforms.
type PublishingService struct {
	businesses  *BusinessService
	connections *ConnectionService
	publisher   port.Publisher
	store       port.EngagementStore
	bulkhead    *resilience.Bulkhead
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// NewPublishingService creates a new publishing service.
func NewPublishingService(
	businesses *BusinessService,
	connections *ConnectionService,
	publisher port.Publisher,
	store port.EngagementStore,
	bulkhead *resilience.Bulkhead,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *PublishingService {
	return &PublishingService{
		businesses:  businesses,
		connections: connections,
		publisher:   publisher,
		store:       store,
		bulkhead:    bulkhead,
		metrics:     metrics,
		logger:      logger,
	}
}

// Publish posts req to every requested platform concurrently. A failure on
// one platform is reported in its result and does not affect the others.
func (s *PublishingService) Publish(ctx context.Context, userID, businessID string, req *domain.PublishRequest) (*domain.Post, error) {
	ctx, span := publishTracer.Start(ctx, "PublishingService.Publish")
	defer span.End()

	platforms, err := validatePublish(req)
	if err != nil {
		return nil, err
	}
	if _, err := s.businesses.Authorize(ctx, userID, businessID); err != nil {
		return nil, err
	}

	results := make([]domain.PublishResult, len(platforms))
	var g errgroup.Group
	for i, p := range platforms {
		g.Go(func() error {
			results[i] = s.publishOne(ctx, businessID, p, req)
			return nil
		})
	}
	_ = g.Wait()

	published := 0
	for _, r := range results {
		if r.Status == StatusPublished {
			published++
		}
	}
	span.SetAttributes(
		attribute.Int("platforms.requested", len(platforms)),
		attribute.Int("platforms.published", published),
	)

	post, err := s.store.CreatePost(ctx, &domain.Post{
		BusinessID: businessID,
		Text:       req.Text,
		ImageURL:   req.ImageURL,
		Results:    results,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("post published",
		zap.String("business_id", businessID),
		zap.String("post_id", post.ID),
		zap.Int("published", published),
		zap.Int("failed", len(platforms)-published),
	)
	return post, nil
}

func (s *PublishingService) publishOne(ctx context.Context, businessID string, p domain.Platform, req *domain.PublishRequest) domain.PublishResult {
	res := domain.PublishResult{Platform: p, Status: StatusFailed}

	if err := s.bulkhead.Acquire(ctx); err != nil {
		res.Error = err.Error()
		return res
	}
	defer s.bulkhead.Release()

	if err := checkPlatformRules(p, req); err != nil {
		res.Error = err.Error()
		return res
	}

	token, conn, err := s.connections.AccessToken(ctx, businessID, p)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if key := domain.TargetKey(p); key != "" && p != domain.PlatformLinkedIn && conn.Metadata[key] == "" {
		res.Error = (&domain.ErrValidation{Field: key, Message: "no publishing target selected"}).Error()
		return res
	}

	id, err := s.publisher.Publish(ctx, p, token, conn, req)
	if err != nil {
		s.metrics.IncrExternalError(string(p))
		s.logger.Warn("publish failed",
			zap.String("platform", string(p)),
			zap.String("business_id", businessID),
			zap.Error(err),
		)
		res.Error = err.Error()
		return res
	}
	res.Status = StatusPublished
	res.ExternalID = id
	return res
}

func validatePublish(req *domain.PublishRequest) ([]domain.Platform, error) {
	req.Text = strings.TrimSpace(req.Text)
	req.ImageURL = strings.TrimSpace(req.ImageURL)
	if req.Text == "" {
		return nil, &domain.ErrValidation{Field: "text", Message: "required"}
	}
	if len(req.Platforms) == 0 {
		return nil, &domain.ErrValidation{Field: "platforms", Message: "at least one platform is required"}
	}
	if req.ImageURL != "" {
		u, err := url.Parse(req.ImageURL)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return nil, &domain.ErrValidation{Field: "image_url", Message: "must be an https URL"}
		}
	}

	seen := make(map[domain.Platform]bool, len(req.Platforms))
	var out []domain.Platform
	for _, raw := range req.Platforms {
		p, err := domain.ParsePlatform(string(raw))
		if err != nil {
			return nil, err
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

func checkPlatformRules(p domain.Platform, req *domain.PublishRequest) error {
	switch p {
	case domain.PlatformTikTok:
		return &domain.ErrValidation{Field: "platforms", Message: "publishing to tiktok is not supported"}
	case domain.PlatformInstagram:
		if req.ImageURL == "" {
			return &domain.ErrValidation{Field: "image_url", Message: "instagram posts require an image"}
		}
	}
	if limit := PostLimits[p]; utf8.RuneCountInString(req.Text) > limit {
		return &domain.ErrValidation{Field: "text", Message: fmt.Sprintf("exceeds the %d character limit of %s", limit, p)}
	}
	return nil
}
