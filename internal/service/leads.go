package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/observability"
	"github.com/jetsuite/jetsuite-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var leadTracer = otel.Tracer("service/leads")

const (
	leadRateLimit     = 5
	leadRateWindow    = time.Minute
	maxLeadMessageLen = 2000
	maxLeadNameLen    = 120
	defaultPageSize   = 25
	maxPageSize       = 100
)

// LeadService captures contact-form submissions from business websites.
type LeadService struct {
	businesses *BusinessService
	store      port.EngagementStore
	limiter    port.RateLimiter
	messenger  *Messenger
	appURL     string
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewLeadService creates a new lead service.
func NewLeadService(
	businesses *BusinessService,
	store port.EngagementStore,
	limiter port.RateLimiter,
	messenger *Messenger,
	appURL string,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *LeadService {
	return &LeadService{
		businesses: businesses,
		store:      store,
		limiter:    limiter,
		messenger:  messenger,
		appURL:     strings.TrimRight(appURL, "/"),
		metrics:    metrics,
		logger:     logger,
	}
}

// Submit stores a public lead and notifies the business. Notification
// failures are logged and never fail the submission.
func (s *LeadService) Submit(ctx context.Context, businessID, clientIP string, req *domain.LeadRequest) (*domain.Lead, error) {
	ctx, span := leadTracer.Start(ctx, "LeadService.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("business.id", businessID))

	if err := allow(ctx, s.limiter, s.logger, "lead:"+businessID+":"+clientIP, leadRateLimit, leadRateWindow); err != nil {
		return nil, err
	}

	lead, err := validateLead(req)
	if err != nil {
		return nil, err
	}
	biz, err := s.businesses.GetPublic(ctx, businessID)
	if err != nil {
		return nil, err
	}
	lead.BusinessID = biz.ID

	created, err := s.store.CreateLead(ctx, lead)
	if err != nil {
		return nil, err
	}
	s.logger.Info("lead captured",
		zap.String("business_id", biz.ID),
		zap.String("lead_id", created.ID),
		zap.String("source", created.Source),
	)

	s.notify(ctx, biz, created)
	return created, nil
}

func (s *LeadService) notify(ctx context.Context, biz *domain.Business, lead *domain.Lead) {
	g, gctx := errgroup.WithContext(ctx)

	if biz.Email != "" && s.messenger.EmailEnabled() {
		g.Go(func() error {
			data := map[string]any{
				"Business": biz.Name,
				"Lead":     lead,
				"LeadsURL": s.appURL + "/dashboard/leads",
			}
			_, err := s.messenger.SendTemplate(gctx, biz.Email, "New lead: "+lead.Name, TemplateLeadNotification, data)
			if err != nil {
				s.logger.Warn("lead email notification failed", zap.String("lead_id", lead.ID), zap.Error(err))
			}
			return nil
		})
	}
	if biz.Phone != "" && s.messenger.SMSEnabled() {
		g.Go(func() error {
			body := fmt.Sprintf("New JetSuite lead for %s: %s", biz.Name, lead.Name)
			if lead.Phone != "" {
				body += " " + lead.Phone
			} else if lead.Email != "" {
				body += " " + lead.Email
			}
			if _, err := s.messenger.SendSMS(gctx, biz.Phone, body); err != nil {
				s.logger.Warn("lead sms notification failed", zap.String("lead_id", lead.ID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// List returns the business's leads, newest first.
func (s *LeadService) List(ctx context.Context, userID, businessID string, p domain.Pagination) ([]domain.Lead, error) {
	ctx, span := leadTracer.Start(ctx, "LeadService.List")
	defer span.End()

	if _, err := s.businesses.Authorize(ctx, userID, businessID); err != nil {
		return nil, err
	}
	leads, err := s.store.ListLeads(ctx, businessID, normalizePage(p))
	if err != nil {
		return nil, err
	}
	if leads == nil {
		leads = []domain.Lead{}
	}
	return leads, nil
}

func validateLead(req *domain.LeadRequest) (*domain.Lead, error) {
	lead := &domain.Lead{
		Name:    strings.TrimSpace(req.Name),
		Message: strings.TrimSpace(req.Message),
		Source:  strings.TrimSpace(req.Source),
	}
	if lead.Name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "required"}
	}
	if utf8.RuneCountInString(lead.Name) > maxLeadNameLen {
		return nil, &domain.ErrValidation{Field: "name", Message: fmt.Sprintf("must be at most %d characters", maxLeadNameLen)}
	}
	email := strings.TrimSpace(req.Email)
	phone := strings.TrimSpace(req.Phone)
	if email == "" && phone == "" {
		return nil, &domain.ErrValidation{Field: "email", Message: "email or phone is required"}
	}
	if email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil {
			return nil, &domain.ErrValidation{Field: "email", Message: "invalid email address"}
		}
		lead.Email = strings.ToLower(addr.Address)
	}
	if phone != "" {
		normalized, err := NormalizePhone(phone)
		if err != nil {
			return nil, err
		}
		lead.Phone = normalized
	}
	if utf8.RuneCountInString(lead.Message) > maxLeadMessageLen {
		return nil, &domain.ErrValidation{Field: "message", Message: fmt.Sprintf("must be at most %d characters", maxLeadMessageLen)}
	}
	if lead.Source == "" {
		lead.Source = "website"
	}
	return lead, nil
}

func normalizePage(p domain.Pagination) domain.Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
	return p
}

// allow applies a fixed-window limit. Limiter outages fail open.
func allow(ctx context.Context, limiter port.RateLimiter, logger *zap.Logger, key string, limit int, window time.Duration) error {
	ok, retryAfter, err := limiter.Allow(ctx, key, limit, window)
	if err != nil {
		logger.Warn("rate limiter unavailable, allowing request", zap.Error(err))
		return nil
	}
	if !ok {
		return &domain.ErrRateLimited{RetryAfter: retryAfter}
	}
	return nil
}
