package service

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/observability"
	"github.com/jetsuite/jetsuite-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var bizTracer = otel.Tracer("service/businesses")

const maxBusinessNameLen = 120

// BusinessService manages tenants and answers ownership checks for every
// business-scoped route.
type BusinessService struct {
	store   port.BusinessStore
	owned   port.Cache[*domain.Business] // key: userID + ":" + businessID
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewBusinessService creates a new business service.
func NewBusinessService(store port.BusinessStore, owned port.Cache[*domain.Business], metrics *observability.Metrics, logger *zap.Logger) *BusinessService {
	return &BusinessService{store: store, owned: owned, metrics: metrics, logger: logger}
}

func ownershipKey(userID, businessID string) string {
	return userID + ":" + businessID
}

// Authorize returns the business when userID owns it.
func (s *BusinessService) Authorize(ctx context.Context, userID, businessID string) (*domain.Business, error) {
	ctx, span := bizTracer.Start(ctx, "BusinessService.Authorize")
	defer span.End()
	span.SetAttributes(attribute.String("business.id", businessID))

	if businessID == "" {
		return nil, &domain.ErrValidation{Field: "business_id", Message: "required"}
	}
	key := ownershipKey(userID, businessID)
	if b, ok := s.owned.Get(key); ok {
		s.metrics.IncrCacheHit("ownership")
		return b, nil
	}
	s.metrics.IncrCacheMiss("ownership")

	b, err := s.store.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &domain.ErrNotFound{Resource: "business", ID: businessID}
	}
	if b.OwnerID != userID {
		s.logger.Warn("business access denied",
			zap.String("user_id", userID),
			zap.String("business_id", businessID),
		)
		return nil, &domain.ErrForbidden{Action: "access business " + businessID}
	}

	s.owned.Set(key, b)
	return b, nil
}

// GetPublic loads a business for unauthenticated routes (lead form, chat
// widget, webhooks).
func (s *BusinessService) GetPublic(ctx context.Context, businessID string) (*domain.Business, error) {
	ctx, span := bizTracer.Start(ctx, "BusinessService.GetPublic")
	defer span.End()

	b, err := s.store.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &domain.ErrNotFound{Resource: "business", ID: businessID}
	}
	return b, nil
}

func (s *BusinessService) List(ctx context.Context, userID string) ([]domain.Business, error) {
	ctx, span := bizTracer.Start(ctx, "BusinessService.List")
	defer span.End()

	list, err := s.store.ListBusinesses(ctx, userID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []domain.Business{}
	}
	return list, nil
}

func (s *BusinessService) Create(ctx context.Context, userID string, in *domain.BusinessInput) (*domain.Business, error) {
	ctx, span := bizTracer.Start(ctx, "BusinessService.Create")
	defer span.End()

	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "required"}
	}
	updates, err := businessUpdates(in)
	if err != nil {
		return nil, err
	}

	b := &domain.Business{OwnerID: userID}
	applyBusinessUpdates(b, updates)
	created, err := s.store.CreateBusiness(ctx, b)
	if err != nil {
		return nil, err
	}

	s.logger.Info("business created",
		zap.String("user_id", userID),
		zap.String("business_id", created.ID),
	)
	return created, nil
}

func (s *BusinessService) Get(ctx context.Context, userID, businessID string) (*domain.Business, error) {
	return s.Authorize(ctx, userID, businessID)
}

// Update applies the non-nil fields of in.
func (s *BusinessService) Update(ctx context.Context, userID, businessID string, in *domain.BusinessInput) (*domain.Business, error) {
	ctx, span := bizTracer.Start(ctx, "BusinessService.Update")
	defer span.End()

	if _, err := s.Authorize(ctx, userID, businessID); err != nil {
		return nil, err
	}
	updates, err := businessUpdates(in)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return nil, &domain.ErrValidation{Field: "body", Message: "no fields to update"}
	}
	if name, ok := updates["name"]; ok && name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "cannot be empty"}
	}

	fields := make(map[string]any, len(updates))
	for k, v := range updates {
		fields[k] = v
	}
	updated, err := s.store.UpdateBusiness(ctx, businessID, fields)
	if err != nil {
		return nil, err
	}
	s.owned.Set(ownershipKey(userID, businessID), updated)
	return updated, nil
}

// businessUpdates validates in and returns column → value for the set fields.
func businessUpdates(in *domain.BusinessInput) (map[string]string, error) {
	out := map[string]string{}
	set := func(col string, v *string) {
		if v != nil {
			out[col] = strings.TrimSpace(*v)
		}
	}
	set("name", in.Name)
	set("industry", in.Industry)
	set("city", in.City)
	set("phone", in.Phone)
	set("email", in.Email)
	set("website", in.Website)
	set("description", in.Description)
	set("timezone", in.Timezone)

	if len(out["name"]) > maxBusinessNameLen {
		return nil, &domain.ErrValidation{Field: "name", Message: "too long"}
	}
	if e := out["email"]; e != "" {
		if _, err := mail.ParseAddress(e); err != nil {
			return nil, &domain.ErrValidation{Field: "email", Message: "invalid e-mail address"}
		}
	}
	if p := out["phone"]; p != "" {
		normalized, err := NormalizePhone(p)
		if err != nil {
			return nil, err
		}
		out["phone"] = normalized
	}
	if tz := out["timezone"]; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, &domain.ErrValidation{Field: "timezone", Message: "unknown time zone"}
		}
	}
	return out, nil
}

func applyBusinessUpdates(b *domain.Business, u map[string]string) {
	b.Name = u["name"]
	b.Industry = u["industry"]
	b.City = u["city"]
	b.Phone = u["phone"]
	b.Email = u["email"]
	b.Website = u["website"]
	b.Description = u["description"]
	b.Timezone = u["timezone"]
}
