package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/observability"
	"github.com/jetsuite/jetsuite-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var bookingTracer = otel.Tracer("service/bookings")

const webhookSourceCalcom = "calcom"

// Cal.com trigger events.
const (
	BookingCreated     = "BOOKING_CREATED"
	BookingRescheduled = "BOOKING_RESCHEDULED"
	BookingCancelled   = "BOOKING_CANCELLED"
)

var bookingStatuses = map[string]string{
	BookingCreated:     "booked",
	BookingRescheduled: "rescheduled",
	BookingCancelled:   "cancelled",
}

// calcomEvent is the subset of the Cal.com webhook body we use.
type calcomEvent struct {
	TriggerEvent string `json:"triggerEvent"`
	Payload      struct {
		UID           string    `json:"uid"`
		Title         string    `json:"title"`
		StartTime     time.Time `json:"startTime"`
		EndTime       time.Time `json:"endTime"`
		RescheduleUID string    `json:"rescheduleUid,omitempty"`
		Attendees     []struct {
			Name     string `json:"name"`
			Email    string `json:"email"`
			TimeZone string `json:"timeZone"`
		} `json:"attendees"`
	} `json:"payload"`
}

// BookingService syncs Cal.com bookings into appointments.
type BookingService struct {
	businesses *BusinessService
	store      port.EngagementStore
	messenger  *Messenger
	secret     string
	now        func() time.Time
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewBookingService creates a new booking service. An empty secret rejects
// every webhook.
func NewBookingService(businesses *BusinessService, store port.EngagementStore, messenger *Messenger, secret string, metrics *observability.Metrics, logger *zap.Logger) *BookingService {
	return &BookingService{
		businesses: businesses,
		store:      store,
		messenger:  messenger,
		secret:     secret,
		now:        time.Now,
		metrics:    metrics,
		logger:     logger,
	}
}

// VerifySignature checks the hex HMAC-SHA256 of body.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// HandleWebhook applies a Cal.com booking event to the business's appointments.
func (s *BookingService) HandleWebhook(ctx context.Context, businessID string, body []byte, signature string) error {
	ctx, span := bookingTracer.Start(ctx, "BookingService.HandleWebhook")
	defer span.End()
	span.SetAttributes(attribute.String("business.id", businessID))

	if s.secret == "" {
		return &domain.ErrNotConfigured{Feature: "cal.com webhooks"}
	}
	if !VerifySignature(s.secret, body, signature) {
		s.metrics.IncrWebhook(webhookSourceCalcom, "invalid_signature")
		return &domain.ErrInvalidSignature{Source: webhookSourceCalcom}
	}

	var evt calcomEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return &domain.ErrValidation{Field: "body", Message: "invalid JSON"}
	}
	status, ok := bookingStatuses[evt.TriggerEvent]
	if !ok {
		s.metrics.IncrWebhook(webhookSourceCalcom, "ignored")
		s.logger.Debug("cal.com event ignored", zap.String("trigger", evt.TriggerEvent))
		return nil
	}
	if evt.Payload.UID == "" {
		return &domain.ErrValidation{Field: "payload.uid", Message: "required"}
	}

	biz, err := s.businesses.GetPublic(ctx, businessID)
	if err != nil {
		return err
	}

	appt := &domain.Appointment{
		BusinessID: biz.ID,
		BookingUID: evt.Payload.UID,
		Title:      evt.Payload.Title,
		StartTime:  evt.Payload.StartTime,
		EndTime:    evt.Payload.EndTime,
		Status:     status,
	}
	if len(evt.Payload.Attendees) > 0 {
		appt.AttendeeName = evt.Payload.Attendees[0].Name
		appt.AttendeeEmail = strings.ToLower(evt.Payload.Attendees[0].Email)
	}
	if err := s.store.UpsertAppointment(ctx, appt); err != nil {
		return err
	}

	// A reschedule creates a new booking uid; retire the old one.
	if evt.TriggerEvent == BookingRescheduled && evt.Payload.RescheduleUID != "" && evt.Payload.RescheduleUID != appt.BookingUID {
		old := *appt
		old.BookingUID = evt.Payload.RescheduleUID
		old.Status = "cancelled"
		if err := s.store.UpsertAppointment(ctx, &old); err != nil {
			s.logger.Warn("failed to retire rescheduled booking", zap.String("booking_uid", old.BookingUID), zap.Error(err))
		}
	}

	s.metrics.IncrWebhook(webhookSourceCalcom, evt.TriggerEvent)
	s.logger.Info("booking synced",
		zap.String("business_id", biz.ID),
		zap.String("booking_uid", appt.BookingUID),
		zap.String("status", status),
	)

	if evt.TriggerEvent == BookingCreated && appt.AttendeeEmail != "" && s.messenger.EmailEnabled() {
		s.sendConfirmation(ctx, biz, appt, evt)
	}
	return nil
}

func (s *BookingService) sendConfirmation(ctx context.Context, biz *domain.Business, appt *domain.Appointment, evt calcomEvent) {
	loc := time.UTC
	tz := biz.Timezone
	if a := evt.Payload.Attendees; len(a) > 0 && a[0].TimeZone != "" {
		tz = a[0].TimeZone
	}
	if l, err := time.LoadLocation(tz); err == nil && tz != "" {
		loc = l
	}
	data := map[string]string{
		"Attendee": appt.AttendeeName,
		"Title":    appt.Title,
		"Business": biz.Name,
		"Start":    appt.StartTime.In(loc).Format("Monday, January 2 at 3:04 PM MST"),
	}
	if _, err := s.messenger.SendTemplate(ctx, appt.AttendeeEmail, "Your appointment with "+biz.Name+" is confirmed", TemplateBookingConfirmation, data); err != nil {
		s.logger.Warn("booking confirmation email failed",
			zap.String("booking_uid", appt.BookingUID),
			zap.Error(err),
		)
	}
}

// ListAppointments returns the business's upcoming appointments.
func (s *BookingService) ListAppointments(ctx context.Context, userID, businessID string) ([]domain.Appointment, error) {
	ctx, span := bookingTracer.Start(ctx, "BookingService.ListAppointments")
	defer span.End()

	if _, err := s.businesses.Authorize(ctx, userID, businessID); err != nil {
		return nil, err
	}
	appts, err := s.store.ListAppointments(ctx, businessID, s.now().Add(-time.Hour))
	if err != nil {
		return nil, err
	}
	if appts == nil {
		appts = []domain.Appointment{}
	}
	return appts, nil
}
