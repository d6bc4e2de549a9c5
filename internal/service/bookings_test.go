package service_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/observability"
	"github.com/jetsuite/jetsuite-api/internal/service"

	"go.uber.org/zap"
)

const calSecret = "cal-webhook-secret"

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(calSecret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func newBookingService(store *mockEngagementStore, email *mockEmail) *service.BookingService {
	return service.NewBookingService(
		newBusinessService(newBusinessStore(testBusiness())),
		store, newMessenger(email, nil), calSecret,
		observability.NewMetrics(), zap.NewNop(),
	)
}

const bookingCreated = `{
  "triggerEvent": "BOOKING_CREATED",
  "payload": {
    "uid": "bk_1",
    "title": "Cake tasting",
    "startTime": "2026-11-02T15:00:00Z",
    "endTime": "2026-11-02T15:30:00Z",
    "attendees": [{"name": "Robin", "email": "Robin@Example.com", "timeZone": "America/Chicago"}]
  }
}`

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	good := sign(string(body))
	if !service.VerifySignature(calSecret, body, good) {
		t.Error("valid signature rejected")
	}
	if !service.VerifySignature(calSecret, body, "sha256="+good) {
		t.Error("prefixed signature rejected")
	}
	for _, sig := range []string{"", "zz", strings.Repeat("0", 64), sign(`{"a":2}`)} {
		if service.VerifySignature(calSecret, body, sig) {
			t.Errorf("signature %q should be rejected", sig)
		}
	}
	if service.VerifySignature("", body, good) {
		t.Error("empty secret must reject")
	}
}

func TestBookingWebhook_Created(t *testing.T) {
	store := newEngagementStore()
	email := &mockEmail{}
	svc := newBookingService(store, email)

	if err := svc.HandleWebhook(context.Background(), businessID, []byte(bookingCreated), sign(bookingCreated)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	appt, ok := store.appointments["bk_1"]
	if !ok {
		t.Fatal("appointment not stored")
	}
	if appt.Status != "booked" || appt.AttendeeEmail != "robin@example.com" || appt.BusinessID != businessID {
		t.Errorf("unexpected appointment %+v", appt)
	}
	if !appt.StartTime.Equal(time.Date(2026, 11, 2, 15, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected start %v", appt.StartTime)
	}
	if email.count() != 1 {
		t.Fatalf("expected confirmation email, got %d", email.count())
	}
	// 15:00 UTC is 9:00 in Chicago on that date.
	if !strings.Contains(email.sent[0].HTML, "9:00 AM") {
		t.Errorf("confirmation should use the attendee time zone: %s", email.sent[0].HTML)
	}
}

func TestBookingWebhook_RescheduleAndCancel(t *testing.T) {
	store := newEngagementStore()
	email := &mockEmail{}
	svc := newBookingService(store, email)
	ctx := context.Background()

	rescheduled := `{"triggerEvent":"BOOKING_RESCHEDULED","payload":{"uid":"bk_2","rescheduleUid":"bk_1","title":"Cake tasting","startTime":"2026-11-03T15:00:00Z","endTime":"2026-11-03T15:30:00Z","attendees":[]}}`
	if err := svc.HandleWebhook(ctx, businessID, []byte(rescheduled), sign(rescheduled)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.appointments["bk_2"].Status != "rescheduled" || store.appointments["bk_1"].Status != "cancelled" {
		t.Errorf("unexpected appointments %+v", store.appointments)
	}

	cancelled := `{"triggerEvent":"BOOKING_CANCELLED","payload":{"uid":"bk_2","title":"Cake tasting","startTime":"2026-11-03T15:00:00Z","endTime":"2026-11-03T15:30:00Z"}}`
	if err := svc.HandleWebhook(ctx, businessID, []byte(cancelled), sign(cancelled)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.appointments["bk_2"].Status != "cancelled" {
		t.Errorf("expected cancelled, got %+v", store.appointments["bk_2"])
	}
	if email.count() != 0 {
		t.Error("only new bookings are confirmed by email")
	}
}

func TestBookingWebhook_Rejections(t *testing.T) {
	store := newEngagementStore()
	svc := newBookingService(store, &mockEmail{})
	ctx := context.Background()

	err := svc.HandleWebhook(ctx, businessID, []byte(bookingCreated), "deadbeef")
	var se *domain.ErrInvalidSignature
	if !errors.As(err, &se) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}

	err = svc.HandleWebhook(ctx, "missing", []byte(bookingCreated), sign(bookingCreated))
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	ping := `{"triggerEvent":"PING","payload":{}}`
	if err := svc.HandleWebhook(ctx, businessID, []byte(ping), sign(ping)); err != nil {
		t.Errorf("unknown triggers should be acknowledged, got %v", err)
	}
	if len(store.appointments) != 0 {
		t.Error("rejected events must not be stored")
	}

	unconfigured := service.NewBookingService(nil, store, newMessenger(nil, nil), "", observability.NewMetrics(), zap.NewNop())
	err = unconfigured.HandleWebhook(ctx, businessID, []byte(bookingCreated), sign(bookingCreated))
	var nc *domain.ErrNotConfigured
	if !errors.As(err, &nc) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestListAppointments(t *testing.T) {
	store := newEngagementStore()
	svc := newBookingService(store, &mockEmail{})

	appts, err := svc.ListAppointments(context.Background(), ownerID, businessID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appts == nil {
		t.Error("expected empty slice")
	}
	if store.listFrom.After(time.Now()) {
		t.Errorf("listing should start in the past, got %v", store.listFrom)
	}
}
