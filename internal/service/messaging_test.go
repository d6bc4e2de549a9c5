package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/service"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+15125550100", "+15125550100", false},
		{"+1 (512) 555-0100", "+15125550100", false},
		{"+44 20.7946.0958", "+442079460958", false},
		{"5125550100", "", true},
		{"+0123456789", "", true},
		{"+1234567", "", true},
		{"+1234567890123456", "", true},
	}
	for _, tc := range tests {
		got, err := service.NormalizePhone(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("NormalizePhone(%q) error = %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSendTemplate_RendersAndEscapes(t *testing.T) {
	email := &mockEmail{}
	m := newMessenger(email, nil)

	data := map[string]any{
		"Business": "Sunrise <Bakery>",
		"Lead":     &domain.Lead{Name: "<script>alert(1)</script>", Email: "a@example.com"},
		"LeadsURL": "https://app.jetsuite.example/dashboard/leads",
	}
	id, err := m.SendTemplate(context.Background(), "owner@sunrise.example", "New lead", service.TemplateLeadNotification, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Error("expected message id")
	}
	html := email.sent[0].HTML
	if strings.Contains(html, "<script>") || !strings.Contains(html, "&lt;script&gt;") {
		t.Errorf("lead fields must be escaped: %s", html)
	}
	if email.sent[0].Tags["template"] != "lead_notification" {
		t.Errorf("unexpected tags %v", email.sent[0].Tags)
	}
}

func TestSendSMS_Validation(t *testing.T) {
	sms := &mockSMS{}
	m := newMessenger(nil, sms)
	ctx := context.Background()

	if _, err := m.SendSMS(ctx, "+15125550100", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, tc := range []struct{ to, body string }{
		{"5125550100", "hello"},
		{"+15125550100", ""},
		{"+15125550100", strings.Repeat("x", 1601)},
	} {
		_, err := m.SendSMS(ctx, tc.to, tc.body)
		var ve *domain.ErrValidation
		if !errors.As(err, &ve) {
			t.Errorf("%q/%d chars: expected validation error, got %v", tc.to, len(tc.body), err)
		}
	}
	if sms.count() != 1 {
		t.Errorf("expected exactly one message sent, got %d", sms.count())
	}

	_, err := m.SendTemplate(ctx, "a@example.com", "s", service.TemplateWelcome, nil)
	var nc *domain.ErrNotConfigured
	if !errors.As(err, &nc) {
		t.Errorf("expected ErrNotConfigured for email, got %v", err)
	}
}
