package service

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/observability"
	"github.com/jetsuite/jetsuite-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var msgTracer = otel.Tracer("service/messaging")

//go:embed templates/*.html
var templateFS embed.FS

// E-mail template names.
const (
	TemplateWelcome             = "welcome.html"
	TemplateLeadNotification    = "lead_notification.html"
	TemplatePaymentFailed       = "payment_failed.html"
	TemplateReviewRequest       = "review_request.html"
	TemplateBookingConfirmation = "booking_confirmation.html"
)

const maxSMSLength = 1600

var e164Regex = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// ValidateE164 checks that phone is "+" followed by 8 to 15 digits.
func ValidateE164(phone string) error {
	if !e164Regex.MatchString(phone) {
		return &domain.ErrValidation{Field: "phone", Message: "must be in E.164 format, e.g. +15551234567"}
	}
	return nil
}

// NormalizePhone strips spaces, dashes, dots and parentheses and validates
// the result as E.164.
func NormalizePhone(phone string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, phone)
	if err := ValidateE164(cleaned); err != nil {
		return "", err
	}
	return cleaned, nil
}

// Messenger renders and sends transactional e-mail and SMS.
type Messenger struct {
	email     port.EmailSender // nil when Resend is not configured
	sms       port.SMSSender   // nil when Twilio is not configured
	templates *template.Template
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewMessenger creates a messenger. Either sender may be nil.
func NewMessenger(email port.EmailSender, sms port.SMSSender, metrics *observability.Metrics, logger *zap.Logger) *Messenger {
	return &Messenger{
		email:     email,
		sms:       sms,
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html")),
		metrics:   metrics,
		logger:    logger,
	}
}

// EmailEnabled reports whether e-mail can be sent.
func (m *Messenger) EmailEnabled() bool { return m.email != nil }

// SMSEnabled reports whether SMS can be sent.
func (m *Messenger) SMSEnabled() bool { return m.sms != nil }

// SendTemplate renders the named template with data and e-mails it to to.
func (m *Messenger) SendTemplate(ctx context.Context, to, subject, name string, data any) (string, error) {
	ctx, span := msgTracer.Start(ctx, "Messenger.SendTemplate")
	defer span.End()

	if m.email == nil {
		return "", &domain.ErrNotConfigured{Feature: "email"}
	}

	var body bytes.Buffer
	if err := m.templates.ExecuteTemplate(&body, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}

	id, err := m.email.SendEmail(ctx, &port.Email{
		To:      []string{to},
		Subject: subject,
		HTML:    body.String(),
		Tags:    map[string]string{"template": strings.TrimSuffix(name, ".html")},
	})
	if err != nil {
		m.metrics.IncrMessage("email", "failed")
		m.metrics.IncrExternalError("resend")
		return "", err
	}
	m.metrics.IncrMessage("email", "sent")
	m.logger.Info("email sent", zap.String("template", name), zap.String("message_id", id))
	return id, nil
}

// SendSMS validates to and body and sends the message.
func (m *Messenger) SendSMS(ctx context.Context, to, body string) (string, error) {
	ctx, span := msgTracer.Start(ctx, "Messenger.SendSMS")
	defer span.End()

	if m.sms == nil {
		return "", &domain.ErrNotConfigured{Feature: "sms"}
	}
	if err := ValidateE164(to); err != nil {
		return "", err
	}
	if body == "" {
		return "", &domain.ErrValidation{Field: "body", Message: "required"}
	}
	if utf8.RuneCountInString(body) > maxSMSLength {
		return "", &domain.ErrValidation{Field: "body", Message: fmt.Sprintf("must be at most %d characters", maxSMSLength)}
	}

	sid, err := m.sms.SendSMS(ctx, to, body)
	if err != nil {
		m.metrics.IncrMessage("sms", "failed")
		m.metrics.IncrExternalError("twilio")
		return "", err
	}
	m.metrics.IncrMessage("sms", "sent")
	m.logger.Info("sms sent", zap.String("sid", sid))
	return sid, nil
}
