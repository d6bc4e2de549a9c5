package client

import (
	"context"
	"fmt"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/resilience"
	"github.com/jetsuite/jetsuite-api/internal/port"

	"github.com/resend/resend-go/v2"
	"github.com/sony/gobreaker"
)

// ResendSender delivers e-mail through Resend.
type ResendSender struct {
	client *resend.Client
	from   string
	cb     *gobreaker.CircuitBreaker
	cfg    resilience.Config
}

// NewResendSender creates a sender. fromName may be empty.
func NewResendSender(client *resend.Client, fromAddress, fromName string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *ResendSender {
	from := fromAddress
	if fromName != "" {
		from = fmt.Sprintf("%s <%s>", fromName, fromAddress)
	}
	return &ResendSender{client: client, from: from, cb: cb, cfg: cfg}
}

// SendEmail sends msg and returns the Resend message id.
func (s *ResendSender) SendEmail(ctx context.Context, msg *port.Email) (string, error) {
	ctx, span := tracer.Start(ctx, "ResendSender.SendEmail")
	defer span.End()

	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
		ReplyTo: msg.ReplyTo,
	}
	for name, value := range msg.Tags {
		params.Tags = append(params.Tags, resend.Tag{Name: name, Value: value})
	}

	var id string
	err := resilience.Execute(ctx, s.cb, s.cfg, func() error {
		sent, err := s.client.Emails.SendWithContext(ctx, params)
		if err != nil {
			return err
		}
		id = sent.Id
		return nil
	})
	if err != nil {
		if resilience.IsCircuitOpen(err) {
			return "", &domain.ErrCircuitOpen{Service: "resend"}
		}
		return "", &domain.ErrExternalService{Service: "resend", Err: err}
	}
	return id, nil
}
