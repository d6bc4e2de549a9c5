package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioSender delivers SMS through the Twilio Messages API.
type TwilioSender struct {
	client *twilio.RestClient
	from   string
	cb     *gobreaker.CircuitBreaker
	cfg    resilience.Config
}

// NewTwilioSender creates a sender that sends from the given E.164 number.
func NewTwilioSender(accountSID, authToken, from string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioSender{client: client, from: from, cb: cb, cfg: cfg}
}

// SendSMS sends body to the E.164 number to and returns the message SID.
func (s *TwilioSender) SendSMS(ctx context.Context, to, body string) (string, error) {
	ctx, span := tracer.Start(ctx, "TwilioSender.SendSMS")
	defer span.End()

	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	var sid string
	err := resilience.Execute(ctx, s.cb, s.cfg, func() error {
		msg, err := s.client.Api.CreateMessage(params)
		if err != nil {
			var restErr *twclient.TwilioRestError
			if errors.As(err, &restErr) && restErr.Status < http.StatusInternalServerError && restErr.Status != http.StatusTooManyRequests {
				return resilience.Permanent(err)
			}
			return err
		}
		if msg.Sid != nil {
			sid = *msg.Sid
		}
		return nil
	})
	if err != nil {
		if resilience.IsCircuitOpen(err) {
			return "", &domain.ErrCircuitOpen{Service: "twilio"}
		}
		return "", &domain.ErrExternalService{Service: "twilio", Err: err}
	}
	return sid, nil
}
