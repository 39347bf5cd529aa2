package sender

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioClient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioSMSSender delivers SMS through the Twilio REST API. The address is
// the recipient's E.164 phone number.
type TwilioSMSSender struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioSMSSender(accountSID, authToken, fromNumber string) *TwilioSMSSender {
	return &TwilioSMSSender{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
		from: fromNumber,
	}
}

func (s *TwilioSMSSender) Send(_ context.Context, address string, p Payload) error {
	body := p.Title
	if p.Body != "" {
		body += ": " + p.Body
	}
	if p.Lat != 0 || p.Lng != 0 {
		body += fmt.Sprintf(" (https://maps.google.com/?q=%.5f,%.5f)", p.Lat, p.Lng)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(address)
	params.SetFrom(s.from)
	params.SetBody(body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		if code := classifyTwilioError(err); code != "" {
			return &DeliveryError{Code: code, Err: err}
		}
		return fmt.Errorf("twilio send: %w", err)
	}
	return nil
}

// classifyTwilioError maps provider rejections onto delivery error codes.
// Returns "" for permanent failures such as an invalid number.
func classifyTwilioError(err error) string {
	var restErr *twilioClient.TwilioRestError
	if errors.As(err, &restErr) {
		switch {
		case restErr.Code == 20429 || restErr.Status == 429:
			return "rate_limited"
		case restErr.Code == 21611:
			return "queue_overflow"
		case restErr.Status >= 500:
			return "resource_exhausted"
		}
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return ""
}
