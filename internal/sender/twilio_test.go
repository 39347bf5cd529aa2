package sender

import (
	"context"
	"errors"
	"fmt"
	"testing"

	twilioClient "github.com/twilio/twilio-go/client"
)

func TestClassifyTwilioError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"too many requests", &twilioClient.TwilioRestError{Code: 20429, Status: 429}, "rate_limited"},
		{"http 429", &twilioClient.TwilioRestError{Status: 429}, "rate_limited"},
		{"queue limit", &twilioClient.TwilioRestError{Code: 21611, Status: 400}, "queue_overflow"},
		{"server error", &twilioClient.TwilioRestError{Status: 503}, "resource_exhausted"},
		{"invalid number", &twilioClient.TwilioRestError{Code: 21211, Status: 400}, ""},
		{"deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), "timeout"},
		{"plain error", errors.New("boom"), ""},
	}
	for _, tc := range cases {
		if got := classifyTwilioError(tc.err); got != tc.want {
			t.Fatalf("%s: classifyTwilioError() = %q, want %q", tc.name, got, tc.want)
		}
	}
}
