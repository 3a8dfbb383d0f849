package twilio

import (
	"context"
	"errors"
	"testing"

	"github.com/ClareAI/astra-dialout-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioclient "github.com/twilio/twilio-go/client"
)

func TestClassifyRestErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantKind  domain.DialErrorKind
		retryable bool
	}{
		{
			name:      "malformed destination number",
			err:       &twilioclient.TwilioRestError{Code: 21211, Status: 400},
			wantKind:  domain.DialErrorInvalidNumber,
			retryable: false,
		},
		{
			name:      "unreachable destination",
			err:       &twilioclient.TwilioRestError{Code: 21214, Status: 400},
			wantKind:  domain.DialErrorInvalidNumber,
			retryable: false,
		},
		{
			name:      "concurrency limit",
			err:       &twilioclient.TwilioRestError{Code: 20429, Status: 429},
			wantKind:  domain.DialErrorQuotaExceeded,
			retryable: true,
		},
		{
			name:      "carrier internal error",
			err:       &twilioclient.TwilioRestError{Code: 20500, Status: 500},
			wantKind:  domain.DialErrorCarrierUnavailable,
			retryable: true,
		},
		{
			name:      "transport failure",
			err:       errors.New("connection reset by peer"),
			wantKind:  domain.DialErrorCarrierUnavailable,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classify(tt.err)
			dialErr, ok := domain.AsDialError(classified)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, dialErr.Kind)
			assert.Equal(t, tt.retryable, dialErr.Retryable())
		})
	}
}

func TestNewDialerValidation(t *testing.T) {
	_, err := NewDialer(Config{}, nil)
	assert.Error(t, err)

	_, err = NewDialer(Config{AccountSID: "AC123", AuthToken: "secret"}, nil)
	assert.Error(t, err)

	d, err := NewDialer(Config{
		AccountSID:     "AC123",
		AuthToken:      "secret",
		PhoneNumber:    "+15550001111",
		WebhookBaseURL: "https://dialout.example.com",
	}, nil)
	require.NoError(t, err)
	assert.NotNil(t, d)
}

type failingRooms struct{}

func (failingRooms) CreateRoom(context.Context, string, string) (string, error) {
	return "", errors.New("room service unavailable")
}

func (failingRooms) DeleteRoom(context.Context, string) error {
	return nil
}

func TestOriginateRoomFailureIsRetryable(t *testing.T) {
	d, err := NewDialer(Config{
		AccountSID:     "AC123",
		AuthToken:      "secret",
		PhoneNumber:    "+15550001111",
		WebhookBaseURL: "https://dialout.example.com",
	}, failingRooms{})
	require.NoError(t, err)

	_, err = d.Originate(context.Background(), "call-1", domain.CallRequest{PhoneNumber: "+16502530000"})
	dialErr, ok := domain.AsDialError(err)
	require.True(t, ok)
	assert.Equal(t, domain.DialErrorCarrierUnavailable, dialErr.Kind)
}

func TestRetryPolicyTable(t *testing.T) {
	assert.Equal(t, 1, DefaultRetryPolicies[domain.DialErrorInvalidNumber].MaxAttempts)
	assert.Greater(t, DefaultRetryPolicies[domain.DialErrorCarrierUnavailable].MaxAttempts, 1)
	assert.Greater(t, DefaultRetryPolicies[domain.DialErrorQuotaExceeded].Backoff,
		DefaultRetryPolicies[domain.DialErrorCarrierUnavailable].Backoff)
}
