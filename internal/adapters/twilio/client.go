package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ClareAI/astra-dialout-service/internal/domain"
	"github.com/ClareAI/astra-dialout-service/pkg/logger"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// RoomCreator provisions the per-call media room; implemented by the LiveKit
// room manager
type RoomCreator interface {
	CreateRoom(ctx context.Context, callID, metadata string) (string, error)
	DeleteRoom(ctx context.Context, callID string) error
}

// Config holds the Twilio credentials and callback endpoints
type Config struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string

	// WebhookBaseURL is this service's public base URL; Twilio fetches TwiML
	// from <base>/twiml/outbound and posts status callbacks to
	// <base>/webhook/call-status
	WebhookBaseURL string

	// Record asks the carrier to record the call
	Record bool

	// MachineDetection enables answering-machine analysis on the dial leg
	MachineDetection bool
}

// Dialer originates calls through Twilio and binds them to a LiveKit media
// room
type Dialer struct {
	config Config
	client *twilio.RestClient
	rooms  RoomCreator
}

// NewDialer creates a Twilio-backed dialer
func NewDialer(config Config, rooms RoomCreator) (*Dialer, error) {
	if config.AccountSID == "" || config.AuthToken == "" {
		return nil, fmt.Errorf("twilio credentials are required")
	}
	if config.PhoneNumber == "" {
		return nil, fmt.Errorf("twilio caller phone number is required")
	}
	if config.WebhookBaseURL == "" {
		return nil, fmt.Errorf("webhook base URL is required")
	}

	return &Dialer{
		config: config,
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: config.AccountSID,
			Password: config.AuthToken,
		}),
		rooms: rooms,
	}, nil
}

// Originate creates the media room seeded with the call context, then asks
// the carrier to place the call. On carrier failure the just-created room is
// torn down again.
func (d *Dialer) Originate(ctx context.Context, callID string, req domain.CallRequest) (*domain.DialResult, error) {
	metadata, err := json.Marshal(req)
	if err != nil {
		return nil, domain.NewDialError(domain.DialErrorInvalidNumber, fmt.Errorf("call context: %w", err))
	}

	roomName, err := d.rooms.CreateRoom(ctx, callID, string(metadata))
	if err != nil {
		return nil, domain.NewDialError(domain.DialErrorCarrierUnavailable, fmt.Errorf("media room: %w", err))
	}

	params := &api.CreateCallParams{}
	params.SetTo(req.PhoneNumber)
	params.SetFrom(d.config.PhoneNumber)
	params.SetUrl(d.config.WebhookBaseURL + "/twiml/outbound")
	params.SetStatusCallback(d.config.WebhookBaseURL + "/webhook/call-status")
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	params.SetStatusCallbackMethod("POST")
	params.SetTimeout(60)
	if d.config.Record {
		params.SetRecord(true)
		params.SetRecordingStatusCallback(d.config.WebhookBaseURL + "/webhook/recording-status")
	}
	if d.config.MachineDetection {
		params.SetMachineDetection("Enable")
		params.SetMachineDetectionTimeout(30)
	}

	call, err := d.client.Api.CreateCall(params)
	if err != nil {
		if derr := d.rooms.DeleteRoom(ctx, callID); derr != nil {
			logger.Base().Warn("Failed to tear down room after dial failure", zap.String("call_id", callID), zap.Error(derr))
		}
		return nil, classify(err)
	}

	if call.Sid == nil || *call.Sid == "" {
		if derr := d.rooms.DeleteRoom(ctx, callID); derr != nil {
			logger.Base().Warn("Failed to tear down room after dial failure", zap.String("call_id", callID), zap.Error(derr))
		}
		return nil, domain.NewDialError(domain.DialErrorCarrierUnavailable, fmt.Errorf("carrier returned no call SID"))
	}

	logger.Base().Info("Call placed with carrier",
		zap.String("call_id", callID),
		zap.String("carrier_reference", *call.Sid),
		zap.String("room_name", roomName))

	return &domain.DialResult{CarrierReference: *call.Sid, RoomName: roomName}, nil
}

// classify maps a Twilio REST error onto the dial error kinds the retry
// policy understands
func classify(err error) error {
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		switch {
		case isInvalidNumberCode(restErr.Code):
			return domain.NewDialError(domain.DialErrorInvalidNumber, err)
		case restErr.Status == 429 || restErr.Code == 20429:
			return domain.NewDialError(domain.DialErrorQuotaExceeded, err)
		case restErr.Status >= 500:
			return domain.NewDialError(domain.DialErrorCarrierUnavailable, err)
		default:
			// 4xx we cannot retry our way out of.
			return domain.NewDialError(domain.DialErrorInvalidNumber, err)
		}
	}
	// Transport-level failures are transient.
	return domain.NewDialError(domain.DialErrorCarrierUnavailable, err)
}

// isInvalidNumberCode covers Twilio's malformed/unreachable destination codes
func isInvalidNumberCode(code int) bool {
	switch code {
	case 21211, 21214, 21215, 21217, 13224:
		return true
	}
	return false
}
