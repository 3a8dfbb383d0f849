package config

import "time"

// Config holds the dial-out service configuration. Values are loaded from
// environment in cmd/server.
type Config struct {
	Port       string
	InstanceID string

	// Twilio carrier configuration
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string

	// Public base URL Twilio posts TwiML and status callbacks to
	WebhookBaseURL string

	// LiveKit media configuration
	LiveKitServerURL string
	LiveKitAPIKey    string
	LiveKitAPISecret string

	// Recording archive
	RecordingBucket  string
	RecordingEnabled bool

	// Postgres DSN for the durable call audit store; empty disables persistence
	DatabaseDSN string

	// Redis for cross-pod call registry; empty host disables it
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Lifecycle sweep: calls stuck in connecting/dialing longer than
	// StuckCallCeiling are forced to failed(timeout)
	SweepInterval    time.Duration
	StuckCallCeiling time.Duration

	// Default pacing between campaign originations
	DefaultCampaignDelay time.Duration

	// Default ISO region for parsing national phone numbers
	DefaultPhoneRegion string

	EnableCORS bool
}

// Defaults mirror local development
var DefaultConfig = Config{
	Port:                 "8080",
	SweepInterval:        30 * time.Second,
	StuckCallCeiling:     3 * time.Minute,
	DefaultCampaignDelay: 30 * time.Second,
	DefaultPhoneRegion:   "US",
	EnableCORS:           true,
}
