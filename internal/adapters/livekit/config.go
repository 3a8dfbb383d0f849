package livekit

import "fmt"

// Config holds LiveKit server credentials for room management
type Config struct {
	ServerURL string
	APIKey    string
	APISecret string
}

// Validate checks that all required fields are present
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("livekit server URL is required")
	}
	if c.APIKey == "" || c.APISecret == "" {
		return fmt.Errorf("livekit API key and secret are required")
	}
	return nil
}
