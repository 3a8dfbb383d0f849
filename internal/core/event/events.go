package event

import (
	"time"

	"github.com/ClareAI/astra-dialout-service/internal/domain"
)

// EventType identifies a lifecycle event on the local bus
type EventType string

const (
	// CallStateChanged fires on every forward status transition
	CallStateChanged EventType = "call.state_changed"

	// CallTerminated fires once when a call reaches a terminal state
	CallTerminated EventType = "call.terminated"

	// RecordingCaptured fires when a recording reference was attached
	RecordingCaptured EventType = "call.recording_captured"
)

// CallEventData is the payload carried by lifecycle events
type CallEventData struct {
	CallID           string
	CarrierReference string
	RoomName         string
	Status           domain.CallStatus
	RecordingURL     string
	Timestamp        time.Time
}

// NewCallEventData builds a payload from a record snapshot
func NewCallEventData(rec *domain.CallRecord) *CallEventData {
	return &CallEventData{
		CallID:           rec.CallID,
		CarrierReference: rec.CarrierReference,
		RoomName:         rec.RoomName,
		Status:           rec.Status,
		RecordingURL:     rec.RecordingURL,
		Timestamp:        time.Now(),
	}
}
