package domain

import (
	"time"
)

// CallStatus represents the lifecycle state of an outbound call
type CallStatus string

const (
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusConnecting CallStatus = "connecting"
	CallStatusDialing    CallStatus = "dialing"
	CallStatusConnected  CallStatus = "connected"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusCompleted  CallStatus = "completed"
)

// IsTerminal reports whether no further status transition is permitted
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer:
		return true
	}
	return false
}

// rank orders statuses along the forward-only lifecycle. Terminal branches
// share the same rank so a late `ringing` after `failed` never regresses.
func (s CallStatus) rank() int {
	switch s {
	case CallStatusInitiated:
		return 0
	case CallStatusConnecting:
		return 1
	case CallStatusDialing:
		return 2
	case CallStatusConnected, CallStatusFailed, CallStatusNoAnswer:
		return 3
	case CallStatusCompleted:
		return 4
	}
	return -1
}

// EventKind is the normalized carrier event vocabulary
type EventKind string

const (
	EventInitiated          EventKind = "initiated"
	EventRinging            EventKind = "ringing"
	EventAnswered           EventKind = "answered"
	EventCompleted          EventKind = "completed"
	EventFailed             EventKind = "failed"
	EventBusy               EventKind = "busy"
	EventNoAnswer           EventKind = "no_answer"
	EventRecordingAvailable EventKind = "recording_available"
)

// CallEvent is one normalized carrier callback (or internally synthesized
// transition) applied to a call record
type CallEvent struct {
	Kind             EventKind `json:"kind"`
	CarrierReference string    `json:"carrier_reference,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	RecordingURL     string    `json:"recording_url,omitempty"`
	Reason           string    `json:"reason,omitempty"`
}

// HistoryEntry is one appended audit-trail entry on a call record
type HistoryEntry struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

// CallRequest is the caller-supplied payload for a single outbound call
type CallRequest struct {
	PhoneNumber        string `json:"phone_number"`
	CustomerName       string `json:"customer_name,omitempty"`
	AppointmentDate    string `json:"appointment_date,omitempty"`
	AppointmentTime    string `json:"appointment_time,omitempty"`
	CustomInstructions string `json:"custom_instructions,omitempty"`
}

// CallRecord is one call attempt. CallID is assigned at request time, before
// any carrier interaction; CarrierReference is bound at most once when the
// dial leg (or its first webhook) reports it.
type CallRecord struct {
	CallID           string         `json:"call_id"`
	CarrierReference string         `json:"carrier_reference,omitempty"`
	RoomName         string         `json:"room_name,omitempty"`
	Request          CallRequest    `json:"request"`
	Status           CallStatus     `json:"status"`
	History          []HistoryEntry `json:"history"`
	ResultMessage    string         `json:"result_message,omitempty"`
	RecordingURL     string         `json:"recording_url,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Clone returns a deep copy safe to hand outside the registry
func (r *CallRecord) Clone() *CallRecord {
	cp := *r
	cp.History = make([]HistoryEntry, len(r.History))
	copy(cp.History, r.History)
	return &cp
}

// NextStatus resolves the status implied by an event kind arriving while the
// record is at current. The second return is false when the event must not
// change status (audit-only append).
func NextStatus(current CallStatus, kind EventKind) (CallStatus, bool) {
	if current.IsTerminal() {
		return current, false
	}

	var implied CallStatus
	switch kind {
	case EventInitiated:
		// The carrier acknowledged the dial leg; the record was already
		// `initiated` at creation time, so this moves it to connecting.
		implied = CallStatusConnecting
	case EventRinging:
		implied = CallStatusDialing
	case EventAnswered:
		implied = CallStatusConnected
	case EventFailed, EventBusy:
		implied = CallStatusFailed
	case EventNoAnswer:
		implied = CallStatusNoAnswer
	case EventCompleted:
		// Only a connected call completes; a stray `completed` before any
		// answer is a carrier teardown and lands on failed.
		if current == CallStatusConnected {
			implied = CallStatusCompleted
		} else {
			implied = CallStatusFailed
		}
	case EventRecordingAvailable:
		return current, false
	default:
		return current, false
	}

	// Strictly forward transitions only. Behind or same-rank lateral events
	// (a delayed machine-detection result against a connected call) are
	// audit-only.
	if implied.rank() <= current.rank() {
		return current, false
	}
	return implied, true
}
