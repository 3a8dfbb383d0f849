package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/astra-dialout-service/internal/domain"
	"github.com/ClareAI/astra-dialout-service/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// entry pairs a record with its own mutex so events for one call serialize
// without blocking unrelated calls
type entry struct {
	mu     sync.Mutex
	record *domain.CallRecord
}

// Registry is the single source of truth for call state. The map lock only
// guards lookups and inserts; record mutation happens under the per-entry
// mutex.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	byRef   map[string]string // carrier_reference -> call_id

	// OnTransition, if set, is invoked after a status change with a snapshot
	// of the updated record. Called outside the per-record lock.
	OnTransition func(rec *domain.CallRecord, ev domain.CallEvent)
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		byRef:   make(map[string]string),
	}
}

// Create allocates a call ID and writes the initial record. Creation itself
// is the first history event.
func (r *Registry) Create(req domain.CallRequest) *domain.CallRecord {
	now := time.Now()
	rec := &domain.CallRecord{
		CallID:  uuid.New().String(),
		Request: req,
		Status:  domain.CallStatusInitiated,
		History: []domain.HistoryEntry{{
			Kind:      domain.EventInitiated,
			Timestamp: now,
			Note:      "call request accepted",
		}},
		ResultMessage: fmt.Sprintf("Call to %s has been initiated", req.PhoneNumber),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	r.mu.Lock()
	r.entries[rec.CallID] = &entry{record: rec}
	r.order = append(r.order, rec.CallID)
	r.mu.Unlock()

	logger.Base().Info("Call record created", zap.String("call_id", rec.CallID), zap.String("phone_number", req.PhoneNumber))
	return rec.Clone()
}

// Get returns a snapshot of one record
func (r *Registry) Get(callID string) (*domain.CallRecord, error) {
	e := r.lookup(callID)
	if e == nil {
		return nil, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record.Clone(), nil
}

// List returns snapshots of all records in insertion order
func (r *Registry) List() []*domain.CallRecord {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	out := make([]*domain.CallRecord, 0, len(ids))
	for _, id := range ids {
		if rec, err := r.Get(id); err == nil {
			out = append(out, rec)
		}
	}
	return out
}

// ResolveCarrierReference maps a carrier-assigned reference back to a call_id
func (r *Registry) ResolveCarrierReference(ref string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byRef[ref]
	return id, ok
}

// BindCarrierReference records the carrier reference and media room assigned
// by the dial leg. The first binding wins; a different reference for an
// already-bound record is a conflict.
func (r *Registry) BindCarrierReference(callID, ref, roomName string) error {
	e := r.lookup(callID)
	if e == nil {
		return domain.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record.CarrierReference != "" && e.record.CarrierReference != ref {
		return fmt.Errorf("%w: call %s already bound to %s", domain.ErrConflict, callID, e.record.CarrierReference)
	}
	if e.record.CarrierReference == "" {
		e.record.CarrierReference = ref
		e.record.UpdatedAt = time.Now()
		r.mu.Lock()
		r.byRef[ref] = callID
		r.mu.Unlock()
	}
	if roomName != "" && e.record.RoomName == "" {
		e.record.RoomName = roomName
	}
	return nil
}

// ApplyEvent applies one normalized event to one record, serialized per
// call_id. Terminal-state and behind-current events are accepted into the
// history but never change status.
func (r *Registry) ApplyEvent(callID string, ev domain.CallEvent) (*domain.CallRecord, error) {
	e := r.lookup(callID)
	if e == nil {
		return nil, domain.ErrNotFound
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	e.mu.Lock()
	rec := e.record

	if ev.CarrierReference != "" {
		if rec.CarrierReference == "" {
			rec.CarrierReference = ev.CarrierReference
			r.mu.Lock()
			r.byRef[ev.CarrierReference] = callID
			r.mu.Unlock()
		} else if rec.CarrierReference != ev.CarrierReference {
			// The rejection itself is auditable: note the mismatch on the
			// record before refusing the event.
			rec.History = append(rec.History, domain.HistoryEntry{
				Kind:      ev.Kind,
				Timestamp: ev.Timestamp,
				Note:      fmt.Sprintf("rejected: event reference %s, record bound to %s", ev.CarrierReference, rec.CarrierReference),
			})
			rec.UpdatedAt = time.Now()
			e.mu.Unlock()
			return nil, fmt.Errorf("%w: event reference %s, record bound to %s", domain.ErrConflict, ev.CarrierReference, rec.CarrierReference)
		}
	}

	rec.History = append(rec.History, domain.HistoryEntry{
		Kind:      ev.Kind,
		Timestamp: ev.Timestamp,
		Note:      ev.Reason,
	})

	if ev.Kind == domain.EventRecordingAvailable && ev.RecordingURL != "" {
		// Side-channel attachment, no status change.
		if rec.Status == domain.CallStatusConnected || rec.Status.IsTerminal() {
			rec.RecordingURL = ev.RecordingURL
		}
	}

	next, changed := domain.NextStatus(rec.Status, ev.Kind)
	if changed {
		logger.Base().Info("Call transition",
			zap.String("call_id", callID),
			zap.String("from", string(rec.Status)),
			zap.String("to", string(next)),
			zap.String("event", string(ev.Kind)))
		rec.Status = next
		rec.ResultMessage = transitionMessage(next, ev)
	}
	rec.UpdatedAt = time.Now()

	snapshot := rec.Clone()
	e.mu.Unlock()

	if changed && r.OnTransition != nil {
		r.OnTransition(snapshot, ev)
	}
	return snapshot, nil
}

func (r *Registry) lookup(callID string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[callID]
}

// StaleCalls returns call IDs stuck in connecting/dialing longer than ceiling,
// for the timeout sweep
func (r *Registry) StaleCalls(ceiling time.Duration) []string {
	cutoff := time.Now().Add(-ceiling)

	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	var stale []string
	for _, id := range ids {
		e := r.lookup(id)
		if e == nil {
			continue
		}
		e.mu.Lock()
		st := e.record.Status
		updated := e.record.UpdatedAt
		e.mu.Unlock()
		if (st == domain.CallStatusConnecting || st == domain.CallStatusDialing) && updated.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}

func transitionMessage(status domain.CallStatus, ev domain.CallEvent) string {
	if ev.Reason != "" {
		return ev.Reason
	}
	switch status {
	case domain.CallStatusConnecting:
		return "Dial leg created, waiting for carrier"
	case domain.CallStatusDialing:
		return "Phone is ringing"
	case domain.CallStatusConnected:
		return "Call connected successfully"
	case domain.CallStatusCompleted:
		return "Call completed"
	case domain.CallStatusFailed:
		return "Call failed"
	case domain.CallStatusNoAnswer:
		return "No answer"
	}
	return string(status)
}
