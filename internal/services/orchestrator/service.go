package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ClareAI/astra-dialout-service/internal/core/event"
	"github.com/ClareAI/astra-dialout-service/internal/core/session"
	"github.com/ClareAI/astra-dialout-service/internal/domain"
	"github.com/ClareAI/astra-dialout-service/internal/registry"
	"github.com/ClareAI/astra-dialout-service/pkg/logger"
	"github.com/nyaruka/phonenumbers"
	"go.uber.org/zap"
)

// Dialer places the carrier dial leg for a call, handing the request context
// to the media session
type Dialer interface {
	Originate(ctx context.Context, callID string, req domain.CallRequest) (*domain.DialResult, error)
}

// DialerFunc adapts a plain function to the Dialer interface
type DialerFunc func(ctx context.Context, callID string, req domain.CallRequest) (*domain.DialResult, error)

func (f DialerFunc) Originate(ctx context.Context, callID string, req domain.CallRequest) (*domain.DialResult, error) {
	return f(ctx, callID, req)
}

// RoomDeleter tears down the media room bound to a call
type RoomDeleter interface {
	DeleteRoom(ctx context.Context, callID string) error
}

// RecordingArchiver copies a carrier-hosted recording into durable storage
type RecordingArchiver interface {
	Archive(ctx context.Context, callID, recordingSID, recordingURL string) (string, error)
}

// AuditStore persists call records and their history entries
type AuditStore interface {
	Upsert(ctx context.Context, rec *domain.CallRecord) error
	AppendEvent(ctx context.Context, callID string, entry domain.HistoryEntry) error
}

// HistoryStore reads back persisted call records for calls that are no longer
// in the in-memory registry, e.g. from before a restart
type HistoryStore interface {
	LoadCall(ctx context.Context, callID string) (*domain.CallRecord, error)
	ListCallsByStatus(ctx context.Context, status domain.CallStatus, limit int) ([]*domain.CallRecord, error)
}

// SessionRegistry tracks live calls across pods
type SessionRegistry interface {
	Register(ctx context.Context, info session.CallInfo) error
	Unregister(ctx context.Context, callID string) error
	NotifyCleanup(ctx context.Context, callID string) error
}

// Options carries the orchestrator's collaborators. Sessions, Audit, History,
// Rooms and Archive are optional; a nil value disables that concern.
type Options struct {
	Dialer   Dialer
	Rooms    RoomDeleter
	Sessions SessionRegistry
	Audit    AuditStore
	History  HistoryStore
	Archive  RecordingArchiver
	Events   event.Bus

	PodID            string
	DefaultRegion    string
	SweepInterval    time.Duration
	StuckCallCeiling time.Duration
}

// Service owns the call lifecycle: it allocates call records, drives the
// carrier dial leg, applies normalized carrier events, and cleans up after
// terminal calls.
type Service struct {
	registry *registry.Registry
	opts     Options
}

func NewService(opts Options) *Service {
	if opts.DefaultRegion == "" {
		opts.DefaultRegion = "US"
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.StuckCallCeiling <= 0 {
		opts.StuckCallCeiling = 10 * time.Minute
	}

	s := &Service{
		registry: registry.New(),
		opts:     opts,
	}

	if opts.Events != nil {
		s.registry.OnTransition = func(rec *domain.CallRecord, ev domain.CallEvent) {
			data := event.NewCallEventData(rec)
			if err := opts.Events.Publish(event.CallStateChanged, data); err != nil {
				logger.Base().Warn("Failed to publish state change", zap.String("call_id", rec.CallID), zap.Error(err))
			}
			if rec.Status.IsTerminal() {
				if err := opts.Events.Publish(event.CallTerminated, data); err != nil {
					logger.Base().Warn("Failed to publish termination", zap.String("call_id", rec.CallID), zap.Error(err))
				}
			}
		}
		opts.Events.Subscribe(event.CallTerminated, s.onTerminated)
	}

	return s
}

// StartCall validates the destination number, allocates a call record, and
// drives the dial leg. The call_id exists before any carrier interaction, so
// a dial failure still leaves an auditable failed record.
func (s *Service) StartCall(ctx context.Context, req domain.CallRequest) (*domain.CallRecord, error) {
	normalized, err := s.normalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	req.PhoneNumber = normalized

	rec := s.registry.Create(req)
	logger.Base().Info("Call created",
		zap.String("call_id", rec.CallID),
		zap.String("phone_number", req.PhoneNumber))

	result, err := s.opts.Dialer.Originate(ctx, rec.CallID, req)
	if err != nil {
		reason := "dial failed"
		if dialErr, ok := domain.AsDialError(err); ok {
			reason = fmt.Sprintf("dial failed: %s", dialErr.Kind)
		}
		failed, applyErr := s.registry.ApplyEvent(rec.CallID, domain.CallEvent{
			Kind:   domain.EventFailed,
			Reason: reason,
		})
		if applyErr != nil {
			logger.Base().Error("Failed to mark dial failure", zap.String("call_id", rec.CallID), zap.Error(applyErr))
			return rec, err
		}
		s.persist(ctx, failed)
		return failed, err
	}

	if err := s.registry.BindCarrierReference(rec.CallID, result.CarrierReference, result.RoomName); err != nil {
		return nil, err
	}

	rec, err = s.registry.ApplyEvent(rec.CallID, domain.CallEvent{
		Kind:             domain.EventInitiated,
		CarrierReference: result.CarrierReference,
	})
	if err != nil {
		return nil, err
	}

	if s.opts.Sessions != nil {
		info := session.CallInfo{
			CallID:           rec.CallID,
			PodID:            s.opts.PodID,
			CarrierReference: rec.CarrierReference,
			PhoneNumber:      req.PhoneNumber,
			RoomName:         rec.RoomName,
			StartTime:        rec.CreatedAt,
		}
		if err := s.opts.Sessions.Register(ctx, info); err != nil {
			logger.Base().Warn("Failed to register call session", zap.String("call_id", rec.CallID), zap.Error(err))
		}
	}
	s.persist(ctx, rec)

	return rec, nil
}

// GetCall returns a snapshot of one call record. Calls the registry no longer
// holds are served from the persisted history.
func (s *Service) GetCall(callID string) (*domain.CallRecord, error) {
	rec, err := s.registry.Get(callID)
	if err == nil || s.opts.History == nil {
		return rec, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.opts.History.LoadCall(ctx, callID)
}

// ListCalls returns snapshots of all call records in creation order
func (s *Service) ListCalls() []*domain.CallRecord {
	return s.registry.List()
}

// HandleCarrierEvent applies a normalized carrier callback. Events whose
// reference matches no known call yield ErrUnmatchedEvent; they must not
// create records.
func (s *Service) HandleCarrierEvent(ctx context.Context, ev domain.CallEvent) (*domain.CallRecord, error) {
	if ev.CarrierReference == "" {
		return nil, fmt.Errorf("%w: event carries no carrier reference", domain.ErrUnmatchedEvent)
	}
	callID, ok := s.registry.ResolveCarrierReference(ev.CarrierReference)
	if !ok {
		return nil, fmt.Errorf("%w: no call bound to reference %s", domain.ErrUnmatchedEvent, ev.CarrierReference)
	}

	rec, err := s.registry.ApplyEvent(callID, ev)
	if err != nil {
		return nil, err
	}
	s.persist(ctx, rec)
	return rec, nil
}

// HandleRecording archives a finished carrier recording and attaches its
// durable URL to the call record
func (s *Service) HandleRecording(ctx context.Context, carrierReference, recordingSID, recordingURL string) (*domain.CallRecord, error) {
	callID, ok := s.registry.ResolveCarrierReference(carrierReference)
	if !ok {
		return nil, fmt.Errorf("%w: no call bound to reference %s", domain.ErrUnmatchedEvent, carrierReference)
	}

	finalURL := recordingURL
	if s.opts.Archive != nil {
		archived, err := s.opts.Archive.Archive(ctx, callID, recordingSID, recordingURL)
		if err != nil {
			logger.Base().Warn("Failed to archive recording, keeping carrier URL",
				zap.String("call_id", callID), zap.Error(err))
		} else {
			finalURL = archived
		}
	}

	rec, err := s.registry.ApplyEvent(callID, domain.CallEvent{
		Kind:             domain.EventRecordingAvailable,
		CarrierReference: carrierReference,
		RecordingURL:     finalURL,
	})
	if err != nil {
		return nil, err
	}
	s.persist(ctx, rec)

	if s.opts.Events != nil {
		if err := s.opts.Events.Publish(event.RecordingCaptured, event.NewCallEventData(rec)); err != nil {
			logger.Base().Warn("Failed to publish recording event", zap.String("call_id", callID), zap.Error(err))
		}
	}
	return rec, nil
}

// RunSweeper fails calls stuck in a non-terminal state past the ceiling.
// Blocks until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	logger.Base().Info("Stuck-call sweeper started",
		zap.Duration("interval", s.opts.SweepInterval),
		zap.Duration("ceiling", s.opts.StuckCallCeiling))

	for {
		select {
		case <-ctx.Done():
			logger.Base().Info("Stuck-call sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce fails every call that has sat in a non-terminal state longer
// than the ceiling. Returns the number of calls swept.
func (s *Service) SweepOnce(ctx context.Context) int {
	stale := s.registry.StaleCalls(s.opts.StuckCallCeiling)
	for _, callID := range stale {
		rec, err := s.registry.ApplyEvent(callID, domain.CallEvent{
			Kind:   domain.EventFailed,
			Reason: "timeout: no carrier event within ceiling",
		})
		if err != nil {
			logger.Base().Error("Failed to sweep stuck call", zap.String("call_id", callID), zap.Error(err))
			continue
		}
		logger.Base().Warn("Swept stuck call", zap.String("call_id", callID))
		s.persist(ctx, rec)
	}
	return len(stale)
}

// RecoverAbandonedCalls fails persisted calls a previous run left mid-dial.
// Their carrier legs are orphaned after a restart, so the sweep ceiling would
// never fire for them. Run once at startup. Returns the number recovered.
func (s *Service) RecoverAbandonedCalls(ctx context.Context) int {
	if s.opts.History == nil {
		return 0
	}

	recovered := 0
	for _, status := range []domain.CallStatus{domain.CallStatusConnecting, domain.CallStatusDialing} {
		recs, err := s.opts.History.ListCallsByStatus(ctx, status, 0)
		if err != nil {
			logger.Base().Error("Failed to list abandoned calls", zap.String("status", string(status)), zap.Error(err))
			continue
		}
		for _, rec := range recs {
			now := time.Now()
			rec.Status = domain.CallStatusFailed
			rec.ResultMessage = "orchestrator restarted while call was in progress"
			rec.UpdatedAt = now
			rec.History = append(rec.History, domain.HistoryEntry{
				Kind:      domain.EventFailed,
				Timestamp: now,
				Note:      rec.ResultMessage,
			})
			s.persist(ctx, rec)
			logger.Base().Warn("Recovered abandoned call",
				zap.String("call_id", rec.CallID),
				zap.String("previous_status", string(status)))
			recovered++
		}
	}
	return recovered
}

// onTerminated tears down everything attached to a finished call: the media
// room, the cross-pod session entry, and the cleanup broadcast.
func (s *Service) onTerminated(data *event.CallEventData) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.opts.Rooms != nil && data.RoomName != "" {
		if err := s.opts.Rooms.DeleteRoom(ctx, data.CallID); err != nil {
			logger.Base().Warn("Failed to delete room", zap.String("call_id", data.CallID), zap.Error(err))
		}
	}
	if s.opts.Sessions != nil {
		if err := s.opts.Sessions.Unregister(ctx, data.CallID); err != nil {
			logger.Base().Warn("Failed to unregister session", zap.String("call_id", data.CallID), zap.Error(err))
		}
		if err := s.opts.Sessions.NotifyCleanup(ctx, data.CallID); err != nil {
			logger.Base().Warn("Failed to broadcast cleanup", zap.String("call_id", data.CallID), zap.Error(err))
		}
	}
}

func (s *Service) persist(ctx context.Context, rec *domain.CallRecord) {
	if s.opts.Audit == nil {
		return
	}
	if err := s.opts.Audit.Upsert(ctx, rec); err != nil {
		logger.Base().Warn("Failed to persist call record", zap.String("call_id", rec.CallID), zap.Error(err))
		return
	}
	if n := len(rec.History); n > 0 {
		if err := s.opts.Audit.AppendEvent(ctx, rec.CallID, rec.History[n-1]); err != nil {
			logger.Base().Warn("Failed to persist call event", zap.String("call_id", rec.CallID), zap.Error(err))
		}
	}
}

func (s *Service) normalizePhone(number string) (string, error) {
	parsed, err := phonenumbers.Parse(number, s.opts.DefaultRegion)
	if err != nil {
		return "", fmt.Errorf("%w: unparseable phone number %q", domain.ErrInvalidRequest, number)
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", fmt.Errorf("%w: invalid phone number %q", domain.ErrInvalidRequest, number)
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
