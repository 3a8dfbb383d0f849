package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ClareAI/astra-dialout-service/internal/core/event"
	"github.com/ClareAI/astra-dialout-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDialer struct {
	mock.Mock
}

func (m *mockDialer) Originate(ctx context.Context, callID string, req domain.CallRequest) (*domain.DialResult, error) {
	args := m.Called(ctx, callID, req.PhoneNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DialResult), args.Error(1)
}

type fakeRoomDeleter struct {
	deleted chan string
}

func (f *fakeRoomDeleter) DeleteRoom(_ context.Context, callID string) error {
	f.deleted <- callID
	return nil
}

func TestStartCallSuccess(t *testing.T) {
	dialer := new(mockDialer)
	dialer.On("Originate", mock.Anything, mock.Anything, "+16502530000").
		Return(&domain.DialResult{CarrierReference: "CA100", RoomName: "call-abc"}, nil)

	svc := NewService(Options{Dialer: dialer})

	rec, err := svc.StartCall(context.Background(), domain.CallRequest{
		PhoneNumber:  "+16502530000",
		CustomerName: "Dana",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusConnecting, rec.Status)
	assert.Equal(t, "CA100", rec.CarrierReference)
	assert.Equal(t, "call-abc", rec.RoomName)
	assert.NotEmpty(t, rec.CallID)
	dialer.AssertExpectations(t)
}

func TestStartCallNormalizesNationalNumber(t *testing.T) {
	dialer := new(mockDialer)
	dialer.On("Originate", mock.Anything, mock.Anything, "+16502530000").
		Return(&domain.DialResult{CarrierReference: "CA101", RoomName: "call-x"}, nil)

	svc := NewService(Options{Dialer: dialer, DefaultRegion: "US"})

	rec, err := svc.StartCall(context.Background(), domain.CallRequest{PhoneNumber: "(650) 253-0000"})
	require.NoError(t, err)
	assert.Equal(t, "+16502530000", rec.Request.PhoneNumber)
	dialer.AssertExpectations(t)
}

func TestStartCallRejectsInvalidNumber(t *testing.T) {
	dialer := new(mockDialer)
	svc := NewService(Options{Dialer: dialer})

	_, err := svc.StartCall(context.Background(), domain.CallRequest{PhoneNumber: "not-a-number"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	dialer.AssertNotCalled(t, "Originate", mock.Anything, mock.Anything, mock.Anything)
}

func TestStartCallDialFailureLeavesFailedRecord(t *testing.T) {
	dialer := new(mockDialer)
	dialer.On("Originate", mock.Anything, mock.Anything, "+16502530000").
		Return(nil, domain.NewDialError(domain.DialErrorInvalidNumber, errors.New("carrier rejected")))

	svc := NewService(Options{Dialer: dialer})

	rec, err := svc.StartCall(context.Background(), domain.CallRequest{PhoneNumber: "+16502530000"})
	require.Error(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.CallStatusFailed, rec.Status)

	// The failed attempt stays queryable by its call_id.
	got, getErr := svc.GetCall(rec.CallID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.CallStatusFailed, got.Status)
}

func TestHandleCarrierEventLifecycle(t *testing.T) {
	dialer := new(mockDialer)
	dialer.On("Originate", mock.Anything, mock.Anything, "+16502530000").
		Return(&domain.DialResult{CarrierReference: "CA200", RoomName: "call-y"}, nil)

	svc := NewService(Options{Dialer: dialer})
	rec, err := svc.StartCall(context.Background(), domain.CallRequest{PhoneNumber: "+16502530000"})
	require.NoError(t, err)

	for _, step := range []struct {
		kind domain.EventKind
		want domain.CallStatus
	}{
		{domain.EventRinging, domain.CallStatusDialing},
		{domain.EventAnswered, domain.CallStatusConnected},
		{domain.EventCompleted, domain.CallStatusCompleted},
	} {
		got, err := svc.HandleCarrierEvent(context.Background(), domain.CallEvent{
			Kind:             step.kind,
			CarrierReference: "CA200",
		})
		require.NoError(t, err)
		assert.Equal(t, step.want, got.Status)
	}

	got, err := svc.GetCall(rec.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusCompleted, got.Status)
}

func TestHandleCarrierEventUnmatchedReference(t *testing.T) {
	svc := NewService(Options{Dialer: new(mockDialer)})

	_, err := svc.HandleCarrierEvent(context.Background(), domain.CallEvent{
		Kind:             domain.EventRinging,
		CarrierReference: "CA999",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnmatchedEvent)

	// Unmatched events must not create records.
	assert.Empty(t, svc.ListCalls())
}

func TestSweepOnceFailsStuckCalls(t *testing.T) {
	dialer := new(mockDialer)
	dialer.On("Originate", mock.Anything, mock.Anything, "+16502530000").
		Return(&domain.DialResult{CarrierReference: "CA300", RoomName: "call-z"}, nil)

	svc := NewService(Options{Dialer: dialer, StuckCallCeiling: time.Nanosecond})
	rec, err := svc.StartCall(context.Background(), domain.CallRequest{PhoneNumber: "+16502530000"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	swept := svc.SweepOnce(context.Background())
	assert.Equal(t, 1, swept)

	got, err := svc.GetCall(rec.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusFailed, got.Status)

	// Terminal records are never swept again.
	assert.Zero(t, svc.SweepOnce(context.Background()))
}

func TestTerminalCallTearsDownRoom(t *testing.T) {
	dialer := new(mockDialer)
	dialer.On("Originate", mock.Anything, mock.Anything, "+16502530000").
		Return(&domain.DialResult{CarrierReference: "CA400", RoomName: "call-w"}, nil)

	rooms := &fakeRoomDeleter{deleted: make(chan string, 4)}
	bus := event.NewBus()
	defer bus.Close()

	svc := NewService(Options{Dialer: dialer, Rooms: rooms, Events: bus})
	rec, err := svc.StartCall(context.Background(), domain.CallRequest{PhoneNumber: "+16502530000"})
	require.NoError(t, err)

	_, err = svc.HandleCarrierEvent(context.Background(), domain.CallEvent{
		Kind:             domain.EventFailed,
		CarrierReference: "CA400",
		Reason:           "busy signal",
	})
	require.NoError(t, err)

	select {
	case callID := <-rooms.deleted:
		assert.Equal(t, rec.CallID, callID)
	case <-time.After(2 * time.Second):
		t.Fatal("room was not deleted after terminal event")
	}
}

type fakeHistory struct {
	calls    map[string]*domain.CallRecord
	byStatus map[domain.CallStatus][]*domain.CallRecord
}

func (f *fakeHistory) LoadCall(_ context.Context, callID string) (*domain.CallRecord, error) {
	rec, ok := f.calls[callID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

func (f *fakeHistory) ListCallsByStatus(_ context.Context, status domain.CallStatus, _ int) ([]*domain.CallRecord, error) {
	return f.byStatus[status], nil
}

type fakeAudit struct {
	mu      sync.Mutex
	upserts []*domain.CallRecord
}

func (f *fakeAudit) Upsert(_ context.Context, rec *domain.CallRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, rec)
	return nil
}

func (f *fakeAudit) AppendEvent(_ context.Context, _ string, _ domain.HistoryEntry) error {
	return nil
}

func TestGetCallFallsBackToHistory(t *testing.T) {
	history := &fakeHistory{calls: map[string]*domain.CallRecord{
		"old-call": {CallID: "old-call", Status: domain.CallStatusCompleted},
	}}
	svc := NewService(Options{Dialer: new(mockDialer), History: history})

	// Not in the registry, but persisted by a previous run.
	rec, err := svc.GetCall("old-call")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusCompleted, rec.Status)

	_, err = svc.GetCall("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecoverAbandonedCallsFailsMidDialRecords(t *testing.T) {
	history := &fakeHistory{byStatus: map[domain.CallStatus][]*domain.CallRecord{
		domain.CallStatusConnecting: {{CallID: "c1", Status: domain.CallStatusConnecting}},
		domain.CallStatusDialing:    {{CallID: "c2", Status: domain.CallStatusDialing}},
	}}
	audit := &fakeAudit{}
	svc := NewService(Options{Dialer: new(mockDialer), History: history, Audit: audit})

	recovered := svc.RecoverAbandonedCalls(context.Background())
	assert.Equal(t, 2, recovered)

	require.Len(t, audit.upserts, 2)
	for _, rec := range audit.upserts {
		assert.Equal(t, domain.CallStatusFailed, rec.Status)
		require.NotEmpty(t, rec.History)
		assert.Equal(t, domain.EventFailed, rec.History[len(rec.History)-1].Kind)
	}
}
