package registry

import (
	"testing"
	"time"

	"github.com/ClareAI/astra-dialout-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequest() domain.CallRequest {
	return domain.CallRequest{
		PhoneNumber:     "+1234567890",
		CustomerName:    "John Doe",
		AppointmentDate: "2024-01-15",
		AppointmentTime: "2:00 PM",
	}
}

func TestCreateThenGet(t *testing.T) {
	r := New()

	rec := r.Create(newTestRequest())
	require.NotEmpty(t, rec.CallID)

	got, err := r.Get(rec.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusInitiated, got.Status)
	require.Len(t, got.History, 1)
	assert.Equal(t, domain.EventInitiated, got.History[0].Kind)
	assert.Equal(t, "+1234567890", got.Request.PhoneNumber)
}

func TestGetUnknownCallID(t *testing.T) {
	r := New()
	_, err := r.Get("nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListInsertionOrder(t *testing.T) {
	r := New()
	a := r.Create(domain.CallRequest{PhoneNumber: "+15550000001"})
	b := r.Create(domain.CallRequest{PhoneNumber: "+15550000002"})
	c := r.Create(domain.CallRequest{PhoneNumber: "+15550000003"})

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, a.CallID, list[0].CallID)
	assert.Equal(t, b.CallID, list[1].CallID)
	assert.Equal(t, c.CallID, list[2].CallID)
}

func TestFullLifecycle(t *testing.T) {
	r := New()
	rec := r.Create(newTestRequest())

	require.NoError(t, r.BindCarrierReference(rec.CallID, "CA123", "call-"+rec.CallID))

	id, ok := r.ResolveCarrierReference("CA123")
	require.True(t, ok)
	assert.Equal(t, rec.CallID, id)

	steps := []struct {
		kind domain.EventKind
		want domain.CallStatus
	}{
		{domain.EventInitiated, domain.CallStatusConnecting},
		{domain.EventRinging, domain.CallStatusDialing},
		{domain.EventAnswered, domain.CallStatusConnected},
		{domain.EventCompleted, domain.CallStatusCompleted},
	}
	for _, step := range steps {
		got, err := r.ApplyEvent(rec.CallID, domain.CallEvent{Kind: step.kind, CarrierReference: "CA123"})
		require.NoError(t, err)
		assert.Equal(t, step.want, got.Status)
	}

	final, err := r.Get(rec.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusCompleted, final.Status)
	// creation + 4 applied events
	assert.Len(t, final.History, 5)
}

func TestTerminalReplayIsIdempotent(t *testing.T) {
	r := New()
	rec := r.Create(newTestRequest())
	require.NoError(t, r.BindCarrierReference(rec.CallID, "CA200", ""))

	for _, k := range []domain.EventKind{domain.EventInitiated, domain.EventRinging, domain.EventAnswered, domain.EventCompleted} {
		_, err := r.ApplyEvent(rec.CallID, domain.CallEvent{Kind: k, CarrierReference: "CA200"})
		require.NoError(t, err)
	}

	before, _ := r.Get(rec.CallID)
	replayed, err := r.ApplyEvent(rec.CallID, domain.CallEvent{Kind: domain.EventCompleted, CarrierReference: "CA200"})
	require.NoError(t, err)

	assert.Equal(t, domain.CallStatusCompleted, replayed.Status)
	assert.Len(t, replayed.History, len(before.History)+1)
}

func TestLateEventDoesNotRegress(t *testing.T) {
	r := New()
	rec := r.Create(newTestRequest())
	require.NoError(t, r.BindCarrierReference(rec.CallID, "CA300", ""))

	_, err := r.ApplyEvent(rec.CallID, domain.CallEvent{Kind: domain.EventAnswered})
	require.NoError(t, err)

	// A delayed `ringing` arriving after `connected` is audit-only.
	got, err := r.ApplyEvent(rec.CallID, domain.CallEvent{Kind: domain.EventRinging})
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusConnected, got.Status)
	assert.Equal(t, domain.EventRinging, got.History[len(got.History)-1].Kind)
}

func TestCarrierReferenceConflict(t *testing.T) {
	r := New()
	rec := r.Create(newTestRequest())
	require.NoError(t, r.BindCarrierReference(rec.CallID, "CA400", ""))

	err := r.BindCarrierReference(rec.CallID, "CA999", "")
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = r.ApplyEvent(rec.CallID, domain.CallEvent{Kind: domain.EventRinging, CarrierReference: "CA999"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, _ := r.Get(rec.CallID)
	assert.Equal(t, "CA400", got.CarrierReference)
	assert.Equal(t, domain.CallStatusInitiated, got.Status)

	// The rejection is still visible in the audit trail.
	last := got.History[len(got.History)-1]
	assert.Equal(t, domain.EventRinging, last.Kind)
	assert.Contains(t, last.Note, "CA999")
}

func TestEventBindsReferenceFirstWins(t *testing.T) {
	r := New()
	rec := r.Create(newTestRequest())

	// First webhook wins the binding when the dial response never did.
	_, err := r.ApplyEvent(rec.CallID, domain.CallEvent{Kind: domain.EventRinging, CarrierReference: "CA500"})
	require.NoError(t, err)

	got, _ := r.Get(rec.CallID)
	assert.Equal(t, "CA500", got.CarrierReference)

	id, ok := r.ResolveCarrierReference("CA500")
	require.True(t, ok)
	assert.Equal(t, rec.CallID, id)
}

func TestRecordingAttachment(t *testing.T) {
	r := New()
	rec := r.Create(newTestRequest())
	_, err := r.ApplyEvent(rec.CallID, domain.CallEvent{Kind: domain.EventAnswered})
	require.NoError(t, err)

	got, err := r.ApplyEvent(rec.CallID, domain.CallEvent{
		Kind:         domain.EventRecordingAvailable,
		RecordingURL: "https://api.twilio.com/recordings/RE1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusConnected, got.Status)
	assert.Equal(t, "https://api.twilio.com/recordings/RE1", got.RecordingURL)
}

func TestStaleCalls(t *testing.T) {
	r := New()
	stuck := r.Create(newTestRequest())
	fresh := r.Create(newTestRequest())

	_, err := r.ApplyEvent(stuck.CallID, domain.CallEvent{Kind: domain.EventInitiated})
	require.NoError(t, err)
	_, err = r.ApplyEvent(fresh.CallID, domain.CallEvent{Kind: domain.EventAnswered})
	require.NoError(t, err)

	// Backdate the stuck record's last update.
	e := r.lookup(stuck.CallID)
	e.mu.Lock()
	e.record.UpdatedAt = time.Now().Add(-10 * time.Minute)
	e.mu.Unlock()

	stale := r.StaleCalls(5 * time.Minute)
	require.Len(t, stale, 1)
	assert.Equal(t, stuck.CallID, stale[0])
}

func TestOnTransitionFiresForTerminal(t *testing.T) {
	r := New()
	var terminal []domain.CallStatus
	r.OnTransition = func(rec *domain.CallRecord, ev domain.CallEvent) {
		if rec.Status.IsTerminal() {
			terminal = append(terminal, rec.Status)
		}
	}

	rec := r.Create(newTestRequest())
	_, err := r.ApplyEvent(rec.CallID, domain.CallEvent{Kind: domain.EventBusy})
	require.NoError(t, err)

	require.Len(t, terminal, 1)
	assert.Equal(t, domain.CallStatusFailed, terminal[0])
}
