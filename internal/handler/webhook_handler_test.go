package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ClareAI/astra-dialout-service/internal/domain"
	"github.com/ClareAI/astra-dialout-service/internal/services/orchestrator"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *orchestrator.Service {
	return orchestrator.NewService(orchestrator.Options{
		Dialer: orchestrator.DialerFunc(func(_ context.Context, callID string, _ domain.CallRequest) (*domain.DialResult, error) {
			return &domain.DialResult{CarrierReference: "CA-" + callID, RoomName: "call-" + callID}, nil
		}),
	})
}

func postForm(t *testing.T, router *mux.Router, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandleCallStatusLifecycle(t *testing.T) {
	svc := newTestService()
	router := mux.NewRouter()
	NewWebhookHandler(svc).SetupWebhookRoutes(router)

	rec, err := svc.StartCall(context.Background(), domain.CallRequest{PhoneNumber: "+16502530000"})
	require.NoError(t, err)
	ref := rec.CarrierReference

	steps := []struct {
		carrierStatus string
		want          domain.CallStatus
	}{
		{"ringing", domain.CallStatusDialing},
		{"in-progress", domain.CallStatusConnected},
		{"completed", domain.CallStatusCompleted},
	}
	for _, step := range steps {
		rr := postForm(t, router, "/webhook/call-status", url.Values{
			"CallSid":    {ref},
			"CallStatus": {step.carrierStatus},
		})
		require.Equal(t, http.StatusOK, rr.Code, "status %s", step.carrierStatus)

		got, err := svc.GetCall(rec.CallID)
		require.NoError(t, err)
		assert.Equal(t, step.want, got.Status)
	}
}

func TestHandleCallStatusMachineDetection(t *testing.T) {
	svc := newTestService()
	router := mux.NewRouter()
	NewWebhookHandler(svc).SetupWebhookRoutes(router)

	rec, err := svc.StartCall(context.Background(), domain.CallRequest{PhoneNumber: "+16502530000"})
	require.NoError(t, err)

	rr := postForm(t, router, "/webhook/call-status", url.Values{
		"CallSid":    {rec.CarrierReference},
		"CallStatus": {"in-progress"},
		"AnsweredBy": {"machine_start"},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	got, err := svc.GetCall(rec.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusFailed, got.Status)
}

func TestHandleCallStatusUnmatchedReference(t *testing.T) {
	router := mux.NewRouter()
	NewWebhookHandler(newTestService()).SetupWebhookRoutes(router)

	rr := postForm(t, router, "/webhook/call-status", url.Values{
		"CallSid":    {"CA-unknown"},
		"CallStatus": {"ringing"},
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleCallStatusUnknownStatusAcknowledged(t *testing.T) {
	router := mux.NewRouter()
	NewWebhookHandler(newTestService()).SetupWebhookRoutes(router)

	rr := postForm(t, router, "/webhook/call-status", url.Values{
		"CallSid":    {"CA-unknown"},
		"CallStatus": {"something-new"},
	})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleRecordingStatusIgnoresInProgress(t *testing.T) {
	router := mux.NewRouter()
	NewWebhookHandler(newTestService()).SetupWebhookRoutes(router)

	rr := postForm(t, router, "/webhook/recording-status", url.Values{
		"CallSid":         {"CA-unknown"},
		"RecordingSid":    {"RE1"},
		"RecordingUrl":    {"https://api.twilio.com/recordings/RE1"},
		"RecordingStatus": {"in-progress"},
	})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleRecordingStatusAttachesURL(t *testing.T) {
	svc := newTestService()
	router := mux.NewRouter()
	NewWebhookHandler(svc).SetupWebhookRoutes(router)

	rec, err := svc.StartCall(context.Background(), domain.CallRequest{PhoneNumber: "+16502530000"})
	require.NoError(t, err)

	// Recording arrives after the call ends; the terminal replay keeps the
	// status but attaches the URL.
	postForm(t, router, "/webhook/call-status", url.Values{
		"CallSid": {rec.CarrierReference}, "CallStatus": {"in-progress"},
	})
	postForm(t, router, "/webhook/call-status", url.Values{
		"CallSid": {rec.CarrierReference}, "CallStatus": {"completed"},
	})
	rr := postForm(t, router, "/webhook/recording-status", url.Values{
		"CallSid":         {rec.CarrierReference},
		"RecordingSid":    {"RE1"},
		"RecordingUrl":    {"https://api.twilio.com/recordings/RE1"},
		"RecordingStatus": {"completed"},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	got, err := svc.GetCall(rec.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusCompleted, got.Status)
	assert.Equal(t, "https://api.twilio.com/recordings/RE1", got.RecordingURL)
}

func TestNormalizeCallStatus(t *testing.T) {
	tests := []struct {
		carrierStatus string
		answeredBy    string
		wantKind      domain.EventKind
		wantOK        bool
	}{
		{"queued", "", domain.EventInitiated, true},
		{"ringing", "", domain.EventRinging, true},
		{"in-progress", "human", domain.EventAnswered, true},
		{"in-progress", "machine_end_beep", domain.EventFailed, true},
		{"completed", "", domain.EventCompleted, true},
		{"busy", "", domain.EventBusy, true},
		{"no-answer", "", domain.EventNoAnswer, true},
		{"canceled", "", domain.EventFailed, true},
		{"mystery", "", "", false},
	}
	for _, tt := range tests {
		ev, ok := normalizeCallStatus(tt.carrierStatus, tt.answeredBy)
		assert.Equal(t, tt.wantOK, ok, tt.carrierStatus)
		if ok {
			assert.Equal(t, tt.wantKind, ev.Kind, tt.carrierStatus)
		}
	}
}
