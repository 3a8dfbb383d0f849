package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ClareAI/astra-dialout-service/internal/domain"
	"github.com/ClareAI/astra-dialout-service/internal/services/orchestrator"
	"github.com/ClareAI/astra-dialout-service/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// WebhookHandler normalizes Twilio callbacks into lifecycle events
type WebhookHandler struct {
	service *orchestrator.Service
}

func NewWebhookHandler(service *orchestrator.Service) *WebhookHandler {
	return &WebhookHandler{service: service}
}

func (h *WebhookHandler) SetupWebhookRoutes(router *mux.Router) {
	router.HandleFunc("/webhook/call-status", h.HandleCallStatus).Methods("POST")
	router.HandleFunc("/webhook/recording-status", h.HandleRecordingStatus).Methods("POST")
	router.HandleFunc("/twiml/outbound", h.HandleOutboundTwiML).Methods("GET", "POST")
}

// HandleCallStatus receives Twilio call-status callbacks (form-encoded)
func (h *WebhookHandler) HandleCallStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form body", http.StatusBadRequest)
		return
	}

	callSid := r.PostFormValue("CallSid")
	callStatus := r.PostFormValue("CallStatus")
	answeredBy := r.PostFormValue("AnsweredBy")

	logger.Base().Info("Carrier status callback",
		zap.String("carrier_reference", callSid),
		zap.String("carrier_status", callStatus),
		zap.String("answered_by", answeredBy))

	ev, ok := normalizeCallStatus(callStatus, answeredBy)
	if !ok {
		// Unknown statuses are acknowledged and dropped so the carrier does
		// not retry them.
		h.sendOKResponse(w)
		return
	}
	ev.CarrierReference = callSid
	ev.Timestamp = time.Now()

	if _, err := h.service.HandleCarrierEvent(r.Context(), ev); err != nil {
		switch {
		case errors.Is(err, domain.ErrUnmatchedEvent):
			http.Error(w, "Unknown call reference", http.StatusNotFound)
		case errors.Is(err, domain.ErrConflict):
			http.Error(w, "Conflicting call reference", http.StatusConflict)
		default:
			logger.Base().Error("Failed to apply carrier event",
				zap.String("carrier_reference", callSid), zap.Error(err))
			http.Error(w, "Failed to apply event", http.StatusInternalServerError)
		}
		return
	}

	h.sendOKResponse(w)
}

// HandleRecordingStatus receives Twilio recording-status callbacks
func (h *WebhookHandler) HandleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form body", http.StatusBadRequest)
		return
	}

	callSid := r.PostFormValue("CallSid")
	recordingSid := r.PostFormValue("RecordingSid")
	recordingURL := r.PostFormValue("RecordingUrl")
	recordingStatus := r.PostFormValue("RecordingStatus")

	if recordingStatus != "completed" || recordingURL == "" {
		h.sendOKResponse(w)
		return
	}

	if _, err := h.service.HandleRecording(r.Context(), callSid, recordingSid, recordingURL); err != nil {
		if errors.Is(err, domain.ErrUnmatchedEvent) {
			http.Error(w, "Unknown call reference", http.StatusNotFound)
			return
		}
		logger.Base().Error("Failed to handle recording",
			zap.String("carrier_reference", callSid), zap.Error(err))
		http.Error(w, "Failed to handle recording", http.StatusInternalServerError)
		return
	}

	h.sendOKResponse(w)
}

// HandleOutboundTwiML serves the call instructions Twilio fetches when the
// dial leg is answered. The audio bridge into the media room rides the SIP
// trunk; the TwiML just keeps the leg open.
func (h *WebhookHandler) HandleOutboundTwiML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
	<Say voice="alice">Please hold while we connect you.</Say>
	<Pause length="300"/>
</Response>`))
}

func (h *WebhookHandler) sendOKResponse(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}

// normalizeCallStatus maps Twilio's CallStatus vocabulary onto lifecycle
// events. Machine-answered calls count as failed; a human never joined.
func normalizeCallStatus(callStatus, answeredBy string) (domain.CallEvent, bool) {
	switch callStatus {
	case "queued", "initiated":
		return domain.CallEvent{Kind: domain.EventInitiated}, true
	case "ringing":
		return domain.CallEvent{Kind: domain.EventRinging}, true
	case "in-progress", "answered":
		if strings.HasPrefix(answeredBy, "machine") {
			return domain.CallEvent{Kind: domain.EventFailed, Reason: "answering machine detected"}, true
		}
		return domain.CallEvent{Kind: domain.EventAnswered}, true
	case "completed":
		return domain.CallEvent{Kind: domain.EventCompleted}, true
	case "busy":
		return domain.CallEvent{Kind: domain.EventBusy, Reason: "busy signal"}, true
	case "no-answer":
		return domain.CallEvent{Kind: domain.EventNoAnswer, Reason: "no answer"}, true
	case "failed", "canceled":
		return domain.CallEvent{Kind: domain.EventFailed, Reason: "carrier reported " + callStatus}, true
	}
	return domain.CallEvent{}, false
}
