package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ClareAI/astra-dialout-service/internal/adapters/livekit"
	"github.com/ClareAI/astra-dialout-service/internal/domain"
	"github.com/ClareAI/astra-dialout-service/internal/services/orchestrator"
	"github.com/ClareAI/astra-dialout-service/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RecordingLinker mints short-lived download links for archived recordings
type RecordingLinker interface {
	PresignedURL(publicURL string, expiresAt time.Time) (string, error)
}

// CallHandler exposes single-call operations over HTTP
type CallHandler struct {
	service    *orchestrator.Service
	rooms      *livekit.RoomManager
	recordings RecordingLinker
}

func NewCallHandler(service *orchestrator.Service, rooms *livekit.RoomManager, recordings RecordingLinker) *CallHandler {
	return &CallHandler{service: service, rooms: rooms, recordings: recordings}
}

func (h *CallHandler) SetupCallRoutes(router *mux.Router) {
	router.HandleFunc("/call", h.HandleStartCall).Methods("POST")
	router.HandleFunc("/call/{call_id}", h.HandleGetCall).Methods("GET")
	router.HandleFunc("/call/{call_id}/recording", h.HandleGetRecording).Methods("GET")
	router.HandleFunc("/calls", h.HandleListCalls).Methods("GET")
	if h.rooms != nil {
		router.HandleFunc("/call/{call_id}/token", h.HandleCallToken).Methods("GET")
	}
}

// HandleStartCall places one outbound call
func (h *CallHandler) HandleStartCall(w http.ResponseWriter, r *http.Request) {
	var req domain.CallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PhoneNumber == "" {
		http.Error(w, "phone_number is required", http.StatusBadRequest)
		return
	}

	rec, err := h.service.StartCall(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Base().Error("Failed to start call", zap.String("phone_number", req.PhoneNumber), zap.Error(err))
		// The dial failed but the record exists; return it so the caller can
		// track the failed attempt.
		if rec != nil {
			writeJSON(w, http.StatusBadGateway, rec)
			return
		}
		http.Error(w, "Failed to start call", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// HandleGetCall returns the current snapshot of one call
func (h *CallHandler) HandleGetCall(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["call_id"]

	rec, err := h.service.GetCall(callID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "Call not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get call", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// HandleListCalls returns all calls in creation order
func (h *CallHandler) HandleListCalls(w http.ResponseWriter, r *http.Request) {
	calls := h.service.ListCalls()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total": len(calls),
		"calls": calls,
	})
}

// HandleGetRecording redirects to the call's recording. Archived recordings
// get a short-lived presigned link; carrier-hosted ones redirect as-is.
func (h *CallHandler) HandleGetRecording(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["call_id"]

	rec, err := h.service.GetCall(callID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "Call not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get call", http.StatusInternalServerError)
		return
	}
	if rec.RecordingURL == "" {
		http.Error(w, "Call has no recording", http.StatusNotFound)
		return
	}

	target := rec.RecordingURL
	if h.recordings != nil {
		if signed, err := h.recordings.PresignedURL(rec.RecordingURL, time.Now().Add(1*time.Hour)); err == nil {
			target = signed
		}
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleCallToken issues a LiveKit access token for joining the call's media
// room. The voice agent uses it to enter the room the phone leg is bridged
// into.
func (h *CallHandler) HandleCallToken(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["call_id"]

	rec, err := h.service.GetCall(callID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "Call not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get call", http.StatusInternalServerError)
		return
	}
	if rec.RoomName == "" {
		http.Error(w, "Call has no media room", http.StatusConflict)
		return
	}

	identity := r.URL.Query().Get("identity")
	if identity == "" {
		identity = "voice_agent"
	}

	token, err := h.rooms.GenerateToken(rec.RoomName, identity)
	if err != nil {
		logger.Base().Error("Failed to generate room token", zap.String("call_id", callID), zap.Error(err))
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"room_name": rec.RoomName,
		"identity":  identity,
		"token":     token,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
