package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/ClareAI/astra-dialout-service/internal/adapters/livekit"
	"github.com/ClareAI/astra-dialout-service/internal/campaign"
	"github.com/ClareAI/astra-dialout-service/internal/config"
	"github.com/ClareAI/astra-dialout-service/internal/core/event"
	"github.com/ClareAI/astra-dialout-service/internal/repository"
	"github.com/ClareAI/astra-dialout-service/internal/services/orchestrator"
	"github.com/gorilla/mux"
)

// HandlerManager wires all HTTP handlers onto one router
type HandlerManager struct {
	cfg         *config.Config
	service     *orchestrator.Service
	coordinator *campaign.Coordinator
	rooms       *livekit.RoomManager
	recordings  RecordingLinker
	repoManager repository.RepositoryManager
	events      event.Bus
}

func NewHandlerManager(cfg *config.Config, service *orchestrator.Service, coordinator *campaign.Coordinator, rooms *livekit.RoomManager, recordings RecordingLinker, repoManager repository.RepositoryManager, events event.Bus) *HandlerManager {
	return &HandlerManager{
		cfg:         cfg,
		service:     service,
		coordinator: coordinator,
		rooms:       rooms,
		recordings:  recordings,
		repoManager: repoManager,
		events:      events,
	}
}

// SetupRoutes registers every route and the shared middleware
func (m *HandlerManager) SetupRoutes(router *mux.Router) {
	router.Use(LoggingMiddleware)
	if m.cfg.EnableCORS {
		router.Use(CORSMiddleware)
	}

	NewCallHandler(m.service, m.rooms, m.recordings).SetupCallRoutes(router)
	NewCampaignHandler(m.coordinator, m.cfg.DefaultCampaignDelay).SetupCampaignRoutes(router)
	NewWebhookHandler(m.service).SetupWebhookRoutes(router)

	router.HandleFunc("/health", m.HandleHealth).Methods("GET")
}

// HandleHealth reports service liveness plus the state its dependencies are in
func (m *HandlerManager) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":       "healthy",
		"active_calls": len(m.service.ListCalls()),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}

	if m.repoManager != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := m.repoManager.Ping(ctx); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
		} else {
			status["database"] = "ok"
		}
	}
	if m.events != nil {
		stats := m.events.Stats()
		status["events_published"] = stats.TotalEvents
	}
	if m.rooms != nil {
		status["active_rooms"] = m.rooms.GetRoomCount()
	}

	code := http.StatusOK
	if status["status"] != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
