package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ClareAI/astra-dialout-service/internal/campaign"
	"github.com/ClareAI/astra-dialout-service/internal/domain"
	"github.com/gorilla/mux"
)

// CampaignHandler exposes bulk campaign operations over HTTP
type CampaignHandler struct {
	coordinator  *campaign.Coordinator
	defaultDelay time.Duration
}

func NewCampaignHandler(coordinator *campaign.Coordinator, defaultDelay time.Duration) *CampaignHandler {
	return &CampaignHandler{coordinator: coordinator, defaultDelay: defaultDelay}
}

func (h *CampaignHandler) SetupCampaignRoutes(router *mux.Router) {
	router.HandleFunc("/campaigns", h.HandleStartCampaign).Methods("POST")
	router.HandleFunc("/campaigns", h.HandleListCampaigns).Methods("GET")
	router.HandleFunc("/campaigns/{campaign_id}", h.HandleGetCampaign).Methods("GET")
	router.HandleFunc("/campaigns/{campaign_id}/cancel", h.HandleCancelCampaign).Methods("POST")
}

// StartCampaignRequest is the payload for launching a bulk campaign
type StartCampaignRequest struct {
	Recipients   []domain.Recipient `json:"recipients"`
	DelaySeconds int                `json:"delay_seconds,omitempty"`
}

// HandleStartCampaign launches a paced bulk campaign
func (h *CampaignHandler) HandleStartCampaign(w http.ResponseWriter, r *http.Request) {
	var req StartCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	delay := h.defaultDelay
	if req.DelaySeconds > 0 {
		delay = time.Duration(req.DelaySeconds) * time.Second
	}

	rec, err := h.coordinator.Start(req.Recipients, delay)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "Failed to start campaign", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, rec)
}

// HandleGetCampaign returns the campaign record plus its live summary
func (h *CampaignHandler) HandleGetCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := mux.Vars(r)["campaign_id"]

	rec, err := h.coordinator.Get(campaignID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "Campaign not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get campaign", http.StatusInternalServerError)
		return
	}

	summary, err := h.coordinator.Summary(campaignID)
	if err != nil {
		http.Error(w, "Failed to summarize campaign", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign": rec,
		"summary":  summary,
	})
}

// HandleCancelCampaign stops future originations; in-flight calls finish
func (h *CampaignHandler) HandleCancelCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := mux.Vars(r)["campaign_id"]

	rec, err := h.coordinator.Cancel(campaignID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "Campaign not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to cancel campaign", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// HandleListCampaigns returns all known campaigns
func (h *CampaignHandler) HandleListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns := h.coordinator.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":     len(campaigns),
		"campaigns": campaigns,
	})
}
