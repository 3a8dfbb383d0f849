package domain

import (
	"time"
)

// Recipient is one entry of a bulk calling campaign
type Recipient struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Company     string `json:"company,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// CampaignRecord groups the calls of one bulk job. It owns the ordering of
// its call IDs but not the records themselves; terminal counts are derived
// on demand from the registry.
type CampaignRecord struct {
	CampaignID   string     `json:"campaign_id"`
	CallIDs      []string   `json:"call_ids"`
	DelaySeconds int        `json:"delay_seconds"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	TotalPlanned int        `json:"total_planned"`
}

// CampaignSummary aggregates campaign progress at a point in time
type CampaignSummary struct {
	CampaignID   string             `json:"campaign_id"`
	Attempted    int                `json:"attempted"`
	StatusCounts map[CallStatus]int `json:"status_breakdown"`
	Successful   int                `json:"successful"`
	SuccessRate  float64            `json:"success_rate"`
	DialFailures int                `json:"dial_failures"`
	GeneratedAt  time.Time          `json:"generated_at"`
}
