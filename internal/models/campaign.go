package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CampaignStatus represents valid campaign statuses
type CampaignStatus string

const (
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusInactive  CampaignStatus = "inactive"
)

// DefaultMaxSendsPerHour is applied when a campaign is created without a rate
const DefaultMaxSendsPerHour = 200

// Campaign is an auto-DM rule bound to one post of one connected account
type Campaign struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	ConnectionID    uuid.UUID      `json:"ig_connection_id" db:"ig_connection_id"`
	Name            string         `json:"name" db:"name"`
	MediaID         string         `json:"media_id" db:"media_id"`
	MessageTemplate string         `json:"message_template" db:"message_template"`
	Status          CampaignStatus `json:"status" db:"status"`
	MaxSendsPerHour int            `json:"max_sends_per_hour" db:"max_sends_per_hour"`
	TotalSent       int            `json:"total_sent" db:"total_sent"`
	TotalFailed     int            `json:"total_failed" db:"total_failed"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// CampaignStats is the reporting view of a campaign
type CampaignStats struct {
	TotalSent   int            `json:"total_sent"`
	TotalFailed int            `json:"total_failed"`
	SuccessRate float64        `json:"success_rate"`
	Last24h     DispatchCounts `json:"last_24h"`
	CanSendMore bool           `json:"can_send_more"`
	Status      CampaignStatus `json:"status"`
}

// DispatchCounts groups dispatch log rows by status
type DispatchCounts struct {
	Total   int `json:"total" db:"total"`
	Sent    int `json:"sent" db:"sent"`
	Failed  int `json:"failed" db:"failed"`
	Pending int `json:"pending" db:"pending"`
	Skipped int `json:"skipped" db:"skipped"`
}

// Validate checks if the campaign fields are valid
func (c *Campaign) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("campaign name is required")
	}
	if c.MediaID == "" {
		return fmt.Errorf("media_id is required")
	}
	if c.MessageTemplate == "" {
		return fmt.Errorf("message_template is required")
	}
	if c.MaxSendsPerHour <= 0 {
		return fmt.Errorf("max_sends_per_hour must be greater than 0")
	}
	return nil
}

// IsActive reports whether the campaign reacts to new comments
func (c *Campaign) IsActive() bool {
	return c.Status == CampaignStatusActive
}

// RenderMessage returns the outgoing DM text. Templates are sent verbatim.
func (c *Campaign) RenderMessage() string {
	return c.MessageTemplate
}

// SuccessRate returns sent / (sent + failed) as a percentage
func (c *Campaign) SuccessRate() float64 {
	attempts := c.TotalSent + c.TotalFailed
	if attempts == 0 {
		return 0
	}
	return float64(c.TotalSent) / float64(attempts) * 100
}
