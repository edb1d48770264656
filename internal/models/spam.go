package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// SpamFilterStatus represents valid spam filter statuses
type SpamFilterStatus string

const (
	SpamFilterStatusActive   SpamFilterStatus = "active"
	SpamFilterStatusInactive SpamFilterStatus = "inactive"
)

// SpamLogStatus represents valid spam log statuses
type SpamLogStatus string

const (
	SpamLogStatusDetected SpamLogStatus = "detected"
	SpamLogStatusHidden   SpamLogStatus = "hidden"
	SpamLogStatusFailed   SpamLogStatus = "failed"
)

// MaxSpamKeywords caps the keyword list of one filter
const MaxSpamKeywords = 100

// DefaultSpamKeywords seeds new filters and backs up empty keyword lists
var DefaultSpamKeywords = []string{"아이돌", "주소창", "사건", "원본영상", "실시간검색"}

// SpamFilterConfig is the per-connection spam rule set
type SpamFilterConfig struct {
	ID                uuid.UUID        `json:"id" db:"id"`
	ConnectionID      uuid.UUID        `json:"ig_connection_id" db:"ig_connection_id"`
	Status            SpamFilterStatus `json:"status" db:"status"`
	SpamKeywords      pq.StringArray   `json:"spam_keywords" db:"spam_keywords"`
	BlockURLs         bool             `json:"block_urls" db:"block_urls"`
	TotalSpamDetected int              `json:"total_spam_detected" db:"total_spam_detected"`
	TotalHidden       int              `json:"total_hidden" db:"total_hidden"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the filter should run
func (c *SpamFilterConfig) IsActive() bool {
	return c.Status == SpamFilterStatusActive
}

// EffectiveKeywords returns the configured keywords or the defaults when none are set
func (c *SpamFilterConfig) EffectiveKeywords() []string {
	if len(c.SpamKeywords) == 0 {
		return DefaultSpamKeywords
	}
	return c.SpamKeywords
}

// SpamLog records one comment flagged as spam
type SpamLog struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	SpamFilterID      uuid.UUID       `json:"spam_filter_id" db:"spam_filter_id"`
	CommentID         string          `json:"comment_id" db:"comment_id"`
	CommentText       string          `json:"comment_text" db:"comment_text"`
	CommenterUserID   string          `json:"commenter_user_id" db:"commenter_user_id"`
	CommenterUsername string          `json:"commenter_username" db:"commenter_username"`
	MediaID           string          `json:"media_id" db:"media_id"`
	Reasons           pq.StringArray  `json:"reasons" db:"reasons"`
	Status            SpamLogStatus   `json:"status" db:"status"`
	ErrorMessage      *string         `json:"error_message,omitempty" db:"error_message"`
	WebhookPayload    json.RawMessage `json:"-" db:"webhook_payload"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	HiddenAt          *time.Time      `json:"hidden_at,omitempty" db:"hidden_at"`
}
