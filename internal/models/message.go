package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DispatchStatus represents valid dispatch log statuses
type DispatchStatus string

const (
	DispatchStatusPending DispatchStatus = "pending"
	DispatchStatusSent    DispatchStatus = "sent"
	DispatchStatusFailed  DispatchStatus = "failed"
	DispatchStatusSkipped DispatchStatus = "skipped"
)

// DispatchLog records one DM attempt for one comment under one campaign
type DispatchLog struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	CampaignID        uuid.UUID       `json:"campaign_id" db:"campaign_id"`
	CommentID         string          `json:"comment_id" db:"comment_id"`
	RecipientUserID   string          `json:"recipient_user_id" db:"recipient_user_id"`
	RecipientUsername string          `json:"recipient_username" db:"recipient_username"`
	CommentText       string          `json:"comment_text" db:"comment_text"`
	MessageSent       string          `json:"message_sent" db:"message_sent"`
	Status            DispatchStatus  `json:"status" db:"status"`
	ErrorCode         *string         `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage      *string         `json:"error_message,omitempty" db:"error_message"`
	APIResponse       json.RawMessage `json:"api_response,omitempty" db:"api_response"`
	SentAt            *time.Time      `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// IsTerminal reports whether the log can no longer change state
func (l *DispatchLog) IsTerminal() bool {
	return l.Status != DispatchStatusPending
}

// JSONDocument returns raw when it is a JSON document. Anything else, such as an
// HTML error page from a proxy, is wrapped as {"raw": "<text>"} so it can be
// stored in a jsonb column. Empty input stays empty.
func JSONDocument(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return json.RawMessage(raw)
	}
	wrapped, err := json.Marshal(map[string]string{"raw": string(raw)})
	if err != nil {
		return nil
	}
	return wrapped
}
