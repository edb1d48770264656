package models

import "encoding/json"

// WebhookObjectInstagram is the only envelope object type processed
const WebhookObjectInstagram = "instagram"

// Webhook change fields
const (
	WebhookFieldComments           = "comments"
	WebhookFieldMentions           = "mentions"
	WebhookFieldMessages           = "messages"
	WebhookFieldMessagingPostbacks = "messaging_postbacks"
)

// WebhookEnvelope is the outer body of a platform webhook delivery
type WebhookEnvelope struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry groups the changes of one account
type WebhookEntry struct {
	ID      string          `json:"id"`
	Time    int64           `json:"time"`
	Changes []WebhookChange `json:"changes"`
}

// WebhookChange is one field change notification
type WebhookChange struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// CommentValue is the value of a "comments" change
type CommentValue struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	ParentID string `json:"parent_id,omitempty"`
	From     struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
	Media struct {
		ID               string `json:"id"`
		MediaProductType string `json:"media_product_type,omitempty"`
	} `json:"media"`
}

// CommentEvent is a validated inbound comment
type CommentEvent struct {
	CommentID         string
	Text              string
	CommenterID       string
	CommenterUsername string
	MediaID           string
	EntryID           string
	Time              int64
	Raw               json.RawMessage
}
