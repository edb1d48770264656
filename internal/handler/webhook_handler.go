package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"commentflow/internal/metrics"
	"commentflow/internal/models"
	"commentflow/internal/queue"
)

const (
	maxWebhookBody  = 1 << 20
	signatureHeader = "X-Hub-Signature-256"
	eventReceived   = "EVENT_RECEIVED"
)

// EventPublisher enqueues accepted webhook bodies
type EventPublisher interface {
	PublishEvent(ctx context.Context, payload []byte) (*queue.EventJob, error)
}

// WebhookHandler receives platform webhooks
type WebhookHandler struct {
	publisher   EventPublisher
	verifyToken string
	appSecret   string
	log         *zap.SugaredLogger
}

// NewWebhookHandler creates a webhook handler. An empty appSecret disables signature checks.
func NewWebhookHandler(publisher EventPublisher, verifyToken, appSecret string, log *zap.SugaredLogger) *WebhookHandler {
	return &WebhookHandler{
		publisher:   publisher,
		verifyToken: verifyToken,
		appSecret:   appSecret,
		log:         log,
	}
}

// Verify handles GET hub verification
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := query.Get("hub.mode")
	token := query.Get("hub.verify_token")
	challenge := query.Get("hub.challenge")

	if mode != "subscribe" || !hmac.Equal([]byte(token), []byte(h.verifyToken)) {
		h.log.Warnw("webhook verification rejected", "mode", mode)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

// Receive handles POST event delivery. Processing happens asynchronously; the
// response never reflects business outcomes.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		metrics.WebhookEventsReceived.WithLabelValues("unreadable").Inc()
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if h.appSecret != "" && !validSignature(h.appSecret, r.Header.Get(signatureHeader), body) {
		metrics.WebhookEventsReceived.WithLabelValues("bad_signature").Inc()
		h.log.Warnw("webhook signature mismatch")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var envelope models.WebhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		metrics.WebhookEventsReceived.WithLabelValues("invalid_json").Inc()
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if envelope.Object != models.WebhookObjectInstagram {
		metrics.WebhookEventsReceived.WithLabelValues("ignored").Inc()
		h.log.Infow("ignoring webhook for unsupported object", "object", envelope.Object)
		writeEventReceived(w)
		return
	}

	job, err := h.publisher.PublishEvent(r.Context(), body)
	if err != nil {
		// non-2xx makes the platform redeliver
		metrics.WebhookEventsReceived.WithLabelValues("enqueue_failed").Inc()
		h.log.Errorw("failed to enqueue webhook event", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	metrics.WebhookEventsReceived.WithLabelValues("queued").Inc()
	h.log.Debugw("webhook event queued", "job_id", job.ID, "entries", len(envelope.Entry))
	writeEventReceived(w)
}

func writeEventReceived(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, eventReceived)
}

// validSignature checks "sha256=<hex hmac of body>"
func validSignature(secret, header string, body []byte) bool {
	digest, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	expected, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
