package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"commentflow/internal/metrics"
)

// Error codes used when the platform gave no structured error
const (
	CodeTimeout      = "timeout"
	CodeNetworkError = "network_error"
	CodeHTTPError    = "http_error"
)

// APIError is a failed Graph API call
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("graph api %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("graph api error (status %d, code %s): %s", e.StatusCode, e.Code, e.Message)
}

// SendResult is the platform response to a sent message
type SendResult struct {
	RecipientID string          `json:"recipient_id"`
	MessageID   string          `json:"message_id"`
	Raw         json.RawMessage `json:"-"`
}

// Client talks to the Graph API messaging and comment moderation endpoints
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client rooted at the versioned Graph URL, e.g. https://graph.instagram.com/v24.0
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SendPrivateReply sends a DM to the author of a comment
func (c *Client) SendPrivateReply(ctx context.Context, accountID, commentID, text, token string) (*SendResult, error) {
	payload := map[string]interface{}{
		"recipient": map[string]string{"comment_id": commentID},
		"message":   map[string]string{"text": text},
	}
	return c.sendMessage(ctx, "send_private_reply", accountID, payload, token)
}

// SendDirectMessage sends a DM to a user id
func (c *Client) SendDirectMessage(ctx context.Context, accountID, userID, text, token string) (*SendResult, error) {
	payload := map[string]interface{}{
		"recipient": map[string]string{"id": userID},
		"message":   map[string]string{"text": text},
	}
	return c.sendMessage(ctx, "send_direct_message", accountID, payload, token)
}

// HideComment hides a comment from public view
func (c *Client) HideComment(ctx context.Context, commentID, token string) (json.RawMessage, error) {
	return c.do(ctx, "hide_comment", http.MethodPost, "/"+url.PathEscape(commentID)+"?hide=true", nil, token)
}

// UnhideComment makes a hidden comment visible again
func (c *Client) UnhideComment(ctx context.Context, commentID, token string) (json.RawMessage, error) {
	return c.do(ctx, "unhide_comment", http.MethodPost, "/"+url.PathEscape(commentID)+"?hide=false", nil, token)
}

// DeleteComment removes a comment
func (c *Client) DeleteComment(ctx context.Context, commentID, token string) (json.RawMessage, error) {
	return c.do(ctx, "delete_comment", http.MethodDelete, "/"+url.PathEscape(commentID), nil, token)
}

func (c *Client) sendMessage(ctx context.Context, operation, accountID string, payload interface{}, token string) (*SendResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message payload: %w", err)
	}

	raw, err := c.do(ctx, operation, http.MethodPost, "/"+url.PathEscape(accountID)+"/messages", body, token)
	if err != nil {
		return nil, err
	}

	result := &SendResult{Raw: raw}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return nil, &APIError{StatusCode: http.StatusOK, Code: CodeHTTPError, Message: "unreadable response body", Body: raw}
		}
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body []byte, token string) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.GatewayDuration.WithLabelValues(operation, "error").Observe(time.Since(start).Seconds())
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	metrics.GatewayDuration.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, transportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseAPIError(resp.StatusCode, respBody)
	}

	return json.RawMessage(respBody), nil
}

// parseAPIError extracts {error:{message, code}} when present
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: status,
		Code:       CodeHTTPError,
		Message:    http.StatusText(status),
		Body:       body,
	}

	var envelope struct {
		Error struct {
			Message string      `json:"message"`
			Code    interface{} `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error.Message != "" {
			apiErr.Message = envelope.Error.Message
		}
		switch code := envelope.Error.Code.(type) {
		case float64:
			apiErr.Code = strconv.FormatInt(int64(code), 10)
		case string:
			if code != "" {
				apiErr.Code = code
			}
		}
	}

	return apiErr
}

func transportError(err error) *APIError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &APIError{Code: CodeTimeout, Message: err.Error()}
	}
	return &APIError{Code: CodeNetworkError, Message: err.Error()}
}
