package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// IdempotencyHeader names the client supplied idempotency key
const IdempotencyHeader = "X-Idempotency-Key"

// ResponseCache stores replayable responses
type ResponseCache interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Store(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisResponseCache is a ResponseCache on Redis
type RedisResponseCache struct {
	client *redis.Client
}

// NewRedisResponseCache creates a Redis backed response cache
func NewRedisResponseCache(client *redis.Client) *RedisResponseCache {
	return &RedisResponseCache{client: client}
}

// Load returns the cached value, reporting false on a miss
func (c *RedisResponseCache) Load(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Store keeps the first value written under key
func (c *RedisResponseCache) Store(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.SetNX(ctx, key, value, ttl).Err()
}

type cachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *recordingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency replays the stored response of a request that carried the same
// X-Idempotency-Key for the same workspace and user. Only non-5xx responses are stored.
// Cache failures degrade to normal processing.
func Idempotency(cache ResponseCache, ttl time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" || cache == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			cacheKey := fmt.Sprintf("idempotency:%s:%s:%s", mux.Vars(r)["workspace_id"], UserIDFromContext(ctx), key)

			raw, found, err := cache.Load(ctx, cacheKey)
			if err != nil {
				zap.S().Warnw("idempotency cache unavailable", "error", err)
			}
			if found {
				var cached cachedResponse
				if err := json.Unmarshal(raw, &cached); err == nil {
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("Idempotent-Replay", "true")
					w.WriteHeader(cached.Status)
					w.Write(cached.Body)
					return
				}
			}

			rec := &recordingWriter{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rec.status == 0 || rec.status >= http.StatusInternalServerError {
				return
			}

			value, err := json.Marshal(cachedResponse{Status: rec.status, Body: bytes.TrimSpace(rec.body.Bytes())})
			if err != nil {
				return
			}
			if err := cache.Store(ctx, cacheKey, value, ttl); err != nil {
				zap.S().Warnw("failed to store idempotent response", "error", err)
			}
		})
	}
}
