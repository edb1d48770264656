package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"commentflow/internal/metrics"
	"commentflow/internal/queue"
)

// Retry defaults for queued webhook events
const (
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = time.Second
	maxJitter          = 500 * time.Millisecond
)

// InboundEventHandler handles one raw webhook body
type InboundEventHandler interface {
	HandleInboundEvent(ctx context.Context, raw []byte) (*ProcessingResult, error)
}

// RetryPolicy controls retries of whole events
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	// Backend labels dead letter metrics
	Backend string
}

// RetryingEventHandler retries transient router failures with exponential
// backoff and parks exhausted jobs on the dead letter publisher.
type RetryingEventHandler struct {
	router     InboundEventHandler
	deadLetter queue.DeadLetterPublisher
	policy     RetryPolicy
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	log        *zap.SugaredLogger
}

// NewRetryingEventHandler creates a retrying handler around the router
func NewRetryingEventHandler(router InboundEventHandler, deadLetter queue.DeadLetterPublisher, policy RetryPolicy, log *zap.SugaredLogger) *RetryingEventHandler {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.BaseBackoff <= 0 {
		policy.BaseBackoff = DefaultBaseBackoff
	}
	if deadLetter == nil {
		deadLetter = queue.DiscardDeadLetter{}
	}
	return &RetryingEventHandler{
		router:     router,
		deadLetter: deadLetter,
		policy:     policy,
		sleep:      sleepContext,
		now:        time.Now,
		log:        log,
	}
}

// Handle processes the job. It returns an error only when the job could not be
// parked on the dead letter, so the caller can requeue it.
func (h *RetryingEventHandler) Handle(ctx context.Context, job *queue.EventJob) error {
	var lastErr error
	for attempt := 1; attempt <= h.policy.MaxAttempts; attempt++ {
		result, err := h.router.HandleInboundEvent(ctx, job.Payload)
		if err == nil {
			metrics.EventsProcessed.WithLabelValues("processed").Inc()
			h.log.Infow("event processed",
				"job_id", job.ID,
				"attempt", attempt,
				"comments", len(result.Comments),
			)
			return nil
		}

		if IsPermanent(err) {
			metrics.EventsProcessed.WithLabelValues("rejected").Inc()
			h.log.Warnw("dropping event with permanent error", "job_id", job.ID, "error", err)
			return nil
		}

		lastErr = err
		if attempt == h.policy.MaxAttempts {
			break
		}

		delay := h.Backoff(attempt)
		metrics.EventRetries.Inc()
		h.log.Warnw("event failed, retrying",
			"job_id", job.ID,
			"attempt", attempt,
			"backoff", delay,
			"error", err,
		)
		if err := h.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	letter := &queue.DeadLetter{
		JobID:    job.ID,
		Payload:  job.Payload,
		Error:    lastErr.Error(),
		Attempts: h.policy.MaxAttempts,
		FailedAt: h.now().UTC(),
	}
	if err := h.deadLetter.PublishDeadLetter(ctx, letter); err != nil {
		return fmt.Errorf("failed to dead-letter job %s: %w", job.ID, err)
	}

	metrics.EventsProcessed.WithLabelValues("dead_lettered").Inc()
	metrics.EventsDeadLettered.WithLabelValues(h.policy.Backend).Inc()
	h.log.Errorw("event moved to dead letter",
		"job_id", job.ID,
		"attempts", h.policy.MaxAttempts,
		"error", lastErr,
	)
	return nil
}

// Backoff returns the wait before the next attempt: base * 2^(attempt-1) plus jitter
func (h *RetryingEventHandler) Backoff(attempt int) time.Duration {
	return h.policy.BaseBackoff<<(attempt-1) + time.Duration(rand.Int63n(int64(maxJitter)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
