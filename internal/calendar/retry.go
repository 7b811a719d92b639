package calendar

import (
	"context"
	"errors"
	"time"

	"example.com/wellness/internal/domain"
)

// RetryPolicy bounds each remote attempt and schedules retries.
type RetryPolicy struct {
	Attempts  int           // total attempts per operation
	BaseDelay time.Duration // delay before the second attempt, doubled after
	Timeout   time.Duration // per-attempt deadline
}

// DefaultRetryPolicy matches the service defaults: 3 attempts, 500ms base.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 500 * time.Millisecond, Timeout: 10 * time.Second}
}

const maxRetryDelay = 5 * time.Second

// retryClient decorates a Client with timeout and backoff handling. Update,
// Delete and ListFreeBusy are idempotent and always retried on transient
// failure; Create is retried only because the idempotency key lets the
// provider recognise a replayed attempt.
type retryClient struct {
	inner  Client
	policy RetryPolicy
}

// NewRetrying wraps inner with the given policy.
func NewRetrying(inner Client, policy RetryPolicy) Client {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	return &retryClient{inner: inner, policy: policy}
}

func (c *retryClient) Create(ctx context.Context, event Event, idempotencyKey string) (string, error) {
	var id string
	err := c.do(ctx, func(attempt context.Context) error {
		var opErr error
		id, opErr = c.inner.Create(attempt, event, idempotencyKey)
		return opErr
	})
	return id, err
}

func (c *retryClient) Update(ctx context.Context, remoteEventID string, start, end time.Time) error {
	return c.do(ctx, func(attempt context.Context) error {
		return c.inner.Update(attempt, remoteEventID, start, end)
	})
}

func (c *retryClient) Delete(ctx context.Context, remoteEventID string) error {
	return c.do(ctx, func(attempt context.Context) error {
		return c.inner.Delete(attempt, remoteEventID)
	})
}

func (c *retryClient) ListFreeBusy(ctx context.Context, from, to time.Time) ([]domain.BusyInterval, error) {
	var busy []domain.BusyInterval
	err := c.do(ctx, func(attempt context.Context) error {
		var opErr error
		busy, opErr = c.inner.ListFreeBusy(attempt, from, to)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return busy, nil
}

func (c *retryClient) do(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= c.policy.Attempts; attempt++ {
		err := c.attemptOnce(ctx, op)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) || attempt == c.policy.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffDelay(c.policy.BaseDelay, attempt)):
		}
	}
	return lastErr
}

func (c *retryClient) attemptOnce(ctx context.Context, op func(context.Context) error) error {
	if c.policy.Timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, c.policy.Timeout)
	defer cancel()
	return op(attemptCtx)
}

// backoffDelay calculates exponential backoff capped at maxRetryDelay.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := time.Duration(1<<uint(attempt-1)) * base
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Temporary()
	}
	// Attempt timeouts surface as deadline errors; treat them as transient.
	return errors.Is(err, context.DeadlineExceeded)
}
