package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/HealthSync/internal/models"
	"github.com/atinyakov/HealthSync/internal/observability"
	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the exponential backoff applied to transient I/O failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts int
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps a single wait.
	MaxDelay time.Duration
}

// Options tunes the sync engine. Zero fields take the defaults below.
type Options struct {
	// PullLimit caps the records delivered in one sync cycle.
	PullLimit int
	// PageSize is the number of rows fetched per change-log query.
	PageSize int
	// MaxResolveAttempts bounds re-resolution after lost compare-and-swap races.
	MaxResolveAttempts int
	// Retry is applied to every store call.
	Retry RetryPolicy
	// IsTransient classifies store errors worth retrying.
	IsTransient func(error) bool
	// Now is the server clock.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PullLimit <= 0 {
		o.PullLimit = 500
	}
	if o.PageSize <= 0 {
		o.PageSize = 200
	}
	if o.MaxResolveAttempts <= 0 {
		o.MaxResolveAttempts = 3
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry.MaxAttempts = 4
	}
	if o.Retry.BaseDelay <= 0 {
		o.Retry.BaseDelay = 50 * time.Millisecond
	}
	if o.Retry.MaxDelay <= 0 {
		o.Retry.MaxDelay = time.Second
	}
	if o.IsTransient == nil {
		o.IsTransient = func(error) bool { return false }
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// retry runs op until it succeeds, fails permanently or the attempt budget
// is spent. Exhausting the budget on a transient error yields ErrSyncFailed.
func (o Options) retry(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.Retry.BaseDelay
	eb.MaxInterval = o.Retry.MaxDelay
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(o.Retry.MaxAttempts-1)), ctx)

	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !o.IsTransient(err) {
			return backoff.Permanent(err)
		}
		observability.RecordRetry("transient")
		return err
	}, policy)
	if err != nil && o.IsTransient(err) {
		return fmt.Errorf("%w: %w", models.ErrSyncFailed, err)
	}
	return err
}

// nextStamp returns a server timestamp strictly later than prev.
func nextStamp(now, prev time.Time) time.Time {
	ts := models.Stamp(now)
	if floor := models.Stamp(prev).Add(time.Microsecond); ts.Before(floor) {
		return floor
	}
	return ts
}

// isClientError reports whether err is caused by the request rather than the server.
func isClientError(err error) bool {
	return errors.Is(err, models.ErrInvalidCursor) ||
		errors.Is(err, models.ErrStaleCursor) ||
		errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrInvalidRecord)
}
