package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tutorllm/internal/errs"
)

// RetryPolicy caps attempts against the model endpoint. Delays double from
// BaseDelay up to MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	return p
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// permanent marks err as not worth retrying.
func permanent(err error) error {
	return &permanentError{err: err}
}

func retryable(err error) bool {
	var p *permanentError
	if errors.As(err, &p) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}

func (p RetryPolicy) do(ctx context.Context, fn func() error) error {
	delay := p.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !retryable(err) || attempt >= p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func generationFailure(detail string, err error) error {
	if ctxErr := contextError(err); ctxErr != nil {
		return ctxErr
	}
	return errs.Wrap(errs.KindGenerationUnavailable, detail, err)
}

func retrievalFailure(detail string, err error) error {
	if ctxErr := contextError(err); ctxErr != nil {
		return ctxErr
	}
	return errs.Wrap(errs.KindRetrievalUnavailable, detail, err)
}

// contextError keeps cancellation distinguishable from provider outages.
func contextError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("model request interrupted: %w", err)
	}
	return nil
}
