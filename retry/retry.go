// Package retry provides a generic exponential-backoff executor with a
// crash classifier tuned for headless-browser failure modes.
package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dealwatch/harvester/config"
)

// Policy configures the backoff schedule.
type Policy struct {
	// MaxAttempts is the total number of attempts (first try included).
	MaxAttempts int

	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the geometric growth.
	MaxDelay time.Duration

	// Factor is the geometric growth factor between attempts.
	Factor float64
}

// ScrapePolicy is the preset used to wrap whole scrape invocations.
func ScrapePolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
	}
}

// PolicyFromConfig maps the retry configuration section onto a Policy.
// Unset values are normalized at execution time.
func PolicyFromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Factor:       cfg.Factor,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = p.InitialDelay
	}
	if p.Factor < 1 {
		p.Factor = 2.0
	}
	return p
}

// Delay returns the backoff delay that precedes the given attempt
// (attempt 2 gets InitialDelay, attempt 3 gets InitialDelay*Factor, ...).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	d := p.InitialDelay
	for i := 2; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Factor)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Class is the coarse failure classification used to distinguish browser
// crashes from ordinary content errors.
type Class string

const (
	// ClassBrowserCrash covers browser/context/target-closed failures.
	// The browser process (or the leased context) is gone; a fresh
	// context is needed before retrying.
	ClassBrowserCrash Class = "browser_crash"

	// ClassContent covers everything else (navigation failures, missing
	// selectors, timeouts). Retriable under the default policy.
	ClassContent Class = "content"
)

// crashMarkers are substrings that identify a dead browser or context in
// rod/CDP error text.
var crashMarkers = []string{
	"browser has been closed",
	"target closed",
	"target crashed",
	"session closed",
	"context canceled by browser",
	"websocket: close",
	"connection reset by peer",
	"cdp connection closed",
	"page has been closed",
}

// Classify inspects an error's text and reports whether it looks like a
// browser-level crash. Both classes are retriable by default; the split
// exists so callers can force a relaunch before the next attempt.
func Classify(err error) Class {
	if err == nil {
		return ClassContent
	}
	text := strings.ToLower(err.Error())
	for _, marker := range crashMarkers {
		if strings.Contains(text, marker) {
			return ClassBrowserCrash
		}
	}
	return ClassContent
}

// permanentError marks an error that backing off cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do/DoValue stop immediately and return the
// original error without consuming further attempts. Nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// OnRetryFunc is invoked before each retry sleep with the upcoming attempt
// number (2-based), the scheduled delay and the error that caused the retry.
type OnRetryFunc func(attempt int, delay time.Duration, err error, class Class)

// Do runs fn under the policy, sleeping between attempts. The last error is
// returned when all attempts fail. The context cancels pending sleeps.
func Do(ctx context.Context, p Policy, onRetry OnRetryFunc, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, onRetry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a result.
func DoValue[T any](ctx context.Context, p Policy, onRetry OnRetryFunc, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := p.Delay(attempt)
			if onRetry != nil {
				onRetry(attempt, delay, lastErr, Classify(lastErr))
			}
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}

		// Context expiry is terminal; backing off cannot help.
		if ctx.Err() != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}
