// Package retry wraps transient network operations in exponential backoff,
// per spec.md §7: 5xx and connection-reset errors are retried up to 5
// attempts; everything else surfaces immediately. Grounded on apptainer's
// use of github.com/cenkalti/backoff/v4, adopted here in place of a
// hand-rolled backoff loop.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/shakenfist/occystrap/internal/errs"
)

// MaxAttempts is the cap on retry attempts for a single request (spec.md §7).
const MaxAttempts = 5

// Do runs fn, retrying with exponential backoff while fn returns an error
// wrapping errs.ErrTransientNetwork, up to MaxAttempts total attempts.
// Any other error, or the final transient failure, is returned as-is.
func Do(ctx context.Context, log *logrus.Logger, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), MaxAttempts-1), ctx)
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, errs.ErrTransientNetwork) {
			return backoff.Permanent(err)
		}
		if log != nil {
			log.WithFields(logrus.Fields{
				"attempt": attempt,
				"err":     err,
			}).Debug("retrying transient network error")
		}
		return err
	}, b)
	return err
}

// Backoff exposes the same policy Do uses, for callers that need
// fine-grained control rather than the Do wrapper.
func Backoff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), MaxAttempts-1), ctx)
}

// Sleep is a small helper for tests to avoid importing backoff directly.
func Sleep(d time.Duration) {
	time.Sleep(d)
}
