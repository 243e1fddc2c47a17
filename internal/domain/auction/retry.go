package auction

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// newRetryPolicy retries transient store failures and lost price swaps with
// jittered exponential backoff starting at base.
func newRetryPolicy(maxRetries int, base time.Duration, onRetry func()) retrypolicy.RetryPolicy[any] {
	shift := maxRetries
	if shift < 1 {
		shift = 1
	}
	return retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return errors.Is(err, ErrTransient) || errors.Is(err, errCASLost)
		}).
		WithMaxRetries(maxRetries).
		WithBackoff(base, base<<shift).
		WithJitterFactor(0.25).
		ReturnLastFailure().
		OnRetry(func(failsafe.ExecutionEvent[any]) {
			onRetry()
		}).
		Build()
}

// retrying runs fn under the engine's retry policy. Once an attempt has
// succeeded its result stands, even if ctx ends before the policy returns:
// the transaction inside fn is already committed.
func (e *Engine) retrying(ctx context.Context, fn func() error) error {
	var committed bool
	err := failsafe.With[any](e.retryPolicy).WithContext(ctx).Run(func() error {
		if err := fn(); err != nil {
			return err
		}
		committed = true
		return nil
	})
	if committed {
		return nil
	}
	return err
}
