package runtime

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// maxStepRetries bounds how many times a single step retries a failed
	// provider call before the turn gives up and ends with an error.
	maxStepRetries       = 3
	retryInitialInterval = time.Second
	retryMaxInterval     = 30 * time.Second
	retryMaxElapsedTime  = 2 * time.Minute
)

// newStepBackoff builds the exponential backoff with jitter used to retry
// a transient provider failure within a single step.
func newStepBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = retryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, maxStepRetries), ctx)
}
