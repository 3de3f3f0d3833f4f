// Package retryx wraps avast/retry-go with the pipeline's fixed backoff
// policy (base 250ms, cap 4s, 2 retries) so every adapter call retries the
// same way instead of each adapter hand-rolling its own loop.
package retryx

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	baseDelay  = 250 * time.Millisecond
	maxDelay   = 4 * time.Second
	numRetries = 2
)

// Do retries fn up to numRetries times with jittered exponential backoff,
// stopping early if ctx is cancelled.
func Do(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(numRetries+1),
		retry.Delay(baseDelay),
		retry.MaxDelay(maxDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
	)
}
