package pipeline

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/dgallion1/lmrate/internal/pathstore"
)

// IsRetryable checks if an error is worth retrying. Only storage failures
// qualify: a scorer failure aborts the document.
func IsRetryable(err error) bool {
	return pathstore.IsRetryable(err)
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

const MaxRetries = 3

// backoffFunc is swapped in tests.
var backoffFunc = Backoff

// withRetry runs fn until it succeeds, fails permanently, or MaxRetries
// attempts are used up.
func withRetry(ctx context.Context, onRetry func(attempt int, err error), fn func() error) error {
	var err error
	for attempt := range MaxRetries {
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == MaxRetries-1 {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		select {
		case <-time.After(backoffFunc(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
