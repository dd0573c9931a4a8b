package pipeline

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/dgallion1/lmrate/internal/pathstore"
)

func TestBackoffBounds(t *testing.T) {
	for attempt := 0; attempt < 8; attempt++ {
		d := Backoff(attempt)
		base := time.Duration(1<<uint(attempt)) * time.Second
		if base > 30*time.Second {
			base = 30 * time.Second
		}
		if d < base || d >= base+base/2 {
			t.Fatalf("attempt %d: backoff %s outside [%s, %s)", attempt, d, base, base+base/2)
		}
	}
}

func TestWithRetry(t *testing.T) {
	noBackoff(t)
	transient := &pathstore.RetryableError{StatusCode: http.StatusServiceUnavailable}

	calls := 0
	err := withRetry(context.Background(), nil, func() error {
		calls++
		if calls < 2 {
			return transient
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on second call, got err=%v calls=%d", err, calls)
	}

	calls = 0
	err = withRetry(context.Background(), nil, func() error {
		calls++
		return transient
	})
	if !IsRetryable(err) || calls != MaxRetries {
		t.Fatalf("expected %d attempts ending in retryable error, got err=%v calls=%d", MaxRetries, err, calls)
	}

	calls = 0
	permanent := errors.New("bad request")
	err = withRetry(context.Background(), nil, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("expected a single attempt, got err=%v calls=%d", err, calls)
	}
}
