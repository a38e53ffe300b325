package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPStatusCoder is implemented by errors that carry an upstream HTTP status.
type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

// IsRetryableHTTPStatus reports whether a response status is worth retrying.
func IsRetryableHTTPStatus(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && status <= 599
}

// IsRetryableError reports whether err looks transient: timeouts, temporary
// network failures, or retryable upstream statuses. Context cancellation is
// never retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var coder HTTPStatusCoder
	if errors.As(err, &coder) {
		return IsRetryableHTTPStatus(coder.HTTPStatusCode())
	}
	return false
}

// RetryAfterDuration parses a Retry-After header (seconds or HTTP date).
// Falls back to fallback when absent or unparseable, and never exceeds max.
func RetryAfterDuration(header string, fallback, max time.Duration) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return clampDuration(fallback, max)
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return clampDuration(time.Duration(secs)*time.Second, max)
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d > 0 {
			return clampDuration(d, max)
		}
	}
	return clampDuration(fallback, max)
}

// BackoffDelay computes an exponential delay for attempt (0-based) with
// full jitter, bounded by max.
func BackoffDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	d = clampDuration(d, max)
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

// JitterSleep sleeps for d +/- 20%, returning early if ctx is done.
func JitterSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5+1)) - d/10
	t := time.NewTimer(d + jitter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func clampDuration(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	if d < 0 {
		return 0
	}
	return d
}
