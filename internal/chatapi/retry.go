package chatapi

import (
	"context"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// maxRetries is how many times a failed call is reissued before the
	// last error surfaces.
	maxRetries = 3

	baseRetryDelay    = time.Second
	maxRetryDelay     = 30 * time.Second
	maxRetryJitter    = 500 * time.Millisecond
	rateLimitFallback = 60 * time.Second
)

var retryAfterPattern = regexp.MustCompile(`(?i)retry_after[:=\s]+(\d+)`)

// parseRetryAfter extracts a "retry_after:N" hint (seconds) from an error
// string, if present.
func parseRetryAfter(text string) (int, bool) {
	m := retryAfterPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	secs, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return secs, true
}

func isRateLimited(text string) bool {
	return strings.Contains(text, "429") ||
		strings.Contains(text, "rate_limited") ||
		strings.Contains(text, "ratelimited") ||
		strings.Contains(text, "rate limit")
}

func isTransient(text string) bool {
	return strings.Contains(text, "connection reset") ||
		strings.Contains(text, "connection refused") ||
		strings.Contains(text, "broken pipe") ||
		strings.Contains(text, "timed out") ||
		strings.Contains(text, "timeout") ||
		strings.Contains(text, "no such host") ||
		strings.Contains(text, "dial tcp") ||
		strings.Contains(text, "unexpected eof")
}

// backoffDelay is base*2^attempt plus up to 500ms of jitter, capped at 30s.
func backoffDelay(attempt int) time.Duration {
	if attempt > 20 {
		attempt = 20
	}
	d := baseRetryDelay << uint(attempt)
	if d <= 0 || d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d + time.Duration(rand.Int63n(int64(maxRetryJitter)))
}

// decideRetry inspects a failed call and reports whether to retry and after
// how long. Rate limits honor the server hint exactly, or wait the fixed
// fallback; transient network conditions back off exponentially; everything
// else fails immediately.
func decideRetry(err error, attempt int) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	text := strings.ToLower(err.Error())
	if isRateLimited(text) {
		if secs, ok := parseRetryAfter(text); ok {
			return time.Duration(secs) * time.Second, true
		}
		return rateLimitFallback, true
	}
	if isTransient(text) {
		return backoffDelay(attempt), true
	}
	return 0, false
}

// retrySleep waits out a retry delay; swapped in tests.
var retrySleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withRetry runs fn, reissuing it per decideRetry up to maxRetries times.
// The engine performs no I/O of its own beyond sleeping.
func withRetry[T any](ctx context.Context, logger zerolog.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; ; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if attempt >= maxRetries {
			break
		}
		delay, retry := decideRetry(err, attempt)
		if !retry {
			return zero, err
		}
		logger.Warn().
			Str("op", op).
			Int("attempt", attempt).
			Dur("delay", delay).
			Str("cause", Redact(err.Error())).
			Msg("retrying remote call")
		if serr := retrySleep(ctx, delay); serr != nil {
			return zero, serr
		}
	}
	return zero, lastErr
}
