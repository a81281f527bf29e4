package chatapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func stubSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	orig := retrySleep
	retrySleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	t.Cleanup(func() { retrySleep = orig })
	return &slept
}

func TestParseRetryAfter(t *testing.T) {
	cases := []struct {
		text string
		secs int
		ok   bool
	}{
		{"chat.postmessage failed: rate_limited retry_after:7", 7, true},
		{"rate_limited retry_after: 30", 30, true},
		{"Rate_Limited Retry_After=12", 12, true},
		{"rate_limited", 0, false},
		{"retry_after:abc", 0, false},
	}
	for _, tc := range cases {
		secs, ok := parseRetryAfter(tc.text)
		if ok != tc.ok || secs != tc.secs {
			t.Fatalf("parseRetryAfter(%q) = %d, %v; want %d, %v", tc.text, secs, ok, tc.secs, tc.ok)
		}
	}
}

func TestDecideRetryHonorsServerHint(t *testing.T) {
	err := &APIError{Op: "chat.postMessage", Code: "rate_limited", RetryAfter: 7}
	delay, retry := decideRetry(err, 0)
	if !retry {
		t.Fatal("expected a retry for a rate limit")
	}
	if delay != 7*time.Second {
		t.Fatalf("delay = %v, want exactly 7s", delay)
	}
}

func TestDecideRetryRateLimitFallback(t *testing.T) {
	err := &APIError{Op: "conversations.history", Code: "rate_limited"}
	delay, retry := decideRetry(err, 0)
	if !retry {
		t.Fatal("expected a retry for a rate limit")
	}
	if delay != rateLimitFallback {
		t.Fatalf("delay = %v, want the 60s fallback", delay)
	}
}

func TestDecideRetryNonRetryable(t *testing.T) {
	for _, err := range []error{
		&APIError{Op: "chat.postMessage", Code: "channel_not_found"},
		&APIError{Op: "auth.test", Code: "invalid_auth"},
		errors.New("validation failed"),
	} {
		if _, retry := decideRetry(err, 0); retry {
			t.Fatalf("decideRetry(%v) retried; want immediate failure", err)
		}
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	var prev time.Duration
	for attempt := 0; attempt <= 4; attempt++ {
		d := backoffDelay(attempt)
		base := baseRetryDelay << uint(attempt)
		if d < base || d >= base+maxRetryJitter {
			t.Fatalf("attempt %d: delay %v outside [%v, %v)", attempt, d, base, base+maxRetryJitter)
		}
		if d <= prev {
			t.Fatalf("attempt %d: delay %v did not grow past %v", attempt, d, prev)
		}
		prev = d
	}
	for _, attempt := range []int{10, 20, 63} {
		if d := backoffDelay(attempt); d >= maxRetryDelay+maxRetryJitter {
			t.Fatalf("attempt %d: delay %v exceeds the cap", attempt, d)
		}
	}
}

func TestWithRetryRecoversFromTransientFailures(t *testing.T) {
	slept := stubSleep(t)
	calls := 0
	out, err := withRetry(context.Background(), zerolog.Nop(), "conversations.history", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("read tcp: connection reset by peer")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("withRetry: %v", err)
	}
	if out != "ok" || calls != 3 {
		t.Fatalf("out = %q after %d calls; want ok after 3", out, calls)
	}
	if len(*slept) != 2 {
		t.Fatalf("slept %d times, want 2", len(*slept))
	}
}

func TestWithRetryFailsFastOnApplicationErrors(t *testing.T) {
	stubSleep(t)
	calls := 0
	_, err := withRetry(context.Background(), zerolog.Nop(), "chat.postMessage", func(context.Context) (string, error) {
		calls++
		return "", &APIError{Op: "chat.postMessage", Code: "msg_too_long"}
	})
	if calls != 1 {
		t.Fatalf("made %d calls, want 1", calls)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "msg_too_long" {
		t.Fatalf("err = %v, want the original APIError", err)
	}
}

func TestWithRetryGivesUpAfterBudget(t *testing.T) {
	stubSleep(t)
	calls := 0
	_, err := withRetry(context.Background(), zerolog.Nop(), "users.list", func(context.Context) (string, error) {
		calls++
		return "", errors.New("dial tcp: connection refused")
	})
	if calls != maxRetries+1 {
		t.Fatalf("made %d calls, want %d", calls, maxRetries+1)
	}
	if err == nil {
		t.Fatal("expected the final error to surface")
	}
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	stubSleep(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := withRetry(ctx, zerolog.Nop(), "users.list", func(context.Context) (string, error) {
		calls++
		return "", errors.New("dial tcp: connection refused")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("made %d calls after cancel, want 1", calls)
	}
}
