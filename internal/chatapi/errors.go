package chatapi

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

// ErrorKind buckets remote failures for retry decisions and user messaging.
type ErrorKind int

const (
	KindAPI ErrorKind = iota
	KindAuth
	KindRateLimited
	KindTransient
	KindValidation
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	case KindTimeout:
		return "timeout"
	default:
		return "api"
	}
}

// APIError is an application-level failure reported by the chat API: the
// payload said ok=false, or the transport answered 429.
type APIError struct {
	Op   string // remote method, e.g. "chat.postMessage"
	Code string // machine-readable error code from the payload
	// RetryAfter is the server-provided wait in seconds, zero when absent.
	RetryAfter int
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s failed: %s retry_after:%d", e.Op, e.Code, e.RetryAfter)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, e.Code)
}

// Classify maps an error to its kind. Transport-level signals win over text
// matching; the text matching itself is deliberately substring-based to
// track the remote API's loose error-code strings.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindAPI
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	text := strings.ToLower(err.Error())
	switch {
	case isRateLimited(text):
		return KindRateLimited
	case strings.Contains(text, "not_authed"),
		strings.Contains(text, "invalid_auth"),
		strings.Contains(text, "token_revoked"),
		strings.Contains(text, "token_expired"):
		return KindAuth
	case strings.Contains(text, "timed out"), strings.Contains(text, "timeout"):
		return KindTimeout
	case isTransient(text):
		return KindTransient
	case strings.Contains(text, "validation"), strings.Contains(text, "invalid"):
		return KindValidation
	default:
		return KindAPI
	}
}

// UserMessage is the short, actionable summary shown in the status bar.
func UserMessage(kind ErrorKind) string {
	switch kind {
	case KindAuth:
		return "Authentication failed. Please re-authenticate."
	case KindRateLimited:
		return "Rate limited. Please slow down."
	case KindTransient:
		return "Network error. Check your connection."
	case KindValidation:
		return "Invalid input. Please check your message."
	case KindTimeout:
		return "Request timed out. Please try again."
	default:
		return "Server error. Please try again later."
	}
}

var (
	tokenPattern  = regexp.MustCompile(`xox[pab]-[A-Za-z0-9-]+`)
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+\S+`)
)

// Redact strips credential material from a string before it reaches the
// screen or the log file. The secret substring itself never survives.
func Redact(input string) string {
	out := tokenPattern.ReplaceAllString(input, "xox…[redacted]")
	out = bearerPattern.ReplaceAllString(out, "Bearer [redacted]")
	return out
}
