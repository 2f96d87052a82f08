package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/sony/gobreaker"
)

// UpstreamError reports a non-2xx gateway response. Transient marks errors
// worth retrying (429 and 5xx); other 4xx responses fail the cycle
// immediately and leave the category stale.
type UpstreamError struct {
	Status    int
	Message   string
	Transient bool
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("gateway error (%d)", e.Status)
}

func newUpstreamError(status int, body []byte) *UpstreamError {
	transient := status == http.StatusTooManyRequests || status >= 500
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return &UpstreamError{Status: status, Message: msg, Transient: transient}
}

// IsTransient classifies a fetch error for the retry policy: network
// failures, timeouts, 429 and 5xx responses, and an open circuit breaker
// are transient; malformed payloads and other 4xx responses are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Transient
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}
