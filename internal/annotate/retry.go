package annotate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"
)

// StatusError is returned for non-2xx responses from the model endpoint.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("annotate: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("annotate: unexpected status %d: %s", e.Code, e.Message)
}

// IsRateLimited reports whether err signals HTTP 429, either as a
// *StatusError or as a raw genai.APIError.
func IsRateLimited(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests
	}
	var apiErr genai.APIError
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests
}

// RetryPolicy bounds retries of rate-limited calls.
type RetryPolicy struct {
	Retries   int
	BaseDelay time.Duration
}

// DefaultRetryPolicy allows two retries starting at one second, doubling.
var DefaultRetryPolicy = RetryPolicy{Retries: 2, BaseDelay: time.Second}

// Retry runs fn, retrying only rate-limit failures with a doubling delay.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	delay := policy.BaseDelay
	retries := policy.Retries
	for {
		value, err := fn(ctx)
		if err == nil || retries <= 0 || !IsRateLimited(err) {
			return value, err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, errors.Join(err, ctx.Err())
		case <-timer.C:
		}
		retries--
		delay *= 2
	}
}
