package host

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
)

// APIError is a failed GitHub API call.
type APIError struct {
	Op         string
	StatusCode int
	Err        error

	retryable  bool
	retryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("github %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("github %s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the call may succeed.
func (e *APIError) Retryable() bool { return e.retryable }

// RetryAfter is the wait imposed by a rate limit, or zero.
func (e *APIError) RetryAfter() time.Duration { return e.retryAfter }

func newAPIError(op string, err error, resp *github.Response) *APIError {
	return &APIError{
		Op:         op,
		StatusCode: getStatusCode(resp),
		Err:        err,
		retryable:  isGitHubRetryableError(err, resp),
		retryAfter: rateLimitWait(err, resp),
	}
}

// isGitHubRetryableError checks if a GitHub API error is retryable.
func isGitHubRetryableError(err error, resp *github.Response) bool {
	if err == nil {
		return false
	}

	var abuse *github.AbuseRateLimitError
	var limit *github.RateLimitError
	if errors.As(err, &abuse) || errors.As(err, &limit) {
		return true
	}

	// Check HTTP status code for retryable errors
	if resp != nil && resp.Response != nil {
		statusCode := resp.Response.StatusCode

		switch statusCode {
		// Rate limiting
		case http.StatusTooManyRequests: // 429
			return true

		// Client errors (not retryable)
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound,
			http.StatusConflict, http.StatusUnprocessableEntity:
			return false
		case http.StatusForbidden: // 403
			// Forbidden can be rate limit (secondary rate limit)
			// Check if it has rate limit headers (Limit > 0 means we got rate info)
			return resp.Rate.Limit > 0 && resp.Rate.Remaining == 0

		default:
			return statusCode >= 500 && statusCode < 600
		}
	}

	// If we can't determine from status code, check error type
	// Network errors, timeouts, etc. are typically retryable
	return true
}

// rateLimitWait returns how long GitHub asked us to wait, or zero.
func rateLimitWait(err error, resp *github.Response) time.Duration {
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) && abuse.RetryAfter != nil {
		return *abuse.RetryAfter
	}

	var limit *github.RateLimitError
	if errors.As(err, &limit) {
		return untilReset(limit.Rate)
	}
	if resp != nil && resp.Response != nil && resp.Response.StatusCode == http.StatusTooManyRequests {
		return untilReset(resp.Rate)
	}
	return 0
}

// untilReset is the time until rate resets plus a one second buffer.
func untilReset(rate github.Rate) time.Duration {
	if rate.Reset.Time.IsZero() {
		return 0
	}
	wait := time.Until(rate.Reset.Time) + time.Second
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

// getStatusCode safely extracts the HTTP status code from a GitHub response.
func getStatusCode(resp *github.Response) int {
	if resp != nil && resp.Response != nil {
		return resp.Response.StatusCode
	}
	return 0
}

func isNotFound(resp *github.Response) bool {
	return getStatusCode(resp) == http.StatusNotFound
}
