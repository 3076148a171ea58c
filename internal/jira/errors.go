package jira

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	jira "github.com/andygrunwald/go-jira"
)

// APIError is a non-2xx answer from the Jira API, carrying enough of the
// response for classification and operator-readable job errors.
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("jira API returned %d", e.StatusCode)
	}
	return fmt.Sprintf("jira API returned %d: %s", e.StatusCode, e.Body)
}

// RateLimited reports whether Jira asked us to back off.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// AuthFailed reports whether the credentials were rejected. These are
// retryable (an operator can fix the token) but surfaced distinctly.
func (e *APIError) AuthFailed() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Transient reports whether a later attempt can reasonably succeed without
// changing the request: rate limits, auth problems and server-side errors.
func (e *APIError) Transient() bool {
	return e.RateLimited() || e.AuthFailed() || e.StatusCode >= 500
}

// Permanent reports whether retrying the identical request is pointless.
func (e *APIError) Permanent() bool {
	return !e.Transient() && e.StatusCode >= 400 && e.StatusCode < 500
}

// Kind is a short label for logs and metrics.
func (e *APIError) Kind() string {
	switch {
	case e.RateLimited():
		return "rate_limited"
	case e.AuthFailed():
		return "auth"
	case e.StatusCode >= 500:
		return "server"
	case e.Permanent():
		return "permanent"
	default:
		return "http"
	}
}

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4096

// classify turns a failed go-jira call into an APIError when an HTTP status
// is available, and a wrapped transport error otherwise. The library leaves
// the body unread on non-2xx responses, so it is captured here.
func classify(resp *jira.Response, err error) error {
	if resp == nil {
		return fmt.Errorf("jira request: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// HTTP succeeded but the response could not be decoded.
		return fmt.Errorf("jira response: %w", err)
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	return &APIError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
