package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// StatusError reports a non-success HTTP status.
type StatusError struct {
	Code    int
	URL     string
	Snippet string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d body: %s", e.URL, e.Code, e.Snippet)
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool { return transientStatus(e.Code) }

// CheckStatus converts a non-200 response into a *StatusError. 304 maps to
// ErrNotModified.
func CheckStatus(url string, resp Response) error {
	switch code := resp.StatusCode(); {
	case code == http.StatusNotModified:
		return ErrNotModified
	case code >= 200 && code < 300:
		return nil
	default:
		return &StatusError{Code: code, URL: url, Snippet: Snippet(resp.Body())}
	}
}

// Snippet returns a truncated body excerpt suitable for logs.
func Snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "<empty>"
	}
	if len(s) > snippetLen {
		return s[:snippetLen] + "..."
	}
	return s
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// IsTransient classifies errors that a retry may fix: timeouts, connection
// resets and unexpected EOFs. Cancellation and redirect loops are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	if strings.Contains(err.Error(), "stopped after") {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Kind names a failure for summaries: "transient", "permanent" or "not_modified".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotModified):
		return "not_modified"
	case IsTransient(err):
		return "transient"
	default:
		return "permanent"
	}
}
