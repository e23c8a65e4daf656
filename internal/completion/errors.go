package completion

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotConfigured is returned when the upstream base URL or API key is missing.
	ErrNotConfigured = errors.New("completion upstream not configured")
	// ErrInvalidPath is returned by Proxy when the target path does not start with "/".
	ErrInvalidPath = errors.New(`path must start with "/"`)
	// ErrProxyUnsupported is returned by clients that have no raw HTTP transport.
	ErrProxyUnsupported = errors.New("proxy not supported by this provider")
)

// Attempt records one try against a candidate upstream path.
type Attempt struct {
	Path    string `json:"path"`
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

// UpstreamError describes a failed completion call.
type UpstreamError struct {
	Status   int
	Message  string
	Data     json.RawMessage
	Attempts []Attempt
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("upstream error (%d): %s", e.Status, e.Message)
	}
	return "upstream error: " + e.Message
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// HTTPStatus is the status to mirror to callers, 500 when the upstream gave none.
func (e *UpstreamError) HTTPStatus() int {
	if e.Status >= 400 && e.Status <= 599 {
		return e.Status
	}
	return http.StatusInternalServerError
}
