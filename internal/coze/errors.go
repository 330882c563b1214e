package coze

import (
	"errors"
	"fmt"
)

// ErrMissingFileID is returned when an upload succeeds without a file id.
var ErrMissingFileID = errors.New("upload succeeded but no file id returned")

// HTTPError reports a non-2xx response.
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s failed: HTTP %d %s", e.Op, e.StatusCode, e.Status)
}

// APIError reports a non-zero application code inside a 2xx response.
type APIError struct {
	Op       string
	Code     int
	Msg      string
	DebugURL string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed: %s (code %d)", e.Op, e.Msg, e.Code)
}
