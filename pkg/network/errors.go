package network

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrRequestFailed = errors.New("http request failed")
	ErrEmptyURL      = errors.New("empty url")
)

// maxErrorBody bounds how much of a failed response is kept on the error.
const maxErrorBody = 8 << 10

// TransportError is returned for every non-2xx response. It keeps the status,
// the (truncated) body and the response headers so the operator can see what
// the server said.
type TransportError struct {
	Method string
	URL    string
	Status int
	Body   string
	Header http.Header
}

func (e *TransportError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, body)
}

func (e *TransportError) Unwrap() error {
	return ErrRequestFailed
}
