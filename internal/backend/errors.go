// ABOUTME: Error types returned by the backend REST client
// ABOUTME: StatusError carries the HTTP code and the server's error text

package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrNotFound indicates the requested resource does not exist.
var ErrNotFound = errors.New("not found")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Code)
	}
	return fmt.Sprintf("backend error (%d): %s", e.Code, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match a 404.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 4096

// handleErrorResponse extracts the error message from a non-2xx response.
func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		if eb.Error != "" {
			return &StatusError{Code: resp.StatusCode, Message: eb.Error}
		}
		if eb.Detail != "" {
			return &StatusError{Code: resp.StatusCode, Message: eb.Detail}
		}
	}
	return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
