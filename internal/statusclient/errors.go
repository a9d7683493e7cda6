package statusclient

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oliveagle/jsonpath"
)

// ErrCircuitOpen is returned without contacting the server while the
// endpoint is considered unhealthy
var ErrCircuitOpen = errors.New("status endpoint unavailable: circuit breaker is open")

// StatusError is a non-successful status endpoint response
type StatusError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
}

func (e *StatusError) Error() string {
	return e.Message
}

// Temporary reports whether retrying later may succeed
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

var (
	errorMessagePath = jsonpath.MustCompile("$.error.message")
	errorCodePath    = jsonpath.MustCompile("$.error.code")
)

// newStatusError builds a StatusError preferring the server supplied
// `{"error": {"code", "message"}}` body
func newStatusError(statusCode int, body []byte) *StatusError {
	e := &StatusError{
		StatusCode: statusCode,
		Message:    fmt.Sprintf("failed to fetch status: %d", statusCode),
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return e
	}
	if msg, ok := lookupString(errorMessagePath, doc); ok && msg != "" {
		e.Message = msg
	}
	if code, ok := lookupString(errorCodePath, doc); ok {
		e.Code = code
	}
	return e
}

func lookupString(path *jsonpath.Compiled, doc interface{}) (string, bool) {
	v, err := path.Lookup(doc)
	if err != nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
