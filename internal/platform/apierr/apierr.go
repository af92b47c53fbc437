package apierr

import (
	"errors"
	"fmt"

	"github.com/yungbote/neurobridge-chat/internal/pkg/httpx"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether retrying the same call may succeed.
func (e *Error) Transient() bool {
	if e == nil {
		return false
	}
	if e.Status == 0 {
		return true
	}
	return httpx.IsRetryableHTTPStatus(e.Status)
}

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// Network wraps a transport failure that never produced a response.
func Network(err error) *Error {
	return &Error{Code: "network", Err: err}
}

// IsTransient walks the chain for an *Error and reports Transient.
func IsTransient(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Transient()
	}
	return false
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}
