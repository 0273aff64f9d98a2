package kodi

import (
	"errors"
	"fmt"
)

// ErrorKind classifies transport failures. Callers switch on the kind to
// decide whether to surface, retry at a higher level, or give up.
type ErrorKind int

const (
	ErrNotConnected ErrorKind = iota
	ErrInvalidResponse
	ErrHTTP
	ErrRPC
	ErrNoResult
	ErrTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNotConnected:
		return "not_connected"
	case ErrInvalidResponse:
		return "invalid_response"
	case ErrHTTP:
		return "http_error"
	case ErrRPC:
		return "rpc_error"
	case ErrNoResult:
		return "no_result"
	case ErrTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is a typed transport error. Status is set for ErrHTTP, Code and
// Message for ErrRPC.
type Error struct {
	Kind    ErrorKind
	Status  int
	Code    int
	Message string
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrNotConnected:
		if e.Message != "" {
			return fmt.Sprintf("not connected: %s", e.Message)
		}
		return "not connected"
	case ErrHTTP:
		return fmt.Sprintf("http status %d", e.Status)
	case ErrRPC:
		return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
	case ErrNoResult:
		return "no result in response"
	case ErrTimeout:
		return "request timed out"
	default:
		if e.Message != "" {
			return fmt.Sprintf("invalid response: %s", e.Message)
		}
		return "invalid response"
	}
}

// KindOf extracts the transport error kind from err, unwrapping as needed.
func KindOf(err error) (ErrorKind, bool) {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Kind, true
	}
	return 0, false
}

func invalidResponse(err error) *Error {
	return &Error{Kind: ErrInvalidResponse, Message: err.Error()}
}
