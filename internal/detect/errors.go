package detect

import (
	"errors"
	"fmt"
)

// Kind classifies why a detection request failed.
type Kind int

const (
	// KindInvalidInput is a caller error (no image, unreadable image); nothing was sent.
	KindInvalidInput Kind = iota
	// KindTimeout means the deadline fired before the service answered.
	KindTimeout
	// KindNetworkUnavailable is a transport failure such as a refused connection.
	KindNetworkUnavailable
	// KindServerError is a non-2xx HTTP status.
	KindServerError
	// KindInvalidResponse is a malformed body or success=false.
	KindInvalidResponse
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindTimeout:
		return "timeout"
	case KindNetworkUnavailable:
		return "network_unavailable"
	case KindServerError:
		return "server_error"
	case KindInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// Error is the single categorized error Detect returns.
type Error struct {
	Kind       Kind
	StatusCode int    // set for KindServerError
	Message    string // server-provided message when there was one
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTimeout:
		return "detection request timed out"
	case KindNetworkUnavailable:
		return "cannot connect to detection service"
	case KindServerError:
		if e.Message != "" {
			return fmt.Sprintf("detection service returned status %d: %s", e.StatusCode, e.Message)
		}
		return fmt.Sprintf("detection service returned status %d", e.StatusCode)
	case KindInvalidResponse:
		if e.Message != "" {
			return "detection failed: " + e.Message
		}
		return "detection failed: invalid response"
	default:
		if e.Message != "" {
			return e.Message
		}
		return "invalid detection input"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the Kind of err, and false when err is not a detection error.
func KindOf(err error) (Kind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}

// ErrNoImage is returned when Detect is called without image bytes.
var ErrNoImage = &Error{Kind: KindInvalidInput, Message: "please upload an image first"}
