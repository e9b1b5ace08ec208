package signaling

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConflict means the receiver already has an active session.
	ErrConflict = errors.New("signaling: receiver already has an active session")
	// ErrUnavailable covers receiver-side failures and unreachable receivers.
	ErrUnavailable = errors.New("signaling: receiver unavailable")
	// ErrRejected covers any other non-success response, including a malformed
	// answer.
	ErrRejected = errors.New("signaling: offer rejected")
)

// StatusError carries the receiver's status code and a truncated body.
// errors.Is matches it against ErrConflict, ErrUnavailable or ErrRejected.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("signaling: receiver returned %d", e.StatusCode)
	}
	return fmt.Sprintf("signaling: receiver returned %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return classifyStatus(e.StatusCode)
}

// classifyStatus maps a status code onto the exchange failure kinds. JSON-RPC
// errors reuse HTTP status semantics for their codes.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusConflict:
		return ErrConflict
	case code >= 500 && code <= 599:
		return ErrUnavailable
	default:
		return ErrRejected
	}
}

const maxErrorBodyBytes = 512

func truncateBody(b []byte) string {
	if len(b) > maxErrorBodyBytes {
		b = b[:maxErrorBodyBytes]
	}
	return string(b)
}
