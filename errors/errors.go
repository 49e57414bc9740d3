package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means the handshake carried no usable identity.
	ErrUnauthorized = fmt.Errorf("unauthorized")
	// ErrForbidden means the acting user is not a participant of the conversation.
	ErrForbidden = fmt.Errorf("forbidden")
	// ErrInvalidPayload means the message carried neither content nor a valid attachment.
	ErrInvalidPayload = fmt.Errorf("invalid payload")
	// ErrDeliveryFailed means persistence failed; the request is fatal and never retried here.
	ErrDeliveryFailed = fmt.Errorf("delivery failed")
	// ErrTransport means a best-effort push to one connection failed. Logged only,
	// never surfaced to the originator.
	ErrTransport = fmt.Errorf("transport error")

	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrClosed      = fmt.Errorf("connection closed")
)

// WireReason maps a domain error to the reason string carried by a
// delivery_error event. Unknown errors are reported as internal.
func WireReason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrDeliveryFailed):
		return "delivery_failed"
	default:
		return "internal"
	}
}
