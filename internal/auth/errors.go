package auth

import "errors"

// Error is an authentication failure carrying the message shown to the caller.
type Error struct {
	Reason  string
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(reason, message string) error {
	return &Error{Reason: reason, Message: message}
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	var authErr *Error
	return errors.As(err, &authErr)
}

const (
	ReasonMissingHeader  = "missing_header"
	ReasonTimestamp      = "timestamp"
	ReasonAuthorization  = "authorization"
	ReasonIdempotencyKey = "idempotency_key"
	ReasonSignature      = "signature"
)
