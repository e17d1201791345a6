package types

import "errors"

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrRequestTooLarge    = errors.New("request too large")
	ErrMissingField       = errors.New("missing required field")
	ErrInvalidCard        = errors.New("invalid card number")
	ErrInvalidAction      = errors.New("invalid action")
	ErrInvalidPaymentType = errors.New("invalid payment type")
	ErrServerBusy         = errors.New("server busy")
	ErrRateLimited        = errors.New("rate limit exceeded")
)

// DecodeError reports a line that could not be decoded into a request. Error
// carries a short reason for the client; Cause keeps the decoder diagnostic.
type DecodeError struct {
	Reason string
	Cause  error
}

func (e *DecodeError) Error() string { return ErrInvalidRequest.Error() + ": " + e.Reason }

func (e *DecodeError) Unwrap() []error { return []error{ErrInvalidRequest, e.Cause} }
