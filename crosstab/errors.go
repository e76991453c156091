// Package crosstab mirrors bus traffic across same-origin browser tabs
// through a pluggable Transport, implementing the envelope protocol, echo
// suppression, deduplication, rate limiting, and batching described in
// SPEC_FULL.md's cross-tab adapter component.
package crosstab

import "errors"

var (
	ErrAlreadyAttached   = errors.New("crosstab: adapter already attached to a bus")
	ErrNotAttached       = errors.New("crosstab: adapter not attached")
	ErrNoTransport       = errors.New("crosstab: no available transport")
	ErrInvalidEnvelope   = errors.New("crosstab: invalid envelope shape")
	ErrOriginMismatch    = errors.New("crosstab: origin mismatch")
	ErrMessageOversized  = errors.New("crosstab: message exceeds maxMessageSize")
	ErrUnsupportedVersion = errors.New("crosstab: unsupported envelope version")
)

// ErrorCode classifies transport/adapter failures reported through onError
// (§4.7).
type ErrorCode string

const (
	ErrorCodeTransportSend    ErrorCode = "transport-send"
	ErrorCodeTransportClose   ErrorCode = "transport-close"
	ErrorCodeTransportReceive ErrorCode = "transport-receive"
	ErrorCodeValidation       ErrorCode = "validation"
	ErrorCodeBatchFlush       ErrorCode = "batch-flush"
)

// AdapterError wraps an underlying error with a classification code.
type AdapterError struct {
	Code ErrorCode
	Err  error
}

func (e *AdapterError) Error() string {
	return string(e.Code) + ": " + e.Err.Error()
}

func (e *AdapterError) Unwrap() error { return e.Err }

func newAdapterError(code ErrorCode, err error) *AdapterError {
	return &AdapterError{Code: code, Err: err}
}
