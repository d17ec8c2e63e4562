// Package benchrors provides the structured error taxonomy used across the
// bench control plane.
package benchrors

import "fmt"

// ErrorCode identifies one of the bench's distinct error kinds.
type ErrorCode string

const (
	ErrCrypto               ErrorCode = "CRYPTO_CryptoError"
	ErrFrame                ErrorCode = "FRAME_FrameError"
	ErrReplayRejected       ErrorCode = "LINK_ReplayRejected"
	ErrLinkTimeout          ErrorCode = "LINK_LinkTimeout"
	ErrBusTimeout           ErrorCode = "BUS_BusTimeout"
	ErrBusProtocol          ErrorCode = "BUS_BusProtocolError"
	ErrInterlockViolation   ErrorCode = "SAFETY_InterlockViolation"
	ErrMeasurementInvalid   ErrorCode = "MEASURE_MeasurementValidation"
	ErrPreCheckFailed       ErrorCode = "ENGINE_PreCheckFailed"
	ErrAbortRequested       ErrorCode = "ENGINE_AbortRequested"
	ErrEngineBusy           ErrorCode = "ENGINE_EngineBusy"
	ErrConfigInvalid        ErrorCode = "CONFIG_ConfigInvalid"
)

// BenchError is a structured error carrying a stable code, a human message,
// optional key/value details, and an optional wrapped cause.
type BenchError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *BenchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *BenchError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a key/value pair and returns the same error for chaining.
func (e *BenchError) WithDetail(key string, value interface{}) *BenchError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newErr(code ErrorCode, message string) *BenchError {
	return &BenchError{Code: code, Message: message}
}

func wrapErr(code ErrorCode, message string, err error) *BenchError {
	return &BenchError{Code: code, Message: message, Err: err}
}

// Constructors, one per error kind named in the error handling design.

func Crypto(message string, err error) *BenchError {
	return wrapErr(ErrCrypto, message, err)
}

func Frame(message string, err error) *BenchError {
	return wrapErr(ErrFrame, message, err)
}

func ReplayRejected(deviceID uint32, seq uint16) *BenchError {
	return newErr(ErrReplayRejected, "frame rejected by replay protection").
		WithDetail("device_id", deviceID).
		WithDetail("seq", seq)
}

func LinkTimeout(message string) *BenchError {
	return newErr(ErrLinkTimeout, message)
}

func BusTimeout(channel string) *BenchError {
	return newErr(ErrBusTimeout, "bus timeout").WithDetail("channel", channel)
}

func BusProtocol(channel string, err error) *BenchError {
	return wrapErr(ErrBusProtocol, "bus protocol error", err).WithDetail("channel", channel)
}

func InterlockViolation(reason string) *BenchError {
	return newErr(ErrInterlockViolation, reason)
}

func MeasurementInvalid(reason string) *BenchError {
	return newErr(ErrMeasurementInvalid, reason)
}

func PreCheckFailed(reason string) *BenchError {
	return newErr(ErrPreCheckFailed, reason)
}

func AbortRequested(reason string) *BenchError {
	return newErr(ErrAbortRequested, reason)
}

func EngineBusy() *BenchError {
	return newErr(ErrEngineBusy, "a test execution engine is already active")
}

func ConfigInvalid(field, reason string) *BenchError {
	return newErr(ErrConfigInvalid, "invalid configuration").
		WithDetail("field", field).
		WithDetail("reason", reason)
}

// Is reports whether err is a BenchError carrying the given code.
func Is(err error, code ErrorCode) bool {
	be, ok := err.(*BenchError)
	if !ok {
		return false
	}
	return be.Code == code
}
