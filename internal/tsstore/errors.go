package tsstore

import (
	"errors"
	"fmt"
)

// Kind classifies a delivery failure. The set is closed; the collector
// decides what to do per kind.
type Kind int

const (
	// KindTransport is a connect, read or write failure at the stream level.
	KindTransport Kind = iota + 1

	// KindProtocol is a malformed or negative response from the server.
	KindProtocol

	// KindTimeout means no response arrived within the I/O bound.
	KindTimeout

	// KindAcquisition is a failed sensor or metric read on the sampler side.
	// The client never produces it; the collector wraps sampler errors with it.
	KindAcquisition
)

// String returns the lowercase name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	case KindAcquisition:
		return "acquisition"
	default:
		return "unknown"
	}
}

// Error is a classified delivery failure.
type Error struct {
	Kind Kind
	Op   string // "connect", "auth", "write", "sample"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tsstore: %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the Kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Acquisition wraps a sampler failure so the collector can match it like
// any other delivery failure.
func Acquisition(err error) error {
	return &Error{Kind: KindAcquisition, Op: "sample", Err: err}
}

// Domain-specific errors for tsstore operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotReady is returned by Write when the client has no authenticated
	// connection. The transport is not touched.
	ErrNotReady = errors.New("tsstore: client not ready")

	// ErrTerminated is returned by Connect and Write after Shutdown.
	ErrTerminated = errors.New("tsstore: client terminated")

	// ErrAuthRejected is returned when the server answers AUTH with anything
	// other than OK.
	ErrAuthRejected = errors.New("tsstore: authentication rejected")

	// ErrWriteRejected is returned when the server answers a record with a
	// line that does not start with OK.
	ErrWriteRejected = errors.New("tsstore: write rejected")

	// ErrMalformedAck is returned when an OK line carries no decimal timestamp.
	ErrMalformedAck = errors.New("tsstore: malformed acknowledgement")

	// ErrResponseTooLong is returned when a response line exceeds the read
	// buffer. The stream can no longer be trusted.
	ErrResponseTooLong = errors.New("tsstore: response line too long")

	// ErrInvalidEndpoint is returned for an empty or unsupported endpoint.
	ErrInvalidEndpoint = errors.New("tsstore: invalid endpoint")

	// ErrInvalidCredentials is returned when the store name or API key is
	// empty or contains whitespace, which the AUTH line cannot carry.
	ErrInvalidCredentials = errors.New("tsstore: invalid credentials")

	// ErrInvalidRecord is returned when a record cannot be encoded
	// (non-finite value, empty field name).
	ErrInvalidRecord = errors.New("tsstore: invalid record")

	// ErrInvalidTransition is returned when the state machine is asked for a
	// transition it does not allow.
	ErrInvalidTransition = errors.New("tsstore: invalid state transition")
)
