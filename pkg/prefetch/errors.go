package prefetch

import (
	"errors"
	"fmt"
)

var (
	// ErrRangeFetch is a per-range failure: network error, client-reported
	// range error, or a stream that ended early. The request stays usable.
	ErrRangeFetch = errors.New("range fetch failed")

	// ErrIntegrity means the object's fingerprint changed while it was read.
	// It poisons the request.
	ErrIntegrity = errors.New("object fingerprint mismatch")

	// ErrInvalidOffset means the object is not the size the request was
	// created with. It poisons the request.
	ErrInvalidOffset = errors.New("object size mismatch")

	// ErrBackpressureProtocol means the client refused window growth or
	// delivered past the granted window.
	ErrBackpressureProtocol = errors.New("backpressure protocol violation")

	// ErrClosed is returned by reads on a closed request.
	ErrClosed = errors.New("prefetch request closed")
)

// Error describes a failure of one fetched range.
type Error struct {
	Kind   error
	Bucket string
	Key    string
	Range  Range
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: s3://%s/%s %s", e.Kind, e.Bucket, e.Key, e.Range)
	}
	return fmt.Sprintf("%v: s3://%s/%s %s: %v", e.Kind, e.Bucket, e.Key, e.Range, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Fatal reports whether the failure poisons the whole request.
func (e *Error) Fatal() bool {
	return e.Kind == ErrIntegrity || e.Kind == ErrInvalidOffset
}

// IsFatal reports whether err poisons a request.
func IsFatal(err error) bool {
	return errors.Is(err, ErrIntegrity) || errors.Is(err, ErrInvalidOffset)
}

// kindOf maps an error returned by a Client onto the engine's taxonomy.
func kindOf(err error) error {
	switch {
	case errors.Is(err, ErrIntegrity):
		return ErrIntegrity
	case errors.Is(err, ErrInvalidOffset):
		return ErrInvalidOffset
	case errors.Is(err, ErrBackpressureProtocol):
		return ErrBackpressureProtocol
	default:
		return ErrRangeFetch
	}
}
