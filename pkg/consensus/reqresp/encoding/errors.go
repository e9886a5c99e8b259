package encoding

import (
	"github.com/pkg/errors"
)

// Decode error kinds. Use errors.Is against these to classify a DecodeError.
var (
	ErrTooLarge         = errors.New("payload too large")
	ErrInvalidVarint    = errors.New("invalid varint length prefix")
	ErrChecksumMismatch = errors.New("invalid snappy frame")
	ErrTypeMismatch     = errors.New("payload does not match expected type")
	ErrUnexpectedEnd    = errors.New("unexpected end of stream")
)

// DecodeError is returned for any malformed input read from a stream.
type DecodeError struct {
	Kind error
	Err  error
}

// NewDecodeError returns a DecodeError of the given kind.
func NewDecodeError(kind, err error) *DecodeError {
	return &DecodeError{Kind: kind, Err: err}
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}

	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}
