package reqresp

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/reqresp/pkg/ethereum"
)

// Error kinds. A *RequestError unwraps to exactly one of these, so callers
// classify failures with errors.Is.
var (
	// ErrDialFailure indicates no stream could be opened to the peer.
	ErrDialFailure = errors.New("dial failure")
	// ErrSendFailure indicates the request could not be written.
	ErrSendFailure = errors.New("send failure")
	// ErrDecodeFailure indicates a response chunk could not be read or decoded.
	ErrDecodeFailure = errors.New("decode failure")
	// ErrResponseStatus indicates the peer answered with a non-success chunk.
	ErrResponseStatus = errors.New("error response")
	// ErrEmptyResponse indicates a single-response method returned no chunk.
	ErrEmptyResponse = errors.New("empty response")
	// ErrRateLimited indicates an inbound request exceeded its quota.
	ErrRateLimited = errors.New("rate limited")
	// ErrTimeout indicates a stage deadline elapsed.
	ErrTimeout = errors.New("timeout")
	// ErrUnknownProtocol indicates a protocol id is malformed or not registered.
	ErrUnknownProtocol = errors.New("unknown protocol")
	// ErrUnknownFork indicates a fork or fork digest is not supported.
	ErrUnknownFork = ethereum.ErrUnknownFork
	// ErrProtocolExists indicates a definition is already registered.
	ErrProtocolExists = errors.New("protocol already registered")
	// ErrServiceStopped indicates the service is not running.
	ErrServiceStopped = errors.New("service stopped")
)

// Stage names the part of a request a failure or timeout happened in.
type Stage string

const (
	StageDial     Stage = "dial"
	StageRequest  Stage = "request"
	StageTTFB     Stage = "ttfb"
	StageResponse Stage = "response"
)

// RequestError is returned for every failed outbound request.
type RequestError struct {
	// Kind is one of the error kind sentinels, or the context error when the
	// caller gave up.
	Kind  error
	Stage Stage

	// Status and Message are set for ErrResponseStatus.
	Status  ResultCode
	Message string

	Err error
}

func (e *RequestError) Error() string {
	var msg string

	switch {
	case errors.Is(e.Kind, ErrResponseStatus):
		msg = fmt.Sprintf("%s: %s %q", e.Kind, e.Status, e.Message)
	case e.Stage != "":
		msg = fmt.Sprintf("%s (%s)", e.Kind, e.Stage)
	default:
		msg = e.Kind.Error()
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *RequestError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// ResponseError is returned by handlers to send a specific result code and
// message to the requester. Any other handler error is sent as a generic
// server error.
type ResponseError struct {
	Status  ResultCode
	Message string
}

// NewResponseError returns a ResponseError with a formatted message.
func NewResponseError(status ResultCode, format string, args ...any) *ResponseError {
	return &ResponseError{Status: status, Message: fmt.Sprintf(format, args...)}
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}
