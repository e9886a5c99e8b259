package reqresp

import "fmt"

// ResultCode is the first byte of every response chunk.
type ResultCode uint8

const (
	// ResultSuccess precedes a payload.
	ResultSuccess ResultCode = 0
	// ResultInvalidRequest means the request could not be decoded or was
	// rejected as invalid.
	ResultInvalidRequest ResultCode = 1
	// ResultServerError means the responder failed while processing a valid
	// request.
	ResultServerError ResultCode = 2
	// ResultResourceUnavailable means the responder does not have the data,
	// or the requester is being rate limited.
	ResultResourceUnavailable ResultCode = 3
)

// String returns the string representation of the result code.
func (c ResultCode) String() string {
	switch c {
	case ResultSuccess:
		return "success"
	case ResultInvalidRequest:
		return "invalid_request"
	case ResultServerError:
		return "server_error"
	case ResultResourceUnavailable:
		return "resource_unavailable"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// IsError returns true if the code is anything but success.
func (c ResultCode) IsError() bool {
	return c != ResultSuccess
}
