package reqresp

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/ethpandaops/reqresp/pkg/consensus/reqresp/ratelimit"
	"github.com/ethpandaops/reqresp/pkg/ethereum"
	"github.com/libp2p/go-libp2p/core/peer"
)

// IncomingRequest is a decoded inbound request handed to a Handler.
type IncomingRequest struct {
	Protocol ProtocolID
	PeerID   peer.ID
	// Fork is the fork the request body was decoded with.
	Fork ethereum.ForkName
	// Body is nil for methods without a request body.
	Body SSZObject
}

// Handler produces the response items of a request lazily. The service
// pulls one item at a time and writes it before pulling the next. A non-nil
// error ends the response; a *ResponseError is sent as is, anything else as
// a generic server error.
type Handler func(ctx context.Context, req *IncomingRequest) iter.Seq2[EncodedPayload, error]

// InboundRateLimits are the quotas applied to requests received for a
// method.
type InboundRateLimits struct {
	ByPeer ratelimit.Quota
	Total  *ratelimit.Quota
	// RequestCount is the quota cost of a request. Nil means one.
	RequestCount func(body SSZObject) uint64
}

// ProtocolDefinition is everything the service needs to speak one version of
// one method.
type ProtocolDefinition struct {
	Method   string
	Version  uint
	Encoding Encoding

	// RequestType is nil, or returns a nil type, for methods without a
	// request body.
	RequestType  TypeResolver
	ResponseType TypeResolver

	SingleResponse bool
	ContextBytes   ContextBytesType

	// RateLimits is nil for methods that are never rate limited.
	RateLimits *InboundRateLimits

	// RenderRequestBody formats a request body for logs.
	RenderRequestBody func(body SSZObject) string

	// Handler serves inbound requests. Definitions without a handler are
	// only used for outbound requests.
	Handler Handler
}

// ProtocolID returns the id the definition is registered under.
func (d *ProtocolDefinition) ProtocolID() ProtocolID {
	enc := d.Encoding
	if enc == "" {
		enc = EncodingSSZSnappy
	}

	return ProtocolID{Method: d.Method, Version: d.Version, Encoding: enc}
}

func (d *ProtocolDefinition) requestType(fork ethereum.ForkName) (*SSZType, error) {
	if d.RequestType == nil {
		return nil, nil
	}

	return d.RequestType(fork)
}

func (d *ProtocolDefinition) renderBody(body SSZObject) string {
	if body == nil {
		return ""
	}

	if d.RenderRequestBody == nil {
		return fmt.Sprintf("%T", body)
	}

	return d.RenderRequestBody(body)
}

func (d *ProtocolDefinition) requestCount(body SSZObject) uint64 {
	if d.RateLimits == nil || d.RateLimits.RequestCount == nil || body == nil {
		return 1
	}

	return d.RateLimits.RequestCount(body)
}

func (d *ProtocolDefinition) validate() error {
	if d.Method == "" || strings.Contains(d.Method, "/") {
		return fmt.Errorf("invalid method name %q", d.Method)
	}

	if d.Version == 0 {
		return fmt.Errorf("%s: version must be at least 1", d.Method)
	}

	if d.Encoding != "" && d.Encoding != EncodingSSZSnappy {
		return fmt.Errorf("%s: unsupported encoding %q", d.Method, d.Encoding)
	}

	if d.ResponseType == nil {
		return fmt.Errorf("%s: response type is required", d.Method)
	}

	if d.ContextBytes != ContextBytesEmpty && d.ContextBytes != ContextBytesForkDigest {
		return fmt.Errorf("%s: invalid context bytes type %d", d.Method, d.ContextBytes)
	}

	return nil
}
