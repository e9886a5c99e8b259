// Package reqresp implements the Ethereum consensus Request/Response
// protocol: versioned, fork-aware ssz_snappy messages exchanged over
// multiplexed streams.
package reqresp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/libp2p/go-libp2p/core/protocol"
)

// ProtocolPrefix is shared by every beacon chain ReqResp protocol id.
const ProtocolPrefix = "/eth2/beacon_chain/req"

// Encoding is the wire encoding named in a protocol id.
type Encoding string

// EncodingSSZSnappy is the only encoding in use on mainnet.
const EncodingSSZSnappy Encoding = "ssz_snappy"

// ProtocolID identifies one version of one method.
type ProtocolID struct {
	Method   string
	Version  uint
	Encoding Encoding
}

// NewProtocolID returns the ssz_snappy protocol id of method at version.
func NewProtocolID(method string, version uint) ProtocolID {
	return ProtocolID{Method: method, Version: version, Encoding: EncodingSSZSnappy}
}

// String returns the canonical form
// /eth2/beacon_chain/req/{method}/{version}/{encoding}.
func (p ProtocolID) String() string {
	return fmt.Sprintf("%s/%s/%d/%s", ProtocolPrefix, p.Method, p.Version, p.Encoding)
}

// ID returns the libp2p protocol id.
func (p ProtocolID) ID() protocol.ID {
	return protocol.ID(p.String())
}

// ParseProtocolID parses the canonical string form of a protocol id.
func ParseProtocolID(s string) (ProtocolID, error) {
	rest, ok := strings.CutPrefix(s, ProtocolPrefix+"/")
	if !ok {
		return ProtocolID{}, fmt.Errorf("%w: %q is not a beacon chain protocol", ErrUnknownProtocol, s)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return ProtocolID{}, fmt.Errorf("%w: %q is malformed", ErrUnknownProtocol, s)
	}

	method, rawVersion, encoding := parts[0], parts[1], parts[2]
	if method == "" {
		return ProtocolID{}, fmt.Errorf("%w: %q has no method", ErrUnknownProtocol, s)
	}

	if rawVersion == "" || rawVersion[0] < '0' || rawVersion[0] > '9' {
		return ProtocolID{}, fmt.Errorf("%w: %q has an invalid version", ErrUnknownProtocol, s)
	}

	version, err := strconv.ParseUint(rawVersion, 10, 32)
	if err != nil {
		return ProtocolID{}, fmt.Errorf("%w: %q has an invalid version: %w", ErrUnknownProtocol, s, err)
	}

	if Encoding(encoding) != EncodingSSZSnappy {
		return ProtocolID{}, fmt.Errorf("%w: %q has unsupported encoding", ErrUnknownProtocol, s)
	}

	return ProtocolID{Method: method, Version: uint(version), Encoding: EncodingSSZSnappy}, nil
}
