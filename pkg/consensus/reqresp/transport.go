package reqresp

import (
	"context"
	"io"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/ethpandaops/reqresp/pkg/ethereum"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// Stream is a bidirectional, half-closable stream with a negotiated
// protocol.
type Stream interface {
	io.ReadWriteCloser

	CloseWrite() error
	CloseRead() error
	Reset() error

	Protocol() protocol.ID
	RemotePeer() peer.ID
}

// StreamHandler is called for every inbound stream of a protocol.
type StreamHandler func(Stream)

// Transport opens and accepts streams. When several protocol ids are
// offered, NewStream negotiates the first one the remote supports.
type Transport interface {
	NewStream(ctx context.Context, p peer.ID, pids ...protocol.ID) (Stream, error)
	SetStreamHandler(pid protocol.ID, handler StreamHandler)
	RemoveStreamHandler(pid protocol.ID)
}

// ForkContext resolves forks and their digests for context bytes.
type ForkContext interface {
	CurrentFork() ethereum.ForkName
	ForkDigest(fork ethereum.ForkName) (phase0.ForkDigest, error)
	ForkFromDigest(digest phase0.ForkDigest) (ethereum.ForkName, error)
}

var _ ForkContext = (*ethereum.ForkContext)(nil)

// HostTransport adapts a libp2p host to Transport.
type HostTransport struct {
	host host.Host
}

// NewHostTransport returns a Transport backed by h.
func NewHostTransport(h host.Host) *HostTransport {
	return &HostTransport{host: h}
}

// NewStream opens a stream to p, negotiating one of pids in order.
func (t *HostTransport) NewStream(ctx context.Context, p peer.ID, pids ...protocol.ID) (Stream, error) {
	s, err := t.host.NewStream(ctx, p, pids...)
	if err != nil {
		return nil, err
	}

	return &hostStream{Stream: s}, nil
}

// SetStreamHandler routes inbound streams of pid to handler.
func (t *HostTransport) SetStreamHandler(pid protocol.ID, handler StreamHandler) {
	t.host.SetStreamHandler(pid, func(s network.Stream) {
		handler(&hostStream{Stream: s})
	})
}

// RemoveStreamHandler stops accepting streams of pid.
func (t *HostTransport) RemoveStreamHandler(pid protocol.ID) {
	t.host.RemoveStreamHandler(pid)
}

type hostStream struct {
	network.Stream
}

func (s *hostStream) RemotePeer() peer.ID {
	return s.Conn().RemotePeer()
}
