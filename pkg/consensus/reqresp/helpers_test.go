package reqresp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/ethpandaops/reqresp/pkg/ethereum"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var errStreamReset = errors.New("stream reset")

// pipeStream is one end of an in-memory duplex stream.
type pipeStream struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	proto  protocol.ID
	remote peer.ID
}

func newPipeStreams(proto protocol.ID, a, b peer.ID) (*pipeStream, *pipeStream) {
	abR, abW := io.Pipe()
	baR, baW := io.Pipe()

	return &pipeStream{r: baR, w: abW, proto: proto, remote: b},
		&pipeStream{r: abR, w: baW, proto: proto, remote: a}
}

func (s *pipeStream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *pipeStream) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *pipeStream) CloseWrite() error           { return s.w.Close() }
func (s *pipeStream) CloseRead() error            { return s.r.Close() }
func (s *pipeStream) Protocol() protocol.ID       { return s.proto }
func (s *pipeStream) RemotePeer() peer.ID         { return s.remote }

func (s *pipeStream) Close() error {
	_ = s.w.Close()

	return s.r.Close()
}

func (s *pipeStream) Reset() error {
	_ = s.w.CloseWithError(errStreamReset)

	return s.r.CloseWithError(errStreamReset)
}

// memNetwork connects memTransports by peer id.
type memNetwork struct {
	mu    sync.Mutex
	nodes map[peer.ID]*memTransport
}

func newMemNetwork() *memNetwork {
	return &memNetwork{nodes: make(map[peer.ID]*memTransport)}
}

func (n *memNetwork) transport(id peer.ID) *memTransport {
	n.mu.Lock()
	defer n.mu.Unlock()

	t := &memTransport{self: id, net: n, handlers: make(map[protocol.ID]StreamHandler)}
	n.nodes[id] = t

	return t
}

type memTransport struct {
	self peer.ID
	net  *memNetwork

	mu       sync.Mutex
	handlers map[protocol.ID]StreamHandler
	// dialDelay blocks NewStream until it elapses or ctx is done.
	dialDelay time.Duration
}

func (t *memTransport) NewStream(ctx context.Context, p peer.ID, pids ...protocol.ID) (Stream, error) {
	if t.dialDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.dialDelay):
		}
	}

	t.net.mu.Lock()
	remote, ok := t.net.nodes[p]
	t.net.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("peer %s not found", p)
	}

	for _, pid := range pids {
		remote.mu.Lock()
		handler, ok := remote.handlers[pid]
		remote.mu.Unlock()

		if !ok {
			continue
		}

		local, inbound := newPipeStreams(pid, t.self, p)

		go handler(inbound)

		return local, nil
	}

	return nil, fmt.Errorf("protocols not supported: %v", pids)
}

func (t *memTransport) SetStreamHandler(pid protocol.ID, handler StreamHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handlers[pid] = handler
}

func (t *memTransport) RemoveStreamHandler(pid protocol.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.handlers, pid)
}

func (t *memTransport) hasHandler(pid protocol.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.handlers[pid]

	return ok
}

// testUint64 is a fixed size 8 byte SSZ value.
type testUint64 uint64

func (u *testUint64) MarshalSSZ() ([]byte, error) { return u.MarshalSSZTo(nil) }
func (u *testUint64) SizeSSZ() int                { return 8 }

func (u *testUint64) MarshalSSZTo(dst []byte) ([]byte, error) {
	return binary.LittleEndian.AppendUint64(dst, uint64(*u)), nil
}

func (u *testUint64) UnmarshalSSZ(buf []byte) error {
	if len(buf) != 8 {
		return fmt.Errorf("expected 8 bytes, got %d", len(buf))
	}

	*u = testUint64(binary.LittleEndian.Uint64(buf))

	return nil
}

// testPair is a fixed size 16 byte SSZ value.
type testPair struct {
	A uint64
	B uint64
}

func (p *testPair) MarshalSSZ() ([]byte, error) { return p.MarshalSSZTo(nil) }
func (p *testPair) SizeSSZ() int                { return 16 }

func (p *testPair) MarshalSSZTo(dst []byte) ([]byte, error) {
	dst = binary.LittleEndian.AppendUint64(dst, p.A)

	return binary.LittleEndian.AppendUint64(dst, p.B), nil
}

func (p *testPair) UnmarshalSSZ(buf []byte) error {
	if len(buf) != 16 {
		return fmt.Errorf("expected 16 bytes, got %d", len(buf))
	}

	p.A = binary.LittleEndian.Uint64(buf[:8])
	p.B = binary.LittleEndian.Uint64(buf[8:])

	return nil
}

var (
	uint64Type = FixedSSZType("Uint64", 8, func() SSZObject { return new(testUint64) })
	pairType   = FixedSSZType("Pair", 16, func() SSZObject { return new(testPair) })
)

func u64(v uint64) *testUint64 {
	u := testUint64(v)

	return &u
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)
	log.SetOutput(io.Discard)

	return log
}

func testForkContext(t *testing.T, current ethereum.ForkName) *ethereum.ForkContext {
	t.Helper()

	schedule, err := ethereum.NewForkSchedule(phase0.Root{0xaa}, 32, map[ethereum.ForkName]ethereum.ForkConfig{
		ethereum.ForkPhase0: {Version: phase0.Version{0x00, 0x00, 0x00, 0x01}, Epoch: 0},
		ethereum.ForkAltair: {Version: phase0.Version{0x01, 0x00, 0x00, 0x01}, Epoch: 10},
	})
	require.NoError(t, err)

	return ethereum.NewPinnedForkContext(schedule, current)
}

func testConfig() Config {
	config := DefaultConfig()

	return config
}

type testNode struct {
	id        peer.ID
	transport *memTransport
	service   *ReqResp
}

func newTestNode(t *testing.T, network *memNetwork, id peer.ID, config Config, opts ...Option) *testNode {
	t.Helper()

	transport := network.transport(id)

	service, err := New(testLogger(), transport, testForkContext(t, ethereum.ForkAltair), config, opts...)
	require.NoError(t, err)

	require.NoError(t, service.Start(context.Background()))
	t.Cleanup(func() {
		_ = service.Stop()
	})

	return &testNode{id: id, transport: transport, service: service}
}

// items yields the given payloads in order.
func items(payloads ...EncodedPayload) iter.Seq2[EncodedPayload, error] {
	return func(yield func(EncodedPayload, error) bool) {
		for _, p := range payloads {
			if !yield(p, nil) {
				return
			}
		}
	}
}

// itemsThenError yields payloads and then err.
func itemsThenError(err error, payloads ...EncodedPayload) iter.Seq2[EncodedPayload, error] {
	return func(yield func(EncodedPayload, error) bool) {
		for _, p := range payloads {
			if !yield(p, nil) {
				return
			}
		}

		yield(nil, err)
	}
}

func echoDefinition(method string, version uint) *ProtocolDefinition {
	return &ProtocolDefinition{
		Method:         method,
		Version:        version,
		RequestType:    StaticType(uint64Type),
		ResponseType:   StaticType(uint64Type),
		SingleResponse: true,
		ContextBytes:   ContextBytesEmpty,
		Handler: func(_ context.Context, req *IncomingRequest) iter.Seq2[EncodedPayload, error] {
			body, _ := req.Body.(*testUint64)

			return items(TypedPayload{Value: u64(uint64(*body) + 1), Fork: req.Fork})
		},
	}
}

// countingDefinition answers with count values starting at the request.
func countingDefinition(method string, count int) *ProtocolDefinition {
	return &ProtocolDefinition{
		Method:       method,
		Version:      1,
		RequestType:  StaticType(uint64Type),
		ResponseType: StaticType(uint64Type),
		ContextBytes: ContextBytesEmpty,
		Handler: func(_ context.Context, req *IncomingRequest) iter.Seq2[EncodedPayload, error] {
			start := uint64(*req.Body.(*testUint64))

			return func(yield func(EncodedPayload, error) bool) {
				for i := range count {
					if !yield(TypedPayload{Value: u64(start + uint64(i)), Fork: req.Fork}, nil) {
						return
					}
				}
			}
		},
	}
}

func values(t *testing.T, responses []*Response) []uint64 {
	t.Helper()

	out := make([]uint64, 0, len(responses))

	for _, resp := range responses {
		v, ok := resp.Value.(*testUint64)
		require.True(t, ok, "unexpected response type %T", resp.Value)

		out = append(out, uint64(*v))
	}

	return out
}
