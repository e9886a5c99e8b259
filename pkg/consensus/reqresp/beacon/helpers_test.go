package beacon

import (
	"context"
	"io"
	"iter"
	"testing"

	"github.com/OffchainLabs/prysm/v6/consensus-types/primitives"
	pb "github.com/OffchainLabs/prysm/v6/proto/prysm/v1alpha1"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/ethpandaops/reqresp/pkg/consensus/reqresp"
	"github.com/ethpandaops/reqresp/pkg/ethereum"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/prysmaticlabs/go-bitfield"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

// testForks activates altair at slot 32.
func testForks(t *testing.T) *ethereum.ForkContext {
	t.Helper()

	schedule, err := ethereum.NewForkSchedule(phase0.Root{0xbb}, 32, map[ethereum.ForkName]ethereum.ForkConfig{
		ethereum.ForkPhase0:    {Version: phase0.Version{0x00, 0x00, 0x00, 0x02}, Epoch: 0},
		ethereum.ForkAltair:    {Version: phase0.Version{0x01, 0x00, 0x00, 0x02}, Epoch: 1},
		ethereum.ForkBellatrix: {Version: phase0.Version{0x02, 0x00, 0x00, 0x02}, Epoch: 2},
		ethereum.ForkCapella:   {Version: phase0.Version{0x03, 0x00, 0x00, 0x02}, Epoch: 3},
		ethereum.ForkDeneb:     {Version: phase0.Version{0x04, 0x00, 0x00, 0x02}, Epoch: 4},
	})
	require.NoError(t, err)

	return ethereum.NewPinnedForkContext(schedule, ethereum.ForkAltair)
}

func phase0Block(slot uint64) *pb.SignedBeaconBlock {
	return &pb.SignedBeaconBlock{
		Block: &pb.BeaconBlock{
			Slot:       primitives.Slot(slot),
			ParentRoot: make([]byte, 32),
			StateRoot:  make([]byte, 32),
			Body: &pb.BeaconBlockBody{
				RandaoReveal: make([]byte, 96),
				Eth1Data: &pb.Eth1Data{
					DepositRoot: make([]byte, 32),
					BlockHash:   make([]byte, 32),
				},
				Graffiti: make([]byte, 32),
			},
		},
		Signature: make([]byte, 96),
	}
}

func altairBlock(slot uint64) *pb.SignedBeaconBlockAltair {
	return &pb.SignedBeaconBlockAltair{
		Block: &pb.BeaconBlockAltair{
			Slot:       primitives.Slot(slot),
			ParentRoot: make([]byte, 32),
			StateRoot:  make([]byte, 32),
			Body: &pb.BeaconBlockBodyAltair{
				RandaoReveal: make([]byte, 96),
				Eth1Data: &pb.Eth1Data{
					DepositRoot: make([]byte, 32),
					BlockHash:   make([]byte, 32),
				},
				Graffiti: make([]byte, 32),
				SyncAggregate: &pb.SyncAggregate{
					SyncCommitteeBits:      bitfield.NewBitvector512(),
					SyncCommitteeSignature: make([]byte, 96),
				},
			},
		},
		Signature: make([]byte, 96),
	}
}

// blockAt returns a block of the fork active at slot.
func blockAt(forks SlotForks, slot uint64) reqresp.SSZObject {
	if forks.ForkAtSlot(phase0.Slot(slot)) == ethereum.ForkPhase0 {
		return phase0Block(slot)
	}

	return altairBlock(slot)
}

func blockResponse(slot uint64) *reqresp.Response {
	return &reqresp.Response{Value: phase0Block(slot)}
}

// serveBlocks answers blocks by range with one block per slot of the range.
func serveBlocks(forks SlotForks) reqresp.Handler {
	return func(_ context.Context, req *reqresp.IncomingRequest) iter.Seq2[reqresp.EncodedPayload, error] {
		return func(yield func(reqresp.EncodedPayload, error) bool) {
			r, ok := req.Body.(*pb.BeaconBlocksByRangeRequest)
			if !ok {
				yield(nil, reqresp.NewResponseError(reqresp.ResultInvalidRequest, "unexpected body %T", req.Body))

				return
			}

			for i := range r.GetCount() {
				payload, err := Payload(forks, blockAt(forks, uint64(r.GetStartSlot())+i*max(r.GetStep(), 1)))
				if !yield(payload, err) || err != nil {
					return
				}
			}
		}
	}
}

type testPeer struct {
	host    host.Host
	service *reqresp.ReqResp
}

func newTestPeer(t *testing.T, forks *ethereum.ForkContext, defs []*reqresp.ProtocolDefinition) *testPeer {
	t.Helper()

	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = h.Close()
	})

	service, err := reqresp.New(testLogger(), reqresp.NewHostTransport(h), forks, reqresp.DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, service.Register(defs...))
	require.NoError(t, service.Start(context.Background()))

	t.Cleanup(func() {
		_ = service.Stop()
	})

	return &testPeer{host: h, service: service}
}
