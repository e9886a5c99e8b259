package beacon

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	pb "github.com/OffchainLabs/prysm/v6/proto/prysm/v1alpha1"
	"github.com/ethpandaops/reqresp/pkg/consensus/reqresp"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/prysmaticlabs/go-bitfield"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertSequentialBlocksInRange(t *testing.T) {
	blocks := func(slots ...uint64) []*reqresp.Response {
		out := make([]*reqresp.Response, 0, len(slots))
		for _, slot := range slots {
			out = append(out, blockResponse(slot))
		}

		return out
	}

	tests := []struct {
		name    string
		blocks  []*reqresp.Response
		req     *pb.BeaconBlocksByRangeRequest
		wantErr bool
	}{
		{"full range", blocks(10, 11, 12), &pb.BeaconBlocksByRangeRequest{StartSlot: 10, Count: 3, Step: 1}, false},
		{"skipped slots", blocks(10, 12), &pb.BeaconBlocksByRangeRequest{StartSlot: 10, Count: 3, Step: 1}, false},
		{"empty", nil, &pb.BeaconBlocksByRangeRequest{StartSlot: 10, Count: 3, Step: 1}, false},
		{"zero step counts as one", blocks(5, 6), &pb.BeaconBlocksByRangeRequest{StartSlot: 5, Count: 2}, false},
		{"stepped", blocks(0, 4, 8), &pb.BeaconBlocksByRangeRequest{StartSlot: 0, Count: 3, Step: 4}, false},
		{"too many", blocks(10, 11, 12), &pb.BeaconBlocksByRangeRequest{StartSlot: 10, Count: 2, Step: 1}, true},
		{"before start", blocks(9, 10), &pb.BeaconBlocksByRangeRequest{StartSlot: 10, Count: 3, Step: 1}, true},
		{"past end", blocks(10, 13), &pb.BeaconBlocksByRangeRequest{StartSlot: 10, Count: 3, Step: 1}, true},
		{"off step", blocks(0, 3), &pb.BeaconBlocksByRangeRequest{StartSlot: 0, Count: 3, Step: 2}, true},
		{"out of order", blocks(11, 10), &pb.BeaconBlocksByRangeRequest{StartSlot: 10, Count: 3, Step: 1}, true},
		{"duplicate", blocks(10, 10), &pb.BeaconBlocksByRangeRequest{StartSlot: 10, Count: 3, Step: 1}, true},
		{"off step with saturated end", blocks(10, 11), &pb.BeaconBlocksByRangeRequest{StartSlot: 10, Count: math.MaxUint64, Step: 2}, true},
		{"huge count", blocks(10, 11), &pb.BeaconBlocksByRangeRequest{StartSlot: 10, Count: math.MaxUint64, Step: 1}, false},
		{"huge start", blocks(math.MaxUint64 - 1), &pb.BeaconBlocksByRangeRequest{StartSlot: math.MaxUint64 - 1, Count: 4, Step: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AssertSequentialBlocksInRange(tt.blocks, tt.req)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidBlockRange)

				return
			}

			require.NoError(t, err)
		})
	}
}

func TestRangeEnd(t *testing.T) {
	tests := []struct {
		name  string
		start uint64
		count uint64
		step  uint64
		want  uint64
	}{
		{"simple", 10, 3, 1, 13},
		{"stepped", 0, 3, 4, 12},
		{"product overflows", 0, math.MaxUint64, 2, math.MaxUint64},
		{"sum overflows", math.MaxUint64 - 1, 4, 1, math.MaxUint64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rangeEnd(tt.start, tt.count, tt.step))
		})
	}
}

func TestLocalNode(t *testing.T) {
	node := NewLocalNode(testLogger())

	assert.Equal(t, uint64(0), node.SeqNumber())

	node.SetStatus(&common.Status{HeadSlot: 10})
	assert.Equal(t, common.Slot(10), node.GetStatus().HeadSlot)

	attnets := bitfield.NewBitvector64()
	attnets.SetBitAt(5, true)

	require.NoError(t, node.SetSubnets(attnets, bitfield.NewBitvector4()))
	assert.Equal(t, uint64(1), node.SeqNumber())

	md := node.MetadataV1()
	assert.True(t, md.GetAttnets().BitAt(5))

	// The returned metadata is a copy.
	md.Attnets.SetBitAt(6, true)
	assert.False(t, node.MetadataV1().GetAttnets().BitAt(6))

	t.Run("invalid subnets", func(t *testing.T) {
		require.Error(t, node.SetSubnets(bitfield.Bitvector64{0x01}, bitfield.NewBitvector4()))
		require.Error(t, node.SetSubnets(bitfield.NewBitvector64(), bitfield.Bitvector4{}))
		assert.Equal(t, uint64(1), node.SeqNumber())
	})
}

func TestLocalNodeStatusUpdates(t *testing.T) {
	node := NewLocalNode(testLogger())

	var calls atomic.Int64

	fetch := func(_ context.Context) (*common.Status, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("beacon node not ready")
		}

		return &common.Status{HeadSlot: common.Slot(calls.Load())}, nil
	}

	require.NoError(t, node.StartStatusUpdates(context.Background(), 20*time.Millisecond, fetch))

	require.Eventually(t, func() bool {
		return node.GetStatus().HeadSlot >= 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, node.Stop())
	require.NoError(t, node.Stop())
}

func TestClientRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping libp2p test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	forks := testForks(t)

	local := NewLocalNode(testLogger())
	local.SetStatus(&common.Status{HeadSlot: 42, FinalizedEpoch: 1})

	attnets := bitfield.NewBitvector64()
	attnets.SetBitAt(3, true)
	require.NoError(t, local.SetSubnets(attnets, bitfield.NewBitvector4()))

	statuses := make(chan *PeerStatus, 1)
	local.OnPeerStatus(func(s *PeerStatus) { statuses <- s })

	goodbyes := make(chan *PeerGoodbye, 1)
	local.OnPeerGoodbye(func(g *PeerGoodbye) { goodbyes <- g })

	server := newTestPeer(t, forks, Definitions(local.Handlers(Handlers{BeaconBlocksByRange: serveBlocks(forks)})))
	requester := newTestPeer(t, forks, Definitions(Handlers{}))

	require.NoError(t, requester.host.Connect(ctx, peer.AddrInfo{ID: server.host.ID(), Addrs: server.host.Addrs()}))

	client := NewClient(requester.service)
	serverID := server.host.ID()

	t.Run("status", func(t *testing.T) {
		theirs, err := client.Status(ctx, serverID, &common.Status{HeadSlot: 5})
		require.NoError(t, err)
		assert.Equal(t, common.Slot(42), theirs.HeadSlot)
		assert.Equal(t, common.Epoch(1), theirs.FinalizedEpoch)

		select {
		case s := <-statuses:
			assert.Equal(t, requester.host.ID(), s.PeerID)
			assert.Equal(t, common.Slot(5), s.Status.HeadSlot)
		case <-ctx.Done():
			t.Fatal("no peer status event")
		}
	})

	t.Run("ping", func(t *testing.T) {
		seq, err := client.Ping(ctx, serverID, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), seq)
	})

	t.Run("metadata", func(t *testing.T) {
		md, err := client.Metadata(ctx, serverID)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), md.GetSeqNumber())
		assert.True(t, md.GetAttnets().BitAt(3))
		assert.Len(t, md.GetSyncnets(), 1)
	})

	t.Run("blocks by range across a fork", func(t *testing.T) {
		blocks, err := client.BeaconBlocksByRange(ctx, serverID, &pb.BeaconBlocksByRangeRequest{StartSlot: 30, Count: 4, Step: 1})
		require.NoError(t, err)
		require.Len(t, blocks, 4)

		assert.IsType(t, &pb.SignedBeaconBlock{}, blocks[0].Value)
		assert.IsType(t, &pb.SignedBeaconBlock{}, blocks[1].Value)
		assert.IsType(t, &pb.SignedBeaconBlockAltair{}, blocks[2].Value)
		assert.IsType(t, &pb.SignedBeaconBlockAltair{}, blocks[3].Value)
		assert.Equal(t, uint(2), blocks[0].Protocol.Version)
	})

	t.Run("goodbye", func(t *testing.T) {
		require.NoError(t, client.Goodbye(ctx, serverID, 3))

		select {
		case g := <-goodbyes:
			assert.Equal(t, common.Goodbye(3), g.Reason)
		case <-ctx.Done():
			t.Fatal("no peer goodbye event")
		}
	})

	t.Run("unserved method", func(t *testing.T) {
		_, err := client.LightClientFinalityUpdate(ctx, serverID)
		require.ErrorIs(t, err, reqresp.ErrDialFailure)
	})

	t.Run("metadata over version 1", func(t *testing.T) {
		var v1Only []*reqresp.ProtocolDefinition

		for _, def := range Definitions(Handlers{}) {
			if def.Method == MethodMetadata && def.Version == 1 {
				v1Only = append(v1Only, def)
			}
		}

		old := newTestPeer(t, forks, v1Only)
		require.NoError(t, old.host.Connect(ctx, peer.AddrInfo{ID: serverID, Addrs: server.host.Addrs()}))

		md, err := NewClient(old.service).Metadata(ctx, serverID)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), md.GetSeqNumber())
		assert.True(t, md.GetAttnets().BitAt(3))
		assert.Equal(t, bitfield.NewBitvector4(), md.GetSyncnets())
	})
}
