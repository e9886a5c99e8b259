package beacon

import (
	"context"
	"fmt"
	"math"
	"math/bits"

	pb "github.com/OffchainLabs/prysm/v6/proto/prysm/v1alpha1"
	"github.com/ethpandaops/reqresp/pkg/consensus/reqresp"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"
	"github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/prysmaticlabs/go-bitfield"
)

// ErrInvalidBlockRange is returned when a peer answers a blocks by range
// request with blocks outside the requested range or out of order.
var ErrInvalidBlockRange = errors.New("blocks not sequential in requested range")

// Client sends typed beacon chain requests.
type Client struct {
	rr *reqresp.ReqResp
}

// NewClient returns a client sending requests through rr. rr must have the
// beacon definitions registered.
func NewClient(rr *reqresp.ReqResp) *Client {
	return &Client{rr: rr}
}

// Status exchanges statuses with p.
func (c *Client) Status(ctx context.Context, p peer.ID, status *common.Status) (*common.Status, error) {
	resp, err := c.rr.RequestSingle(ctx, p, MethodStatus, WrapZtyp(status))
	if err != nil {
		return nil, err
	}

	return unwrapZtyp[*common.Status](resp.Value)
}

// Goodbye tells p we are disconnecting. Peers may close the stream without
// answering.
func (c *Client) Goodbye(ctx context.Context, p peer.ID, reason common.Goodbye) error {
	_, err := c.rr.Request(ctx, p, MethodGoodbye, WrapZtyp(&reason), 1)

	return err
}

// Ping sends our metadata sequence number and returns the peer's.
func (c *Client) Ping(ctx context.Context, p peer.ID, seq uint64) (uint64, error) {
	ping := common.Ping(seq)

	resp, err := c.rr.RequestSingle(ctx, p, MethodPing, WrapZtyp(&ping))
	if err != nil {
		return 0, err
	}

	theirs, err := unwrapZtyp[*common.Ping](resp.Value)
	if err != nil {
		return 0, err
	}

	return uint64(*theirs), nil
}

// Metadata requests the metadata of p. Answers over version 1 come back
// with empty sync committee subnets.
func (c *Client) Metadata(ctx context.Context, p peer.ID) (*pb.MetaDataV1, error) {
	resp, err := c.rr.RequestSingle(ctx, p, MethodMetadata, nil)
	if err != nil {
		return nil, err
	}

	switch md := resp.Value.(type) {
	case *pb.MetaDataV1:
		return md, nil
	case *pb.MetaDataV0:
		return &pb.MetaDataV1{
			SeqNumber: md.GetSeqNumber(),
			Attnets:   md.GetAttnets(),
			Syncnets:  bitfield.NewBitvector4(),
		}, nil
	default:
		return nil, fmt.Errorf("unexpected metadata type %T", resp.Value)
	}
}

// BeaconBlocksByRange requests req.Count blocks and checks they are
// sequential within the requested range.
func (c *Client) BeaconBlocksByRange(ctx context.Context, p peer.ID, req *pb.BeaconBlocksByRangeRequest) ([]*reqresp.Response, error) {
	if req.GetCount() == 0 {
		return nil, nil
	}

	count := min(req.GetCount(), MaxRequestBlocks)

	blocks, err := c.rr.Request(ctx, p, MethodBeaconBlocksByRange, req, int(count)) //nolint:gosec // capped above.
	if err != nil {
		return nil, err
	}

	if err := AssertSequentialBlocksInRange(blocks, req); err != nil {
		return nil, err
	}

	return blocks, nil
}

// BeaconBlocksByRoot requests the blocks with the given roots.
func (c *Client) BeaconBlocksByRoot(ctx context.Context, p peer.ID, roots BlocksByRootRequest) ([]*reqresp.Response, error) {
	if len(roots) == 0 {
		return nil, nil
	}

	return c.rr.Request(ctx, p, MethodBeaconBlocksByRoot, &roots, len(roots))
}

// BlobSidecarsByRange requests the blob sidecars of req.Count slots.
func (c *Client) BlobSidecarsByRange(ctx context.Context, p peer.ID, req *pb.BlobSidecarsByRangeRequest) ([]*pb.BlobSidecar, error) {
	if req.GetCount() == 0 {
		return nil, nil
	}

	count := blobCount(min(req.GetCount(), MaxRequestBlocksDeneb))

	resps, err := c.rr.Request(ctx, p, MethodBlobSidecarsByRange, req, int(count)) //nolint:gosec // capped above.
	if err != nil {
		return nil, err
	}

	sidecars := make([]*pb.BlobSidecar, 0, len(resps))

	for _, resp := range resps {
		sidecar, ok := resp.Value.(*pb.BlobSidecar)
		if !ok {
			return nil, fmt.Errorf("unexpected blob sidecar type %T", resp.Value)
		}

		sidecars = append(sidecars, sidecar)
	}

	return sidecars, nil
}

// LightClientBootstrap requests the bootstrap for the given block root.
func (c *Client) LightClientBootstrap(ctx context.Context, p peer.ID, root Root) (*reqresp.Response, error) {
	return c.rr.RequestSingle(ctx, p, MethodLightClientBootstrap, &root)
}

// LightClientUpdatesByRange requests the best updates of req.Count sync
// committee periods.
func (c *Client) LightClientUpdatesByRange(ctx context.Context, p peer.ID, req *LightClientUpdatesByRangeRequest) ([]*reqresp.Response, error) {
	if req.Count == 0 {
		return nil, nil
	}

	count := min(req.Count, MaxRequestLightClientUpdates)

	return c.rr.Request(ctx, p, MethodLightClientUpdatesByRange, req, int(count)) //nolint:gosec // capped above.
}

// LightClientFinalityUpdate requests the latest finality update of p.
func (c *Client) LightClientFinalityUpdate(ctx context.Context, p peer.ID) (*reqresp.Response, error) {
	return c.rr.RequestSingle(ctx, p, MethodLightClientFinalityUpdate, nil)
}

// LightClientOptimisticUpdate requests the latest optimistic update of p.
func (c *Client) LightClientOptimisticUpdate(ctx context.Context, p peer.ID) (*reqresp.Response, error) {
	return c.rr.RequestSingle(ctx, p, MethodLightClientOptimisticUpdate, nil)
}

// AssertSequentialBlocksInRange checks that blocks answer req: no more than
// req.Count of them, strictly increasing slots, each a step away from the
// start slot and below the end of the range.
func AssertSequentialBlocksInRange(blocks []*reqresp.Response, req *pb.BeaconBlocksByRangeRequest) error {
	if uint64(len(blocks)) > req.GetCount() {
		return errors.Wrapf(ErrInvalidBlockRange, "got %d blocks for a count of %d", len(blocks), req.GetCount())
	}

	step := max(req.GetStep(), 1)
	start := uint64(req.GetStartSlot())
	end := rangeEnd(start, req.GetCount(), step)

	var prev uint64

	for i, block := range blocks {
		s, err := ResponseSlot(block.Value)
		if err != nil {
			return err
		}

		slot := uint64(s)

		if slot < start || slot >= end {
			return errors.Wrapf(ErrInvalidBlockRange, "slot %d outside [%d, %d)", slot, start, end)
		}

		if (slot-start)%step != 0 {
			return errors.Wrapf(ErrInvalidBlockRange, "slot %d not on step %d from %d", slot, step, start)
		}

		if i > 0 && slot <= prev {
			return errors.Wrapf(ErrInvalidBlockRange, "slot %d after slot %d", slot, prev)
		}

		prev = slot
	}

	return nil
}

// rangeEnd returns start+count*step, saturating at MaxUint64.
func rangeEnd(start, count, step uint64) uint64 {
	hi, span := bits.Mul64(count, step)
	if hi != 0 {
		return math.MaxUint64
	}

	end, carry := bits.Add64(start, span, 0)
	if carry != 0 {
		return math.MaxUint64
	}

	return end
}
