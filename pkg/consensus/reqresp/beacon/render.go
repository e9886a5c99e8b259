package beacon

import (
	"fmt"

	pb "github.com/OffchainLabs/prysm/v6/proto/prysm/v1alpha1"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/ethpandaops/reqresp/pkg/consensus/reqresp"
	"github.com/ethpandaops/reqresp/pkg/ethereum/serialize"
	"github.com/protolambda/zrnt/eth2/beacon/common"
)

func renderStatus(body reqresp.SSZObject) string {
	status, err := unwrapZtyp[*common.Status](body)
	if err != nil {
		return err.Error()
	}

	return fmt.Sprintf("%s,%s,%d,%s,%d",
		serialize.ForkDigestAsString(phase0.ForkDigest(status.ForkDigest)),
		serialize.RootAsString(phase0.Root(status.FinalizedRoot)),
		status.FinalizedEpoch,
		serialize.RootAsString(phase0.Root(status.HeadRoot)),
		status.HeadSlot,
	)
}

func renderGoodbye(body reqresp.SSZObject) string {
	goodbye, err := unwrapZtyp[*common.Goodbye](body)
	if err != nil {
		return err.Error()
	}

	return fmt.Sprintf("%d", uint64(*goodbye))
}

func renderPing(body reqresp.SSZObject) string {
	ping, err := unwrapZtyp[*common.Ping](body)
	if err != nil {
		return err.Error()
	}

	return fmt.Sprintf("%d", uint64(*ping))
}

func renderBlocksByRange(body reqresp.SSZObject) string {
	req, ok := body.(*pb.BeaconBlocksByRangeRequest)
	if !ok {
		return fmt.Sprintf("%T", body)
	}

	return fmt.Sprintf("%d,%d,%d", req.StartSlot, req.Step, req.Count)
}

func renderBlocksByRoot(body reqresp.SSZObject) string {
	req, ok := body.(*BlocksByRootRequest)
	if !ok {
		return fmt.Sprintf("%T", body)
	}

	return serialize.RootsAsString(*req)
}

func renderBlobSidecarsByRange(body reqresp.SSZObject) string {
	req, ok := body.(*pb.BlobSidecarsByRangeRequest)
	if !ok {
		return fmt.Sprintf("%T", body)
	}

	return fmt.Sprintf("%d,%d", req.StartSlot, req.Count)
}

func renderRoot(body reqresp.SSZObject) string {
	root, ok := body.(*Root)
	if !ok {
		return fmt.Sprintf("%T", body)
	}

	return serialize.RootAsString(phase0.Root(*root))
}

func renderLightClientUpdatesByRange(body reqresp.SSZObject) string {
	req, ok := body.(*LightClientUpdatesByRangeRequest)
	if !ok {
		return fmt.Sprintf("%T", body)
	}

	return fmt.Sprintf("%d,%d", req.StartPeriod, req.Count)
}
