package beacon

import (
	"fmt"

	"github.com/OffchainLabs/prysm/v6/consensus-types/primitives"
	pb "github.com/OffchainLabs/prysm/v6/proto/prysm/v1alpha1"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/ethpandaops/reqresp/pkg/consensus/reqresp"
	"github.com/ethpandaops/reqresp/pkg/ethereum"
)

// SlotForks maps slots to forks. *ethereum.ForkSchedule and
// *ethereum.ForkContext implement it.
type SlotForks interface {
	ForkAtSlot(slot phase0.Slot) ethereum.ForkName
}

type signatureSlotter interface {
	GetSignatureSlot() primitives.Slot
}

// ResponseSlot returns the slot that decides the fork of a response value:
// the block slot for blocks and blob sidecars, the header slot for
// bootstraps and the signature slot for light client updates.
func ResponseSlot(value reqresp.SSZObject) (phase0.Slot, error) {
	var slot primitives.Slot

	switch v := value.(type) {
	case *pb.SignedBeaconBlock:
		slot = v.GetBlock().GetSlot()
	case *pb.SignedBeaconBlockAltair:
		slot = v.GetBlock().GetSlot()
	case *pb.SignedBeaconBlockBellatrix:
		slot = v.GetBlock().GetSlot()
	case *pb.SignedBeaconBlockCapella:
		slot = v.GetBlock().GetSlot()
	case *pb.SignedBeaconBlockDeneb:
		slot = v.GetBlock().GetSlot()
	case *pb.BlobSidecar:
		slot = v.GetSignedBlockHeader().GetHeader().GetSlot()
	case *pb.LightClientBootstrapAltair:
		slot = v.GetHeader().GetBeacon().GetSlot()
	case *pb.LightClientBootstrapCapella:
		slot = v.GetHeader().GetBeacon().GetSlot()
	case *pb.LightClientBootstrapDeneb:
		slot = v.GetHeader().GetBeacon().GetSlot()
	case signatureSlotter:
		slot = v.GetSignatureSlot()
	default:
		return 0, fmt.Errorf("no slot in payload of type %T", value)
	}

	return phase0.Slot(slot), nil
}

// ForkFromResponse returns the fork a response value belongs to.
func ForkFromResponse(forks SlotForks, value reqresp.SSZObject) (ethereum.ForkName, error) {
	slot, err := ResponseSlot(value)
	if err != nil {
		return 0, err
	}

	return forks.ForkAtSlot(slot), nil
}

// Payload wraps a response value with the fork derived from its slot.
func Payload(forks SlotForks, value reqresp.SSZObject) (reqresp.EncodedPayload, error) {
	fork, err := ForkFromResponse(forks, value)
	if err != nil {
		return nil, err
	}

	return reqresp.TypedPayload{Value: value, Fork: fork}, nil
}

// RawBlockPayload wraps an already serialized block of the given slot, as
// read from a block store.
func RawBlockPayload(forks SlotForks, slot phase0.Slot, data []byte) reqresp.EncodedPayload {
	return reqresp.RawPayload{Bytes: data, Fork: forks.ForkAtSlot(slot)}
}
