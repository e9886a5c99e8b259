// Package beacon defines the beacon chain ReqResp methods: their payload
// types per fork, quotas and request renderers, plus local handlers for the
// handshake methods and a typed client.
package beacon

import (
	"math"
	"time"

	pb "github.com/OffchainLabs/prysm/v6/proto/prysm/v1alpha1"
	"github.com/ethpandaops/reqresp/pkg/consensus/reqresp"
	"github.com/ethpandaops/reqresp/pkg/consensus/reqresp/ratelimit"
	"github.com/ethpandaops/reqresp/pkg/ethereum"
	"github.com/pkg/errors"
	"github.com/protolambda/zrnt/eth2/beacon/common"
)

// Method names, as they appear in protocol ids.
const (
	MethodStatus                      = "status"
	MethodGoodbye                     = "goodbye"
	MethodPing                        = "ping"
	MethodMetadata                    = "metadata"
	MethodBeaconBlocksByRange         = "beacon_blocks_by_range"
	MethodBeaconBlocksByRoot          = "beacon_blocks_by_root"
	MethodBlobSidecarsByRange         = "blob_sidecars_by_range"
	MethodLightClientBootstrap        = "light_client_bootstrap"
	MethodLightClientUpdatesByRange   = "light_client_updates_by_range"
	MethodLightClientFinalityUpdate   = "light_client_finality_update"
	MethodLightClientOptimisticUpdate = "light_client_optimistic_update"
)

const (
	// MaxRequestBlocks caps the roots of a blocks by root request.
	MaxRequestBlocks = 1024
	// MaxRequestBlocksDeneb caps the count of a blocks or blob sidecars by
	// range request from deneb on.
	MaxRequestBlocksDeneb = 128
	// MaxBlobsPerBlock is the number of blob sidecars a block may carry.
	MaxBlobsPerBlock = 6
	// MaxRequestLightClientUpdates caps the count of a light client
	// updates by range request.
	MaxRequestLightClientUpdates = 128

	statusLength  = 84
	uint64Length  = 8
	metadataV0Len = 16
	metadataV1Len = 17
)

func fixedType(name string, newFn func() reqresp.SSZObject) *reqresp.SSZType {
	return reqresp.FixedSSZType(name, uint64(newFn().SizeSSZ()), newFn) //nolint:gosec // sizes are small.
}

// variableType bounds a type by its empty serialization and the maximum
// payload size.
func variableType(name string, newFn func() reqresp.SSZObject) *reqresp.SSZType {
	return reqresp.VariableSSZType(name, uint64(newFn().SizeSSZ()), 0, newFn) //nolint:gosec // sizes are small.
}

var (
	statusType = reqresp.FixedSSZType("Status", statusLength, func() reqresp.SSZObject {
		return WrapZtyp(new(common.Status))
	})
	goodbyeType = reqresp.FixedSSZType("Goodbye", uint64Length, func() reqresp.SSZObject {
		return WrapZtyp(new(common.Goodbye))
	})
	pingType = reqresp.FixedSSZType("Ping", uint64Length, func() reqresp.SSZObject {
		return WrapZtyp(new(common.Ping))
	})
	metadataV0Type = reqresp.FixedSSZType("MetaDataV0", metadataV0Len, func() reqresp.SSZObject {
		return new(pb.MetaDataV0)
	})
	metadataV1Type = reqresp.FixedSSZType("MetaDataV1", metadataV1Len, func() reqresp.SSZObject {
		return new(pb.MetaDataV1)
	})

	blocksByRangeRequestType = fixedType("BeaconBlocksByRangeRequest", func() reqresp.SSZObject {
		return new(pb.BeaconBlocksByRangeRequest)
	})
	blocksByRootRequestType = reqresp.VariableSSZType("BeaconBlocksByRootRequest", 0, MaxRequestBlocks*32, func() reqresp.SSZObject {
		return new(BlocksByRootRequest)
	})
	blobSidecarsByRangeRequestType = fixedType("BlobSidecarsByRangeRequest", func() reqresp.SSZObject {
		return new(pb.BlobSidecarsByRangeRequest)
	})
	rootType = fixedType("Root", func() reqresp.SSZObject {
		return new(Root)
	})
	lightClientUpdatesByRangeRequestType = fixedType("LightClientUpdatesByRangeRequest", func() reqresp.SSZObject {
		return new(LightClientUpdatesByRangeRequest)
	})

	blockTypes = map[ethereum.ForkName]*reqresp.SSZType{
		ethereum.ForkPhase0: variableType("SignedBeaconBlock", func() reqresp.SSZObject {
			return new(pb.SignedBeaconBlock)
		}),
		ethereum.ForkAltair: variableType("SignedBeaconBlockAltair", func() reqresp.SSZObject {
			return new(pb.SignedBeaconBlockAltair)
		}),
		ethereum.ForkBellatrix: variableType("SignedBeaconBlockBellatrix", func() reqresp.SSZObject {
			return new(pb.SignedBeaconBlockBellatrix)
		}),
		ethereum.ForkCapella: variableType("SignedBeaconBlockCapella", func() reqresp.SSZObject {
			return new(pb.SignedBeaconBlockCapella)
		}),
		ethereum.ForkDeneb: variableType("SignedBeaconBlockDeneb", func() reqresp.SSZObject {
			return new(pb.SignedBeaconBlockDeneb)
		}),
	}

	blobSidecarType = fixedType("BlobSidecar", func() reqresp.SSZObject {
		return new(pb.BlobSidecar)
	})

	bootstrapTypes = lightClientTypes(
		func() reqresp.SSZObject { return new(pb.LightClientBootstrapAltair) },
		func() reqresp.SSZObject { return new(pb.LightClientBootstrapCapella) },
		func() reqresp.SSZObject { return new(pb.LightClientBootstrapDeneb) },
		"LightClientBootstrap",
	)
	updateTypes = lightClientTypes(
		func() reqresp.SSZObject { return new(pb.LightClientUpdateAltair) },
		func() reqresp.SSZObject { return new(pb.LightClientUpdateCapella) },
		func() reqresp.SSZObject { return new(pb.LightClientUpdateDeneb) },
		"LightClientUpdate",
	)
	finalityUpdateTypes = lightClientTypes(
		func() reqresp.SSZObject { return new(pb.LightClientFinalityUpdateAltair) },
		func() reqresp.SSZObject { return new(pb.LightClientFinalityUpdateCapella) },
		func() reqresp.SSZObject { return new(pb.LightClientFinalityUpdateDeneb) },
		"LightClientFinalityUpdate",
	)
	optimisticUpdateTypes = lightClientTypes(
		func() reqresp.SSZObject { return new(pb.LightClientOptimisticUpdateAltair) },
		func() reqresp.SSZObject { return new(pb.LightClientOptimisticUpdateCapella) },
		func() reqresp.SSZObject { return new(pb.LightClientOptimisticUpdateDeneb) },
		"LightClientOptimisticUpdate",
	)
)

// lightClientTypes maps forks to light client types. Bellatrix reuses the
// altair containers.
func lightClientTypes(altair, capella, deneb func() reqresp.SSZObject, name string) map[ethereum.ForkName]*reqresp.SSZType {
	altairType := variableType(name+"Altair", altair)

	return map[ethereum.ForkName]*reqresp.SSZType{
		ethereum.ForkAltair:    altairType,
		ethereum.ForkBellatrix: altairType,
		ethereum.ForkCapella:   variableType(name+"Capella", capella),
		ethereum.ForkDeneb:     variableType(name+"Deneb", deneb),
	}
}

func forkTypes(method string, types map[ethereum.ForkName]*reqresp.SSZType) reqresp.TypeResolver {
	return func(fork ethereum.ForkName) (*reqresp.SSZType, error) {
		t, ok := types[fork]
		if !ok {
			return nil, errors.Wrapf(ethereum.ErrUnknownFork, "%s has no payload type at %s", method, fork)
		}

		return t, nil
	}
}

// blobCount is the number of sidecars a request for count slots may return,
// saturating at MaxUint64.
func blobCount(count uint64) uint64 {
	if count > math.MaxUint64/MaxBlobsPerBlock {
		return math.MaxUint64
	}

	return count * MaxBlobsPerBlock
}

func quota(n uint64, window time.Duration) ratelimit.Quota {
	return ratelimit.Quota{Quota: n, Window: window}
}

// Quotas are the inbound rate limits of every method.
var Quotas = map[string]*reqresp.InboundRateLimits{
	MethodStatus:   {ByPeer: quota(5, 15*time.Second)},
	MethodGoodbye:  {ByPeer: quota(1, 10*time.Second)},
	MethodPing:     {ByPeer: quota(2, 10*time.Second)},
	MethodMetadata: {ByPeer: quota(2, 5*time.Second)},
	MethodBeaconBlocksByRange: {
		ByPeer: quota(500, 10*time.Second),
		Total:  &ratelimit.Quota{Quota: 2000, Window: 10 * time.Second},
		RequestCount: func(body reqresp.SSZObject) uint64 {
			if req, ok := body.(*pb.BeaconBlocksByRangeRequest); ok {
				return req.Count
			}

			return 1
		},
	},
	MethodBeaconBlocksByRoot: {
		ByPeer: quota(128, 10*time.Second),
		RequestCount: func(body reqresp.SSZObject) uint64 {
			if req, ok := body.(*BlocksByRootRequest); ok {
				return uint64(len(*req))
			}

			return 1
		},
	},
	MethodBlobSidecarsByRange: {
		ByPeer: quota(MaxBlobsPerBlock*MaxRequestBlocksDeneb, 10*time.Second),
		RequestCount: func(body reqresp.SSZObject) uint64 {
			if req, ok := body.(*pb.BlobSidecarsByRangeRequest); ok {
				return blobCount(req.Count)
			}

			return 1
		},
	},
	MethodLightClientBootstrap: {ByPeer: quota(5, 15*time.Second)},
	MethodLightClientUpdatesByRange: {
		ByPeer: quota(MaxRequestLightClientUpdates, 10*time.Second),
		RequestCount: func(body reqresp.SSZObject) uint64 {
			if req, ok := body.(*LightClientUpdatesByRangeRequest); ok {
				return req.Count
			}

			return 1
		},
	},
	MethodLightClientFinalityUpdate:   {ByPeer: quota(2, 12*time.Second)},
	MethodLightClientOptimisticUpdate: {ByPeer: quota(2, 12*time.Second)},
}
