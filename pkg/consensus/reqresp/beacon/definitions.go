package beacon

import (
	"github.com/ethpandaops/reqresp/pkg/consensus/reqresp"
	"github.com/ethpandaops/reqresp/pkg/ethereum"
)

// Handlers serve the inbound side of each method. Methods with a nil
// handler can still be requested from peers but are not served.
type Handlers struct {
	Status   reqresp.Handler
	Goodbye  reqresp.Handler
	Ping     reqresp.Handler
	Metadata reqresp.Handler

	// BeaconBlocksByRange and BeaconBlocksByRoot serve both protocol
	// versions; IncomingRequest.Protocol tells them apart.
	BeaconBlocksByRange reqresp.Handler
	BeaconBlocksByRoot  reqresp.Handler
	BlobSidecarsByRange reqresp.Handler

	LightClientBootstrap        reqresp.Handler
	LightClientUpdatesByRange   reqresp.Handler
	LightClientFinalityUpdate   reqresp.Handler
	LightClientOptimisticUpdate reqresp.Handler
}

// Definitions returns the protocol definitions of every beacon chain method.
func Definitions(h Handlers) []*reqresp.ProtocolDefinition {
	phase0Block := reqresp.StaticType(blockTypes[ethereum.ForkPhase0])
	blockByFork := forkTypes("blocks", blockTypes)

	return []*reqresp.ProtocolDefinition{
		{
			Method:            MethodStatus,
			Version:           1,
			RequestType:       reqresp.StaticType(statusType),
			ResponseType:      reqresp.StaticType(statusType),
			SingleResponse:    true,
			ContextBytes:      reqresp.ContextBytesEmpty,
			RateLimits:        Quotas[MethodStatus],
			RenderRequestBody: renderStatus,
			Handler:           h.Status,
		},
		{
			Method:            MethodGoodbye,
			Version:           1,
			RequestType:       reqresp.StaticType(goodbyeType),
			ResponseType:      reqresp.StaticType(goodbyeType),
			SingleResponse:    true,
			ContextBytes:      reqresp.ContextBytesEmpty,
			RateLimits:        Quotas[MethodGoodbye],
			RenderRequestBody: renderGoodbye,
			Handler:           h.Goodbye,
		},
		{
			Method:            MethodPing,
			Version:           1,
			RequestType:       reqresp.StaticType(pingType),
			ResponseType:      reqresp.StaticType(pingType),
			SingleResponse:    true,
			ContextBytes:      reqresp.ContextBytesEmpty,
			RateLimits:        Quotas[MethodPing],
			RenderRequestBody: renderPing,
			Handler:           h.Ping,
		},
		{
			Method:         MethodMetadata,
			Version:        1,
			ResponseType:   reqresp.StaticType(metadataV0Type),
			SingleResponse: true,
			ContextBytes:   reqresp.ContextBytesEmpty,
			RateLimits:     Quotas[MethodMetadata],
			Handler:        h.Metadata,
		},
		{
			Method:         MethodMetadata,
			Version:        2,
			ResponseType:   reqresp.StaticType(metadataV1Type),
			SingleResponse: true,
			ContextBytes:   reqresp.ContextBytesEmpty,
			RateLimits:     Quotas[MethodMetadata],
			Handler:        h.Metadata,
		},
		{
			Method:            MethodBeaconBlocksByRange,
			Version:           1,
			RequestType:       reqresp.StaticType(blocksByRangeRequestType),
			ResponseType:      phase0Block,
			ContextBytes:      reqresp.ContextBytesEmpty,
			RateLimits:        Quotas[MethodBeaconBlocksByRange],
			RenderRequestBody: renderBlocksByRange,
			Handler:           h.BeaconBlocksByRange,
		},
		{
			Method:            MethodBeaconBlocksByRange,
			Version:           2,
			RequestType:       reqresp.StaticType(blocksByRangeRequestType),
			ResponseType:      blockByFork,
			ContextBytes:      reqresp.ContextBytesForkDigest,
			RateLimits:        Quotas[MethodBeaconBlocksByRange],
			RenderRequestBody: renderBlocksByRange,
			Handler:           h.BeaconBlocksByRange,
		},
		{
			Method:            MethodBeaconBlocksByRoot,
			Version:           1,
			RequestType:       reqresp.StaticType(blocksByRootRequestType),
			ResponseType:      phase0Block,
			ContextBytes:      reqresp.ContextBytesEmpty,
			RateLimits:        Quotas[MethodBeaconBlocksByRoot],
			RenderRequestBody: renderBlocksByRoot,
			Handler:           h.BeaconBlocksByRoot,
		},
		{
			Method:            MethodBeaconBlocksByRoot,
			Version:           2,
			RequestType:       reqresp.StaticType(blocksByRootRequestType),
			ResponseType:      blockByFork,
			ContextBytes:      reqresp.ContextBytesForkDigest,
			RateLimits:        Quotas[MethodBeaconBlocksByRoot],
			RenderRequestBody: renderBlocksByRoot,
			Handler:           h.BeaconBlocksByRoot,
		},
		{
			Method:            MethodBlobSidecarsByRange,
			Version:           1,
			RequestType:       reqresp.StaticType(blobSidecarsByRangeRequestType),
			ResponseType:      reqresp.StaticType(blobSidecarType),
			ContextBytes:      reqresp.ContextBytesForkDigest,
			RateLimits:        Quotas[MethodBlobSidecarsByRange],
			RenderRequestBody: renderBlobSidecarsByRange,
			Handler:           h.BlobSidecarsByRange,
		},
		{
			Method:            MethodLightClientBootstrap,
			Version:           1,
			RequestType:       reqresp.StaticType(rootType),
			ResponseType:      forkTypes(MethodLightClientBootstrap, bootstrapTypes),
			SingleResponse:    true,
			ContextBytes:      reqresp.ContextBytesForkDigest,
			RateLimits:        Quotas[MethodLightClientBootstrap],
			RenderRequestBody: renderRoot,
			Handler:           h.LightClientBootstrap,
		},
		{
			Method:            MethodLightClientUpdatesByRange,
			Version:           1,
			RequestType:       reqresp.StaticType(lightClientUpdatesByRangeRequestType),
			ResponseType:      forkTypes(MethodLightClientUpdatesByRange, updateTypes),
			ContextBytes:      reqresp.ContextBytesForkDigest,
			RateLimits:        Quotas[MethodLightClientUpdatesByRange],
			RenderRequestBody: renderLightClientUpdatesByRange,
			Handler:           h.LightClientUpdatesByRange,
		},
		{
			Method:         MethodLightClientFinalityUpdate,
			Version:        1,
			ResponseType:   forkTypes(MethodLightClientFinalityUpdate, finalityUpdateTypes),
			SingleResponse: true,
			ContextBytes:   reqresp.ContextBytesForkDigest,
			RateLimits:     Quotas[MethodLightClientFinalityUpdate],
			Handler:        h.LightClientFinalityUpdate,
		},
		{
			Method:         MethodLightClientOptimisticUpdate,
			Version:        1,
			ResponseType:   forkTypes(MethodLightClientOptimisticUpdate, optimisticUpdateTypes),
			SingleResponse: true,
			ContextBytes:   reqresp.ContextBytesForkDigest,
			RateLimits:     Quotas[MethodLightClientOptimisticUpdate],
			Handler:        h.LightClientOptimisticUpdate,
		},
	}
}
