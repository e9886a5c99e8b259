package beacon

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	pb "github.com/OffchainLabs/prysm/v6/proto/prysm/v1alpha1"
	"github.com/chuckpreslar/emission"
	"github.com/ethpandaops/reqresp/pkg/consensus/reqresp"
	"github.com/go-co-op/gocron/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/prysmaticlabs/go-bitfield"
	"github.com/sirupsen/logrus"
)

const (
	// PeerStatusEvent is emitted with a *PeerStatus for every status request
	// a peer sends.
	PeerStatusEvent = "beacon:peer:status"
	// PeerGoodbyeEvent is emitted with a *PeerGoodbye for every goodbye a
	// peer sends.
	PeerGoodbyeEvent = "beacon:peer:goodbye"
)

// PeerStatus is the status a peer sent us.
type PeerStatus struct {
	PeerID peer.ID
	Status *common.Status
}

// PeerGoodbye is the goodbye reason a peer sent us.
type PeerGoodbye struct {
	PeerID peer.ID
	Reason common.Goodbye
}

// StatusFetcher returns the node's current chain status, typically from its
// beacon node.
type StatusFetcher func(ctx context.Context) (*common.Status, error)

// LocalNode holds the status and metadata this node advertises and answers
// the handshake methods with them.
type LocalNode struct {
	log       logrus.FieldLogger
	broker    *emission.Emitter
	scheduler gocron.Scheduler

	mu       sync.RWMutex
	status   common.Status
	seq      uint64
	attnets  bitfield.Bitvector64
	syncnets bitfield.Bitvector4
}

// NewLocalNode returns a node with an empty status and metadata sequence
// number zero.
func NewLocalNode(log logrus.FieldLogger) *LocalNode {
	n := &LocalNode{
		log:      log.WithField("component", "beacon_handlers"),
		broker:   emission.NewEmitter(),
		attnets:  bitfield.NewBitvector64(),
		syncnets: bitfield.NewBitvector4(),
	}

	n.broker.RecoverWith(func(event, listener interface{}, err error) {
		n.log.WithError(err).WithField("event", event).Warn("Recovered from panic in peer event listener")
	})

	return n
}

// SetStatus replaces the status sent to peers.
func (n *LocalNode) SetStatus(status *common.Status) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.status = *status
}

// GetStatus returns a copy of the status sent to peers.
func (n *LocalNode) GetStatus() common.Status {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.status
}

// StartStatusUpdates refreshes the status from fetch immediately and then
// every interval until Stop is called.
func (n *LocalNode) StartStatusUpdates(ctx context.Context, interval time.Duration, fetch StatusFetcher) error {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.Local))
	if err != nil {
		return err
	}

	if _, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(
			func(ctx context.Context) {
				status, err := fetch(ctx)
				if err != nil {
					n.log.WithError(err).Error("Failed to fetch status")

					return
				}

				n.SetStatus(status)
			},
			ctx,
		),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return err
	}

	n.mu.Lock()
	n.scheduler = s
	n.mu.Unlock()

	s.Start()

	return nil
}

// Stop stops status updates.
func (n *LocalNode) Stop() error {
	n.mu.Lock()
	s := n.scheduler
	n.scheduler = nil
	n.mu.Unlock()

	if s == nil {
		return nil
	}

	return s.Shutdown()
}

// SetSubnets replaces the advertised attestation and sync committee subnets
// and bumps the metadata sequence number.
func (n *LocalNode) SetSubnets(attnets bitfield.Bitvector64, syncnets bitfield.Bitvector4) error {
	if len(attnets) != 8 {
		return fmt.Errorf("attnets must be 8 bytes, got %d", len(attnets))
	}

	if len(syncnets) != 1 {
		return fmt.Errorf("syncnets must be 1 byte, got %d", len(syncnets))
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.attnets = attnets
	n.syncnets = syncnets
	n.seq++

	return nil
}

// SeqNumber returns the metadata sequence number.
func (n *LocalNode) SeqNumber() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.seq
}

// MetadataV1 returns the advertised metadata with sync committee subnets.
func (n *LocalNode) MetadataV1() *pb.MetaDataV1 {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return &pb.MetaDataV1{
		SeqNumber: n.seq,
		Attnets:   append(bitfield.Bitvector64{}, n.attnets...),
		Syncnets:  append(bitfield.Bitvector4{}, n.syncnets...),
	}
}

// OnPeerStatus registers fn for statuses sent by peers.
func (n *LocalNode) OnPeerStatus(fn func(*PeerStatus)) {
	n.broker.On(PeerStatusEvent, fn)
}

// OnPeerGoodbye registers fn for goodbyes sent by peers.
func (n *LocalNode) OnPeerGoodbye(fn func(*PeerGoodbye)) {
	n.broker.On(PeerGoodbyeEvent, fn)
}

// Handlers returns h with the handshake methods served by n.
func (n *LocalNode) Handlers(h Handlers) Handlers {
	h.Status = n.handleStatus
	h.Goodbye = n.handleGoodbye
	h.Ping = n.handlePing
	h.Metadata = n.handleMetadata

	return h
}

func respond(payload reqresp.EncodedPayload) iter.Seq2[reqresp.EncodedPayload, error] {
	return func(yield func(reqresp.EncodedPayload, error) bool) {
		yield(payload, nil)
	}
}

func fail(err error) iter.Seq2[reqresp.EncodedPayload, error] {
	return func(yield func(reqresp.EncodedPayload, error) bool) {
		yield(nil, err)
	}
}

func (n *LocalNode) handleStatus(_ context.Context, req *reqresp.IncomingRequest) iter.Seq2[reqresp.EncodedPayload, error] {
	theirs, err := unwrapZtyp[*common.Status](req.Body)
	if err != nil {
		return fail(reqresp.NewResponseError(reqresp.ResultInvalidRequest, "%s", err))
	}

	n.log.WithFields(logrus.Fields{
		"peer":            req.PeerID.String(),
		"fork_digest":     theirs.ForkDigest,
		"finalized_epoch": theirs.FinalizedEpoch,
		"head_slot":       theirs.HeadSlot,
	}).Debug("Received status message")

	n.broker.Emit(PeerStatusEvent, &PeerStatus{PeerID: req.PeerID, Status: theirs})

	status := n.GetStatus()

	return respond(reqresp.TypedPayload{Value: WrapZtyp(&status), Fork: req.Fork})
}

func (n *LocalNode) handleGoodbye(_ context.Context, req *reqresp.IncomingRequest) iter.Seq2[reqresp.EncodedPayload, error] {
	theirs, err := unwrapZtyp[*common.Goodbye](req.Body)
	if err != nil {
		return fail(reqresp.NewResponseError(reqresp.ResultInvalidRequest, "%s", err))
	}

	n.log.WithFields(logrus.Fields{
		"peer":   req.PeerID.String(),
		"reason": uint64(*theirs),
	}).Debug("Received goodbye message")

	n.broker.Emit(PeerGoodbyeEvent, &PeerGoodbye{PeerID: req.PeerID, Reason: *theirs})

	var resp common.Goodbye

	return respond(reqresp.TypedPayload{Value: WrapZtyp(&resp), Fork: req.Fork})
}

func (n *LocalNode) handlePing(_ context.Context, req *reqresp.IncomingRequest) iter.Seq2[reqresp.EncodedPayload, error] {
	ping := common.Ping(n.SeqNumber())

	return respond(reqresp.TypedPayload{Value: WrapZtyp(&ping), Fork: req.Fork})
}

func (n *LocalNode) handleMetadata(_ context.Context, req *reqresp.IncomingRequest) iter.Seq2[reqresp.EncodedPayload, error] {
	md := n.MetadataV1()

	if req.Protocol.Version == 1 {
		return respond(reqresp.TypedPayload{
			Value: &pb.MetaDataV0{SeqNumber: md.SeqNumber, Attnets: md.Attnets},
			Fork:  req.Fork,
		})
	}

	return respond(reqresp.TypedPayload{Value: md, Fork: req.Fork})
}
