// Package host runs the libp2p node ReqResp streams are carried on.
package host

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/chuckpreslar/emission"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	gcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethpandaops/reqresp/pkg/consensus/reqresp"
	"github.com/ethpandaops/reqresp/pkg/ethereum/clients"
	"github.com/libp2p/go-libp2p"
	mplex "github.com/libp2p/go-libp2p-mplex"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	rcmgr "github.com/libp2p/go-libp2p/p2p/host/resource-manager"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
)

var errNotStarted = errors.New("host not started")

// Node manages the libp2p host: identity, listen address, muxers and peer
// connection events.
type Node struct {
	log logrus.FieldLogger

	config  *Config
	metrics *Metrics
	broker  *emission.Emitter

	mu      sync.RWMutex
	host    host.Host
	privKey *crypto.Secp256k1PrivateKey
}

// NewNode returns a node for config. metrics may be nil.
func NewNode(log logrus.FieldLogger, config *Config, metrics *Metrics) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid host config: %w", err)
	}

	n := &Node{
		log:     log.WithField("module", "consensus/host"),
		config:  config,
		metrics: metrics,
		broker:  emission.NewEmitter(),
	}

	n.broker.RecoverWith(func(event, listener interface{}, err error) {
		n.log.WithError(err).WithField("event", event).Warn("Recovered from panic in peer event listener")
	})

	return n, nil
}

// Start creates the libp2p host and starts listening.
func (n *Node) Start(_ context.Context) (host.Host, error) {
	listen := fmt.Sprintf("/ip4/%s/tcp/%d", n.config.IPAddr.String(), n.config.TCPPort)

	n.log.WithField("multiaddr", listen).Info("Starting host")

	privKey, err := n.derivePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive private key: %w", err)
	}

	rmgr, err := rcmgr.NewResourceManager(rcmgr.NewFixedLimiter(rcmgr.DefaultLimits.AutoScale()))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource manager: %w", err)
	}

	h, err := libp2p.New(
		libp2p.ListenAddrStrings(listen),
		libp2p.UserAgent(n.config.UserAgent),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Muxer(mplex.ID, mplex.DefaultTransport),
		libp2p.DefaultMuxers,
		libp2p.Security(noise.ID, noise.New),
		libp2p.Ping(true),
		libp2p.DisableRelay(),
		libp2p.Identity(privKey),
		libp2p.ResourceManager(rmgr),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	h.Network().Notify(n)

	n.mu.Lock()
	n.host = h
	n.mu.Unlock()

	n.log.WithField("peer_id", h.ID().String()).Info("Host started")

	return h, nil
}

// Stop closes the libp2p host.
func (n *Node) Stop(_ context.Context) error {
	h, err := n.started()
	if err != nil {
		return err
	}

	return h.Close()
}

// Host returns the libp2p host, or nil before Start.
func (n *Node) Host() host.Host {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.host
}

// Transport returns the host as a ReqResp transport.
func (n *Node) Transport() (*reqresp.HostTransport, error) {
	h, err := n.started()
	if err != nil {
		return nil, err
	}

	return reqresp.NewHostTransport(h), nil
}

// AddrInfo returns the peer id and listen addresses of the node.
func (n *Node) AddrInfo() (peer.AddrInfo, error) {
	h, err := n.started()
	if err != nil {
		return peer.AddrInfo{}, err
	}

	return peer.AddrInfo{ID: h.ID(), Addrs: h.Addrs()}, nil
}

// Connectedness returns the connection state of p.
func (n *Node) Connectedness(p peer.ID) network.Connectedness {
	h := n.Host()
	if h == nil {
		return network.NotConnected
	}

	return h.Network().Connectedness(p)
}

// ConnectToPeer dials p.
func (n *Node) ConnectToPeer(ctx context.Context, p peer.AddrInfo) error {
	h, err := n.started()
	if err != nil {
		return err
	}

	n.emitBeforePeerConnect(p.ID)

	n.log.WithField("peer", p.ID.String()).Debug("Connecting to peer")

	return h.Connect(ctx, p)
}

// ConnectWithRetry dials p with exponential backoff until it connects,
// ctx is done or maxElapsed has passed.
func (n *Node) ConnectWithRetry(ctx context.Context, p peer.AddrInfo, maxElapsed time.Duration) error {
	operation := func() (struct{}, error) {
		return struct{}{}, n.ConnectToPeer(ctx, p)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 15 * time.Second

	if _, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(maxElapsed),
		backoff.WithNotify(func(err error, duration time.Duration) {
			n.log.WithError(err).WithField("peer", p.ID.String()).Debugf("Failed to connect to peer, retrying in %s", duration)
		}),
	); err != nil {
		return fmt.Errorf("failed to connect to peer %s: %w", p.ID, err)
	}

	return nil
}

// DisconnectFromPeer closes every connection to p.
func (n *Node) DisconnectFromPeer(_ context.Context, p peer.ID) error {
	h, err := n.started()
	if err != nil {
		return err
	}

	n.emitBeforePeerDisconnect(p)

	if err := h.Network().ClosePeer(p); err != nil {
		return fmt.Errorf("failed to disconnect from peer %s: %w", p, err)
	}

	return nil
}

// PeerClient returns the client implementation and version p announced
// over identify. It is unknown until identify has completed.
func (n *Node) PeerClient(p peer.ID) (clients.Client, string) {
	h := n.Host()
	if h == nil {
		return clients.ClientUnknown, ""
	}

	raw, err := h.Peerstore().Get(p, "AgentVersion")
	if err != nil {
		return clients.ClientUnknown, ""
	}

	agent, ok := raw.(string)
	if !ok {
		return clients.ClientUnknown, ""
	}

	return clients.ParseAgentVersion(agent)
}

func (n *Node) started() (host.Host, error) {
	h := n.Host()
	if h == nil {
		return nil, errNotStarted
	}

	return h, nil
}

func (n *Node) derivePrivateKey() (*crypto.Secp256k1PrivateKey, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.privKey != nil {
		return n.privKey, nil
	}

	var privBytes []byte

	if n.config.PrivKey == "" {
		key, err := ecdsa.GenerateKey(gcrypto.S256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}

		privBytes = gcrypto.FromECDSA(key)
	} else {
		decoded, err := hex.DecodeString(strings.TrimPrefix(n.config.PrivKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("failed to decode private key: %w", err)
		}

		privBytes = decoded
	}

	if len(privBytes) != secp256k1.PrivKeyBytesLen {
		return nil, fmt.Errorf("expected secp256k1 data size to be %d", secp256k1.PrivKeyBytesLen)
	}

	n.privKey = (*crypto.Secp256k1PrivateKey)(secp256k1.PrivKeyFromBytes(privBytes))

	if n.config.PrivKey == "" {
		n.config.PrivKey = hex.EncodeToString(privBytes)
	}

	return n.privKey, nil
}

func (n *Node) updatePeerMetrics(net network.Network) {
	conns := map[network.Direction]int{
		network.DirInbound:  0,
		network.DirOutbound: 0,
	}

	for _, conn := range net.Conns() {
		conns[conn.Stat().Direction]++
	}

	for direction, count := range conns {
		n.metrics.SetPeers(strings.ToLower(direction.String()), count)
	}
}

func (n *Node) Connected(net network.Network, conn network.Conn) {
	n.metrics.RecordConnect()
	n.updatePeerMetrics(net)

	n.log.WithField("peer", conn.RemotePeer().String()).Debug("Connected to peer")

	n.emitAfterPeerConnect(conn)
}

func (n *Node) Disconnected(net network.Network, conn network.Conn) {
	n.metrics.RecordDisconnect()
	n.updatePeerMetrics(net)

	client, version := n.PeerClient(conn.RemotePeer())

	n.log.WithFields(logrus.Fields{
		"peer":    conn.RemotePeer().String(),
		"client":  client,
		"version": version,
	}).Debug("Disconnected from peer")

	n.emitAfterPeerDisconnect(conn)
}

func (n *Node) Listen(_ network.Network, addr ma.Multiaddr) {
	n.log.WithField("addr", addr.String()).Info("Listening on address")
}

func (n *Node) ListenClose(_ network.Network, addr ma.Multiaddr) {
	n.log.WithField("addr", addr.String()).Info("Stopped listening on address")
}
