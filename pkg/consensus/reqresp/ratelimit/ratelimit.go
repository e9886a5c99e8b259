// Package ratelimit implements fixed-window request quotas per method, both
// per peer and across all peers.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
)

// Quota allows Quota requests every Window.
type Quota struct {
	Quota  uint64        `yaml:"quota"`
	Window time.Duration `yaml:"window"`
}

// IsZero reports whether the quota is unset, meaning unlimited.
func (q Quota) IsZero() bool {
	return q.Window == 0
}

// exceeds reports whether adding n to used goes over the quota.
func (q Quota) exceeds(used, n uint64) bool {
	return n > q.Quota || used > q.Quota-n
}

type window struct {
	count uint64
	start time.Time
}

// current returns the count of w at now, treating an elapsed window as
// empty.
func (w window) current(now time.Time, length time.Duration) window {
	if now.Sub(w.start) >= length {
		return window{start: now}
	}

	return w
}

type methodLimits struct {
	byPeer Quota
	total  *Quota
	global window
}

type peerKey struct {
	method string
	peer   peer.ID
}

// Limiter tracks request counts per (method, peer) and per method.
type Limiter struct {
	log   logrus.FieldLogger
	clock clockwork.Clock

	mu      sync.Mutex
	methods map[string]*methodLimits
	peers   *ttlcache.Cache[peerKey, window]
	started bool
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the clock the windows are measured with.
func WithClock(clock clockwork.Clock) Option {
	return func(l *Limiter) {
		l.clock = clock
	}
}

// New creates a limiter with no quotas; every method is allowed until
// SetQuota is called for it.
func New(log logrus.FieldLogger, opts ...Option) *Limiter {
	l := &Limiter{
		log:     log.WithField("component", "reqresp_ratelimit"),
		clock:   clockwork.NewRealClock(),
		methods: make(map[string]*methodLimits),
		peers:   ttlcache.New[peerKey, window](),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// SetQuota sets the per-peer quota of a method and, optionally, a quota
// shared by all peers.
func (l *Limiter) SetQuota(method string, byPeer Quota, total *Quota) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.methods[method] = &methodLimits{
		byPeer: byPeer,
		total:  total,
	}
}

// HasQuota reports whether a quota is set for method.
func (l *Limiter) HasQuota(method string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.methods[method]

	return ok
}

// Allow is AllowN with a count of one.
func (l *Limiter) Allow(method string, p peer.ID) bool {
	return l.AllowN(method, p, 1)
}

// AllowN reports whether p may make a request to method that counts as n
// items. An allowed request is counted against both the per-peer and the
// total window; a denied one changes nothing.
func (l *Limiter) AllowN(method string, p peer.ID, n uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limits, ok := l.methods[method]
	if !ok {
		return true
	}

	now := l.clock.Now()
	key := peerKey{method: method, peer: p}

	var byPeer window
	if !limits.byPeer.IsZero() {
		if item := l.peers.Get(key); item != nil {
			byPeer = item.Value()
		}

		byPeer = byPeer.current(now, limits.byPeer.Window)

		if limits.byPeer.exceeds(byPeer.count, n) {
			l.log.WithFields(logrus.Fields{
				"method": method,
				"peer":   p.String(),
				"count":  n,
			}).Debug("Peer quota exhausted")

			return false
		}
	}

	var global window
	if limits.total != nil {
		global = limits.global.current(now, limits.total.Window)

		if limits.total.exceeds(global.count, n) {
			l.log.WithFields(logrus.Fields{
				"method": method,
				"count":  n,
			}).Debug("Total quota exhausted")

			return false
		}
	}

	if !limits.byPeer.IsZero() {
		byPeer.count += n
		l.peers.Set(key, byPeer, limits.byPeer.Window)
	}

	if limits.total != nil {
		global.count += n
		limits.global = global
	}

	return true
}

// PruneByPeer drops every per-peer window of p.
func (l *Limiter) PruneByPeer(p peer.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, key := range l.peers.Keys() {
		if key.peer == p {
			l.peers.Delete(key)
		}
	}
}

// Start runs the loop that evicts idle peer windows.
func (l *Limiter) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return
	}

	l.started = true

	go l.peers.Start()
}

// Stop ends the eviction loop.
func (l *Limiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started {
		return
	}

	l.started = false

	l.peers.Stop()
}

// TrackedPeers returns the number of (method, peer) windows held.
func (l *Limiter) TrackedPeers() int {
	return l.peers.Len()
}
