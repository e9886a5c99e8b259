package reqresp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chuckpreslar/emission"
	"github.com/ethpandaops/reqresp/pkg/consensus/reqresp/ratelimit"
	"github.com/jonboulle/clockwork"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// IncomingRequestBodyEvent is emitted with an *IncomingRequestEvent for every
// inbound request that passed decoding and rate limiting.
const IncomingRequestBodyEvent = "reqresp:incoming:body"

// goodbye requests skip rate limiting unless Config.RateLimitGoodbye is set.
const goodbyeMethod = "goodbye"

// IncomingRequestEvent describes an inbound request about to be handled.
type IncomingRequestEvent struct {
	Request *IncomingRequest
	// Rendered is the request body formatted for logs.
	Rendered string
}

// ReqResp serves registered protocols on a transport and sends requests to
// peers.
type ReqResp struct {
	log       logrus.FieldLogger
	config    Config
	transport Transport
	forks     ForkContext
	registry  *Registry
	limiter   *ratelimit.Limiter
	clock     clockwork.Clock
	metrics   *Metrics
	tracer    trace.Tracer
	broker    *emission.Emitter

	mu      sync.RWMutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	bound   map[protocol.ID]struct{}
}

// Option configures a ReqResp.
type Option func(*ReqResp)

// WithClock sets the clock timeouts and rate limit windows are measured
// with.
func WithClock(clock clockwork.Clock) Option {
	return func(r *ReqResp) {
		r.clock = clock
	}
}

// WithMetrics records prometheus metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(r *ReqResp) {
		r.metrics = metrics
	}
}

// WithTracerProvider opens spans for requests with the given provider.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(r *ReqResp) {
		r.tracer = provider.Tracer("github.com/ethpandaops/reqresp")
	}
}

// New creates a new ReqResp service.
func New(
	log logrus.FieldLogger,
	transport Transport,
	forks ForkContext,
	config Config,
	opts ...Option,
) (*ReqResp, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reqresp config: %w", err)
	}

	if transport == nil {
		return nil, errors.New("transport is required")
	}

	if forks == nil {
		return nil, errors.New("fork context is required")
	}

	r := &ReqResp{
		log:       log.WithField("component", "reqresp"),
		config:    config,
		transport: transport,
		forks:     forks,
		registry:  NewRegistry(),
		clock:     clockwork.NewRealClock(),
		tracer:    noop.NewTracerProvider().Tracer("github.com/ethpandaops/reqresp"),
		broker:    emission.NewEmitter(),
		bound:     make(map[protocol.ID]struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	r.limiter = ratelimit.New(log, ratelimit.WithClock(r.clock))

	r.broker.RecoverWith(func(event, listener interface{}, err error) {
		r.log.WithError(err).WithField("event", event).Warn("Recovered from panic in request hook")
	})

	return r, nil
}

// Registry returns the definitions known to the service.
func (r *ReqResp) Registry() *Registry {
	return r.registry
}

// Register adds protocol definitions. Definitions with a handler are served
// as soon as the service is started.
func (r *ReqResp) Register(defs ...*ProtocolDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.registry.Register(defs...); err != nil {
		return err
	}

	for _, def := range defs {
		// Quotas are shared by every version of a method.
		if def.RateLimits != nil && r.rateLimited(def) && !r.limiter.HasQuota(def.Method) {
			r.limiter.SetQuota(def.Method, def.RateLimits.ByPeer, def.RateLimits.Total)
		}

		if r.started {
			r.bindLocked(def)
		}
	}

	return nil
}

// Start starts serving registered handlers.
func (r *ReqResp) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return errors.New("service already started")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)

	for _, def := range r.registry.Definitions() {
		r.bindLocked(def)
	}

	r.limiter.Start()

	r.started = true
	r.log.WithField("protocols", len(r.bound)).Info("ReqResp service started")

	return nil
}

// Stop stops serving handlers and aborts inbound streams in progress.
func (r *ReqResp) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return errors.New("service not started")
	}

	for pid := range r.bound {
		r.transport.RemoveStreamHandler(pid)
		r.log.WithField("protocol", pid).Debug("Removed protocol handler")
	}

	r.bound = make(map[protocol.ID]struct{})
	r.cancel()
	r.limiter.Stop()

	r.started = false
	r.log.Info("ReqResp service stopped")

	return nil
}

func (r *ReqResp) bindLocked(def *ProtocolDefinition) {
	if def.Handler == nil {
		return
	}

	pid := def.ProtocolID().ID()
	if _, ok := r.bound[pid]; ok {
		return
	}

	r.transport.SetStreamHandler(pid, r.HandleStream)
	r.bound[pid] = struct{}{}

	r.log.WithField("protocol", pid).Debug("Registered protocol handler")
}

// OnIncomingRequestBody subscribes to decoded inbound requests. Listeners run
// before the handler; a panicking listener is logged and does not affect the
// response.
func (r *ReqResp) OnIncomingRequestBody(fn func(*IncomingRequestEvent)) {
	r.broker.On(IncomingRequestBodyEvent, fn)
}

// PruneOnPeerDisconnect forgets the rate limit windows of p.
func (r *ReqResp) PruneOnPeerDisconnect(p peer.ID) {
	r.limiter.PruneByPeer(p)
}

func (r *ReqResp) rateLimited(def *ProtocolDefinition) bool {
	if !r.config.RateLimiting {
		return false
	}

	if def.Method == goodbyeMethod && !r.config.RateLimitGoodbye {
		return false
	}

	return true
}

func (r *ReqResp) serviceContext() (context.Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.ctx, r.started
}
