package reqresp

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/reqresp/pkg/consensus/reqresp/encoding"
	"github.com/ethpandaops/reqresp/pkg/ethereum"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	rateLimitedMessage = "rate limited"
	serverErrorMessage = "internal server error"
)

// HandleStream serves one inbound stream: it decodes the request, applies
// the rate limits, runs the handler and writes its response chunks. The
// stream is always closed or reset on return.
func (r *ReqResp) HandleStream(stream Stream) {
	start := r.clock.Now()

	id, err := ParseProtocolID(string(stream.Protocol()))
	if err != nil {
		r.log.WithError(err).Error("Inbound stream with unknown protocol")
		_ = stream.Reset()

		return
	}

	def, err := r.registry.Lookup(id)
	if err != nil || def.Handler == nil {
		r.log.WithField("protocol", id.String()).Error("Inbound stream for unregistered protocol")
		_ = stream.Reset()

		return
	}

	serviceCtx, started := r.serviceContext()
	if !started {
		_ = stream.Reset()

		return
	}

	ctx, cancel := context.WithCancel(serviceCtx)
	defer cancel()

	stopCancel := context.AfterFunc(ctx, func() {
		_ = stream.Reset()
	})
	defer stopCancel()

	ctx, span := r.tracer.Start(ctx, "reqresp.HandleStream", trace.WithAttributes(
		attribute.String("reqresp.protocol", id.String()),
		attribute.String("reqresp.peer", stream.RemotePeer().String()),
	))
	defer span.End()

	log := r.log.WithFields(logrus.Fields{
		"peer":     stream.RemotePeer().String(),
		"protocol": id.String(),
	})

	method := def.Method
	r.metrics.RecordIncomingRequest(method)

	defer func() {
		r.metrics.RecordIncomingDuration(method, r.clock.Since(start))
	}()

	wd := newWatchdog(r.clock, stream)
	defer wd.disarm()

	if err := r.serve(ctx, log, stream, wd, def, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (r *ReqResp) serve(
	ctx context.Context,
	log logrus.FieldLogger,
	stream Stream,
	wd *watchdog,
	def *ProtocolDefinition,
	id ProtocolID,
) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).Error("Request handler panicked")
			r.writeError(log, stream, def, ResultServerError, serverErrorMessage)

			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()

	fork := r.forks.CurrentFork()

	// Decoding the request.
	wd.arm(StageRequest, r.config.RequestTimeout)

	body, err := r.readRequest(encoding.NewDecoder(stream), def, fork)
	if err != nil {
		if _, timedOut := wd.timedOut(); timedOut || ctx.Err() != nil {
			log.WithError(err).Debug("Inbound request timed out")

			return err
		}

		wd.disarm()

		if errors.Is(err, ErrUnknownFork) {
			log.WithError(err).Error("No request type for current fork")
		} else {
			log.WithError(err).Debug("Failed to decode request")
		}

		r.writeError(log, stream, def, ResultInvalidRequest, err.Error())

		return err
	}

	wd.disarm()

	_ = stream.CloseRead()

	// Rate limiting.
	if def.RateLimits != nil && r.rateLimited(def) {
		count := def.requestCount(body)

		if !r.limiter.AllowN(def.Method, stream.RemotePeer(), count) {
			log.WithField("count", count).Debug("Rate limited request")
			r.metrics.RecordRateLimited(def.Method)
			r.writeError(log, stream, def, ResultResourceUnavailable, rateLimitedMessage)

			return ErrRateLimited
		}
	}

	req := &IncomingRequest{
		Protocol: id,
		PeerID:   stream.RemotePeer(),
		Fork:     fork,
		Body:     body,
	}

	event := &IncomingRequestEvent{Request: req, Rendered: def.renderBody(body)}
	r.broker.Emit(IncomingRequestBodyEvent, event)

	log.WithField("body", event.Rendered).Debug("Handling request")

	// Handling and writing chunks.
	chunks := 0

	for payload, herr := range def.Handler(ctx, req) {
		if herr != nil {
			return r.writeHandlerError(log, stream, def, herr)
		}

		wd.arm(StageResponse, r.config.RespTimeout)

		if err := r.writeChunk(stream, def, payload); err != nil {
			if errors.Is(err, ErrUnknownFork) {
				wd.disarm()
				log.WithError(err).Error("Response payload has a fork without digest")
				r.writeError(log, stream, def, ResultServerError, serverErrorMessage)

				return err
			}

			if _, timedOut := wd.timedOut(); timedOut {
				log.WithError(err).Debug("Timed out writing response chunk")
			} else {
				log.WithError(err).Debug("Failed to write response chunk")
			}

			_ = stream.Reset()

			return err
		}

		wd.disarm()

		chunks++
		r.metrics.RecordChunkSent(def.Method)

		if def.SingleResponse {
			break
		}
	}

	if err := stream.Close(); err != nil {
		log.WithError(err).Debug("Failed to close stream")
	}

	log.WithField("chunks", chunks).Debug("Served request")

	return nil
}

func (r *ReqResp) readRequest(dec *encoding.Decoder, def *ProtocolDefinition, fork ethereum.ForkName) (SSZObject, error) {
	typ, err := def.requestType(fork)
	if err != nil {
		return nil, err
	}

	if typ == nil {
		return nil, nil
	}

	data, err := dec.ReadPayload(r.bounds(typ))
	if err != nil {
		return nil, err
	}

	return typ.Decode(data)
}

// writeChunk writes a success chunk: the result byte, the context bytes and
// the encoded payload, in a single write.
func (r *ReqResp) writeChunk(stream Stream, def *ProtocolDefinition, payload EncodedPayload) error {
	if payload == nil {
		return errors.New("nil payload")
	}

	data, err := payload.sszBytes()
	if err != nil {
		return fmt.Errorf("failed to serialize payload: %w", err)
	}

	if uint64(len(data)) > r.config.MaxPayloadSize {
		return fmt.Errorf("payload of %d bytes exceeds maximum %d", len(data), r.config.MaxPayloadSize)
	}

	var buf bytes.Buffer

	buf.WriteByte(byte(ResultSuccess))

	if def.ContextBytes == ContextBytesForkDigest {
		digest, err := r.forks.ForkDigest(payload.PayloadFork())
		if err != nil {
			return err
		}

		buf.Write(digest[:])
	}

	if err := encoding.WritePayload(&buf, data); err != nil {
		return err
	}

	_, err = stream.Write(buf.Bytes())

	return err
}

func (r *ReqResp) writeHandlerError(log logrus.FieldLogger, stream Stream, def *ProtocolDefinition, err error) error {
	var respErr *ResponseError
	if errors.As(err, &respErr) && respErr.Status.IsError() {
		log.WithError(err).Debug("Handler returned error response")
		r.writeError(log, stream, def, respErr.Status, respErr.Message)

		return err
	}

	log.WithError(err).Warn("Request handler failed")
	r.writeError(log, stream, def, ResultServerError, serverErrorMessage)

	return err
}

// writeError writes a terminal error chunk and closes the stream.
func (r *ReqResp) writeError(log logrus.FieldLogger, stream Stream, def *ProtocolDefinition, code ResultCode, msg string) {
	r.metrics.RecordIncomingError(def.Method, code)

	var buf bytes.Buffer

	buf.WriteByte(byte(code))

	if err := encoding.WriteErrorMessage(&buf, msg); err != nil {
		_ = stream.Reset()

		return
	}

	wd := newWatchdog(r.clock, stream)
	wd.arm(StageResponse, r.config.RespTimeout)
	defer wd.disarm()

	if _, err := stream.Write(buf.Bytes()); err != nil {
		log.WithError(err).Debug("Failed to write error response")
		_ = stream.Reset()

		return
	}

	_ = stream.Close()
}
