package reqresp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/ethpandaops/reqresp/pkg/consensus/reqresp/encoding"
	"github.com/ethpandaops/reqresp/pkg/ethereum"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Response is one decoded response chunk.
type Response struct {
	Value    SSZObject
	Fork     ethereum.ForkName
	Protocol ProtocolID
}

// SendRequest sends body to p over the newest version of method both sides
// support and yields the response chunks as they arrive. The stream is
// opened lazily, on the first iteration. Iteration ends after the first
// error, after the first chunk of single-response methods, or when the peer
// closes the stream. Breaking out of the loop closes the stream.
func (r *ReqResp) SendRequest(ctx context.Context, p peer.ID, method string, body SSZObject) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		start := r.clock.Now()

		log := r.log.WithFields(logrus.Fields{
			"peer":   p.String(),
			"method": method,
		})

		ctx, span := r.tracer.Start(ctx, "reqresp.SendRequest", trace.WithAttributes(
			attribute.String("reqresp.method", method),
			attribute.String("reqresp.peer", p.String()),
		))
		defer span.End()

		r.metrics.RecordOutgoingRequest(method)

		chunks := 0

		err := r.sendRequest(ctx, log, p, method, body, func(resp *Response) bool {
			chunks++
			r.metrics.RecordChunkReceived(method)

			return yield(resp, nil)
		})

		r.metrics.RecordOutgoingDuration(method, r.clock.Since(start))
		span.SetAttributes(attribute.Int("reqresp.chunks", chunks))

		if err == nil {
			log.WithField("chunks", chunks).Debug("Request completed")

			return
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RecordOutgoingError(method, errorKind(err))

		if errors.Is(err, ErrUnknownFork) || errors.Is(err, ErrUnknownProtocol) {
			log.WithError(err).Error("Request failed")
		} else {
			log.WithError(err).Debug("Request failed")
		}

		yield(nil, err)
	}
}

// Request sends body and collects at most maxResponses chunks. A
// maxResponses of zero collects every chunk.
func (r *ReqResp) Request(ctx context.Context, p peer.ID, method string, body SSZObject, maxResponses int) ([]*Response, error) {
	return Collect(r.SendRequest(ctx, p, method, body), maxResponses)
}

// RequestSingle sends body and returns the only chunk of the response.
func (r *ReqResp) RequestSingle(ctx context.Context, p peer.ID, method string, body SSZObject) (*Response, error) {
	return CollectSingle(r.SendRequest(ctx, p, method, body))
}

// Collect drains seq into a list, stopping without error once maxResponses
// items have been read. A maxResponses of zero means no cap.
func Collect(seq iter.Seq2[*Response, error], maxResponses int) ([]*Response, error) {
	var out []*Response

	if maxResponses < 0 {
		return nil, fmt.Errorf("invalid maxResponses %d", maxResponses)
	}

	for resp, err := range seq {
		if err != nil {
			return out, err
		}

		out = append(out, resp)

		if maxResponses > 0 && len(out) >= maxResponses {
			break
		}
	}

	return out, nil
}

// CollectSingle returns the first item of seq, or an ErrEmptyResponse
// RequestError when the peer sent none.
func CollectSingle(seq iter.Seq2[*Response, error]) (*Response, error) {
	for resp, err := range seq {
		if err != nil {
			return nil, err
		}

		return resp, nil
	}

	return nil, &RequestError{Kind: ErrEmptyResponse}
}

func (r *ReqResp) sendRequest(
	ctx context.Context,
	log logrus.FieldLogger,
	p peer.ID,
	method string,
	body SSZObject,
	yield func(*Response) bool,
) error {
	if _, started := r.serviceContext(); !started {
		return &RequestError{Kind: ErrServiceStopped}
	}

	ids := r.registry.SupportedProtocolIDs(method)
	if len(ids) == 0 {
		return &RequestError{Kind: ErrUnknownProtocol, Err: fmt.Errorf("no protocol registered for method %q", method)}
	}

	pids := make([]protocol.ID, 0, len(ids))
	for _, id := range ids {
		pids = append(pids, id.ID())
	}

	// Dialing.
	dialCtx, cancelDial := context.WithTimeout(ctx, r.config.DialTimeout)
	stream, err := r.transport.NewStream(dialCtx, p, pids...)

	dialErr := dialCtx.Err()

	cancelDial()

	if err != nil {
		switch {
		case ctx.Err() != nil:
			return &RequestError{Kind: ctx.Err(), Stage: StageDial, Err: err}
		case errors.Is(dialErr, context.DeadlineExceeded):
			return &RequestError{Kind: ErrTimeout, Stage: StageDial, Err: err}
		default:
			return &RequestError{Kind: ErrDialFailure, Stage: StageDial, Err: err}
		}
	}

	id, err := ParseProtocolID(string(stream.Protocol()))
	if err != nil {
		_ = stream.Reset()

		return &RequestError{Kind: ErrUnknownProtocol, Stage: StageDial, Err: err}
	}

	def, err := r.registry.Lookup(id)
	if err != nil {
		_ = stream.Reset()

		return &RequestError{Kind: ErrUnknownProtocol, Stage: StageDial, Err: err}
	}

	log = log.WithField("protocol", id.String())

	wd := newWatchdog(r.clock, stream)
	defer wd.disarm()

	stopCancel := context.AfterFunc(ctx, func() {
		_ = stream.Reset()
	})
	defer stopCancel()

	fail := func(kind error, stage Stage, err error) error {
		_ = stream.Reset()

		if timedOut, ok := wd.timedOut(); ok {
			return &RequestError{Kind: ErrTimeout, Stage: timedOut, Err: err}
		}

		if ctx.Err() != nil {
			return &RequestError{Kind: ctx.Err(), Stage: stage, Err: err}
		}

		return &RequestError{Kind: kind, Stage: stage, Err: err}
	}

	// Writing the request.
	fork := r.forks.CurrentFork()

	wd.arm(StageRequest, r.config.RequestTimeout)

	if err := r.writeRequest(stream, def, fork, body); err != nil {
		return fail(ErrSendFailure, StageRequest, err)
	}

	if err := stream.CloseWrite(); err != nil {
		return fail(ErrSendFailure, StageRequest, fmt.Errorf("failed to close write side: %w", err))
	}

	log.WithField("body", def.renderBody(body)).Debug("Sent request")

	// Reading the response chunks.
	dec := encoding.NewDecoder(stream)

	wd.arm(StageTTFB, r.config.TTFBTimeout)

	for i := 0; ; i++ {
		if i > 0 {
			wd.arm(StageResponse, r.config.RespTimeout)
		}

		if err := ctx.Err(); err != nil {
			_ = stream.Reset()

			return &RequestError{Kind: err, Stage: StageResponse}
		}

		code, err := dec.ReadResultCode()
		if errors.Is(err, io.EOF) {
			_ = stream.Close()

			return nil
		}

		if err != nil {
			return fail(ErrDecodeFailure, StageResponse, err)
		}

		if i == 0 {
			wd.arm(StageResponse, r.config.RespTimeout)
		}

		if ResultCode(code) != ResultSuccess {
			msg := dec.ReadErrorMessage()

			_ = stream.Reset()

			return &RequestError{
				Kind:    ErrResponseStatus,
				Stage:   StageResponse,
				Status:  ResultCode(code),
				Message: msg,
			}
		}

		resp, err := r.readResponseChunk(dec, def, id, fork)
		if err != nil {
			return fail(ErrDecodeFailure, StageResponse, err)
		}

		if !yield(resp) {
			_ = stream.CloseRead()
			_ = stream.Close()

			return nil
		}

		if def.SingleResponse {
			_ = stream.Close()

			return nil
		}
	}
}

func (r *ReqResp) writeRequest(stream Stream, def *ProtocolDefinition, fork ethereum.ForkName, body SSZObject) error {
	typ, err := def.requestType(fork)
	if err != nil {
		return err
	}

	if typ == nil {
		if body != nil {
			return fmt.Errorf("%s takes no request body", def.Method)
		}

		return nil
	}

	if body == nil {
		return fmt.Errorf("%s requires a %s request body", def.Method, typ.Name)
	}

	data, err := body.MarshalSSZ()
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", typ.Name, err)
	}

	bounds := typ.Bounds()
	if size := uint64(len(data)); size < bounds.Min || size > bounds.Max {
		return fmt.Errorf("%s of %d bytes is outside [%d, %d]", typ.Name, size, bounds.Min, bounds.Max)
	}

	return encoding.WritePayload(stream, data)
}

func (r *ReqResp) readResponseChunk(
	dec *encoding.Decoder,
	def *ProtocolDefinition,
	id ProtocolID,
	requestFork ethereum.ForkName,
) (*Response, error) {
	fork := requestFork

	if def.ContextBytes == ContextBytesForkDigest {
		digest, err := dec.ReadContextBytes()
		if err != nil {
			return nil, err
		}

		fork, err = r.forks.ForkFromDigest(digest)
		if err != nil {
			return nil, err
		}
	}

	typ, err := def.ResponseType(fork)
	if err != nil {
		return nil, err
	}

	data, err := dec.ReadPayload(r.bounds(typ))
	if err != nil {
		return nil, err
	}

	value, err := typ.Decode(data)
	if err != nil {
		return nil, err
	}

	return &Response{Value: value, Fork: fork, Protocol: id}, nil
}

func (r *ReqResp) bounds(typ *SSZType) encoding.SizeBounds {
	bounds := typ.Bounds()
	if bounds.Max > r.config.MaxPayloadSize {
		bounds.Max = r.config.MaxPayloadSize
	}

	return bounds
}

func errorKind(err error) string {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return "unknown"
	}

	switch {
	case errors.Is(reqErr.Kind, ErrDialFailure):
		return "dial_failure"
	case errors.Is(reqErr.Kind, ErrSendFailure):
		return "send_failure"
	case errors.Is(reqErr.Kind, ErrDecodeFailure):
		return "decode_failure"
	case errors.Is(reqErr.Kind, ErrResponseStatus):
		return reqErr.Status.String()
	case errors.Is(reqErr.Kind, ErrTimeout):
		return "timeout_" + string(reqErr.Stage)
	case errors.Is(reqErr.Kind, ErrUnknownProtocol):
		return "unknown_protocol"
	case errors.Is(reqErr.Kind, ErrServiceStopped):
		return "service_stopped"
	case errors.Is(reqErr.Kind, context.Canceled), errors.Is(reqErr.Kind, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "unknown"
	}
}
