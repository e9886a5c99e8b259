// Package encoding implements the ssz_snappy framing used on ReqResp streams:
// an unsigned varint of the uncompressed length followed by a snappy framed
// stream of the payload.
package encoding

import (
	"bufio"
	"bytes"
	"io"

	"github.com/golang/snappy"
	"github.com/multiformats/go-varint"
	"github.com/pkg/errors"
)

const (
	// MaxPayloadSize is the largest uncompressed payload accepted on any
	// ReqResp stream.
	MaxPayloadSize = 10 * 1024 * 1024

	// MaxErrorMessageSize bounds the error message of a non-success chunk.
	MaxErrorMessageSize = 256

	// ContextBytesLength is the size of the fork digest prepended to chunks of
	// fork-aware methods.
	ContextBytesLength = 4
)

var errFrameBudget = errors.New("compressed frames exceed budget")

// SizeBounds is the accepted range of uncompressed payload lengths.
type SizeBounds struct {
	Min uint64
	Max uint64
}

// MaxCompressedLength is the worst-case snappy encoded size of n bytes.
func MaxCompressedLength(n uint64) uint64 {
	return 32 + n + n/6
}

// WritePayload writes the length prefix and the framed compression of data.
func WritePayload(w io.Writer, data []byte) error {
	if _, err := w.Write(varint.ToUvarint(uint64(len(data)))); err != nil {
		return errors.Wrap(err, "failed to write length prefix")
	}

	if len(data) == 0 {
		return nil
	}

	sw := snappy.NewBufferedWriter(w)
	if _, err := sw.Write(data); err != nil {
		return errors.Wrap(err, "failed to write snappy frames")
	}

	if err := sw.Close(); err != nil {
		return errors.Wrap(err, "failed to flush snappy frames")
	}

	return nil
}

// EncodePayload returns the wire encoding of data.
func EncodePayload(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	if err := WritePayload(&buf, data); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decoder reads consecutive items off a single stream. A stream carries many
// chunks, so one Decoder must be used for the lifetime of the stream.
type Decoder struct {
	r      *bufio.Reader
	snappy *snappy.Reader
}

// NewDecoder wraps r in a buffered reader.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// ReadPayload reads one length-prefixed payload whose uncompressed length
// falls within bounds. The declared length is checked before anything is
// allocated.
func (d *Decoder) ReadPayload(bounds SizeBounds) ([]byte, error) {
	length, err := varint.ReadUvarint(d.r)
	if err != nil {
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil, NewDecodeError(ErrUnexpectedEnd, err)
		case errors.Is(err, varint.ErrOverflow), errors.Is(err, varint.ErrNotMinimal):
			return nil, NewDecodeError(ErrInvalidVarint, err)
		default:
			return nil, err
		}
	}

	if length > bounds.Max {
		return nil, NewDecodeError(ErrTooLarge, errors.Errorf("declared length %d exceeds maximum %d", length, bounds.Max))
	}

	if length < bounds.Min {
		return nil, NewDecodeError(ErrTypeMismatch, errors.Errorf("declared length %d below minimum %d", length, bounds.Min))
	}

	if length == 0 {
		return []byte{}, nil
	}

	src := &budgetReader{r: d.r, remaining: MaxCompressedLength(length)}

	if d.snappy == nil {
		d.snappy = snappy.NewReader(src)
	} else {
		d.snappy.Reset(src)
	}

	out := make([]byte, length)
	if _, err := io.ReadFull(d.snappy, out); err != nil {
		return nil, classifyFrameError(err, src)
	}

	return out, nil
}

// ReadResultCode reads the single result byte that opens a response chunk.
// io.EOF is returned unchanged when the stream ended cleanly before it.
func (d *Decoder) ReadResultCode() (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, err
	}

	return b, nil
}

// ReadContextBytes reads the fork digest that precedes a chunk payload.
func (d *Decoder) ReadContextBytes() ([ContextBytesLength]byte, error) {
	var out [ContextBytesLength]byte

	if _, err := io.ReadFull(d.r, out[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return out, NewDecodeError(ErrUnexpectedEnd, errors.Wrap(err, "context bytes"))
		}

		return out, err
	}

	return out, nil
}

// ReadErrorMessage reads the message of a non-success chunk. It reads up to
// MaxErrorMessageSize bytes or until the stream ends, decodes them as a
// payload when possible and falls back to the raw bytes otherwise. The result
// only holds printable ASCII.
func (d *Decoder) ReadErrorMessage() string {
	raw := make([]byte, MaxErrorMessageSize)

	n, _ := io.ReadFull(d.r, raw)
	raw = raw[:n]

	msg, err := NewDecoder(bytes.NewReader(raw)).ReadPayload(SizeBounds{Max: MaxErrorMessageSize})
	if err != nil {
		msg = raw
	}

	return SanitizeErrorMessage(msg)
}

// WriteErrorMessage writes msg as the body of a non-success chunk, truncated
// to MaxErrorMessageSize bytes.
func WriteErrorMessage(w io.Writer, msg string) error {
	if len(msg) > MaxErrorMessageSize {
		msg = msg[:MaxErrorMessageSize]
	}

	return WritePayload(w, []byte(msg))
}

// SanitizeErrorMessage truncates b and drops anything that is not printable
// ASCII.
func SanitizeErrorMessage(b []byte) string {
	if len(b) > MaxErrorMessageSize {
		b = b[:MaxErrorMessageSize]
	}

	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c >= 0x20 && c <= 0x7e {
			out = append(out, c)
		}
	}

	return string(out)
}

func classifyFrameError(err error, src *budgetReader) error {
	switch {
	case errors.Is(err, errFrameBudget):
		return NewDecodeError(ErrTooLarge, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return NewDecodeError(ErrUnexpectedEnd, err)
	case errors.Is(err, snappy.ErrCorrupt), errors.Is(err, snappy.ErrUnsupported):
		if src.eof {
			return NewDecodeError(ErrUnexpectedEnd, err)
		}

		return NewDecodeError(ErrChecksumMismatch, err)
	default:
		return err
	}
}

// budgetReader caps the number of compressed bytes a single payload may
// consume from the stream.
type budgetReader struct {
	r         io.Reader
	remaining uint64
	eof       bool
}

func (b *budgetReader) Read(p []byte) (int, error) {
	if b.remaining == 0 {
		return 0, errFrameBudget
	}

	if uint64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}

	n, err := b.r.Read(p)
	b.remaining -= uint64(n)

	if errors.Is(err, io.EOF) {
		b.eof = true
	}

	return n, err
}
