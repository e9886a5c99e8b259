package reqresp

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/reqresp/pkg/consensus/reqresp/encoding"
	"github.com/ethpandaops/reqresp/pkg/ethereum"
	fastssz "github.com/prysmaticlabs/fastssz"
)

// SSZObject is any value that can be carried in a request or response.
type SSZObject interface {
	fastssz.Marshaler
	fastssz.Unmarshaler
}

// SSZType describes a payload type: its SSZ size bounds and a constructor for
// decoding into.
type SSZType struct {
	Name    string
	MinSize uint64
	MaxSize uint64
	New     func() SSZObject
}

// FixedSSZType describes a type whose serialization always has size bytes.
func FixedSSZType(name string, size uint64, newFn func() SSZObject) *SSZType {
	return &SSZType{Name: name, MinSize: size, MaxSize: size, New: newFn}
}

// VariableSSZType describes a type of at most maxSize bytes. A zero maxSize
// means encoding.MaxPayloadSize.
func VariableSSZType(name string, minSize, maxSize uint64, newFn func() SSZObject) *SSZType {
	if maxSize == 0 {
		maxSize = encoding.MaxPayloadSize
	}

	return &SSZType{Name: name, MinSize: minSize, MaxSize: maxSize, New: newFn}
}

// Bounds returns the accepted uncompressed size range, clamped to
// encoding.MaxPayloadSize.
func (t *SSZType) Bounds() encoding.SizeBounds {
	maxSize := t.MaxSize
	if maxSize == 0 || maxSize > encoding.MaxPayloadSize {
		maxSize = encoding.MaxPayloadSize
	}

	return encoding.SizeBounds{Min: t.MinSize, Max: maxSize}
}

// Decode unmarshals data into a new value of the type.
func (t *SSZType) Decode(data []byte) (SSZObject, error) {
	value := t.New()
	if err := value.UnmarshalSSZ(data); err != nil {
		return nil, encoding.NewDecodeError(encoding.ErrTypeMismatch, fmt.Errorf("%s: %w", t.Name, err))
	}

	return value, nil
}

// TypeResolver maps a fork to the payload type used at that fork. It returns
// ErrUnknownFork for forks the method does not support.
type TypeResolver func(fork ethereum.ForkName) (*SSZType, error)

// StaticType returns a resolver that uses t at every fork.
func StaticType(t *SSZType) TypeResolver {
	return func(ethereum.ForkName) (*SSZType, error) {
		return t, nil
	}
}

// ContextBytesType says what precedes the payload of each response chunk.
type ContextBytesType int

const (
	// ContextBytesEmpty prepends nothing.
	ContextBytesEmpty ContextBytesType = iota
	// ContextBytesForkDigest prepends the 4-byte digest of the chunk's fork.
	ContextBytesForkDigest
)

func (c ContextBytesType) String() string {
	switch c {
	case ContextBytesEmpty:
		return "empty"
	case ContextBytesForkDigest:
		return "fork_digest"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// EncodedPayload is one response item produced by a handler: either a typed
// value that still has to be serialized, or bytes that already are.
type EncodedPayload interface {
	// PayloadFork is the fork the payload belongs to. It selects the context
	// bytes of ForkDigest methods.
	PayloadFork() ethereum.ForkName

	sszBytes() ([]byte, error)
}

// TypedPayload is a value serialized when it is written.
type TypedPayload struct {
	Value SSZObject
	Fork  ethereum.ForkName
}

func (p TypedPayload) PayloadFork() ethereum.ForkName { return p.Fork }

func (p TypedPayload) sszBytes() ([]byte, error) {
	if p.Value == nil {
		return nil, errors.New("typed payload has no value")
	}

	return p.Value.MarshalSSZ()
}

// RawPayload is an already serialized value, such as a block read from disk.
type RawPayload struct {
	Bytes []byte
	Fork  ethereum.ForkName
}

func (p RawPayload) PayloadFork() ethereum.ForkName { return p.Fork }

func (p RawPayload) sszBytes() ([]byte, error) {
	return p.Bytes, nil
}
