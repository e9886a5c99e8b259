package beacon

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/ethpandaops/reqresp/pkg/consensus/reqresp"
	"github.com/pkg/errors"
	"github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/protolambda/ztyp/codec"
)

var (
	errInvalidSize = errors.New("invalid ssz size")
	errListTooBig  = errors.New("ssz list too big")
)

// ZtypObject adapts a zrnt/ztyp object to reqresp.SSZObject.
type ZtypObject struct {
	common.SSZObj
}

// WrapZtyp wraps obj so it can be sent and received.
func WrapZtyp(obj common.SSZObj) *ZtypObject {
	return &ZtypObject{SSZObj: obj}
}

func (z *ZtypObject) MarshalSSZ() ([]byte, error) {
	var buf bytes.Buffer
	if err := z.Serialize(codec.NewEncodingWriter(&buf)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (z *ZtypObject) MarshalSSZTo(dst []byte) ([]byte, error) {
	data, err := z.MarshalSSZ()
	if err != nil {
		return nil, err
	}

	return append(dst, data...), nil
}

func (z *ZtypObject) SizeSSZ() int {
	return int(z.ByteLength()) //nolint:gosec // bounded by the object definition.
}

func (z *ZtypObject) UnmarshalSSZ(b []byte) error {
	return z.Deserialize(codec.NewDecodingReader(bytes.NewReader(b), uint64(len(b))))
}

// unwrapZtyp returns the object behind an SSZObject received for a ztyp
// type.
func unwrapZtyp[T common.SSZObj](value reqresp.SSZObject) (T, error) {
	var zero T

	wrapped, ok := value.(*ZtypObject)
	if !ok {
		return zero, fmt.Errorf("unexpected payload type %T", value)
	}

	inner, ok := wrapped.SSZObj.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected payload type %T", wrapped.SSZObj)
	}

	return inner, nil
}

// Root is a 32 byte block root, the request of light_client_bootstrap.
type Root phase0.Root

func (r *Root) SizeSSZ() int { return 32 }

func (r *Root) MarshalSSZ() ([]byte, error) {
	return r.MarshalSSZTo(make([]byte, 0, 32))
}

func (r *Root) MarshalSSZTo(dst []byte) ([]byte, error) {
	return append(dst, r[:]...), nil
}

func (r *Root) UnmarshalSSZ(buf []byte) error {
	if len(buf) != 32 {
		return errors.Wrapf(errInvalidSize, "root of %d bytes", len(buf))
	}

	copy(r[:], buf)

	return nil
}

// BlocksByRootRequest is a list of at most MaxRequestBlocks block roots.
type BlocksByRootRequest []phase0.Root

func (r *BlocksByRootRequest) SizeSSZ() int { return len(*r) * 32 }

func (r *BlocksByRootRequest) MarshalSSZ() ([]byte, error) {
	return r.MarshalSSZTo(make([]byte, 0, r.SizeSSZ()))
}

func (r *BlocksByRootRequest) MarshalSSZTo(dst []byte) ([]byte, error) {
	if len(*r) > MaxRequestBlocks {
		return nil, errors.Wrapf(errListTooBig, "%d roots", len(*r))
	}

	for _, root := range *r {
		dst = append(dst, root[:]...)
	}

	return dst, nil
}

func (r *BlocksByRootRequest) UnmarshalSSZ(buf []byte) error {
	if len(buf)%32 != 0 {
		return errors.Wrapf(errInvalidSize, "%d bytes is not a list of roots", len(buf))
	}

	count := len(buf) / 32
	if count > MaxRequestBlocks {
		return errors.Wrapf(errListTooBig, "%d roots", count)
	}

	roots := make(BlocksByRootRequest, count)
	for i := range roots {
		copy(roots[i][:], buf[i*32:(i+1)*32])
	}

	*r = roots

	return nil
}

// LightClientUpdatesByRangeRequest asks for Count sync committee period
// updates starting at StartPeriod.
type LightClientUpdatesByRangeRequest struct {
	StartPeriod uint64
	Count       uint64
}

func (r *LightClientUpdatesByRangeRequest) SizeSSZ() int { return 16 }

func (r *LightClientUpdatesByRangeRequest) MarshalSSZ() ([]byte, error) {
	return r.MarshalSSZTo(make([]byte, 0, 16))
}

func (r *LightClientUpdatesByRangeRequest) MarshalSSZTo(dst []byte) ([]byte, error) {
	dst = binary.LittleEndian.AppendUint64(dst, r.StartPeriod)

	return binary.LittleEndian.AppendUint64(dst, r.Count), nil
}

func (r *LightClientUpdatesByRangeRequest) UnmarshalSSZ(buf []byte) error {
	if len(buf) != 16 {
		return errors.Wrapf(errInvalidSize, "light client updates request of %d bytes", len(buf))
	}

	r.StartPeriod = binary.LittleEndian.Uint64(buf[:8])
	r.Count = binary.LittleEndian.Uint64(buf[8:])

	return nil
}
