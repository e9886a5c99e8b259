package beacon

import (
	"testing"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZtypObject(t *testing.T) {
	status := &common.Status{
		ForkDigest:     common.ForkDigest{0xde, 0xad, 0xbe, 0xef},
		FinalizedRoot:  common.Root{0x01},
		FinalizedEpoch: 12,
		HeadRoot:       common.Root{0x02},
		HeadSlot:       400,
	}

	data, err := WrapZtyp(status).MarshalSSZ()
	require.NoError(t, err)
	assert.Len(t, data, statusLength)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, data[:4])

	decoded := WrapZtyp(new(common.Status))
	require.NoError(t, decoded.UnmarshalSSZ(data))

	got, err := unwrapZtyp[*common.Status](decoded)
	require.NoError(t, err)
	assert.Equal(t, status, got)

	t.Run("short input", func(t *testing.T) {
		require.Error(t, WrapZtyp(new(common.Status)).UnmarshalSSZ(data[:10]))
	})

	t.Run("unwrap wrong type", func(t *testing.T) {
		_, err := unwrapZtyp[*common.Ping](decoded)
		require.Error(t, err)

		_, err = unwrapZtyp[*common.Status](&Root{})
		require.Error(t, err)
	})

	t.Run("marshal to appends", func(t *testing.T) {
		ping := common.Ping(1)

		out, err := WrapZtyp(&ping).MarshalSSZTo([]byte{0xff})
		require.NoError(t, err)
		assert.Equal(t, []byte{0xff, 0x01, 0, 0, 0, 0, 0, 0, 0}, out)
	})
}

func TestBlocksByRootRequest(t *testing.T) {
	req := BlocksByRootRequest{phase0.Root{0x01}, phase0.Root{0x02}}

	data, err := req.MarshalSSZ()
	require.NoError(t, err)
	require.Len(t, data, 64)
	assert.Equal(t, byte(0x02), data[32])

	var decoded BlocksByRootRequest
	require.NoError(t, decoded.UnmarshalSSZ(data))
	assert.Equal(t, req, decoded)

	tests := []struct {
		name string
		size int
		err  error
	}{
		{"not a multiple of 32", 33, errInvalidSize},
		{"too many roots", (MaxRequestBlocks + 1) * 32, errListTooBig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r BlocksByRootRequest
			require.ErrorIs(t, r.UnmarshalSSZ(make([]byte, tt.size)), tt.err)
		})
	}

	t.Run("marshal rejects too many roots", func(t *testing.T) {
		big := make(BlocksByRootRequest, MaxRequestBlocks+1)

		_, err := big.MarshalSSZ()
		require.ErrorIs(t, err, errListTooBig)
	})

	t.Run("empty list", func(t *testing.T) {
		var r BlocksByRootRequest
		require.NoError(t, r.UnmarshalSSZ(nil))
		assert.Empty(t, r)
	})
}

func TestLightClientUpdatesByRangeRequest(t *testing.T) {
	req := &LightClientUpdatesByRangeRequest{StartPeriod: 0x0102, Count: 3}

	data, err := req.MarshalSSZ()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0, 0, 0, 0, 0, 0, 0x03, 0, 0, 0, 0, 0, 0, 0}, data)

	var decoded LightClientUpdatesByRangeRequest
	require.NoError(t, decoded.UnmarshalSSZ(data))
	assert.Equal(t, *req, decoded)

	require.ErrorIs(t, decoded.UnmarshalSSZ(data[:15]), errInvalidSize)
}

func TestRoot(t *testing.T) {
	root := Root{0xab, 0xcd}

	data, err := root.MarshalSSZ()
	require.NoError(t, err)
	require.Len(t, data, 32)

	var decoded Root
	require.NoError(t, decoded.UnmarshalSSZ(data))
	assert.Equal(t, root, decoded)

	require.ErrorIs(t, decoded.UnmarshalSSZ(data[:31]), errInvalidSize)
}
