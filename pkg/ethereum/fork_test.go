package ethereum

import (
	"testing"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchedule(t *testing.T) *ForkSchedule {
	t.Helper()

	schedule, err := NewForkSchedule(phase0.Root{0x01}, 32, map[ForkName]ForkConfig{
		ForkPhase0:    {Version: phase0.Version{0x00, 0x00, 0x00, 0x01}, Epoch: 0},
		ForkAltair:    {Version: phase0.Version{0x01, 0x00, 0x00, 0x01}, Epoch: 10},
		ForkBellatrix: {Version: phase0.Version{0x02, 0x00, 0x00, 0x01}, Epoch: 20},
		ForkCapella:   {Version: phase0.Version{0x03, 0x00, 0x00, 0x01}, Epoch: 20},
		ForkDeneb:     {Version: phase0.Version{0x04, 0x00, 0x00, 0x01}, Epoch: 40},
	})
	require.NoError(t, err)

	return schedule
}

func TestComputeForkDigest(t *testing.T) {
	tests := []struct {
		name                  string
		genesisValidatorsRoot phase0.Root
		forkVersion           phase0.Version
	}{
		{
			name:                  "valid fork digest computation",
			genesisValidatorsRoot: phase0.Root{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18, 0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f},
			forkVersion:           phase0.Version{0x00, 0x00, 0x00, 0x01},
		},
		{
			name:                  "zero genesis validators root",
			genesisValidatorsRoot: phase0.Root{},
			forkVersion:           phase0.Version{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			digest, err := ComputeForkDigest(tt.genesisValidatorsRoot, tt.forkVersion)
			require.NoError(t, err)
			assert.NotEqual(t, phase0.ForkDigest{}, digest)

			again, err := ComputeForkDigest(tt.genesisValidatorsRoot, tt.forkVersion)
			require.NoError(t, err)
			assert.Equal(t, digest, again)
		})
	}
}

func TestComputeForkDigest_Mainnet(t *testing.T) {
	gvr := phase0.Root{
		0x4b, 0x36, 0x3d, 0xb9, 0x4e, 0x28, 0x61, 0x20, 0xd7, 0x6e, 0xb9, 0x05, 0x34, 0x0f, 0xdd, 0x4e,
		0x54, 0xbf, 0xe9, 0xf0, 0x6b, 0xf3, 0x3f, 0xf6, 0xcf, 0x5a, 0xd2, 0x7f, 0x51, 0x1b, 0xfe, 0x95,
	}

	digest, err := ComputeForkDigest(gvr, phase0.Version{0x00, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, phase0.ForkDigest{0xb5, 0x30, 0x3f, 0x2a}, digest)

	digest, err = ComputeForkDigest(gvr, phase0.Version{0x04, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, phase0.ForkDigest{0x6a, 0x95, 0xa1, 0xa9}, digest)
}

func TestParseForkName(t *testing.T) {
	for _, fork := range Forks() {
		parsed, err := ParseForkName(fork.String())
		require.NoError(t, err)
		assert.Equal(t, fork, parsed)
	}

	parsed, err := ParseForkName("Capella")
	require.NoError(t, err)
	assert.Equal(t, ForkCapella, parsed)

	_, err = ParseForkName("electra")
	require.ErrorIs(t, err, ErrUnknownFork)
}

func TestNewForkSchedule_Validation(t *testing.T) {
	tests := []struct {
		name          string
		slotsPerEpoch uint64
		forks         map[ForkName]ForkConfig
		errMsg        string
	}{
		{
			name:          "zero slots per epoch",
			slotsPerEpoch: 0,
			forks:         map[ForkName]ForkConfig{ForkPhase0: {}},
			errMsg:        "slots per epoch",
		},
		{
			name:          "missing phase0",
			slotsPerEpoch: 32,
			forks:         map[ForkName]ForkConfig{ForkAltair: {}},
			errMsg:        "phase0",
		},
		{
			name:          "decreasing epochs",
			slotsPerEpoch: 32,
			forks: map[ForkName]ForkConfig{
				ForkPhase0: {Version: phase0.Version{0x00}, Epoch: 0},
				ForkAltair: {Version: phase0.Version{0x01}, Epoch: 10},
				ForkDeneb:  {Version: phase0.Version{0x04}, Epoch: 5},
			},
			errMsg: "before altair",
		},
		{
			name:          "shared digest",
			slotsPerEpoch: 32,
			forks: map[ForkName]ForkConfig{
				ForkPhase0: {Version: phase0.Version{0x00}, Epoch: 0},
				ForkAltair: {Version: phase0.Version{0x00}, Epoch: 10},
			},
			errMsg: "share digest",
		},
		{
			name:          "unknown fork",
			slotsPerEpoch: 32,
			forks: map[ForkName]ForkConfig{
				ForkPhase0:   {Version: phase0.Version{0x00}, Epoch: 0},
				ForkName(42): {Version: phase0.Version{0x09}, Epoch: 10},
			},
			errMsg: "unknown fork",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewForkSchedule(phase0.Root{}, tt.slotsPerEpoch, tt.forks)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestForkSchedule_ForkAtSlot(t *testing.T) {
	schedule := testSchedule(t)

	tests := []struct {
		slot phase0.Slot
		want ForkName
	}{
		{slot: 0, want: ForkPhase0},
		{slot: 319, want: ForkPhase0},
		{slot: 320, want: ForkAltair},
		{slot: 639, want: ForkAltair},
		// Bellatrix and capella share an epoch: the later fork wins.
		{slot: 640, want: ForkCapella},
		{slot: 1279, want: ForkCapella},
		{slot: 1280, want: ForkDeneb},
		{slot: 1 << 40, want: ForkDeneb},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, schedule.ForkAtSlot(tt.slot))
		})
	}
}

func TestForkSchedule_Digests(t *testing.T) {
	schedule := testSchedule(t)

	assert.Equal(t, Forks(), schedule.Forks())

	for _, fork := range schedule.Forks() {
		digest, err := schedule.ForkDigest(fork)
		require.NoError(t, err)

		expected, err := ComputeForkDigest(schedule.GenesisValidatorsRoot(), mustConfig(t, schedule, fork).Version)
		require.NoError(t, err)
		assert.Equal(t, expected, digest)

		back, err := schedule.ForkFromDigest(digest)
		require.NoError(t, err)
		assert.Equal(t, fork, back)
	}

	_, err := schedule.ForkFromDigest(phase0.ForkDigest{0xde, 0xad, 0xbe, 0xef})
	require.ErrorIs(t, err, ErrUnknownFork)
}

func TestForkSchedule_PartialSchedule(t *testing.T) {
	schedule, err := NewForkSchedule(phase0.Root{}, 8, map[ForkName]ForkConfig{
		ForkPhase0: {Version: phase0.Version{0x00}, Epoch: 0},
	})
	require.NoError(t, err)

	assert.Equal(t, ForkPhase0, schedule.ForkAtSlot(1_000_000))

	_, err = schedule.ForkDigest(ForkDeneb)
	require.ErrorIs(t, err, ErrUnknownFork)
}

func TestForkContext_CurrentFork(t *testing.T) {
	schedule := testSchedule(t)

	t.Run("pinned", func(t *testing.T) {
		ctx := NewPinnedForkContext(schedule, ForkBellatrix)
		assert.Equal(t, ForkBellatrix, ctx.CurrentFork())
	})

	t.Run("wall clock", func(t *testing.T) {
		// 15 epochs of 12s slots ago puts the clock inside altair.
		genesis := time.Now().Add(-15 * 32 * 12 * time.Second)
		ctx := NewForkContext(schedule, genesis, 12*time.Second)
		assert.Equal(t, ForkAltair, ctx.CurrentFork())
	})

	t.Run("before genesis", func(t *testing.T) {
		ctx := NewForkContext(schedule, time.Now().Add(time.Hour), 12*time.Second)
		assert.Equal(t, ForkPhase0, ctx.CurrentFork())
	})

	t.Run("around genesis", func(t *testing.T) {
		genesis := time.Unix(1_600_000_000, 0)
		ctx := NewForkContext(schedule, genesis, 12*time.Second)

		tests := []struct {
			name string
			now  time.Time
			want ForkName
		}{
			{"a slot before", genesis.Add(-12 * time.Second), ForkPhase0},
			{"a nanosecond before", genesis.Add(-time.Nanosecond), ForkPhase0},
			{"at genesis", genesis, ForkPhase0},
			{"a year before", genesis.AddDate(-1, 0, 0), ForkPhase0},
			{"first altair slot", genesis.Add(10 * 32 * 12 * time.Second), ForkAltair},
			{"first deneb slot", genesis.Add(40 * 32 * 12 * time.Second), ForkDeneb},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				ctx.now = func() time.Time { return tt.now }
				assert.Equal(t, tt.want, ctx.CurrentFork())
			})
		}
	})
}

func mustConfig(t *testing.T, schedule *ForkSchedule, fork ForkName) ForkConfig {
	t.Helper()

	config, err := schedule.Config(fork)
	require.NoError(t, err)

	return config
}
