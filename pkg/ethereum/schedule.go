package ethereum

import (
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/pkg/errors"
)

// ForkConfig is the version and activation epoch of a single fork.
type ForkConfig struct {
	Version phase0.Version
	Epoch   phase0.Epoch
}

type scheduledFork struct {
	name   ForkName
	config ForkConfig
	digest phase0.ForkDigest
}

// ForkSchedule maps slots and epochs to forks, and forks to their digests
// under a given genesis validators root.
type ForkSchedule struct {
	genesisValidatorsRoot phase0.Root
	slotsPerEpoch         uint64

	forks   []scheduledFork
	digests map[phase0.ForkDigest]ForkName
}

// NewForkSchedule builds a schedule from the given forks. Phase0 is required,
// activation epochs must not decrease with fork order and no two forks may
// share a digest.
func NewForkSchedule(
	genesisValidatorsRoot phase0.Root,
	slotsPerEpoch uint64,
	forks map[ForkName]ForkConfig,
) (*ForkSchedule, error) {
	if slotsPerEpoch == 0 {
		return nil, errors.New("slots per epoch must be greater than zero")
	}

	if _, ok := forks[ForkPhase0]; !ok {
		return nil, errors.New("phase0 fork config is required")
	}

	for name := range forks {
		if !name.IsValid() {
			return nil, errors.Wrapf(ErrUnknownFork, "%s", name)
		}
	}

	s := &ForkSchedule{
		genesisValidatorsRoot: genesisValidatorsRoot,
		slotsPerEpoch:         slotsPerEpoch,
		forks:                 make([]scheduledFork, 0, len(forks)),
		digests:               make(map[phase0.ForkDigest]ForkName, len(forks)),
	}

	for _, name := range Forks() {
		config, ok := forks[name]
		if !ok {
			continue
		}

		if n := len(s.forks); n > 0 && config.Epoch < s.forks[n-1].config.Epoch {
			return nil, errors.Errorf("fork %s activates at epoch %d, before %s at epoch %d",
				name, config.Epoch, s.forks[n-1].name, s.forks[n-1].config.Epoch)
		}

		digest, err := ComputeForkDigest(genesisValidatorsRoot, config.Version)
		if err != nil {
			return nil, errors.Wrapf(err, "fork %s", name)
		}

		if existing, ok := s.digests[digest]; ok {
			return nil, errors.Errorf("forks %s and %s share digest %#x", existing, name, digest)
		}

		s.digests[digest] = name
		s.forks = append(s.forks, scheduledFork{name: name, config: config, digest: digest})
	}

	return s, nil
}

// GenesisValidatorsRoot returns the root the digests were computed with.
func (s *ForkSchedule) GenesisValidatorsRoot() phase0.Root {
	return s.genesisValidatorsRoot
}

// SlotsPerEpoch returns the number of slots per epoch.
func (s *ForkSchedule) SlotsPerEpoch() uint64 {
	return s.slotsPerEpoch
}

// Forks returns the scheduled forks, oldest first.
func (s *ForkSchedule) Forks() []ForkName {
	out := make([]ForkName, 0, len(s.forks))
	for _, f := range s.forks {
		out = append(out, f.name)
	}

	return out
}

// Config returns the version and epoch of a scheduled fork.
func (s *ForkSchedule) Config(fork ForkName) (ForkConfig, error) {
	for _, f := range s.forks {
		if f.name == fork {
			return f.config, nil
		}
	}

	return ForkConfig{}, errors.Wrapf(ErrUnknownFork, "%s is not scheduled", fork)
}

// ForkDigest returns the digest of a scheduled fork.
func (s *ForkSchedule) ForkDigest(fork ForkName) (phase0.ForkDigest, error) {
	for _, f := range s.forks {
		if f.name == fork {
			return f.digest, nil
		}
	}

	return phase0.ForkDigest{}, errors.Wrapf(ErrUnknownFork, "%s is not scheduled", fork)
}

// ForkFromDigest maps a digest back to its fork.
func (s *ForkSchedule) ForkFromDigest(digest phase0.ForkDigest) (ForkName, error) {
	name, ok := s.digests[digest]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownFork, "no fork for digest %#x", digest)
	}

	return name, nil
}

// ForkAtEpoch returns the fork active at the given epoch.
func (s *ForkSchedule) ForkAtEpoch(epoch phase0.Epoch) ForkName {
	active := s.forks[0].name

	for _, f := range s.forks {
		if f.config.Epoch > epoch {
			break
		}

		active = f.name
	}

	return active
}

// ForkAtSlot returns the fork active at the given slot.
func (s *ForkSchedule) ForkAtSlot(slot phase0.Slot) ForkName {
	return s.ForkAtEpoch(phase0.Epoch(uint64(slot) / s.slotsPerEpoch))
}
