package ethereum

import (
	"fmt"
	"strings"

	"github.com/OffchainLabs/prysm/v6/beacon-chain/core/signing"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/pkg/errors"
)

// ForkName identifies a consensus fork. Forks are ordered, so a later fork
// always compares greater than an earlier one.
type ForkName int

const (
	ForkPhase0 ForkName = iota
	ForkAltair
	ForkBellatrix
	ForkCapella
	ForkDeneb
)

// ErrUnknownFork is returned when a fork name, digest or version is not part
// of the fork schedule.
var ErrUnknownFork = errors.New("unknown fork")

// Forks returns every fork this package knows about, oldest first.
func Forks() []ForkName {
	return []ForkName{ForkPhase0, ForkAltair, ForkBellatrix, ForkCapella, ForkDeneb}
}

// String returns the lower-case consensus-specs name of the fork.
func (f ForkName) String() string {
	switch f {
	case ForkPhase0:
		return "phase0"
	case ForkAltair:
		return "altair"
	case ForkBellatrix:
		return "bellatrix"
	case ForkCapella:
		return "capella"
	case ForkDeneb:
		return "deneb"
	default:
		return fmt.Sprintf("fork(%d)", int(f))
	}
}

// IsValid reports whether f is one of the known forks.
func (f ForkName) IsValid() bool {
	return f >= ForkPhase0 && f <= ForkDeneb
}

// ParseForkName parses a fork name such as "altair" (case-insensitive).
func ParseForkName(name string) (ForkName, error) {
	for _, fork := range Forks() {
		if strings.EqualFold(fork.String(), name) {
			return fork, nil
		}
	}

	return 0, errors.Wrapf(ErrUnknownFork, "%q", name)
}

// ComputeForkDigest computes the 4-byte fork digest used in ENRs, gossip
// topics and ReqResp context bytes.
func ComputeForkDigest(genesisValidatorsRoot phase0.Root, forkVersion phase0.Version) (phase0.ForkDigest, error) {
	digest, err := signing.ComputeForkDigest(forkVersion[:], genesisValidatorsRoot[:])
	if err != nil {
		return phase0.ForkDigest{}, errors.Wrap(err, "failed to compute fork digest")
	}

	return phase0.ForkDigest(digest), nil
}
