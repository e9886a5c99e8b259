package ethereum

import (
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/ethpandaops/ethwallclock"
)

// ForkContext answers "which fork is active now" on top of a ForkSchedule.
type ForkContext struct {
	*ForkSchedule

	wallclock *ethwallclock.EthereumBeaconChain
	genesis   time.Time
	now       func() time.Time
	pinned    ForkName
}

// NewForkContext returns a ForkContext that follows the beacon chain wall
// clock. Before genesis the first scheduled fork is reported.
func NewForkContext(schedule *ForkSchedule, genesisTime time.Time, slotDuration time.Duration) *ForkContext {
	return &ForkContext{
		ForkSchedule: schedule,
		wallclock:    ethwallclock.NewEthereumBeaconChain(genesisTime, slotDuration, schedule.SlotsPerEpoch()),
		genesis:      genesisTime,
		now:          time.Now,
	}
}

// NewPinnedForkContext returns a ForkContext whose current fork never moves.
func NewPinnedForkContext(schedule *ForkSchedule, fork ForkName) *ForkContext {
	return &ForkContext{
		ForkSchedule: schedule,
		pinned:       fork,
	}
}

// CurrentFork returns the fork active at the current wall clock slot.
func (c *ForkContext) CurrentFork() ForkName {
	if c.wallclock == nil {
		return c.pinned
	}

	now := c.now()
	if now.Before(c.genesis) {
		return c.forks[0].name
	}

	slot := c.wallclock.Slots().FromTime(now)

	return c.ForkAtSlot(phase0.Slot(slot.Number()))
}
