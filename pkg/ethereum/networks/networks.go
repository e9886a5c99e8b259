package networks

import (
	"errors"
	"fmt"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethpandaops/reqresp/pkg/ethereum"
)

// NetworkName represents the name of an Ethereum network.
type NetworkName string

// Network is a consensus network preset: enough to build a fork schedule and
// a wall clock backed fork context.
type Network struct {
	Name                  NetworkName
	ID                    uint64
	GenesisTime           time.Time
	GenesisValidatorsRoot phase0.Root
	SecondsPerSlot        uint64
	SlotsPerEpoch         uint64
	Forks                 map[ethereum.ForkName]ethereum.ForkConfig
}

// Define known networks.
var (
	NetworkNameNone    NetworkName = "none"
	NetworkNameUnknown NetworkName = "unknown"
	NetworkNameMainnet NetworkName = "mainnet"
	NetworkNameGoerli  NetworkName = "goerli"
	NetworkNameSepolia NetworkName = "sepolia"
	NetworkNameHolesky NetworkName = "holesky"
	NetworkNameHoodi   NetworkName = "hoodi"
)

var ErrNetworkNotFound = errors.New("network not found")

// KnownNetworks holds the presets for the public networks.
var KnownNetworks = []Network{
	{
		Name:                  NetworkNameMainnet,
		ID:                    1,
		GenesisTime:           time.Unix(1606824023, 0),
		GenesisValidatorsRoot: root("0x4b363db94e286120d76eb905340fdd4e54bfe9f06bf33ff6cf5ad27f511bfe95"),
		SecondsPerSlot:        12,
		SlotsPerEpoch:         32,
		Forks: map[ethereum.ForkName]ethereum.ForkConfig{
			ethereum.ForkPhase0:    {Version: phase0.Version{0x00, 0x00, 0x00, 0x00}, Epoch: 0},
			ethereum.ForkAltair:    {Version: phase0.Version{0x01, 0x00, 0x00, 0x00}, Epoch: 74240},
			ethereum.ForkBellatrix: {Version: phase0.Version{0x02, 0x00, 0x00, 0x00}, Epoch: 144896},
			ethereum.ForkCapella:   {Version: phase0.Version{0x03, 0x00, 0x00, 0x00}, Epoch: 194048},
			ethereum.ForkDeneb:     {Version: phase0.Version{0x04, 0x00, 0x00, 0x00}, Epoch: 269568},
		},
	},
	{
		Name:                  NetworkNameGoerli,
		ID:                    5,
		GenesisTime:           time.Unix(1616508000, 0),
		GenesisValidatorsRoot: root("0x043db0d9a83813551ee2f33450d23797757d430911a9320530ad8a0eabc43efb"),
		SecondsPerSlot:        12,
		SlotsPerEpoch:         32,
		Forks: map[ethereum.ForkName]ethereum.ForkConfig{
			ethereum.ForkPhase0:    {Version: phase0.Version{0x00, 0x00, 0x10, 0x20}, Epoch: 0},
			ethereum.ForkAltair:    {Version: phase0.Version{0x01, 0x00, 0x10, 0x20}, Epoch: 36660},
			ethereum.ForkBellatrix: {Version: phase0.Version{0x02, 0x00, 0x10, 0x20}, Epoch: 112260},
			ethereum.ForkCapella:   {Version: phase0.Version{0x03, 0x00, 0x10, 0x20}, Epoch: 162304},
			ethereum.ForkDeneb:     {Version: phase0.Version{0x04, 0x00, 0x10, 0x20}, Epoch: 231680},
		},
	},
	{
		Name:                  NetworkNameSepolia,
		ID:                    11155111,
		GenesisTime:           time.Unix(1655733600, 0),
		GenesisValidatorsRoot: root("0xd8ea171f3c94aea21ebc42a1ed61052acf3f9209c00e4efbaaddac09ed9b8078"),
		SecondsPerSlot:        12,
		SlotsPerEpoch:         32,
		Forks: map[ethereum.ForkName]ethereum.ForkConfig{
			ethereum.ForkPhase0:    {Version: phase0.Version{0x90, 0x00, 0x00, 0x69}, Epoch: 0},
			ethereum.ForkAltair:    {Version: phase0.Version{0x90, 0x00, 0x00, 0x70}, Epoch: 50},
			ethereum.ForkBellatrix: {Version: phase0.Version{0x90, 0x00, 0x00, 0x71}, Epoch: 100},
			ethereum.ForkCapella:   {Version: phase0.Version{0x90, 0x00, 0x00, 0x72}, Epoch: 56832},
			ethereum.ForkDeneb:     {Version: phase0.Version{0x90, 0x00, 0x00, 0x73}, Epoch: 132608},
		},
	},
	{
		Name:                  NetworkNameHolesky,
		ID:                    17000,
		GenesisTime:           time.Unix(1695902400, 0),
		GenesisValidatorsRoot: root("0x9143aa7c615a7f7115e2b6aac319c03529df8242ae705fba9df39b79c59fa8b1"),
		SecondsPerSlot:        12,
		SlotsPerEpoch:         32,
		Forks: map[ethereum.ForkName]ethereum.ForkConfig{
			ethereum.ForkPhase0:    {Version: phase0.Version{0x01, 0x01, 0x70, 0x00}, Epoch: 0},
			ethereum.ForkAltair:    {Version: phase0.Version{0x02, 0x01, 0x70, 0x00}, Epoch: 0},
			ethereum.ForkBellatrix: {Version: phase0.Version{0x03, 0x01, 0x70, 0x00}, Epoch: 0},
			ethereum.ForkCapella:   {Version: phase0.Version{0x04, 0x01, 0x70, 0x00}, Epoch: 256},
			ethereum.ForkDeneb:     {Version: phase0.Version{0x05, 0x01, 0x70, 0x00}, Epoch: 29696},
		},
	},
	{
		Name:                  NetworkNameHoodi,
		ID:                    560048,
		GenesisTime:           time.Unix(1742213400, 0),
		GenesisValidatorsRoot: root("0x212f13fc4df078b6cb7db228f1c8307566dcecf900867401a92023d7ba99cb5f"),
		SecondsPerSlot:        12,
		SlotsPerEpoch:         32,
		Forks: map[ethereum.ForkName]ethereum.ForkConfig{
			ethereum.ForkPhase0:    {Version: phase0.Version{0x10, 0x00, 0x09, 0x10}, Epoch: 0},
			ethereum.ForkAltair:    {Version: phase0.Version{0x20, 0x00, 0x09, 0x10}, Epoch: 0},
			ethereum.ForkBellatrix: {Version: phase0.Version{0x30, 0x00, 0x09, 0x10}, Epoch: 0},
			ethereum.ForkCapella:   {Version: phase0.Version{0x40, 0x00, 0x09, 0x10}, Epoch: 0},
			ethereum.ForkDeneb:     {Version: phase0.Version{0x50, 0x00, 0x09, 0x10}, Epoch: 0},
		},
	},
}

func root(hex string) phase0.Root {
	return phase0.Root(common.HexToHash(hex))
}

// ForkSchedule builds the fork schedule of the network.
func (n *Network) ForkSchedule() (*ethereum.ForkSchedule, error) {
	schedule, err := ethereum.NewForkSchedule(n.GenesisValidatorsRoot, n.SlotsPerEpoch, n.Forks)
	if err != nil {
		return nil, fmt.Errorf("network %s: %w", n.Name, err)
	}

	return schedule, nil
}

// ForkContext builds a fork context that follows the network's wall clock.
func (n *Network) ForkContext() (*ethereum.ForkContext, error) {
	schedule, err := n.ForkSchedule()
	if err != nil {
		return nil, err
	}

	return ethereum.NewForkContext(schedule, n.GenesisTime, time.Duration(n.SecondsPerSlot)*time.Second), nil
}

// DeriveFromGenesisRoot derives a network from a genesis validators root.
func DeriveFromGenesisRoot(genesisRoot string) *Network {
	if genesisRoot == "" {
		return &Network{Name: NetworkNameUnknown}
	}

	network, err := FindByGenesisValidatorsRoot(root(genesisRoot))
	if err != nil {
		return &Network{Name: NetworkNameUnknown}
	}

	return network
}

// DeriveFromID derives a network from a chain ID.
func DeriveFromID(id uint64) *Network {
	for _, network := range KnownNetworks {
		if network.ID == id {
			return &network
		}
	}

	return &Network{Name: NetworkNameUnknown, ID: id}
}

// FindByName returns a network with the given name or an error if not found.
func FindByName(name NetworkName) (*Network, error) {
	for _, network := range KnownNetworks {
		if network.Name == name {
			return &network, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNetworkNotFound, name)
}

// FindByGenesisValidatorsRoot returns the network with the given genesis
// validators root or an error if not found.
func FindByGenesisValidatorsRoot(gvr phase0.Root) (*Network, error) {
	for _, network := range KnownNetworks {
		if network.GenesisValidatorsRoot == gvr {
			return &network, nil
		}
	}

	return nil, fmt.Errorf("%w: %#x", ErrNetworkNotFound, gvr)
}
