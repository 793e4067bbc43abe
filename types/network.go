package types

import "math/big"

// Network represents a supported blockchain network.
type Network string

const (
	NetworkBase        Network = "base"
	NetworkBaseSepolia Network = "base-sepolia" // testnet
)

// EVMChainIDs maps network identifiers to their EVM chain ids.
var EVMChainIDs = map[Network]*big.Int{
	NetworkBase:        big.NewInt(8453),
	NetworkBaseSepolia: big.NewInt(84532),
}

// SupportedEVMNetworks lists the networks the facilitator settles on.
var SupportedEVMNetworks = []Network{
	NetworkBase,
	NetworkBaseSepolia,
}

func (n Network) IsEVM() bool {
	_, ok := EVMChainIDs[n]
	return ok
}

func (n Network) IsTestnet() bool {
	return n == NetworkBaseSepolia
}

func (n Network) String() string {
	return string(n)
}

// ChainID returns the EVM chain id for the network, or nil when the
// network is not recognized.
func (n Network) ChainID() *big.Int {
	return EVMChainIDs[n]
}
