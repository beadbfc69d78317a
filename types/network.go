package types

// Network represents supported blockchain networks
type Network string

const (
	NetworkBase          Network = "base"
	NetworkBaseSepolia   Network = "base-sepolia" // testnet
	NetworkPolygon       Network = "polygon"
	NetworkPolygonAmoy   Network = "polygon-amoy" // testnet
	NetworkAvalanche     Network = "avalanche"
	NetworkAvalancheFuji Network = "avalanche-fuji" // testnet
)

// Helper functions for network classification
func (n Network) IsEVM() bool {
	switch n {
	case NetworkBase, NetworkBaseSepolia,
		NetworkPolygon, NetworkPolygonAmoy,
		NetworkAvalanche, NetworkAvalancheFuji:
		return true
	}
	return false
}

func (n Network) String() string {
	return string(n)
}
