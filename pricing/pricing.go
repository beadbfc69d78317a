// Package pricing turns human prices into x402 payment requirements.
package pricing

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vitwit/x402-checkout/types"
	"github.com/vitwit/x402-checkout/utils"
)

// Asset describes the USDC deployment used on a network.
type Asset struct {
	Network  types.Network
	ChainID  int64
	Address  string
	Decimals int32
	// EIP-712 domain of the token contract.
	Name    string
	Version string
}

var assets = map[types.Network]Asset{
	types.NetworkBase: {
		Network:  types.NetworkBase,
		ChainID:  8453,
		Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals: 6,
		Name:     "USD Coin",
		Version:  "2",
	},
	types.NetworkBaseSepolia: {
		Network:  types.NetworkBaseSepolia,
		ChainID:  84532,
		Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals: 6,
		Name:     "USDC",
		Version:  "2",
	},
	types.NetworkPolygon: {
		Network:  types.NetworkPolygon,
		ChainID:  137,
		Address:  "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		Decimals: 6,
		Name:     "USD Coin",
		Version:  "2",
	},
	types.NetworkPolygonAmoy: {
		Network:  types.NetworkPolygonAmoy,
		ChainID:  80002,
		Address:  "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
		Decimals: 6,
		Name:     "USDC",
		Version:  "2",
	},
	types.NetworkAvalanche: {
		Network:  types.NetworkAvalanche,
		ChainID:  43114,
		Address:  "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		Decimals: 6,
		Name:     "USD Coin",
		Version:  "2",
	},
	types.NetworkAvalancheFuji: {
		Network:  types.NetworkAvalancheFuji,
		ChainID:  43113,
		Address:  "0x5425890298aed601595a70AB815c96711a31Bc65",
		Decimals: 6,
		Name:     "USD Coin",
		Version:  "2",
	},
}

// Lookup returns the asset for n or a *types.ConfigError.
func Lookup(n types.Network) (Asset, error) {
	a, ok := assets[n]
	if !ok {
		return Asset{}, &types.ConfigError{Message: fmt.Sprintf("unsupported network %q", n)}
	}
	return a, nil
}

// Networks lists every network with a known asset, sorted by name.
func Networks() []types.Network {
	out := make([]types.Network, 0, len(assets))
	for n := range assets {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParsePrice parses a dollar price such as "$25.00", "25" or "0.5".
// Zero and negative prices are configuration errors.
func ParsePrice(price string) (decimal.Decimal, error) {
	s := strings.TrimSpace(price)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")

	d, err := utils.ValidateAmount(s)
	if err != nil {
		return decimal.Zero, &types.ConfigError{Message: fmt.Sprintf("invalid price %q: %v", price, err)}
	}
	if !d.IsPositive() {
		return decimal.Zero, &types.ConfigError{Message: fmt.Sprintf("price %q must be positive", price)}
	}
	return *d, nil
}

// ToAtomic converts a dollar amount into the asset's smallest unit.
func (a Asset) ToAtomic(amount decimal.Decimal) (*big.Int, error) {
	n, err := utils.DecimalToAtomic(amount, a.Decimals)
	if err != nil {
		return nil, &types.ConfigError{Message: err.Error()}
	}
	return n, nil
}

// FromAtomic renders an atomic amount in whole asset units, e.g. "7.5".
func (a Asset) FromAtomic(n *big.Int) string {
	return utils.FormatAmountFromBigInt(n, a.Decimals)
}

// Atomic parses price and converts it for network in one step.
func Atomic(price string, network types.Network) (*big.Int, Asset, error) {
	asset, err := Lookup(network)
	if err != nil {
		return nil, Asset{}, err
	}
	d, err := ParsePrice(price)
	if err != nil {
		return nil, Asset{}, err
	}
	n, err := asset.ToAtomic(d)
	if err != nil {
		return nil, Asset{}, err
	}
	return n, asset, nil
}

// FromCents converts an integer cent amount into dollars.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// ToCents rounds a dollar amount to whole cents.
func ToCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// FormatPrice renders d as "$12.34".
func FormatPrice(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
