package clients

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Methods of an EIP-3009 capable ERC-20 (USDC) used by the EVM client.
const erc20ABIJSON = `[
{"type":"function","name":"balanceOf","stateMutability":"view",
 "inputs":[{"name":"account","type":"address"}],
 "outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"authorizationState","stateMutability":"view",
 "inputs":[{"name":"authorizer","type":"address"},{"name":"nonce","type":"bytes32"}],
 "outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"transfer","stateMutability":"nonpayable",
 "inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],
 "outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"transferWithAuthorization","stateMutability":"nonpayable",
 "inputs":[
  {"name":"from","type":"address"},
  {"name":"to","type":"address"},
  {"name":"value","type":"uint256"},
  {"name":"validAfter","type":"uint256"},
  {"name":"validBefore","type":"uint256"},
  {"name":"nonce","type":"bytes32"},
  {"name":"v","type":"uint8"},
  {"name":"r","type":"bytes32"},
  {"name":"s","type":"bytes32"}],
 "outputs":[]}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parse erc20 abi: %v", err))
	}
	return parsed
}

func (c *EVMClient) call(ctx context.Context, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := erc20ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unpack %s: expected 1 value, got %d", method, len(values))
	}
	return values, nil
}

func (c *EVMClient) balanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	values, err := c.call(ctx, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned %T", values[0])
	}
	return balance, nil
}

func (c *EVMClient) authorizationState(ctx context.Context, token, authorizer common.Address, nonce [32]byte) (bool, error) {
	values, err := c.call(ctx, token, "authorizationState", authorizer, nonce)
	if err != nil {
		return false, err
	}
	used, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("authorizationState returned %T", values[0])
	}
	return used, nil
}
