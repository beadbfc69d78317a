// Package eip712 hashes EIP-3009 transferWithAuthorization messages the way
// USDC-style tokens verify them on chain.
package eip712

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Domain is the EIP-712 domain of the token contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Authorization is a parsed EIP-3009 message.
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	transferWithAuthorizationTypeHash = crypto.Keccak256Hash([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))
)

func word(i *big.Int) []byte {
	return common.LeftPadBytes(i.Bytes(), 32)
}

func addressWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

// DomainSeparator returns keccak256(abi.encode(typeHash, name, version, chainId, verifyingContract)).
func DomainSeparator(d Domain) (common.Hash, error) {
	if d.Name == "" || d.Version == "" || d.ChainID == nil || d.VerifyingContract == (common.Address{}) {
		return common.Hash{}, errors.New("incomplete eip712 domain")
	}
	return crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		word(d.ChainID),
		addressWord(d.VerifyingContract),
	), nil
}

// StructHash hashes the TransferWithAuthorization struct.
func (a Authorization) StructHash() common.Hash {
	return crypto.Keccak256Hash(
		transferWithAuthorizationTypeHash.Bytes(),
		addressWord(a.From),
		addressWord(a.To),
		word(a.Value),
		word(a.ValidAfter),
		word(a.ValidBefore),
		a.Nonce[:],
	)
}

// Digest returns keccak256("\x19\x01" || domainSeparator || structHash).
func Digest(d Domain, a Authorization) (common.Hash, error) {
	sep, err := DomainSeparator(d)
	if err != nil {
		return common.Hash{}, err
	}
	structHash := a.StructHash()
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, sep.Bytes(), structHash.Bytes()), nil
}

// ParseAuthorization converts the wire form (hex addresses, decimal
// integers, hex nonce) into an Authorization.
func ParseAuthorization(from, to, value, validAfter, validBefore, nonce string) (Authorization, error) {
	var a Authorization
	if !common.IsHexAddress(from) {
		return a, fmt.Errorf("invalid from address %q", from)
	}
	if !common.IsHexAddress(to) {
		return a, fmt.Errorf("invalid to address %q", to)
	}
	a.From = common.HexToAddress(from)
	a.To = common.HexToAddress(to)

	var err error
	if a.Value, err = decimalInt("value", value); err != nil {
		return a, err
	}
	if a.ValidAfter, err = decimalInt("validAfter", validAfter); err != nil {
		return a, err
	}
	if a.ValidBefore, err = decimalInt("validBefore", validBefore); err != nil {
		return a, err
	}
	if a.Nonce, err = HexToBytes32(nonce); err != nil {
		return a, fmt.Errorf("invalid nonce: %w", err)
	}
	return a, nil
}

func decimalInt(field, s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s %q", field, s)
	}
	return n, nil
}

// HexToBytes32 decodes a 32-byte hex value, with or without 0x.
func HexToBytes32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// RecoverSigner recovers the address that produced sig over digest.
// V may be 0/1 or 27/28.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, errors.New("signature must be 65 bytes")
	}
	s := make([]byte, 65)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}

	pub, err := crypto.SigToPub(digest.Bytes(), s)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SplitSignature returns the v, r, s components expected by
// transferWithAuthorization. v is normalized to 27/28.
func SplitSignature(sig []byte) (uint8, [32]byte, [32]byte, error) {
	var r, s [32]byte
	if len(sig) != 65 {
		return 0, r, s, errors.New("signature must be 65 bytes")
	}
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])
	v := sig[64]
	if v < 27 {
		v += 27
	}
	return v, r, s, nil
}
