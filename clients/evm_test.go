package clients

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402-checkout/types"
	"github.com/vitwit/x402-checkout/utils/eip712"
)

const merchant = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"

type fakeBackend struct {
	balance  *big.Int
	used     bool
	callErr  error
	sendErr  error
	sent     []*ethtypes.Transaction
	closed   bool
	lastCall []byte
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	f.lastCall = msg.Data
	switch {
	case bytes.HasPrefix(msg.Data, erc20ABI.Methods["balanceOf"].ID):
		return erc20ABI.Methods["balanceOf"].Outputs.Pack(f.balance)
	case bytes.HasPrefix(msg.Data, erc20ABI.Methods["authorizationState"].ID):
		return erc20ABI.Methods["authorizationState"].Outputs.Pack(f.used)
	}
	return nil, errors.New("unexpected call")
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 90_000, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) Close() { f.closed = true }

type signedPayment struct {
	key *ecdsa.PrivateKey
	req *types.VerifyRequest
}

// newSignedPayment signs a base-sepolia USDC authorization of value to payTo.
func newSignedPayment(t *testing.T, value string, payTo string, now time.Time) signedPayment {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)

	authz := types.EIP3009Authorization{
		From:        from.Hex(),
		To:          payTo,
		Value:       value,
		ValidAfter:  big.NewInt(now.Add(-time.Minute).Unix()).String(),
		ValidBefore: big.NewInt(now.Add(10 * time.Minute).Unix()).String(),
		Nonce:       hexutil.Encode(crypto.Keccak256([]byte(from.Hex() + value))),
	}

	parsed, err := eip712.ParseAuthorization(authz.From, authz.To, authz.Value, authz.ValidAfter, authz.ValidBefore, authz.Nonce)
	require.NoError(t, err)

	digest, err := eip712.Digest(eip712.Domain{
		Name:              "USDC",
		Version:           "2",
		ChainID:           big.NewInt(84532),
		VerifyingContract: common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
	}, parsed)
	require.NoError(t, err)

	sig, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)
	sig[64] += 27

	raw, err := json.Marshal(types.ExactEvmPayload{Signature: hexutil.Encode(sig), Authorization: authz})
	require.NoError(t, err)

	req := sampleVerifyRequest()
	req.PaymentPayload.Payload = raw
	req.PaymentRequirements.PayTo = merchant
	req.PaymentRequirements.Extra = map[string]interface{}{"name": "USDC", "version": "2"}
	return signedPayment{key: key, req: req}
}

func newTestEVMClient(t *testing.T, backend *fakeBackend, withSigner bool, now time.Time) *EVMClient {
	t.Helper()
	var signer *ecdsa.PrivateKey
	if withSigner {
		var err error
		signer, err = crypto.GenerateKey()
		require.NoError(t, err)
	}
	c, err := NewEVMClientWithBackend(types.NetworkBaseSepolia, backend, signer, nil)
	require.NoError(t, err)
	c.now = func() time.Time { return now }
	return c
}

func TestEVMVerifyValidPayment(t *testing.T) {
	now := time.Now()
	p := newSignedPayment(t, "1000000", merchant, now)
	c := newTestEVMClient(t, &fakeBackend{balance: big.NewInt(5_000_000)}, false, now)

	resp, err := c.VerifyPayment(context.Background(), p.req)
	require.NoError(t, err)
	assert.True(t, resp.IsValid, resp.InvalidReason)
	assert.Equal(t, crypto.PubkeyToAddress(p.key.PublicKey).Hex(), resp.Payer)
}

func TestEVMVerifyRejections(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		mutate  func(*types.VerifyRequest)
		backend *fakeBackend
		now     time.Time
		reason  string
	}{
		{
			name:    "insufficient amount",
			mutate:  func(r *types.VerifyRequest) { r.PaymentRequirements.MaxAmountRequired = "2000000" },
			backend: &fakeBackend{balance: big.NewInt(5_000_000)},
			reason:  ErrInsufficientAmount,
		},
		{
			name: "recipient mismatch",
			mutate: func(r *types.VerifyRequest) {
				r.PaymentRequirements.PayTo = "0x0000000000000000000000000000000000000001"
			},
			backend: &fakeBackend{balance: big.NewInt(5_000_000)},
			reason:  ErrRecipientMismatch,
		},
		{
			name:    "wrong domain version",
			mutate:  func(r *types.VerifyRequest) { r.PaymentRequirements.Extra["version"] = "1" },
			backend: &fakeBackend{balance: big.NewInt(5_000_000)},
			reason:  ErrInvalidSignature,
		},
		{
			name:    "expired",
			backend: &fakeBackend{balance: big.NewInt(5_000_000)},
			now:     now.Add(time.Hour),
			reason:  ErrValidBeforeExpired,
		},
		{
			name:    "nonce used",
			backend: &fakeBackend{balance: big.NewInt(5_000_000), used: true},
			reason:  ErrNonceAlreadyUsed,
		},
		{
			name:    "insufficient balance",
			backend: &fakeBackend{balance: big.NewInt(10)},
			reason:  ErrInsufficientBalance,
		},
		{
			name:    "network mismatch",
			mutate:  func(r *types.VerifyRequest) { r.PaymentRequirements.Network = "base" },
			backend: &fakeBackend{balance: big.NewInt(5_000_000)},
			reason:  ErrNetworkMismatch,
		},
		{
			name:    "garbage payload",
			mutate:  func(r *types.VerifyRequest) { r.PaymentPayload.Payload = json.RawMessage(`"nope"`) },
			backend: &fakeBackend{balance: big.NewInt(5_000_000)},
			reason:  ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newSignedPayment(t, "1000000", merchant, now)
			if tt.mutate != nil {
				tt.mutate(p.req)
			}
			at := now
			if !tt.now.IsZero() {
				at = tt.now
			}
			c := newTestEVMClient(t, tt.backend, false, at)

			resp, err := c.VerifyPayment(context.Background(), p.req)
			require.NoError(t, err)
			assert.False(t, resp.IsValid)
			assert.Equal(t, tt.reason, resp.InvalidReason)
		})
	}
}

func TestEVMVerifyRPCFailureIsError(t *testing.T) {
	now := time.Now()
	p := newSignedPayment(t, "1000000", merchant, now)
	c := newTestEVMClient(t, &fakeBackend{callErr: errors.New("connection refused")}, false, now)

	_, err := c.VerifyPayment(context.Background(), p.req)
	assert.Error(t, err)
}

func TestEVMSettleSubmitsTransferWithAuthorization(t *testing.T) {
	now := time.Now()
	p := newSignedPayment(t, "1000000", merchant, now)
	backend := &fakeBackend{balance: big.NewInt(5_000_000)}
	c := newTestEVMClient(t, backend, true, now)

	resp, err := c.SettlePayment(context.Background(), p.req)
	require.NoError(t, err)
	require.True(t, resp.Success, resp.ErrorReason)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, tx.Hash().Hex(), resp.Transaction)
	assert.Equal(t, "base-sepolia", resp.Network)
	assert.Equal(t, common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"), *tx.To())
	assert.True(t, bytes.HasPrefix(tx.Data(), erc20ABI.Methods["transferWithAuthorization"].ID))

	sender, err := ethtypes.Sender(ethtypes.NewEIP155Signer(big.NewInt(84532)), tx)
	require.NoError(t, err)
	assert.Equal(t, c.SignerAddress(), sender)
}

func TestEVMSettleWithoutSigner(t *testing.T) {
	now := time.Now()
	p := newSignedPayment(t, "1000000", merchant, now)
	c := newTestEVMClient(t, &fakeBackend{}, false, now)

	resp, err := c.SettlePayment(context.Background(), p.req)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, ErrNoSigner, resp.ErrorReason)
}

func TestEVMSettleSendFailure(t *testing.T) {
	now := time.Now()
	p := newSignedPayment(t, "1000000", merchant, now)
	c := newTestEVMClient(t, &fakeBackend{sendErr: errors.New("nonce too low")}, true, now)

	resp, err := c.SettlePayment(context.Background(), p.req)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, ErrTransactionFailed, resp.ErrorReason)
}

func TestEVMTransfer(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestEVMClient(t, backend, true, time.Now())

	hash, err := c.Transfer(context.Background(), merchant, big.NewInt(250_000))
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, backend.sent[0].Hash().Hex(), hash)
	assert.True(t, bytes.HasPrefix(backend.sent[0].Data(), erc20ABI.Methods["transfer"].ID))

	_, err = c.Transfer(context.Background(), "nobody", big.NewInt(1))
	assert.Error(t, err)
	_, err = c.Transfer(context.Background(), merchant, big.NewInt(0))
	assert.Error(t, err)
}

func TestEVMClientRejectsUnknownNetwork(t *testing.T) {
	_, err := NewEVMClientWithBackend("solana", &fakeBackend{}, nil, nil)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestEVMClose(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestEVMClient(t, backend, false, time.Now())
	c.Close()
	assert.True(t, backend.closed)
}
