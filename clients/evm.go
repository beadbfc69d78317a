package clients

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vitwit/x402-checkout/logger"
	"github.com/vitwit/x402-checkout/pricing"
	"github.com/vitwit/x402-checkout/types"
	"github.com/vitwit/x402-checkout/utils"
	"github.com/vitwit/x402-checkout/utils/eip712"
)

// Backend is the subset of ethclient.Client the EVM client uses.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	Close()
}

// EVMClient verifies EIP-3009 authorizations locally and settles them by
// submitting transferWithAuthorization from the facilitator key.
type EVMClient struct {
	network types.Network
	asset   pricing.Asset
	chainID *big.Int
	eth     Backend
	signer  *ecdsa.PrivateKey // required for settlement and transfers
	logger  logger.Logger
	now     func() time.Time
}

var _ Client = (*EVMClient)(nil)

// NewEVMClient dials cfg.RPCUrl and loads the facilitator key from cfg.HexSeed.
func NewEVMClient(ctx context.Context, cfg types.ClientConfig, l logger.Logger) (*EVMClient, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCUrl)
	if err != nil {
		return nil, fmt.Errorf("ethereum rpc dial: %w", err)
	}

	var signer *ecdsa.PrivateKey
	if cfg.HexSeed != "" {
		signer, err = utils.PrivateKeyFromHex(cfg.HexSeed)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("invalid signer key: %w", err)
		}
	}

	c, err := NewEVMClientWithBackend(cfg.Network, eth, signer, l)
	if err != nil {
		eth.Close()
		return nil, err
	}
	return c, nil
}

// NewEVMClientWithBackend builds a client over an existing backend.
func NewEVMClientWithBackend(network types.Network, eth Backend, signer *ecdsa.PrivateKey, l logger.Logger) (*EVMClient, error) {
	asset, err := pricing.Lookup(network)
	if err != nil {
		return nil, err
	}
	return &EVMClient{
		network: network,
		asset:   asset,
		chainID: big.NewInt(asset.ChainID),
		eth:     eth,
		signer:  signer,
		logger:  logger.OrNoop(l),
		now:     time.Now,
	}, nil
}

func (c *EVMClient) GetNetwork() types.Network { return c.network }

func (c *EVMClient) Close() { c.eth.Close() }

// SignerAddress returns the facilitator address, or the zero address when
// the client is verify-only.
func (c *EVMClient) SignerAddress() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return utils.AddressFromPrivateKey(c.signer)
}

// checkedAuthorization is an authorization that passed every local check.
type checkedAuthorization struct {
	auth  eip712.Authorization
	sig   []byte
	token common.Address
}

func invalid(reason, payer string) *types.VerifyResponse {
	return &types.VerifyResponse{IsValid: false, InvalidReason: reason, Payer: payer}
}

// VerifyPayment checks the authorization against the requirement, recovers
// the signer, and confirms nonce and balance on chain.
func (c *EVMClient) VerifyPayment(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResponse, error) {
	checked, reject := c.check(req)
	if reject != nil {
		return reject, nil
	}
	payer := checked.auth.From.Hex()

	used, err := c.authorizationState(ctx, checked.token, checked.auth.From, checked.auth.Nonce)
	if err != nil {
		return nil, fmt.Errorf("check authorization nonce: %w", err)
	}
	if used {
		return invalid(ErrNonceAlreadyUsed, payer), nil
	}

	balance, err := c.balanceOf(ctx, checked.token, checked.auth.From)
	if err != nil {
		return nil, fmt.Errorf("get payer balance: %w", err)
	}
	if balance.Cmp(checked.auth.Value) < 0 {
		return invalid(ErrInsufficientBalance, payer), nil
	}

	return &types.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// check performs every verification step that needs no RPC.
func (c *EVMClient) check(req *types.VerifyRequest) (*checkedAuthorization, *types.VerifyResponse) {
	reqs := &req.PaymentRequirements

	if req.PaymentPayload.Scheme != string(types.SchemeExact) || reqs.Scheme != string(types.SchemeExact) {
		return nil, invalid(ErrUnsupportedScheme, "")
	}
	if types.Network(reqs.Network) != c.network || req.PaymentPayload.Network != reqs.Network {
		return nil, invalid(ErrNetworkMismatch, "")
	}
	if !utils.SameAddress(reqs.Asset, c.asset.Address) {
		return nil, invalid(ErrAssetMismatch, "")
	}

	var payload types.ExactEvmPayload
	if err := json.Unmarshal(req.PaymentPayload.Payload, &payload); err != nil {
		return nil, invalid(ErrInvalidPayload, "")
	}
	if payload.Signature == "" {
		return nil, invalid(ErrMissingSignature, "")
	}

	a := payload.Authorization
	auth, err := eip712.ParseAuthorization(a.From, a.To, a.Value, a.ValidAfter, a.ValidBefore, a.Nonce)
	if err != nil {
		return nil, invalid(ErrInvalidPayload, "")
	}
	payer := auth.From.Hex()

	if !utils.SameAddress(reqs.PayTo, auth.To.Hex()) {
		return nil, invalid(ErrRecipientMismatch, payer)
	}

	required, err := utils.ValidateBigInt(reqs.MaxAmountRequired)
	if err != nil {
		return nil, invalid(ErrInvalidRequired, payer)
	}
	if auth.Value.Cmp(required) < 0 {
		return nil, invalid(ErrInsufficientAmount, payer)
	}

	now := big.NewInt(c.now().Unix())
	if auth.ValidBefore.Cmp(now) <= 0 {
		return nil, invalid(ErrValidBeforeExpired, payer)
	}
	if auth.ValidAfter.Cmp(now) > 0 {
		return nil, invalid(ErrValidAfterInFuture, payer)
	}

	sig, err := hexutil.Decode(payload.Signature)
	if err != nil || len(sig) != 65 {
		return nil, invalid(ErrInvalidSignatureFormat, payer)
	}

	digest, err := eip712.Digest(c.domain(reqs), auth)
	if err != nil {
		return nil, invalid(ErrInvalidPayload, payer)
	}
	signer, err := eip712.RecoverSigner(digest, sig)
	if err != nil || signer != auth.From {
		return nil, invalid(ErrInvalidSignature, payer)
	}

	return &checkedAuthorization{
		auth:  auth,
		sig:   sig,
		token: common.HexToAddress(c.asset.Address),
	}, nil
}

// domain prefers the EIP-712 name/version advertised in the requirement.
func (c *EVMClient) domain(reqs *types.PaymentRequirements) eip712.Domain {
	d := eip712.Domain{
		Name:              c.asset.Name,
		Version:           c.asset.Version,
		ChainID:           c.chainID,
		VerifyingContract: common.HexToAddress(c.asset.Address),
	}
	if name, ok := reqs.Extra["name"].(string); ok && name != "" {
		d.Name = name
	}
	if version, ok := reqs.Extra["version"].(string); ok && version != "" {
		d.Version = version
	}
	return d
}

// SettlePayment re-runs the local checks and submits transferWithAuthorization.
// It does not wait for the transaction to be mined.
func (c *EVMClient) SettlePayment(ctx context.Context, req *types.VerifyRequest) (*types.SettleResponse, error) {
	failed := func(reason, payer string) *types.SettleResponse {
		return &types.SettleResponse{Success: false, ErrorReason: reason, Network: c.network.String(), Payer: payer}
	}

	if c.signer == nil {
		return failed(ErrNoSigner, ""), nil
	}

	checked, reject := c.check(req)
	if reject != nil {
		return failed(reject.InvalidReason, reject.Payer), nil
	}
	payer := checked.auth.From.Hex()

	v, r, s, err := eip712.SplitSignature(checked.sig)
	if err != nil {
		return failed(ErrInvalidSignatureFormat, payer), nil
	}

	a := checked.auth
	callData, err := erc20ABI.Pack("transferWithAuthorization",
		a.From, a.To, a.Value, a.ValidAfter, a.ValidBefore, a.Nonce, v, r, s)
	if err != nil {
		return failed(ErrFailedToExecuteTransfer, payer), nil
	}

	tx, err := c.send(ctx, checked.token, callData)
	if err != nil {
		c.logger.Error("settlement transaction failed", map[string]any{
			"network": c.network.String(),
			"payer":   payer,
			"error":   err,
		})
		return failed(ErrTransactionFailed, payer), nil
	}

	c.logger.Info("settlement transaction submitted", map[string]any{
		"network": c.network.String(),
		"payer":   payer,
		"tx":      tx.Hash().Hex(),
	})

	return &types.SettleResponse{
		Success:     true,
		Transaction: tx.Hash().Hex(),
		Network:     c.network.String(),
		Payer:       payer,
	}, nil
}

// Transfer sends amount of the network's USDC from the facilitator key to
// recipient and returns the transaction hash.
func (c *EVMClient) Transfer(ctx context.Context, recipient string, amount *big.Int) (string, error) {
	if c.signer == nil {
		return "", fmt.Errorf("no signer configured for %s", c.network)
	}
	if !utils.ValidateAddress(recipient) {
		return "", fmt.Errorf("invalid recipient %q", recipient)
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("transfer amount must be positive")
	}

	callData, err := erc20ABI.Pack("transfer", common.HexToAddress(recipient), amount)
	if err != nil {
		return "", fmt.Errorf("pack transfer: %w", err)
	}
	tx, err := c.send(ctx, common.HexToAddress(c.asset.Address), callData)
	if err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

func (c *EVMClient) send(ctx context.Context, to common.Address, callData []byte) (*ethtypes.Transaction, error) {
	from := c.SignerAddress()

	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: callData})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	tx := ethtypes.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, callData)
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(c.chainID), c.signer)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}
	return signed, nil
}
