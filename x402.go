// Package x402 is the payment facade used by the checkout: it verifies and
// settles x402 `exact` payments on EVM networks, either through a remote
// facilitator or locally against an RPC node.
package x402

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/vitwit/x402-checkout/clients"
	"github.com/vitwit/x402-checkout/logger"
	"github.com/vitwit/x402-checkout/metrics"
	"github.com/vitwit/x402-checkout/retry"
	"github.com/vitwit/x402-checkout/settlement"
	"github.com/vitwit/x402-checkout/types"
	"github.com/vitwit/x402-checkout/utils"
	"github.com/vitwit/x402-checkout/verification"
)

const defaultTimeout = 30 * time.Second

// X402 is the main struct that provides all x402 functionality
type X402 struct {
	verificationService *verification.VerificationService
	settlementService   *settlement.SettlementService
	config              *types.X402Config

	logger  logger.Logger
	metrics metrics.Recorder
	timeout time.Duration

	owned []clients.Client
	evm   map[types.Network]*clients.EVMClient
}

// New creates a new X402 instance with the given configuration. Local EVM
// clients are dialed immediately.
func New(config *types.X402Config, opts ...Option) (*X402, error) {
	if config == nil {
		config = &types.X402Config{}
	}
	if err := utils.ValidateX402Config(config); err != nil {
		return nil, err
	}

	x := &X402{
		config:  config,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		timeout: defaultTimeout,
		evm:     make(map[types.Network]*clients.EVMClient),
	}
	if config.DefaultTimeout > 0 {
		x.timeout = config.DefaultTimeout
	}
	for _, opt := range opts {
		opt(x)
	}

	x.verificationService = verification.NewVerificationService(x.timeout, x.logger, x.metrics)
	x.settlementService = settlement.NewSettlementService(x.timeout, x.logger, x.metrics)

	if config.FacilitatorURL != "" {
		fc := clients.NewFacilitatorClient(config.FacilitatorURL, x.timeout, x.logger, retry.WithMetrics(x.metrics))
		x.owned = append(x.owned, fc)
		for _, network := range config.FacilitatorNetworks {
			if err := x.AddNetwork(network, fc); err != nil {
				x.Close()
				return nil, err
			}
		}
	}

	for network, cc := range config.Clients {
		if cc.Network == "" {
			cc.Network = network
		}
		if err := x.addEVMNetwork(network, cc); err != nil {
			x.Close()
			return nil, err
		}
	}

	return x, nil
}

// addEVMNetwork dials a local EVM client
func (x *X402) addEVMNetwork(network types.Network, config types.ClientConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), x.timeout)
	defer cancel()

	client, err := clients.NewEVMClient(ctx, config, x.logger)
	if err != nil {
		return fmt.Errorf("failed to create EVM client for %s: %w", network, err)
	}
	x.owned = append(x.owned, client)
	x.evm[network] = client

	return x.AddNetwork(network, client)
}

// AddNetwork routes verification and settlement for network to client. The
// caller keeps ownership of client.
func (x *X402) AddNetwork(network types.Network, client clients.Client) error {
	if err := x.verificationService.AddClient(network, client); err != nil {
		return err
	}
	return x.settlementService.AddClient(network, client)
}

// Verify verifies a payment against requirements
func (x *X402) Verify(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResponse, error) {
	return x.verificationService.Verify(ctx, req)
}

// Settle settles a payment transaction
func (x *X402) Settle(ctx context.Context, req *types.VerifyRequest) (*types.SettleResponse, error) {
	return x.settlementService.Settle(ctx, req)
}

// Transfer moves amount atomic USDC units from the local facilitator key to
// recipient on network.
func (x *X402) Transfer(ctx context.Context, network types.Network, recipient string, amount *big.Int) (string, error) {
	client, ok := x.evm[network]
	if !ok {
		return "", &types.X402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("no local EVM client for %s", network),
		}
	}
	return client.Transfer(ctx, recipient, amount)
}

func (x *X402) Supported() *types.SupportedResponse {
	networks := x.verificationService.GetSupportedNetworks()
	kinds := make([]types.SupportedItem, 0, len(networks))
	for _, n := range networks {
		kinds = append(kinds, types.SupportedItem{
			X402Version: int(types.X402Version1),
			Scheme:      string(types.SchemeExact),
			Network:     n.String(),
		})
	}
	return &types.SupportedResponse{Kinds: kinds}
}

// IsNetworkSupported checks if a network is supported
func (x *X402) IsNetworkSupported(network types.Network) bool {
	return x.verificationService.IsNetworkSupported(network) &&
		x.settlementService.IsNetworkSupported(network)
}

// Close closes the clients New created.
func (x *X402) Close() {
	for _, c := range x.owned {
		c.Close()
	}
	x.owned = nil
}

// Version information
const (
	Version         = "0.3.0"
	ProtocolVersion = 1
)

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	return map[string]interface{}{
		"library_version":   Version,
		"protocol_version":  ProtocolVersion,
		"supported_schemes": []string{string(types.SchemeExact)},
	}
}
