package settlement

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vitwit/x402-checkout/clients"
	"github.com/vitwit/x402-checkout/logger"
	"github.com/vitwit/x402-checkout/metrics"
	"github.com/vitwit/x402-checkout/types"
)

// Settler interface defines the contract for payment settlement
type Settler interface {
	Settle(ctx context.Context, req *types.VerifyRequest) (*types.SettleResponse, error)
}

// SettlementService routes settlement to the client configured for the
// requirement's network. Each call reaches the client at most once.
type SettlementService struct {
	clients map[types.Network]clients.Client
	timeout time.Duration
	logger  logger.Logger
	metrics metrics.Recorder
}

var _ Settler = (*SettlementService)(nil)

// NewSettlementService creates a new settlement service
func NewSettlementService(timeout time.Duration, l logger.Logger, m metrics.Recorder) *SettlementService {
	return &SettlementService{
		clients: make(map[types.Network]clients.Client),
		timeout: timeout,
		logger:  logger.OrNoop(l),
		metrics: metrics.OrNoop(m),
	}
}

// AddClient registers the client that settles payments on network
func (s *SettlementService) AddClient(network types.Network, client clients.Client) error {
	if !network.IsEVM() {
		return &types.X402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("network %s is not an EVM network", network),
		}
	}

	s.clients[network] = client
	return nil
}

// Settle settles a payment transaction
func (s *SettlementService) Settle(ctx context.Context, req *types.VerifyRequest) (*types.SettleResponse, error) {
	network := types.Network(req.PaymentRequirements.Network)

	if err := req.Validate(); err != nil {
		return &types.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("invalid settlement request: %v", err),
			Network:     network.String(),
		}, nil
	}

	client, exists := s.clients[network]
	if !exists {
		return &types.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("unsupported network: %s", network),
			Network:     network.String(),
		}, nil
	}

	settleCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		settleCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := client.SettlePayment(settleCtx, req)

	result := "success"
	switch {
	case err != nil:
		result = "error"
	case !resp.Success:
		result = "failed"
	}
	s.metrics.ObserveLatency("settle", time.Since(start), map[string]string{
		"network": network.String(),
		"outcome": result,
	})

	if err != nil {
		s.logger.Error("payment settlement errored", map[string]any{
			"network": network.String(),
			"error":   err,
		})
		return nil, &types.X402Error{
			Code:    types.ErrSettlementFailed,
			Message: fmt.Sprintf("settlement on %s failed: %v", network, err),
			Data:    err,
		}
	}

	if resp.Success {
		s.logger.Info("payment settled", map[string]any{
			"network":     network.String(),
			"transaction": resp.Transaction,
			"payer":       resp.Payer,
		})
	}
	return resp, nil
}

// GetSupportedNetworks returns all networks that have configured clients
func (s *SettlementService) GetSupportedNetworks() []types.Network {
	networks := make([]types.Network, 0, len(s.clients))
	for network := range s.clients {
		networks = append(networks, network)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })
	return networks
}

// IsNetworkSupported checks if a network is supported
func (s *SettlementService) IsNetworkSupported(network types.Network) bool {
	_, exists := s.clients[network]
	return exists
}
