package verification

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

// Verifier interface defines the contract for payment verification
type Verifier interface {
	Verify(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResponse, error)
}

// VerificationService routes verification requests to the client configured
// for the requirement's network.
type VerificationService struct {
	clients map[types.Network]clients.Client
	timeout time.Duration
	logger  logger.Logger
	metrics metrics.Recorder
}

var _ Verifier = (*VerificationService)(nil)

// NewVerificationService creates a new verification service
func NewVerificationService(timeout time.Duration, l logger.Logger, m metrics.Recorder) *VerificationService {
	return &VerificationService{
		clients: make(map[types.Network]clients.Client),
		timeout: timeout,
		logger:  logger.OrNoop(l),
		metrics: metrics.OrNoop(m),
	}
}

// AddClient registers the client that verifies payments on network
func (s *VerificationService) AddClient(network types.Network, client clients.Client) error {
	if !network.IsEVM() {
		return &types.X402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("network %s is not an EVM network", network),
		}
	}

	s.clients[network] = client
	return nil
}

// Verify verifies a payment against requirements. Malformed requests and
// unconfigured networks are reported as invalid, not as errors.
func (s *VerificationService) Verify(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResponse, error) {
	if err := req.Validate(); err != nil {
		return &types.VerifyResponse{
			IsValid:       false,
			InvalidReason: fmt.Sprintf("invalid request: %v", err),
		}, nil
	}

	network := types.Network(req.PaymentRequirements.Network)
	client, exists := s.clients[network]
	if !exists {
		return &types.VerifyResponse{
			IsValid:       false,
			InvalidReason: fmt.Sprintf("no client configured for network %s", network),
		}, nil
	}

	verifyCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		verifyCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := client.VerifyPayment(verifyCtx, req)
	labels := map[string]string{"network": network.String(), "outcome": outcome(resp, err)}
	s.metrics.ObserveLatency("verify", time.Since(start), labels)

	if err != nil {
		s.logger.Error("payment verification failed", map[string]any{
			"network": network.String(),
			"error":   err,
		})
		return nil, &types.X402Error{
			Code:    types.ErrVerificationFailed,
			Message: fmt.Sprintf("verification on %s failed: %v", network, err),
			Data:    err,
		}
	}

	if !resp.IsValid {
		s.logger.Info("payment rejected", map[string]any{
			"network": network.String(),
			"reason":  resp.InvalidReason,
			"payer":   resp.Payer,
		})
	}
	return resp, nil
}

func outcome(resp *types.VerifyResponse, err error) string {
	switch {
	case err != nil:
		return "error"
	case resp.IsValid:
		return "valid"
	default:
		return "invalid"
	}
}

// GetSupportedNetworks returns all networks that have configured clients
func (s *VerificationService) GetSupportedNetworks() []types.Network {
	networks := make([]types.Network, 0, len(s.clients))
	for network := range s.clients {
		networks = append(networks, network)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })
	return networks
}

// IsNetworkSupported checks if a network is supported
func (s *VerificationService) IsNetworkSupported(network types.Network) bool {
	_, exists := s.clients[network]
	return exists
}
