package verification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402-checkout/types"
)

type stubClient struct {
	verify   *types.VerifyResponse
	err      error
	calls    int
	deadline bool
}

func (s *stubClient) VerifyPayment(ctx context.Context, _ *types.VerifyRequest) (*types.VerifyResponse, error) {
	s.calls++
	_, s.deadline = ctx.Deadline()
	return s.verify, s.err
}

func (s *stubClient) SettlePayment(context.Context, *types.VerifyRequest) (*types.SettleResponse, error) {
	return nil, errors.New("not used")
}

func (s *stubClient) Close() {}

func request(network string) *types.VerifyRequest {
	return &types.VerifyRequest{
		X402Version: 1,
		PaymentPayload: types.PaymentPayload{
			X402Version: 1,
			Scheme:      "exact",
			Network:     network,
			Payload:     json.RawMessage(`{}`),
		},
		PaymentRequirements: types.PaymentRequirements{
			Scheme:            "exact",
			Network:           network,
			MaxAmountRequired: "1",
			Resource:          "https://shop.example/r",
			PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			MaxTimeoutSeconds: 60,
			Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		},
	}
}

func TestVerifyRoutesByNetwork(t *testing.T) {
	base := &stubClient{verify: &types.VerifyResponse{IsValid: true, Payer: "0xpayer"}}
	polygon := &stubClient{verify: &types.VerifyResponse{IsValid: true}}

	s := NewVerificationService(time.Second, nil, nil)
	require.NoError(t, s.AddClient(types.NetworkBase, base))
	require.NoError(t, s.AddClient(types.NetworkPolygon, polygon))

	resp, err := s.Verify(context.Background(), request("base"))
	require.NoError(t, err)
	assert.True(t, resp.IsValid)
	assert.Equal(t, 1, base.calls)
	assert.Zero(t, polygon.calls)
	assert.True(t, base.deadline)

	assert.Equal(t, []types.Network{types.NetworkBase, types.NetworkPolygon}, s.GetSupportedNetworks())
	assert.True(t, s.IsNetworkSupported(types.NetworkPolygon))
	assert.False(t, s.IsNetworkSupported(types.NetworkAvalanche))
}

func TestVerifyUnknownNetworkIsInvalid(t *testing.T) {
	s := NewVerificationService(time.Second, nil, nil)
	resp, err := s.Verify(context.Background(), request("avalanche"))
	require.NoError(t, err)
	assert.False(t, resp.IsValid)
	assert.Contains(t, resp.InvalidReason, "avalanche")
}

func TestVerifyMalformedRequestIsInvalid(t *testing.T) {
	c := &stubClient{verify: &types.VerifyResponse{IsValid: true}}
	s := NewVerificationService(time.Second, nil, nil)
	require.NoError(t, s.AddClient(types.NetworkBase, c))

	req := request("base")
	req.PaymentPayload.Network = "polygon"

	resp, err := s.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.IsValid)
	assert.Zero(t, c.calls)
}

func TestVerifyClientErrorIsReturned(t *testing.T) {
	c := &stubClient{err: errors.New("rpc down")}
	s := NewVerificationService(time.Second, nil, nil)
	require.NoError(t, s.AddClient(types.NetworkBase, c))

	_, err := s.Verify(context.Background(), request("base"))
	var xerr *types.X402Error
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, types.ErrVerificationFailed, xerr.Code)
}

func TestAddClientRejectsNonEVM(t *testing.T) {
	s := NewVerificationService(time.Second, nil, nil)
	assert.Error(t, s.AddClient("solana-devnet", &stubClient{}))
}
