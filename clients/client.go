package clients

import (
	"context"

	"github.com/vitwit/x402-checkout/types"
)

// Client verifies and settles payments for one or more networks.
//
// A rejected payment is reported in the response (IsValid=false or
// Success=false); a returned error means the client could not reach a
// verdict at all.
type Client interface {
	VerifyPayment(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResponse, error)
	SettlePayment(ctx context.Context, req *types.VerifyRequest) (*types.SettleResponse, error)
	Close()
}
