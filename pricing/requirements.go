package pricing

import (
	"fmt"

	"github.com/vitwit/x402-checkout/types"
	"github.com/vitwit/x402-checkout/utils"
)

const (
	DefaultMaxTimeoutSeconds = 60
	DefaultMimeType          = "application/json"
)

// Resource describes what is being sold and who gets paid.
type Resource struct {
	URL               string
	Description       string
	MimeType          string
	PayTo             string
	MaxTimeoutSeconds int
	OutputSchema      map[string]interface{}
}

// Requirement builds the `exact` payment requirement for price on network.
func Requirement(price string, network types.Network, res Resource) (*types.PaymentRequirements, error) {
	amount, asset, err := Atomic(price, network)
	if err != nil {
		return nil, err
	}

	if !utils.ValidateAddress(res.PayTo) {
		return nil, &types.ConfigError{Message: fmt.Sprintf("invalid payTo address %q", res.PayTo)}
	}
	if res.URL == "" {
		return nil, &types.ConfigError{Message: "resource URL is required"}
	}

	mimeType := res.MimeType
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	timeout := res.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultMaxTimeoutSeconds
	}

	return &types.PaymentRequirements{
		Scheme:            string(types.SchemeExact),
		Network:           string(network),
		MaxAmountRequired: amount.String(),
		Resource:          res.URL,
		Description:       res.Description,
		MimeType:          mimeType,
		OutputSchema:      res.OutputSchema,
		PayTo:             utils.NormalizeAddress(res.PayTo),
		MaxTimeoutSeconds: timeout,
		Asset:             asset.Address,
		Extra: map[string]interface{}{
			"name":    asset.Name,
			"version": asset.Version,
		},
	}, nil
}

// Requirements builds one requirement per network, in order.
func Requirements(price string, networks []types.Network, res Resource) ([]types.PaymentRequirements, error) {
	if len(networks) == 0 {
		return nil, &types.ConfigError{Message: "at least one network is required"}
	}
	out := make([]types.PaymentRequirements, 0, len(networks))
	for _, n := range networks {
		req, err := Requirement(price, n, res)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, nil
}
