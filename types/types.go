package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// X402Version represents the version of the x402 protocol
type X402Version int

const (
	X402Version1 X402Version = 1
)

// PaymentScheme represents different payment schemes
type PaymentScheme string

const (
	SchemeExact PaymentScheme = "exact"
)

func (s PaymentScheme) String() string {
	return string(s)
}

type SupportedItem struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

type SupportedResponse struct {
	Kinds []SupportedItem `json:"kinds"`
}

// PaymentRequirements defines the requirements a resource server accepts for payment.
type PaymentRequirements struct {
	// Scheme of the payment protocol to use (e.g., "exact").
	Scheme string `json:"scheme" validate:"required"`

	// Network of the blockchain to send payment on (e.g., "base").
	Network string `json:"network" validate:"required"`

	// Maximum amount required to pay for the resource in atomic units of the asset.
	// Represented as a string because Go does not support uint256.
	MaxAmountRequired string `json:"maxAmountRequired" validate:"required,numeric"`

	// URL of the resource to pay for.
	Resource string `json:"resource" validate:"required"`

	// Description of the resource being purchased.
	Description string `json:"description"`

	// MIME type of the resource response (e.g., "application/json").
	MimeType string `json:"mimeType"`

	// Output schema of the resource response, if applicable.
	OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`

	// Address to which the payment must be sent.
	PayTo string `json:"payTo" validate:"required"`

	// Maximum time in seconds for the resource server to respond.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds" validate:"gt=0"`

	// Address of the EIP-3009 compliant ERC20 contract.
	Asset string `json:"asset" validate:"required"`

	// Extra information about payment details specific to the scheme.
	// For the `exact` scheme on EVM this carries the EIP-712 domain `name` and `version`.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// X402Response is the body of a 402 Payment Required response.
type X402Response struct {
	// Version of the x402 payment protocol.
	X402Version int `json:"x402Version"`

	// Message from the resource server indicating any processing error.
	Error string `json:"error"`

	// List of payment requirements that the resource server accepts.
	Accepts []PaymentRequirements `json:"accepts"`

	// Payer identified by the verifier, when one was recovered.
	Payer string `json:"payer,omitempty"`
}

// PaymentPayload is the decoded X-PAYMENT header. Payload is kept raw: only
// the scheme implementation that verifies it interprets its contents.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// Matches reports whether the payload was produced for the given requirement.
func (p *PaymentPayload) Matches(req *PaymentRequirements) bool {
	return p.Scheme == req.Scheme && p.Network == req.Network
}

// DecodePaymentPayload decodes a base64 encoded X-PAYMENT header value.
func DecodePaymentPayload(header string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, &X402Error{
			Code:    ErrInvalidPayload,
			Message: fmt.Sprintf("failed to decode base64 payment header: %v", err),
		}
	}

	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &X402Error{
			Code:    ErrInvalidPayload,
			Message: fmt.Sprintf("failed to unmarshal payment payload: %v", err),
		}
	}

	if payload.Scheme == "" || payload.Network == "" {
		return nil, &X402Error{
			Code:    ErrInvalidPayload,
			Message: "payment payload must specify scheme and network",
		}
	}

	if payload.X402Version == 0 {
		payload.X402Version = int(X402Version1)
	}

	return &payload, nil
}

// Encode returns the base64 header representation of the payload.
func (p *PaymentPayload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// VerifyRequest represents the payload sent to a facilitator to verify or settle a payment.
type VerifyRequest struct {
	// Version of the x402 payment protocol.
	X402Version int `json:"x402Version"`

	// Decoded payment header from the client.
	PaymentPayload PaymentPayload `json:"paymentPayload"`

	// Payment requirements being verified against.
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// Validate checks that the VerifyRequest contains all required fields.
func (v *VerifyRequest) Validate() error {
	if v.X402Version <= 0 {
		return fmt.Errorf("x402Version must be greater than 0")
	}

	if len(v.PaymentPayload.Payload) == 0 {
		return fmt.Errorf("paymentPayload.payload is required")
	}

	if !v.PaymentPayload.Matches(&v.PaymentRequirements) {
		return fmt.Errorf("payment payload does not match requirements scheme/network")
	}

	return v.PaymentRequirements.Validate()
}

// VerifyResponse represents the facilitator's verification result.
type VerifyResponse struct {
	// Indicates whether the payment is valid.
	IsValid bool `json:"isValid"`

	// Provides a reason if the payment is invalid.
	InvalidReason string `json:"invalidReason,omitempty"`

	Payer string `json:"payer,omitempty"`
}

// SettleResponse contains the result of payment settlement
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

// EncodeToBase64String renders the response for the X-PAYMENT-RESPONSE header.
func (s *SettleResponse) EncodeToBase64String() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to base64 encode the settle response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// ClientConfig contains configuration for a per-network payment client
type ClientConfig struct {
	Network Network       `json:"network" validate:"required"`
	RPCUrl  string        `json:"rpcUrl" validate:"required,url"`
	Timeout time.Duration `json:"timeout,omitempty"`
	// HexSeed is the facilitator key used to submit settlement transactions.
	HexSeed string `json:"hexSeed,omitempty"`
}

// X402Config contains global configuration for the payment facade
type X402Config struct {
	DefaultTimeout time.Duration `json:"defaultTimeout,omitempty"`
	// FacilitatorURL, when set, routes FacilitatorNetworks to a remote facilitator.
	FacilitatorURL      string    `json:"facilitatorUrl,omitempty" validate:"omitempty,url"`
	FacilitatorNetworks []Network `json:"facilitatorNetworks,omitempty"`
	// Clients configures local EVM facilitation per network. These take
	// precedence over the remote facilitator.
	Clients map[Network]ClientConfig `json:"clients,omitempty" validate:"dive"`
}

func (pr *PaymentRequirements) Validate() error {
	if pr.Scheme == "" {
		return fmt.Errorf("paymentRequirements.scheme is required")
	}

	if pr.Network == "" {
		return fmt.Errorf("paymentRequirements.network is required")
	}

	if pr.MaxAmountRequired == "" {
		return fmt.Errorf("paymentRequirements.maxAmountRequired is required")
	}

	if pr.PayTo == "" {
		return fmt.Errorf("paymentRequirements.payTo is required")
	}

	if pr.Asset == "" {
		return fmt.Errorf("paymentRequirements.asset is required")
	}

	if pr.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("paymentRequirements.maxTimeoutSeconds must be greater than 0")
	}

	return nil
}
