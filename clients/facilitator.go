package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vitwit/x402-checkout/logger"
	"github.com/vitwit/x402-checkout/retry"
	"github.com/vitwit/x402-checkout/types"
)

const (
	// DefaultFacilitatorURL is the public x402 facilitator.
	DefaultFacilitatorURL = "https://x402.org/facilitator"

	headerContentType   = "Content-Type"
	mimeApplicationJSON = "application/json"

	maxErrorBody = 4 << 10
)

// FacilitatorClient delegates verification and settlement to a remote x402
// facilitator over HTTP.
//
// Verify and Supported are retried under VerifyPolicy since they move no
// funds. Settle is sent exactly once.
type FacilitatorClient struct {
	URL          string
	HTTPClient   *http.Client
	VerifyPolicy retry.Policy
	// AuthHeaders, when set, returns extra headers for the given endpoint
	// ("verify", "settle" or "supported").
	AuthHeaders func(endpoint string) (map[string]string, error)

	logger logger.Logger
	opts   []retry.Option
}

var _ Client = (*FacilitatorClient)(nil)

// NewFacilitatorClient creates a client for baseURL. An empty baseURL means
// DefaultFacilitatorURL.
func NewFacilitatorClient(baseURL string, timeout time.Duration, l logger.Logger, opts ...retry.Option) *FacilitatorClient {
	if baseURL == "" {
		baseURL = DefaultFacilitatorURL
	}
	l = logger.OrNoop(l)
	return &FacilitatorClient{
		URL:          strings.TrimRight(baseURL, "/"),
		HTTPClient:   &http.Client{Timeout: timeout},
		VerifyPolicy: retry.FastAPI(),
		logger:       l,
		opts:         append([]retry.Option{retry.WithLogger(l)}, opts...),
	}
}

// VerifyPayment posts to /verify.
func (c *FacilitatorClient) VerifyPayment(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResponse, error) {
	return retry.Do(ctx, c.VerifyPolicy, "facilitator.verify", func(ctx context.Context) (*types.VerifyResponse, error) {
		var resp types.VerifyResponse
		if err := c.post(ctx, "verify", req, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	}, c.opts...)
}

// SettlePayment posts to /settle once.
func (c *FacilitatorClient) SettlePayment(ctx context.Context, req *types.VerifyRequest) (*types.SettleResponse, error) {
	var resp types.SettleResponse
	if err := c.post(ctx, "settle", req, &resp); err != nil {
		return nil, err
	}
	if resp.Network == "" {
		resp.Network = req.PaymentRequirements.Network
	}
	return &resp, nil
}

// Supported lists the payment kinds the facilitator accepts.
func (c *FacilitatorClient) Supported(ctx context.Context) (*types.SupportedResponse, error) {
	return retry.Do(ctx, c.VerifyPolicy, "facilitator.supported", func(ctx context.Context) (*types.SupportedResponse, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL+"/supported", nil)
		if err != nil {
			return nil, retry.ValidationError("supported", err)
		}
		var resp types.SupportedResponse
		if err := c.do(httpReq, "supported", &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	}, c.opts...)
}

func (c *FacilitatorClient) Close() {
	c.HTTPClient.CloseIdleConnections()
}

func (c *FacilitatorClient) post(ctx context.Context, endpoint string, body *types.VerifyRequest, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return retry.ValidationError(endpoint, fmt.Errorf("failed to marshal request body: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+"/"+endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return retry.ValidationError(endpoint, fmt.Errorf("failed to create request: %w", err))
	}
	return c.do(httpReq, endpoint, out)
}

func (c *FacilitatorClient) do(httpReq *http.Request, endpoint string, out any) error {
	httpReq.Header.Set(headerContentType, mimeApplicationJSON)

	if c.AuthHeaders != nil {
		headers, err := c.AuthHeaders(endpoint)
		if err != nil {
			return retry.ValidationError(endpoint, fmt.Errorf("failed to apply %s auth headers: %w", endpoint, err))
		}
		for k, v := range headers {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send %s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("facilitator returned non-200", map[string]any{
			"endpoint": endpoint,
			"status":   resp.StatusCode,
		})
		return retry.HTTPError("facilitator "+endpoint, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.ValidationError(endpoint, fmt.Errorf("failed to decode %s response: %w", endpoint, err))
	}
	return nil
}
