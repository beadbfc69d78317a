package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vitwit/x402-checkout/logger"
	"github.com/vitwit/x402-checkout/pricing"
	"github.com/vitwit/x402-checkout/retry"
)

const (
	DefaultBaseURL = "https://api.printful.com"

	headerStoreID = "X-PF-Store-Id"
	maxErrorBody  = 4 << 10
)

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	StoreID string
	Timeout time.Duration
}

// Client is a Provider backed by a Printful-style REST API. Every call is
// retried under Policy; creates are made idempotent by external id, so a
// retry after an ambiguous failure first looks the object up.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Policy     retry.Policy

	apiKey  string
	storeID string
	logger  logger.Logger
	opts    []retry.Option
}

var _ Provider = (*Client)(nil)

func NewClient(cfg Config, l logger.Logger, opts ...retry.Option) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	l = logger.OrNoop(l)
	return &Client{
		BaseURL:    strings.TrimRight(base, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		Policy:     retry.VendorOperation(),
		apiKey:     cfg.APIKey,
		storeID:    cfg.StoreID,
		logger:     l,
		opts:       append([]retry.Option{retry.WithLogger(l)}, opts...),
	}
}

// envelope is the vendor's response wrapper.
type envelope struct {
	Code   int             `json:"code"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// UploadFile registers an image URL in the vendor's file library.
func (c *Client) UploadFile(ctx context.Context, imageURL string) (*File, error) {
	return retry.Do(ctx, c.Policy, "fulfillment.upload_file", func(ctx context.Context) (*File, error) {
		var f File
		if err := c.do(ctx, http.MethodPost, "/files", map[string]string{"url": imageURL}, &f); err != nil {
			return nil, err
		}
		return &f, nil
	}, c.opts...)
}

type syncProduct struct {
	ID           int64  `json:"id,omitempty"`
	ExternalID   string `json:"external_id"`
	Name         string `json:"name"`
	ThumbnailURL string `json:"thumbnail,omitempty"`
}

type variantFile struct {
	URL string `json:"url"`
}

type syncVariantSpec struct {
	VariantID   int64         `json:"variant_id"`
	RetailPrice string        `json:"retail_price"`
	Files       []variantFile `json:"files"`
}

type productBody struct {
	SyncProduct  syncProduct       `json:"sync_product"`
	SyncVariants []syncVariantSpec `json:"sync_variants"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type productResult struct {
	SyncProduct  syncProduct       `json:"sync_product"`
	SyncVariants []SyncVariant     `json:"sync_variants"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func (r *productResult) product() *Product {
	return &Product{
		ID:          strconv.FormatInt(r.SyncProduct.ID, 10),
		ExternalID:  r.SyncProduct.ExternalID,
		Name:        r.SyncProduct.Name,
		Description: r.Description,
		Thumbnail:   r.SyncProduct.ThumbnailURL,
		Variants:    r.SyncVariants,
		Metadata:    r.Metadata,
	}
}

// CreateProduct publishes a store product with one sync variant per
// catalog variant, all at the same retail price.
func (c *Client) CreateProduct(ctx context.Context, spec ProductSpec) (*Product, error) {
	if spec.ExternalID == "" || len(spec.VariantIDs) == 0 {
		return nil, retry.ValidationError("fulfillment.create_product", errors.New("external id and at least one variant are required"))
	}

	price := pricing.FromCents(spec.RetailPriceCents).StringFixed(2)
	body := productBody{
		SyncProduct: syncProduct{
			ExternalID:   spec.ExternalID,
			Name:         spec.Name,
			ThumbnailURL: spec.ImageURL,
		},
		Description: spec.Description,
		Metadata:    spec.Metadata,
	}
	for _, id := range spec.VariantIDs {
		body.SyncVariants = append(body.SyncVariants, syncVariantSpec{
			VariantID:   id,
			RetailPrice: price,
			Files:       []variantFile{{URL: spec.ImageURL}},
		})
	}

	attempt := 0
	return retry.Do(ctx, c.Policy, "fulfillment.create_product", func(ctx context.Context) (*Product, error) {
		attempt++
		if attempt > 1 {
			var existing productResult
			if err := c.do(ctx, http.MethodGet, "/store/products/@"+url.PathEscape(spec.ExternalID), nil, &existing); err == nil {
				return existing.product(), nil
			}
		}
		var res productResult
		if err := c.do(ctx, http.MethodPost, "/store/products", body, &res); err != nil {
			return nil, err
		}
		return res.product(), nil
	}, c.opts...)
}

// GetProduct fetches a store product by id, or by external id when id is
// prefixed with "@".
func (c *Client) GetProduct(ctx context.Context, id string) (*Product, error) {
	if id == "" {
		return nil, retry.ValidationError("fulfillment.get_product", errors.New("product id is required"))
	}
	return retry.Do(ctx, c.Policy, "fulfillment.get_product", func(ctx context.Context) (*Product, error) {
		var res productResult
		if err := c.do(ctx, http.MethodGet, "/store/products/"+url.PathEscape(id), nil, &res); err != nil {
			return nil, err
		}
		return res.product(), nil
	}, c.opts...)
}

type orderBody struct {
	ExternalID string      `json:"external_id"`
	Recipient  Address     `json:"recipient"`
	Items      []OrderItem `json:"items"`
}

// CreateOrder submits an order. With spec.Confirm the order goes straight
// to production.
func (c *Client) CreateOrder(ctx context.Context, spec OrderSpec) (*Order, error) {
	if spec.ExternalID == "" || len(spec.Items) == 0 {
		return nil, retry.ValidationError("fulfillment.create_order", errors.New("external id and at least one item are required"))
	}

	path := "/orders"
	if spec.Confirm {
		path += "?confirm=true"
	}
	body := orderBody{ExternalID: spec.ExternalID, Recipient: spec.Recipient, Items: spec.Items}

	attempt := 0
	return retry.Do(ctx, c.Policy, "fulfillment.create_order", func(ctx context.Context) (*Order, error) {
		attempt++
		if attempt > 1 {
			var existing Order
			if err := c.do(ctx, http.MethodGet, "/orders/@"+url.PathEscape(spec.ExternalID), nil, &existing); err == nil {
				c.logger.Info("order found after retry", map[string]any{"external_id": spec.ExternalID, "order_id": existing.ID})
				return &existing, nil
			}
		}
		var o Order
		if err := c.do(ctx, http.MethodPost, path, body, &o); err != nil {
			return nil, err
		}
		return &o, nil
	}, c.opts...)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := "fulfillment " + method + " " + strings.SplitN(path, "?", 2)[0]

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return retry.ValidationError(op, fmt.Errorf("failed to marshal request body: %w", err))
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return retry.ValidationError(op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.storeID != "" {
		req.Header.Set(headerStoreID, c.storeID)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(raw))
		var env envelope
		if json.Unmarshal(raw, &env) == nil && env.Error != nil && env.Error.Message != "" {
			msg = env.Error.Message
		}
		c.logger.Warn("fulfillment vendor returned error", map[string]any{
			"op":     op,
			"status": resp.StatusCode,
		})
		return retry.HTTPError(op, resp.StatusCode, msg)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return retry.ValidationError(op, fmt.Errorf("failed to decode response: %w", err))
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return retry.ValidationError(op, fmt.Errorf("failed to decode result: %w", err))
	}
	return nil
}
