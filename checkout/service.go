// Package checkout implements the paid purchase flows: a one-off design
// purchase, creator listing creation and creator listing purchase.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/vitwit/x402-checkout/commit"
	"github.com/vitwit/x402-checkout/fulfillment"
	"github.com/vitwit/x402-checkout/imagegen"
	"github.com/vitwit/x402-checkout/logger"
	"github.com/vitwit/x402-checkout/metrics"
	"github.com/vitwit/x402-checkout/pricing"
	"github.com/vitwit/x402-checkout/retry"
	"github.com/vitwit/x402-checkout/types"
	"github.com/vitwit/x402-checkout/utils"
)

const statusCompleted = "completed"

// Splitter forwards part of a settled payment to another wallet.
type Splitter interface {
	Transfer(ctx context.Context, network types.Network, recipient string, amount *big.Int) (string, error)
}

// Settings are the merchant-level parameters of every flow.
type Settings struct {
	PayTo    string
	Networks []types.Network
	// PurchasePrice is the fixed price of a one-off purchase, e.g. "$25.00".
	PurchasePrice string
	// ListingFee is charged to creators for publishing a listing.
	ListingFee          string
	BasePriceCents      int64
	PurchaseDescription string
	// PublicURL prefixes resource paths when a Payment has no ResourceURL.
	PublicURL string
}

type Service struct {
	coordinator *commit.Coordinator
	vendor      fulfillment.Provider
	images      imagegen.Generator
	splitter    Splitter
	settings    Settings

	logger    logger.Logger
	metrics   metrics.Recorder
	retryOpts []retry.Option
}

type Option func(*Service)

func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		s.logger = logger.OrNoop(l)
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Service) {
		s.metrics = metrics.OrNoop(r)
	}
}

// WithRetryOptions adds options to the workflow-level retries, such as a
// test sleeper.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(s *Service) {
		s.retryOpts = append(s.retryOpts, opts...)
	}
}

// WithSplitter enables creator payouts for listing purchases.
func WithSplitter(sp Splitter) Option {
	return func(s *Service) {
		s.splitter = sp
	}
}

func NewService(c *commit.Coordinator, vendor fulfillment.Provider, images imagegen.Generator, settings Settings, opts ...Option) (*Service, error) {
	if c == nil || vendor == nil {
		return nil, &types.ConfigError{Message: "checkout requires a coordinator and a fulfillment provider"}
	}
	if !utils.ValidateAddress(settings.PayTo) {
		return nil, &types.ConfigError{Message: fmt.Sprintf("invalid payTo address %q", settings.PayTo)}
	}
	if len(settings.Networks) == 0 {
		return nil, &types.ConfigError{Message: "at least one payment network is required"}
	}
	for _, price := range []string{settings.PurchasePrice, settings.ListingFee} {
		if _, err := pricing.ParsePrice(price); err != nil {
			return nil, err
		}
	}
	if settings.BasePriceCents <= 0 {
		return nil, &types.ConfigError{Message: "base price must be positive"}
	}

	s := &Service{
		coordinator: c,
		vendor:      vendor,
		images:      images,
		settings:    settings,
		logger:      logger.NoopLogger{},
		metrics:     metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Networks lists the networks payments are accepted on.
func (s *Service) Networks() []types.Network {
	return append([]types.Network(nil), s.settings.Networks...)
}

func (s *Service) resource(pay Payment, path, description string) pricing.Resource {
	url := pay.ResourceURL
	if url == "" {
		url = strings.TrimRight(s.settings.PublicURL, "/") + path
	}
	return pricing.Resource{
		URL:         url,
		Description: description,
		PayTo:       s.settings.PayTo,
	}
}

// Purchase charges the fixed purchase price for a single printed design.
func (s *Service) Purchase(ctx context.Context, pay Payment, req PurchaseRequest) (*Result[PurchaseResponse], error) {
	if err := validateOrder(&req, req.Address); err != nil {
		return nil, err
	}
	if req.ImageURL == "" && s.images == nil {
		return nil, &types.BusinessRuleError{Field: "prompt", Message: "image generation is not available, provide imageUrl"}
	}

	auth, rej := s.coordinator.Authorize(ctx, commit.Request{
		PaymentHeader:  pay.Header,
		IdempotencyKey: pay.IdempotencyKey,
		Price:          s.settings.PurchasePrice,
		Networks:       s.settings.Networks,
		Resource:       s.resource(pay, "/api/purchase", s.settings.PurchaseDescription),
	})
	if rej != nil {
		return nil, rej
	}

	priceCents := s.purchasePriceCents()
	out := commit.Complete(ctx, auth, func(ctx context.Context) (PurchaseResponse, error) {
		imageURL, title, err := s.design(ctx, req.Prompt, req.ImageURL, "")
		if err != nil {
			return PurchaseResponse{}, err
		}
		product, err := s.publish(ctx, title, "", imageURL, []int64{req.VariantID}, priceCents, nil)
		if err != nil {
			return PurchaseResponse{}, err
		}
		return s.order(ctx, product, req.VariantID, quantity(req.Quantity), req.Address)
	})
	return finish(out)
}

// CreateListing charges the listing fee and publishes a creator product
// priced at the base price plus the creator's margin.
func (s *Service) CreateListing(ctx context.Context, pay Payment, req ListingRequest) (*Result[ListingResponse], error) {
	if err := utils.ValidateStruct(&req); err != nil {
		return nil, err
	}
	if req.Prompt != "" && req.ImageURL == "" && s.images == nil {
		return nil, &types.BusinessRuleError{Field: "prompt", Message: "image generation is not available, provide imageUrl"}
	}

	auth, rej := s.coordinator.Authorize(ctx, commit.Request{
		PaymentHeader:  pay.Header,
		IdempotencyKey: pay.IdempotencyKey,
		Price:          s.settings.ListingFee,
		Networks:       s.settings.Networks,
		Resource:       s.resource(pay, "/api/creator-products", "Creator product listing"),
	})
	if rej != nil {
		return nil, rej
	}

	priceCents := s.settings.BasePriceCents + req.MarginInCents
	out := commit.Complete(ctx, auth, func(ctx context.Context) (ListingResponse, error) {
		imageURL, title, err := s.design(ctx, req.Prompt, req.ImageURL, req.Title)
		if err != nil {
			return ListingResponse{}, err
		}
		meta := map[string]string{
			fulfillment.MetaCreatorWallet:  utils.NormalizeAddress(req.CreatorWallet),
			fulfillment.MetaMarginCents:    strconv.FormatInt(req.MarginInCents, 10),
			fulfillment.MetaBasePriceCents: strconv.FormatInt(s.settings.BasePriceCents, 10),
		}
		product, err := s.publish(ctx, title, req.Description, imageURL, req.Variants, priceCents, meta)
		if err != nil {
			return ListingResponse{}, err
		}
		return ListingResponse{
			ID:            product.ExternalID,
			ProductID:     product.ID,
			ImageURL:      imageURL,
			Title:         title,
			Description:   req.Description,
			PriceInCents:  priceCents,
			MarginInCents: req.MarginInCents,
			Variants:      req.Variants,
		}, nil
	})
	return finish(out)
}

// listingQuote is the Quote.Detail of a listing purchase.
type listingQuote struct {
	product     *fulfillment.Product
	variant     fulfillment.SyncVariant
	creator     string
	marginCents int64
	quantity    int
}

// PurchaseListing buys a creator product. The price is read from the
// listing; after settlement the creator's margin is paid out once.
func (s *Service) PurchaseListing(ctx context.Context, pay Payment, productID string, req ListingPurchaseRequest) (*Result[PurchaseResponse], error) {
	if productID == "" {
		return nil, &types.ValidationError{Fields: []types.FieldError{{Field: "id", Message: "is required"}}}
	}
	if err := validateOrder(&req, req.Address); err != nil {
		return nil, err
	}

	qty := quantity(req.Quantity)
	auth, rej := s.coordinator.Authorize(ctx, commit.Request{
		PaymentHeader:  pay.Header,
		IdempotencyKey: pay.IdempotencyKey,
		Networks:       s.settings.Networks,
		Resource:       s.resource(pay, "/api/creator-products/"+productID+"/purchase", "Creator product purchase"),
		Quote: func(ctx context.Context) (commit.Quote, error) {
			return s.quoteListing(ctx, productID, req.VariantID, qty)
		},
	})
	if rej != nil {
		return nil, rej
	}

	lq := auth.Quote().Detail.(*listingQuote)
	out := commit.Complete(ctx, auth,
		func(ctx context.Context) (PurchaseResponse, error) {
			return s.order(ctx, lq.product, req.VariantID, qty, req.Address)
		},
		commit.WithSplit(func(ctx context.Context, settled commit.Settled) error {
			return s.payCreator(ctx, settled, lq)
		}),
	)
	return finish(out)
}

func (s *Service) quoteListing(ctx context.Context, productID string, variantID int64, qty int) (commit.Quote, error) {
	// The vendor client retries each call; the workflow retry covers a vendor
	// outage that outlasts those attempts.
	opts := append([]retry.Option{retry.WithLogger(s.logger), retry.WithMetrics(s.metrics)}, s.retryOpts...)
	product, err := retry.Do(ctx, retry.Workflow(), "quote_listing", func(ctx context.Context) (*fulfillment.Product, error) {
		return s.vendor.GetProduct(ctx, productID)
	}, opts...)
	if err != nil {
		if _, status := retry.Classify(err); status == http.StatusNotFound {
			return commit.Quote{}, &types.BusinessRuleError{Field: "id", Message: "creator product not found"}
		}
		return commit.Quote{}, fmt.Errorf("failed to load product %s: %w", productID, err)
	}

	creator := product.Metadata[fulfillment.MetaCreatorWallet]
	base, okBase := product.MetaInt(fulfillment.MetaBasePriceCents)
	margin, okMargin := product.MetaInt(fulfillment.MetaMarginCents)
	if !utils.ValidateAddress(creator) || !okBase || !okMargin {
		return commit.Quote{}, &types.BusinessRuleError{Field: "id", Message: "product is not a creator listing"}
	}

	variant, ok := product.SyncVariant(variantID)
	if !ok {
		return commit.Quote{}, &types.BusinessRuleError{Field: "variantId", Message: "variant is not offered for this product"}
	}

	total := (base + margin) * int64(qty)
	return commit.Quote{
		Price: pricing.FormatPrice(pricing.FromCents(total)),
		Detail: &listingQuote{
			product:     product,
			variant:     variant,
			creator:     creator,
			marginCents: margin * int64(qty),
			quantity:    qty,
		},
	}, nil
}

func (s *Service) payCreator(ctx context.Context, settled commit.Settled, lq *listingQuote) error {
	if lq.marginCents == 0 {
		return nil
	}
	if s.splitter == nil {
		return errors.New("creator payouts are not configured")
	}

	network := types.Network(settled.Requirement.Network)
	asset, err := pricing.Lookup(network)
	if err != nil {
		return err
	}
	amount, err := asset.ToAtomic(pricing.FromCents(lq.marginCents))
	if err != nil {
		return err
	}

	tx, err := s.splitter.Transfer(ctx, network, lq.creator, amount)
	if err != nil {
		return fmt.Errorf("transfer %s USDC to creator %s: %w", asset.FromAtomic(amount), lq.creator, err)
	}
	s.metrics.IncCounter("creator_payout", map[string]string{"network": network.String(), "outcome": "success"})
	s.logger.Info("creator paid", map[string]any{
		"network":      network.String(),
		"creator":      lq.creator,
		"amount":       amount.String(),
		"amount_units": asset.FromAtomic(amount),
		"transaction":  tx,
		"product_id":   lq.product.ID,
	})
	return nil
}

// design returns the image to print and its title, generating both from
// prompt when no image URL was supplied.
func (s *Service) design(ctx context.Context, prompt, imageURL, title string) (string, string, error) {
	if imageURL != "" {
		if title == "" {
			title = imagegen.Truncate(prompt, 60)
		}
		if title == "" {
			title = "Custom design"
		}
		return imageURL, title, nil
	}

	img, err := s.images.Generate(ctx, prompt)
	if err != nil {
		return "", "", fmt.Errorf("generate image: %w", err)
	}
	if title == "" {
		title = img.Title
	}
	return img.URL, title, nil
}

func (s *Service) publish(ctx context.Context, title, description, imageURL string, variants []int64, priceCents int64, meta map[string]string) (*fulfillment.Product, error) {
	file, err := s.vendor.UploadFile(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("upload design: %w", err)
	}
	printURL := imageURL
	if file.URL != "" {
		printURL = file.URL
	}

	product, err := s.vendor.CreateProduct(ctx, fulfillment.ProductSpec{
		ExternalID:       uuid.NewString(),
		Name:             title,
		Description:      description,
		ImageURL:         printURL,
		VariantIDs:       variants,
		RetailPriceCents: priceCents,
		Metadata:         meta,
	})
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	return product, nil
}

func (s *Service) order(ctx context.Context, product *fulfillment.Product, variantID int64, qty int, addr fulfillment.Address) (PurchaseResponse, error) {
	variant, ok := product.SyncVariant(variantID)
	if !ok {
		return PurchaseResponse{}, fmt.Errorf("product %s has no variant %d", product.ID, variantID)
	}

	id := uuid.NewString()
	o, err := s.vendor.CreateOrder(ctx, fulfillment.OrderSpec{
		ExternalID: id,
		Recipient:  addr,
		Items: []fulfillment.OrderItem{{
			SyncVariantID: variant.ID,
			Quantity:      qty,
			RetailPrice:   variant.RetailPrice,
		}},
		Confirm: true,
	})
	if err != nil {
		return PurchaseResponse{}, fmt.Errorf("create order: %w", err)
	}

	resp := PurchaseResponse{
		ID:        id,
		Status:    statusCompleted,
		ProductID: product.ID,
		OrderID:   strconv.FormatInt(o.ID, 10),
	}
	if len(o.Shipments) > 0 {
		sh := o.Shipments[0]
		resp.TrackingInfo = &TrackingInfo{
			Carrier:        sh.Carrier,
			TrackingNumber: sh.TrackingNumber,
			TrackingURL:    sh.TrackingURL,
		}
	}
	return resp, nil
}

func (s *Service) purchasePriceCents() int64 {
	d, err := pricing.ParsePrice(s.settings.PurchasePrice)
	if err != nil {
		return 0
	}
	return pricing.ToCents(d)
}

func validateOrder(req any, addr fulfillment.Address) error {
	if err := utils.ValidateStruct(req); err != nil {
		return err
	}
	return fulfillment.ValidatePostalCode(addr.CountryCode, addr.Zip)
}

func quantity(q int) int {
	if q <= 0 {
		return 1
	}
	return q
}

func finish[T any](out commit.Outcome[T]) (*Result[T], error) {
	if out.Terminal != commit.TerminalSettled {
		return nil, out.Err
	}
	return &Result[T]{
		Body:            out.Value,
		PaymentResponse: out.PaymentResponseHeader(),
		Payer:           out.Payer,
		Warnings:        out.Warnings,
	}, nil
}
