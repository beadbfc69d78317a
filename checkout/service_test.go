package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402-checkout/commit"
	"github.com/vitwit/x402-checkout/fulfillment"
	"github.com/vitwit/x402-checkout/imagegen"
	"github.com/vitwit/x402-checkout/retry"
	"github.com/vitwit/x402-checkout/types"
)

const (
	merchant = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	creator  = "0x1111111111111111111111111111111111111111"
)

type fakeVerifier struct{ calls int }

func (f *fakeVerifier) Verify(context.Context, *types.VerifyRequest) (*types.VerifyResponse, error) {
	f.calls++
	return &types.VerifyResponse{IsValid: true, Payer: "0xpayer"}, nil
}

type fakeSettler struct {
	calls int
	err   error
}

func (f *fakeSettler) Settle(_ context.Context, req *types.VerifyRequest) (*types.SettleResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &types.SettleResponse{Success: true, Transaction: "0xtx", Network: req.PaymentRequirements.Network}, nil
}

type fakeVendor struct {
	products map[string]*fulfillment.Product
	getErrs  []error
	gets     int
	orderErr error
	uploads  int
	orders   []fulfillment.OrderSpec
	created  []fulfillment.ProductSpec
	nextID   int64
}

func newVendor() *fakeVendor {
	return &fakeVendor{products: map[string]*fulfillment.Product{}, nextID: 100}
}

func (f *fakeVendor) UploadFile(_ context.Context, url string) (*fulfillment.File, error) {
	f.uploads++
	return &fulfillment.File{ID: 1, URL: url}, nil
}

func (f *fakeVendor) CreateProduct(_ context.Context, spec fulfillment.ProductSpec) (*fulfillment.Product, error) {
	f.created = append(f.created, spec)
	f.nextID++
	p := &fulfillment.Product{
		ID:         strconv.FormatInt(f.nextID, 10),
		ExternalID: spec.ExternalID,
		Name:       spec.Name,
		Metadata:   spec.Metadata,
	}
	for i, v := range spec.VariantIDs {
		p.Variants = append(p.Variants, fulfillment.SyncVariant{ID: int64(500 + i), VariantID: v, RetailPrice: "x"})
	}
	f.products[p.ID] = p
	return p, nil
}

func (f *fakeVendor) GetProduct(_ context.Context, id string) (*fulfillment.Product, error) {
	f.gets++
	if len(f.getErrs) > 0 {
		err := f.getErrs[0]
		f.getErrs = f.getErrs[1:]
		return nil, err
	}
	p, ok := f.products[id]
	if !ok {
		return nil, retry.HTTPError("get", http.StatusNotFound, "not found")
	}
	return p, nil
}

func (f *fakeVendor) CreateOrder(_ context.Context, spec fulfillment.OrderSpec) (*fulfillment.Order, error) {
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	f.orders = append(f.orders, spec)
	return &fulfillment.Order{
		ID:         9001,
		ExternalID: spec.ExternalID,
		Status:     "pending",
		Shipments:  []fulfillment.Shipment{{Carrier: "USPS", TrackingNumber: "1Z"}},
	}, nil
}

type fakeImages struct{ calls int }

func (f *fakeImages) Generate(_ context.Context, prompt string) (*imagegen.Image, error) {
	f.calls++
	return &imagegen.Image{URL: "https://img.example/gen.png", Title: "Generated " + prompt}, nil
}

type fakeSplitter struct {
	err       error
	network   types.Network
	recipient string
	amount    *big.Int
	calls     int
}

func (f *fakeSplitter) Transfer(_ context.Context, network types.Network, recipient string, amount *big.Int) (string, error) {
	f.calls++
	f.network, f.recipient, f.amount = network, recipient, amount
	return "0xsplit", f.err
}

func noSleep(context.Context, time.Duration) error { return nil }

type harness struct {
	svc      *Service
	verifier *fakeVerifier
	settler  *fakeSettler
	vendor   *fakeVendor
	images   *fakeImages
	splitter *fakeSplitter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		verifier: &fakeVerifier{},
		settler:  &fakeSettler{},
		vendor:   newVendor(),
		images:   &fakeImages{},
		splitter: &fakeSplitter{},
	}
	coord := commit.NewCoordinator(h.verifier, h.settler)
	svc, err := NewService(coord, h.vendor, h.images, Settings{
		PayTo:               merchant,
		Networks:            []types.Network{types.NetworkBase},
		PurchasePrice:       "$25.00",
		ListingFee:          "$1.00",
		BasePriceCents:      2000,
		PurchaseDescription: "Custom printed t-shirt",
	}, WithSplitter(h.splitter), WithRetryOptions(retry.WithSleeper(noSleep)))
	require.NoError(t, err)
	h.svc = svc
	return h
}

func paymentHeader(t *testing.T) string {
	t.Helper()
	p := &types.PaymentPayload{X402Version: 1, Scheme: "exact", Network: "base", Payload: json.RawMessage(`{"signature":"0x01"}`)}
	h, err := p.Encode()
	require.NoError(t, err)
	return h
}

func address() fulfillment.Address {
	return fulfillment.Address{
		Name:        "Ada Lovelace",
		Address1:    "1 Market St",
		City:        "San Francisco",
		StateCode:   "CA",
		CountryCode: "US",
		Zip:         "94105",
	}
}

func TestPurchaseRequiresPayment(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Purchase(context.Background(), Payment{ResourceURL: "https://shop.example/api/purchase"}, PurchaseRequest{
		Prompt:    "a fox",
		VariantID: 4012,
		Address:   address(),
	})

	var rej *commit.Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, http.StatusPaymentRequired, rej.Status())
	require.Len(t, rej.Body.Accepts, 1)
	assert.Equal(t, "25000000", rej.Body.Accepts[0].MaxAmountRequired)
	assert.Equal(t, "Custom printed t-shirt", rej.Body.Accepts[0].Description)
	assert.Zero(t, h.images.calls)
	assert.Zero(t, h.vendor.uploads)
}

func TestPurchaseSettlesAfterOrder(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Purchase(context.Background(), Payment{
		Header:      paymentHeader(t),
		ResourceURL: "https://shop.example/api/purchase",
	}, PurchaseRequest{Prompt: "a fox", VariantID: 4012, Quantity: 2, Address: address()})
	require.NoError(t, err)

	assert.Equal(t, statusCompleted, res.Body.Status)
	assert.Equal(t, "9001", res.Body.OrderID)
	assert.NotEmpty(t, res.Body.ID)
	assert.NotEmpty(t, res.Body.ProductID)
	require.NotNil(t, res.Body.TrackingInfo)
	assert.Equal(t, "USPS", res.Body.TrackingInfo.Carrier)
	assert.NotEmpty(t, res.PaymentResponse)
	assert.Empty(t, res.Warnings)

	assert.Equal(t, 1, h.images.calls)
	require.Len(t, h.vendor.created, 1)
	assert.Equal(t, int64(2500), h.vendor.created[0].RetailPriceCents)
	assert.Equal(t, "Generated a fox", h.vendor.created[0].Name)
	require.Len(t, h.vendor.orders, 1)
	assert.Equal(t, 2, h.vendor.orders[0].Items[0].Quantity)
	assert.Equal(t, 1, h.settler.calls)
}

func TestPurchaseValidationFailsBeforePayment(t *testing.T) {
	h := newHarness(t)

	addr := address()
	addr.Zip = ""
	_, err := h.svc.Purchase(context.Background(), Payment{Header: paymentHeader(t)}, PurchaseRequest{VariantID: 4012, Address: addr})
	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))
	fields := map[string]string{}
	for _, f := range verr.Fields {
		fields[f.Field] = f.Message
	}
	assert.Equal(t, "is required", fields["prompt"])
	assert.Equal(t, "is required", fields["address.zip"])
	assert.Zero(t, h.verifier.calls)
}

func TestPurchasePostalCodeMismatch(t *testing.T) {
	h := newHarness(t)
	addr := address()
	addr.CountryCode = "CA"

	_, err := h.svc.Purchase(context.Background(), Payment{Header: paymentHeader(t)}, PurchaseRequest{
		ImageURL: "https://img.example/a.png", VariantID: 4012, Address: addr,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, types.HTTPStatus(err))
	assert.Zero(t, h.verifier.calls)
}

func TestPurchaseOrderFailureDoesNotSettle(t *testing.T) {
	h := newHarness(t)
	h.vendor.orderErr = retry.HTTPError("order", http.StatusBadRequest, "out of stock")

	_, err := h.svc.Purchase(context.Background(), Payment{Header: paymentHeader(t)}, PurchaseRequest{
		ImageURL: "https://img.example/a.png", VariantID: 4012, Address: address(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSideEffect)
	assert.Equal(t, http.StatusInternalServerError, types.HTTPStatus(err))
	assert.Equal(t, 1, h.verifier.calls)
	assert.Zero(t, h.settler.calls)
	assert.Zero(t, h.images.calls)
}

func createListing(t *testing.T, h *harness) *Result[ListingResponse] {
	t.Helper()
	res, err := h.svc.CreateListing(context.Background(), Payment{Header: paymentHeader(t)}, ListingRequest{
		ImageURL:      "https://img.example/art.png",
		Title:         "Sunset Tee",
		Description:   "A warm sunset",
		CreatorWallet: creator,
		MarginInCents: 750,
		Variants:      []int64{4012, 4013},
	})
	require.NoError(t, err)
	return res
}

func TestCreateListing(t *testing.T) {
	h := newHarness(t)
	res := createListing(t, h)

	assert.Equal(t, int64(2750), res.Body.PriceInCents)
	assert.Equal(t, int64(750), res.Body.MarginInCents)
	assert.Equal(t, "Sunset Tee", res.Body.Title)
	assert.Equal(t, []int64{4012, 4013}, res.Body.Variants)
	assert.Zero(t, h.images.calls)

	require.Len(t, h.vendor.created, 1)
	meta := h.vendor.created[0].Metadata
	assert.Equal(t, creator, meta[fulfillment.MetaCreatorWallet])
	assert.Equal(t, "750", meta[fulfillment.MetaMarginCents])
	assert.Equal(t, "2000", meta[fulfillment.MetaBasePriceCents])
}

func TestCreateListingRejectsBadWallet(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.CreateListing(context.Background(), Payment{Header: paymentHeader(t)}, ListingRequest{
		ImageURL: "https://img.example/art.png", CreatorWallet: "nope", Variants: []int64{1},
	})
	assert.Equal(t, http.StatusBadRequest, types.HTTPStatus(err))
	assert.Zero(t, h.verifier.calls)
}

func TestPurchaseListingQuotesAndSplits(t *testing.T) {
	h := newHarness(t)
	listing := createListing(t, h)
	h.settler.calls = 0

	_, err := h.svc.PurchaseListing(context.Background(), Payment{}, listing.Body.ProductID, ListingPurchaseRequest{
		VariantID: 4013, Address: address(),
	})
	var rej *commit.Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, "27500000", rej.Body.Accepts[0].MaxAmountRequired)

	res, err := h.svc.PurchaseListing(context.Background(), Payment{Header: paymentHeader(t)}, listing.Body.ProductID, ListingPurchaseRequest{
		VariantID: 4013, Quantity: 2, Address: address(),
	})
	require.NoError(t, err)
	assert.Equal(t, statusCompleted, res.Body.Status)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 1, h.settler.calls)

	assert.Equal(t, 1, h.splitter.calls)
	assert.Equal(t, types.NetworkBase, h.splitter.network)
	assert.Equal(t, creator, h.splitter.recipient)
	assert.Equal(t, "15000000", h.splitter.amount.String())
}

func TestPurchaseListingSplitFailureIsWarning(t *testing.T) {
	h := newHarness(t)
	listing := createListing(t, h)
	h.splitter.err = errors.New("insufficient gas")

	res, err := h.svc.PurchaseListing(context.Background(), Payment{Header: paymentHeader(t)}, listing.Body.ProductID, ListingPurchaseRequest{
		VariantID: 4012, Address: address(),
	})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "insufficient gas")
	assert.Contains(t, res.Warnings[0], "transfer 7.5 USDC to creator "+creator)
	assert.Len(t, h.vendor.orders, 1)
}

func TestPurchaseListingUnknownProduct(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.PurchaseListing(context.Background(), Payment{Header: paymentHeader(t)}, "404", ListingPurchaseRequest{
		VariantID: 4012, Address: address(),
	})
	var rej *commit.Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, commit.TerminalQuoteFailed, rej.Terminal)
	assert.Equal(t, http.StatusUnprocessableEntity, rej.Status())
	assert.Zero(t, h.verifier.calls)
}

func TestPurchaseListingRejectsPlainProduct(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Purchase(context.Background(), Payment{Header: paymentHeader(t)}, PurchaseRequest{
		ImageURL: "https://img.example/a.png", VariantID: 4012, Address: address(),
	})
	require.NoError(t, err)
	plain := h.vendor.created[0]
	var id string
	for pid, p := range h.vendor.products {
		if p.ExternalID == plain.ExternalID {
			id = pid
		}
	}

	_, err = h.svc.PurchaseListing(context.Background(), Payment{Header: paymentHeader(t)}, id, ListingPurchaseRequest{
		VariantID: 4012, Address: address(),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, types.HTTPStatus(err))
}

func TestNewServiceValidatesSettings(t *testing.T) {
	coord := commit.NewCoordinator(&fakeVerifier{}, &fakeSettler{})
	_, err := NewService(coord, newVendor(), nil, Settings{PayTo: "bad"})
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestPurchaseListingQuoteRetriesVendorOutage(t *testing.T) {
	h := newHarness(t)
	listing := createListing(t, h)
	h.vendor.gets = 0
	h.vendor.getErrs = []error{retry.HTTPError("get product", http.StatusServiceUnavailable, "maintenance")}

	_, err := h.svc.PurchaseListing(context.Background(), Payment{}, listing.Body.ProductID, ListingPurchaseRequest{
		VariantID: 4013, Address: address(),
	})
	var rej *commit.Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, commit.TerminalPaymentRequired, rej.Terminal)
	assert.Equal(t, "27500000", rej.Body.Accepts[0].MaxAmountRequired)
	assert.Equal(t, 2, h.vendor.gets)
}

func TestPurchaseListingQuoteGivesUpAfterWorkflowAttempts(t *testing.T) {
	h := newHarness(t)
	listing := createListing(t, h)
	h.vendor.gets = 0
	outage := retry.HTTPError("get product", http.StatusServiceUnavailable, "maintenance")
	h.vendor.getErrs = []error{outage, outage, outage}

	_, err := h.svc.PurchaseListing(context.Background(), Payment{}, listing.Body.ProductID, ListingPurchaseRequest{
		VariantID: 4013, Address: address(),
	})
	var rej *commit.Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, commit.TerminalQuoteFailed, rej.Terminal)
	assert.Equal(t, http.StatusInternalServerError, rej.Status())
	assert.ErrorIs(t, err, outage)
	assert.Equal(t, retry.Workflow().MaxAttempts, h.vendor.gets)
}
