package checkout

import (
	"github.com/vitwit/x402-checkout/fulfillment"
)

// Payment carries the payment-related parts of an HTTP request.
type Payment struct {
	Header         string
	IdempotencyKey string
	// ResourceURL is the absolute URL being paid for.
	ResourceURL string
}

type PurchaseRequest struct {
	Prompt    string              `json:"prompt" validate:"required_without=ImageURL,max=1000"`
	ImageURL  string              `json:"imageUrl" validate:"omitempty,url"`
	VariantID int64               `json:"variantId" validate:"required,gt=0"`
	Quantity  int                 `json:"quantity" validate:"omitempty,min=1,max=10"`
	Address   fulfillment.Address `json:"address" validate:"required"`
}

type ListingRequest struct {
	Prompt        string  `json:"prompt" validate:"required_without=ImageURL,max=1000"`
	ImageURL      string  `json:"imageUrl" validate:"omitempty,url"`
	Title         string  `json:"title" validate:"max=100"`
	Description   string  `json:"description" validate:"max=1000"`
	CreatorWallet string  `json:"creatorWallet" validate:"required,evmaddress"`
	MarginInCents int64   `json:"marginInCents" validate:"min=0,max=100000"`
	Variants      []int64 `json:"variants" validate:"required,min=1,max=20,dive,gt=0"`
}

type ListingPurchaseRequest struct {
	VariantID int64               `json:"variantId" validate:"required,gt=0"`
	Quantity  int                 `json:"quantity" validate:"omitempty,min=1,max=10"`
	Address   fulfillment.Address `json:"address" validate:"required"`
}

type TrackingInfo struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"trackingNumber"`
	TrackingURL    string `json:"trackingUrl,omitempty"`
}

type PurchaseResponse struct {
	ID           string        `json:"id"`
	Status       string        `json:"status"`
	ProductID    string        `json:"productId"`
	OrderID      string        `json:"orderId"`
	TrackingInfo *TrackingInfo `json:"trackingInfo,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
}

type ListingResponse struct {
	ID            string   `json:"id"`
	ProductID     string   `json:"productId"`
	ImageURL      string   `json:"imageUrl"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	PriceInCents  int64    `json:"priceInCents"`
	MarginInCents int64    `json:"marginInCents"`
	Variants      []int64  `json:"variants"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Result is a completed paid call.
type Result[T any] struct {
	Body T
	// PaymentResponse is the X-PAYMENT-RESPONSE header value, empty when
	// settlement did not succeed.
	PaymentResponse string
	Payer           string
	Warnings        []string
}
