// Package fulfillment talks to a print-on-demand vendor: it uploads design
// files, publishes store products and submits orders.
package fulfillment

import (
	"context"
	"strconv"
)

// Provider is the print-on-demand vendor surface used by checkout.
type Provider interface {
	UploadFile(ctx context.Context, imageURL string) (*File, error)
	CreateProduct(ctx context.Context, spec ProductSpec) (*Product, error)
	GetProduct(ctx context.Context, id string) (*Product, error)
	CreateOrder(ctx context.Context, spec OrderSpec) (*Order, error)
}

// Address is a shipping recipient.
type Address struct {
	Name        string `json:"name" validate:"required,max=100"`
	Address1    string `json:"address1" validate:"required,max=200"`
	Address2    string `json:"address2,omitempty" validate:"max=200"`
	City        string `json:"city" validate:"required,max=100"`
	StateCode   string `json:"state_code,omitempty" validate:"max=10"`
	CountryCode string `json:"country_code" validate:"required,len=2"`
	Zip         string `json:"zip" validate:"required,max=20"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	Phone       string `json:"phone,omitempty" validate:"max=30"`
}

type File struct {
	ID           int64  `json:"id"`
	URL          string `json:"url"`
	PreviewURL   string `json:"preview_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Status       string `json:"status"`
}

// Metadata keys stored on creator listings.
const (
	MetaCreatorWallet  = "creator_wallet"
	MetaMarginCents    = "margin_cents"
	MetaBasePriceCents = "base_price_cents"
)

type ProductSpec struct {
	ExternalID  string
	Name        string
	Description string
	ImageURL    string
	VariantIDs  []int64
	// RetailPriceCents is the price set on every variant.
	RetailPriceCents int64
	Metadata         map[string]string
}

type Product struct {
	ID          string            `json:"id"`
	ExternalID  string            `json:"external_id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Thumbnail   string            `json:"thumbnail_url,omitempty"`
	Variants    []SyncVariant     `json:"sync_variants"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type SyncVariant struct {
	ID          int64  `json:"id"`
	VariantID   int64  `json:"variant_id"`
	RetailPrice string `json:"retail_price"`
}

// MetaInt returns an integer metadata value.
func (p *Product) MetaInt(key string) (int64, bool) {
	v, ok := p.Metadata[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SyncVariant returns the store variant for a catalog variant id.
func (p *Product) SyncVariant(variantID int64) (SyncVariant, bool) {
	for _, v := range p.Variants {
		if v.VariantID == variantID {
			return v, true
		}
	}
	return SyncVariant{}, false
}

type OrderItem struct {
	SyncVariantID int64  `json:"sync_variant_id"`
	Quantity      int    `json:"quantity"`
	RetailPrice   string `json:"retail_price,omitempty"`
}

type OrderSpec struct {
	ExternalID string
	Recipient  Address
	Items      []OrderItem
	// Confirm submits the order for fulfillment instead of leaving a draft.
	Confirm bool
}

type Shipment struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
	TrackingURL    string `json:"tracking_url"`
}

type Order struct {
	ID         int64      `json:"id"`
	ExternalID string     `json:"external_id"`
	Status     string     `json:"status"`
	Shipments  []Shipment `json:"shipments,omitempty"`
}
