// Package config loads the checkout service configuration from the
// environment, optionally seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vitwit/x402-checkout/checkout"
	"github.com/vitwit/x402-checkout/clients"
	"github.com/vitwit/x402-checkout/fulfillment"
	"github.com/vitwit/x402-checkout/imagegen"
	"github.com/vitwit/x402-checkout/pricing"
	"github.com/vitwit/x402-checkout/types"
	"github.com/vitwit/x402-checkout/utils"
)

type Config struct {
	Addr            string        `json:"HTTP_ADDR" validate:"required"`
	PublicURL       string        `json:"PUBLIC_URL" validate:"omitempty,url"`
	LogLevel        string        `json:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	MetricsEnabled  bool          `json:"METRICS_ENABLED"`
	ShutdownTimeout time.Duration `json:"SHUTDOWN_TIMEOUT" validate:"gt=0"`

	PayTo               string          `json:"PAY_TO_ADDRESS" validate:"required,evmaddress"`
	Networks            []types.Network `json:"PAYMENT_NETWORKS" validate:"required,min=1"`
	PurchasePrice       string          `json:"PURCHASE_PRICE" validate:"required"`
	ListingFee          string          `json:"LISTING_FEE" validate:"required"`
	BasePriceCents      int64           `json:"BASE_PRICE_CENTS" validate:"gt=0"`
	PurchaseDescription string          `json:"PURCHASE_DESCRIPTION"`

	FacilitatorURL     string        `json:"FACILITATOR_URL" validate:"omitempty,url"`
	FacilitatorTimeout time.Duration `json:"FACILITATOR_TIMEOUT" validate:"gt=0"`
	// RPCURL and PrivateKey enable local verification and settlement, and
	// creator payouts from the facilitator key.
	RPCURL     string `json:"EVM_RPC_URL" validate:"omitempty,url"`
	PrivateKey string `json:"EVM_PRIVATE_KEY" validate:"required_with=RPCURL"`

	FulfillmentURL     string        `json:"FULFILLMENT_BASE_URL" validate:"omitempty,url"`
	FulfillmentAPIKey  string        `json:"FULFILLMENT_API_KEY" validate:"required"`
	FulfillmentStoreID string        `json:"FULFILLMENT_STORE_ID"`
	FulfillmentTimeout time.Duration `json:"FULFILLMENT_TIMEOUT" validate:"gt=0"`

	OpenAIKey        string `json:"OPENAI_API_KEY"`
	OpenAIImageModel string `json:"OPENAI_IMAGE_MODEL"`
	OpenAIChatModel  string `json:"OPENAI_CHAT_MODEL"`
	ImageSize        string `json:"IMAGE_SIZE"`
}

// Load reads .env files (default ".env", missing files are ignored), then
// the environment. Variables already set in the environment win.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, &types.ConfigError{Message: fmt.Sprintf("load %s: %v", f, err)}
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	var errs []string
	cfg := &Config{
		Addr:                getenv("HTTP_ADDR", ":8080"),
		PublicURL:           os.Getenv("PUBLIC_URL"),
		LogLevel:            strings.ToLower(getenv("LOG_LEVEL", "info")),
		MetricsEnabled:      getBool("METRICS_ENABLED", true, &errs),
		ShutdownTimeout:     getDuration("SHUTDOWN_TIMEOUT", 15*time.Second, &errs),
		PayTo:               os.Getenv("PAY_TO_ADDRESS"),
		Networks:            getNetworks("PAYMENT_NETWORKS", "base"),
		PurchasePrice:       getenv("PURCHASE_PRICE", "$25.00"),
		ListingFee:          getenv("LISTING_FEE", "$1.00"),
		BasePriceCents:      getInt("BASE_PRICE_CENTS", 2000, &errs),
		PurchaseDescription: getenv("PURCHASE_DESCRIPTION", "Custom printed t-shirt"),
		FacilitatorURL:      getenv("FACILITATOR_URL", clients.DefaultFacilitatorURL),
		FacilitatorTimeout:  getDuration("FACILITATOR_TIMEOUT", 30*time.Second, &errs),
		RPCURL:              os.Getenv("EVM_RPC_URL"),
		PrivateKey:          os.Getenv("EVM_PRIVATE_KEY"),
		FulfillmentURL:      getenv("FULFILLMENT_BASE_URL", fulfillment.DefaultBaseURL),
		FulfillmentAPIKey:   os.Getenv("FULFILLMENT_API_KEY"),
		FulfillmentStoreID:  os.Getenv("FULFILLMENT_STORE_ID"),
		FulfillmentTimeout:  getDuration("FULFILLMENT_TIMEOUT", 60*time.Second, &errs),
		OpenAIKey:           os.Getenv("OPENAI_API_KEY"),
		OpenAIImageModel:    os.Getenv("OPENAI_IMAGE_MODEL"),
		OpenAIChatModel:     os.Getenv("OPENAI_CHAT_MODEL"),
		ImageSize:           os.Getenv("IMAGE_SIZE"),
	}
	if len(errs) > 0 {
		return nil, &types.ConfigError{Message: strings.Join(errs, "; ")}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints, prices and networks.
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return &types.ConfigError{Message: err.Error()}
	}
	for _, n := range c.Networks {
		if _, err := pricing.Lookup(n); err != nil {
			return err
		}
	}
	for _, p := range []string{c.PurchasePrice, c.ListingFee} {
		if _, err := pricing.ParsePrice(p); err != nil {
			return err
		}
	}
	if c.PrivateKey != "" {
		if _, err := utils.PrivateKeyFromHex(c.PrivateKey); err != nil {
			return &types.ConfigError{Message: "EVM_PRIVATE_KEY: invalid private key"}
		}
	}
	return nil
}

// X402Config routes every payment network either to the local EVM client
// (when an RPC URL is set) or to the remote facilitator.
func (c *Config) X402Config() *types.X402Config {
	xc := &types.X402Config{DefaultTimeout: c.FacilitatorTimeout}
	if c.RPCURL != "" {
		xc.Clients = make(map[types.Network]types.ClientConfig, len(c.Networks))
		for _, n := range c.Networks {
			xc.Clients[n] = types.ClientConfig{
				Network: n,
				RPCUrl:  c.RPCURL,
				Timeout: c.FacilitatorTimeout,
				HexSeed: c.PrivateKey,
			}
		}
		return xc
	}
	xc.FacilitatorURL = c.FacilitatorURL
	xc.FacilitatorNetworks = append([]types.Network(nil), c.Networks...)
	return xc
}

// LocalSettlement reports whether payments settle from a local key, which
// is also what creator payouts need.
func (c *Config) LocalSettlement() bool {
	return c.RPCURL != ""
}

func (c *Config) Checkout() checkout.Settings {
	return checkout.Settings{
		PayTo:               c.PayTo,
		Networks:            c.Networks,
		PurchasePrice:       c.PurchasePrice,
		ListingFee:          c.ListingFee,
		BasePriceCents:      c.BasePriceCents,
		PurchaseDescription: c.PurchaseDescription,
		PublicURL:           c.PublicURL,
	}
}

func (c *Config) Fulfillment() fulfillment.Config {
	return fulfillment.Config{
		BaseURL: c.FulfillmentURL,
		APIKey:  c.FulfillmentAPIKey,
		StoreID: c.FulfillmentStoreID,
		Timeout: c.FulfillmentTimeout,
	}
}

// ImageGen returns the image generator config, or false when no OpenAI key
// is configured.
func (c *Config) ImageGen() (imagegen.Config, bool) {
	return imagegen.Config{
		APIKey:     c.OpenAIKey,
		ImageModel: c.OpenAIImageModel,
		ChatModel:  c.OpenAIChatModel,
		Size:       c.ImageSize,
	}, c.OpenAIKey != ""
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int64, errs *[]string) int64 {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not an integer", k, v))
		return def
	}
	return n
}

func getBool(k string, def bool, errs *[]string) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not a boolean", k, v))
		return def
	}
	return b
}

func getDuration(k string, def time.Duration, errs *[]string) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not a duration", k, v))
		return def
	}
	return d
}

func getNetworks(k, def string) []types.Network {
	var out []types.Network
	for _, part := range strings.Split(getenv(k, def), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, types.Network(part))
		}
	}
	return out
}
