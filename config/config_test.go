package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402-checkout/types"
)

const payTo = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"

func setRequired(t *testing.T) {
	t.Setenv("PAY_TO_ADDRESS", payTo)
	t.Setenv("FULFILLMENT_API_KEY", "pf-key")
}

func TestFromEnvDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, []types.Network{types.NetworkBase}, cfg.Networks)
	assert.Equal(t, "$25.00", cfg.PurchasePrice)
	assert.Equal(t, int64(2000), cfg.BasePriceCents)
	assert.Equal(t, 30*time.Second, cfg.FacilitatorTimeout)
	assert.False(t, cfg.LocalSettlement())

	xc := cfg.X402Config()
	assert.Equal(t, cfg.FacilitatorURL, xc.FacilitatorURL)
	assert.Equal(t, []types.Network{types.NetworkBase}, xc.FacilitatorNetworks)
	assert.Empty(t, xc.Clients)

	_, ok := cfg.ImageGen()
	assert.False(t, ok)
}

func TestFromEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PAYMENT_NETWORKS", "base, polygon")
	t.Setenv("EVM_RPC_URL", "https://rpc.example")
	t.Setenv("EVM_PRIVATE_KEY", "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LocalSettlement())

	xc := cfg.X402Config()
	require.Len(t, xc.Clients, 2)
	assert.Equal(t, "https://rpc.example", xc.Clients[types.NetworkPolygon].RPCUrl)
	assert.Empty(t, xc.FacilitatorNetworks)

	ig, ok := cfg.ImageGen()
	assert.True(t, ok)
	assert.Equal(t, "sk-test", ig.APIKey)
}

func TestFromEnvErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"missing payTo":   {"PAY_TO_ADDRESS": ""},
		"bad network":     {"PAYMENT_NETWORKS": "solana"},
		"bad price":       {"PURCHASE_PRICE": "free"},
		"bad duration":    {"FACILITATOR_TIMEOUT": "soon"},
		"bad int":         {"BASE_PRICE_CENTS": "twenty"},
		"key without rpc": {"EVM_RPC_URL": "https://rpc.example"},
		"bad key":         {"EVM_PRIVATE_KEY": "0x1234"},
		"bad level":       {"LOG_LEVEL": "loud"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrConfiguration)
		})
	}
}

func TestLoadReadsDotenvWithoutOverriding(t *testing.T) {
	setRequired(t)
	t.Setenv("HTTP_ADDR", ":9000")
	os.Unsetenv("LISTING_FEE")

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_ADDR=:7000\nLISTING_FEE='$2.50'\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LISTING_FEE") })

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "$2.50", cfg.ListingFee)
}
