package utils

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402-checkout/types"
)

func TestDecimalToAtomic(t *testing.T) {
	tests := []struct {
		amount   string
		decimals int32
		want     string
		wantErr  bool
	}{
		{"20", 6, "20000000", false},
		{"25.00", 6, "25000000", false},
		{"0.000001", 6, "1", false},
		{"1.5", 18, "1500000000000000000", false},
		{"0.0000001", 6, "", true},
		{"-1", 6, "", true},
		{"", 6, "", true},
		{"abc", 6, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, err := ValidateAmount(tt.amount)
			var n *big.Int
			if err == nil {
				n, err = DecimalToAtomic(*got, tt.decimals)
			}
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.String())
		})
	}
}

func TestFormatAmountFromBigInt(t *testing.T) {
	assert.Equal(t, "25", FormatAmountFromBigInt(big.NewInt(25000000), 6))
	assert.Equal(t, "0.5", FormatAmountFromBigInt(big.NewInt(500000), 6))
}

func TestAddresses(t *testing.T) {
	addr := "0x036cbd53842c5426634e7929541ec2318f3dcf7e"
	assert.True(t, ValidateAddress(addr))
	assert.False(t, ValidateAddress("036cbd53842c5426634e7929541ec2318f3dcf7e"))
	assert.False(t, ValidateAddress("0x1234"))
	assert.Equal(t, "0x036CbD53842c5426634e7929541eC2318f3dCF7e", NormalizeAddress(addr))
	assert.True(t, SameAddress(addr, "0x036CbD53842c5426634e7929541eC2318f3dCF7e"))
}

type sampleRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Wallet  string `json:"wallet" validate:"required,evmaddress"`
	Price   string `json:"price" validate:"required,amount"`
	Address struct {
		Country string `json:"country" validate:"required,len=2"`
	} `json:"address"`
}

func TestValidateStructFieldErrors(t *testing.T) {
	var req sampleRequest
	err := DecodeAndValidate([]byte(`{"email":"nope","wallet":"0x12","price":"-3"}`), &req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrValidation))
	assert.Equal(t, 400, types.HTTPStatus(err))

	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)

	fields := map[string]string{}
	for _, f := range verr.Fields {
		fields[f.Field] = f.Message
	}
	assert.Equal(t, "must be a valid email address", fields["email"])
	assert.Contains(t, fields, "wallet")
	assert.Contains(t, fields, "price")
	assert.Equal(t, "is required", fields["address.country"])
}

func TestDecodeAndValidateMalformedJSON(t *testing.T) {
	var req sampleRequest
	err := DecodeAndValidate([]byte(`{`), &req)

	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "body", verr.Fields[0].Field)
}

func TestParsePaymentRequirements(t *testing.T) {
	_, err := ParsePaymentRequirements([]byte(`{"scheme":"exact"}`))
	var xerr *types.X402Error
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, types.ErrInvalidRequirements, xerr.Code)

	req, err := ParsePaymentRequirements([]byte(`{
		"scheme":"exact","network":"base","maxAmountRequired":"1000",
		"resource":"https://shop.example/api/purchase","payTo":"0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		"maxTimeoutSeconds":60,"asset":"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"}`))
	require.NoError(t, err)
	assert.Equal(t, "1000", req.MaxAmountRequired)
}
