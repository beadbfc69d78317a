package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := map[string]struct {
		err  error
		want int
	}{
		"nil":           {nil, http.StatusOK},
		"payment":       {fmt.Errorf("%w: no header", ErrPaymentRequired), http.StatusPaymentRequired},
		"validation":    {&ValidationError{Fields: []FieldError{{Field: "prompt", Message: "is required"}}}, http.StatusBadRequest},
		"business rule": {&BusinessRuleError{Field: "address.zip", Message: "invalid postal code"}, http.StatusUnprocessableEntity},
		"configuration": {&ConfigError{Message: "bad price"}, http.StatusInternalServerError},
		"side effect":   {&SideEffectError{Op: "purchase", Err: errors.New("vendor down")}, http.StatusInternalServerError},
		"unknown":       {errors.New("boom"), http.StatusInternalServerError},
		"wrapped 422":   {fmt.Errorf("quote: %w", &BusinessRuleError{Field: "id"}), http.StatusUnprocessableEntity},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}

func TestSideEffectErrorUnwrapsBoth(t *testing.T) {
	cause := errors.New("vendor down")
	err := &SideEffectError{Op: "purchase", Err: cause}

	assert.ErrorIs(t, err, ErrSideEffect)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "purchase: vendor down", err.Error())
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Fields: []FieldError{
		{Field: "prompt", Message: "is required"},
		{Field: "address.zip", Message: "is required"},
	}}
	assert.Equal(t, "validation failed: prompt: is required; address.zip: is required", err.Error())
}
