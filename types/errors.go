package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// X402Error is a protocol-level failure reported by a client or facilitator.
type X402Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e X402Error) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrInvalidPayload      = "INVALID_PAYLOAD"
	ErrInvalidRequirements = "INVALID_REQUIREMENTS"
	ErrUnsupportedNetwork  = "UNSUPPORTED_NETWORK"
	ErrInsufficientAmount  = "INSUFFICIENT_AMOUNT"
	ErrExpiredPayment      = "EXPIRED_PAYMENT"
	ErrVerificationFailed  = "VERIFICATION_FAILED"
	ErrSettlementFailed    = "SETTLEMENT_FAILED"
	ErrNetworkError        = "NETWORK_ERROR"
	ErrConfigError         = "CONFIG_ERROR"
)

// Checkout failure taxonomy. Concrete errors wrap one of these sentinels so
// callers can branch with errors.Is.
var (
	ErrConfiguration           = errors.New("configuration error")
	ErrPaymentRequired         = errors.New("payment required")
	ErrValidation              = errors.New("validation error")
	ErrBusinessRule            = errors.New("business rule violation")
	ErrSideEffect              = errors.New("side effect failed")
	ErrSettlementInconsistency = errors.New("settlement failed after side effect")
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries field-level details for a 400 response.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// BusinessRuleError is well-formed input that is semantically invalid.
type BusinessRuleError struct {
	Field   string
	Message string
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *BusinessRuleError) Unwrap() error { return ErrBusinessRule }

// ConfigError wraps an unsupported network, malformed price or similar
// server-side misconfiguration.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// SideEffectError wraps the failure of the purchase action. Payment is never
// settled when one of these is returned.
type SideEffectError struct {
	Op  string
	Err error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SideEffectError) Unwrap() []error { return []error{ErrSideEffect, e.Err} }

// HTTPStatus maps the checkout error taxonomy onto a response status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrPaymentRequired):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrBusinessRule):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
