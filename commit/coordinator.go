// Package commit coordinates an x402 payment with the purchase it pays for:
// the payment is verified first, the purchase side effect runs next, and the
// payment is settled only if the side effect succeeded.
package commit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vitwit/x402-checkout/logger"
	"github.com/vitwit/x402-checkout/metrics"
	"github.com/vitwit/x402-checkout/pricing"
	"github.com/vitwit/x402-checkout/types"
)

// Verifier validates a payment without moving funds.
type Verifier interface {
	Verify(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResponse, error)
}

// Settler moves the funds of a verified payment.
type Settler interface {
	Settle(ctx context.Context, req *types.VerifyRequest) (*types.SettleResponse, error)
}

// Quote is the price of a dynamically priced resource, computed after a
// lookup. Detail is opaque to the coordinator.
type Quote struct {
	Price  string
	Detail any
}

// Request describes one paid call. Exactly one of Price and Quote is used;
// Quote wins when both are set.
type Request struct {
	// PaymentHeader is the raw X-PAYMENT header value.
	PaymentHeader string
	// IdempotencyKey is logged for reconciliation only.
	IdempotencyKey string

	Price    string
	Quote    func(ctx context.Context) (Quote, error)
	Networks []types.Network
	Resource pricing.Resource
}

// DefaultSettleTimeout bounds settlement and the value split, which run
// detached from the caller's context once the side effect has succeeded.
const DefaultSettleTimeout = time.Minute

type Coordinator struct {
	verifier      Verifier
	settler       Settler
	settleTimeout time.Duration
	logger        logger.Logger
	metrics       metrics.Recorder
}

type Option func(*Coordinator)

func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger.OrNoop(l)
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Coordinator) {
		c.metrics = metrics.OrNoop(r)
	}
}

// WithSettleTimeout overrides DefaultSettleTimeout.
func WithSettleTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.settleTimeout = d
		}
	}
}

func NewCoordinator(v Verifier, s Settler, opts ...Option) *Coordinator {
	c := &Coordinator{
		verifier:      v,
		settler:       s,
		settleTimeout: DefaultSettleTimeout,
		logger:        logger.NoopLogger{},
		metrics:       metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rejection ends a flow before the side effect: nothing was charged.
type Rejection struct {
	Terminal Terminal
	Phase    Phase
	Err      error
	// Body is set for TerminalPaymentRequired.
	Body *types.X402Response
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s at %s: %v", r.Terminal, r.Phase, r.Err)
}

func (r *Rejection) Unwrap() error { return r.Err }

// Status is the HTTP status the rejection maps to.
func (r *Rejection) Status() int {
	if r.Terminal == TerminalPaymentRequired {
		return http.StatusPaymentRequired
	}
	return types.HTTPStatus(r.Err)
}

// flow is the mutable state of one Authorize call.
type flow struct {
	req   Request
	phase Phase
	trace []Phase

	quote        *Quote
	price        string
	assets       []pricing.Asset
	requirements []types.PaymentRequirements
	payload      *types.PaymentPayload
	matched      *types.PaymentRequirements
	payer        string

	rejection *Rejection
}

// Authorize runs the flow up to PhaseVerified. It returns either an
// Authorization that must be passed to Complete, or a Rejection.
func (c *Coordinator) Authorize(ctx context.Context, req Request) (*Authorization, *Rejection) {
	f := &flow{req: req, phase: PhasePricing}
	if req.Quote != nil {
		f.phase = PhaseQuoting
	}

	for f.phase != PhaseVerified && f.phase != PhaseTerminal {
		f.trace = append(f.trace, f.phase)
		f.phase = c.step(ctx, f)
	}
	f.trace = append(f.trace, f.phase)

	if f.rejection != nil {
		c.metrics.IncCounter("commit_terminal", map[string]string{"outcome": f.rejection.Terminal.String()})
		c.logger.Info("payment flow rejected", map[string]any{
			"terminal":        f.rejection.Terminal.String(),
			"phase":           f.rejection.Phase.String(),
			"resource":        req.Resource.URL,
			"idempotency_key": req.IdempotencyKey,
			"error":           f.rejection.Err,
		})
		return nil, f.rejection
	}

	c.logger.Info("payment verified", map[string]any{
		"network":         f.matched.Network,
		"payer":           f.payer,
		"amount":          f.matched.MaxAmountRequired,
		"resource":        req.Resource.URL,
		"idempotency_key": req.IdempotencyKey,
	})

	return &Authorization{
		coordinator: c,
		request: types.VerifyRequest{
			X402Version:         f.payload.X402Version,
			PaymentPayload:      *f.payload,
			PaymentRequirements: *f.matched,
		},
		payer:          f.payer,
		quote:          f.quote,
		idempotencyKey: req.IdempotencyKey,
		trace:          f.trace,
	}, nil
}

// step performs the work of f.phase and returns the next phase.
func (c *Coordinator) step(ctx context.Context, f *flow) Phase {
	switch f.phase {
	case PhaseQuoting:
		q, err := f.req.Quote(ctx)
		if err != nil {
			return f.reject(TerminalQuoteFailed, err)
		}
		f.quote = &q
		f.price = q.Price
		return PhasePricing

	case PhasePricing:
		if f.quote == nil {
			f.price = f.req.Price
		}
		if len(f.req.Networks) == 0 {
			return f.reject(TerminalConfigError, &types.ConfigError{Message: "no payment networks configured"})
		}
		amount, err := pricing.ParsePrice(f.price)
		if err != nil {
			return f.reject(TerminalConfigError, err)
		}
		for _, n := range f.req.Networks {
			asset, err := pricing.Lookup(n)
			if err != nil {
				return f.reject(TerminalConfigError, err)
			}
			if _, err := asset.ToAtomic(amount); err != nil {
				return f.reject(TerminalConfigError, err)
			}
			f.assets = append(f.assets, asset)
		}
		return PhaseRequirementBuilt

	case PhaseRequirementBuilt:
		reqs, err := pricing.Requirements(f.price, f.req.Networks, f.req.Resource)
		if err != nil {
			return f.reject(TerminalConfigError, err)
		}
		f.requirements = reqs
		return PhaseAwaitingPayment

	case PhaseAwaitingPayment:
		if f.req.PaymentHeader == "" {
			return f.paymentRequired("X-PAYMENT header is required")
		}
		return PhaseDecoding

	case PhaseDecoding:
		payload, err := types.DecodePaymentPayload(f.req.PaymentHeader)
		if err != nil {
			return f.paymentRequired(err.Error())
		}
		f.payload = payload
		return PhaseMatching

	case PhaseMatching:
		for i := range f.requirements {
			if f.payload.Matches(&f.requirements[i]) {
				f.matched = &f.requirements[i]
				return PhaseVerifying
			}
		}
		return f.paymentRequired(fmt.Sprintf("no matching payment requirements for scheme %q on network %q",
			f.payload.Scheme, f.payload.Network))

	case PhaseVerifying:
		resp, err := c.verifier.Verify(ctx, &types.VerifyRequest{
			X402Version:         f.payload.X402Version,
			PaymentPayload:      *f.payload,
			PaymentRequirements: *f.matched,
		})
		if err == nil && resp == nil {
			err = errors.New("verifier returned no response")
		}
		if err != nil {
			c.logger.Error("payment verification errored", map[string]any{
				"network":         f.matched.Network,
				"idempotency_key": f.req.IdempotencyKey,
				"error":           err,
			})
			return f.reject(TerminalVerifierUnavailable, fmt.Errorf("payment verification unavailable: %w", err))
		}
		if !resp.IsValid {
			f.payer = resp.Payer
			return f.paymentRequired(resp.InvalidReason)
		}
		f.payer = resp.Payer
		return PhaseVerified
	}

	return f.reject(TerminalConfigError, fmt.Errorf("unexpected phase %s", f.phase))
}

func (f *flow) reject(t Terminal, err error) Phase {
	f.rejection = &Rejection{Terminal: t, Phase: f.phase, Err: err}
	return PhaseTerminal
}

func (f *flow) paymentRequired(msg string) Phase {
	f.rejection = &Rejection{
		Terminal: TerminalPaymentRequired,
		Phase:    f.phase,
		Err:      fmt.Errorf("%w: %s", types.ErrPaymentRequired, msg),
		Body: &types.X402Response{
			X402Version: int(types.X402Version1),
			Error:       msg,
			Accepts:     f.requirements,
			Payer:       f.payer,
		},
	}
	return PhaseTerminal
}

// errAlreadyCompleted is returned when an Authorization is completed twice.
var errAlreadyCompleted = errors.New("authorization already completed")
