package commit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vitwit/x402-checkout/types"
)

// Authorization is a verified, not yet settled payment.
type Authorization struct {
	coordinator    *Coordinator
	request        types.VerifyRequest
	payer          string
	quote          *Quote
	idempotencyKey string
	trace          []Phase

	completed atomic.Bool
}

// Requirement is the payment requirement the payment was matched against.
func (a *Authorization) Requirement() types.PaymentRequirements {
	return a.request.PaymentRequirements
}

// Payer is the address reported by the verifier.
func (a *Authorization) Payer() string { return a.payer }

// Quote returns the dynamic quote, or nil for fixed-price requests.
func (a *Authorization) Quote() *Quote { return a.quote }

// effectReceipt proves the side effect succeeded. Only Complete creates one,
// and only on the success branch.
type effectReceipt struct {
	finishedAt time.Time
}

// settle is reachable only with an effectReceipt in hand.
func (a *Authorization) settle(ctx context.Context, _ effectReceipt) (*types.SettleResponse, error) {
	req := a.request
	resp, err := a.coordinator.settler.Settle(ctx, &req)
	if err == nil && resp == nil {
		err = fmt.Errorf("settler returned no response")
	}
	return resp, err
}

// Settled describes a successful settlement, passed to a SplitFunc.
type Settled struct {
	Settlement  *types.SettleResponse
	Requirement types.PaymentRequirements
	Payer       string
	Quote       *Quote
}

// SplitFunc forwards part of settled funds to a third party. It runs at most
// once, after a successful settlement; its failure is only a warning.
type SplitFunc func(ctx context.Context, s Settled) error

type completeOptions struct {
	split SplitFunc
}

type CompleteOption func(*completeOptions)

func WithSplit(fn SplitFunc) CompleteOption {
	return func(o *completeOptions) {
		o.split = fn
	}
}

// Outcome is the end state of a flow that reached the side effect.
type Outcome[T any] struct {
	Terminal   Terminal
	Value      T
	Settlement *types.SettleResponse
	Warnings   []string
	Err        error
	Payer      string
	Trace      []Phase
}

// Charged reports whether the payer's funds were moved.
func (o Outcome[T]) Charged() bool {
	return o.Settlement != nil && o.Settlement.Success
}

// PaymentResponseHeader is the X-PAYMENT-RESPONSE value for a successful
// settlement, or "".
func (o Outcome[T]) PaymentResponseHeader() string {
	if !o.Charged() {
		return ""
	}
	h, err := o.Settlement.EncodeToBase64String()
	if err != nil {
		return ""
	}
	return h
}

// Complete runs the side effect and settles the payment only if it
// succeeded. Settlement is attempted at most once per Authorization and is
// never retried; a failed settlement does not undo the side effect.
func Complete[T any](ctx context.Context, a *Authorization, effect func(context.Context) (T, error), opts ...CompleteOption) Outcome[T] {
	var out Outcome[T]
	if a == nil {
		out.Terminal = TerminalConfigError
		out.Err = &types.ConfigError{Message: "nil authorization"}
		return out
	}

	c := a.coordinator
	out.Payer = a.payer
	out.Trace = append([]Phase(nil), a.trace...)
	network := a.request.PaymentRequirements.Network

	if !a.completed.CompareAndSwap(false, true) {
		out.Terminal = TerminalConfigError
		out.Err = &types.ConfigError{Message: errAlreadyCompleted.Error()}
		return out
	}

	o := &completeOptions{}
	for _, opt := range opts {
		opt(o)
	}

	out.Trace = append(out.Trace, PhaseSideEffect)
	start := time.Now()
	value, err := effect(ctx)
	c.metrics.ObserveLatency("side_effect", time.Since(start), map[string]string{
		"network": network,
		"outcome": successLabel(err == nil),
	})

	if err != nil {
		out.Trace = append(out.Trace, PhaseTerminal)
		out.Terminal = TerminalSideEffectFailed
		out.Err = &types.SideEffectError{Op: "purchase", Err: err}
		c.metrics.IncCounter("commit_terminal", map[string]string{
			"network": network,
			"outcome": out.Terminal.String(),
		})
		c.logger.Error("side effect failed, payment not settled", map[string]any{
			"network":         network,
			"payer":           a.payer,
			"idempotency_key": a.idempotencyKey,
			"error":           err,
		})
		return out
	}

	out.Value = value
	receipt := effectReceipt{finishedAt: time.Now()}

	// Settlement and the split ignore caller cancellation; only
	// settleTimeout bounds them.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.settleTimeout)
	defer cancel()

	out.Trace = append(out.Trace, PhaseSettling)
	settlement, err := a.settle(sctx, receipt)
	out.Settlement = settlement
	out.Terminal = TerminalSettled
	out.Trace = append(out.Trace, PhaseTerminal)

	c.metrics.IncCounter("commit_terminal", map[string]string{
		"network": network,
		"outcome": out.Terminal.String(),
	})

	if err != nil || !settlement.Success {
		reason := ""
		if err != nil {
			reason = err.Error()
		} else {
			reason = settlement.ErrorReason
		}
		out.Warnings = append(out.Warnings, "payment settlement failed: "+reason)
		c.metrics.IncCounter("settlement_inconsistency", map[string]string{"network": network})
		c.logger.Error("settlement failed after successful side effect", map[string]any{
			"network":         network,
			"payer":           a.payer,
			"amount":          a.request.PaymentRequirements.MaxAmountRequired,
			"idempotency_key": a.idempotencyKey,
			"reason":          reason,
			"error":           types.ErrSettlementInconsistency,
		})
		return out
	}

	c.logger.Info("payment settled", map[string]any{
		"network":     network,
		"payer":       a.payer,
		"transaction": settlement.Transaction,
	})

	if o.split != nil {
		err := o.split(sctx, Settled{
			Settlement:  settlement,
			Requirement: a.request.PaymentRequirements,
			Payer:       a.payer,
			Quote:       a.quote,
		})
		if err != nil {
			out.Warnings = append(out.Warnings, "value split failed: "+err.Error())
			c.metrics.IncCounter("split_failed", map[string]string{"network": network})
			c.logger.Error("value split failed", map[string]any{
				"network":     network,
				"transaction": settlement.Transaction,
				"error":       err,
			})
		}
	}

	return out
}

func successLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
