package commit

// Phase is a state of the per-request commit flow.
type Phase int

const (
	// PhaseQuoting fetches the priceable entity for dynamically priced requests.
	PhaseQuoting Phase = iota
	PhasePricing
	PhaseRequirementBuilt
	PhaseAwaitingPayment
	PhaseDecoding
	PhaseMatching
	PhaseVerifying
	// PhaseVerified: the payment is valid but nothing has moved yet.
	PhaseVerified
	PhaseSideEffect
	PhaseSettling
	PhaseTerminal
)

func (p Phase) String() string {
	switch p {
	case PhaseQuoting:
		return "quoting"
	case PhasePricing:
		return "pricing"
	case PhaseRequirementBuilt:
		return "requirement_built"
	case PhaseAwaitingPayment:
		return "awaiting_payment"
	case PhaseDecoding:
		return "decoding"
	case PhaseMatching:
		return "matching"
	case PhaseVerifying:
		return "verifying"
	case PhaseVerified:
		return "verified"
	case PhaseSideEffect:
		return "side_effect"
	case PhaseSettling:
		return "settling"
	case PhaseTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Terminal identifies how a flow ended.
type Terminal int

const (
	TerminalNone Terminal = iota
	// TerminalSettled: the side effect succeeded. Settlement may still have
	// failed; that is reported as a warning on the outcome.
	TerminalSettled
	TerminalConfigError
	TerminalQuoteFailed
	TerminalPaymentRequired
	TerminalSideEffectFailed
	// TerminalVerifierUnavailable: the verifier could not be reached, so the
	// payment was neither accepted nor rejected.
	TerminalVerifierUnavailable
)

func (t Terminal) String() string {
	switch t {
	case TerminalSettled:
		return "settled"
	case TerminalConfigError:
		return "config_error"
	case TerminalQuoteFailed:
		return "quote_failed"
	case TerminalPaymentRequired:
		return "payment_required"
	case TerminalSideEffectFailed:
		return "side_effect_failed"
	case TerminalVerifierUnavailable:
		return "verifier_unavailable"
	default:
		return "none"
	}
}
