package clients

// Invalid reasons reported in VerifyResponse.InvalidReason and
// SettleResponse.ErrorReason.
const (
	// -----------------------------
	// SCHEME / NETWORK
	// -----------------------------
	ErrUnsupportedScheme = "unsupported_scheme"
	ErrInvalidNetwork    = "invalid_network"
	ErrNetworkMismatch   = "invalid_exact_evm_network_mismatch"

	// -----------------------------
	// PAYLOAD
	// -----------------------------
	ErrInvalidPayload         = "invalid_exact_evm_payload"
	ErrMissingSignature       = "invalid_exact_evm_payload_missing_signature"
	ErrInvalidSignatureFormat = "invalid_exact_evm_signature_format"
	ErrAssetMismatch          = "invalid_exact_evm_asset_mismatch"

	// -----------------------------
	// AUTHORIZATION CHECKS
	// -----------------------------
	ErrRecipientMismatch   = "invalid_exact_evm_recipient_mismatch"
	ErrInvalidRequired     = "invalid_exact_evm_required_amount"
	ErrInsufficientAmount  = "invalid_exact_evm_insufficient_amount"
	ErrValidBeforeExpired  = "invalid_exact_evm_payload_authorization_valid_before"
	ErrValidAfterInFuture  = "invalid_exact_evm_payload_authorization_valid_after"
	ErrInvalidSignature    = "invalid_exact_evm_signature"
	ErrNonceAlreadyUsed    = "invalid_exact_evm_nonce_already_used"
	ErrInsufficientBalance = "invalid_exact_evm_insufficient_balance"

	// -----------------------------
	// SETTLEMENT
	// -----------------------------
	ErrNoSigner                = "settle_exact_evm_no_signer"
	ErrFailedToExecuteTransfer = "invalid_exact_evm_failed_to_execute_transfer"
	ErrTransactionFailed       = "invalid_exact_evm_transaction_failed"
	ErrUnexpectedSettleError   = "unexpected_settle_error"
	ErrUnexpectedVerifyError   = "unexpected_verify_error"
)
