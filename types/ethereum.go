package types

// ExactEvmPayload is the scheme payload of an `exact` EVM payment: an
// EIP-3009 transferWithAuthorization signed by the payer.
type ExactEvmPayload struct {
	Signature     string               `json:"signature"` // 65-byte r||s||v, hex
	Authorization EIP3009Authorization `json:"authorization"`
}

type EIP3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`       // uint256
	ValidAfter  string `json:"validAfter"`  // uint256 timestamp
	ValidBefore string `json:"validBefore"` // uint256 timestamp
	Nonce       string `json:"nonce"`       // bytes32
}
