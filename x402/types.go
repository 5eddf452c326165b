// Package x402 implements the payment-required protocol artifacts used to
// gate oracle operations: the requirements a server advertises in a 402
// response and the payment proof a client presents in the X-Payment header.
package x402

// ProtocolVersion is the protocol version carried in requirements and proofs.
const ProtocolVersion = "1"

// HeaderName is the HTTP header carrying the base64-encoded payment proof.
const HeaderName = "X-Payment"

// SchemeExact is the only payment scheme this service accepts: the proof must
// transfer exactly the advertised amount.
const SchemeExact = "exact"

// Asset identifies a settlement asset on the ledger.
type Asset struct {
	// Address is the asset's mint address on the ledger.
	Address string `json:"address"`

	// Decimals is the number of decimal places in the asset's smallest unit.
	Decimals int `json:"decimals"`
}

// Scheme is a single acceptable way to pay for an operation.
type Scheme struct {
	// Scheme is the payment scheme identifier (e.g. "exact").
	Scheme string `json:"scheme"`

	// Network is the ledger network identifier (e.g. "solana-devnet").
	Network string `json:"network"`

	// Asset is the settlement asset.
	Asset Asset `json:"asset"`

	// Recipient is the address that must receive the payment.
	Recipient string `json:"recipient"`

	// Amount is the required amount in the asset's smallest unit.
	Amount string `json:"amount"`
}

// PaymentRequirements describes what must be paid to authorize an operation.
// It is a protocol artifact only: it lives for the duration of one HTTP
// exchange and is never persisted.
type PaymentRequirements struct {
	// Version is the protocol version.
	Version string `json:"version"`

	// Schemes lists the acceptable payment options. The first scheme is the
	// primary obligation; any further entries are optional secondary lines
	// (priority tip, reputation stake, resolution bounty).
	Schemes []Scheme `json:"schemes"`

	// Resource identifies the operation being paid for.
	Resource string `json:"resource"`

	// Description is a human-readable explanation of the obligation.
	Description string `json:"description,omitempty"`
}

// PaymentPayload is the inner payload of a payment proof: the transfer the
// payer claims to have authorized.
type PaymentPayload struct {
	// From is the payer's ledger address.
	From string `json:"from"`

	// To is the recipient's ledger address.
	To string `json:"to"`

	// Amount is the transferred amount in the asset's smallest unit.
	Amount string `json:"amount"`

	// Asset is the mint address of the transferred asset.
	Asset string `json:"asset"`

	// Nonce is a unique value preventing proof replay.
	Nonce string `json:"nonce"`

	// Timestamp is the unix time the proof was produced.
	Timestamp int64 `json:"timestamp"`
}

// PaymentProof is the decoded X-Payment header value.
type PaymentProof struct {
	// Version is the protocol version of the proof.
	Version string `json:"version"`

	// Scheme is the payment scheme the proof satisfies.
	Scheme string `json:"scheme"`

	// Network is the ledger network the payment was made on.
	Network string `json:"network"`

	// Signature is the payer's signature over the payload.
	Signature string `json:"signature"`

	// Payload carries the transfer details.
	Payload PaymentPayload `json:"payload"`
}

// VerifyResponse is returned by the facilitator /verify endpoint.
type VerifyResponse struct {
	// IsValid indicates whether the payment proof is valid.
	IsValid bool `json:"isValid"`

	// InvalidReason provides a short error code if the proof is invalid.
	InvalidReason string `json:"invalidReason,omitempty"`

	// TxRef is the ledger transaction reference backing the proof.
	TxRef string `json:"txRef,omitempty"`

	// Payer is the address that made the payment.
	Payer string `json:"payer,omitempty"`
}

// SettleResponse is returned by the facilitator /settle endpoint.
type SettleResponse struct {
	// Success indicates whether the payment was settled on the ledger.
	Success bool `json:"success"`

	// ErrorReason provides a short error code if settlement failed.
	ErrorReason string `json:"errorReason,omitempty"`

	// TxRef is the settlement transaction reference.
	TxRef string `json:"txRef,omitempty"`
}

// RefundResponse is returned by the facilitator /refund endpoint.
type RefundResponse struct {
	// Refunded indicates the payment was returned to the payer.
	Refunded bool `json:"refunded"`

	// NothingToRefund indicates the payment was never settled, so there is
	// nothing to return. Distinct from a facilitator failure.
	NothingToRefund bool `json:"nothingToRefund,omitempty"`

	// ErrorReason provides a short error code if the refund failed.
	ErrorReason string `json:"errorReason,omitempty"`

	// TxRef is the refund transaction reference.
	TxRef string `json:"txRef,omitempty"`
}

// ErrorBody is the error object embedded in 4xx/5xx response bodies.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PaymentRequiredBody is the body of a 402 response.
type PaymentRequiredBody struct {
	Error               ErrorBody           `json:"error"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}
