// Package facilitator talks to the external payment settlement facilitator.
//
// The facilitator validates payment proofs against the ledger (/verify),
// executes settlements (/settle), returns refundable payments (/refund) and
// reports liveness (/health). All calls fail closed: a network error, decode
// error, or timeout is never treated as a valid payment.
package facilitator

import (
	"context"

	"github.com/veritaslabs/oracle402/x402"
)

// Interface defines the facilitator contract for payment verification and
// settlement. The HTTP client satisfies it; tests substitute mocks.
type Interface interface {
	// Verify validates a payment proof against the requirements without
	// executing a settlement. Any transport or decode failure yields an
	// error; an explicit rejection yields IsValid=false with a reason.
	Verify(ctx context.Context, proof x402.PaymentProof, scheme x402.Scheme) (*x402.VerifyResponse, error)

	// Settle executes a verified payment on the ledger. Idempotent: settling
	// an already-settled payment reports success without a second transfer.
	Settle(ctx context.Context, proof x402.PaymentProof, scheme x402.Scheme) (*x402.SettleResponse, error)

	// Refund returns a settled payment to the payer. A payment that was
	// never settled reports NothingToRefund rather than an error.
	Refund(ctx context.Context, txRef string) (*x402.RefundResponse, error)

	// Health reports whether the facilitator is reachable and serving.
	Health(ctx context.Context) error
}

// VerifyRequest is the request payload sent to POST /verify.
type VerifyRequest struct {
	// PaymentPayload is the decoded proof presented by the caller.
	PaymentPayload x402.PaymentProof `json:"paymentPayload"`

	// PaymentRequirements is the scheme the proof must satisfy.
	PaymentRequirements x402.Scheme `json:"paymentRequirements"`
}

// SettleRequest is the request payload sent to POST /settle.
type SettleRequest struct {
	PaymentPayload      x402.PaymentProof `json:"paymentPayload"`
	PaymentRequirements x402.Scheme       `json:"paymentRequirements"`
}

// RefundRequest is the request payload sent to POST /refund.
type RefundRequest struct {
	// TxRef is the settlement transaction to reverse.
	TxRef string `json:"txRef"`
}
