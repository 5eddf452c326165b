// Package ledger abstracts the external ledger holding escrowed funds.
//
// Escrow accounts are addressed by deterministic derivation: the same kind
// and request id always map to the same address, so concurrent callers agree
// on where funds land without coordination. Mutating calls are keyed by a
// request-scoped nonce and are idempotent under retry.
package ledger

import (
	"context"
	"errors"
)

// EscrowKind selects which escrow account of a request an operation targets.
type EscrowKind string

const (
	// EscrowRequest holds the creator's reward and bond.
	EscrowRequest EscrowKind = "request_escrow"

	// EscrowProposal holds the proposer's bond.
	EscrowProposal EscrowKind = "proposal_escrow"

	// EscrowDispute holds the disputer's bond.
	EscrowDispute EscrowKind = "dispute_escrow"
)

// Sentinel errors for ledger operations.
var (
	// ErrInsufficientFunds indicates the funding account cannot cover a lock.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInsufficientEscrow indicates a release exceeds the escrow balance.
	ErrInsufficientEscrow = errors.New("ledger: release exceeds escrow balance")

	// ErrUnavailable indicates the ledger could not be reached; retryable.
	ErrUnavailable = errors.New("ledger: unavailable")
)

// Ledger is the escrow adapter contract.
type Ledger interface {
	// DeriveEscrowAddress deterministically maps (kind, requestID) to an
	// escrow address. Pure: no I/O, same inputs always yield the same output.
	DeriveEscrowAddress(kind EscrowKind, requestID uint64) (string, error)

	// Lock moves amount (native smallest units) from the treasury float into
	// the escrow address. Idempotent on nonce: a retry with the same nonce
	// returns the original transaction reference without a second transfer.
	Lock(ctx context.Context, escrowAddress string, amount uint64, nonce string) (string, error)

	// Release moves amount from the escrow address to the recipient.
	// Idempotent on nonce, same as Lock.
	Release(ctx context.Context, escrowAddress, recipient string, amount uint64, nonce string) (string, error)

	// Balance returns the current balance of an address in smallest units.
	Balance(ctx context.Context, address string) (uint64, error)
}
