// Package paymentstore persists payment records: the audit trail linking
// verified payment proofs to the escrowed funds they moved.
package paymentstore

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies what a payment paid for.
type Type string

const (
	// TypeAntispam is the flat fee charged on request creation.
	TypeAntispam Type = "antispam"

	// TypeBond is a proposer or disputer bond.
	TypeBond Type = "bond"

	// TypeTip is an optional priority tip attached to a proposal.
	TypeTip Type = "tip"

	// TypeBounty is an optional resolution bounty attached to a dispute.
	TypeBounty Type = "bounty"

	// TypeStake is an optional reputation stake attached to a proposal.
	TypeStake Type = "stake"
)

// Status is the lifecycle state of a payment record. Transitions only move
// forward: pending -> verified -> refunded or slashed.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRefunded Status = "refunded"
	StatusSlashed  Status = "slashed"
)

// next reports whether a transition from s to target is a legal forward move.
func (s Status) next(target Status) bool {
	switch s {
	case StatusPending:
		return target == StatusVerified
	case StatusVerified:
		return target == StatusRefunded || target == StatusSlashed
	default:
		return false
	}
}

// Record is one payment observed by the service.
type Record struct {
	ID          string    `json:"id"`
	RequestID   uint64    `json:"requestId"`
	Type        Type      `json:"type"`
	Status      Status    `json:"status"`
	Amount      uint64    `json:"amount"`
	Asset       string    `json:"asset"`
	Payer       string    `json:"payer"`
	Payee       string    `json:"payee"`
	LedgerTxRef string    `json:"ledgerTxRef,omitempty"`
	Refundable  bool      `json:"refundable"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewRecord creates a pending record with a fresh id.
func NewRecord(requestID uint64, typ Type, amount uint64, asset, payer, payee string, refundable bool) Record {
	now := time.Now().UTC()
	return Record{
		ID:         uuid.NewString(),
		RequestID:  requestID,
		Type:       typ,
		Status:     StatusPending,
		Amount:     amount,
		Asset:      asset,
		Payer:      payer,
		Payee:      payee,
		Refundable: refundable,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
