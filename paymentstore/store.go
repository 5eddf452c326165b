package paymentstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates no record exists with the given id.
	ErrNotFound = errors.New("paymentstore: record not found")

	// ErrBadTransition indicates an Advance that would move a record
	// backwards or sideways in its lifecycle.
	ErrBadTransition = errors.New("paymentstore: illegal status transition")
)

// Store persists payment records.
type Store interface {
	// Save writes a new record.
	Save(ctx context.Context, rec Record) error

	// Get returns the record with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// ListByRequest returns all records linked to a request, oldest first.
	ListByRequest(ctx context.Context, requestID uint64) ([]Record, error)

	// Advance moves a record from its current status to target, optionally
	// attaching a ledger transaction reference. The move is checked against
	// the record's stored status, not a caller-supplied one, so concurrent
	// advancers cannot double-apply; an illegal move returns
	// ErrBadTransition. Returns the updated record.
	Advance(ctx context.Context, id string, target Status, ledgerTxRef string) (Record, error)
}
