package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryLedger is an in-process Ledger for tests and local development. It
// keeps balances in a map and enforces the same idempotency and insufficiency
// semantics the real ledger provides.
type MemoryLedger struct {
	treasury string

	mu       sync.Mutex
	balances map[string]uint64
	// applied maps nonce -> txRef for replayed operations.
	applied map[string]string
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates a memory ledger whose treasury float starts at
// treasuryBalance smallest units.
func NewMemoryLedger(treasury string, treasuryBalance uint64) *MemoryLedger {
	return &MemoryLedger{
		treasury: treasury,
		balances: map[string]uint64{treasury: treasuryBalance},
		applied:  make(map[string]string),
	}
}

// DeriveEscrowAddress implements Ledger with a keyed hash over byte tags, the
// same deterministic mapping shape the production ledger uses.
func (l *MemoryLedger) DeriveEscrowAddress(kind EscrowKind, requestID uint64) (string, error) {
	switch kind {
	case EscrowRequest, EscrowProposal, EscrowDispute:
	default:
		return "", fmt.Errorf("ledger: unknown escrow kind %q", kind)
	}

	var idBytes [8]byte
	binary.LittleEndian.PutUint64(idBytes[:], requestID)

	h := sha256.New()
	h.Write([]byte(kind))
	h.Write(idBytes[:])
	return fmt.Sprintf("escrow-%x", h.Sum(nil)[:16]), nil
}

// Credit funds an address directly. Test and bootstrap helper.
func (l *MemoryLedger) Credit(address string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[address] += amount
}

// Lock implements Ledger, drawing from the treasury float.
func (l *MemoryLedger) Lock(ctx context.Context, escrowAddress string, amount uint64, nonce string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if txRef, ok := l.applied[nonce]; ok {
		return txRef, nil
	}

	if l.balances[l.treasury] < amount {
		return "", fmt.Errorf("%w: treasury has %d, need %d", ErrInsufficientFunds, l.balances[l.treasury], amount)
	}

	l.balances[l.treasury] -= amount
	l.balances[escrowAddress] += amount

	txRef := "memtx-" + uuid.NewString()
	l.applied[nonce] = txRef
	return txRef, nil
}

// Release implements Ledger.
func (l *MemoryLedger) Release(ctx context.Context, escrowAddress, recipient string, amount uint64, nonce string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if txRef, ok := l.applied[nonce]; ok {
		return txRef, nil
	}

	if l.balances[escrowAddress] < amount {
		return "", fmt.Errorf("%w: escrow has %d, need %d", ErrInsufficientEscrow, l.balances[escrowAddress], amount)
	}

	l.balances[escrowAddress] -= amount
	l.balances[recipient] += amount

	txRef := "memtx-" + uuid.NewString()
	l.applied[nonce] = txRef
	return txRef, nil
}

// Balance implements Ledger.
func (l *MemoryLedger) Balance(ctx context.Context, address string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[address], nil
}
