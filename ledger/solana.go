package ledger

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Escrow program instruction discriminators.
const (
	instructionLock    byte = 1
	instructionRelease byte = 2
)

// SolanaLedger drives the on-chain escrow program through raw instructions.
// Escrow accounts are program-derived addresses, so derivation is pure and
// every participant computes the same address for a given request.
type SolanaLedger struct {
	// ProgramID is the escrow program's address.
	ProgramID solana.PublicKey

	// Wallet signs and fee-pays ledger transactions.
	Wallet solana.PrivateKey

	// Client is the RPC client for the ledger node.
	Client *rpc.Client

	// Commitment is the confirmation level for reads.
	Commitment rpc.CommitmentType
}

var _ Ledger = (*SolanaLedger)(nil)

// NewSolanaLedger creates a ledger adapter for the given RPC endpoint.
func NewSolanaLedger(rpcURL string, programID solana.PublicKey, wallet solana.PrivateKey) *SolanaLedger {
	return &SolanaLedger{
		ProgramID:  programID,
		Wallet:     wallet,
		Client:     rpc.New(rpcURL),
		Commitment: rpc.CommitmentConfirmed,
	}
}

// DeriveEscrowAddress implements Ledger. The request account PDA is derived
// from the "request" tag and the little-endian request id; the escrow PDA is
// derived from the kind tag and the request PDA, matching the on-chain seeds.
func (l *SolanaLedger) DeriveEscrowAddress(kind EscrowKind, requestID uint64) (string, error) {
	switch kind {
	case EscrowRequest, EscrowProposal, EscrowDispute:
	default:
		return "", fmt.Errorf("ledger: unknown escrow kind %q", kind)
	}

	var idBytes [8]byte
	binary.LittleEndian.PutUint64(idBytes[:], requestID)

	requestPDA, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("request"), idBytes[:]},
		l.ProgramID,
	)
	if err != nil {
		return "", fmt.Errorf("ledger: request PDA derivation: %w", err)
	}

	escrowPDA, _, err := solana.FindProgramAddress(
		[][]byte{[]byte(kind), requestPDA.Bytes()},
		l.ProgramID,
	)
	if err != nil {
		return "", fmt.Errorf("ledger: escrow PDA derivation: %w", err)
	}

	return escrowPDA.String(), nil
}

// Lock implements Ledger.
func (l *SolanaLedger) Lock(ctx context.Context, escrowAddress string, amount uint64, nonce string) (string, error) {
	escrow, err := solana.PublicKeyFromBase58(escrowAddress)
	if err != nil {
		return "", fmt.Errorf("ledger: invalid escrow address: %w", err)
	}

	inst := buildEscrowInstruction(instructionLock, amount, nonce, l.ProgramID, solana.AccountMetaSlice{
		solana.Meta(l.Wallet.PublicKey()).WRITE().SIGNER(),
		solana.Meta(escrow).WRITE(),
		solana.Meta(solana.SystemProgramID),
	})

	return l.send(ctx, inst)
}

// Release implements Ledger.
func (l *SolanaLedger) Release(ctx context.Context, escrowAddress, recipient string, amount uint64, nonce string) (string, error) {
	escrow, err := solana.PublicKeyFromBase58(escrowAddress)
	if err != nil {
		return "", fmt.Errorf("ledger: invalid escrow address: %w", err)
	}
	to, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return "", fmt.Errorf("ledger: invalid recipient address: %w", err)
	}

	inst := buildEscrowInstruction(instructionRelease, amount, nonce, l.ProgramID, solana.AccountMetaSlice{
		solana.Meta(l.Wallet.PublicKey()).SIGNER(),
		solana.Meta(escrow).WRITE(),
		solana.Meta(to).WRITE(),
		solana.Meta(solana.SystemProgramID),
	})

	return l.send(ctx, inst)
}

// Balance implements Ledger.
func (l *SolanaLedger) Balance(ctx context.Context, address string) (uint64, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, fmt.Errorf("ledger: invalid address: %w", err)
	}

	result, err := l.Client.GetBalance(ctx, pubkey, l.Commitment)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result.Value, nil
}

// send signs and submits a single-instruction transaction and returns the
// transaction signature as the txRef.
func (l *SolanaLedger) send(ctx context.Context, inst solana.Instruction) (string, error) {
	recent, err := l.Client.GetLatestBlockhash(ctx, l.Commitment)
	if err != nil {
		return "", fmt.Errorf("%w: blockhash: %v", ErrUnavailable, err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{inst},
		recent.Value.Blockhash,
		solana.TransactionPayer(l.Wallet.PublicKey()),
	)
	if err != nil {
		return "", fmt.Errorf("ledger: build transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(l.Wallet.PublicKey()) {
			return &l.Wallet
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ledger: sign transaction: %w", err)
	}

	sig, err := l.Client.SendTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("%w: send: %v", ErrUnavailable, err)
	}
	return sig.String(), nil
}

// buildEscrowInstruction encodes an escrow program instruction:
// [discriminator, amount (u64 LE), nonce bytes]. The program dedupes on the
// nonce, which is what makes Lock and Release retry-safe.
func buildEscrowInstruction(discriminator byte, amount uint64, nonce string, programID solana.PublicKey, accounts solana.AccountMetaSlice) solana.Instruction {
	data := make([]byte, 9, 9+len(nonce))
	data[0] = discriminator
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data = append(data, []byte(nonce)...)

	return solana.NewInstruction(programID, accounts, data)
}
