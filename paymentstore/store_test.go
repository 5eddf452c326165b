package paymentstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewRecordDefaults(t *testing.T) {
	rec := NewRecord(7, TypeAntispam, 1_000_000, "USDC", "payer", "treasury", true)

	if rec.ID == "" {
		t.Error("record id is empty")
	}
	if rec.Status != StatusPending {
		t.Errorf("status = %s, want pending", rec.Status)
	}
	if !rec.Refundable {
		t.Error("antispam record should be refundable")
	}
	if rec.RequestID != 7 {
		t.Errorf("requestId = %d, want 7", rec.RequestID)
	}
}

func TestMemorySaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec := NewRecord(1, TypeBond, 5_000_000, "USDC", "proposer", "treasury", false)

	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Type != TypeBond || got.Amount != 5_000_000 {
		t.Errorf("got %+v, want saved record back", got)
	}

	if err := s.Save(ctx, rec); err == nil {
		t.Error("duplicate save should fail")
	}
}

func TestMemoryGetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryListByRequestOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first := NewRecord(9, TypeAntispam, 1, "USDC", "a", "t", true)
	second := NewRecord(9, TypeBond, 2, "USDC", "b", "t", false)
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	other := NewRecord(10, TypeBond, 3, "USDC", "c", "t", false)

	for _, rec := range []Record{second, other, first} {
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := s.ListByRequest(ctx, 9)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].ID != first.ID || got[1].ID != second.ID {
		t.Error("records not ordered oldest first")
	}
}

func TestMemoryAdvanceForwardOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec := NewRecord(1, TypeBond, 100, "USDC", "p", "t", false)
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Advance(ctx, rec.ID, StatusVerified, "tx-1")
	if err != nil {
		t.Fatalf("advance to verified: %v", err)
	}
	if got.Status != StatusVerified || got.LedgerTxRef != "tx-1" {
		t.Errorf("got %+v after advance", got)
	}

	got, err = s.Advance(ctx, rec.ID, StatusSlashed, "")
	if err != nil {
		t.Fatalf("advance to slashed: %v", err)
	}
	if got.LedgerTxRef != "tx-1" {
		t.Error("empty txRef should not clear the stored one")
	}

	// Terminal states reject further moves.
	if _, err := s.Advance(ctx, rec.ID, StatusRefunded, ""); !errors.Is(err, ErrBadTransition) {
		t.Errorf("err = %v, want ErrBadTransition", err)
	}
}

func TestMemoryAdvanceSkipsNoStage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec := NewRecord(1, TypeTip, 100, "USDC", "p", "t", false)
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	// pending -> refunded skips verification.
	if _, err := s.Advance(ctx, rec.ID, StatusRefunded, ""); !errors.Is(err, ErrBadTransition) {
		t.Errorf("err = %v, want ErrBadTransition", err)
	}
}

func TestMemoryAdvanceMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Advance(context.Background(), "nope", StatusVerified, "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
