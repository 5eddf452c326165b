package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("FACILITATOR_URL", "http://localhost:9000")
	t.Setenv("TREASURY_ADDRESS", "treasury-addr")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	s, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %s", s.ListenAddr)
	}
	if s.AntispamAmount != 1_000_000 {
		t.Errorf("AntispamAmount = %d", s.AntispamAmount)
	}
	if s.PriceCacheTTL != 60*time.Second {
		t.Errorf("PriceCacheTTL = %s", s.PriceCacheTTL)
	}
	if s.LedgerBackend != "memory" || s.StoreBackend != "memory" {
		t.Errorf("backends = %s/%s", s.LedgerBackend, s.StoreBackend)
	}
}

func TestLoadRequiresFacilitator(t *testing.T) {
	t.Setenv("FACILITATOR_URL", "")
	t.Setenv("TREASURY_ADDRESS", "treasury-addr")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without FACILITATOR_URL")
	}
}

func TestLoadRequiresTreasury(t *testing.T) {
	t.Setenv("FACILITATOR_URL", "http://localhost:9000")
	t.Setenv("TREASURY_ADDRESS", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without TREASURY_ADDRESS")
	}
}

func TestLoadSolanaBackendNeedsKeys(t *testing.T) {
	setRequired(t)
	t.Setenv("LEDGER_BACKEND", "solana")
	t.Setenv("SOLANA_PROGRAM_ID", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for solana backend without program id")
	}
}

func TestLoadOverridesAndBadValuesFallBack(t *testing.T) {
	setRequired(t)
	t.Setenv("PROPOSER_BOND_AMOUNT", "75000000")
	t.Setenv("PAYMENT_ASSET_DECIMALS", "not-a-number")
	t.Setenv("PRICE_CACHE_TTL_SECONDS", "120")

	s, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.ProposerBondAmount != 75_000_000 {
		t.Errorf("ProposerBondAmount = %d", s.ProposerBondAmount)
	}
	if s.AssetDecimals != 6 {
		t.Errorf("AssetDecimals = %d, want fallback 6", s.AssetDecimals)
	}
	if s.PriceCacheTTL != 120*time.Second {
		t.Errorf("PriceCacheTTL = %s", s.PriceCacheTTL)
	}
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	setRequired(t)
	t.Setenv("LEDGER_BACKEND", "postgres")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown ledger backend")
	}
}
