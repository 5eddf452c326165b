// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Settings holds all configuration for the oracle service.
type Settings struct {
	// HTTP
	ListenAddr string

	// Facilitator
	FacilitatorURL string

	// Payment scheme
	Network       string
	AssetAddress  string
	AssetDecimals int
	Treasury      string

	// Operation costs, smallest stable units
	AntispamAmount     uint64
	ProposerBondAmount uint64
	DisputerBondAmount uint64

	// Ledger backend: "memory" or "solana"
	LedgerBackend   string
	TreasuryFloat   uint64
	SolanaRPCURL    string
	SolanaProgramID string
	SolanaWalletKey string

	// Payment record store: "memory" or "redis"
	StoreBackend  string
	RedisAddr     string
	RedisDB       int
	RedisPassword string
	RedisPrefix   string

	// Pricing
	PrimaryPriceURL      string
	SecondaryPriceURL    string
	NativeMint           string
	CoinGeckoID          string
	PriceCacheTTL        time.Duration
	PriceRefreshInterval time.Duration
	DefaultPrice         string

	// Replay protection
	ReplayCacheSize int

	LogLevel string
}

// Load reads settings from the environment, after loading a local .env file
// when one exists. Missing required values fail fast.
func Load() (*Settings, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file loaded")
	}

	s := &Settings{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		FacilitatorURL: getEnv("FACILITATOR_URL", ""),

		Network:       getEnv("PAYMENT_NETWORK", "solana-devnet"),
		AssetAddress:  getEnv("PAYMENT_ASSET_ADDRESS", "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"),
		AssetDecimals: getEnvAsInt("PAYMENT_ASSET_DECIMALS", 6),
		Treasury:      getEnv("TREASURY_ADDRESS", ""),

		AntispamAmount:     getEnvAsUint64("ANTISPAM_AMOUNT", 1_000_000),
		ProposerBondAmount: getEnvAsUint64("PROPOSER_BOND_AMOUNT", 50_000_000),
		DisputerBondAmount: getEnvAsUint64("DISPUTER_BOND_AMOUNT", 50_000_000),

		LedgerBackend:   getEnv("LEDGER_BACKEND", "memory"),
		TreasuryFloat:   getEnvAsUint64("TREASURY_FLOAT", 100_000_000_000),
		SolanaRPCURL:    getEnv("SOLANA_RPC_URL", "https://api.devnet.solana.com"),
		SolanaProgramID: getEnv("SOLANA_PROGRAM_ID", ""),
		SolanaWalletKey: getEnv("SOLANA_WALLET_KEY", ""),

		StoreBackend:  getEnv("STORE_BACKEND", "memory"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisPrefix:   getEnv("REDIS_PREFIX", "oracle402"),

		PrimaryPriceURL:      getEnv("PRIMARY_PRICE_URL", "https://lite-api.jup.ag/price/v3"),
		SecondaryPriceURL:    getEnv("SECONDARY_PRICE_URL", "https://api.coingecko.com/api/v3/simple/price"),
		NativeMint:           getEnv("NATIVE_MINT", "So11111111111111111111111111111111111111112"),
		CoinGeckoID:          getEnv("COINGECKO_ID", "solana"),
		PriceCacheTTL:        getEnvDuration("PRICE_CACHE_TTL_SECONDS", 60*time.Second),
		PriceRefreshInterval: getEnvDuration("PRICE_REFRESH_INTERVAL_SECONDS", 30*time.Second),
		DefaultPrice:         getEnv("DEFAULT_PRICE", "180"),

		ReplayCacheSize: getEnvAsInt("REPLAY_CACHE_SIZE", 65536),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	if s.FacilitatorURL == "" {
		return fmt.Errorf("config: FACILITATOR_URL is required")
	}
	if _, err := url.ParseRequestURI(s.FacilitatorURL); err != nil {
		return fmt.Errorf("config: FACILITATOR_URL is not a valid URL: %w", err)
	}
	if s.Treasury == "" {
		return fmt.Errorf("config: TREASURY_ADDRESS is required")
	}
	if s.AntispamAmount == 0 || s.ProposerBondAmount == 0 || s.DisputerBondAmount == 0 {
		return fmt.Errorf("config: payment amounts must be positive")
	}
	switch s.LedgerBackend {
	case "memory":
	case "solana":
		if s.SolanaProgramID == "" || s.SolanaWalletKey == "" {
			return fmt.Errorf("config: SOLANA_PROGRAM_ID and SOLANA_WALLET_KEY are required for the solana ledger")
		}
	default:
		return fmt.Errorf("config: unknown LEDGER_BACKEND %q", s.LedgerBackend)
	}
	switch s.StoreBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", s.StoreBackend)
	}
	if s.AssetDecimals < 0 || s.AssetDecimals > 18 {
		return fmt.Errorf("config: PAYMENT_ASSET_DECIMALS out of range")
	}
	if s.ReplayCacheSize <= 0 {
		return fmt.Errorf("config: REPLAY_CACHE_SIZE must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.WithField("key", key).Warnf("invalid integer %q, using default %d", v, fallback)
			return fallback
		}
		return n
	}
	return fallback
}

func getEnvAsUint64(key string, fallback uint64) uint64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			log.WithField("key", key).Warnf("invalid unsigned integer %q, using default %d", v, fallback)
			return fallback
		}
		return n
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			log.WithField("key", key).Warnf("invalid duration %q, using default %s", v, fallback)
			return fallback
		}
		return time.Duration(n) * time.Second
	}
	return fallback
}
