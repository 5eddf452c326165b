package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/veritaslabs/oracle402/config"
	"github.com/veritaslabs/oracle402/ledger"
	"github.com/veritaslabs/oracle402/oracle"
	"github.com/veritaslabs/oracle402/paymentstore"
	"github.com/veritaslabs/oracle402/pricing"
	"github.com/veritaslabs/oracle402/server"
	"github.com/veritaslabs/oracle402/x402"
	"github.com/veritaslabs/oracle402/x402/facilitator"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	level, err := log.ParseLevel(settings.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.JSONFormatter{})

	ldg, err := buildLedger(settings)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize ledger")
	}

	store, err := buildStore(settings)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize payment store")
	}

	fac := facilitator.NewClient(settings.FacilitatorURL)
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 5*time.Second)
	if err := fac.Health(startupCtx); err != nil {
		log.WithError(err).Warn("facilitator health check failed at startup, continuing")
	}
	cancelStartup()

	converter := buildConverter(settings)

	engine := oracle.NewEngine(ldg, oracle.EngineConfig{})

	builder := x402.NewBuilder(x402.BuilderConfig{
		Network:            settings.Network,
		Asset:              x402.Asset{Address: settings.AssetAddress, Decimals: settings.AssetDecimals},
		Treasury:           settings.Treasury,
		AntispamAmount:     formatAmount(settings.AntispamAmount),
		ProposerBondAmount: formatAmount(settings.ProposerBondAmount),
		DisputerBondAmount: formatAmount(settings.DisputerBondAmount),
	})

	srv, err := server.New(server.Config{
		Engine:          engine,
		Builder:         builder,
		Facilitator:     fac,
		Payments:        store,
		Converter:       converter,
		Treasury:        settings.Treasury,
		AssetAddress:    settings.AssetAddress,
		ReplayCacheSize: settings.ReplayCacheSize,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to build server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go converter.Run(ctx, settings.PriceRefreshInterval)

	httpServer := &http.Server{
		Addr:              settings.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", settings.ListenAddr).Info("oracle service listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	log.Info("oracle service stopped")
}

func buildLedger(settings *config.Settings) (ledger.Ledger, error) {
	switch settings.LedgerBackend {
	case "solana":
		programID, err := solana.PublicKeyFromBase58(settings.SolanaProgramID)
		if err != nil {
			return nil, err
		}
		wallet, err := solana.PrivateKeyFromBase58(settings.SolanaWalletKey)
		if err != nil {
			return nil, err
		}
		return ledger.NewSolanaLedger(settings.SolanaRPCURL, programID, wallet), nil
	default:
		return ledger.NewMemoryLedger(settings.Treasury, settings.TreasuryFloat), nil
	}
}

func buildStore(settings *config.Settings) (paymentstore.Store, error) {
	switch settings.StoreBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     settings.RedisAddr,
			DB:       settings.RedisDB,
			Password: settings.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, err
		}
		return paymentstore.NewRedisStore(client, settings.RedisPrefix), nil
	default:
		return paymentstore.NewMemoryStore(), nil
	}
}

func buildConverter(settings *config.Settings) *pricing.Converter {
	defaultPrice, err := decimal.NewFromString(settings.DefaultPrice)
	if err != nil || defaultPrice.Sign() <= 0 {
		defaultPrice = decimal.NewFromInt(180)
	}

	primary := &pricing.JupiterSource{
		URL:  fmt.Sprintf("%s?ids=%s", settings.PrimaryPriceURL, settings.NativeMint),
		Mint: settings.NativeMint,
	}
	secondary := &pricing.CoinGeckoSource{
		URL:    fmt.Sprintf("%s?ids=%s&vs_currencies=usd", settings.SecondaryPriceURL, settings.CoinGeckoID),
		CoinID: settings.CoinGeckoID,
	}

	return pricing.NewConverter(pricing.ConverterConfig{
		Primary:        primary,
		Secondary:      secondary,
		CacheTTL:       settings.PriceCacheTTL,
		DefaultPrice:   defaultPrice,
		StableSymbol:   "USDC",
		NativeSymbol:   "SOL",
		StableDecimals: settings.AssetDecimals,
		NativeDecimals: 9,
	})
}

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}
