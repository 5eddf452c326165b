package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Rate source markers carried in PriceInfo.
const (
	SourcePrimary   = "primary"
	SourceSecondary = "secondary"
	SourceCache     = "cache"
	SourceDefault   = "default"
)

// PriceInfo is a point-in-time snapshot of the native/stable exchange rate.
type PriceInfo struct {
	// Price is the value of one whole native unit in whole stable units.
	Price decimal.Decimal

	// Confidence is a rough reliability estimate; lower for fallbacks.
	Confidence float64

	// Timestamp is when the rate was obtained.
	Timestamp time.Time

	// Source marks where the rate came from. SourceCache and SourceDefault
	// indicate degraded operation.
	Source string
}

// Degraded reports whether the rate came from a fallback rather than a live
// source.
func (p PriceInfo) Degraded() bool {
	return p.Source == SourceCache || p.Source == SourceDefault
}

// ConversionResult is the outcome of converting an amount between assets.
type ConversionResult struct {
	FromAmount string
	FromAsset  string
	ToAmount   string
	ToAsset    string
	Rate       decimal.Decimal
	Timestamp  time.Time
	Degraded   bool
}

// ConverterConfig configures a Converter.
type ConverterConfig struct {
	// Primary is the preferred rate source.
	Primary Source

	// Secondary is tried when the primary fails. Optional.
	Secondary Source

	// CacheTTL bounds how long a fetched rate stays fresh.
	CacheTTL time.Duration

	// DefaultPrice is the conservative hardcoded rate used when every source
	// fails and the cache has expired.
	DefaultPrice decimal.Decimal

	// StableSymbol and NativeSymbol name the two assets.
	StableSymbol string
	NativeSymbol string

	// StableDecimals and NativeDecimals are the smallest-unit scales.
	StableDecimals int
	NativeDecimals int
}

// Converter converts amounts between the stable settlement asset and the
// ledger's native unit. The rate cache is process-wide; readers take a
// point-in-time snapshot and never block on upstream fetches beyond the TTL
// window.
type Converter struct {
	cfg ConverterConfig
	log *log.Entry

	mu     sync.RWMutex
	cached PriceInfo
}

// NewConverter creates a converter. The cache starts empty; the first GetRate
// or the background refresh loop primes it.
func NewConverter(cfg ConverterConfig) *Converter {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	return &Converter{
		cfg: cfg,
		log: log.WithField("component", "pricing"),
	}
}

// GetRate returns the current exchange rate, fetching from the source chain
// if the cached value has expired.
func (c *Converter) GetRate(ctx context.Context) PriceInfo {
	if info, ok := c.freshSnapshot(); ok {
		return info
	}
	return c.refresh(ctx)
}

// Snapshot returns the cached rate without fetching, falling back to the
// hardcoded default when the cache is empty. Used on the request hot path.
func (c *Converter) Snapshot() PriceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cached.Price.Sign() > 0 {
		info := c.cached
		if time.Since(info.Timestamp) > c.cfg.CacheTTL {
			info.Source = SourceCache
			info.Confidence = 0.05
		}
		return info
	}
	return c.defaultInfo()
}

// refresh walks the source chain and updates the cache. On total failure it
// returns the stale cache if present, otherwise the degraded default.
func (c *Converter) refresh(ctx context.Context) PriceInfo {
	if c.cfg.Primary != nil {
		if price, err := c.cfg.Primary.Rate(ctx); err == nil {
			return c.store(price, SourcePrimary, 0.01)
		} else {
			c.log.WithError(err).WithField("source", c.cfg.Primary.Name()).Warn("primary price source failed")
		}
	}

	if c.cfg.Secondary != nil {
		if price, err := c.cfg.Secondary.Rate(ctx); err == nil {
			return c.store(price, SourceSecondary, 0.02)
		} else {
			c.log.WithError(err).WithField("source", c.cfg.Secondary.Name()).Warn("secondary price source failed")
		}
	}

	c.mu.RLock()
	cached := c.cached
	c.mu.RUnlock()

	if cached.Price.Sign() > 0 {
		c.log.Warn("all price sources failed, serving stale cached rate")
		cached.Source = SourceCache
		cached.Confidence = 0.05
		return cached
	}

	c.log.Warn("all price sources failed with empty cache, serving default rate")
	return c.defaultInfo()
}

func (c *Converter) store(price decimal.Decimal, source string, confidence float64) PriceInfo {
	info := PriceInfo{
		Price:      price,
		Confidence: confidence,
		Timestamp:  time.Now(),
		Source:     source,
	}

	c.mu.Lock()
	c.cached = info
	c.mu.Unlock()

	c.log.WithFields(log.Fields{"price": price.String(), "source": source}).Debug("exchange rate updated")
	return info
}

func (c *Converter) freshSnapshot() (PriceInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cached.Price.Sign() > 0 && time.Since(c.cached.Timestamp) <= c.cfg.CacheTTL {
		return c.cached, true
	}
	return PriceInfo{}, false
}

func (c *Converter) defaultInfo() PriceInfo {
	return PriceInfo{
		Price:      c.cfg.DefaultPrice,
		Confidence: 0.10,
		Timestamp:  time.Now(),
		Source:     SourceDefault,
	}
}

// Convert converts amount (smallest units of fromAsset) into smallest units
// of toAsset at the given rate snapshot. Both directions round down so the
// conversion can never credit more value than was presented.
func (c *Converter) Convert(amount string, fromAsset, toAsset string, info PriceInfo) (ConversionResult, error) {
	value, err := decimal.NewFromString(amount)
	if err != nil || value.Sign() < 0 || !value.IsInteger() {
		return ConversionResult{}, fmt.Errorf("pricing: invalid amount %q", amount)
	}

	var converted decimal.Decimal
	switch {
	case fromAsset == c.cfg.StableSymbol && toAsset == c.cfg.NativeSymbol:
		// stable smallest units -> whole stable -> whole native -> native smallest units
		whole := value.Shift(int32(-c.cfg.StableDecimals))
		converted = whole.Div(info.Price).Shift(int32(c.cfg.NativeDecimals)).Floor()
	case fromAsset == c.cfg.NativeSymbol && toAsset == c.cfg.StableSymbol:
		whole := value.Shift(int32(-c.cfg.NativeDecimals))
		converted = whole.Mul(info.Price).Shift(int32(c.cfg.StableDecimals)).Floor()
	default:
		return ConversionResult{}, fmt.Errorf("pricing: unsupported conversion %s -> %s", fromAsset, toAsset)
	}

	return ConversionResult{
		FromAmount: amount,
		FromAsset:  fromAsset,
		ToAmount:   converted.String(),
		ToAsset:    toAsset,
		Rate:       info.Price,
		Timestamp:  info.Timestamp,
		Degraded:   info.Degraded(),
	}, nil
}

// Run re-primes the cache on a fixed interval until the context is cancelled,
// keeping request-path reads off slow upstream calls. Intended to run in its
// own goroutine.
func (c *Converter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	c.refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("price refresh loop stopped")
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}
